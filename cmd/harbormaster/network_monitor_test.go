// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/Harbormaster/pkg/probe"
	"github.com/AleutianAI/Harbormaster/pkg/schedule"
)

// openPort returns the address of a listening TCP socket.
func openPort(t *testing.T) (string, net.Listener) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { _ = ln.Close() })
	return ln.Addr().String(), ln
}

// refusedPort returns an address nothing is listening on.
func refusedPort(t *testing.T) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	require.NoError(t, ln.Close())
	return addr
}

type networkMonitorHarness struct {
	monitor *NetworkMonitor
	events  chan Event
	sched   *schedule.ManualScheduler
}

func newNetworkMonitorHarness(t *testing.T, targets ...string) *networkMonitorHarness {
	t.Helper()
	sched := schedule.NewManualScheduler(time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC))
	events := make(chan Event, 32)
	monitor := NewNetworkMonitor(NetworkMonitorConfig{
		Targets:  targets,
		Interval: time.Minute,
		Port:     probe.NewPortProber(500 * time.Millisecond),
		Events:   events,
		Logger:   quietLogger(t),
		Now:      sched.Now,
	})
	monitor.Start(sched)
	t.Cleanup(monitor.Stop)
	return &networkMonitorHarness{monitor: monitor, events: events, sched: sched}
}

func (h *networkMonitorHarness) tick() []Event {
	h.sched.Advance(time.Minute)
	var out []Event
	for {
		select {
		case e := <-h.events:
			out = append(out, e)
		default:
			return out
		}
	}
}

func TestNetworkMonitor_ReachableStaysQuiet(t *testing.T) {
	addr, _ := openPort(t)
	h := newNetworkMonitorHarness(t, addr)

	assert.Empty(t, h.tick(), "reachable target is the expected state")
	assert.Empty(t, h.tick())
}

func TestNetworkMonitor_UnreachableAlertsOnce(t *testing.T) {
	addr := refusedPort(t)
	h := newNetworkMonitorHarness(t, addr)

	events := h.tick()
	require.Len(t, events, 1)
	ev := events[0]
	assert.Equal(t, EventNetworkConnectivity, ev.Kind)
	assert.Equal(t, addr, ev.Subject)
	assert.Equal(t, SeverityWarning, ev.Severity)
	assert.False(t, ev.Healthy)
	assert.Contains(t, ev.Message, "unreachable")

	assert.Empty(t, h.tick(), "staying unreachable is not a new edge")
}

func TestNetworkMonitor_FlipEmitsBothEdges(t *testing.T) {
	addr, ln := openPort(t)
	h := newNetworkMonitorHarness(t, addr)

	assert.Empty(t, h.tick())

	require.NoError(t, ln.Close())
	down := h.tick()
	require.Len(t, down, 1)
	assert.False(t, down[0].Healthy)

	ln2, err := net.Listen("tcp", addr)
	require.NoError(t, err)
	t.Cleanup(func() { _ = ln2.Close() })

	up := h.tick()
	require.Len(t, up, 1)
	assert.True(t, up[0].Healthy)
	assert.Equal(t, SeverityInfo, up[0].Severity)
	assert.Contains(t, up[0].Message, "reachable again")
}

func TestNetworkMonitor_BadTargetFormat(t *testing.T) {
	h := newNetworkMonitorHarness(t, "not-an-address")

	events := h.tick()
	require.Len(t, events, 1)
	assert.False(t, events[0].Healthy)
	assert.Contains(t, events[0].Message, "bad target")
}

func TestNetworkMonitor_TargetsAreIndependent(t *testing.T) {
	okAddr, _ := openPort(t)
	downAddr := refusedPort(t)
	h := newNetworkMonitorHarness(t, okAddr, downAddr)

	events := h.tick()
	require.Len(t, events, 1, "only the dead target alerts")
	assert.Equal(t, downAddr, events[0].Subject)
}
