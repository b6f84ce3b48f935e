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
	"context"
	"net"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/Harbormaster/pkg/fleet"
	"github.com/AleutianAI/Harbormaster/pkg/logging"
	"github.com/AleutianAI/Harbormaster/pkg/probe"
	"github.com/AleutianAI/Harbormaster/pkg/restart"
)

// manualClock is a settable clock for restart window math.
type manualClock struct {
	mu  sync.Mutex
	now time.Time
}

func newManualClock() *manualClock {
	return &manualClock{now: time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)}
}

func (c *manualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *manualClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// watchdogHarness bundles a Watchdog with its observable fakes.
type watchdogHarness struct {
	watchdog *Watchdog
	runner   *probe.MockRunner
	clock    *manualClock
	exporter *logging.BufferedExporter
}

func newWatchdogHarness(t *testing.T, services []fleet.ServiceDefinition, composeFile string) *watchdogHarness {
	t.Helper()
	runner := &probe.MockRunner{}
	clock := newManualClock()
	exporter := logging.NewBufferedExporter()
	logger := logging.New(logging.Config{
		Level:    logging.LevelDebug,
		Service:  "lookout",
		Quiet:    true,
		Exporter: exporter,
	})
	t.Cleanup(func() { _ = logger.Close() })

	w := NewWatchdog(WatchdogConfig{
		Fleet:    services,
		Interval: time.Second,
		Policy: restart.NewPolicy(restart.Config{
			MaxRestarts: 3,
			Window:      300 * time.Second,
			Now:         clock.Now,
		}),
		HTTP:        probe.NewHTTPProber(2 * time.Second),
		Port:        probe.NewPortProber(500 * time.Millisecond),
		Runner:      runner,
		ComposeFile: composeFile,
		Logger:      logger,
		Now:         clock.Now,
	})
	return &watchdogHarness{watchdog: w, runner: runner, clock: clock, exporter: exporter}
}

func (h *watchdogHarness) pollAndSettle(ctx context.Context) {
	h.watchdog.poll(ctx)
	h.watchdog.restarts.Wait()
}

// entriesWithMessage filters captured log entries by message.
func (h *watchdogHarness) entriesWithMessage(msg string) []logging.LogEntry {
	var out []logging.LogEntry
	for _, e := range h.exporter.Entries() {
		if e.Message == msg {
			out = append(out, e)
		}
	}
	return out
}

func healthServer(t *testing.T, status int) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(status)
	}))
	t.Cleanup(srv.Close)
	return srv
}

// closedPort reserves an ephemeral port and closes it again so nothing
// is listening there.
func closedPort(t *testing.T) int {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := ln.Addr().(*net.TCPAddr).Port
	require.NoError(t, ln.Close())
	return port
}

func TestWatchdog_HealthyService_NoRestart(t *testing.T) {
	srv := healthServer(t, http.StatusOK)
	h := newWatchdogHarness(t, []fleet.ServiceDefinition{
		{Name: "orchestrator", HealthURL: srv.URL, ContainerName: "aleutian-go-orchestrator"},
	}, "")

	h.pollAndSettle(context.Background())

	assert.Empty(t, h.runner.Calls(), "healthy service must not be restarted")
}

func TestWatchdog_UnhealthyEndpoint_RestartsContainer(t *testing.T) {
	srv := healthServer(t, http.StatusInternalServerError)
	h := newWatchdogHarness(t, []fleet.ServiceDefinition{
		{Name: "orchestrator", HealthURL: srv.URL, ContainerName: "aleutian-go-orchestrator"},
	}, "")

	h.pollAndSettle(context.Background())

	calls := h.runner.Calls()
	require.Len(t, calls, 1)
	assert.Equal(t, "podman-compose", calls[0].Name)
	assert.Equal(t, []string{"restart", "aleutian-go-orchestrator"}, calls[0].Args)

	succeeded := h.entriesWithMessage("restart succeeded")
	require.Len(t, succeeded, 1)
	assert.Equal(t, "orchestrator", succeeded[0].Attrs["service"])
}

func TestWatchdog_ComposeFileArgument(t *testing.T) {
	srv := healthServer(t, http.StatusServiceUnavailable)
	h := newWatchdogHarness(t, []fleet.ServiceDefinition{
		{Name: "weaviate", HealthURL: srv.URL, ContainerName: "aleutian-weaviate"},
	}, "infra/podman-compose.yaml")

	h.pollAndSettle(context.Background())

	calls := h.runner.Calls()
	require.Len(t, calls, 1)
	assert.Equal(t, []string{"-f", "infra/podman-compose.yaml", "restart", "aleutian-weaviate"}, calls[0].Args)
}

func TestWatchdog_TargetFallsBackToServiceName(t *testing.T) {
	srv := healthServer(t, http.StatusBadGateway)
	h := newWatchdogHarness(t, []fleet.ServiceDefinition{
		{Name: "ollama", HealthURL: srv.URL}, // host service, no container
	}, "")

	h.pollAndSettle(context.Background())

	calls := h.runner.Calls()
	require.Len(t, calls, 1)
	assert.Equal(t, []string{"restart", "ollama"}, calls[0].Args)
}

func TestWatchdog_DeadPortFailsHealthyEndpoint(t *testing.T) {
	// Endpoint answers but the declared port is dead: both signals
	// must pass, so the service is restarted.
	srv := healthServer(t, http.StatusOK)
	h := newWatchdogHarness(t, []fleet.ServiceDefinition{
		{Name: "forecast", HealthURL: srv.URL, Port: closedPort(t), ContainerName: "aleutian-forecast"},
	}, "")

	h.pollAndSettle(context.Background())

	calls := h.runner.Calls()
	require.Len(t, calls, 1)
	assert.Equal(t, []string{"restart", "aleutian-forecast"}, calls[0].Args)
}

func TestWatchdog_SkipsServicesWithoutSignals(t *testing.T) {
	h := newWatchdogHarness(t, []fleet.ServiceDefinition{
		{Name: "batch-job", ProcessPattern: "batch"}, // nothing lookout can see
	}, "")

	h.pollAndSettle(context.Background())

	assert.Empty(t, h.runner.Calls())
	assert.Empty(t, h.entriesWithMessage("service unhealthy"))
}

func TestWatchdog_BudgetExhaustion(t *testing.T) {
	h := newWatchdogHarness(t, nil, "")
	svc := fleet.ServiceDefinition{Name: "data-fetcher", ContainerName: "aleutian-data-fetcher"}
	ctx := context.Background()

	// Three attempts inside the window are executed.
	for i := 0; i < 3; i++ {
		h.watchdog.restartOnce(ctx, svc, "connection refused")
		h.clock.Advance(10 * time.Second)
	}
	require.Len(t, h.runner.Calls(), 3)

	// The fourth is refused: an error is logged, podman is not run.
	h.watchdog.restartOnce(ctx, svc, "connection refused")
	assert.Len(t, h.runner.Calls(), 3)

	exhausted := h.entriesWithMessage("restart budget exhausted, manual intervention required")
	require.Len(t, exhausted, 1)
	assert.Equal(t, logging.LevelError, exhausted[0].Level)
	assert.Equal(t, "data-fetcher", exhausted[0].Attrs["service"])

	// Past the window the budget re-arms.
	h.clock.Advance(300 * time.Second)
	h.watchdog.restartOnce(ctx, svc, "connection refused")
	calls := h.runner.Calls()
	require.Len(t, calls, 4)

	started := h.entriesWithMessage("restarting service")
	require.NotEmpty(t, started)
	assert.Equal(t, 1, started[len(started)-1].Attrs["attempt"], "window rollover resets the attempt count")
}

func TestWatchdog_NoOverlappingRestarts(t *testing.T) {
	h := newWatchdogHarness(t, nil, "")
	svc := fleet.ServiceDefinition{Name: "weaviate", ContainerName: "aleutian-weaviate"}
	ctx := context.Background()

	started := make(chan struct{})
	release := make(chan struct{})
	h.runner.RunFunc = func(ctx context.Context, name string, args ...string) ([]byte, error) {
		close(started)
		<-release
		return []byte("restarted"), nil
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		h.watchdog.restartOnce(ctx, svc, "down")
	}()
	<-started

	// Second attempt while podman is still running: skipped.
	h.watchdog.restartOnce(ctx, svc, "down")
	assert.Len(t, h.runner.Calls(), 1)
	assert.NotEmpty(t, h.entriesWithMessage("restart already in flight"))

	close(release)
	<-done
	assert.Len(t, h.runner.Calls(), 1)
}

func TestWatchdog_RestartFailureLogged(t *testing.T) {
	srv := healthServer(t, http.StatusInternalServerError)
	h := newWatchdogHarness(t, []fleet.ServiceDefinition{
		{Name: "orchestrator", HealthURL: srv.URL, ContainerName: "aleutian-go-orchestrator"},
	}, "")
	h.runner.RunFunc = func(ctx context.Context, name string, args ...string) ([]byte, error) {
		return []byte("Error: no container with name or ID"), assert.AnError
	}

	h.pollAndSettle(context.Background())

	failed := h.entriesWithMessage("restart failed")
	require.Len(t, failed, 1)
	assert.Equal(t, logging.LevelError, failed[0].Level)
	assert.Equal(t, "Error: no container with name or ID", failed[0].Attrs["output"])
}

func TestWatchdog_Check_BothSignalsHealthy(t *testing.T) {
	srv := healthServer(t, http.StatusOK)
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			conn.Close()
		}
	}()

	h := newWatchdogHarness(t, nil, "")
	svc := fleet.ServiceDefinition{
		Name:      "orchestrator",
		HealthURL: srv.URL,
		Port:      ln.Addr().(*net.TCPAddr).Port,
	}

	healthy, detail := h.watchdog.check(context.Background(), svc)
	assert.True(t, healthy, "detail: %s", detail)
}
