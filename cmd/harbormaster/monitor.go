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
	"sync"

	"github.com/AleutianAI/Harbormaster/pkg/schedule"
)

// Monitor is one periodic check domain: services, resources, logs,
// database, network, or certificates. Monitors observe and emit
// events; they never mutate orchestrator state directly.
//
// Start registers the monitor's tasks on the scheduler; each task runs
// on its own timer, so one slow monitor never delays another. Stop
// cancels the tasks. Results from a tick that was in flight during
// Stop are discarded by the emit path, not applied.
type Monitor interface {
	Name() string
	Start(sched schedule.Scheduler)
	Stop()
}

// taskSet collects the cancel funcs a monitor registered, for teardown.
type taskSet struct {
	mu      sync.Mutex
	cancels []schedule.CancelFunc
}

func (t *taskSet) add(c schedule.CancelFunc) {
	t.mu.Lock()
	t.cancels = append(t.cancels, c)
	t.mu.Unlock()
}

// Stop cancels every registered task. Idempotent.
func (t *taskSet) Stop() {
	t.mu.Lock()
	cancels := t.cancels
	t.cancels = nil
	t.mu.Unlock()
	for _, c := range cancels {
		c()
	}
}
