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
	"time"
)

// EventKind names what a monitor observed.
type EventKind string

const (
	EventServiceStatusChange EventKind = "service.statusChange"
	EventResourceThreshold   EventKind = "resource.threshold"
	EventLogError            EventKind = "log.error"
	EventDatabaseConnection  EventKind = "database.connectionError"
	EventNetworkConnectivity EventKind = "network.connectivity"
	EventCertExpiring        EventKind = "ssl.expiring"
)

// Event is what monitors push onto the orchestrator's channel. One
// dispatch goroutine consumes them, so per-monitor send order is
// preserved end to end.
type Event struct {
	Kind    EventKind
	Subject string
	Healthy bool

	// Changed marks a health transition. Service monitors emit every
	// failed observation so recovery can count attempts, but only the
	// first one of an outage carries Changed and raises an alert.
	Changed bool

	Severity  Severity
	Message   string
	Data      map[string]any
	Timestamp time.Time
}

// emit sends an event unless the context is done. A stopped
// orchestrator drains nothing, and monitors must never block on a
// full channel during shutdown.
func emit(ctx context.Context, events chan<- Event, e Event) {
	select {
	case events <- e:
	case <-ctx.Done():
	}
}
