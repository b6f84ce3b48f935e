// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package probe

import (
	"context"
	"fmt"
	"net"
	"time"
)

// DefaultPortTimeout bounds a single TCP dial.
const DefaultPortTimeout = 3 * time.Second

// PortProber checks TCP reachability of a host:port address. A refused
// or timed-out dial is an unhealthy result, not an error.
type PortProber struct {
	dialer  net.Dialer
	timeout time.Duration
}

// NewPortProber creates a PortProber. A non-positive timeout falls
// back to DefaultPortTimeout.
func NewPortProber(timeout time.Duration) *PortProber {
	if timeout <= 0 {
		timeout = DefaultPortTimeout
	}
	return &PortProber{timeout: timeout}
}

// Probe dials address ("host:port") over TCP and closes the connection
// immediately on success.
func (p *PortProber) Probe(ctx context.Context, address string) (Result, error) {
	result := Result{CheckedAt: time.Now()}
	if address == "" {
		return result, fmt.Errorf("no address configured for port probe")
	}
	if _, _, err := net.SplitHostPort(address); err != nil {
		return result, fmt.Errorf("invalid address %q: %w", address, err)
	}

	dialCtx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	start := time.Now()
	conn, err := p.dialer.DialContext(dialCtx, "tcp", address)
	result.Latency = time.Since(start)
	if err != nil {
		result.Detail = fmt.Sprintf("dial failed: %v", err)
		return result, nil
	}
	conn.Close()

	result.Healthy = true
	result.Detail = "port open"
	return result, nil
}
