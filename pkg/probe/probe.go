// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package probe provides the low-level health probes the monitors and
// the watchdog are built on: HTTP endpoint checks, process-table
// lookups, and TCP port dials.
//
// Probes distinguish infrastructure failures from unhealthy targets. A
// timeout or connection refusal is a normal outcome (the target is
// down) and comes back as an unhealthy Result with a nil error. A
// non-nil error means the probe itself could not run: malformed input,
// a blocked URL, or a command runner failure.
package probe

import (
	"bytes"
	"context"
	"fmt"
	"net"
	"net/url"
	"os/exec"
	"strings"
	"sync"
	"time"
)

// Result is the outcome of a single probe.
//
// Healthy, Detail, Latency, and CheckedAt are populated by every probe
// type. The remaining fields are type-specific: HTTPStatus for HTTP
// probes, Matches/PID/CPUPercent/MemPercent/Elapsed for process probes.
type Result struct {
	Healthy   bool
	Detail    string
	Latency   time.Duration
	CheckedAt time.Time

	// HTTP probes only. Body holds at most maxProbeBody bytes of the
	// response so callers can inspect small health payloads (version
	// fields and the like) without a second request.
	HTTPStatus int
	Body       []byte

	// Process probes only. CPUPercent, MemPercent, and Elapsed are
	// best-effort and stay zero when ps output is unavailable.
	Matches    int
	PID        int
	CPUPercent float64
	MemPercent float64
	Elapsed    time.Duration
}

// ErrBlockedURL is returned when a probe URL targets a blocked IP range.
var ErrBlockedURL = fmt.Errorf("URL blocked: potential SSRF target")

// ValidateURL rejects URLs that point at link-local and cloud metadata
// addresses. Localhost, private ranges, and the podman/docker bridge
// are allowed since that is where the monitored fleet lives; plain
// hostnames pass through to DNS.
func ValidateURL(rawURL string) error {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("invalid URL: %w", err)
	}
	host := parsed.Hostname()
	if host == "" {
		return fmt.Errorf("URL has no host")
	}
	if host == "localhost" || host == "127.0.0.1" || host == "::1" {
		return nil
	}

	ip := net.ParseIP(host)
	if ip == nil {
		// Hostname rather than a literal IP; let DNS resolve it.
		return nil
	}

	if ip.Equal(net.ParseIP("169.254.169.254")) {
		return fmt.Errorf("%w: cloud metadata endpoint", ErrBlockedURL)
	}
	linkLocal := net.IPNet{IP: net.ParseIP("169.254.0.0"), Mask: net.CIDRMask(16, 32)}
	if linkLocal.Contains(ip) {
		return fmt.Errorf("%w: link-local address", ErrBlockedURL)
	}
	return nil
}

// =============================================================================
// Command execution
// =============================================================================

// CommandRunner abstracts external command execution so process probes
// can be tested without a live process table.
type CommandRunner interface {
	// Run executes name with args and returns combined stdout. A
	// non-zero exit comes back as an error wrapping *exec.ExitError.
	Run(ctx context.Context, name string, args ...string) ([]byte, error)
}

// ExecRunner runs real commands via os/exec.
type ExecRunner struct{}

// NewExecRunner creates the production CommandRunner.
func NewExecRunner() *ExecRunner {
	return &ExecRunner{}
}

// Run executes a command synchronously and returns its stdout. Stderr
// is folded into the error message on failure.
func (r *ExecRunner) Run(ctx context.Context, name string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if stderr.Len() > 0 {
			return nil, fmt.Errorf("%w: %s", err, strings.TrimSpace(stderr.String()))
		}
		return nil, err
	}
	return stdout.Bytes(), nil
}

var _ CommandRunner = (*ExecRunner)(nil)

// MockRunner is a configurable CommandRunner for tests. RunFunc
// supplies behavior; RunCalls records every invocation in order.
type MockRunner struct {
	RunFunc func(ctx context.Context, name string, args ...string) ([]byte, error)

	mu       sync.Mutex
	RunCalls []RunCall
}

// RunCall records one Run invocation.
type RunCall struct {
	Name string
	Args []string
}

// Run records the call and delegates to RunFunc. Without RunFunc it
// returns empty output.
func (m *MockRunner) Run(ctx context.Context, name string, args ...string) ([]byte, error) {
	m.mu.Lock()
	m.RunCalls = append(m.RunCalls, RunCall{Name: name, Args: args})
	m.mu.Unlock()

	if m.RunFunc != nil {
		return m.RunFunc(ctx, name, args...)
	}
	return nil, nil
}

// Calls returns a copy of the recorded invocations.
func (m *MockRunner) Calls() []RunCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]RunCall, len(m.RunCalls))
	copy(out, m.RunCalls)
	return out
}

var _ CommandRunner = (*MockRunner)(nil)
