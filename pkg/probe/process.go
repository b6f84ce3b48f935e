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
	"strconv"
	"strings"
	"time"
)

// ProcessProber checks for running processes by command-line pattern.
// It shells out to pgrep for matching and, when a match exists, to ps
// for per-process CPU/memory/elapsed figures.
type ProcessProber struct {
	runner CommandRunner
}

// NewProcessProber creates a ProcessProber. A nil runner defaults to
// the real ExecRunner.
func NewProcessProber(runner CommandRunner) *ProcessProber {
	if runner == nil {
		runner = NewExecRunner()
	}
	return &ProcessProber{runner: runner}
}

// Probe matches pattern against full command lines (pgrep -f). The
// result is healthy when at least one process matches; CPU, memory,
// and elapsed time describe the first match and stay zero when ps
// fails. pgrep exiting non-zero means "no match", not an error.
func (p *ProcessProber) Probe(ctx context.Context, pattern string) (Result, error) {
	result := Result{CheckedAt: time.Now()}
	if pattern == "" {
		return result, fmt.Errorf("no pattern configured for process probe")
	}

	start := time.Now()
	output, err := p.runner.Run(ctx, "pgrep", "-f", pattern)
	result.Latency = time.Since(start)
	if err != nil {
		// pgrep exits 1 when nothing matches.
		result.Detail = "no matching process"
		return result, nil
	}

	pids := parsePIDs(output)
	result.Matches = len(pids)
	if len(pids) == 0 {
		result.Detail = "no matching process"
		return result, nil
	}

	result.Healthy = true
	result.PID = pids[0]
	result.Detail = fmt.Sprintf("%d matching process(es)", len(pids))
	p.collectStats(ctx, &result)
	return result, nil
}

// collectStats fills CPU/memory/elapsed for result.PID. Failures are
// swallowed; the probe already knows the process exists.
func (p *ProcessProber) collectStats(ctx context.Context, result *Result) {
	output, err := p.runner.Run(ctx, "ps", "-o", "%cpu=,%mem=,etimes=", "-p", strconv.Itoa(result.PID))
	if err != nil {
		return
	}
	fields := strings.Fields(string(output))
	if len(fields) < 3 {
		return
	}
	if cpu, err := strconv.ParseFloat(fields[0], 64); err == nil {
		result.CPUPercent = cpu
	}
	if mem, err := strconv.ParseFloat(fields[1], 64); err == nil {
		result.MemPercent = mem
	}
	if secs, err := strconv.ParseInt(fields[2], 10, 64); err == nil {
		result.Elapsed = time.Duration(secs) * time.Second
	}
}

// parsePIDs extracts one PID per line from pgrep output.
func parsePIDs(output []byte) []int {
	var pids []int
	for _, line := range strings.Split(strings.TrimSpace(string(output)), "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		pid, err := strconv.Atoi(line)
		if err != nil {
			continue
		}
		pids = append(pids, pid)
	}
	return pids
}
