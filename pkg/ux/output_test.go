// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package ux

import (
	"bytes"
	"io"
	"os"
	"strings"
	"testing"
)

// Helper to capture stdout
func captureStdout(f func()) string {
	old := os.Stdout
	r, w, _ := os.Pipe()
	os.Stdout = w

	f()

	w.Close()
	os.Stdout = old

	var buf bytes.Buffer
	io.Copy(&buf, r)
	return buf.String()
}

// Helper to capture stderr
func captureStderr(f func()) string {
	old := os.Stderr
	r, w, _ := os.Pipe()
	os.Stderr = w

	f()

	w.Close()
	os.Stderr = old

	var buf bytes.Buffer
	io.Copy(&buf, r)
	return buf.String()
}

// withLevel runs f with the personality level pinned, then restores.
func withLevel(t *testing.T, level PersonalityLevel, f func()) {
	t.Helper()
	saved := GetPersonality()
	SetPersonalityLevel(level)
	defer SetPersonality(saved)
	f()
}

// =============================================================================
// Icon.Render Tests
// =============================================================================

func TestIcon_Render_AllIcons(t *testing.T) {
	icons := []Icon{IconSuccess, IconWarning, IconError, IconPending, IconRecovery, IconAnchor, IconArrow}
	for _, ic := range icons {
		if ic.Render() == "" {
			t.Errorf("Icon %q rendered empty", string(ic))
		}
	}
}

// =============================================================================
// Print Helper Tests
// =============================================================================

func TestSuccess_MachineMode(t *testing.T) {
	withLevel(t, PersonalityMachine, func() {
		out := captureStdout(func() { Success("weaviate healthy") })
		if !strings.HasPrefix(out, "OK: ") {
			t.Errorf("machine output = %q, want OK: prefix", out)
		}
	})
}

func TestWarning_MachineModeGoesToStderr(t *testing.T) {
	withLevel(t, PersonalityMachine, func() {
		errOut := captureStderr(func() { Warning("disk filling up") })
		if !strings.Contains(errOut, "WARN: disk filling up") {
			t.Errorf("stderr = %q", errOut)
		}
	})
}

func TestError_MachineModeGoesToStderr(t *testing.T) {
	withLevel(t, PersonalityMachine, func() {
		errOut := captureStderr(func() { Error("ollama down") })
		if !strings.Contains(errOut, "ERROR: ollama down") {
			t.Errorf("stderr = %q", errOut)
		}
	})
}

func TestTitle_SuppressedInMachineMode(t *testing.T) {
	withLevel(t, PersonalityMachine, func() {
		out := captureStdout(func() { Title("Harbormaster") })
		if out != "" {
			t.Errorf("machine-mode title = %q, want empty", out)
		}
	})
}

func TestServiceStatus_MachineModeIsTabSeparated(t *testing.T) {
	withLevel(t, PersonalityMachine, func() {
		out := captureStdout(func() { ServiceStatus("orchestrator", IconSuccess, "HTTP 200") })
		fields := strings.Split(strings.TrimSpace(out), "\t")
		if len(fields) != 3 || fields[1] != "orchestrator" {
			t.Errorf("machine status = %q", out)
		}
	})
}

func TestServiceStatus_FullModeIncludesDetail(t *testing.T) {
	withLevel(t, PersonalityFull, func() {
		out := captureStdout(func() { ServiceStatus("weaviate", IconError, "connection refused") })
		if !strings.Contains(out, "weaviate") || !strings.Contains(out, "connection refused") {
			t.Errorf("full status = %q", out)
		}
	})
}

func TestCheckSummary_MachineMode(t *testing.T) {
	withLevel(t, PersonalityMachine, func() {
		out := captureStdout(func() { CheckSummary(5, 2, 7) })
		if !strings.Contains(out, "passed=5 failed=2 total=7") {
			t.Errorf("summary = %q", out)
		}
	})
}

func TestBox_MachineModeIsPlain(t *testing.T) {
	withLevel(t, PersonalityMachine, func() {
		out := captureStdout(func() { Box("Status", "all clear") })
		if !strings.Contains(out, "Status: all clear") {
			t.Errorf("box = %q", out)
		}
	})
}

// =============================================================================
// ProgressBar Tests
// =============================================================================

func TestProgressBar_MachineMode(t *testing.T) {
	withLevel(t, PersonalityMachine, func() {
		if got := ProgressBar(3, 10, 20); got != "3/10" {
			t.Errorf("ProgressBar = %q, want 3/10", got)
		}
	})
}

func TestProgressBar_FullModeShowsPercent(t *testing.T) {
	withLevel(t, PersonalityFull, func() {
		got := ProgressBar(5, 10, 20)
		if !strings.Contains(got, "50%") {
			t.Errorf("ProgressBar = %q, want 50%%", got)
		}
	})
}

func TestRepeatChar(t *testing.T) {
	if got := repeatChar('█', 3); got != "███" {
		t.Errorf("repeatChar = %q", got)
	}
	if got := repeatChar('x', 0); got != "" {
		t.Errorf("repeatChar(0) = %q, want empty", got)
	}
	if got := repeatChar('x', -1); got != "" {
		t.Errorf("repeatChar(-1) = %q, want empty", got)
	}
}
