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
	"errors"
	"strings"
	"sync"
	"testing"
	"time"
)

// syncBuffer guards a bytes.Buffer against concurrent writes from the
// spinner goroutine.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func TestSpinner_MachineModePrintsOnce(t *testing.T) {
	saved := GetPersonality()
	defer SetPersonality(saved)
	SetPersonalityLevel(PersonalityMachine)

	var buf syncBuffer
	s := NewSpinner("checking services").WithWriter(&buf)
	s.Start()
	s.Stop()

	out := buf.String()
	if !strings.Contains(out, "PROGRESS: checking services") {
		t.Errorf("machine output = %q", out)
	}
	if strings.Count(out, "PROGRESS") != 1 {
		t.Errorf("expected exactly one PROGRESS line, got %q", out)
	}
}

func TestSpinner_StartStopRendersFrames(t *testing.T) {
	saved := GetPersonality()
	defer SetPersonality(saved)
	SetPersonalityLevel(PersonalityFull)

	var buf syncBuffer
	s := NewSpinner("probing").WithWriter(&buf).WithType(SpinnerWave)
	s.Start()
	time.Sleep(200 * time.Millisecond)
	s.Stop()

	if !strings.Contains(buf.String(), "probing") {
		t.Errorf("spinner never rendered message: %q", buf.String())
	}
}

func TestSpinner_DoubleStartAndDoubleStopAreSafe(t *testing.T) {
	saved := GetPersonality()
	defer SetPersonality(saved)
	SetPersonalityLevel(PersonalityFull)

	var buf syncBuffer
	s := NewSpinner("safe").WithWriter(&buf)
	s.Start()
	s.Start()
	s.Stop()
	s.Stop()
}

func TestSpinner_UpdateMessage(t *testing.T) {
	saved := GetPersonality()
	defer SetPersonality(saved)
	SetPersonalityLevel(PersonalityFull)

	var buf syncBuffer
	s := NewSpinner("first").WithWriter(&buf)
	s.Start()
	s.UpdateMessage("second")
	time.Sleep(200 * time.Millisecond)
	s.Stop()

	if !strings.Contains(buf.String(), "second") {
		t.Errorf("updated message never rendered: %q", buf.String())
	}
}

func TestWithSpinner_Success(t *testing.T) {
	saved := GetPersonality()
	defer SetPersonality(saved)
	SetPersonalityLevel(PersonalityMachine)

	called := false
	err := captureAndDiscard(func() error {
		return WithSpinner("step", func() error {
			called = true
			return nil
		})
	})
	if err != nil {
		t.Errorf("WithSpinner = %v, want nil", err)
	}
	if !called {
		t.Error("wrapped function not called")
	}
}

func TestWithSpinner_PropagatesError(t *testing.T) {
	saved := GetPersonality()
	defer SetPersonality(saved)
	SetPersonalityLevel(PersonalityMachine)

	wantErr := errors.New("probe failed")
	err := captureAndDiscard(func() error {
		return WithSpinner("step", func() error { return wantErr })
	})
	if !errors.Is(err, wantErr) {
		t.Errorf("WithSpinner = %v, want %v", err, wantErr)
	}
}

// captureAndDiscard silences stdout/stderr around fn.
func captureAndDiscard(fn func() error) error {
	var err error
	captureStdout(func() {
		captureStderr(func() {
			err = fn()
		})
	})
	return err
}

func TestProgressSpinner_Increment(t *testing.T) {
	saved := GetPersonality()
	defer SetPersonality(saved)
	SetPersonalityLevel(PersonalityFull)

	var buf syncBuffer
	p := NewProgressSpinner("categories", 7)
	p.Spinner.WithWriter(&buf)
	p.Start()
	p.Increment()
	p.Increment()
	time.Sleep(200 * time.Millisecond)
	p.Stop()

	if !strings.Contains(buf.String(), "[2/7]") {
		t.Errorf("progress not rendered: %q", buf.String())
	}
}
