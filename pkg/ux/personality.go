// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package ux

import (
	"os"
	"strings"
	"sync"

	"github.com/mattn/go-isatty"
)

// PersonalityLevel selects how much decoration the CLI emits. The
// renderers in output.go and the spinner consult it before styling
// anything, so one level switch quiets the whole surface.
type PersonalityLevel string

const (
	// PersonalityFull is the interactive default: colors, icons,
	// boxed summaries.
	PersonalityFull PersonalityLevel = "full"

	// PersonalityStandard keeps colors and icons but drops the boxes.
	PersonalityStandard PersonalityLevel = "standard"

	// PersonalityMinimal is icons and indentation only.
	PersonalityMinimal PersonalityLevel = "minimal"

	// PersonalityMachine is plain text for scripts and CI logs.
	PersonalityMachine PersonalityLevel = "machine"
)

// Personality is the process-wide presentation state.
type Personality struct {
	Level PersonalityLevel
}

var (
	currentPersonality = Personality{Level: PersonalityFull}
	personalityMu      sync.RWMutex
)

// GetPersonality returns the current personality settings.
func GetPersonality() Personality {
	personalityMu.RLock()
	defer personalityMu.RUnlock()
	return currentPersonality
}

// SetPersonality replaces the current personality settings.
func SetPersonality(p Personality) {
	personalityMu.Lock()
	defer personalityMu.Unlock()
	currentPersonality = p
}

// SetPersonalityLevel updates just the level.
func SetPersonalityLevel(level PersonalityLevel) {
	personalityMu.Lock()
	defer personalityMu.Unlock()
	currentPersonality.Level = level
}

// ParsePersonalityLevel converts a flag or env value to a level.
// Unrecognized input falls back to standard.
func ParsePersonalityLevel(s string) PersonalityLevel {
	switch strings.ToLower(s) {
	case "full", "f":
		return PersonalityFull
	case "standard", "std", "s":
		return PersonalityStandard
	case "minimal", "min", "m":
		return PersonalityMinimal
	case "machine", "quiet", "q":
		return PersonalityMachine
	default:
		return PersonalityStandard
	}
}

// InitPersonality picks the level for this invocation:
// HARBORMASTER_PERSONALITY wins, a piped stdout means machine,
// otherwise a terminal gets the full treatment.
func InitPersonality() {
	if envLevel := os.Getenv("HARBORMASTER_PERSONALITY"); envLevel != "" {
		SetPersonalityLevel(ParsePersonalityLevel(envLevel))
		return
	}

	if !isTerminal() {
		SetPersonalityLevel(PersonalityMachine)
		return
	}

	SetPersonalityLevel(PersonalityFull)
}

// isTerminal reports whether stdout is attached to a terminal.
func isTerminal() bool {
	return isatty.IsTerminal(os.Stdout.Fd()) || isatty.IsCygwinTerminal(os.Stdout.Fd())
}
