// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package ux

import "testing"

func TestParsePersonalityLevel(t *testing.T) {
	tests := []struct {
		input string
		want  PersonalityLevel
	}{
		{"full", PersonalityFull},
		{"f", PersonalityFull},
		{"FULL", PersonalityFull},
		{"standard", PersonalityStandard},
		{"std", PersonalityStandard},
		{"minimal", PersonalityMinimal},
		{"min", PersonalityMinimal},
		{"machine", PersonalityMachine},
		{"quiet", PersonalityMachine},
		{"q", PersonalityMachine},
		{"bogus", PersonalityStandard},
		{"", PersonalityStandard},
	}
	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			if got := ParsePersonalityLevel(tt.input); got != tt.want {
				t.Errorf("ParsePersonalityLevel(%q) = %v, want %v", tt.input, got, tt.want)
			}
		})
	}
}

func TestSetAndGetPersonality(t *testing.T) {
	saved := GetPersonality()
	defer SetPersonality(saved)

	SetPersonality(Personality{Level: PersonalityMinimal})
	got := GetPersonality()
	if got.Level != PersonalityMinimal {
		t.Errorf("GetPersonality() = %+v", got)
	}

	SetPersonalityLevel(PersonalityMachine)
	if GetPersonality().Level != PersonalityMachine {
		t.Errorf("SetPersonalityLevel did not stick")
	}
}

func TestInitPersonality_EnvOverride(t *testing.T) {
	saved := GetPersonality()
	defer SetPersonality(saved)

	t.Setenv("HARBORMASTER_PERSONALITY", "minimal")
	InitPersonality()
	if GetPersonality().Level != PersonalityMinimal {
		t.Errorf("env override not applied: %v", GetPersonality().Level)
	}
}
