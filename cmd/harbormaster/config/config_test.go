// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package config

import (
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
	"time"
)

func TestDefaultConfigValid(t *testing.T) {
	cfg := DefaultConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("DefaultConfig should validate, got %v", err)
	}
}

func TestDefaultConfigValues(t *testing.T) {
	cfg := DefaultConfig()
	if !cfg.Recovery.Enabled {
		t.Error("recovery should be enabled by default")
	}
	if cfg.Recovery.MaxRestarts != 3 {
		t.Errorf("MaxRestarts = %d, want 3", cfg.Recovery.MaxRestarts)
	}
	if cfg.Recovery.RestartWindow != 300*time.Second {
		t.Errorf("RestartWindow = %v, want 300s", cfg.Recovery.RestartWindow)
	}
	if !cfg.MemoryLeak.Enabled {
		t.Error("memory leak scan should be enabled by default")
	}
	if cfg.MemoryLeak.GrowthRateThreshold != 50 {
		t.Errorf("GrowthRateThreshold = %v, want 50", cfg.MemoryLeak.GrowthRateThreshold)
	}
	if cfg.Alerts.Email.Enabled {
		t.Error("email alerts should be off by default")
	}
	if cfg.Server.Listen != "localhost:12230" {
		t.Errorf("Listen = %q, want localhost:12230", cfg.Server.Listen)
	}
	if cfg.Lookout.PollInterval != 30*time.Second {
		t.Errorf("Lookout poll = %v, want 30s", cfg.Lookout.PollInterval)
	}
	if cfg.Lookout.MaxLogSize != 100<<20 {
		t.Errorf("Lookout MaxLogSize = %d, want 100 MB", cfg.Lookout.MaxLogSize)
	}
	if cfg.Lookout.LogRetentionDays != 7 {
		t.Errorf("LogRetentionDays = %d, want 7", cfg.Lookout.LogRetentionDays)
	}
}

// The generated first-run file must parse back to exactly the built-in
// defaults, or the two drift apart silently.
func TestDefaultYAMLMatchesDefaultConfig(t *testing.T) {
	parsed, err := Parse([]byte(defaultConfigYAML))
	if err != nil {
		t.Fatalf("default yaml should parse, got %v", err)
	}
	if want := DefaultConfig(); !reflect.DeepEqual(parsed, want) {
		t.Errorf("default yaml parsed to %+v\nwant %+v", parsed, want)
	}
}

func TestParseOverridesDefaults(t *testing.T) {
	cfg, err := Parse([]byte(`
recovery:
  max_restarts: 5
memory_leak:
  enabled: false
monitors:
  service_interval: 45s
`))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if cfg.Recovery.MaxRestarts != 5 {
		t.Errorf("MaxRestarts = %d, want 5", cfg.Recovery.MaxRestarts)
	}
	if cfg.MemoryLeak.Enabled {
		t.Error("memory leak scan should be disabled by the override")
	}
	if cfg.Monitors.ServiceInterval != 45*time.Second {
		t.Errorf("ServiceInterval = %v, want 45s", cfg.Monitors.ServiceInterval)
	}
	// Absent keys keep their defaults.
	if !cfg.Recovery.Enabled {
		t.Error("recovery.enabled should keep its default")
	}
	if cfg.Recovery.RestartWindow != 300*time.Second {
		t.Errorf("RestartWindow = %v, want default 300s", cfg.Recovery.RestartWindow)
	}
	if cfg.MemoryLeak.GrowthRateThreshold != 50 {
		t.Errorf("GrowthRateThreshold = %v, want default 50", cfg.MemoryLeak.GrowthRateThreshold)
	}
}

func TestParseRejectsBadYaml(t *testing.T) {
	if _, err := Parse([]byte("recovery: [not: a map")); err == nil {
		t.Fatal("expected an error for malformed yaml")
	}
}

func TestValidateRejects(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*HarbormasterConfig)
	}{
		{"cpu warn over 100", func(c *HarbormasterConfig) { c.Monitors.Thresholds.CPUWarnPercent = 250 }},
		{"zero max restarts", func(c *HarbormasterConfig) { c.Recovery.MaxRestarts = 0 }},
		{"sub-second service interval", func(c *HarbormasterConfig) { c.Monitors.ServiceInterval = 100 * time.Millisecond }},
		{"sub-second restart window", func(c *HarbormasterConfig) { c.Recovery.RestartWindow = time.Millisecond }},
		{"bad listen address", func(c *HarbormasterConfig) { c.Server.Listen = "not an address" }},
		{"bad webhook url", func(c *HarbormasterConfig) { c.Alerts.Webhook.URL = "::::" }},
		{"influx enabled without url", func(c *HarbormasterConfig) { c.Metrics.Influx.Enabled = true }},
		{"tiny lookout log size", func(c *HarbormasterConfig) { c.Lookout.MaxLogSize = 1024 }},
		{"report hour out of range", func(c *HarbormasterConfig) { c.Report.Hour = 24 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if err == nil {
				t.Fatal("expected a validation error")
			}
			if !errors.Is(err, ErrInvalidConfig) {
				t.Errorf("error should wrap ErrInvalidConfig, got %v", err)
			}
		})
	}
}

func TestLoadFileMissing(t *testing.T) {
	if _, err := LoadFile(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Fatal("expected an error for a missing file")
	}
}

func TestCreateDefaultWritesLoadableFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "conf", "harbormaster.yaml")
	if err := createDefault(path); err != nil {
		t.Fatalf("createDefault: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("reading the generated file: %v", err)
	}
	if !strings.HasPrefix(string(data), "# Harbormaster configuration") {
		t.Error("generated file should start with the comment header")
	}
	cfg, err := LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile: %v", err)
	}
	if !reflect.DeepEqual(cfg, DefaultConfig()) {
		t.Error("generated file should load back to the defaults")
	}
}

func TestLoadTokenFromEnv(t *testing.T) {
	t.Setenv("HM_TEST_TOKEN", "tok-123")
	s, err := LoadToken("HM_TEST_TOKEN", "")
	if err != nil {
		t.Fatalf("LoadToken: %v", err)
	}
	defer s.Destroy()
	if !s.IsSet() {
		t.Fatal("secret should be set from the environment")
	}
	if got := s.Reveal(); got != "tok-123" {
		t.Errorf("Reveal = %q, want tok-123", got)
	}
}

func TestLoadTokenFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "token")
	if err := os.WriteFile(path, []byte("file-token\n"), 0600); err != nil {
		t.Fatal(err)
	}
	s, err := LoadToken("HM_TEST_TOKEN_UNSET", path)
	if err != nil {
		t.Fatalf("LoadToken: %v", err)
	}
	defer s.Destroy()
	if got := s.Reveal(); got != "file-token" {
		t.Errorf("Reveal = %q, want trimmed file-token", got)
	}
}

func TestLoadTokenUnset(t *testing.T) {
	s, err := LoadToken("", "")
	if err != nil {
		t.Fatalf("LoadToken: %v", err)
	}
	if s.IsSet() {
		t.Error("secret should be unset when no source is configured")
	}
	if s.Reveal() != "" {
		t.Error("Reveal on an unset secret should be empty")
	}
}

func TestLoadTokenMissingFile(t *testing.T) {
	if _, err := LoadToken("", filepath.Join(t.TempDir(), "missing")); err == nil {
		t.Fatal("expected an error for a missing token file")
	}
}

func TestSecretDestroy(t *testing.T) {
	s := NewSecret([]byte("ephemeral"))
	if !s.IsSet() {
		t.Fatal("secret should be set")
	}
	s.Destroy()
	if s.IsSet() {
		t.Error("secret should be unset after Destroy")
	}
	if s.Reveal() != "" {
		t.Error("Reveal after Destroy should be empty")
	}
	s.Destroy() // second call must not panic
}

func TestResolvedPaths(t *testing.T) {
	cfg := DefaultConfig()

	logDir, err := cfg.ResolvedLogDir()
	if err != nil {
		t.Fatalf("ResolvedLogDir: %v", err)
	}
	if filepath.Base(logDir) != "logs" {
		t.Errorf("default log dir should end in logs, got %s", logDir)
	}

	cfg.LogDir = "/tmp/custom-logs"
	logDir, err = cfg.ResolvedLogDir()
	if err != nil {
		t.Fatal(err)
	}
	if logDir != "/tmp/custom-logs" {
		t.Errorf("explicit log dir should win, got %s", logDir)
	}

	outbox, err := cfg.Alerts.Email.ResolvedOutbox()
	if err != nil {
		t.Fatal(err)
	}
	if filepath.Base(outbox) != "outbox" {
		t.Errorf("default outbox should end in outbox, got %s", outbox)
	}
}
