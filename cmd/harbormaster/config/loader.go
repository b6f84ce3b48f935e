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
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// ErrInvalidConfig marks configuration problems. Callers treat them as
// fatal at startup and never at runtime.
var ErrInvalidConfig = errors.New("invalid configuration")

var (
	// Global is a singleton instance
	Global HarbormasterConfig
	once   sync.Once

	configValidate *validator.Validate
)

func init() {
	configValidate = validator.New()
}

// Load ensures the config is loaded into the Global variable
func Load() error {
	var err error
	once.Do(func() {
		err = loadInternal()
	})
	return err
}

func loadInternal() error {
	dir, err := Dir()
	if err != nil {
		return err
	}
	configPath := filepath.Join(dir, "harbormaster.yaml")
	// create it if it doesn't exist
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		fmt.Printf("First run detected, creating the config at %s\n", configPath)
		if err := createDefault(configPath); err != nil {
			return err
		}
	}
	cfg, err := LoadFile(configPath)
	if err != nil {
		return err
	}
	Global = cfg
	return nil
}

// LoadFile reads and validates a config file without touching the
// Global singleton.
func LoadFile(path string) (HarbormasterConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return HarbormasterConfig{}, fmt.Errorf("failed to read the config file: %w", err)
	}
	return Parse(data)
}

// Parse decodes yaml on top of the defaults, so absent keys keep their
// default values.
func Parse(data []byte) (HarbormasterConfig, error) {
	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return HarbormasterConfig{}, fmt.Errorf("failed to parse the config file: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return HarbormasterConfig{}, err
	}
	return cfg, nil
}

// Validate checks field constraints plus the cross-field rules the
// struct tags cannot express.
func (c *HarbormasterConfig) Validate() error {
	if err := configValidate.Struct(c); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	intervals := []struct {
		name string
		d    time.Duration
	}{
		{"monitors.service_interval", c.Monitors.ServiceInterval},
		{"monitors.resource_interval", c.Monitors.ResourceInterval},
		{"monitors.database_interval", c.Monitors.DatabaseInterval},
		{"monitors.network_interval", c.Monitors.NetworkInterval},
		{"monitors.certificate_interval", c.Monitors.CertificateInterval},
		{"lookout.poll_interval", c.Lookout.PollInterval},
	}
	for _, iv := range intervals {
		if iv.d < time.Second {
			return fmt.Errorf("%w: %s must be at least 1s", ErrInvalidConfig, iv.name)
		}
	}
	if c.Recovery.RestartWindow < time.Second {
		return fmt.Errorf("%w: recovery.restart_window must be at least 1s", ErrInvalidConfig)
	}
	if c.MemoryLeak.Enabled && c.MemoryLeak.CheckInterval < time.Second {
		return fmt.Errorf("%w: memory_leak.check_interval must be at least 1s", ErrInvalidConfig)
	}
	if c.Lookout.MaxLogSize < 1<<20 {
		return fmt.Errorf("%w: lookout.max_log_size must be at least 1 MiB", ErrInvalidConfig)
	}
	if c.Metrics.Influx.Enabled && c.Metrics.Influx.URL == "" {
		return fmt.Errorf("%w: metrics.influx.url is required when the mirror is enabled", ErrInvalidConfig)
	}
	return nil
}

func createDefault(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create the config directory: %w", err)
	}
	return os.WriteFile(path, []byte(defaultConfigYAML), 0644)
}

// ErrExists is returned by WriteDefault when the target file is
// already present and force is false.
var ErrExists = errors.New("file already exists")

// WriteDefault writes the commented default config under Dir() and
// returns its path. An existing file is preserved unless force is set.
func WriteDefault(force bool) (string, error) {
	dir, err := Dir()
	if err != nil {
		return "", err
	}
	path := filepath.Join(dir, "harbormaster.yaml")
	if !force {
		if _, err := os.Stat(path); err == nil {
			return path, fmt.Errorf("%w: %s", ErrExists, path)
		}
	}
	if err := createDefault(path); err != nil {
		return "", err
	}
	return path, nil
}

// defaultConfigYAML is the commented config written on first run. It
// must parse to exactly DefaultConfig(); a test guards against drift.
const defaultConfigYAML = `# Harbormaster configuration. Generated on first run.
# Durations use Go syntax: "30s", "5m", "24h".

fleet:
  # Path to a fleet definition file. Empty uses the built-in
  # Aleutian appliance fleet.
  file: ""

monitors:
  service_interval: 30s
  resource_interval: 60s
  database_interval: 2m
  network_interval: 1m
  certificate_interval: 24h
  thresholds:
    cpu_warn_percent: 85
    cpu_critical_percent: 95
    memory_warn_percent: 85
    memory_critical_percent: 95
    disk_warn_percent: 85
    disk_critical_percent: 95
    load_per_core: 2.0
  database:
    weaviate_host: "localhost:12127"
    weaviate_scheme: "http"
  # Service log files tailed for error patterns, for example:
  # log_paths:
  #   - /var/log/orchestrator.log
  error_patterns: ["ERROR", "FATAL", "panic:"]
  network_targets:
    - "localhost:12210"
    - "localhost:12127"
    - "localhost:11434"
  # https endpoints whose certificates are checked for expiry:
  # certificate_endpoints:
  #   - https://example.internal
  certificate_warn_days: 30

recovery:
  enabled: true
  max_restarts: 3
  restart_window: 300s
  # compose_file: /path/to/podman-compose.yaml

memory_leak:
  enabled: true
  check_interval: 10m
  growth_rate_threshold: 50

alerts:
  email:
    enabled: false
    # outbox defaults to ~/.harbormaster/outbox
    outbox: ""
  webhook:
    url: ""
    token_env: "HARBORMASTER_WEBHOOK_TOKEN"
    token_file: ""
    rate_per_minute: 30

metrics:
  retention_hours: 168
  per_key_cap: 1000
  # journal_dir defaults to ~/.harbormaster/metrics
  journal_dir: ""
  influx:
    enabled: false
    url: ""
    org: ""
    bucket: ""
    token_env: "HARBORMASTER_INFLUX_TOKEN"
    token_file: ""

report:
  hour: 6
  summary:
    enabled: false
    base_url: "http://localhost:11434/v1"
    model: "llama3.2:3b"
  archive:
    gcs_bucket: ""

server:
  enabled: true
  listen: "localhost:12230"

observability:
  otlp_endpoint: ""
  debug: false
  prometheus: true

lookout:
  poll_interval: 30s
  max_log_size: 104857600
  log_retention_days: 7

# log_dir defaults to ~/.harbormaster/logs
log_dir: ""
`
