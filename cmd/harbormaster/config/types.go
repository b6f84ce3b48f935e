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
	"fmt"
	"os"
	"path/filepath"
	"time"
)

type HarbormasterConfig struct {
	// Fleet: where the service definitions come from
	Fleet FleetConfig `yaml:"fleet"`

	// Monitors: cadences and thresholds for the in-process monitors
	Monitors MonitorsConfig `yaml:"monitors"`

	// Recovery: bounded automatic service restarts
	Recovery RecoveryConfig `yaml:"recovery"`

	// MemoryLeak: periodic growth scan over per-service memory samples
	MemoryLeak MemoryLeakConfig `yaml:"memory_leak"`

	// Alerts: external notification sinks
	Alerts AlertsConfig `yaml:"alerts"`

	// Metrics: local sample retention plus the optional InfluxDB mirror
	Metrics MetricsConfig `yaml:"metrics"`

	// Report: daily report generation and archival
	Report ReportConfig `yaml:"report"`

	// Server: local status API served while watching
	Server ServerConfig `yaml:"server"`

	// Observability: tracing and Prometheus exposition
	Observability ObservabilityConfig `yaml:"observability"`

	// Lookout: the standalone watchdog process
	Lookout LookoutConfig `yaml:"lookout"`

	// LogDir: where structured logs are written. Empty means
	// ~/.harbormaster/logs.
	LogDir string `yaml:"log_dir"`
}

type FleetConfig struct {
	// File is a fleet definition yaml. Empty means the built-in
	// Aleutian appliance fleet.
	File string `yaml:"file"`
}

type MonitorsConfig struct {
	ServiceInterval     time.Duration `yaml:"service_interval"`     // e.g. 30s
	ResourceInterval    time.Duration `yaml:"resource_interval"`    // e.g. 60s
	DatabaseInterval    time.Duration `yaml:"database_interval"`    // e.g. 2m
	NetworkInterval     time.Duration `yaml:"network_interval"`     // e.g. 1m
	CertificateInterval time.Duration `yaml:"certificate_interval"` // e.g. 24h

	Thresholds ThresholdConfig `yaml:"thresholds"`
	Database   DatabaseConfig  `yaml:"database"`

	// LogPaths are service log files tailed for error patterns.
	LogPaths []string `yaml:"log_paths"`
	// ErrorPatterns are substrings that mark a log line as an error.
	ErrorPatterns []string `yaml:"error_patterns"`

	// NetworkTargets are upstream host:port pairs checked for
	// reachability.
	NetworkTargets []string `yaml:"network_targets" validate:"omitempty,dive,hostname_port"`

	// CertificateEndpoints are https URLs whose certificates are
	// checked for expiry.
	CertificateEndpoints []string `yaml:"certificate_endpoints" validate:"omitempty,dive,url"`
	CertificateWarnDays  int      `yaml:"certificate_warn_days" validate:"gte=1"` // e.g. 30
}

type ThresholdConfig struct {
	CPUWarnPercent        float64 `yaml:"cpu_warn_percent" validate:"gte=0,lte=100"`
	CPUCriticalPercent    float64 `yaml:"cpu_critical_percent" validate:"gte=0,lte=100"`
	MemoryWarnPercent     float64 `yaml:"memory_warn_percent" validate:"gte=0,lte=100"`
	MemoryCriticalPercent float64 `yaml:"memory_critical_percent" validate:"gte=0,lte=100"`
	DiskWarnPercent       float64 `yaml:"disk_warn_percent" validate:"gte=0,lte=100"`
	DiskCriticalPercent   float64 `yaml:"disk_critical_percent" validate:"gte=0,lte=100"`

	// LoadPerCore warns when the 1-minute load average divided by
	// the CPU count exceeds this value.
	LoadPerCore float64 `yaml:"load_per_core" validate:"gte=0"`
}

type DatabaseConfig struct {
	WeaviateHost   string `yaml:"weaviate_host"`   // e.g. localhost:12127
	WeaviateScheme string `yaml:"weaviate_scheme"` // http or https
}

type RecoveryConfig struct {
	Enabled       bool          `yaml:"enabled"`
	MaxRestarts   int           `yaml:"max_restarts" validate:"gte=1"` // per window
	RestartWindow time.Duration `yaml:"restart_window"`                // e.g. 300s

	// ComposeFile is passed to podman-compose. Empty uses the
	// default compose file lookup.
	ComposeFile string `yaml:"compose_file"`
}

type MemoryLeakConfig struct {
	Enabled             bool          `yaml:"enabled"`
	CheckInterval       time.Duration `yaml:"check_interval"`                         // e.g. 10m
	GrowthRateThreshold float64       `yaml:"growth_rate_threshold" validate:"gte=0"` // percent
}

type AlertsConfig struct {
	Email   EmailConfig   `yaml:"email"`
	Webhook WebhookConfig `yaml:"webhook"`
}

type EmailConfig struct {
	Enabled bool `yaml:"enabled"`

	// Outbox is the spool directory the external mailer drains.
	// Empty means ~/.harbormaster/outbox.
	Outbox string `yaml:"outbox"`
}

type WebhookConfig struct {
	URL string `yaml:"url,omitempty" validate:"omitempty,url"`

	// TokenEnv names an environment variable holding the bearer
	// token; TokenFile is read when the variable is unset or empty.
	TokenEnv  string `yaml:"token_env"`
	TokenFile string `yaml:"token_file"`

	// RatePerMinute caps outbound webhook posts.
	RatePerMinute int `yaml:"rate_per_minute" validate:"gte=1"`
}

type MetricsConfig struct {
	// RetentionHours is the cleanup horizon for stored samples.
	RetentionHours int `yaml:"retention_hours" validate:"gte=1"`

	// PerKeyCap bounds the samples kept per metric type and subject.
	PerKeyCap int `yaml:"per_key_cap" validate:"gte=1"`

	// JournalDir holds the JSONL sample journal. Empty means
	// ~/.harbormaster/metrics.
	JournalDir string `yaml:"journal_dir"`

	Influx InfluxConfig `yaml:"influx"`
}

type InfluxConfig struct {
	Enabled   bool   `yaml:"enabled"`
	URL       string `yaml:"url,omitempty" validate:"omitempty,url"`
	Org       string `yaml:"org,omitempty"`
	Bucket    string `yaml:"bucket,omitempty"`
	TokenEnv  string `yaml:"token_env"`
	TokenFile string `yaml:"token_file"`
}

type ReportConfig struct {
	// Hour is the local hour (0-23) the daily report runs at.
	Hour int `yaml:"hour" validate:"gte=0,lte=23"`

	Summary SummaryConfig `yaml:"summary"`
	Archive ArchiveConfig `yaml:"archive"`
}

type SummaryConfig struct {
	// Enabled turns on the model-written prose summary of the daily
	// report. Needs an OpenAI-compatible endpoint; the local Ollama
	// works.
	Enabled bool   `yaml:"enabled"`
	BaseURL string `yaml:"base_url,omitempty" validate:"omitempty,url"`
	Model   string `yaml:"model,omitempty"`
}

type ArchiveConfig struct {
	// GCSBucket receives a copy of each daily report. Empty disables
	// the upload.
	GCSBucket string `yaml:"gcs_bucket,omitempty"`
}

type ServerConfig struct {
	Enabled bool   `yaml:"enabled"`
	Listen  string `yaml:"listen" validate:"omitempty,hostname_port"` // e.g. localhost:12230
}

type ObservabilityConfig struct {
	// OTLPEndpoint is a gRPC collector address. Empty disables trace
	// export.
	OTLPEndpoint string `yaml:"otlp_endpoint,omitempty"`

	// Debug mirrors traces and metrics to stdout.
	Debug bool `yaml:"debug"`

	// Prometheus exposes /metrics on the status server.
	Prometheus bool `yaml:"prometheus"`
}

type LookoutConfig struct {
	PollInterval     time.Duration `yaml:"poll_interval"`      // e.g. 30s
	MaxLogSize       int64         `yaml:"max_log_size"`       // bytes, rotate above
	LogRetentionDays int           `yaml:"log_retention_days" validate:"gte=1"`
}

func DefaultConfig() HarbormasterConfig {
	return HarbormasterConfig{
		Fleet: FleetConfig{File: ""},
		Monitors: MonitorsConfig{
			ServiceInterval:     30 * time.Second,
			ResourceInterval:    60 * time.Second,
			DatabaseInterval:    2 * time.Minute,
			NetworkInterval:     time.Minute,
			CertificateInterval: 24 * time.Hour,
			Thresholds: ThresholdConfig{
				CPUWarnPercent:        85,
				CPUCriticalPercent:    95,
				MemoryWarnPercent:     85,
				MemoryCriticalPercent: 95,
				DiskWarnPercent:       85,
				DiskCriticalPercent:   95,
				LoadPerCore:           2.0,
			},
			Database: DatabaseConfig{
				WeaviateHost:   "localhost:12127",
				WeaviateScheme: "http",
			},
			ErrorPatterns: []string{"ERROR", "FATAL", "panic:"},
			NetworkTargets: []string{
				"localhost:12210",
				"localhost:12127",
				"localhost:11434",
			},
			CertificateWarnDays: 30,
		},
		Recovery: RecoveryConfig{
			Enabled:       true,
			MaxRestarts:   3,
			RestartWindow: 300 * time.Second,
		},
		MemoryLeak: MemoryLeakConfig{
			Enabled:             true,
			CheckInterval:       10 * time.Minute,
			GrowthRateThreshold: 50,
		},
		Alerts: AlertsConfig{
			Email: EmailConfig{Enabled: false},
			Webhook: WebhookConfig{
				TokenEnv:      "HARBORMASTER_WEBHOOK_TOKEN",
				RatePerMinute: 30,
			},
		},
		Metrics: MetricsConfig{
			RetentionHours: 168,
			PerKeyCap:      1000,
			Influx: InfluxConfig{
				Enabled:  false,
				TokenEnv: "HARBORMASTER_INFLUX_TOKEN",
			},
		},
		Report: ReportConfig{
			Hour: 6,
			Summary: SummaryConfig{
				Enabled: false,
				BaseURL: "http://localhost:11434/v1",
				Model:   "llama3.2:3b",
			},
		},
		Server: ServerConfig{
			Enabled: true,
			Listen:  "localhost:12230",
		},
		Observability: ObservabilityConfig{
			Prometheus: true,
		},
		Lookout: LookoutConfig{
			PollInterval:     30 * time.Second,
			MaxLogSize:       100 << 20, // 100 MB
			LogRetentionDays: 7,
		},
	}
}

// Dir returns the harbormaster home directory (~/.harbormaster).
func Dir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("could not find the user's home directory: %w", err)
	}
	return filepath.Join(home, ".harbormaster"), nil
}

// ResolvedLogDir returns LogDir, defaulting under Dir() when unset.
func (c *HarbormasterConfig) ResolvedLogDir() (string, error) {
	if c.LogDir != "" {
		return c.LogDir, nil
	}
	dir, err := Dir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "logs"), nil
}

// ResolvedOutbox returns the email spool directory, defaulting under
// Dir() when unset.
func (e EmailConfig) ResolvedOutbox() (string, error) {
	if e.Outbox != "" {
		return e.Outbox, nil
	}
	dir, err := Dir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "outbox"), nil
}

// ResolvedJournalDir returns the metrics journal directory, defaulting
// under Dir() when unset.
func (m MetricsConfig) ResolvedJournalDir() (string, error) {
	if m.JournalDir != "" {
		return m.JournalDir, nil
	}
	dir, err := Dir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "metrics"), nil
}
