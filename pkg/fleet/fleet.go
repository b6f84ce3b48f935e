// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package fleet defines the set of services Harbormaster watches: what
// each service is called, where its health endpoint lives, which port
// and process identify it, and how aggressively it is checked.
//
// The built-in fleet matches the standard Aleutian appliance layout.
// Deployments with different ports or extra services load their own
// fleet from YAML.
package fleet

import (
	"fmt"
	"os"
	"time"

	"github.com/go-playground/validator/v10"
	"golang.org/x/mod/semver"
	"gopkg.in/yaml.v3"
)

// Default probe cadence and timeout applied when a definition leaves
// them unset.
const (
	DefaultCheckInterval = 30 * time.Second
	DefaultProbeTimeout  = 5 * time.Second
)

// ServiceDefinition describes one monitored service.
//
// At least one probe target (HealthURL, Port, ProcessPattern, or
// ContainerName) must be set; Validate enforces this.
type ServiceDefinition struct {
	// Name is the stable identifier used in events, alerts, metrics,
	// and incidents. Must be unique within a fleet.
	Name string `yaml:"name" validate:"required"`

	// HealthURL is the HTTP health endpoint, if the service has one.
	HealthURL string `yaml:"healthUrl" validate:"omitempty,url"`

	// Port is the TCP port checked by network monitoring. Zero skips
	// the port check for this service.
	Port int `yaml:"port" validate:"omitempty,gte=1,lte=65535"`

	// ProcessPattern is the pgrep -f pattern identifying the service
	// process on the host. Empty for container-only services.
	ProcessPattern string `yaml:"processPattern"`

	// ContainerName is the podman container name. Empty for host
	// services such as Ollama.
	ContainerName string `yaml:"containerName"`

	// CheckInterval overrides the monitor cadence for this service.
	// Zero means DefaultCheckInterval.
	CheckInterval time.Duration `yaml:"checkInterval"`

	// Timeout overrides the per-probe timeout. Zero means
	// DefaultProbeTimeout.
	Timeout time.Duration `yaml:"timeout"`

	// Critical marks the services the appliance cannot run without.
	// The check command prefers a critical service's endpoint for its
	// API auth category; the watch daemon restarts every fleet member
	// regardless.
	Critical bool `yaml:"critical"`

	// MinVersion is the lowest acceptable version the service may
	// advertise, in semver form ("v1.2.0"). Empty disables the gate.
	MinVersion string `yaml:"minVersion" validate:"omitempty,semver_tag"`
}

// fleetValidate is the validator instance for fleet definitions.
// Initialized in init() with custom validators.
var fleetValidate *validator.Validate

func init() {
	fleetValidate = validator.New()
	if err := fleetValidate.RegisterValidation("semver_tag", validateSemverTag); err != nil {
		panic(fmt.Sprintf("register semver_tag validator: %v", err))
	}
}

// validateSemverTag accepts canonical semver with the leading "v".
func validateSemverTag(fl validator.FieldLevel) bool {
	return semver.IsValid(fl.Field().String())
}

// Validate checks tag constraints plus the at-least-one-target rule.
func (s ServiceDefinition) Validate() error {
	if err := fleetValidate.Struct(s); err != nil {
		return fmt.Errorf("service %q: %w", s.Name, err)
	}
	if s.HealthURL == "" && s.Port == 0 && s.ProcessPattern == "" && s.ContainerName == "" {
		return fmt.Errorf("service %q: no probe target (healthUrl, port, processPattern, or containerName)", s.Name)
	}
	return nil
}

// Interval returns CheckInterval with the default applied.
func (s ServiceDefinition) Interval() time.Duration {
	if s.CheckInterval > 0 {
		return s.CheckInterval
	}
	return DefaultCheckInterval
}

// ProbeTimeout returns Timeout with the default applied.
func (s ServiceDefinition) ProbeTimeout() time.Duration {
	if s.Timeout > 0 {
		return s.Timeout
	}
	return DefaultProbeTimeout
}

// PortAddress returns the dialable "host:port" for the port check, or
// empty when no port is configured.
func (s ServiceDefinition) PortAddress() string {
	if s.Port == 0 {
		return ""
	}
	return fmt.Sprintf("localhost:%d", s.Port)
}

// Default returns the standard Aleutian appliance fleet. Ports match
// podman-compose.yaml; Ollama runs as a host service.
func Default() []ServiceDefinition {
	return []ServiceDefinition{
		{
			Name:           "orchestrator",
			HealthURL:      "http://localhost:12210/health",
			Port:           12210,
			ContainerName:  "aleutian-go-orchestrator",
			ProcessPattern: "orchestrator",
			Critical:       true,
		},
		{
			Name:          "weaviate",
			HealthURL:     "http://localhost:12127/v1/.well-known/ready",
			Port:          12127,
			ContainerName: "aleutian-weaviate",
			Critical:      true,
		},
		{
			Name:           "ollama",
			HealthURL:      "http://localhost:11434/",
			Port:           11434,
			ProcessPattern: "ollama serve",
			Critical:       true,
		},
		{
			Name:          "data-fetcher",
			HealthURL:     "http://localhost:12001/health",
			Port:          12001,
			ContainerName: "aleutian-data-fetcher",
			Critical:      false,
		},
		{
			Name:          "forecast",
			HealthURL:     "http://localhost:12000/health",
			Port:          12000,
			ContainerName: "aleutian-forecast",
			Critical:      false,
		},
	}
}

// fleetFile is the YAML document shape for LoadFile.
type fleetFile struct {
	Services []ServiceDefinition `yaml:"services"`
}

// LoadFile reads a fleet from a YAML file and validates every entry.
// Duplicate names are rejected.
func LoadFile(path string) ([]ServiceDefinition, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read fleet file: %w", err)
	}
	return Parse(data)
}

// Parse decodes and validates a YAML fleet document.
func Parse(data []byte) ([]ServiceDefinition, error) {
	var doc fleetFile
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse fleet yaml: %w", err)
	}
	if len(doc.Services) == 0 {
		return nil, fmt.Errorf("fleet defines no services")
	}

	seen := make(map[string]bool, len(doc.Services))
	for _, svc := range doc.Services {
		if err := svc.Validate(); err != nil {
			return nil, err
		}
		if seen[svc.Name] {
			return nil, fmt.Errorf("duplicate service name %q", svc.Name)
		}
		seen[svc.Name] = true
	}
	return doc.Services, nil
}

// ByName returns the definition with the given name, or false.
func ByName(services []ServiceDefinition, name string) (ServiceDefinition, bool) {
	for _, svc := range services {
		if svc.Name == name {
			return svc, true
		}
	}
	return ServiceDefinition{}, false
}
