// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/Harbormaster/cmd/harbormaster/config"
	"github.com/AleutianAI/Harbormaster/pkg/ux"
)

// ============================================================================
// init: first-run scaffolding
// ============================================================================

// exampleFleetYAML is the fleet file init writes. It mirrors the
// built-in appliance fleet so operators have a working starting point
// to edit; a test keeps it parseable.
const exampleFleetYAML = `# Harbormaster fleet definition.
# Each service lists the signals used to decide whether it is healthy:
# an HTTP health endpoint, a TCP port, and/or a process pattern.
# Services marked critical are restarted automatically when unhealthy.

services:
  - name: orchestrator
    healthUrl: http://localhost:12210/health
    port: 12210
    containerName: aleutian-go-orchestrator
    processPattern: orchestrator
    critical: true

  - name: weaviate
    healthUrl: http://localhost:12127/v1/.well-known/ready
    port: 12127
    containerName: aleutian-weaviate
    critical: true

  - name: ollama
    healthUrl: http://localhost:11434/
    port: 11434
    processPattern: ollama serve
    critical: true

  - name: data-fetcher
    healthUrl: http://localhost:12001/health
    port: 12001
    containerName: aleutian-data-fetcher
    critical: false

  - name: forecast
    healthUrl: http://localhost:12000/health
    port: 12000
    containerName: aleutian-forecast
    critical: false

    # Optional per-service overrides:
    # checkInterval: 30s    # probe cadence
    # timeout: 5s           # per-probe timeout
    # minVersion: v1.2.0    # alert when the service reports older
`

func runInit(cmd *cobra.Command, args []string) {
	configPath, err := config.WriteDefault(initForce)
	switch {
	case errors.Is(err, config.ErrExists):
		ux.Warning(fmt.Sprintf("Config already exists at %s (use --force to overwrite)", configPath))
	case err != nil:
		ux.Error(fmt.Sprintf("Writing config: %v", err))
		os.Exit(1)
	default:
		ux.Success(fmt.Sprintf("Wrote %s", configPath))
	}

	dir, err := config.Dir()
	if err != nil {
		ux.Error(fmt.Sprintf("Resolving config directory: %v", err))
		os.Exit(1)
	}
	fleetPath := filepath.Join(dir, "fleet.yaml")
	if _, err := os.Stat(fleetPath); err == nil && !initForce {
		ux.Warning(fmt.Sprintf("Fleet file already exists at %s (use --force to overwrite)", fleetPath))
	} else {
		if err := os.WriteFile(fleetPath, []byte(exampleFleetYAML), 0644); err != nil {
			ux.Error(fmt.Sprintf("Writing fleet file: %v", err))
			os.Exit(1)
		}
		ux.Success(fmt.Sprintf("Wrote %s", fleetPath))
	}

	ux.Info("Edit the fleet file, then start the daemon:")
	ux.Muted("  harbormaster watch --fleet " + fleetPath)
	ux.Muted("  harbormaster check            # one-shot pre-flight")
	ux.Muted("  harbormaster status           # query the running daemon")
}
