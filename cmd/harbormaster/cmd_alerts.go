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
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/Harbormaster/pkg/ux"
)

// ============================================================================
// alerts, incidents: recent history from the daemon
// ============================================================================
//
// Both commands page the daemon's in-memory rings (newest first) over
// the same API client cmd_status.go wires up.

func runAlerts(cmd *cobra.Command, args []string) {
	ctx, cancel := context.WithTimeout(context.Background(), apiTimeout)
	defer cancel()

	var alerts []Alert
	path := fmt.Sprintf("/api/alerts?limit=%d", listLimit)
	if err := apiGet(ctx, path, &alerts); err != nil {
		ux.Error(err.Error())
		os.Exit(1)
	}
	if jsonOutput {
		printJSON(alerts)
		return
	}
	if len(alerts) == 0 {
		ux.Success("No alerts")
		return
	}
	ux.Title(fmt.Sprintf("Alerts (%d most recent)", len(alerts)))
	for _, a := range alerts {
		stamp := a.Timestamp.Local().Format("Jan 02 15:04:05")
		name := fmt.Sprintf("%s  [%s] %s", stamp, a.Type, a.Subject)
		ux.ServiceStatus(name, severityIcon(a.Severity), a.Message)
	}
}

func runIncidents(cmd *cobra.Command, args []string) {
	ctx, cancel := context.WithTimeout(context.Background(), apiTimeout)
	defer cancel()

	var incidents []Incident
	path := fmt.Sprintf("/api/incidents?limit=%d", listLimit)
	if err := apiGet(ctx, path, &incidents); err != nil {
		ux.Error(err.Error())
		os.Exit(1)
	}
	if jsonOutput {
		printJSON(incidents)
		return
	}
	if len(incidents) == 0 {
		ux.Success("No recovery incidents")
		return
	}
	ux.Title(fmt.Sprintf("Incidents (%d most recent)", len(incidents)))
	for _, inc := range incidents {
		icon := ux.IconSuccess
		if inc.Outcome != OutcomeSuccess {
			icon = ux.IconError
		}
		stamp := inc.Timestamp.Local().Format("Jan 02 15:04:05")
		name := fmt.Sprintf("%s  %s", stamp, inc.Subject)
		ux.ServiceStatus(name, icon, fmt.Sprintf("%s: %s", inc.Action, inc.Outcome))
	}
}
