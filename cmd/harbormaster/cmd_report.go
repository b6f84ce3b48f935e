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
	"sort"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/Harbormaster/pkg/ux"
)

// ============================================================================
// report: on-demand daily report
// ============================================================================

// reportTimeout allows for the optional model-written summary, which
// is much slower than the rest of the report.
const reportTimeout = 2 * time.Minute

func runReport(cmd *cobra.Command, args []string) {
	ctx, cancel := context.WithTimeout(context.Background(), reportTimeout)
	defer cancel()

	var report DailyReport
	if err := apiGet(ctx, "/api/report", &report); err != nil {
		ux.Error(err.Error())
		os.Exit(1)
	}
	if jsonOutput {
		printJSON(report)
		return
	}
	renderReport(report)
}

func renderReport(report DailyReport) {
	header := fmt.Sprintf("Daily report %s", report.Date)
	if report.Host != "" {
		header += " — " + report.Host
	}
	ux.Title(header)

	for _, svc := range report.Services {
		ux.ServiceStatus(svc.Name, healthIcon(svc), healthDetail(svc))
	}

	ux.Title("Alerts")
	if report.Alerts.Total == 0 {
		ux.Success("No alerts in the last 24h")
	} else {
		parts := make([]string, 0, 3)
		for _, sev := range []Severity{SeverityCritical, SeverityWarning, SeverityInfo} {
			if n := report.Alerts.BySeverity[sev]; n > 0 {
				parts = append(parts, fmt.Sprintf("%d %s", n, sev))
			}
		}
		ux.Info(fmt.Sprintf("%d total (%s)", report.Alerts.Total, strings.Join(parts, ", ")))
		types := make([]string, 0, len(report.Alerts.ByType))
		for typ := range report.Alerts.ByType {
			types = append(types, string(typ))
		}
		sort.Strings(types)
		for _, typ := range types {
			ux.Muted(fmt.Sprintf("  %s: %d", typ, report.Alerts.ByType[AlertType(typ)]))
		}
	}

	if len(report.Incidents) > 0 {
		ux.Title("Recovery incidents")
		for _, inc := range report.Incidents {
			icon := ux.IconSuccess
			if inc.Outcome != OutcomeSuccess {
				icon = ux.IconError
			}
			stamp := inc.Timestamp.Local().Format("15:04:05")
			ux.ServiceStatus(fmt.Sprintf("%s %s", stamp, inc.Subject), icon,
				fmt.Sprintf("%s: %s", inc.Action, inc.Outcome))
		}
	}

	if len(report.Resources) > 0 {
		ux.Title("Resources (24h)")
		subjects := make([]string, 0, len(report.Resources))
		for subject := range report.Resources {
			subjects = append(subjects, subject)
		}
		sort.Strings(subjects)
		for _, subject := range subjects {
			agg := report.Resources[subject]
			ux.Info(fmt.Sprintf("%-8s mean %.1f  p99 %.1f  max %.1f  (%d samples)",
				subject, agg.Mean, agg.P99, agg.Max, agg.Count))
		}
	}

	if report.Summary != "" {
		ux.Box("Summary", report.Summary)
	}
	ux.Muted(fmt.Sprintf("generated %s", report.GeneratedAt.Local().Format(time.RFC3339)))
}
