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
	"github.com/AleutianAI/Harbormaster/pkg/ux"
	"github.com/spf13/cobra"
)

// --- Global Command Variables ---
var (
	personalityLevel string // UX personality level (full/standard/minimal/machine)
	serverAddr       string // Base URL of a running watch daemon
	fleetFile        string // Fleet definition override
	listenAddr       string // Status server listen override
	debugMode        bool
	jsonOutput       bool
	checkVerbose     bool
	checkCategory    string
	listLimit        int
	topInterval      string
	initForce        bool

	rootCmd = &cobra.Command{
		Use:   "harbormaster",
		Short: "A cli to monitor and auto-recover the Aleutian FOSS private AI appliance",
		Long: `Harbormaster watches the Aleutian appliance: it probes services,
				tracks host resources, restarts what it can within a bounded
				budget, and keeps an alert and incident history you can query.`,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			// Initialize UX personality from flag or environment
			if personalityLevel != "" {
				ux.SetPersonalityLevel(ux.ParsePersonalityLevel(personalityLevel))
			} else {
				ux.InitPersonality()
			}
		},
	}

	// --- Daemon ---
	watchCmd = &cobra.Command{
		Use:   "watch",
		Short: "Run the monitoring daemon in the foreground",
		Run:   runWatch, // Defined in cmd_watch.go
	}

	// --- One-shot health check ---
	checkCmd = &cobra.Command{
		Use:   "check",
		Short: "Run a one-shot health check of the appliance",
		Long: `Checks disk, memory, ports, processes, service endpoints, the
				vector database, and API authentication. Exits 0 only when
				every check passes, so it works in scripts and cron.`,
		Run: runCheck, // Defined in cmd_check.go
	}

	// --- Daemon queries ---
	statusCmd = &cobra.Command{
		Use:   "status",
		Short: "Show the current status snapshot from a running daemon",
		Run:   runStatus, // Defined in cmd_status.go
	}
	alertsCmd = &cobra.Command{
		Use:   "alerts",
		Short: "List recent alerts from a running daemon",
		Run:   runAlerts, // Defined in cmd_alerts.go
	}
	incidentsCmd = &cobra.Command{
		Use:   "incidents",
		Short: "List recent recovery incidents from a running daemon",
		Run:   runIncidents, // Defined in cmd_alerts.go
	}
	reportCmd = &cobra.Command{
		Use:   "report",
		Short: "Build and print a health report for the last 24 hours",
		Run:   runReport, // Defined in cmd_report.go
	}
	topCmd = &cobra.Command{
		Use:   "top",
		Short: "Live dashboard of service health and host resources",
		Run:   runTop, // Defined in cmd_top.go
	}

	// --- Recovery administration ---
	recoveryCmd = &cobra.Command{
		Use:   "recovery",
		Short: "Inspect and administer automatic recovery",
	}
	recoveryResetCmd = &cobra.Command{
		Use:   "reset [service]",
		Short: "Clear a service's restart budget after manual intervention",
		Args:  cobra.ExactArgs(1),
		Run:   runRecoveryReset, // Defined in cmd_status.go
	}

	// --- Setup ---
	initCmd = &cobra.Command{
		Use:   "init",
		Short: "Write the default configuration and an example fleet file",
		Run:   runInit, // Defined in cmd_init.go
	}

	versionCmd = &cobra.Command{
		Use:   "version",
		Short: "Print the harbormaster version",
		Run:   runVersion, // Defined in main.go
	}
)

// init runs when the Go program starts
func init() {
	// Global UX personality flag
	rootCmd.PersistentFlags().StringVar(&personalityLevel, "personality", "",
		"Output style: full (default, rich nautical), standard, minimal, or machine (scripting)")

	rootCmd.AddCommand(watchCmd)
	watchCmd.Flags().StringVar(&fleetFile, "fleet", "", "Fleet definition file (overrides config)")
	watchCmd.Flags().StringVar(&listenAddr, "listen", "", "Status server address (overrides config)")
	watchCmd.Flags().BoolVar(&debugMode, "debug", false, "Verbose logging and request logs")

	rootCmd.AddCommand(checkCmd)
	checkCmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON for scripting")
	checkCmd.Flags().BoolVarP(&checkVerbose, "verbose", "v", false, "Show every check, not just failures")
	checkCmd.Flags().StringVar(&checkCategory, "category", "",
		"Run a single category: disk, memory, ports, processes, endpoints, database, auth")
	checkCmd.Flags().StringVar(&fleetFile, "fleet", "", "Fleet definition file (overrides config)")

	rootCmd.AddCommand(statusCmd)
	statusCmd.Flags().StringVar(&serverAddr, "server", defaultServerBase, "Daemon base URL")
	statusCmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON for scripting")

	rootCmd.AddCommand(alertsCmd)
	alertsCmd.Flags().StringVar(&serverAddr, "server", defaultServerBase, "Daemon base URL")
	alertsCmd.Flags().IntVar(&listLimit, "limit", 20, "Maximum entries to show")
	alertsCmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON for scripting")

	rootCmd.AddCommand(incidentsCmd)
	incidentsCmd.Flags().StringVar(&serverAddr, "server", defaultServerBase, "Daemon base URL")
	incidentsCmd.Flags().IntVar(&listLimit, "limit", 20, "Maximum entries to show")
	incidentsCmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON for scripting")

	rootCmd.AddCommand(reportCmd)
	reportCmd.Flags().StringVar(&serverAddr, "server", defaultServerBase, "Daemon base URL")
	reportCmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON for scripting")

	rootCmd.AddCommand(topCmd)
	topCmd.Flags().StringVar(&serverAddr, "server", defaultServerBase, "Daemon base URL")
	topCmd.Flags().StringVar(&topInterval, "interval", "2s", "Refresh interval")

	rootCmd.AddCommand(recoveryCmd)
	recoveryCmd.AddCommand(recoveryResetCmd)
	recoveryResetCmd.Flags().StringVar(&serverAddr, "server", defaultServerBase, "Daemon base URL")

	rootCmd.AddCommand(initCmd)
	initCmd.Flags().BoolVar(&initForce, "force", false, "Overwrite existing files")

	rootCmd.AddCommand(versionCmd)
}
