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
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/Harbormaster/pkg/ux"
)

// ============================================================================
// status, recovery reset: querying the daemon
// ============================================================================
//
// The API client helpers here are shared by every command that talks
// to a running daemon (alerts, incidents, report, top).

// defaultServerBase matches the daemon's default listen address.
const defaultServerBase = "http://localhost:12230"

const apiTimeout = 10 * time.Second

// apiClient carries no timeout of its own; every command wraps its
// context with a deadline suited to the endpoint (reports wait on the
// summarizer, everything else uses apiTimeout).
var apiClient = &http.Client{}

// apiGet fetches a daemon endpoint and decodes the JSON body into out.
func apiGet(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, serverAddr+path, nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	resp, err := apiClient.Do(req)
	if err != nil {
		return fmt.Errorf("cannot reach %s (is 'harbormaster watch' running?): %w", serverAddr, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("daemon returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// apiPost sends a body-less POST and decodes the JSON response into out.
func apiPost(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, serverAddr+path, nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	resp, err := apiClient.Do(req)
	if err != nil {
		return fmt.Errorf("cannot reach %s (is 'harbormaster watch' running?): %w", serverAddr, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("daemon returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// printJSON writes v to stdout, indented, for --json consumers.
func printJSON(v any) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		ux.Error(fmt.Sprintf("Encoding output: %v", err))
		os.Exit(1)
	}
}

func runStatus(cmd *cobra.Command, args []string) {
	ctx, cancel := context.WithTimeout(context.Background(), apiTimeout)
	defer cancel()

	var snap StatusSnapshot
	if err := apiGet(ctx, "/api/status", &snap); err != nil {
		ux.Error(err.Error())
		os.Exit(1)
	}
	if jsonOutput {
		printJSON(snap)
		return
	}
	renderSnapshot(snap)
}

func renderSnapshot(snap StatusSnapshot) {
	ux.Title("Fleet")
	names := make([]string, 0, len(snap.Services))
	for name := range snap.Services {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		svc := snap.Services[name]
		ux.ServiceStatus(name, healthIcon(svc), healthDetail(svc))
	}

	if len(snap.Subsystems) > 0 {
		ux.Title("Subsystems")
		keys := make([]string, 0, len(snap.Subsystems))
		for key := range snap.Subsystems {
			keys = append(keys, key)
		}
		sort.Strings(keys)
		for _, key := range keys {
			obs := snap.Subsystems[key]
			icon := ux.IconSuccess
			if !obs.Healthy {
				icon = severityIcon(obs.Severity)
			}
			ux.ServiceStatus(key, icon, obs.Message)
		}
	}
	ux.Muted(fmt.Sprintf("as of %s", snap.GeneratedAt.Local().Format(time.RFC3339)))
}

// healthIcon picks the marker for a service row. Recovery states win
// over the plain healthy bit so an in-flight restart is visible.
func healthIcon(svc ServiceHealth) ux.Icon {
	switch svc.State {
	case StateRecovering:
		return ux.IconRecovery
	case StateExhausted:
		return ux.IconError
	}
	if svc.Healthy {
		return ux.IconSuccess
	}
	return ux.IconError
}

func healthDetail(svc ServiceHealth) string {
	if svc.LastChecked.IsZero() {
		return "not checked yet"
	}
	switch svc.State {
	case StateRecovering:
		return fmt.Sprintf("restarting (uptime %.1f%%)", svc.Uptime)
	case StateExhausted:
		return fmt.Sprintf("recovery exhausted: %s", svc.Detail)
	}
	if svc.Healthy {
		return fmt.Sprintf("uptime %.1f%%, %dms", svc.Uptime, svc.Latency.Milliseconds())
	}
	detail := svc.Detail
	if detail == "" {
		detail = "unhealthy"
	}
	if svc.Failures > 1 {
		detail = fmt.Sprintf("%s (%d consecutive failures)", detail, svc.Failures)
	}
	return detail
}

func severityIcon(sev Severity) ux.Icon {
	switch sev {
	case SeverityCritical:
		return ux.IconError
	case SeverityWarning:
		return ux.IconWarning
	default:
		return ux.IconBullet
	}
}

func runRecoveryReset(cmd *cobra.Command, args []string) {
	service := args[0]
	ctx, cancel := context.WithTimeout(context.Background(), apiTimeout)
	defer cancel()

	path := "/api/recovery/" + url.PathEscape(service) + "/reset"
	if err := apiPost(ctx, path, nil); err != nil {
		ux.Error(err.Error())
		os.Exit(1)
	}
	ux.Success(fmt.Sprintf("Recovery window for %s cleared", service))
}
