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

	tea "github.com/charmbracelet/bubbletea"
	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"github.com/AleutianAI/Harbormaster/pkg/ux"
)

// ============================================================================
// top: live fleet dashboard
// ============================================================================
//
// # Description
//
// Full-screen dashboard that polls the watch daemon's status endpoint
// and re-renders on an interval. Falls back to the one-shot status view
// when stdout is not a terminal, so `harbormaster top | tee` and cron
// captures still produce usable output.

// topModel is the bubbletea model for the dashboard.
type topModel struct {
	snapshot StatusSnapshot
	err      error
	fetched  bool
	interval time.Duration
	width    int
}

// topTickMsg fires the next refresh.
type topTickMsg time.Time

// topSnapshotMsg carries one poll result.
type topSnapshotMsg struct {
	snap StatusSnapshot
	err  error
}

func fetchSnapshot() tea.Msg {
	ctx, cancel := context.WithTimeout(context.Background(), apiTimeout)
	defer cancel()
	var snap StatusSnapshot
	err := apiGet(ctx, "/api/status", &snap)
	return topSnapshotMsg{snap: snap, err: err}
}

func topTick(interval time.Duration) tea.Cmd {
	return tea.Tick(interval, func(t time.Time) tea.Msg {
		return topTickMsg(t)
	})
}

// Init starts the first fetch and the refresh timer.
func (m topModel) Init() tea.Cmd {
	return tea.Batch(fetchSnapshot, topTick(m.interval))
}

// Update handles key presses, window resizes, ticks, and poll results.
func (m topModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "esc", "ctrl+c":
			return m, tea.Quit
		case "r":
			return m, fetchSnapshot
		}
	case tea.WindowSizeMsg:
		m.width = msg.Width
	case topSnapshotMsg:
		m.snapshot = msg.snap
		m.err = msg.err
		m.fetched = true
	case topTickMsg:
		return m, tea.Batch(fetchSnapshot, topTick(m.interval))
	}
	return m, nil
}

// View renders the dashboard.
func (m topModel) View() string {
	var b strings.Builder
	b.WriteString(ux.Styles.Title.Render(string(ux.IconAnchor) + " harbormaster"))
	b.WriteString("\n\n")

	switch {
	case m.err != nil:
		b.WriteString(ux.Styles.Error.Render(m.err.Error()))
		b.WriteString("\n")
	case !m.fetched:
		b.WriteString(ux.Styles.Muted.Render("connecting..."))
		b.WriteString("\n")
	default:
		m.renderServices(&b)
		m.renderSubsystems(&b)
		b.WriteString("\n")
		b.WriteString(ux.Styles.Muted.Render(
			fmt.Sprintf("as of %s", m.snapshot.GeneratedAt.Local().Format("15:04:05"))))
		b.WriteString("\n")
	}

	b.WriteString("\n")
	b.WriteString(ux.Styles.Muted.Render(
		fmt.Sprintf("q quit · r refresh · polling every %s", m.interval)))
	b.WriteString("\n")
	return b.String()
}

func (m topModel) renderServices(b *strings.Builder) {
	names := make([]string, 0, len(m.snapshot.Services))
	for name := range m.snapshot.Services {
		names = append(names, name)
	}
	sort.Strings(names)

	b.WriteString(ux.Styles.Bold.Render(fmt.Sprintf("%-2s %-16s %-20s %8s %8s %6s",
		"", "SERVICE", "STATE", "UPTIME", "LATENCY", "FAILS")))
	b.WriteString("\n")
	for _, name := range names {
		svc := m.snapshot.Services[name]
		row := fmt.Sprintf("%s %-16s %-20s %7.1f%% %6dms %6d",
			healthIcon(svc).Render(), name, svc.State,
			svc.Uptime, svc.Latency.Milliseconds(), svc.Failures)
		b.WriteString(row)
		b.WriteString("\n")
	}
}

func (m topModel) renderSubsystems(b *strings.Builder) {
	if len(m.snapshot.Subsystems) == 0 {
		return
	}
	keys := make([]string, 0, len(m.snapshot.Subsystems))
	for key := range m.snapshot.Subsystems {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	b.WriteString("\n")
	b.WriteString(ux.Styles.Bold.Render("SUBSYSTEMS"))
	b.WriteString("\n")
	for _, key := range keys {
		obs := m.snapshot.Subsystems[key]
		icon := ux.IconSuccess
		if !obs.Healthy {
			icon = severityIcon(obs.Severity)
		}
		message := obs.Message
		if m.width > 0 && len(message) > m.width-30 {
			message = message[:m.width-30] + "…"
		}
		b.WriteString(fmt.Sprintf("%s %-26s %s", icon.Render(), key,
			ux.Styles.Muted.Render(message)))
		b.WriteString("\n")
	}
}

func runTop(cmd *cobra.Command, args []string) {
	interval, err := time.ParseDuration(topInterval)
	if err != nil || interval <= 0 {
		ux.Error(fmt.Sprintf("Invalid refresh interval %q", topInterval))
		os.Exit(1)
	}

	// Pipes and redirects get the one-shot view.
	if !isatty.IsTerminal(os.Stdout.Fd()) && !isatty.IsCygwinTerminal(os.Stdout.Fd()) {
		runStatus(cmd, args)
		return
	}

	p := tea.NewProgram(topModel{interval: interval}, tea.WithAltScreen())
	if _, err := p.Run(); err != nil {
		ux.Error(fmt.Sprintf("Dashboard error: %v", err))
		os.Exit(1)
	}
}
