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
	"strings"
	"time"

	"github.com/AleutianAI/Harbormaster/pkg/fleet"
	"github.com/AleutianAI/Harbormaster/pkg/probe"
)

// RestartExecutor performs the actual restart of a service. The
// recovery manager decides *whether* to restart; the executor is the
// *how*, and tests substitute their own.
type RestartExecutor interface {
	Restart(ctx context.Context, svc fleet.ServiceDefinition) (output string, err error)
}

// DefaultRestartTimeout bounds one restart command.
const DefaultRestartTimeout = 60 * time.Second

// ComposeRestarter restarts services with podman-compose. Host
// services without a container entry are still attempted by service
// name; the command's failure is recorded in the incident rather than
// special-cased here.
type ComposeRestarter struct {
	runner      probe.CommandRunner
	composeFile string
	timeout     time.Duration
}

// NewComposeRestarter builds a restarter. A nil runner uses the real
// command execution; composeFile may be empty for the default compose
// file lookup.
func NewComposeRestarter(runner probe.CommandRunner, composeFile string) *ComposeRestarter {
	if runner == nil {
		runner = probe.NewExecRunner()
	}
	return &ComposeRestarter{
		runner:      runner,
		composeFile: composeFile,
		timeout:     DefaultRestartTimeout,
	}
}

// Restart implements RestartExecutor.
func (r *ComposeRestarter) Restart(ctx context.Context, svc fleet.ServiceDefinition) (string, error) {
	target := svc.ContainerName
	if target == "" {
		target = svc.Name
	}
	var args []string
	if r.composeFile != "" {
		args = append(args, "-f", r.composeFile)
	}
	args = append(args, "restart", target)

	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	out, err := r.runner.Run(ctx, "podman-compose", args...)
	return strings.TrimSpace(string(out)), err
}

var _ RestartExecutor = (*ComposeRestarter)(nil)
