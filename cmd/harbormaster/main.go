// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Command harbormaster monitors the Aleutian appliance and recovers it.
//
// Usage:
//
//	harbormaster watch            # run the monitoring daemon
//	harbormaster check            # one-shot health check, exit 0 when clean
//	harbormaster status           # snapshot from a running daemon
//	harbormaster top              # live dashboard
//	harbormaster report           # last 24 hours, summarized
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// version is stamped at build time via -ldflags "-X main.version=...".
var version = "dev"

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func runVersion(cmd *cobra.Command, args []string) {
	fmt.Printf("harbormaster %s\n", version)
}
