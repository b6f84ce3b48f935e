// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package util provides foundational utilities for the Harbormaster CLI.
//
// This package contains low-level utilities that have no dependencies on
// other internal packages. All utilities depend only on the Go standard
// library, making this a leaf package in the dependency graph.
//
// # Overview
//
//   - Ring Buffer: Thread-safe bounded buffer backing the alert and
//     incident histories and the per-service metric windows
//   - Goroutine Safety: Panic recovery for background goroutines
//
// # Thread Safety
//
// All types in this package are safe for concurrent use from multiple
// goroutines unless their documentation explicitly states otherwise.
package util
