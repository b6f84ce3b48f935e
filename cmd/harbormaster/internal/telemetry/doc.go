// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package telemetry initializes the OpenTelemetry stack for the
// Harbormaster daemon.
//
// Init wires a TracerProvider and MeterProvider into the otel globals
// so instrumented code (the database monitor's probe spans, the status
// server's request middleware) exports without holding provider
// references. The Prometheus exporter path also feeds the /metrics
// endpoint; retrieve its handler with MetricsHandler.
//
// # Thread Safety
//
// Call Init once at daemon startup. MetricsHandler is safe for
// concurrent use afterwards.
package telemetry
