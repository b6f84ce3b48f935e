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

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"

	"github.com/AleutianAI/Harbormaster/cmd/harbormaster/config"
)

// influxMirror copies metric samples into an InfluxDB bucket so the
// appliance's existing dashboards can graph watchdog data. It is a
// best-effort mirror; the store logs and swallows write failures.
type influxMirror struct {
	client   influxdb2.Client
	writeAPI api.WriteAPIBlocking
	secret   *config.Secret
}

// newInfluxMirror connects the mirror. The token stays in locked
// memory for the life of the process.
func newInfluxMirror(cfg config.InfluxConfig) (*influxMirror, error) {
	secret, err := cfg.Token()
	if err != nil {
		return nil, fmt.Errorf("resolve influx token: %w", err)
	}
	client := influxdb2.NewClient(cfg.URL, secret.Reveal())
	return &influxMirror{
		client:   client,
		writeAPI: client.WriteAPIBlocking(cfg.Org, cfg.Bucket),
		secret:   secret,
	}, nil
}

// WriteSample implements SampleMirror.
func (m *influxMirror) WriteSample(ctx context.Context, sample MetricSample) error {
	p := influxdb2.NewPoint(
		"harbormaster_"+sample.Type,
		map[string]string{"subject": sample.Subject},
		map[string]interface{}{"value": sample.Value},
		sample.Timestamp,
	)
	return m.writeAPI.WritePoint(ctx, p)
}

// Close implements SampleMirror.
func (m *influxMirror) Close() {
	m.client.Close()
	m.secret.Destroy()
}

var _ SampleMirror = (*influxMirror)(nil)
