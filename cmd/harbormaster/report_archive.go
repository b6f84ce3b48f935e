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
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"cloud.google.com/go/storage"
	"google.golang.org/api/option"
)

// ReportArchiver ships daily reports to long-term storage.
type ReportArchiver interface {
	ArchiveReport(ctx context.Context, report *DailyReport) error
	Close() error
}

// GCSArchiver uploads reports to a Cloud Storage bucket as
// reports/<date>.json.
type GCSArchiver struct {
	client *storage.Client
	bucket string
}

// NewGCSArchiver builds an archiver. saKeyPath may be empty to use
// ambient credentials.
func NewGCSArchiver(ctx context.Context, bucket, saKeyPath string) (*GCSArchiver, error) {
	var opts []option.ClientOption
	if saKeyPath != "" {
		if _, err := os.Stat(saKeyPath); os.IsNotExist(err) {
			return nil, fmt.Errorf("service account key not found at %s", saKeyPath)
		}
		opts = append(opts, option.WithCredentialsFile(saKeyPath))
	}

	client, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("create storage client: %w", err)
	}
	return &GCSArchiver{client: client, bucket: bucket}, nil
}

// ArchiveReport implements ReportArchiver.
func (a *GCSArchiver) ArchiveReport(ctx context.Context, report *DailyReport) error {
	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return fmt.Errorf("encode report: %w", err)
	}

	objectPath := fmt.Sprintf("reports/%s.json", report.Date)
	writer := a.client.Bucket(a.bucket).Object(objectPath).NewWriter(ctx)
	writer.ContentType = "application/json"
	writer.CacheControl = "no-cache, no-store, must-revalidate"

	if _, err := io.Copy(writer, bytes.NewReader(data)); err != nil {
		writer.Close()
		return fmt.Errorf("write gs://%s/%s: %w", a.bucket, objectPath, err)
	}
	if err := writer.Close(); err != nil {
		return fmt.Errorf("close gs://%s/%s: %w", a.bucket, objectPath, err)
	}
	return nil
}

// Close releases the storage client.
func (a *GCSArchiver) Close() error {
	return a.client.Close()
}

var _ ReportArchiver = (*GCSArchiver)(nil)
