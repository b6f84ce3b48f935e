// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package probe

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"
)

// DefaultHTTPTimeout bounds a single HTTP probe when the caller's
// context carries no earlier deadline.
const DefaultHTTPTimeout = 5 * time.Second

// maxProbeBody caps how much of a health response is retained in the
// Result. Health endpoints return small JSON; anything larger is
// truncated, not an error.
const maxProbeBody = 4 << 10

// HTTPClient abstracts the HTTP transport so probes can be tested with
// canned responses.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// HTTPProber checks a health endpoint with a GET request. Any 2xx or
// 3xx status is healthy; other statuses, timeouts, and connection
// failures are unhealthy results rather than errors.
type HTTPProber struct {
	client  HTTPClient
	timeout time.Duration
}

// NewHTTPProber creates an HTTPProber with a keep-alive-free client.
// A non-positive timeout falls back to DefaultHTTPTimeout.
func NewHTTPProber(timeout time.Duration) *HTTPProber {
	if timeout <= 0 {
		timeout = DefaultHTTPTimeout
	}
	return &HTTPProber{
		timeout: timeout,
		client: &http.Client{
			Timeout: timeout,
			Transport: &http.Transport{
				DisableKeepAlives: true,
			},
		},
	}
}

// NewHTTPProberWithClient creates an HTTPProber with an injected
// client, primarily for tests.
func NewHTTPProberWithClient(timeout time.Duration, client HTTPClient) *HTTPProber {
	if timeout <= 0 {
		timeout = DefaultHTTPTimeout
	}
	return &HTTPProber{timeout: timeout, client: client}
}

// Probe sends GET rawURL and classifies the response. The returned
// error is non-nil only when the probe could not be attempted at all
// (empty or blocked URL, request construction failure).
func (p *HTTPProber) Probe(ctx context.Context, rawURL string) (Result, error) {
	result := Result{CheckedAt: time.Now()}
	if rawURL == "" {
		return result, fmt.Errorf("no URL configured for HTTP probe")
	}
	if err := ValidateURL(rawURL); err != nil {
		return result, err
	}

	probeCtx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(probeCtx, http.MethodGet, rawURL, nil)
	if err != nil {
		return result, fmt.Errorf("build request: %w", err)
	}

	start := time.Now()
	resp, err := p.client.Do(req)
	result.Latency = time.Since(start)
	if err != nil {
		result.Detail = fmt.Sprintf("request failed: %v", err)
		return result, nil
	}
	defer resp.Body.Close()

	result.HTTPStatus = resp.StatusCode
	result.Detail = fmt.Sprintf("HTTP %d", resp.StatusCode)
	if resp.StatusCode >= 200 && resp.StatusCode < 400 {
		result.Healthy = true
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxProbeBody))
	if err == nil {
		result.Body = body
	}
	return result, nil
}
