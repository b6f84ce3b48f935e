// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package probe

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestValidateURL(t *testing.T) {
	tests := []struct {
		name    string
		url     string
		wantErr bool
	}{
		{"localhost", "http://localhost:12210/health", false},
		{"loopback ip", "http://127.0.0.1:8080/", false},
		{"ipv6 loopback", "http://[::1]:8080/", false},
		{"private 192", "http://192.168.1.50:9000/health", false},
		{"private 10", "http://10.0.0.4/", false},
		{"hostname", "http://weaviate:8080/v1/.well-known/ready", false},
		{"cloud metadata", "http://169.254.169.254/latest/meta-data/", true},
		{"link local", "http://169.254.10.20/", true},
		{"no host", "http:///health", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateURL(tt.url)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateURL(%q) = %v, wantErr %v", tt.url, err, tt.wantErr)
			}
		})
	}
}

func TestValidateURL_BlockedErrorIdentity(t *testing.T) {
	err := ValidateURL("http://169.254.169.254/")
	if !errors.Is(err, ErrBlockedURL) {
		t.Errorf("err = %v, want ErrBlockedURL", err)
	}
}

func TestHTTPProber_Healthy(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	p := NewHTTPProber(2 * time.Second)
	result, err := p.Probe(context.Background(), srv.URL)
	if err != nil {
		t.Fatalf("Probe: %v", err)
	}
	if !result.Healthy {
		t.Errorf("result not healthy: %s", result.Detail)
	}
	if result.HTTPStatus != http.StatusOK {
		t.Errorf("HTTPStatus = %d, want 200", result.HTTPStatus)
	}
	if result.Latency <= 0 {
		t.Error("latency not recorded")
	}
}

func TestHTTPProber_CapturesBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"status":"ok","version":"0.9.2"}`)
	}))
	defer srv.Close()

	p := NewHTTPProber(2 * time.Second)
	result, err := p.Probe(context.Background(), srv.URL)
	if err != nil {
		t.Fatalf("Probe: %v", err)
	}
	if !strings.Contains(string(result.Body), `"version":"0.9.2"`) {
		t.Errorf("Body = %q, want version payload", result.Body)
	}
}

func TestHTTPProber_RedirectStatusIsHealthy(t *testing.T) {
	client := &mockHTTPClient{status: http.StatusTemporaryRedirect}
	p := NewHTTPProberWithClient(time.Second, client)
	result, err := p.Probe(context.Background(), "http://localhost:9999/health")
	if err != nil {
		t.Fatalf("Probe: %v", err)
	}
	if !result.Healthy {
		t.Errorf("3xx should be healthy, got %s", result.Detail)
	}
}

func TestHTTPProber_ServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	p := NewHTTPProber(2 * time.Second)
	result, err := p.Probe(context.Background(), srv.URL)
	if err != nil {
		t.Fatalf("Probe: %v", err)
	}
	if result.Healthy {
		t.Error("500 should not be healthy")
	}
	if result.HTTPStatus != http.StatusInternalServerError {
		t.Errorf("HTTPStatus = %d, want 500", result.HTTPStatus)
	}
}

func TestHTTPProber_ConnectionRefusedIsResultNotError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := srv.URL
	srv.Close()

	p := NewHTTPProber(2 * time.Second)
	result, err := p.Probe(context.Background(), url)
	if err != nil {
		t.Fatalf("connection refusal must not be a probe error, got %v", err)
	}
	if result.Healthy {
		t.Error("refused connection should be unhealthy")
	}
}

func TestHTTPProber_TimeoutIsResultNotError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(500 * time.Millisecond)
	}))
	defer srv.Close()

	p := NewHTTPProber(50 * time.Millisecond)
	result, err := p.Probe(context.Background(), srv.URL)
	if err != nil {
		t.Fatalf("timeout must not be a probe error, got %v", err)
	}
	if result.Healthy {
		t.Error("timed-out probe should be unhealthy")
	}
}

func TestHTTPProber_EmptyURL(t *testing.T) {
	p := NewHTTPProber(time.Second)
	if _, err := p.Probe(context.Background(), ""); err == nil {
		t.Error("expected error for empty URL")
	}
}

func TestHTTPProber_BlockedURL(t *testing.T) {
	p := NewHTTPProber(time.Second)
	_, err := p.Probe(context.Background(), "http://169.254.169.254/latest/meta-data/")
	if !errors.Is(err, ErrBlockedURL) {
		t.Errorf("err = %v, want ErrBlockedURL", err)
	}
}

// mockHTTPClient returns a fixed status without a network round trip.
type mockHTTPClient struct {
	status int
	err    error
}

func (m *mockHTTPClient) Do(req *http.Request) (*http.Response, error) {
	if m.err != nil {
		return nil, m.err
	}
	rec := httptest.NewRecorder()
	rec.WriteHeader(m.status)
	return rec.Result(), nil
}

func TestPortProber_OpenPort(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer ln.Close()
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			conn.Close()
		}
	}()

	p := NewPortProber(time.Second)
	result, err := p.Probe(context.Background(), ln.Addr().String())
	if err != nil {
		t.Fatalf("Probe: %v", err)
	}
	if !result.Healthy {
		t.Errorf("open port should be healthy: %s", result.Detail)
	}
}

func TestPortProber_ClosedPortIsResultNotError(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	addr := ln.Addr().String()
	ln.Close()

	p := NewPortProber(time.Second)
	result, err := p.Probe(context.Background(), addr)
	if err != nil {
		t.Fatalf("closed port must not be a probe error, got %v", err)
	}
	if result.Healthy {
		t.Error("closed port should be unhealthy")
	}
}

func TestPortProber_InvalidAddress(t *testing.T) {
	p := NewPortProber(time.Second)
	if _, err := p.Probe(context.Background(), "no-port-here"); err == nil {
		t.Error("expected error for address without port")
	}
}

func TestProcessProber_MatchWithStats(t *testing.T) {
	runner := &MockRunner{
		RunFunc: func(ctx context.Context, name string, args ...string) ([]byte, error) {
			switch name {
			case "pgrep":
				return []byte("4312\n4355\n"), nil
			case "ps":
				return []byte(" 12.5  3.1 86400\n"), nil
			}
			return nil, fmt.Errorf("unexpected command %s", name)
		},
	}

	p := NewProcessProber(runner)
	result, err := p.Probe(context.Background(), "ollama serve")
	if err != nil {
		t.Fatalf("Probe: %v", err)
	}
	if !result.Healthy {
		t.Fatalf("expected healthy, got %s", result.Detail)
	}
	if result.Matches != 2 {
		t.Errorf("Matches = %d, want 2", result.Matches)
	}
	if result.PID != 4312 {
		t.Errorf("PID = %d, want 4312", result.PID)
	}
	if result.CPUPercent != 12.5 || result.MemPercent != 3.1 {
		t.Errorf("stats = %.1f/%.1f, want 12.5/3.1", result.CPUPercent, result.MemPercent)
	}
	if result.Elapsed != 24*time.Hour {
		t.Errorf("Elapsed = %v, want 24h", result.Elapsed)
	}

	calls := runner.Calls()
	if len(calls) != 2 || calls[0].Name != "pgrep" || calls[1].Name != "ps" {
		t.Errorf("unexpected call sequence: %+v", calls)
	}
	if calls[0].Args[0] != "-f" || calls[0].Args[1] != "ollama serve" {
		t.Errorf("pgrep args = %v", calls[0].Args)
	}
}

func TestProcessProber_NoMatchIsResultNotError(t *testing.T) {
	runner := &MockRunner{
		RunFunc: func(ctx context.Context, name string, args ...string) ([]byte, error) {
			return nil, fmt.Errorf("exit status 1")
		},
	}

	p := NewProcessProber(runner)
	result, err := p.Probe(context.Background(), "ghost-process")
	if err != nil {
		t.Fatalf("pgrep miss must not be a probe error, got %v", err)
	}
	if result.Healthy || result.Matches != 0 {
		t.Errorf("result = %+v, want unhealthy with zero matches", result)
	}
}

func TestProcessProber_PsFailureLeavesStatsZero(t *testing.T) {
	runner := &MockRunner{
		RunFunc: func(ctx context.Context, name string, args ...string) ([]byte, error) {
			if name == "pgrep" {
				return []byte("999\n"), nil
			}
			return nil, fmt.Errorf("ps unavailable")
		},
	}

	p := NewProcessProber(runner)
	result, err := p.Probe(context.Background(), "weaviate")
	if err != nil {
		t.Fatalf("Probe: %v", err)
	}
	if !result.Healthy {
		t.Error("process exists, should be healthy despite ps failure")
	}
	if result.CPUPercent != 0 || result.MemPercent != 0 || result.Elapsed != 0 {
		t.Errorf("stats should stay zero on ps failure: %+v", result)
	}
}

func TestProcessProber_EmptyPattern(t *testing.T) {
	p := NewProcessProber(&MockRunner{})
	if _, err := p.Probe(context.Background(), ""); err == nil {
		t.Error("expected error for empty pattern")
	}
}

func TestParsePIDs(t *testing.T) {
	pids := parsePIDs([]byte("100\nnot-a-pid\n  200 \n\n300\n"))
	want := []int{100, 200, 300}
	if len(pids) != len(want) {
		t.Fatalf("pids = %v, want %v", pids, want)
	}
	for i := range want {
		if pids[i] != want[i] {
			t.Errorf("pids[%d] = %d, want %d", i, pids[i], want[i])
		}
	}
}
