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
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"github.com/AleutianAI/Harbormaster/cmd/harbormaster/internal/telemetry"
	"github.com/AleutianAI/Harbormaster/pkg/logging"
)

// ============================================================================
// Status Server
// ============================================================================
//
// # Description
//
// The status server is the daemon's read-side API: snapshot, alert and
// incident history, metric windows, an on-demand report, and a
// websocket that streams alerts as they fire. It is read-only except
// for the recovery reset endpoint, which clears a service's restart
// window after manual intervention.
//
// Handlers only call accessors that are safe for concurrent use; the
// server never touches dispatch-owned state directly.

const (
	defaultListLimit    = 50
	defaultSampleLimit  = 60
	defaultWindowHours  = 24
	serverHeaderTimeout = 10 * time.Second
)

var upgrader = websocket.Upgrader{
	// The daemon binds to localhost; the dashboard is served from file://
	// or another local port, so origin checks add nothing here.
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// StatusServerConfig wires the server to the daemon's components.
type StatusServerConfig struct {
	Addr         string
	Orchestrator *Orchestrator
	Alerts       *AlertManager
	Recovery     *RecoveryManager
	Store        *MetricsStore
	Reporter     *ReportBuilder
	Logger       *logging.Logger
	Debug        bool
}

// StatusServer serves the HTTP API for one running daemon.
type StatusServer struct {
	orch     *Orchestrator
	alerts   *AlertManager
	recovery *RecoveryManager
	store    *MetricsStore
	reporter *ReportBuilder
	logger   *logging.Logger

	srv *http.Server
}

// NewStatusServer builds the server and its routes. Call Start to begin
// serving.
func NewStatusServer(cfg StatusServerConfig) *StatusServer {
	if cfg.Logger == nil {
		cfg.Logger = logging.Default()
	}
	if !cfg.Debug {
		gin.SetMode(gin.ReleaseMode)
	}

	s := &StatusServer{
		orch:     cfg.Orchestrator,
		alerts:   cfg.Alerts,
		recovery: cfg.Recovery,
		store:    cfg.Store,
		reporter: cfg.Reporter,
		logger:   cfg.Logger,
	}

	router := gin.New()
	router.Use(gin.Recovery())
	if cfg.Debug {
		router.Use(gin.Logger())
	}
	router.Use(otelgin.Middleware("harbormaster"))
	s.registerRoutes(router)

	s.srv = &http.Server{
		Addr:              cfg.Addr,
		Handler:           router,
		ReadHeaderTimeout: serverHeaderTimeout,
	}
	return s
}

func (s *StatusServer) registerRoutes(router *gin.Engine) {
	router.GET("/healthz", s.handleHealthz)

	api := router.Group("/api")
	{
		api.GET("/status", s.handleStatus)
		api.GET("/alerts", s.handleAlerts)
		api.GET("/incidents", s.handleIncidents)
		api.GET("/metrics/:type", s.handleMetrics)
		api.GET("/report", s.handleReport)
		api.POST("/recovery/:service/reset", s.handleRecoveryReset)
	}

	router.GET("/ws/events", s.handleEventsWS)

	// Prometheus scrape endpoint, present only when the prometheus
	// metric exporter is enabled.
	if h := telemetry.MetricsHandler(); h != nil {
		router.GET("/metrics", gin.WrapH(h))
	}
}

// Start begins serving in a background goroutine.
func (s *StatusServer) Start() {
	go func() {
		s.logger.Info("status server listening", "addr", s.srv.Addr)
		if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("status server failed", "error", err)
		}
	}()
}

// Shutdown stops the server, waiting for in-flight requests up to the
// context deadline.
func (s *StatusServer) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}

// ----------------------------------------------------------------------------
// Handlers
// ----------------------------------------------------------------------------

func (s *StatusServer) handleHealthz(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *StatusServer) handleStatus(c *gin.Context) {
	c.JSON(http.StatusOK, s.orch.Status())
}

func (s *StatusServer) handleAlerts(c *gin.Context) {
	limit := queryInt(c, "limit", defaultListLimit)
	c.JSON(http.StatusOK, gin.H{"alerts": s.alerts.Alerts(limit)})
}

func (s *StatusServer) handleIncidents(c *gin.Context) {
	limit := queryInt(c, "limit", defaultListLimit)
	c.JSON(http.StatusOK, gin.H{"incidents": s.recovery.Incidents(limit)})
}

// handleMetrics serves either raw samples (?subject=) or an aggregate
// over a window (?hours=).
func (s *StatusServer) handleMetrics(c *gin.Context) {
	metricType := c.Param("type")

	if subject := c.Query("subject"); subject != "" {
		limit := queryInt(c, "limit", defaultSampleLimit)
		c.JSON(http.StatusOK, gin.H{
			"type":    metricType,
			"subject": subject,
			"samples": s.store.GetRecent(metricType, subject, limit),
		})
		return
	}

	hours := queryInt(c, "hours", defaultWindowHours)
	subjects := s.store.Subjects(metricType)
	bySubject := make(map[string]Aggregate, len(subjects))
	for _, subject := range subjects {
		bySubject[subject] = s.store.GetAggregatedSubject(metricType, subject, hours)
	}
	c.JSON(http.StatusOK, gin.H{
		"type":      metricType,
		"hours":     hours,
		"aggregate": s.store.GetAggregated(metricType, hours),
		"subjects":  bySubject,
	})
}

// handleReport builds a report over the trailing window on demand. The
// scheduled daily report uses the same builder.
func (s *StatusServer) handleReport(c *gin.Context) {
	c.JSON(http.StatusOK, s.reporter.Build(c.Request.Context()))
}

// handleRecoveryReset clears a service's restart window. Used after an
// operator fixes the underlying fault by hand.
func (s *StatusServer) handleRecoveryReset(c *gin.Context) {
	service := c.Param("service")
	s.recovery.Reset(service)
	s.logger.Info("recovery window reset", "service", service)
	c.JSON(http.StatusOK, gin.H{"status": "reset", "service": service})
}

// ----------------------------------------------------------------------------
// Websocket event stream
// ----------------------------------------------------------------------------

func sendJSON(ws *websocket.Conn, v interface{}) error {
	err := ws.WriteJSON(v)
	if err != nil {
		// Client went away mid-write; the read loop will notice too.
		return err
	}
	return nil
}

// handleEventsWS streams alerts to a connected client. On connect the
// client receives its session ID and the current snapshot, then one
// message per alert until it disconnects.
func (s *StatusServer) handleEventsWS(c *gin.Context) {
	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.logger.Error("websocket upgrade failed", "error", err)
		return
	}
	defer ws.Close()

	sessionID := uuid.New().String()
	s.logger.Info("websocket client connected", "sessionID", sessionID)

	subID, alertCh := s.alerts.Subscribe()
	defer s.alerts.Unsubscribe(subID)

	if err := sendJSON(ws, gin.H{
		"action":    "session_created",
		"sessionId": sessionID,
	}); err != nil {
		return
	}
	if err := sendJSON(ws, gin.H{
		"action": "snapshot",
		"status": s.orch.Status(),
	}); err != nil {
		return
	}

	// Reader goroutine: the only reliable disconnect signal is a failed
	// read.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := ws.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-done:
			s.logger.Info("websocket client disconnected", "sessionID", sessionID)
			return
		case alert, ok := <-alertCh:
			if !ok {
				return
			}
			if err := sendJSON(ws, gin.H{
				"action": "alert",
				"alert":  alert,
			}); err != nil {
				s.logger.Warn("websocket write failed", "sessionID", sessionID, "error", err)
				return
			}
		}
	}
}

// queryInt parses an integer query parameter with a fallback.
func queryInt(c *gin.Context, key string, fallback int) int {
	raw := c.Query(key)
	if raw == "" {
		return fallback
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return fallback
	}
	return n
}
