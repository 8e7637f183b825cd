// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package server

import (
	"log/slog"
	"time"

	"github.com/AleutianAI/AleutianFIFO/services/sim/telemetry"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
)

// RegisterRoutes registers the /fifo endpoints on rg (typically /v1).
//
// Session Endpoints:
//
//	POST   /v1/fifo/sessions            - Create a session
//	GET    /v1/fifo/sessions            - List sessions
//	GET    /v1/fifo/sessions/:id        - Session snapshot
//	DELETE /v1/fifo/sessions/:id        - Delete a session
//	POST   /v1/fifo/sessions/:id/step   - Apply one or more edges
//	POST   /v1/fifo/sessions/:id/pins   - Apply edges through the pin binding
//	POST   /v1/fifo/sessions/:id/reset  - Apply a reset edge
//	POST   /v1/fifo/sessions/:id/clear  - Clear latched error flags
//	GET    /v1/fifo/sessions/:id/watch  - WebSocket event stream
//
// Scenario and Trace Endpoints:
//
//	GET    /v1/fifo/scenarios           - List builtin scenarios
//	POST   /v1/fifo/scenarios/run       - Run a builtin or inline scenario
//	GET    /v1/fifo/runs                - List recorded runs
//	GET    /v1/fifo/runs/:id            - Records of one run
//	DELETE /v1/fifo/runs/:id            - Delete a run
//
// Health:
//
//	GET    /v1/fifo/health
func RegisterRoutes(rg *gin.RouterGroup, handlers *Handlers) {
	f := rg.Group("/fifo")
	{
		sessions := f.Group("/sessions")
		{
			sessions.POST("", handlers.HandleCreateSession)
			sessions.GET("", handlers.HandleListSessions)
			sessions.GET("/:id", handlers.HandleGetSession)
			sessions.DELETE("/:id", handlers.HandleDeleteSession)
			sessions.POST("/:id/step", handlers.HandleStep)
			sessions.POST("/:id/pins", handlers.HandlePins)
			sessions.POST("/:id/reset", handlers.HandleReset)
			sessions.POST("/:id/clear", handlers.HandleClear)
			sessions.GET("/:id/watch", handlers.HandleWatch)
		}

		f.GET("/scenarios", handlers.HandleListScenarios)
		f.POST("/scenarios/run", handlers.HandleRunScenario)

		f.GET("/runs", handlers.HandleListRuns)
		f.GET("/runs/:id", handlers.HandleGetRun)
		f.DELETE("/runs/:id", handlers.HandleDeleteRun)

		f.GET("/health", handlers.HandleHealth)
	}
}

// NewRouter builds a gin engine with recovery, tracing, request logging,
// the /v1 API and /metrics.
//
// /metrics serves the telemetry Prometheus handler when telemetry.Init
// enabled it, and the default Prometheus registry otherwise.
func NewRouter(handlers *Handlers, serviceName string, logger *slog.Logger) *gin.Engine {
	if logger == nil {
		logger = slog.Default()
	}
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(otelgin.Middleware(serviceName))
	router.Use(requestLogger(logger))

	RegisterRoutes(router.Group("/v1"), handlers)

	metrics := telemetry.MetricsHandler()
	if metrics == nil {
		metrics = promhttp.Handler()
	}
	router.GET("/metrics", gin.WrapH(metrics))
	return router
}

// requestLogger logs one line per request at debug, or warn for 5xx.
func requestLogger(logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		status := c.Writer.Status()
		attrs := []any{
			"method", c.Request.Method,
			"path", c.FullPath(),
			"status", status,
			"duration_ms", time.Since(start).Milliseconds(),
			"request_id", c.Writer.Header().Get("X-Request-ID"),
		}
		if status >= 500 {
			logger.Warn("request", attrs...)
			return
		}
		logger.Debug("request", attrs...)
	}
}
