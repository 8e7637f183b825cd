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
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/AleutianAI/AleutianFIFO/pkg/fifo"
	"github.com/AleutianAI/AleutianFIFO/pkg/pinbus"
	"github.com/AleutianAI/AleutianFIFO/services/sim"
	"github.com/AleutianAI/AleutianFIFO/services/sim/scenario"
	"github.com/AleutianAI/AleutianFIFO/services/sim/trace"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// TraceStore is the query side of a trace store.
type TraceStore interface {
	Runs(ctx context.Context) ([]trace.RunSummary, error)
	Load(ctx context.Context, runID string) ([]trace.Record, error)
	Delete(ctx context.Context, runID string) error
}

// Handlers serves the FIFO session API.
type Handlers struct {
	sessions *SessionManager
	runner   *sim.Runner
	store    TraceStore
	started  time.Time
}

// NewHandlers creates handlers. store may be nil, which disables the
// /runs endpoints.
func NewHandlers(sessions *SessionManager, runner *sim.Runner, store TraceStore) *Handlers {
	if runner == nil {
		runner = &sim.Runner{}
	}
	return &Handlers{sessions: sessions, runner: runner, store: store, started: time.Now()}
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// getOrCreateRequestID returns the X-Request-ID header or a new UUID, and
// echoes it on the response.
func getOrCreateRequestID(c *gin.Context) string {
	requestID := c.GetHeader("X-Request-ID")
	if requestID == "" {
		requestID = uuid.NewString()
	}
	c.Header("X-Request-ID", requestID)
	return requestID
}

// errorStatus maps an error to an HTTP status and code.
func errorStatus(err error) (int, string) {
	switch {
	case errors.Is(err, ErrSessionNotFound):
		return http.StatusNotFound, "SESSION_NOT_FOUND"
	case errors.Is(err, trace.ErrRunNotFound):
		return http.StatusNotFound, "RUN_NOT_FOUND"
	case errors.Is(err, scenario.ErrUnknownBuiltin):
		return http.StatusNotFound, "UNKNOWN_BUILTIN"
	case errors.Is(err, ErrTooManySessions):
		return http.StatusTooManyRequests, "TOO_MANY_SESSIONS"
	case errors.Is(err, ErrRateLimited):
		return http.StatusTooManyRequests, "RATE_LIMITED"
	case errors.Is(err, ErrStoreDisabled):
		return http.StatusNotImplemented, "STORE_DISABLED"
	case errors.Is(err, fifo.ErrInvalidConfig), errors.Is(err, fifo.ErrUnknownFlagMode):
		return http.StatusBadRequest, "INVALID_CONFIG"
	case errors.Is(err, scenario.ErrInvalidScenario),
		errors.Is(err, scenario.ErrNoScenarios),
		errors.Is(err, scenario.ErrTooLarge),
		errors.Is(err, ErrAmbiguousScenario):
		return http.StatusBadRequest, "INVALID_SCENARIO"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return http.StatusRequestTimeout, "CANCELLED"
	}
	return http.StatusInternalServerError, "INTERNAL"
}

func respondError(c *gin.Context, logger *slog.Logger, err error) {
	status, code := errorStatus(err)
	if status >= http.StatusInternalServerError {
		logger.Error("request failed", "error", err)
	} else {
		logger.Warn("request rejected", "error", err, "code", code)
	}
	c.JSON(status, ErrorResponse{Error: err.Error(), Code: code})
}

func invalidBody(c *gin.Context, logger *slog.Logger, err error) {
	logger.Warn("Invalid request body", "error", err)
	c.JSON(http.StatusBadRequest, ErrorResponse{Error: "Invalid request body: " + err.Error(), Code: "INVALID_REQUEST"})
}

// =============================================================================
// Sessions
// =============================================================================

// HandleCreateSession handles POST /v1/fifo/sessions.
func (h *Handlers) HandleCreateSession(c *gin.Context) {
	logger := slog.With("request_id", getOrCreateRequestID(c), "handler", "HandleCreateSession")

	var req CreateSessionRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			invalidBody(c, logger, err)
			return
		}
	}

	s, err := h.sessions.Create(req)
	if err != nil {
		respondError(c, logger, err)
		return
	}
	logger.Info("Session created", "session_id", s.ID)
	c.JSON(http.StatusCreated, s.Info())
}

// HandleListSessions handles GET /v1/fifo/sessions.
func (h *Handlers) HandleListSessions(c *gin.Context) {
	getOrCreateRequestID(c)
	c.JSON(http.StatusOK, gin.H{"sessions": h.sessions.List()})
}

// HandleGetSession handles GET /v1/fifo/sessions/:id.
func (h *Handlers) HandleGetSession(c *gin.Context) {
	logger := slog.With("request_id", getOrCreateRequestID(c), "handler", "HandleGetSession")

	s, err := h.sessions.Get(c.Param("id"))
	if err != nil {
		respondError(c, logger, err)
		return
	}
	c.JSON(http.StatusOK, s.Info())
}

// HandleDeleteSession handles DELETE /v1/fifo/sessions/:id.
func (h *Handlers) HandleDeleteSession(c *gin.Context) {
	logger := slog.With("request_id", getOrCreateRequestID(c), "handler", "HandleDeleteSession")

	if err := h.sessions.Delete(c.Param("id")); err != nil {
		respondError(c, logger, err)
		return
	}
	logger.Info("Session deleted", "session_id", c.Param("id"))
	c.Status(http.StatusNoContent)
}

// HandleStep handles POST /v1/fifo/sessions/:id/step.
//
// Description:
//
//	Applies the requested inputs for Cycles edges and returns every edge
//	result. Overflow and underflow are reported on the status bus of the
//	result, never as HTTP errors.
//
// Response:
//
//	200 StepResponse, 400 invalid body, 404 unknown session,
//	429 rate limited.
func (h *Handlers) HandleStep(c *gin.Context) {
	logger := slog.With("request_id", getOrCreateRequestID(c), "handler", "HandleStep")

	s, err := h.sessions.Get(c.Param("id"))
	if err != nil {
		respondError(c, logger, err)
		return
	}
	if !s.Allow() {
		respondError(c, logger, ErrRateLimited)
		return
	}

	var req StepRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		invalidBody(c, logger, err)
		return
	}

	in := fifo.Inputs{Reset: req.Reset, Write: req.Write, Data: req.Data, Read: req.Read}
	results, snap, err := s.Step(c.Request.Context(), in, req.Cycles)
	if err != nil {
		respondError(c, logger, err)
		return
	}
	c.JSON(http.StatusOK, StepResponse{SessionID: s.ID, Results: results, Snapshot: snap})
}

// HandlePins handles POST /v1/fifo/sessions/:id/pins.
//
// Description:
//
//	Drives the session through its pin binding. The response shows the bus
//	as a test bench would observe it, including the sampling stages.
func (h *Handlers) HandlePins(c *gin.Context) {
	logger := slog.With("request_id", getOrCreateRequestID(c), "handler", "HandlePins")

	s, err := h.sessions.Get(c.Param("id"))
	if err != nil {
		respondError(c, logger, err)
		return
	}
	if !s.Allow() {
		respondError(c, logger, ErrRateLimited)
		return
	}

	var req PinsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		invalidBody(c, logger, err)
		return
	}
	in := pinbus.Pins{UIIn: req.UIIn, UIOIn: req.UIOIn, RstN: true}
	if req.RstN != nil {
		in.RstN = *req.RstN
	}

	out, res, err := s.Pins(c.Request.Context(), in, req.Cycles)
	if err != nil {
		respondError(c, logger, err)
		return
	}
	c.JSON(http.StatusOK, PinsResponse{SessionID: s.ID, Pins: out, Status: out.Status(), Result: res})
}

// HandleReset handles POST /v1/fifo/sessions/:id/reset.
func (h *Handlers) HandleReset(c *gin.Context) {
	logger := slog.With("request_id", getOrCreateRequestID(c), "handler", "HandleReset")

	s, err := h.sessions.Get(c.Param("id"))
	if err != nil {
		respondError(c, logger, err)
		return
	}
	res, err := s.Reset(c.Request.Context())
	if err != nil {
		respondError(c, logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"session_id": s.ID, "result": res})
}

// HandleClear handles POST /v1/fifo/sessions/:id/clear.
func (h *Handlers) HandleClear(c *gin.Context) {
	logger := slog.With("request_id", getOrCreateRequestID(c), "handler", "HandleClear")

	s, err := h.sessions.Get(c.Param("id"))
	if err != nil {
		respondError(c, logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"session_id": s.ID, "snapshot": s.ClearErrors()})
}

// HandleWatch handles GET /v1/fifo/sessions/:id/watch.
//
// Description:
//
//	Upgrades to a websocket and streams WatchEvents: a snapshot first, then
//	one event per edge. The stream ends when the client disconnects or the
//	session is deleted.
func (h *Handlers) HandleWatch(c *gin.Context) {
	logger := slog.With("request_id", getOrCreateRequestID(c), "handler", "HandleWatch")

	s, err := h.sessions.Get(c.Param("id"))
	if err != nil {
		respondError(c, logger, err)
		return
	}

	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		logger.Error("failed to upgrade the websocket", "error", err)
		return
	}
	defer ws.Close()

	events, unsubscribe := s.Watch()
	defer unsubscribe()
	logger.Info("Watcher connected", "session_id", s.ID)

	// The reader only notices the client going away.
	gone := make(chan struct{})
	go func() {
		defer close(gone)
		for {
			if _, _, err := ws.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-gone:
			logger.Info("Watcher disconnected", "session_id", s.ID)
			return
		case ev, ok := <-events:
			if !ok {
				_ = ws.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, "session deleted"))
				return
			}
			if err := ws.WriteJSON(ev); err != nil {
				logger.Warn("Failed to write WebSocket JSON", "error", err)
				return
			}
		}
	}
}

// =============================================================================
// Scenarios
// =============================================================================

// HandleListScenarios handles GET /v1/fifo/scenarios.
func (h *Handlers) HandleListScenarios(c *gin.Context) {
	getOrCreateRequestID(c)
	c.JSON(http.StatusOK, gin.H{"builtin": scenario.Builtin()})
}

// HandleRunScenario handles POST /v1/fifo/scenarios/run.
//
// Description:
//
//	Runs a builtin scenario by name, or every scenario in inline YAML.
//	Failing scenarios still return 200 with passed=false.
func (h *Handlers) HandleRunScenario(c *gin.Context) {
	logger := slog.With("request_id", getOrCreateRequestID(c), "handler", "HandleRunScenario")

	var req RunScenarioRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		invalidBody(c, logger, err)
		return
	}

	var scenarios []*scenario.Scenario
	switch {
	case (req.Builtin == "") == (req.YAML == ""):
		respondError(c, logger, ErrAmbiguousScenario)
		return
	case req.Builtin != "":
		s, err := scenario.BuiltinByName(req.Builtin)
		if err != nil {
			respondError(c, logger, err)
			return
		}
		scenarios = []*scenario.Scenario{s}
	default:
		parsed, err := scenario.Parse([]byte(req.YAML))
		if err != nil {
			respondError(c, logger, err)
			return
		}
		scenarios = parsed
	}

	reports, err := h.runner.RunAll(c.Request.Context(), scenarios)
	if err != nil {
		respondError(c, logger, err)
		return
	}
	passed := sim.AllPassed(reports)
	logger.Info("Scenarios run", "count", len(reports), "passed", passed)
	c.JSON(http.StatusOK, RunScenarioResponse{Passed: passed, Reports: reports})
}

// =============================================================================
// Runs
// =============================================================================

// HandleListRuns handles GET /v1/fifo/runs.
func (h *Handlers) HandleListRuns(c *gin.Context) {
	logger := slog.With("request_id", getOrCreateRequestID(c), "handler", "HandleListRuns")
	if h.store == nil {
		respondError(c, logger, ErrStoreDisabled)
		return
	}
	runs, err := h.store.Runs(c.Request.Context())
	if err != nil {
		respondError(c, logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"runs": runs})
}

// HandleGetRun handles GET /v1/fifo/runs/:id?limit=N.
func (h *Handlers) HandleGetRun(c *gin.Context) {
	logger := slog.With("request_id", getOrCreateRequestID(c), "handler", "HandleGetRun")
	if h.store == nil {
		respondError(c, logger, ErrStoreDisabled)
		return
	}

	limit := 0
	if v := c.Query("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			c.JSON(http.StatusBadRequest, ErrorResponse{Error: "limit must be a non-negative integer", Code: "INVALID_PARAMETER"})
			return
		}
		limit = n
	}

	recs, err := h.store.Load(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, logger, err)
		return
	}
	if limit > 0 && len(recs) > limit {
		recs = recs[:limit]
	}
	c.JSON(http.StatusOK, gin.H{"run_id": c.Param("id"), "records": recs})
}

// HandleDeleteRun handles DELETE /v1/fifo/runs/:id.
func (h *Handlers) HandleDeleteRun(c *gin.Context) {
	logger := slog.With("request_id", getOrCreateRequestID(c), "handler", "HandleDeleteRun")
	if h.store == nil {
		respondError(c, logger, ErrStoreDisabled)
		return
	}
	if err := h.store.Delete(c.Request.Context(), c.Param("id")); err != nil {
		respondError(c, logger, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// =============================================================================
// Health
// =============================================================================

// HandleHealth handles GET /v1/fifo/health.
func (h *Handlers) HandleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, HealthResponse{
		Status:   "healthy",
		Sessions: h.sessions.Len(),
		Uptime:   time.Since(h.started).Round(time.Second).String(),
	})
}
