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
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/AleutianAI/AleutianFIFO/pkg/fifo"
	"github.com/AleutianAI/AleutianFIFO/pkg/pinbus"
	"github.com/AleutianAI/AleutianFIFO/services/sim"
	"github.com/AleutianAI/AleutianFIFO/services/sim/trace"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type testServer struct {
	router   *gin.Engine
	sessions *SessionManager
	store    *trace.BadgerStore
}

func newTestServer(t *testing.T, cfg ManagerConfig) *testServer {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	store, err := trace.OpenInMemoryStore()
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	cfg.Recorder = store
	cfg.Logger = logger
	sessions := NewSessionManager(cfg)
	runner := &sim.Runner{Logger: logger, Recorder: store}
	h := NewHandlers(sessions, runner, store)
	return &testServer{router: NewRouter(h, "fifosim-test", logger), sessions: sessions, store: store}
}

func (ts *testServer) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var r io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		r = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, path, r)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	ts.router.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &v), w.Body.String())
	return v
}

func (ts *testServer) create(t *testing.T, req any) SessionInfo {
	t.Helper()
	w := ts.do(t, http.MethodPost, "/v1/fifo/sessions", req)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	return decode[SessionInfo](t, w)
}

func TestCreateSession_Defaults(t *testing.T) {
	ts := newTestServer(t, ManagerConfig{})

	info := ts.create(t, nil)
	assert.NotEmpty(t, info.ID)
	assert.Equal(t, fifo.DefaultConfig(), info.Snapshot.Config)
	assert.Equal(t, 0, info.Snapshot.Count)
	assert.True(t, info.Snapshot.Status.Empty)
}

func TestCreateSession_Config(t *testing.T) {
	ts := newTestServer(t, ManagerConfig{})

	info := ts.create(t, gin.H{"depth": 16, "flag_mode": "sticky"})
	assert.Equal(t, 16, info.Snapshot.Config.Depth)
	assert.Equal(t, fifo.ConfigForDepth(16).HighWatermark, info.Snapshot.Config.HighWatermark)
	assert.Equal(t, fifo.FlagsSticky, info.Snapshot.Config.FlagMode)

	info = ts.create(t, gin.H{"depth": 8, "low_watermark": 0, "high_watermark": 8})
	assert.Equal(t, 0, info.Snapshot.Config.LowWatermark)
	assert.Equal(t, 8, info.Snapshot.Config.HighWatermark)
}

func TestCreateSession_Invalid(t *testing.T) {
	ts := newTestServer(t, ManagerConfig{})

	w := ts.do(t, http.MethodPost, "/v1/fifo/sessions", gin.H{"depth": 4, "low_watermark": 3, "high_watermark": 1})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "INVALID_CONFIG", decode[ErrorResponse](t, w).Code)

	w = ts.do(t, http.MethodPost, "/v1/fifo/sessions", gin.H{"flag_mode": "latched"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "INVALID_REQUEST", decode[ErrorResponse](t, w).Code)

	w = ts.do(t, http.MethodPost, "/v1/fifo/sessions", gin.H{"depth": -3})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestCreateSession_Limit(t *testing.T) {
	ts := newTestServer(t, ManagerConfig{MaxSessions: 1})
	ts.create(t, nil)

	w := ts.do(t, http.MethodPost, "/v1/fifo/sessions", nil)
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, "TOO_MANY_SESSIONS", decode[ErrorResponse](t, w).Code)
}

func TestSessionLifecycle(t *testing.T) {
	ts := newTestServer(t, ManagerConfig{})
	a := ts.create(t, nil)
	b := ts.create(t, nil)

	w := ts.do(t, http.MethodGet, "/v1/fifo/sessions", nil)
	require.Equal(t, http.StatusOK, w.Code)
	list := decode[struct {
		Sessions []SessionInfo `json:"sessions"`
	}](t, w)
	require.Len(t, list.Sessions, 2)

	w = ts.do(t, http.MethodGet, "/v1/fifo/sessions/"+a.ID, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, a.ID, decode[SessionInfo](t, w).ID)
	assert.NotEmpty(t, w.Header().Get("X-Request-ID"))

	w = ts.do(t, http.MethodDelete, "/v1/fifo/sessions/"+a.ID, nil)
	assert.Equal(t, http.StatusNoContent, w.Code)

	w = ts.do(t, http.MethodGet, "/v1/fifo/sessions/"+a.ID, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "SESSION_NOT_FOUND", decode[ErrorResponse](t, w).Code)

	w = ts.do(t, http.MethodDelete, "/v1/fifo/sessions/"+a.ID, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = ts.do(t, http.MethodGet, "/v1/fifo/health", nil)
	require.Equal(t, http.StatusOK, w.Code)
	health := decode[HealthResponse](t, w)
	assert.Equal(t, "healthy", health.Status)
	assert.Equal(t, 1, health.Sessions)
	_ = b
}

func TestRequestIDEchoed(t *testing.T) {
	ts := newTestServer(t, ManagerConfig{})
	req := httptest.NewRequest(http.MethodGet, "/v1/fifo/sessions", nil)
	req.Header.Set("X-Request-ID", "req-123")
	w := httptest.NewRecorder()
	ts.router.ServeHTTP(w, req)
	assert.Equal(t, "req-123", w.Header().Get("X-Request-ID"))
}

func TestStep_FillAndOverflow(t *testing.T) {
	ts := newTestServer(t, ManagerConfig{})
	info := ts.create(t, nil)
	path := "/v1/fifo/sessions/" + info.ID + "/step"

	w := ts.do(t, http.MethodPost, path, StepRequest{Write: true, Data: 0xAB, Cycles: 5})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	resp := decode[StepResponse](t, w)
	require.Len(t, resp.Results, 5)
	assert.True(t, resp.Results[3].Status.Full)
	assert.False(t, resp.Results[3].Status.Overflow)
	assert.True(t, resp.Results[4].Status.Overflow, "fifth write overflows")
	assert.False(t, resp.Results[4].WriteAccepted)
	assert.Equal(t, 4, resp.Snapshot.Count)

	w = ts.do(t, http.MethodPost, path, StepRequest{Read: true, Write: true, Data: 0xCD})
	require.Equal(t, http.StatusOK, w.Code)
	resp = decode[StepResponse](t, w)
	assert.True(t, resp.Results[0].ReadAccepted)
	assert.True(t, resp.Results[0].WriteAccepted)
	assert.Equal(t, uint8(0xAB), resp.Results[0].Output)
	assert.Equal(t, 4, resp.Snapshot.Count)

	w = ts.do(t, http.MethodPost, "/v1/fifo/sessions/"+info.ID+"/reset", nil)
	require.Equal(t, http.StatusOK, w.Code)
	w = ts.do(t, http.MethodGet, "/v1/fifo/sessions/"+info.ID, nil)
	assert.Equal(t, 0, decode[SessionInfo](t, w).Snapshot.Count)

	// Every edge was recorded under the session ID.
	recs, err := ts.store.Load(context.Background(), info.ID)
	require.NoError(t, err)
	assert.Len(t, recs, 7)
}

func TestStep_InvalidAndUnknown(t *testing.T) {
	ts := newTestServer(t, ManagerConfig{})
	info := ts.create(t, nil)

	w := ts.do(t, http.MethodPost, "/v1/fifo/sessions/"+info.ID+"/step", StepRequest{Cycles: 20000})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = ts.do(t, http.MethodPost, "/v1/fifo/sessions/nope/step", StepRequest{})
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestStep_RateLimited(t *testing.T) {
	ts := newTestServer(t, ManagerConfig{StepRate: 0.001, StepBurst: 2})
	info := ts.create(t, nil)
	path := "/v1/fifo/sessions/" + info.ID + "/step"

	assert.Equal(t, http.StatusOK, ts.do(t, http.MethodPost, path, StepRequest{}).Code)
	assert.Equal(t, http.StatusOK, ts.do(t, http.MethodPost, path, StepRequest{}).Code)
	w := ts.do(t, http.MethodPost, path, StepRequest{})
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, "RATE_LIMITED", decode[ErrorResponse](t, w).Code)
}

func TestClear_Sticky(t *testing.T) {
	ts := newTestServer(t, ManagerConfig{})
	info := ts.create(t, gin.H{"flag_mode": "sticky"})

	w := ts.do(t, http.MethodPost, "/v1/fifo/sessions/"+info.ID+"/step", StepRequest{Read: true, Cycles: 1})
	require.Equal(t, http.StatusOK, w.Code)
	assert.True(t, decode[StepResponse](t, w).Snapshot.Status.Underflow)

	w = ts.do(t, http.MethodPost, "/v1/fifo/sessions/"+info.ID+"/clear", nil)
	require.Equal(t, http.StatusOK, w.Code)
	body := decode[struct {
		Snapshot fifo.Snapshot `json:"snapshot"`
	}](t, w)
	assert.False(t, body.Snapshot.Status.Underflow)
}

func TestPins_ReadLatency(t *testing.T) {
	ts := newTestServer(t, ManagerConfig{SampleStages: 1})
	info := ts.create(t, nil)
	path := "/v1/fifo/sessions/" + info.ID + "/pins"

	w := ts.do(t, http.MethodPost, path, PinsRequest{UIIn: 0x5B, UIOIn: pinbus.WriteEnable})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = ts.do(t, http.MethodPost, path, PinsRequest{UIOIn: pinbus.ReadRequest})
	require.Equal(t, http.StatusOK, w.Code)
	first := decode[PinsResponse](t, w)
	assert.Equal(t, uint8(0x5B), first.Result.Output, "core output loads on the read edge")
	assert.Equal(t, uint8(0x00), first.Pins.UOOut, "bus lags by one stage")

	w = ts.do(t, http.MethodPost, path, PinsRequest{})
	require.Equal(t, http.StatusOK, w.Code)
	second := decode[PinsResponse](t, w)
	assert.Equal(t, uint8(0x5B), second.Pins.UOOut)
	assert.Equal(t, pinbus.StatusOE, second.Pins.UIOOE)
	assert.True(t, second.Status.Empty)

	rst := false
	w = ts.do(t, http.MethodPost, path, PinsRequest{RstN: &rst})
	require.Equal(t, http.StatusOK, w.Code)
	assert.True(t, decode[PinsResponse](t, w).Result.Reset)
}

func TestRunScenario(t *testing.T) {
	ts := newTestServer(t, ManagerConfig{})

	w := ts.do(t, http.MethodPost, "/v1/fifo/scenarios/run", RunScenarioRequest{Builtin: "simultaneous-at-full"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	resp := decode[RunScenarioResponse](t, w)
	assert.True(t, resp.Passed)
	require.Len(t, resp.Reports, 1)

	runs, err := ts.store.Runs(context.Background())
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, resp.Reports[0].RunID, runs[0].RunID)

	failing := "name: wrong\nsteps:\n  - write: 1\n    expect: {count: 3}\n"
	w = ts.do(t, http.MethodPost, "/v1/fifo/scenarios/run", RunScenarioRequest{YAML: failing})
	require.Equal(t, http.StatusOK, w.Code)
	resp = decode[RunScenarioResponse](t, w)
	assert.False(t, resp.Passed)
	require.Len(t, resp.Reports[0].Mismatches, 1)
	assert.Equal(t, "count", resp.Reports[0].Mismatches[0].Field)
}

func TestRunScenario_Errors(t *testing.T) {
	ts := newTestServer(t, ManagerConfig{})

	cases := []struct {
		name string
		req  RunScenarioRequest
		code int
	}{
		{"neither", RunScenarioRequest{}, http.StatusBadRequest},
		{"both", RunScenarioRequest{Builtin: "x", YAML: "name: x"}, http.StatusBadRequest},
		{"unknown builtin", RunScenarioRequest{Builtin: "nope"}, http.StatusNotFound},
		{"invalid yaml", RunScenarioRequest{YAML: "name: x\nsteps: []"}, http.StatusBadRequest},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			w := ts.do(t, http.MethodPost, "/v1/fifo/scenarios/run", tc.req)
			assert.Equal(t, tc.code, w.Code, w.Body.String())
		})
	}
}

func TestListScenarios(t *testing.T) {
	ts := newTestServer(t, ManagerConfig{})
	w := ts.do(t, http.MethodGet, "/v1/fifo/scenarios", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "fill-to-overflow")
}

func TestRuns(t *testing.T) {
	ts := newTestServer(t, ManagerConfig{})
	info := ts.create(t, nil)
	w := ts.do(t, http.MethodPost, "/v1/fifo/sessions/"+info.ID+"/step", StepRequest{Write: true, Cycles: 3})
	require.Equal(t, http.StatusOK, w.Code)

	w = ts.do(t, http.MethodGet, "/v1/fifo/runs", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), info.ID)

	w = ts.do(t, http.MethodGet, "/v1/fifo/runs/"+info.ID+"?limit=2", nil)
	require.Equal(t, http.StatusOK, w.Code)
	got := decode[struct {
		Records []trace.Record `json:"records"`
	}](t, w)
	assert.Len(t, got.Records, 2)

	w = ts.do(t, http.MethodGet, "/v1/fifo/runs/"+info.ID+"?limit=x", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = ts.do(t, http.MethodDelete, "/v1/fifo/runs/"+info.ID, nil)
	assert.Equal(t, http.StatusNoContent, w.Code)
	w = ts.do(t, http.MethodGet, "/v1/fifo/runs/"+info.ID, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "RUN_NOT_FOUND", decode[ErrorResponse](t, w).Code)
}

func TestRuns_StoreDisabled(t *testing.T) {
	sessions := NewSessionManager(ManagerConfig{})
	router := NewRouter(NewHandlers(sessions, nil, nil), "t", nil)

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/v1/fifo/runs", nil))
	assert.Equal(t, http.StatusNotImplemented, w.Code)
}

func TestMetricsEndpoint(t *testing.T) {
	ts := newTestServer(t, ManagerConfig{})
	w := ts.do(t, http.MethodGet, "/metrics", nil)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestWatch(t *testing.T) {
	ts := newTestServer(t, ManagerConfig{})
	info := ts.create(t, nil)

	srv := httptest.NewServer(ts.router)
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/v1/fifo/sessions/" + info.ID + "/watch"
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()
	defer resp.Body.Close()

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	var ev WatchEvent
	require.NoError(t, conn.ReadJSON(&ev))
	assert.Equal(t, "snapshot", ev.Type)
	require.NotNil(t, ev.Snapshot)

	w := ts.do(t, http.MethodPost, "/v1/fifo/sessions/"+info.ID+"/step", StepRequest{Write: true, Data: 9, Cycles: 2})
	require.Equal(t, http.StatusOK, w.Code)

	for want := 1; want <= 2; want++ {
		require.NoError(t, conn.ReadJSON(&ev))
		assert.Equal(t, "step", ev.Type)
		require.NotNil(t, ev.Result)
		assert.Equal(t, want, ev.Result.Count)
	}

	w = ts.do(t, http.MethodDelete, "/v1/fifo/sessions/"+info.ID, nil)
	require.Equal(t, http.StatusNoContent, w.Code)

	_, _, err = conn.ReadMessage()
	assert.True(t, websocket.IsCloseError(err, websocket.CloseNormalClosure), "got %v", err)
}

func TestWatch_UnknownSession(t *testing.T) {
	ts := newTestServer(t, ManagerConfig{})
	w := ts.do(t, http.MethodGet, "/v1/fifo/sessions/nope/watch", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestSession_WatchUnsubscribe(t *testing.T) {
	m := NewSessionManager(ManagerConfig{Logger: slog.New(slog.NewTextHandler(io.Discard, nil))})
	s, err := m.Create(CreateSessionRequest{})
	require.NoError(t, err)

	events, stop := s.Watch()
	<-events
	stop()
	stop()

	_, ok := <-events
	assert.False(t, ok)

	_, _, err = s.Step(context.Background(), fifo.Inputs{Write: true}, 1)
	assert.NoError(t, err)
}
