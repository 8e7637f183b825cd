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
	"time"

	"github.com/AleutianAI/AleutianFIFO/pkg/fifo"
	"github.com/AleutianAI/AleutianFIFO/pkg/pinbus"
	"github.com/AleutianAI/AleutianFIFO/services/sim"
)

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	// Error is the error message.
	Error string `json:"error"`

	// Code is a stable machine-readable error code.
	Code string `json:"code,omitempty"`
}

// CreateSessionRequest is the body of POST /v1/fifo/sessions.
//
// An empty body creates a session with the server's default configuration.
// Depth alone selects ConfigForDepth watermarks.
type CreateSessionRequest struct {
	Depth           int    `json:"depth" binding:"omitempty,min=1,max=65536"`
	LowWatermark    *int   `json:"low_watermark" binding:"omitempty,min=0"`
	HighWatermark   *int   `json:"high_watermark" binding:"omitempty,min=0"`
	FlagMode        string `json:"flag_mode" binding:"omitempty,oneof=transient sticky"`
	CheckInvariants bool   `json:"check_invariants"`

	// SampleStages sets the pin binding's output stages. Default 1.
	SampleStages *int `json:"sample_stages" binding:"omitempty,min=0,max=8"`
}

// SessionInfo describes a session.
type SessionInfo struct {
	ID        string        `json:"id"`
	CreatedAt time.Time     `json:"created_at"`
	Snapshot  fifo.Snapshot `json:"snapshot"`
}

// StepRequest is the body of POST /v1/fifo/sessions/:id/step.
type StepRequest struct {
	Write bool  `json:"write"`
	Data  uint8 `json:"data"`
	Read  bool  `json:"read"`
	Reset bool  `json:"reset"`

	// Cycles holds the inputs for this many edges. Default 1.
	Cycles int `json:"cycles" binding:"omitempty,min=1,max=10000"`
}

// StepResponse returns the result of every applied edge.
type StepResponse struct {
	SessionID string            `json:"session_id"`
	Results   []fifo.StepResult `json:"results"`
	Snapshot  fifo.Snapshot     `json:"snapshot"`
}

// PinsRequest is the body of POST /v1/fifo/sessions/:id/pins.
// RstN defaults to deasserted (true) when omitted.
type PinsRequest struct {
	UIIn   uint8 `json:"ui_in"`
	UIOIn  uint8 `json:"uio_in"`
	RstN   *bool `json:"rst_n"`
	Cycles int   `json:"cycles" binding:"omitempty,min=1,max=10000"`
}

// PinsResponse is the bus after the last edge.
type PinsResponse struct {
	SessionID string          `json:"session_id"`
	Pins      pinbus.Pins     `json:"pins"`
	Status    fifo.StatusBus  `json:"status"`
	Result    fifo.StepResult `json:"result"`
}

// WatchEvent is one websocket message.
type WatchEvent struct {
	// Type is "snapshot" on connect, then "step", "reset" or "clear".
	Type     string           `json:"type"`
	Result   *fifo.StepResult `json:"result,omitempty"`
	Snapshot *fifo.Snapshot   `json:"snapshot,omitempty"`
}

// RunScenarioRequest is the body of POST /v1/fifo/scenarios/run.
type RunScenarioRequest struct {
	// Builtin names an embedded scenario.
	Builtin string `json:"builtin"`

	// YAML holds one or more inline scenario documents.
	YAML string `json:"yaml" binding:"max=1048576"`
}

// RunScenarioResponse reports every scenario run.
type RunScenarioResponse struct {
	Passed  bool          `json:"passed"`
	Reports []*sim.Report `json:"reports"`
}

// HealthResponse is the body of GET /v1/fifo/health.
type HealthResponse struct {
	Status   string `json:"status"`
	Sessions int    `json:"sessions"`
	Uptime   string `json:"uptime"`
}
