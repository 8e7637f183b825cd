// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package sim drives FIFO controllers: a Simulator steps one controller and
// publishes every edge, and a Runner executes scenarios against fresh
// simulators and reports mismatches.
package sim

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/AleutianAI/AleutianFIFO/pkg/fifo"
	"github.com/AleutianAI/AleutianFIFO/services/sim/trace"
	"github.com/google/uuid"
)

// Options configures a Simulator.
type Options struct {
	// RunID tags trace records. Default: a new UUID.
	RunID string

	// Scenario names the scenario being run, if any.
	Scenario string

	// Logger receives per-edge debug logs. Default: slog.Default().
	Logger *slog.Logger

	// Recorder receives one record per edge. Default: trace.Discard.
	Recorder trace.Recorder

	// Clock stamps records. Default: time.Now.
	Clock func() time.Time
}

// Simulator owns one controller and publishes each edge to metrics, the
// trace recorder and the debug log.
//
// Thread Safety: Not safe for concurrent use. Callers sharing a Simulator
// must serialize access.
type Simulator struct {
	ctrl     *fifo.Controller
	runID    string
	scenario string
	logger   *slog.Logger
	recorder trace.Recorder
	clock    func() time.Time
	last     fifo.StepResult
}

// New creates a Simulator for cfg.
//
// Outputs:
//
//	*Simulator - In the reset state.
//	error - Wraps fifo.ErrInvalidConfig if cfg is out of range.
func New(cfg fifo.Config, opts Options) (*Simulator, error) {
	ctrl, err := fifo.New(cfg)
	if err != nil {
		return nil, fmt.Errorf("create controller: %w", err)
	}
	if opts.RunID == "" {
		opts.RunID = uuid.NewString()
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Recorder == nil {
		opts.Recorder = trace.Discard
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	return &Simulator{
		ctrl:     ctrl,
		runID:    opts.RunID,
		scenario: opts.Scenario,
		logger:   opts.Logger.With(slog.String("run_id", opts.RunID)),
		recorder: opts.Recorder,
		clock:    opts.Clock,
	}, nil
}

// Step applies one edge.
//
// The controller always advances. The returned error is only ever a
// recorder failure; overflow and underflow are reported on the status bus.
func (s *Simulator) Step(ctx context.Context, in fifo.Inputs) (fifo.StepResult, error) {
	return s.Publish(ctx, in, s.ctrl.Step(in))
}

// Publish reports an edge applied to the controller by another driver,
// such as a pin binding, as if Step had applied it.
func (s *Simulator) Publish(ctx context.Context, in fifo.Inputs, res fifo.StepResult) (fifo.StepResult, error) {
	s.last = res

	recordEdge(ctx, in, res)
	s.logger.Debug("edge",
		slog.Uint64("cycle", res.Cycle),
		slog.Bool("reset", in.Reset),
		slog.Bool("write", in.Write),
		slog.Bool("read", in.Read),
		slog.Int("count", res.Count),
		slog.String("status", res.Status.String()),
	)

	err := s.recorder.Record(ctx, trace.Record{
		RunID:    s.runID,
		Scenario: s.scenario,
		Cycle:    res.Cycle,
		Time:     s.clock(),
		Inputs:   in,
		Result:   res,
	})
	if err != nil {
		return res, fmt.Errorf("record cycle %d: %w", res.Cycle, err)
	}
	return res, nil
}

// Reset applies a reset edge.
func (s *Simulator) Reset(ctx context.Context) (fifo.StepResult, error) {
	return s.Step(ctx, fifo.Inputs{Reset: true})
}

// ClearErrors drops latched overflow and underflow flags without an edge.
func (s *Simulator) ClearErrors() {
	s.ctrl.ClearErrors()
	s.last.Status = s.ctrl.Status()
}

// Last returns the result of the most recent edge. Before the first edge it
// is the zero StepResult.
func (s *Simulator) Last() fifo.StepResult { return s.last }

// Snapshot returns the controller state.
func (s *Simulator) Snapshot() fifo.Snapshot { return s.ctrl.Snapshot() }

// Config returns the controller configuration.
func (s *Simulator) Config() fifo.Config { return s.ctrl.Config() }

// RunID returns the trace run ID.
func (s *Simulator) RunID() string { return s.runID }

// Controller exposes the underlying controller, for pin-level bindings.
func (s *Simulator) Controller() *fifo.Controller { return s.ctrl }
