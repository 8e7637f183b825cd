// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package trace records per-cycle FIFO activity.
//
// A Recorder receives one Record per clock edge. Implementations:
//
//	BadgerStore  embedded key-value store, queryable by run
//	InfluxSink   time-series points for dashboards
//	Multi        fan-out to several recorders
//	Discard      drops everything
//
// Records for one run share a RunID and are keyed by cycle, so a run can be
// replayed in edge order.
package trace

import (
	"context"
	"errors"
	"time"

	"github.com/AleutianAI/AleutianFIFO/pkg/fifo"
)

// Sentinel errors for trace storage.
var (
	// ErrRunNotFound indicates no records exist for a run ID.
	ErrRunNotFound = errors.New("run not found")

	// ErrEmptyRunID indicates a record or query had no run ID.
	ErrEmptyRunID = errors.New("run id is required")

	// ErrClosed indicates the recorder was already closed.
	ErrClosed = errors.New("recorder closed")
)

// Record is one clock edge of one run.
type Record struct {
	RunID    string          `json:"run_id"`
	Scenario string          `json:"scenario,omitempty"`
	Cycle    uint64          `json:"cycle"`
	Time     time.Time       `json:"time"`
	Inputs   fifo.Inputs     `json:"inputs"`
	Result   fifo.StepResult `json:"result"`
}

// RunSummary describes a stored run.
type RunSummary struct {
	RunID    string    `json:"run_id"`
	Scenario string    `json:"scenario,omitempty"`
	Cycles   int       `json:"cycles"`
	Started  time.Time `json:"started"`
}

// Recorder receives per-cycle records.
//
// Thread Safety: Implementations must be safe for concurrent use.
type Recorder interface {
	Record(ctx context.Context, rec Record) error
	Close() error
}

// =============================================================================
// Discard
// =============================================================================

type discard struct{}

func (discard) Record(context.Context, Record) error { return nil }
func (discard) Close() error                         { return nil }

// Discard is a Recorder that drops every record.
var Discard Recorder = discard{}

// =============================================================================
// Multi
// =============================================================================

type multi struct {
	recorders []Recorder
}

// Multi returns a Recorder that forwards each record to every recorder.
// All recorders receive the record even if one fails; the errors are joined.
// Nil recorders are skipped.
func Multi(recorders ...Recorder) Recorder {
	var rs []Recorder
	for _, r := range recorders {
		if r != nil {
			rs = append(rs, r)
		}
	}
	switch len(rs) {
	case 0:
		return Discard
	case 1:
		return rs[0]
	}
	return &multi{recorders: rs}
}

func (m *multi) Record(ctx context.Context, rec Record) error {
	var errs []error
	for _, r := range m.recorders {
		if err := r.Record(ctx, rec); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (m *multi) Close() error {
	var errs []error
	for _, r := range m.recorders {
		if err := r.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
