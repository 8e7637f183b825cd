// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package sim

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/AleutianAI/AleutianFIFO/pkg/fifo"
	"github.com/AleutianAI/AleutianFIFO/services/sim/scenario"
	"github.com/AleutianAI/AleutianFIFO/services/sim/telemetry"
	"github.com/AleutianAI/AleutianFIFO/services/sim/trace"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"
)

// ErrNilScenario is returned when Run receives a nil scenario.
var ErrNilScenario = errors.New("nil scenario")

// Mismatch is one failed expectation.
type Mismatch struct {
	// Step is the zero-based index of the step whose expectation failed.
	Step    int    `json:"step"`
	Cycle   uint64 `json:"cycle"`
	Field   string `json:"field"`
	Want    string `json:"want"`
	Got     string `json:"got"`
	Comment string `json:"comment,omitempty"`
}

func (m Mismatch) String() string {
	return fmt.Sprintf("step %d (cycle %d): %s: want %s, got %s", m.Step, m.Cycle, m.Field, m.Want, m.Got)
}

// Report is the outcome of one scenario run.
type Report struct {
	RunID      string        `json:"run_id"`
	Scenario   string        `json:"scenario"`
	Source     string        `json:"source,omitempty"`
	Cycles     uint64        `json:"cycles"`
	Checks     int           `json:"checks"`
	Passed     bool          `json:"passed"`
	Mismatches []Mismatch    `json:"mismatches,omitempty"`
	Final      fifo.Snapshot `json:"final"`
	Duration   time.Duration `json:"duration"`
}

// Runner executes scenarios.
type Runner struct {
	// Recorder receives every edge of every run. Default: trace.Discard.
	Recorder trace.Recorder

	// Logger receives run summaries. Default: slog.Default().
	Logger *slog.Logger

	// Concurrency bounds RunAll. Zero or negative means one run per CPU.
	Concurrency int

	// StopOnMismatch ends a run at the first failing step.
	StopOnMismatch bool
}

func (r *Runner) logger() *slog.Logger {
	if r.Logger == nil {
		return slog.Default()
	}
	return r.Logger
}

// Run executes one scenario against a fresh controller.
//
// Description:
//
//	Applies each step's inputs for its edge count, then checks the step's
//	expectations against the result of its last edge. ClearErrors steps
//	clear latched flags before their edges.
//
// Inputs:
//
//	ctx - Checked between edges. Cancellation aborts the run.
//	s - Validated scenario.
//
// Outputs:
//
//	*Report - Outcome. A failing scenario is a report with Passed false,
//	          not an error.
//	error - Invalid config, recorder failure or cancellation.
func (r *Runner) Run(ctx context.Context, s *scenario.Scenario) (*Report, error) {
	if s == nil {
		return nil, ErrNilScenario
	}

	ctx, span := tracer.Start(ctx, "sim.Run")
	defer span.End()
	span.SetAttributes(attribute.String("scenario", s.Name))

	start := time.Now()
	simulator, err := New(s.Config(), Options{
		Scenario: s.Name,
		Logger:   r.logger(),
		Recorder: r.Recorder,
	})
	if err != nil {
		telemetry.RecordError(span, err)
		return nil, err
	}
	span.SetAttributes(attribute.String("run_id", simulator.RunID()))
	logger := telemetry.LoggerWithTrace(ctx, r.logger()).With(
		slog.String("scenario", s.Name),
		slog.String("run_id", simulator.RunID()),
	)

	report := &Report{
		RunID:    simulator.RunID(),
		Scenario: s.Name,
		Source:   s.Source,
	}

steps:
	for i, step := range s.Steps {
		if step.Clear {
			simulator.ClearErrors()
		}
		in := step.Inputs()
		var res fifo.StepResult
		for n := 0; n < step.Edges(); n++ {
			if err := ctx.Err(); err != nil {
				telemetry.RecordError(span, err)
				return nil, fmt.Errorf("scenario %s cancelled at step %d: %w", s.Name, i, err)
			}
			res, err = simulator.Step(ctx, in)
			if err != nil {
				telemetry.RecordError(span, err)
				return nil, err
			}
		}

		if step.Expect == nil {
			continue
		}
		report.Checks++
		found := Check(*step.Expect, res)
		for _, m := range found {
			m.Step = i
			m.Cycle = res.Cycle
			m.Comment = step.Comment
			report.Mismatches = append(report.Mismatches, m)
		}
		if len(found) > 0 && r.StopOnMismatch {
			break steps
		}
	}

	report.Cycles = simulator.Last().Cycle
	report.Passed = len(report.Mismatches) == 0
	report.Final = simulator.Snapshot()
	report.Duration = time.Since(start)

	recordRun(ctx, s.Name, report.Passed, report.Duration)
	span.SetAttributes(
		attribute.Bool("passed", report.Passed),
		attribute.Int64("cycles", int64(report.Cycles)),
	)
	if report.Passed {
		telemetry.SetSpanOK(span)
		logger.Info("scenario passed", slog.Uint64("cycles", report.Cycles), slog.Int("checks", report.Checks))
	} else {
		logger.Warn("scenario failed", slog.Int("mismatches", len(report.Mismatches)))
	}
	return report, nil
}

// RunAll executes scenarios concurrently, each on its own controller.
//
// Reports are returned in input order. The first error cancels the
// remaining runs; mismatches are not errors.
func (r *Runner) RunAll(ctx context.Context, scenarios []*scenario.Scenario) ([]*Report, error) {
	reports := make([]*Report, len(scenarios))

	g, gctx := errgroup.WithContext(ctx)
	if r.Concurrency > 0 {
		g.SetLimit(r.Concurrency)
	}
	for i, s := range scenarios {
		g.Go(func() error {
			rep, err := r.Run(gctx, s)
			if err != nil {
				return err
			}
			reports[i] = rep
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return reports, nil
}

// AllPassed reports whether every report passed.
func AllPassed(reports []*Report) bool {
	for _, r := range reports {
		if r == nil || !r.Passed {
			return false
		}
	}
	return true
}

// =============================================================================
// Expectations
// =============================================================================

// Check compares res against e and returns one Mismatch per failed field.
// Step and Cycle are left for the caller to fill.
func Check(e scenario.Expect, res fifo.StepResult) []Mismatch {
	var out []Mismatch
	add := func(field, want, got string) {
		out = append(out, Mismatch{Field: field, Want: want, Got: got})
	}

	if e.Count != nil && *e.Count != res.Count {
		add("count", fmt.Sprint(*e.Count), fmt.Sprint(res.Count))
	}
	if e.Output != nil && *e.Output != res.Output {
		add("output", fmt.Sprintf("0x%02X", *e.Output), fmt.Sprintf("0x%02X", res.Output))
	}
	bits := res.Status.Pack()
	if e.Status != nil && fifo.StatusBits(*e.Status) != bits {
		add("status", fmt.Sprintf("0x%02X (%s)", *e.Status, fifo.StatusBits(*e.Status)),
			fmt.Sprintf("0x%02X (%s)", uint8(bits), bits))
	}
	for _, name := range e.Flags {
		// Names were validated at load time.
		mask, _ := fifo.ParseFlag(name)
		if !bits.Has(mask) {
			add(mask.String(), "set", "clear")
		}
	}
	for _, name := range e.NotFlags {
		mask, _ := fifo.ParseFlag(name)
		if bits.Has(mask) {
			add(mask.String(), "clear", "set")
		}
	}
	if e.WriteAccepted != nil && *e.WriteAccepted != res.WriteAccepted {
		add("write_accepted", fmt.Sprint(*e.WriteAccepted), fmt.Sprint(res.WriteAccepted))
	}
	if e.ReadAccepted != nil && *e.ReadAccepted != res.ReadAccepted {
		add("read_accepted", fmt.Sprint(*e.ReadAccepted), fmt.Sprint(res.ReadAccepted))
	}
	return out
}
