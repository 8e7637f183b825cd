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
	"sync"
	"time"

	"github.com/AleutianAI/AleutianFIFO/pkg/fifo"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

var (
	tracer = otel.Tracer("fifosim.sim")
	meter  = otel.Meter("fifosim.sim")
)

var (
	edgesTotal     metric.Int64Counter
	overflowTotal  metric.Int64Counter
	underflowTotal metric.Int64Counter
	resetsTotal    metric.Int64Counter
	fillLevel      metric.Int64Histogram
	runsTotal      metric.Int64Counter
	runDuration    metric.Float64Histogram

	metricsOnce sync.Once
	metricsErr  error
)

// initMetrics creates the instruments. Safe to call multiple times.
func initMetrics() error {
	metricsOnce.Do(func() {
		var err error

		edgesTotal, err = meter.Int64Counter(
			"fifosim_edges_total",
			metric.WithDescription("Total clock edges applied"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		overflowTotal, err = meter.Int64Counter(
			"fifosim_overflow_total",
			metric.WithDescription("Write requests rejected because the buffer was full"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		underflowTotal, err = meter.Int64Counter(
			"fifosim_underflow_total",
			metric.WithDescription("Read requests rejected because the buffer was empty"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		resetsTotal, err = meter.Int64Counter(
			"fifosim_resets_total",
			metric.WithDescription("Reset edges applied"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		fillLevel, err = meter.Int64Histogram(
			"fifosim_fill_level",
			metric.WithDescription("Item count after each edge"),
			metric.WithExplicitBucketBoundaries(0, 1, 2, 4, 8, 16, 32, 64, 128),
		)
		if err != nil {
			metricsErr = err
			return
		}

		runsTotal, err = meter.Int64Counter(
			"fifosim_scenario_runs_total",
			metric.WithDescription("Scenario runs by outcome"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		runDuration, err = meter.Float64Histogram(
			"fifosim_scenario_run_duration_seconds",
			metric.WithDescription("Duration of scenario runs"),
			metric.WithUnit("s"),
		)
		if err != nil {
			metricsErr = err
			return
		}
	})
	return metricsErr
}

// recordEdge records one edge. Rejections are taken from the edge's own
// accept bits, not the status bus, so sticky flags are not double counted.
func recordEdge(ctx context.Context, in fifo.Inputs, res fifo.StepResult) {
	if err := initMetrics(); err != nil {
		return
	}
	edgesTotal.Add(ctx, 1)
	if res.Reset {
		resetsTotal.Add(ctx, 1)
		return
	}
	if in.Write && !res.WriteAccepted {
		overflowTotal.Add(ctx, 1)
	}
	if in.Read && !res.ReadAccepted {
		underflowTotal.Add(ctx, 1)
	}
	fillLevel.Record(ctx, int64(res.Count))
}

// recordRun records a finished scenario run.
func recordRun(ctx context.Context, scenario string, passed bool, d time.Duration) {
	if err := initMetrics(); err != nil {
		return
	}
	outcome := "pass"
	if !passed {
		outcome = "fail"
	}
	attrs := metric.WithAttributes(
		attribute.String("scenario", scenario),
		attribute.String("outcome", outcome),
	)
	runsTotal.Add(ctx, 1, attrs)
	runDuration.Record(ctx, d.Seconds(), attrs)
}
