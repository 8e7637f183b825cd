// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package scenario

import (
	"context"
	"embed"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
)

//go:embed builtin/*.yaml
var builtinFS embed.FS

var (
	scenarioLoadErrors = promauto.NewCounter(prometheus.CounterOpts{
		Name: "fifosim_scenario_load_errors_total",
		Help: "Total scenario files that failed to load",
	})

	scenarioLoadDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "fifosim_scenario_load_duration_seconds",
		Help:    "Duration of scenario file loading",
		Buckets: []float64{0.0005, 0.001, 0.01, 0.05, 0.1},
	})
)

var tracer = otel.Tracer("fifosim.scenario")

// IsScenarioFile reports whether path has a scenario file extension.
func IsScenarioFile(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	return ext == ".yaml" || ext == ".yml"
}

// Load reads and parses one scenario file.
//
// Inputs:
//   - ctx: Used for tracing only.
//   - path: YAML file holding one or more scenario documents.
//
// Outputs:
//   - []*Scenario: Parsed scenarios with Source set to path.
//   - error: ErrTooLarge, ErrInvalidScenario, ErrNoScenarios, or an I/O error.
func Load(ctx context.Context, path string) ([]*Scenario, error) {
	_, span := tracer.Start(ctx, "scenario.Load")
	defer span.End()
	span.SetAttributes(attribute.String("path", path))

	start := time.Now()
	defer func() { scenarioLoadDuration.Observe(time.Since(start).Seconds()) }()

	info, err := os.Stat(path)
	if err != nil {
		scenarioLoadErrors.Inc()
		return nil, fmt.Errorf("stat scenario file: %w", err)
	}
	if info.Size() > MaxScenarioBytes {
		scenarioLoadErrors.Inc()
		return nil, fmt.Errorf("%w: %s is %d bytes", ErrTooLarge, path, info.Size())
	}

	data, err := os.ReadFile(path)
	if err != nil {
		scenarioLoadErrors.Inc()
		return nil, fmt.Errorf("reading scenario file: %w", err)
	}

	out, err := Parse(data)
	if err != nil {
		scenarioLoadErrors.Inc()
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	for _, s := range out {
		s.Source = path
	}
	span.SetAttributes(attribute.Int("scenarios", len(out)))
	return out, nil
}

// LoadDir loads every *.yaml and *.yml file directly inside dir, in name order.
// Subdirectories are not searched.
func LoadDir(ctx context.Context, dir string) ([]*Scenario, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("reading scenario dir: %w", err)
	}

	var names []string
	for _, e := range entries {
		if e.IsDir() || !IsScenarioFile(e.Name()) {
			continue
		}
		names = append(names, e.Name())
	}
	sort.Strings(names)

	var out []*Scenario
	for _, name := range names {
		loaded, err := Load(ctx, filepath.Join(dir, name))
		if err != nil {
			return nil, err
		}
		out = append(out, loaded...)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("%w in %s", ErrNoScenarios, dir)
	}
	return out, nil
}

// LoadPaths loads each path as a file or a directory.
func LoadPaths(ctx context.Context, paths []string) ([]*Scenario, error) {
	var out []*Scenario
	for _, p := range paths {
		info, err := os.Stat(p)
		if err != nil {
			return nil, fmt.Errorf("stat %s: %w", p, err)
		}
		var loaded []*Scenario
		if info.IsDir() {
			loaded, err = LoadDir(ctx, p)
		} else {
			loaded, err = Load(ctx, p)
		}
		if err != nil {
			return nil, err
		}
		out = append(out, loaded...)
	}
	return out, nil
}

// =============================================================================
// Builtin Scenarios
// =============================================================================

// Builtin returns the embedded scenarios in file name order.
// Each call returns fresh copies the caller may modify.
func Builtin() []*Scenario {
	files, err := fs.Glob(builtinFS, "builtin/*.yaml")
	if err != nil {
		panic(fmt.Sprintf("builtin scenarios: %v", err))
	}
	sort.Strings(files)

	var out []*Scenario
	for _, f := range files {
		data, err := builtinFS.ReadFile(f)
		if err != nil {
			panic(fmt.Sprintf("builtin scenario %s: %v", f, err))
		}
		parsed, err := Parse(data)
		if err != nil {
			panic(fmt.Sprintf("builtin scenario %s: %v", f, err))
		}
		for _, s := range parsed {
			s.Source = "builtin:" + filepath.Base(f)
		}
		out = append(out, parsed...)
	}
	return out
}

// BuiltinByName returns the builtin scenario with the given name.
func BuiltinByName(name string) (*Scenario, error) {
	for _, s := range Builtin() {
		if s.Name == name {
			return s, nil
		}
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownBuiltin, name)
}

// BuiltinNames lists the builtin scenario names.
func BuiltinNames() []string {
	all := Builtin()
	names := make([]string, 0, len(all))
	for _, s := range all {
		names = append(names, s.Name)
	}
	return names
}
