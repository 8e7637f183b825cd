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
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/AleutianAI/AleutianFIFO/cmd/fifosim/config"
	"github.com/AleutianAI/AleutianFIFO/pkg/fifo"
	"github.com/AleutianAI/AleutianFIFO/pkg/ux"
	"github.com/AleutianAI/AleutianFIFO/services/sim"
	"github.com/AleutianAI/AleutianFIFO/services/sim/scenario"
	"github.com/AleutianAI/AleutianFIFO/services/sim/trace"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const passingScenario = `name: two-items
fifo: {depth: 4, low_watermark: 1, high_watermark: 3}
steps:
  - reset: true
  - write: 0x3F
  - write: 0x06
    expect: {count: 2}
  - read: true
    expect: {output: 0x3F, count: 1}
`

const failingScenario = `name: wrong-output
steps:
  - write: 0x11
  - read: true
    comment: deliberately wrong
    expect: {output: 0x22}
`

// testEnv writes a config whose trace store lives in a temp directory.
func testEnv(t *testing.T) (configPath, dir string) {
	t.Helper()
	dir = t.TempDir()
	t.Setenv("HOME", dir)

	cfg := config.DefaultConfig()
	cfg.Trace.Store.Path = filepath.Join(dir, "traces")
	cfg.Trace.Store.GCInterval = 0
	cfg.Telemetry.MetricExporter = "none"
	configPath = filepath.Join(dir, "fifosim.yaml")
	require.NoError(t, config.Write(configPath, cfg))
	return configPath, dir
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out, errOut bytes.Buffer
	cmd := newRootCmd()
	cmd.SetArgs(args)
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestRun_Builtins(t *testing.T) {
	cfgPath, _ := testEnv(t)

	out, err := execute(t, "--config", cfgPath, "-o", "json", "run")
	require.NoError(t, err)

	var reports []*sim.Report
	require.NoError(t, json.Unmarshal([]byte(out), &reports))
	assert.Len(t, reports, len(scenario.BuiltinNames()))
	assert.True(t, sim.AllPassed(reports))
}

func TestRun_PlainOutput(t *testing.T) {
	cfgPath, dir := testEnv(t)
	path := writeFile(t, dir, "ok.yaml", passingScenario)

	out, err := execute(t, "--config", cfgPath, "-o", "plain", "run", path)
	require.NoError(t, err)
	assert.Contains(t, out, "OK: two-items")
	assert.Contains(t, out, "SUMMARY: passed=1 failed=0 total=1")
	assert.NotContains(t, out, "\x1b[")
}

func TestRun_FailureExitsNonZero(t *testing.T) {
	cfgPath, dir := testEnv(t)
	path := writeFile(t, dir, "bad.yaml", failingScenario)

	out, err := execute(t, "--config", cfgPath, "-o", "plain", "run", "--builtin", path)
	require.ErrorIs(t, err, errScenariosFailed)
	assert.Contains(t, out, "FAIL: wrong-output")
	assert.Contains(t, out, "output: want 0x22, got 0x11")
	assert.Contains(t, out, "# deliberately wrong")
}

func TestRun_LoadError(t *testing.T) {
	cfgPath, dir := testEnv(t)
	path := writeFile(t, dir, "broken.yaml", "name: x\nsteps: []\n")

	_, err := execute(t, "--config", cfgPath, "run", path)
	require.Error(t, err)
	assert.NotErrorIs(t, err, errScenariosFailed)
}

func TestRun_WatchNeedsPaths(t *testing.T) {
	cfgPath, _ := testEnv(t)
	_, err := execute(t, "--config", cfgPath, "run", "--watch")
	assert.ErrorContains(t, err, "--watch")
}

func TestRecordAndTrace(t *testing.T) {
	cfgPath, dir := testEnv(t)
	path := writeFile(t, dir, "ok.yaml", passingScenario)

	_, err := execute(t, "--config", cfgPath, "-o", "plain", "run", "--record", path)
	require.NoError(t, err)

	out, err := execute(t, "--config", cfgPath, "-o", "json", "trace", "list")
	require.NoError(t, err)
	var runs []trace.RunSummary
	require.NoError(t, json.Unmarshal([]byte(out), &runs))
	require.Len(t, runs, 1)
	assert.Equal(t, "two-items", runs[0].Scenario)
	assert.Equal(t, 4, runs[0].Cycles)

	out, err = execute(t, "--config", cfgPath, "-o", "json", "trace", "show", runs[0].RunID)
	require.NoError(t, err)
	var recs []trace.Record
	require.NoError(t, json.Unmarshal([]byte(out), &recs))
	require.Len(t, recs, 4)
	assert.True(t, recs[0].Inputs.Reset)
	assert.Equal(t, uint8(0x3F), recs[3].Result.Output)

	out, err = execute(t, "--config", cfgPath, "-o", "plain", "trace", "show", runs[0].RunID)
	require.NoError(t, err)
	assert.Contains(t, out, "W 0x3F")
	assert.Contains(t, out, "reset")

	_, err = execute(t, "--config", cfgPath, "trace", "delete", runs[0].RunID)
	require.NoError(t, err)

	out, err = execute(t, "--config", cfgPath, "-o", "plain", "trace", "list")
	require.NoError(t, err)
	assert.Contains(t, out, "no recorded runs")

	_, err = execute(t, "--config", cfgPath, "trace", "show", runs[0].RunID)
	assert.ErrorIs(t, err, trace.ErrRunNotFound)
}

func TestConfigInitAndShow(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("HOME", dir)
	path := filepath.Join(dir, "sub", "fifosim.yaml")

	out, err := execute(t, "--config", path, "-o", "plain", "config", "init")
	require.NoError(t, err)
	assert.Contains(t, out, "OK: wrote "+path)

	_, err = execute(t, "--config", path, "config", "init")
	assert.ErrorContains(t, err, "already exists")

	_, err = execute(t, "--config", path, "config", "init", "--force")
	require.NoError(t, err)

	out, err = execute(t, "--config", path, "-o", "plain", "config", "show")
	require.NoError(t, err)
	assert.Contains(t, out, "depth: 4")
	assert.Contains(t, out, "flag_mode: transient")

	out, err = execute(t, "--config", path, "-o", "json", "config", "show")
	require.NoError(t, err)
	var shown map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &shown))
	assert.Contains(t, shown, "FIFO")
}

func TestInvalidOutputMode(t *testing.T) {
	cfgPath, _ := testEnv(t)
	_, err := execute(t, "--config", cfgPath, "-o", "neon", "run")
	assert.ErrorContains(t, err, "unknown output mode")
}

func TestConfigForm_Apply(t *testing.T) {
	cfg := config.DefaultConfig()
	form, apply := newConfigForm(&cfg)
	require.NotNil(t, form)

	// Unchanged answers reproduce the defaults.
	require.NoError(t, apply())
	assert.Equal(t, fifo.DefaultConfig(), cfg.FIFO)

	f := &configFields{
		depth: "16", low: "2", high: "14", flagMode: "sticky",
		sampleStages: "2", port: "9000", store: false, influx: true,
	}
	require.NoError(t, f.apply(&cfg))
	assert.Equal(t, 16, cfg.FIFO.Depth)
	assert.Equal(t, fifo.FlagsSticky, cfg.FIFO.FlagMode)
	assert.Equal(t, 2, cfg.Bus.SampleStages)
	assert.Equal(t, 9000, cfg.Server.Port)
	assert.False(t, cfg.Trace.Store.Enabled)
	assert.True(t, cfg.Trace.Influx.Enabled)

	f.high = "1"
	f.low = "3"
	assert.ErrorIs(t, f.apply(&cfg), config.ErrInvalidConfig)

	f.depth = "many"
	assert.ErrorContains(t, f.apply(&cfg), "not a number")
}

func TestIntRange(t *testing.T) {
	check := intRange(1, 10)
	assert.NoError(t, check("5"))
	assert.Error(t, check("0"))
	assert.Error(t, check("11"))
	assert.Error(t, check("x"))
}

func TestFormatInputs(t *testing.T) {
	assert.Equal(t, "reset", formatInputs(fifo.Inputs{Reset: true, Write: true}))
	assert.Equal(t, "W 0x05 R", formatInputs(fifo.Inputs{Write: true, Data: 5, Read: true}))
	assert.Equal(t, "R", formatInputs(fifo.Inputs{Read: true}))
	assert.Equal(t, "idle", formatInputs(fifo.Inputs{}))
}

func TestRenderRuns_Empty(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, renderRuns(ux.NewPrinter(&buf, ux.ModePlain), nil))
	assert.Equal(t, "no recorded runs\n", buf.String())
}
