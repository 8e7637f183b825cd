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
	"os"
	"path/filepath"
	"testing"

	"github.com/AleutianAI/AleutianFIFO/pkg/fifo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const twoDocs = `
name: first
steps:
  - write: 0x3F
    expect: {count: 1, flags: [almost-empty]}
---
name: second
fifo: {depth: 8, low_watermark: 2, high_watermark: 6, flag_mode: sticky}
steps:
  - read: true
    cycles: 3
    expect: {not_flags: [full]}
`

func TestParse_MultiDocument(t *testing.T) {
	got, err := Parse([]byte(twoDocs))
	require.NoError(t, err)
	require.Len(t, got, 2)

	first := got[0]
	assert.Equal(t, "first", first.Name)
	assert.Equal(t, fifo.DefaultConfig(), first.Config())
	require.Len(t, first.Steps, 1)
	in := first.Steps[0].Inputs()
	assert.True(t, in.Write)
	assert.Equal(t, uint8(0x3F), in.Data)
	assert.Equal(t, 1, first.Steps[0].Edges())

	second := got[1]
	cfg := second.Config()
	assert.Equal(t, 8, cfg.Depth)
	assert.Equal(t, fifo.FlagsSticky, cfg.FlagMode)
	assert.Equal(t, 3, second.Steps[0].Edges())
	assert.Equal(t, 3, second.TotalEdges())
	assert.False(t, second.Steps[0].Inputs().Write)
}

func TestParse_Errors(t *testing.T) {
	cases := []struct {
		name string
		yaml string
	}{
		{"empty", ""},
		{"no name", "steps: [{read: true}]"},
		{"no steps", "name: x"},
		{"unknown field", "name: x\nbogus: 1\nsteps: [{read: true}]"},
		{"bad flag", "name: x\nsteps: [{expect: {flags: [halfway]}}]"},
		{"status out of range", "name: x\nsteps: [{expect: {status: 64}}]"},
		{"negative cycles", "name: x\nsteps: [{cycles: -1}]"},
		{"bad fifo", "name: x\nfifo: {depth: 0}\nsteps: [{read: true}]"},
		{"bad flag mode", "name: x\nfifo: {depth: 4, high_watermark: 4, flag_mode: latched}\nsteps: [{read: true}]"},
		{"count above depth", "name: x\nfifo: {depth: 2, high_watermark: 2}\nsteps: [{expect: {count: 3}}]"},
		{"data too wide", "name: x\nsteps: [{write: 256}]"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Parse([]byte(tc.yaml))
			assert.Error(t, err)
		})
	}
}

func TestParse_ErrorKinds(t *testing.T) {
	_, err := Parse(nil)
	assert.ErrorIs(t, err, ErrNoScenarios)

	_, err = Parse([]byte("name: x\nsteps: [{expect: {flags: [nope]}}]"))
	assert.ErrorIs(t, err, ErrInvalidScenario)

	_, err = Parse([]byte("name: x\nfifo: {depth: 0}\nsteps: [{read: true}]"))
	assert.ErrorIs(t, err, ErrInvalidScenario)
	assert.ErrorIs(t, err, fifo.ErrInvalidConfig)

	big := make([]byte, MaxScenarioBytes+1)
	_, err = Parse(big)
	assert.ErrorIs(t, err, ErrTooLarge)
}

func TestMarshal_RoundTrip(t *testing.T) {
	s, err := BuiltinByName("sticky-errors")
	require.NoError(t, err)

	data, err := Marshal(s)
	require.NoError(t, err)
	assert.Contains(t, string(data), "flag_mode: sticky")

	back, err := Parse(data)
	require.NoError(t, err)
	require.Len(t, back, 1)
	assert.Equal(t, s.Config(), back[0].Config())
	assert.Equal(t, len(s.Steps), len(back[0].Steps))
}

func TestLoadAndLoadDir(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	require.NoError(t, os.WriteFile(filepath.Join(dir, "b.yaml"), []byte(twoDocs), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.yml"), []byte("name: a\nsteps: [{read: true}]\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("ignored"), 0o644))
	require.NoError(t, os.Mkdir(filepath.Join(dir, "nested"), 0o755))

	one, err := Load(ctx, filepath.Join(dir, "b.yaml"))
	require.NoError(t, err)
	require.Len(t, one, 2)
	assert.Equal(t, filepath.Join(dir, "b.yaml"), one[0].Source)

	all, err := LoadDir(ctx, dir)
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "a", all[0].Name)
	assert.Equal(t, "first", all[1].Name)

	mixed, err := LoadPaths(ctx, []string{filepath.Join(dir, "a.yml"), dir})
	require.NoError(t, err)
	assert.Len(t, mixed, 4)

	_, err = LoadDir(ctx, filepath.Join(dir, "nested"))
	assert.ErrorIs(t, err, ErrNoScenarios)

	_, err = Load(ctx, filepath.Join(dir, "missing.yaml"))
	assert.Error(t, err)
}

func TestLoad_InvalidFileNamesPath(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "broken.yaml")
	require.NoError(t, os.WriteFile(path, []byte("name: broken\nsteps: []\n"), 0o644))

	_, err := Load(context.Background(), path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "broken.yaml")
}

func TestBuiltin(t *testing.T) {
	all := Builtin()
	require.NotEmpty(t, all)

	names := BuiltinNames()
	assert.Len(t, names, len(all))
	for _, want := range []string{
		"fill-to-overflow", "drain-to-underflow", "simultaneous-at-full",
		"stream-add-remove", "add-two-remove-two", "underflow-on-empty",
		"status-fill-drain", "sticky-errors",
	} {
		assert.Contains(t, names, want)
	}

	seen := map[string]bool{}
	for _, s := range all {
		assert.False(t, seen[s.Name], "duplicate builtin %s", s.Name)
		seen[s.Name] = true
		assert.NoError(t, s.Validate())
		assert.Contains(t, s.Source, "builtin:")
	}

	_, err := BuiltinByName("nope")
	assert.ErrorIs(t, err, ErrUnknownBuiltin)
}

func TestBuiltin_ReturnsCopies(t *testing.T) {
	a, err := BuiltinByName("fill-to-overflow")
	require.NoError(t, err)
	a.Name = "changed"

	b, err := BuiltinByName("fill-to-overflow")
	require.NoError(t, err)
	assert.Equal(t, "fill-to-overflow", b.Name)
}

func TestIsScenarioFile(t *testing.T) {
	assert.True(t, IsScenarioFile("x.yaml"))
	assert.True(t, IsScenarioFile("X.YML"))
	assert.False(t, IsScenarioFile("x.json"))
	assert.False(t, IsScenarioFile("yaml"))
}
