// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/AleutianAI/AleutianFIFO/pkg/fifo"
	"gopkg.in/yaml.v3"
)

// TestCreateDefault verifies default config creation.
func TestCreateDefault(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), ".aleutian", "fifosim.yaml")

	if err := createDefault(configPath); err != nil {
		t.Fatalf("createDefault() failed: %v", err)
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		t.Fatalf("failed to read config file: %v", err)
	}

	var cfg FIFOSimConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		t.Fatalf("failed to parse config: %v", err)
	}
	if cfg.FIFO != fifo.DefaultConfig() {
		t.Errorf("FIFO = %+v, want %+v", cfg.FIFO, fifo.DefaultConfig())
	}
	if cfg.Server.ShutdownTimeout != 10*time.Second {
		t.Errorf("ShutdownTimeout = %v, want 10s", cfg.Server.ShutdownTimeout)
	}
	if !cfg.Trace.Store.Enabled {
		t.Error("trace store should be enabled by default")
	}
}

// TestLoad_FirstRun verifies the default path is created under HOME.
func TestLoad_FirstRun(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}
	if cfg.FIFO.Depth != 4 {
		t.Errorf("Depth = %d, want 4", cfg.FIFO.Depth)
	}
	if _, err := os.Stat(filepath.Join(home, ".aleutian", "fifosim.yaml")); err != nil {
		t.Errorf("default config not written: %v", err)
	}
}

// TestLoad_ExplicitPathMissing verifies an explicit path is not created.
func TestLoad_ExplicitPathMissing(t *testing.T) {
	path := filepath.Join(t.TempDir(), "missing.yaml")
	if _, err := Load(path); err == nil {
		t.Fatal("expected error for missing explicit config")
	}
	if _, err := os.Stat(path); !errors.Is(err, os.ErrNotExist) {
		t.Error("explicit config path should not be created")
	}
}

// TestParse_PartialKeepsDefaults verifies omitted sections keep defaults.
func TestParse_PartialKeepsDefaults(t *testing.T) {
	cfg, err := Parse([]byte(`
fifo:
  depth: 16
  low_watermark: 2
  high_watermark: 14
  flag_mode: sticky
server:
  port: 9000
`))
	if err != nil {
		t.Fatalf("Parse() failed: %v", err)
	}
	if cfg.FIFO.Depth != 16 || cfg.FIFO.FlagMode != fifo.FlagsSticky {
		t.Errorf("FIFO = %+v", cfg.FIFO)
	}
	if cfg.Server.Port != 9000 {
		t.Errorf("Port = %d, want 9000", cfg.Server.Port)
	}
	if cfg.Server.MaxSessions != 64 {
		t.Errorf("MaxSessions = %d, want default 64", cfg.Server.MaxSessions)
	}
	if cfg.Bus.SampleStages != 1 {
		t.Errorf("SampleStages = %d, want 1", cfg.Bus.SampleStages)
	}
}

// TestParse_Invalid verifies validation failures.
func TestParse_Invalid(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{"watermarks inverted", "fifo: {depth: 4, low_watermark: 3, high_watermark: 1}"},
		{"zero depth", "fifo: {depth: 0}"},
		{"bad port", "server: {port: 70000}"},
		{"bad log level", "logging: {level: loud}"},
		{"bad exporter", "telemetry: {trace_exporter: zipkin}"},
		{"negative stages", "bus: {sample_stages: -1}"},
		{"store without path", "trace: {store: {enabled: true, path: \"\"}}"},
		{"bad flag mode", "fifo: {flag_mode: latched}"},
		{"not yaml", "fifo: ["},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Parse([]byte(tc.yaml))
			if !errors.Is(err, ErrInvalidConfig) {
				t.Errorf("Parse() error = %v, want ErrInvalidConfig", err)
			}
		})
	}
}

// TestWrite_RoundTrip verifies Write output loads back unchanged.
func TestWrite_RoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "fifosim.yaml")
	want := DefaultConfig()
	want.FIFO = fifo.ConfigForDepth(16)
	want.Trace.Influx.Enabled = true
	want.Logging.Level = "debug"

	if err := Write(path, want); err != nil {
		t.Fatalf("Write() failed: %v", err)
	}
	got, err := Load(path)
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}
	if got.FIFO != want.FIFO {
		t.Errorf("FIFO = %+v, want %+v", got.FIFO, want.FIFO)
	}
	if !got.Trace.Influx.Enabled || got.Trace.Influx.Bucket != "fifosim" {
		t.Errorf("Influx = %+v", got.Trace.Influx)
	}
	if got.Logging.Level != "debug" {
		t.Errorf("Logging.Level = %q", got.Logging.Level)
	}
}

// TestWrite_RejectsInvalid verifies nothing is written for a bad config.
func TestWrite_RejectsInvalid(t *testing.T) {
	path := filepath.Join(t.TempDir(), "fifosim.yaml")
	cfg := DefaultConfig()
	cfg.FIFO.Depth = 0
	if err := Write(path, cfg); !errors.Is(err, ErrInvalidConfig) {
		t.Fatalf("Write() error = %v, want ErrInvalidConfig", err)
	}
	if _, err := os.Stat(path); err == nil {
		t.Error("invalid config should not be written")
	}
}

// TestLoggerConfig verifies level conversion.
func TestLoggerConfig(t *testing.T) {
	lc := LoggingConfig{Level: "warn", Dir: "/tmp/x", JSON: true}.LoggerConfig("fifosim")
	if lc.Level.String() != "WARN" || lc.Service != "fifosim" || !lc.JSON || lc.LogDir != "/tmp/x" {
		t.Errorf("LoggerConfig() = %+v", lc)
	}
}
