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
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/AleutianAI/AleutianFIFO/pkg/fifo"
	"github.com/AleutianAI/AleutianFIFO/pkg/logging"
	"github.com/AleutianAI/AleutianFIFO/pkg/pinbus"
	"github.com/AleutianAI/AleutianFIFO/services/sim/telemetry"
	"github.com/AleutianAI/AleutianFIFO/services/sim/trace"
	"github.com/go-playground/validator/v10"
)

// ErrInvalidConfig is returned when a config file fails validation.
var ErrInvalidConfig = errors.New("invalid fifosim config")

// FIFOSimConfig is the fifosim.yaml document.
type FIFOSimConfig struct {
	// FIFO: depth, watermarks, flag mode and invariant checks
	FIFO fifo.Config `yaml:"fifo"`

	// Bus: pin binding options
	Bus BusConfig `yaml:"bus"`

	// Trace: per-cycle recording destinations
	Trace TraceConfig `yaml:"trace"`

	// Telemetry: otel exporters
	Telemetry telemetry.Config `yaml:"telemetry"`

	// Server: the HTTP session API
	Server ServerConfig `yaml:"server"`

	// Logging: level, file directory and format
	Logging LoggingConfig `yaml:"logging"`
}

type BusConfig struct {
	SampleStages int `yaml:"sample_stages" validate:"gte=0,lte=8"`
}

type TraceConfig struct {
	Store  StoreConfig  `yaml:"store"`
	Influx InfluxConfig `yaml:"influx"`
}

type StoreConfig struct {
	Enabled           bool `yaml:"enabled"`
	trace.StoreConfig `yaml:",inline"`
}

type InfluxConfig struct {
	Enabled            bool `yaml:"enabled"`
	trace.InfluxConfig `yaml:",inline"`
}

type ServerConfig struct {
	Port            int           `yaml:"port" validate:"gte=1,lte=65535"`
	MaxSessions     int           `yaml:"max_sessions" validate:"gte=0"`
	StepRate        float64       `yaml:"step_rate" validate:"gte=0"`
	StepBurst       int           `yaml:"step_burst" validate:"gte=0"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" validate:"gte=0"`
}

type LoggingConfig struct {
	Level string `yaml:"level" validate:"omitempty,oneof=debug info warn warning error"`
	Dir   string `yaml:"dir"`
	JSON  bool   `yaml:"json"`
}

// LoggerConfig converts the section to a logging.Config. Level has already
// been validated, so a parse failure falls back to info.
func (l LoggingConfig) LoggerConfig(service string) logging.Config {
	level, _ := logging.ParseLevel(l.Level)
	return logging.Config{
		Level:   level,
		LogDir:  l.Dir,
		Service: service,
		JSON:    l.JSON,
	}
}

// DefaultConfig returns the configuration written on first run.
func DefaultConfig() FIFOSimConfig {
	home, _ := os.UserHomeDir()
	store := trace.DefaultStoreConfig(filepath.Join(home, ".aleutian", "fifosim", "traces"))
	return FIFOSimConfig{
		FIFO: fifo.DefaultConfig(),
		Bus:  BusConfig{SampleStages: pinbus.DefaultSampleStages},
		Trace: TraceConfig{
			Store: StoreConfig{Enabled: true, StoreConfig: store},
			Influx: InfluxConfig{
				InfluxConfig: trace.InfluxConfig{
					URL:       "http://localhost:8086",
					Org:       "aleutian",
					Bucket:    "fifosim",
					BatchSize: 100,
				},
			},
		},
		Telemetry: telemetry.DefaultConfig(),
		Server: ServerConfig{
			Port:            12230,
			MaxSessions:     64,
			StepRate:        200,
			StepBurst:       50,
			ShutdownTimeout: 10 * time.Second,
		},
		Logging: LoggingConfig{Level: "info"},
	}
}

var validate = validator.New()

// Validate checks struct constraints and the FIFO parameter ranges.
func (c *FIFOSimConfig) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	if err := c.FIFO.Validate(); err != nil {
		return fmt.Errorf("%w: fifo: %v", ErrInvalidConfig, err)
	}
	if c.Trace.Store.Enabled && !c.Trace.Store.InMemory && c.Trace.Store.Path == "" {
		return fmt.Errorf("%w: trace.store.path is required when the store is enabled", ErrInvalidConfig)
	}
	return nil
}
