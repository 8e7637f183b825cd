// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package scenario defines data-driven FIFO verification scenarios.
//
// A scenario is a named FIFO configuration plus an ordered list of steps.
// Each step holds a set of inputs for one or more clock edges and may carry
// expectations checked after its last edge:
//
//	name: drain-to-underflow
//	fifo: {depth: 4, low_watermark: 1, high_watermark: 3}
//	steps:
//	  - write: 0x01
//	  - read: true
//	    expect: {output: 0x01, count: 0, flags: [empty, almost_empty]}
//	  - read: true
//	    expect: {flags: [underflow], count: 0}
//	  - cycles: 2
//	    expect: {not_flags: [underflow]}
//
// Files may hold several YAML documents, one scenario each.
package scenario

import (
	"bytes"
	"errors"
	"fmt"
	"io"

	"github.com/AleutianAI/AleutianFIFO/pkg/fifo"
	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// Limits for scenario files.
const (
	// MaxScenarioBytes bounds a single scenario file.
	MaxScenarioBytes = 1024 * 1024

	// MaxStepCycles bounds how long one step may hold its inputs.
	MaxStepCycles = 1_000_000
)

// Sentinel errors for scenario parsing.
var (
	// ErrInvalidScenario indicates a scenario failed validation.
	ErrInvalidScenario = errors.New("invalid scenario")

	// ErrNoScenarios indicates a file or directory contained no scenarios.
	ErrNoScenarios = errors.New("no scenarios found")

	// ErrUnknownBuiltin indicates a builtin name did not match.
	ErrUnknownBuiltin = errors.New("unknown builtin scenario")

	// ErrTooLarge indicates a scenario file exceeds MaxScenarioBytes.
	ErrTooLarge = errors.New("scenario file too large")
)

// =============================================================================
// Types
// =============================================================================

// Scenario is one verification sequence.
type Scenario struct {
	Name        string       `yaml:"name" json:"name" validate:"required,max=128"`
	Description string       `yaml:"description,omitempty" json:"description,omitempty" validate:"max=1024"`
	FIFO        *fifo.Config `yaml:"fifo,omitempty" json:"fifo,omitempty"`
	Steps       []Step       `yaml:"steps" json:"steps" validate:"required,min=1,dive"`

	// Source is the file the scenario was loaded from, if any.
	Source string `yaml:"-" json:"source,omitempty"`
}

// Step holds inputs for Cycles edges (default 1) and optional checks.
type Step struct {
	Reset   bool    `yaml:"reset,omitempty" json:"reset,omitempty"`
	Write   *uint8  `yaml:"write,omitempty" json:"write,omitempty"`
	Read    bool    `yaml:"read,omitempty" json:"read,omitempty"`
	Cycles  int     `yaml:"cycles,omitempty" json:"cycles,omitempty" validate:"gte=0,lte=1000000"`
	Clear   bool    `yaml:"clear_errors,omitempty" json:"clear_errors,omitempty"`
	Expect  *Expect `yaml:"expect,omitempty" json:"expect,omitempty"`
	Comment string  `yaml:"comment,omitempty" json:"comment,omitempty"`
}

// Expect lists checks applied after a step. Nil fields are not checked.
type Expect struct {
	Count         *int     `yaml:"count,omitempty" json:"count,omitempty" validate:"omitempty,gte=0"`
	Output        *uint8   `yaml:"output,omitempty" json:"output,omitempty"`
	Status        *uint8   `yaml:"status,omitempty" json:"status,omitempty" validate:"omitempty,lte=63"`
	Flags         []string `yaml:"flags,omitempty" json:"flags,omitempty" validate:"dive,fifoflag"`
	NotFlags      []string `yaml:"not_flags,omitempty" json:"not_flags,omitempty" validate:"dive,fifoflag"`
	WriteAccepted *bool    `yaml:"write_accepted,omitempty" json:"write_accepted,omitempty"`
	ReadAccepted  *bool    `yaml:"read_accepted,omitempty" json:"read_accepted,omitempty"`
}

// Inputs returns the controller inputs for this step.
func (s Step) Inputs() fifo.Inputs {
	in := fifo.Inputs{Reset: s.Reset, Read: s.Read}
	if s.Write != nil {
		in.Write = true
		in.Data = *s.Write
	}
	return in
}

// Edges returns the number of edges the step holds its inputs for.
func (s Step) Edges() int {
	if s.Cycles <= 0 {
		return 1
	}
	return s.Cycles
}

// Config returns the FIFO configuration, falling back to fifo.DefaultConfig.
func (s *Scenario) Config() fifo.Config {
	if s.FIFO == nil {
		return fifo.DefaultConfig()
	}
	return *s.FIFO
}

// TotalEdges returns the number of clock edges the scenario applies.
func (s *Scenario) TotalEdges() int {
	n := 0
	for _, step := range s.Steps {
		n += step.Edges()
	}
	return n
}

// =============================================================================
// Validation
// =============================================================================

var validate *validator.Validate

func init() {
	validate = validator.New()
	_ = validate.RegisterValidation("fifoflag", validateFlagName)
}

// validateFlagName accepts the six status flag names.
func validateFlagName(fl validator.FieldLevel) bool {
	_, err := fifo.ParseFlag(fl.Field().String())
	return err == nil
}

// Validate checks struct constraints, the FIFO configuration, and that
// expectations are consistent with the configured depth.
func (s *Scenario) Validate() error {
	if err := validate.Struct(s); err != nil {
		return fmt.Errorf("%w: %s: %w", ErrInvalidScenario, s.Name, err)
	}
	cfg := s.Config()
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("%w: %s: %w", ErrInvalidScenario, s.Name, err)
	}
	for i, step := range s.Steps {
		if step.Expect != nil && step.Expect.Count != nil && *step.Expect.Count > cfg.Depth {
			return fmt.Errorf("%w: %s: step %d expects count %d above depth %d",
				ErrInvalidScenario, s.Name, i, *step.Expect.Count, cfg.Depth)
		}
	}
	return nil
}

// =============================================================================
// Parsing
// =============================================================================

// Parse decodes every YAML document in data and validates each scenario.
// Unknown fields are rejected.
func Parse(data []byte) ([]*Scenario, error) {
	if len(data) > MaxScenarioBytes {
		return nil, fmt.Errorf("%w: %d bytes", ErrTooLarge, len(data))
	}

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)

	var out []*Scenario
	for {
		var s Scenario
		err := dec.Decode(&s)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("decode scenario %d: %w", len(out), err)
		}
		if err := s.Validate(); err != nil {
			return nil, err
		}
		out = append(out, &s)
	}
	if len(out) == 0 {
		return nil, ErrNoScenarios
	}
	return out, nil
}

// Marshal encodes a scenario as YAML.
func Marshal(s *Scenario) ([]byte, error) {
	return yaml.Marshal(s)
}
