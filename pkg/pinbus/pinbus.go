// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package pinbus binds the FIFO's logical interface onto an 8-bit
// TinyTapeout-style pin set.
//
// # Pin Map
//
//	ui_in[7:0]    input data bus
//	uio_in[6]     write_enable
//	uio_in[7]     read_request
//	uio_out[5:0]  status bus (fifo.StatusBits order)
//	uio_oe        0x3F (low six bidirectional pins drive status)
//	uo_out[7:0]   output data bus
//	rst_n         active-low reset
//
// # Sampling Stages
//
// Test benches observing the physical bus see the controller's outputs
// through one or more registering stages. Binding models those stages
// explicitly (SampleStages) so the controller itself keeps exactly one
// register of read latency. With the default of one stage, an item read at
// edge N appears on uo_out after edge N+1.
package pinbus

import (
	"fmt"

	"github.com/AleutianAI/AleutianFIFO/pkg/fifo"
)

// Bidirectional pin assignments.
const (
	// WriteEnable is uio bit 6.
	WriteEnable uint8 = 1 << 6

	// ReadRequest is uio bit 7.
	ReadRequest uint8 = 1 << 7

	// StatusOE is the output-enable mask for the status pins.
	StatusOE = uint8(fifo.StatusMask)
)

// DefaultSampleStages is the number of bus registers between the
// controller and the observable pins.
const DefaultSampleStages = 1

// Pins is the state of every pin at one clock edge.
type Pins struct {
	UIIn   uint8 `json:"ui_in"`
	UOOut  uint8 `json:"uo_out"`
	UIOIn  uint8 `json:"uio_in"`
	UIOOut uint8 `json:"uio_out"`
	UIOOE  uint8 `json:"uio_oe"`
	RstN   bool  `json:"rst_n"`
}

// Status decodes the status pins.
func (p Pins) Status() fifo.StatusBus {
	return fifo.StatusBits(p.UIOOut & StatusOE).Unpack()
}

// WritePins returns input pins requesting a write of v.
func WritePins(v uint8) Pins {
	return Pins{UIIn: v, UIOIn: WriteEnable, RstN: true}
}

// ReadPins returns input pins requesting a read.
func ReadPins() Pins {
	return Pins{UIOIn: ReadRequest, RstN: true}
}

// IdlePins returns input pins with no request and reset released.
func IdlePins() Pins {
	return Pins{RstN: true}
}

// ResetPins returns input pins with reset asserted.
func ResetPins() Pins {
	return Pins{}
}

// Decode converts input pins to controller inputs.
func Decode(p Pins) fifo.Inputs {
	return fifo.Inputs{
		Reset: !p.RstN,
		Write: p.UIOIn&WriteEnable != 0,
		Data:  p.UIIn,
		Read:  p.UIOIn&ReadRequest != 0,
	}
}

type stage struct {
	out    uint8
	status fifo.StatusBits
}

// Binding drives a controller from pin values.
type Binding struct {
	ctrl   *fifo.Controller
	stages []stage
	last   fifo.StepResult
}

// New creates a binding around ctrl with the given number of sampling
// stages. Zero stages exposes the controller's outputs directly.
func New(ctrl *fifo.Controller, sampleStages int) (*Binding, error) {
	if ctrl == nil {
		return nil, fmt.Errorf("pinbus: controller must not be nil")
	}
	if sampleStages < 0 {
		return nil, fmt.Errorf("pinbus: sample stages %d must not be negative", sampleStages)
	}
	b := &Binding{
		ctrl:   ctrl,
		stages: make([]stage, sampleStages),
	}
	b.resetStages()
	return b, nil
}

// Controller returns the bound controller.
func (b *Binding) Controller() *fifo.Controller { return b.ctrl }

// Last returns the controller result of the most recent edge.
func (b *Binding) Last() fifo.StepResult { return b.last }

// Edge applies one clock edge and returns the pins as observed after it.
//
// All registers sample simultaneously: each stage captures the value its
// predecessor held before the edge, then the controller steps.
func (b *Binding) Edge(in Pins) Pins {
	inputs := Decode(in)

	core := stage{out: b.ctrl.Output(), status: b.ctrl.Status().Pack()}
	for i := len(b.stages) - 1; i > 0; i-- {
		b.stages[i] = b.stages[i-1]
	}
	if len(b.stages) > 0 {
		b.stages[0] = core
	}

	b.last = b.ctrl.Step(inputs)
	if inputs.Reset {
		b.resetStages()
	}
	return b.observe(in)
}

// Cycles holds the same input pins for n edges, like a bench waiting n
// clock cycles, and returns the pins after the last edge.
func (b *Binding) Cycles(in Pins, n int) Pins {
	out := b.observe(in)
	for i := 0; i < n; i++ {
		out = b.Edge(in)
	}
	return out
}

// Observe returns the pins as currently visible without clocking.
func (b *Binding) Observe(in Pins) Pins {
	return b.observe(in)
}

func (b *Binding) observe(in Pins) Pins {
	visible := stage{out: b.ctrl.Output(), status: b.ctrl.Status().Pack()}
	if n := len(b.stages); n > 0 {
		visible = b.stages[n-1]
	}
	out := in
	out.UOOut = visible.out
	out.UIOOut = uint8(visible.status) & StatusOE
	out.UIOOE = StatusOE
	return out
}

func (b *Binding) resetStages() {
	s := stage{out: b.ctrl.Output(), status: b.ctrl.Status().Pack()}
	for i := range b.stages {
		b.stages[i] = s
	}
}
