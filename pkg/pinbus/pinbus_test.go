// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package pinbus

import (
	"testing"

	"github.com/AleutianAI/AleutianFIFO/pkg/fifo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestBinding(t *testing.T, stages int) *Binding {
	t.Helper()
	ctrl, err := fifo.New(fifo.DefaultConfig())
	require.NoError(t, err)
	b, err := New(ctrl, stages)
	require.NoError(t, err)
	return b
}

func resetBench(b *Binding) Pins {
	b.Cycles(ResetPins(), 2)
	return b.Cycles(IdlePins(), 2)
}

// TestNew_Validation verifies constructor checks.
func TestNew_Validation(t *testing.T) {
	_, err := New(nil, 1)
	assert.Error(t, err)

	ctrl, err := fifo.New(fifo.DefaultConfig())
	require.NoError(t, err)
	_, err = New(ctrl, -1)
	assert.Error(t, err)
}

// TestDecode verifies the pin map.
func TestDecode(t *testing.T) {
	in := Decode(Pins{UIIn: 0x5B, UIOIn: WriteEnable | ReadRequest, RstN: true})
	assert.Equal(t, fifo.Inputs{Write: true, Read: true, Data: 0x5B}, in)

	in = Decode(Pins{UIOIn: WriteEnable})
	assert.True(t, in.Reset, "rst_n low asserts reset")
}

// TestReset_StatusPins verifies the post-reset status and output enables.
func TestReset_StatusPins(t *testing.T) {
	b := newTestBinding(t, DefaultSampleStages)
	out := resetBench(b)

	assert.Equal(t, StatusOE, out.UIOOE)
	assert.Equal(t, uint8(fifo.BitEmpty|fifo.BitAlmostEmpty), out.UIOOut)
	s := out.Status()
	assert.True(t, s.Empty)
	assert.True(t, s.AlmostEmpty)
}

// TestEdge_ReadLatency verifies one controller register plus one bus stage.
func TestEdge_ReadLatency(t *testing.T) {
	b := newTestBinding(t, 1)
	resetBench(b)

	b.Edge(WritePins(0x3F))
	b.Edge(IdlePins())

	out := b.Edge(ReadPins())
	assert.Equal(t, uint8(0), out.UOOut, "item not yet through the bus stage")
	assert.Equal(t, fifo.Item(0x3F), b.Controller().Output(), "controller register already holds it")

	out = b.Edge(IdlePins())
	assert.Equal(t, uint8(0x3F), out.UOOut)
	assert.True(t, out.Status().Empty)
}

// TestEdge_NoStages verifies zero stages expose the controller directly.
func TestEdge_NoStages(t *testing.T) {
	b := newTestBinding(t, 0)
	resetBench(b)

	b.Edge(WritePins(0x06))
	out := b.Edge(ReadPins())
	assert.Equal(t, uint8(0x06), out.UOOut)
}

// TestStream_AddThenRemove ports the single add / single remove bench:
// seven items pass through a four-entry FIFO one at a time, each read held
// for two cycles before sampling uo_out.
func TestStream_AddThenRemove(t *testing.T) {
	items := []uint8{0x3F, 0x06, 0x5B, 0x4F, 0x66, 0x77, 0x88}
	b := newTestBinding(t, DefaultSampleStages)
	resetBench(b)

	for _, v := range items {
		out := b.Edge(WritePins(v))
		assert.Equal(t, StatusOE, out.UIOOE)
		out = b.Cycles(ReadPins(), 2)
		assert.Equal(t, v, out.UOOut)
	}
}

// TestStatus_FillAndDrain ports the status-bit bench with single-edge
// request pulses.
func TestStatus_FillAndDrain(t *testing.T) {
	b := newTestBinding(t, DefaultSampleStages)
	resetBench(b)

	fill := []fifo.StatusBits{
		fifo.BitAlmostEmpty,
		0,
		fifo.BitAlmostFull,
		fifo.BitAlmostFull | fifo.BitFull,
	}
	for i, want := range fill {
		b.Edge(WritePins(uint8(i + 1)))
		out := b.Edge(IdlePins())
		assert.Equal(t, uint8(want), out.UIOOut, "after write %d", i+1)
	}

	b.Edge(WritePins(5))
	out := b.Edge(IdlePins())
	assert.True(t, out.Status().Overflow)
	out = b.Edge(IdlePins())
	assert.False(t, out.Status().Overflow)

	drain := []fifo.StatusBits{
		fifo.BitAlmostFull,
		0,
		fifo.BitAlmostEmpty,
		fifo.BitEmpty | fifo.BitAlmostEmpty,
	}
	for i, want := range drain {
		b.Edge(ReadPins())
		out := b.Edge(IdlePins())
		assert.Equal(t, uint8(want), out.UIOOut, "after read %d", i+1)
		assert.Equal(t, uint8(i+1), out.UOOut)
	}

	b.Edge(ReadPins())
	out = b.Edge(IdlePins())
	assert.True(t, out.Status().Underflow)
	assert.True(t, out.Status().Empty)
}

// TestReset_ClearsStages verifies reset flushes the bus registers.
func TestReset_ClearsStages(t *testing.T) {
	b := newTestBinding(t, 2)
	resetBench(b)
	b.Edge(WritePins(0x11))
	b.Edge(ReadPins())

	out := b.Edge(ResetPins())
	assert.Equal(t, uint8(0), out.UOOut)
	assert.Equal(t, uint8(fifo.BitEmpty|fifo.BitAlmostEmpty), out.UIOOut)
}
