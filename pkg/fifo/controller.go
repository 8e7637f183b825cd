// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package fifo

import "fmt"

// Item is one entry of the FIFO. The data path is eight bits wide.
type Item = uint8

// Inputs are the signals sampled at one clock edge.
//
// Reset is the logical "reset asserted" level. Pin polarity (the observed
// interface uses an active-low rst_n) is handled by the binding layer.
type Inputs struct {
	Reset bool `json:"reset"`
	Write bool `json:"write"`
	Data  Item `json:"data"`
	Read  bool `json:"read"`
}

// StepResult describes the controller state after one edge.
type StepResult struct {
	// Cycle is the number of edges applied so far, including this one.
	Cycle uint64 `json:"cycle"`

	// Status is the status bus for the cycle following this edge.
	Status StatusBus `json:"status"`

	// Count is the live item count after the edge.
	Count int `json:"count"`

	// Output is the output register. It holds its previous value unless
	// OutputUpdated is true.
	Output Item `json:"output"`

	// WriteAccepted is true when a write request was committed.
	WriteAccepted bool `json:"write_accepted"`

	// ReadAccepted is true when a read request was committed.
	ReadAccepted bool `json:"read_accepted"`

	// OutputUpdated is true when an accepted read loaded a new item.
	OutputUpdated bool `json:"output_updated"`

	// Reset is true when the edge was a reset edge.
	Reset bool `json:"reset"`
}

// Snapshot is a read-only copy of the controller's full state.
type Snapshot struct {
	Config   Config    `json:"config"`
	Cycle    uint64    `json:"cycle"`
	Count    int       `json:"count"`
	WritePtr int       `json:"write_ptr"`
	ReadPtr  int       `json:"read_ptr"`
	Output   Item      `json:"output"`
	Status   StatusBus `json:"status"`

	// Items holds the queued entries, oldest first.
	Items []Item `json:"items"`
}

// Controller is the Storage Core: a fixed-capacity circular buffer with
// write/read pointers, a live count, and a registered output.
//
// A Controller is created in the reset state. It is not safe for
// concurrent use.
type Controller struct {
	cfg Config

	buf      []Item
	writePtr int
	readPtr  int
	count    int
	output   Item

	// overflow and underflow hold the reject flags visible in the current
	// cycle (transient) or the latched flags (sticky).
	overflow  bool
	underflow bool

	cycle uint64
}

// New creates a controller in the reset state.
//
// Inputs:
//
//	cfg - Depth and watermarks. Must pass Config.Validate.
//
// Outputs:
//
//	*Controller - Ready for Step.
//	error - Wraps ErrInvalidConfig if cfg is out of range.
func New(cfg Config) (*Controller, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	c := &Controller{
		cfg: cfg,
		buf: make([]Item, cfg.Depth),
	}
	c.Reset()
	return c, nil
}

// Step applies one clock edge.
//
// Reset takes priority over the request lines. Otherwise a read is checked
// against the count held before the edge, and a write against that count
// minus any read accepted on the same edge, so a read and a write against a
// full buffer both commit. A write never satisfies a same-edge read against
// an empty buffer.
func (c *Controller) Step(in Inputs) StepResult {
	c.cycle++

	if in.Reset {
		c.Reset()
		res := c.result()
		res.Reset = true
		return res
	}

	readAccepted := in.Read && c.count > 0
	readRejected := in.Read && !readAccepted

	occupied := c.count
	if readAccepted {
		occupied--
	}
	writeAccepted := in.Write && occupied < c.cfg.Depth
	writeRejected := in.Write && !writeAccepted

	if readAccepted {
		c.output = c.buf[c.readPtr]
		c.readPtr = (c.readPtr + 1) % c.cfg.Depth
		c.count--
	}
	if writeAccepted {
		c.buf[c.writePtr] = in.Data
		c.writePtr = (c.writePtr + 1) % c.cfg.Depth
		c.count++
	}

	switch c.cfg.FlagMode {
	case FlagsSticky:
		c.overflow = writeRejected || (c.overflow && !writeAccepted)
		c.underflow = readRejected || (c.underflow && !readAccepted)
	default:
		c.overflow = writeRejected
		c.underflow = readRejected
	}

	if c.cfg.CheckInvariants {
		if err := c.verify(); err != nil {
			panic(err)
		}
	}

	res := c.result()
	res.WriteAccepted = writeAccepted
	res.ReadAccepted = readAccepted
	res.OutputUpdated = readAccepted
	return res
}

// Reset forces the power-on state: empty buffer, both pointers at zero,
// output register cleared and reject flags cleared. It does not count as an
// edge. Calling it repeatedly has the same effect as calling it once.
func (c *Controller) Reset() {
	for i := range c.buf {
		c.buf[i] = 0
	}
	c.writePtr = 0
	c.readPtr = 0
	c.count = 0
	c.output = 0
	c.overflow = false
	c.underflow = false
}

// ClearErrors drops latched overflow and underflow flags. In transient mode
// it only affects the status of the current cycle.
func (c *Controller) ClearErrors() {
	c.overflow = false
	c.underflow = false
}

// Count returns the number of queued items.
func (c *Controller) Count() int { return c.count }

// Output returns the output register.
func (c *Controller) Output() Item { return c.output }

// Cycle returns the number of edges applied.
func (c *Controller) Cycle() uint64 { return c.cycle }

// Config returns the construction-time configuration.
func (c *Controller) Config() Config { return c.cfg }

// Status returns the status bus for the current cycle.
func (c *Controller) Status() StatusBus {
	return Flags(c.cfg, c.count, c.overflow, c.underflow)
}

// Snapshot copies the full controller state.
func (c *Controller) Snapshot() Snapshot {
	items := make([]Item, 0, c.count)
	for i := 0; i < c.count; i++ {
		items = append(items, c.buf[(c.readPtr+i)%c.cfg.Depth])
	}
	return Snapshot{
		Config:   c.cfg,
		Cycle:    c.cycle,
		Count:    c.count,
		WritePtr: c.writePtr,
		ReadPtr:  c.readPtr,
		Output:   c.output,
		Status:   c.Status(),
		Items:    items,
	}
}

func (c *Controller) result() StepResult {
	return StepResult{
		Cycle:  c.cycle,
		Status: c.Status(),
		Count:  c.count,
		Output: c.output,
	}
}

// verify checks the count and pointer invariants.
//
// When full the pointers alias (write_ptr == read_ptr), which is the same
// relation as empty; count disambiguates.
func (c *Controller) verify() error {
	if c.count < 0 || c.count > c.cfg.Depth {
		return fmt.Errorf("%w: count %d outside [0, %d] at cycle %d",
			ErrInvariant, c.count, c.cfg.Depth, c.cycle)
	}
	if c.writePtr < 0 || c.writePtr >= c.cfg.Depth || c.readPtr < 0 || c.readPtr >= c.cfg.Depth {
		return fmt.Errorf("%w: pointers wp=%d rp=%d outside [0, %d) at cycle %d",
			ErrInvariant, c.writePtr, c.readPtr, c.cfg.Depth, c.cycle)
	}
	diff := (c.writePtr - c.readPtr + c.cfg.Depth) % c.cfg.Depth
	if diff != c.count%c.cfg.Depth {
		return fmt.Errorf("%w: count %d disagrees with pointers wp=%d rp=%d at cycle %d",
			ErrInvariant, c.count, c.writePtr, c.readPtr, c.cycle)
	}
	if s := c.Status(); s.Empty && s.Full {
		return fmt.Errorf("%w: empty and full both set at cycle %d", ErrInvariant, c.cycle)
	}
	return nil
}
