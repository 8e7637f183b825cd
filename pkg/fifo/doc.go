// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package fifo implements the behavioral model of a small synchronous FIFO
// controller with a write port, a read port and a six-bit status bus.
//
// # Architecture
//
// The model is a two-part state machine advanced one clock edge at a time:
//
//	         Inputs{Reset, Write, Data, Read}
//	                      │
//	                      ▼
//	┌───────────────────────────────────────┐
//	│ Storage Core                          │
//	│   circular buffer, write/read ptrs,   │
//	│   count, output register              │
//	└───────────────────┬───────────────────┘
//	                    │ count, overflow, underflow
//	                    ▼
//	┌───────────────────────────────────────┐
//	│ Flag Unit (pure)                      │
//	│   empty, almost_empty, almost_full,   │
//	│   full, overflow, underflow           │
//	└───────────────────────────────────────┘
//
// # Timing
//
// Step is the clock edge. Requests presented in the Inputs of one Step are
// committed at that edge. An accepted read loads the dequeued item into the
// output register at the same edge, so the item is observable through
// Output once Step returns, i.e. in the cycle after the request was driven.
// Any further registering between the controller and a physical bus belongs
// to a binding layer (see package pinbus), not to this model.
//
// # Error Conditions
//
// Overflow (write against a full buffer) and underflow (read against an
// empty buffer) are rejections reported on the status bus. They never
// corrupt state and are not Go errors. By default they are transient and
// visible for exactly the cycle they occurred; FlagsSticky latches them until
// a successful operation of the same kind, ClearErrors, or reset.
//
// # Thread Safety
//
// Controller is not safe for concurrent use. Exactly one Step call is
// allowed per clock edge; callers sharing a controller must serialize
// access themselves.
//
// # Example
//
//	ctrl, err := fifo.New(fifo.DefaultConfig())
//	if err != nil {
//	    return err
//	}
//	ctrl.Step(fifo.Inputs{Write: true, Data: 0x3F})
//	res := ctrl.Step(fifo.Inputs{Read: true})
//	fmt.Printf("out=%#02x status=%s\n", res.Output, res.Status)
package fifo
