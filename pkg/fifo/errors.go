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

import "errors"

// Sentinel errors for the FIFO model.
var (
	// ErrInvalidConfig indicates the depth or watermarks are out of range.
	ErrInvalidConfig = errors.New("invalid fifo configuration")

	// ErrInvariant indicates an internal-consistency check failed.
	// It is only raised (as a panic) when Config.CheckInvariants is set.
	ErrInvariant = errors.New("fifo invariant violated")

	// ErrUnknownFlag indicates a status flag name could not be parsed.
	ErrUnknownFlag = errors.New("unknown status flag")

	// ErrUnknownFlagMode indicates a flag mode name could not be parsed.
	ErrUnknownFlagMode = errors.New("unknown flag mode")
)
