// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package server

import "errors"

var (
	// ErrSessionNotFound indicates no session has the requested ID.
	ErrSessionNotFound = errors.New("session not found")

	// ErrTooManySessions indicates the session limit was reached.
	ErrTooManySessions = errors.New("too many sessions")

	// ErrRateLimited indicates a session exceeded its step rate.
	ErrRateLimited = errors.New("step rate limit exceeded")

	// ErrStoreDisabled indicates trace queries without a trace store.
	ErrStoreDisabled = errors.New("trace store not configured")

	// ErrAmbiguousScenario indicates a run request named both or neither
	// of a builtin and inline YAML.
	ErrAmbiguousScenario = errors.New("exactly one of builtin or yaml is required")
)
