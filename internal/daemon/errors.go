// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package daemon

import "errors"

var (
	// ErrMissingRuntime is returned when an App is created without a runtime.
	ErrMissingRuntime = errors.New("runtime is required")

	// ErrMissingListener is returned when Run is called without a listener.
	ErrMissingListener = errors.New("listener is required")
)
