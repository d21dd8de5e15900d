// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package http holds wire-level names shared by the control API handlers
// and middleware.
package http

// Canonical Header Names
const (
	// HeaderRequestID is the canonical header for request correlation.
	HeaderRequestID = "X-Request-ID"
)

// Canonical JSON Field Names
const (
	// JSONKeyRequestID is the canonical JSON key for request correlation in DTOs.
	JSONKeyRequestID = "requestId"
)

// Content types written by the control API.
const (
	ContentTypeJSON    = "application/json"
	ContentTypeProblem = "application/problem+json"
	ContentTypeSSE     = "text/event-stream"
)
