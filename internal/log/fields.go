// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package log

// Canonical field name constants for structured logging.
const (
	// Identity fields
	FieldService       = "service"
	FieldVersion       = "version"
	FieldSessionID     = "session_id"
	FieldCorrelationID = "correlation_id"
	FieldRequestID     = "request_id"

	// Process fields
	FieldEvent     = "event"
	FieldComponent = "component"
	FieldAttempt   = "attempt"

	// State fields
	FieldOldState = "old_state"
	FieldNewState = "new_state"
	FieldReason   = "reason"

	// Transport fields
	FieldTransport  = "transport"
	FieldGeneration = "generation"
	FieldRawStatus  = "raw_status"
	FieldProgress   = "progress"

	// Source fields
	FieldSourceKind = "source_kind"
	FieldPath       = "path"
	FieldURL        = "url"
	FieldBytes      = "bytes"
)
