// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package telemetry

import (
	"go.opentelemetry.io/otel/attribute"
)

// Common attribute keys for consistent tracing across the application.
const (
	// Session attributes
	SessionIDKey  = "upload.session_id"
	SourceKindKey = "upload.source_kind"
	AttemptKey    = "upload.attempt"
	FileSizeKey   = "upload.file_size"
	MimeTypeKey   = "upload.mime_type"
	FinalStateKey = "upload.final_state"
	ErrorKindKey  = "upload.error_kind"
	TransportKey  = "transport.kind"
	GenerationKey = "transport.generation"
	FallbackKey   = "transport.fallback_reason"
	ErrorKey      = "error"
	ErrorTypeKey  = "error.type"

	// HTTP attributes for the control API
	HTTPMethodKey     = "http.method"
	HTTPRouteKey      = "http.route"
	HTTPStatusCodeKey = "http.status_code"
)

// SessionAttributes creates span attributes identifying an upload session.
func SessionAttributes(sessionID, sourceKind string, attempt int) []attribute.KeyValue {
	attrs := make([]attribute.KeyValue, 0, 3)
	if sessionID != "" {
		attrs = append(attrs, attribute.String(SessionIDKey, sessionID))
	}
	if sourceKind != "" {
		attrs = append(attrs, attribute.String(SourceKindKey, sourceKind))
	}
	return append(attrs, attribute.Int(AttemptKey, attempt))
}

// FileAttributes describes a local file transfer.
func FileAttributes(size int64, mimeType string) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.Int64(FileSizeKey, size),
		attribute.String(MimeTypeKey, mimeType),
	}
}

// OutcomeAttributes describes the terminal outcome of a session.
func OutcomeAttributes(state, errorKind string) []attribute.KeyValue {
	attrs := []attribute.KeyValue{attribute.String(FinalStateKey, state)}
	if errorKind != "" {
		attrs = append(attrs, attribute.String(ErrorKindKey, errorKind))
	}
	return attrs
}

// ErrorAttributes creates error-related span attributes.
func ErrorAttributes(errorType string) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.Bool(ErrorKey, true),
		attribute.String(ErrorTypeKey, errorType),
	}
}

// HTTPAttributes describes a served control API request.
func HTTPAttributes(method, route string, statusCode int) []attribute.KeyValue {
	attrs := []attribute.KeyValue{
		attribute.String(HTTPMethodKey, method),
		attribute.String(HTTPRouteKey, route),
	}
	if statusCode > 0 {
		attrs = append(attrs, attribute.Int(HTTPStatusCodeKey, statusCode))
	}
	return attrs
}
