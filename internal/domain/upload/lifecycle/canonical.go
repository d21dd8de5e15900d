// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package lifecycle

import (
	"strings"

	"golang.org/x/text/cases"

	"github.com/ManuGH/uplink/internal/domain/upload/model"
)

// CompleteThreshold is the progress at which a session counts as complete
// when no error was reported, whatever the raw status says.
const CompleteThreshold = 100.0

// RawTimeout is the raw status synthesised when polling gives up.
const RawTimeout = "timeout"

var statusTable = map[string]model.State{
	// Complete
	"complete":             model.StateComplete,
	"completed":            model.StateComplete,
	"ready_for_processing": model.StateComplete,
	"ready":                model.StateComplete,
	"done":                 model.StateComplete,
	"success":              model.StateComplete,
	"succeeded":            model.StateComplete,
	"finished":             model.StateComplete,

	// Error
	"error":     model.StateError,
	"failed":    model.StateError,
	"failure":   model.StateError,
	"cancelled": model.StateError,
	"canceled":  model.StateError,
	RawTimeout:  model.StateError,

	// Processing
	"processing":  model.StateProcessing,
	"in_progress": model.StateProcessing,
	"pending":     model.StateProcessing,
	"queued":      model.StateProcessing,
	"started":     model.StateProcessing,
	"transcoding": model.StateProcessing,
	"analyzing":   model.StateProcessing,

	// Uploading
	"uploading":      model.StateUploading,
	"pending_upload": model.StateUploading,
}

// NormalizeStatus folds case and separators so "Ready-For-Processing" and
// "ready_for_processing" compare equal.
func NormalizeStatus(raw string) string {
	s := strings.TrimSpace(cases.Fold().String(raw))
	return strings.NewReplacer("-", "_", " ", "_").Replace(s)
}

// StatusState maps a raw status through the fixed table. Unknown and empty
// statuses are treated as in-flight processing.
func StatusState(raw string) model.State {
	if st, ok := statusTable[NormalizeStatus(raw)]; ok {
		return st
	}
	return model.StateProcessing
}

// Canonicalize resolves the state an update asks for. A progress at or
// above CompleteThreshold wins over the status string unless the update
// carries an explicit error.
func Canonicalize(u model.ProgressUpdate) model.State {
	st := StatusState(u.RawStatus)
	if st == model.StateError {
		return st
	}
	if u.Error != "" {
		return model.StateError
	}
	if u.Progress >= CompleteThreshold {
		return model.StateComplete
	}
	return st
}
