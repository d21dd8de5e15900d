// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package lifecycle

import "github.com/ManuGH/uplink/internal/domain/upload/model"

// EventKind is a locally originated lifecycle event. Remote status updates
// go through Canonicalize and Admit instead.
type EventKind string

const (
	EvTransferStarted   EventKind = "transfer_started"
	EvProcessingStarted EventKind = "processing_started"
	EvFailed            EventKind = "failed"
	EvCancelled         EventKind = "cancelled"
	EvReset             EventKind = "reset"
)

// Transition is a single allowed edge for a local event.
type Transition struct {
	From  model.State
	To    model.State
	Event EventKind
}

var transitionsTable = []Transition{
	// Local file path
	{From: model.StateIdle, To: model.StateUploading, Event: EvTransferStarted},
	{From: model.StateUploading, To: model.StateProcessing, Event: EvProcessingStarted},

	// Remote URL path skips Uploading
	{From: model.StateIdle, To: model.StateProcessing, Event: EvProcessingStarted},

	// Failure from any live state
	{From: model.StateIdle, To: model.StateError, Event: EvFailed},
	{From: model.StateUploading, To: model.StateError, Event: EvFailed},
	{From: model.StateProcessing, To: model.StateError, Event: EvFailed},

	{From: model.StateIdle, To: model.StateError, Event: EvCancelled},
	{From: model.StateUploading, To: model.StateError, Event: EvCancelled},
	{From: model.StateProcessing, To: model.StateError, Event: EvCancelled},

	// Caller-initiated retry
	{From: model.StateError, To: model.StateIdle, Event: EvReset},
}

// TransitionFor returns the allowed transition for a given state+event.
func TransitionFor(from model.State, ev EventKind) (Transition, bool) {
	for _, tr := range transitionsTable {
		if tr.From == from && tr.Event == ev {
			return tr, true
		}
	}
	return Transition{}, false
}
