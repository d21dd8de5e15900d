// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package model

// State is the canonical client-side state of an upload session.
type State string

const (
	StateIdle       State = "IDLE"
	StateUploading  State = "UPLOADING"
	StateProcessing State = "PROCESSING"
	StateComplete   State = "COMPLETE"
	StateError      State = "ERROR"
)

// IsTerminal reports whether the state absorbs every further update.
func (s State) IsTerminal() bool {
	return s == StateComplete || s == StateError
}

// Rank orders states along the happy path. Terminal states share the top rank.
func (s State) Rank() int {
	switch s {
	case StateIdle:
		return 0
	case StateUploading:
		return 1
	case StateProcessing:
		return 2
	case StateComplete, StateError:
		return 3
	default:
		return -1
	}
}

func (s State) String() string { return string(s) }

// SourceKind distinguishes the two submission paths.
type SourceKind string

const (
	SourceLocalFile SourceKind = "local_file"
	SourceRemoteURL SourceKind = "remote_url"
)
