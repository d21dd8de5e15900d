// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package model

import "time"

// ProgressUpdate is one observation of remote or local progress. It is
// produced by a channel or by the transfer, consumed once and not retained.
type ProgressUpdate struct {
	SessionID  string
	RawStatus  string
	Progress   float64
	Message    string
	Error      string
	ReceivedAt time.Time
	Transport  string
}

// UploadSession is the authoritative record for one submission. Values
// handed out of the state machine are copies and safe to retain.
type UploadSession struct {
	SessionID  string     `json:"sessionId"`
	SourceKind SourceKind `json:"sourceKind"`
	State      State      `json:"state"`
	Progress   float64    `json:"progress"`
	Message    string     `json:"message,omitempty"`
	LastError  *Error     `json:"-"`
	Attempt    int        `json:"attempt"`
	Transport  string     `json:"transport,omitempty"`
	Seq        uint64     `json:"seq"`
	CreatedAt  time.Time  `json:"createdAt"`
	UpdatedAt  time.Time  `json:"updatedAt"`
	TerminalAt *time.Time `json:"terminalAt,omitempty"`
}

// ErrorKind returns the kind of LastError, or "" when there is none.
func (s UploadSession) ErrorKind() ErrorKind {
	if s.LastError == nil {
		return ""
	}
	return s.LastError.Kind
}

// ErrorMessage returns the caller-facing error text, or "".
func (s UploadSession) ErrorMessage() string {
	if s.LastError == nil {
		return ""
	}
	return s.LastError.Error()
}
