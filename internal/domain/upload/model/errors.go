// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package model

import (
	"errors"
	"fmt"
)

// ErrorKind classifies why a session failed.
type ErrorKind string

const (
	KindValidation ErrorKind = "validation"
	KindServer     ErrorKind = "server"
	KindTimeout    ErrorKind = "timeout"
	KindCancelled  ErrorKind = "cancelled"
	KindTransport  ErrorKind = "transport"
	KindProcessing ErrorKind = "processing"
)

var (
	ErrValidation = errors.New("validation failed")
	ErrServer     = errors.New("server error")
	ErrTimeout    = errors.New("processing timed out")
	ErrCancelled  = errors.New("upload cancelled")
	ErrTransport  = errors.New("transport failure")
	ErrProcessing = errors.New("processing failed")
)

var kindSentinels = map[ErrorKind]error{
	KindValidation: ErrValidation,
	KindServer:     ErrServer,
	KindTimeout:    ErrTimeout,
	KindCancelled:  ErrCancelled,
	KindTransport:  ErrTransport,
	KindProcessing: ErrProcessing,
}

// Error is the structured error stored on a session. Message is the
// caller-facing text and is returned verbatim by Error.
type Error struct {
	Kind    ErrorKind
	Message string
	Err     error
}

// NewError builds an Error of kind with message and optional cause.
func NewError(kind ErrorKind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, Err: cause}
}

func (e *Error) Error() string {
	if e.Message != "" {
		return e.Message
	}
	if e.Err != nil {
		return e.Err.Error()
	}
	return fmt.Sprintf("%s error", e.Kind)
}

// Unwrap exposes both the kind sentinel and the underlying cause, so
// errors.Is(err, ErrTimeout) and errors.Is(err, context.Canceled) both work.
func (e *Error) Unwrap() []error {
	out := make([]error, 0, 2)
	if s, ok := kindSentinels[e.Kind]; ok {
		out = append(out, s)
	}
	if e.Err != nil {
		out = append(out, e.Err)
	}
	return out
}

// KindOf returns the kind of the first *Error in err's chain.
func KindOf(err error) (ErrorKind, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind, true
	}
	return "", false
}
