// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package backend

import (
	"errors"
	"fmt"
)

var (
	// Sentinel errors for errors.Is checks at the boundary.
	ErrUnavailable = errors.New("backend: host unreachable or transport failure")
	ErrBadResponse = errors.New("backend: invalid response format or malformed data")
	ErrHTTPStatus  = errors.New("backend: non-2xx response")
)

// ServerError is returned for every non-2xx response. Message holds the
// backend-provided explanation when the body carried one.
type ServerError struct {
	Operation string
	Status    int
	Message   string
	Body      string
}

func (e *ServerError) Error() string {
	msg := fmt.Sprintf("backend: %s: HTTP %d", e.Operation, e.Status)
	if e.Message != "" {
		msg = fmt.Sprintf("%s: %s", msg, e.Message)
	}
	return msg
}

func (e *ServerError) Unwrap() error {
	return ErrHTTPStatus
}

// StatusCode returns the HTTP status of the response.
func (e *ServerError) StatusCode() int { return e.Status }

// ServerMessage returns the backend-provided message, if any.
func (e *ServerError) ServerMessage() string { return e.Message }

// IsServerError reports whether err carries a backend HTTP response.
func IsServerError(err error) bool {
	var se *ServerError
	return errors.As(err, &se)
}

func unavailable(op string, err error) error {
	return fmt.Errorf("backend %s: %w: %w", op, ErrUnavailable, err)
}

func badResponse(op string, err error) error {
	return fmt.Errorf("backend %s: %w: %w", op, ErrBadResponse, err)
}
