// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package api

import (
	"context"
	"errors"
	"net/http"

	"github.com/ManuGH/uplink/internal/backend"
	"github.com/ManuGH/uplink/internal/control/http/problem"
	"github.com/ManuGH/uplink/internal/domain/upload/coordinator"
	"github.com/ManuGH/uplink/internal/domain/upload/machine"
	"github.com/ManuGH/uplink/internal/domain/upload/manager"
	"github.com/ManuGH/uplink/internal/domain/upload/model"
	"github.com/ManuGH/uplink/internal/log"
)

// writeError maps domain errors onto problem responses.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	var (
		ve *coordinator.ValidationError
		se *backend.ServerError
	)
	switch {
	case errors.As(err, &ve):
		problem.Write(w, r, http.StatusUnprocessableEntity, "upload/validation", "Validation Failed",
			"VALIDATION_FAILED", ve.Error(), map[string]any{"field": ve.Field})
	case errors.Is(err, model.ErrValidation):
		problem.Write(w, r, http.StatusUnprocessableEntity, "upload/validation", "Validation Failed",
			"VALIDATION_FAILED", err.Error(), nil)
	case errors.As(err, &se):
		detail := se.ServerMessage()
		if detail == "" {
			detail = se.Error()
		}
		problem.Write(w, r, http.StatusBadGateway, "backend/rejected", "Backend Rejected Request",
			"BACKEND_REJECTED", detail, map[string]any{"backendStatus": se.StatusCode()})
	case errors.Is(err, backend.ErrUnavailable), errors.Is(err, backend.ErrBadResponse):
		problem.Write(w, r, http.StatusBadGateway, "backend/unavailable", "Backend Unavailable",
			"BACKEND_UNAVAILABLE", err.Error(), nil)
	case errors.Is(err, manager.ErrNotFound):
		problem.Write(w, r, http.StatusNotFound, "upload/not_found", "Not Found", "NOT_FOUND", err.Error(), nil)
	case errors.Is(err, manager.ErrNotTerminal), errors.Is(err, machine.ErrNotRetryable):
		problem.Write(w, r, http.StatusConflict, "upload/conflict", "Conflict", "STATE_CONFLICT", err.Error(), nil)
	case errors.Is(err, manager.ErrClosed), errors.Is(err, context.Canceled):
		problem.Write(w, r, http.StatusServiceUnavailable, "system/shutting_down", "Service Unavailable",
			"SHUTTING_DOWN", err.Error(), nil)
	default:
		logger := log.WithComponentFromContext(r.Context(), "control")
		logger.Error().Err(err).Str(log.FieldEvent, "control.error").Msg("unmapped control API error")
		problem.Write(w, r, http.StatusInternalServerError, "system/internal", "Internal Server Error",
			"INTERNAL", "An unexpected error occurred.", nil)
	}
}
