// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	controlhttp "github.com/ManuGH/uplink/internal/control/http"
	"github.com/ManuGH/uplink/internal/control/http/problem"
	"github.com/ManuGH/uplink/internal/domain/upload/coordinator"
	"github.com/ManuGH/uplink/internal/domain/upload/manager"
	"github.com/ManuGH/uplink/internal/domain/upload/model"
	"github.com/ManuGH/uplink/internal/log"
)

const maxSubmitBody = 64 << 10

// SubmitRequest starts a session. Exactly one of Path and URL is set.
type SubmitRequest struct {
	// Path is a local file readable by the uplink process.
	Path                string `json:"path,omitempty"`
	URL                 string `json:"url,omitempty"`
	ConsentAcknowledged bool   `json:"consentAcknowledged,omitempty"`
}

// SubmitResponse names the session created by a submission.
type SubmitResponse struct {
	SessionID string `json:"sessionId"`
}

// SessionView is the wire form of a session snapshot.
type SessionView struct {
	model.UploadSession
	ErrorKind    model.ErrorKind `json:"errorKind,omitempty"`
	ErrorMessage string          `json:"errorMessage,omitempty"`
}

func viewOf(s manager.Snapshot) SessionView {
	return SessionView{UploadSession: s, ErrorKind: s.ErrorKind(), ErrorMessage: s.ErrorMessage()}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", controlhttp.ContentTypeJSON)
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":   "ok",
		"sessions": len(s.uploads.List()),
	})
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	snaps := s.uploads.List()
	out := make([]SessionView, 0, len(snaps))
	for _, snap := range snaps {
		out = append(out, viewOf(snap))
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	var req SubmitRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxSubmitBody))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		problem.Write(w, r, http.StatusBadRequest, "upload/bad_request", "Bad Request", "BAD_REQUEST",
			fmt.Sprintf("invalid request body: %v", err), nil)
		return
	}

	var src coordinator.Source
	switch path, url := strings.TrimSpace(req.Path), strings.TrimSpace(req.URL); {
	case (path == "") == (url == ""):
		problem.Write(w, r, http.StatusBadRequest, "upload/bad_request", "Bad Request", "BAD_REQUEST",
			"exactly one of path and url is required", nil)
		return
	case path != "":
		file, err := coordinator.File(path)
		if err != nil {
			problem.Write(w, r, http.StatusUnprocessableEntity, "upload/invalid_source", "Invalid Source",
				"INVALID_SOURCE", err.Error(), map[string]any{"field": "path"})
			return
		}
		src = file
	default:
		src = coordinator.RemoteURL{URL: url, ConsentAcknowledged: req.ConsentAcknowledged}
	}

	id, err := s.uploads.Begin(r.Context(), src)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	logger := log.WithComponentFromContext(r.Context(), "control")
	logger.Info().
		Str(log.FieldEvent, "control.submitted").
		Str(log.FieldSessionID, id).
		Str(log.FieldSourceKind, string(src.Kind())).
		Msg("submission accepted")

	w.Header().Set("Location", "/api/v1/uploads/"+id)
	writeJSON(w, http.StatusAccepted, SubmitResponse{SessionID: id})
}

func (s *Server) handleGet(w http.ResponseWriter, r *http.Request) {
	snap, err := s.uploads.Get(chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, viewOf(snap))
}

// handleCancel answers with the post-cancel snapshot; cancelling a terminal
// session is a no-op that still succeeds.
func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := s.uploads.Cancel(id); err != nil {
		s.writeError(w, r, err)
		return
	}
	s.handleGet(w, r)
}

func (s *Server) handleRetry(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := s.uploads.Retry(id); err != nil {
		s.writeError(w, r, err)
		return
	}
	snap, err := s.uploads.Get(id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, viewOf(snap))
}

func (s *Server) handleAck(w http.ResponseWriter, r *http.Request) {
	rec, err := s.uploads.Ack(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (s *Server) handleArchived(w http.ResponseWriter, r *http.Request) {
	rec, err := s.uploads.Archived(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}
