// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	controlhttp "github.com/ManuGH/uplink/internal/control/http"
	"github.com/ManuGH/uplink/internal/domain/upload/manager"
	"github.com/ManuGH/uplink/internal/log"
)

// handleEvents streams session snapshots as server-sent events: the current
// snapshot first, then every change. The stream ends after a terminal
// snapshot or when the client goes away.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	flusher, ok := w.(http.Flusher)
	if !ok {
		s.writeError(w, r, fmt.Errorf("streaming unsupported by response writer"))
		return
	}

	ctx, cancel := context.WithCancel(r.Context())
	updates := make(chan manager.Snapshot, 16)
	unsubscribe, err := s.uploads.OnUpdate(id, func(snap manager.Snapshot) {
		select {
		case updates <- snap:
		case <-ctx.Done():
		}
	})
	if err != nil {
		cancel()
		s.writeError(w, r, err)
		return
	}
	// cancel runs first so a blocked callback lets unsubscribe return.
	defer unsubscribe()
	defer cancel()

	h := w.Header()
	h.Set("Content-Type", controlhttp.ContentTypeSSE)
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	keepAlive := time.NewTicker(s.keepAlive)
	defer keepAlive.Stop()

	logger := log.WithSession("control", id)
	for {
		select {
		case <-ctx.Done():
			return
		case <-keepAlive.C:
			if _, err := fmt.Fprint(w, ": ping\n\n"); err != nil {
				return
			}
			flusher.Flush()
		case snap := <-updates:
			data, err := json.Marshal(viewOf(snap))
			if err != nil {
				logger.Error().Err(err).Str(log.FieldEvent, "control.encode_failed").Msg("encode snapshot")
				return
			}
			if _, err := fmt.Fprintf(w, "id: %d\nevent: progress\ndata: %s\n\n", snap.Seq, data); err != nil {
				return
			}
			flusher.Flush()
			if snap.State.IsTerminal() {
				return
			}
		}
	}
}
