// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package transport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/ManuGH/uplink/internal/backend"
	"github.com/ManuGH/uplink/internal/domain/upload/lifecycle"
	"github.com/ManuGH/uplink/internal/log"
)

const closeGrace = time.Second

// WebSocket is the push channel: a held-open socket on which the backend
// writes one JSON status frame per change.
type WebSocket struct {
	dialer *websocket.Dialer
	url    func(sessionID string) string
	header http.Header
	logger zerolog.Logger

	mu     sync.Mutex
	conn   *websocket.Conn
	closed bool
	wg     sync.WaitGroup
}

// NewWebSocket builds a push channel. url maps a session id to its
// ws:// or wss:// endpoint.
func NewWebSocket(dialer *websocket.Dialer, url func(string) string, header http.Header) *WebSocket {
	if dialer == nil {
		dialer = websocket.DefaultDialer
	}
	return &WebSocket{
		dialer: dialer,
		url:    url,
		header: header,
		logger: log.WithComponent("transport.websocket"),
	}
}

func (w *WebSocket) Kind() Kind { return KindWebSocket }

func (w *WebSocket) Open(ctx context.Context, sessionID string, emit Emit) error {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return ErrClosed
	}
	w.mu.Unlock()

	conn, resp, err := w.dialer.DialContext(ctx, w.url(sessionID), w.header)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		if resp != nil {
			return fmt.Errorf("websocket dial: HTTP %d: %w", resp.StatusCode, err)
		}
		return fmt.Errorf("websocket dial: %w", err)
	}

	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		_ = conn.Close()
		return ErrClosed
	}
	w.conn = conn
	w.wg.Add(1)
	w.mu.Unlock()

	go w.readLoop(ctx, sessionID, conn, emit)
	return nil
}

func (w *WebSocket) readLoop(ctx context.Context, sessionID string, conn *websocket.Conn, emit Emit) {
	defer w.wg.Done()
	logger := w.logger.With().Str(log.FieldSessionID, sessionID).Logger()

	terminal := false
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if terminal || ctx.Err() != nil || w.isClosed() {
				return
			}
			if websocket.IsCloseError(err, websocket.CloseNormalClosure) {
				err = errors.New("closed by server before a terminal status")
			}
			emit(Event{Failure: failure(KindWebSocket, err)})
			return
		}

		var frame backend.StatusResponse
		if err := json.Unmarshal(data, &frame); err != nil {
			logger.Warn().Err(err).Str(log.FieldEvent, "transport.frame_invalid").Msg("skipping malformed push frame")
			continue
		}
		if frame.Empty() {
			continue
		}

		u := toUpdate(sessionID, KindWebSocket, frame)
		if lifecycle.Canonicalize(u).IsTerminal() {
			terminal = true
		}
		emit(Event{Update: &u})
	}
}

func (w *WebSocket) isClosed() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.closed
}

func (w *WebSocket) Close() error {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return nil
	}
	w.closed = true
	conn := w.conn
	w.mu.Unlock()

	if conn != nil {
		msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
		_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(closeGrace))
		_ = conn.Close()
	}
	w.wg.Wait()
	return nil
}
