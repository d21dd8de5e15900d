// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package transport turns backend progress signals into canonical updates.
// A Channel is one transport variant for one session; the Selector decides
// which Channel is live and owns the push to polling fallback.
package transport

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ManuGH/uplink/internal/backend"
	"github.com/ManuGH/uplink/internal/domain/upload/model"
)

// Kind names a channel variant.
type Kind string

const (
	KindWebSocket Kind = "websocket"
	KindPoll      Kind = "poll"
	KindSSE       Kind = "sse"
)

// ConnState is the connection state of a channel handle.
type ConnState string

const (
	ConnConnecting ConnState = "connecting"
	ConnOpen       ConnState = "open"
	ConnClosed     ConnState = "closed"
)

var (
	// ErrClosed is returned by Open on a channel that was already closed.
	ErrClosed = errors.New("transport: channel closed")
	// ErrStopped is returned by Selector.Start after Stop.
	ErrStopped = errors.New("transport: selector stopped")
)

// Event is what a channel reports to its owner. Exactly one field is set.
type Event struct {
	// Opened reports that the channel finished connecting.
	Opened bool
	// Update carries one progress observation.
	Update *model.ProgressUpdate
	// Failure is a recoverable transport failure; it never reaches the caller.
	Failure error
	// Fatal ends the session, e.g. a non-2xx status response.
	Fatal error
}

// Emit hands an event to the channel's owner. It may block until the owner
// accepts the event or the context passed to Open is done.
type Emit func(Event)

// Channel is one transport variant bound to one session.
type Channel interface {
	Kind() Kind
	// Open connects and starts delivering events through emit. It returns
	// once the channel is connected; later failures are emitted.
	Open(ctx context.Context, sessionID string, emit Emit) error
	// Close releases sockets, timers and goroutines. It is idempotent.
	Close() error
}

// Sink consumes the selector's output. The session state machine
// implements it.
type Sink interface {
	Deliver(u model.ProgressUpdate)
	Fail(err error)
}

// Factory builds fresh channels for a session.
type Factory interface {
	Push() Channel
	Poll() Channel
}

// Handle is a snapshot of the selector's active channel.
type Handle struct {
	Kind              Kind
	State             ConnState
	ReconnectAttempts int
	Generation        uint64
}

// reconnecter is implemented by channels that reconnect on their own.
type reconnecter interface {
	Reconnects() int
}

func failure(kind Kind, err error) error {
	return fmt.Errorf("%s: %w: %w", kind, model.ErrTransport, err)
}

func toUpdate(sessionID string, kind Kind, st backend.StatusResponse) model.ProgressUpdate {
	return model.ProgressUpdate{
		SessionID:  sessionID,
		RawStatus:  st.Status,
		Progress:   st.Progress,
		Message:    st.Message,
		Error:      st.Error,
		ReceivedAt: time.Now(),
		Transport:  string(kind),
	}
}
