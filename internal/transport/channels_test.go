// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package transport

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/ManuGH/uplink/internal/backend"
	"github.com/ManuGH/uplink/internal/backend/backendtest"
	"github.com/ManuGH/uplink/internal/domain/upload/lifecycle"
	"github.com/ManuGH/uplink/internal/domain/upload/model"
	"github.com/ManuGH/uplink/internal/platform/httpx"
	"github.com/ManuGH/uplink/internal/resilience"
)

// collector gathers emitted events.
type collector chan Event

func (c collector) emit(ev Event) { c <- ev }

func (c collector) next(t *testing.T) Event {
	t.Helper()
	select {
	case ev := <-c:
		return ev
	case <-time.After(waitFor):
		t.Fatal("no event emitted")
		return Event{}
	}
}

func newBackend(t *testing.T, srv *backendtest.Server) *backend.Client {
	t.Helper()
	c, err := backend.New(backend.Config{BaseURL: srv.URL, Timeout: time.Second})
	require.NoError(t, err)
	return c
}

func TestWebSocket_DeliversFramesUntilTerminal(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())
	srv := backendtest.NewServer()
	defer srv.Close()

	srv.SetPush(backendtest.PushDrop,
		backendtest.Frame{Status: "processing", Progress: 10},
		backendtest.Frame{},
		backendtest.Frame{Status: "complete", Progress: 100},
	)
	client := newBackend(t, srv)
	ch := NewWebSocket(nil, client.PushURL, client.Header())
	events := make(collector, 8)

	require.NoError(t, ch.Open(context.Background(), "sess-1", events.emit))

	first := events.next(t)
	require.NotNil(t, first.Update)
	assert.Equal(t, "processing", first.Update.RawStatus)
	assert.Equal(t, "websocket", first.Update.Transport)

	second := events.next(t)
	require.NotNil(t, second.Update, "empty frames are skipped")
	assert.Equal(t, model.StateComplete, lifecycle.Canonicalize(*second.Update))

	// The server drops the socket after the terminal frame; that is not a failure.
	time.Sleep(50 * time.Millisecond)
	require.NoError(t, ch.Close())
	assert.Empty(t, events)
}

func TestWebSocket_DropBeforeTerminalIsFailure(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())
	srv := backendtest.NewServer()
	defer srv.Close()

	srv.SetPush(backendtest.PushDrop, backendtest.Frame{Status: "processing", Progress: 30})
	client := newBackend(t, srv)
	ch := NewWebSocket(nil, client.PushURL, client.Header())
	events := make(collector, 8)

	require.NoError(t, ch.Open(context.Background(), "sess-1", events.emit))
	require.NotNil(t, events.next(t).Update)

	ev := events.next(t)
	require.Error(t, ev.Failure)
	assert.ErrorIs(t, ev.Failure, model.ErrTransport)
	require.NoError(t, ch.Close())
	require.NoError(t, ch.Close())
}

func TestWebSocket_RefusedHandshake(t *testing.T) {
	srv := backendtest.NewServer()
	defer srv.Close()

	srv.SetPush(backendtest.PushRefuse)
	client := newBackend(t, srv)
	ch := NewWebSocket(nil, client.PushURL, client.Header())

	err := ch.Open(context.Background(), "sess-1", func(Event) {})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "HTTP 503")
	require.NoError(t, ch.Close())
	assert.ErrorIs(t, ch.Open(context.Background(), "sess-1", func(Event) {}), ErrClosed)
}

func TestPoll_ProcessingThenFailed(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())
	srv := backendtest.NewServer()
	defer srv.Close()

	srv.SetStatuses(
		backendtest.StatusReply{Frame: backendtest.Frame{Status: "processing", Progress: 40}},
		backendtest.StatusReply{Frame: backendtest.Frame{Status: "failed", Error: "decode error"}},
	)
	ch := NewPoll(newBackend(t, srv), 10*time.Millisecond, time.Minute, nil)
	events := make(collector, 8)
	require.NoError(t, ch.Open(context.Background(), "sess-1", events.emit))

	assert.Equal(t, 40.0, events.next(t).Update.Progress)
	last := events.next(t).Update
	assert.Equal(t, "decode error", last.Error)

	// Polling stops by itself after the terminal status.
	time.Sleep(50 * time.Millisecond)
	assert.EqualValues(t, 2, srv.Hits(backendtest.RouteStatus))
	require.NoError(t, ch.Close())
}

func TestPoll_DeadlineSynthesisesTimeout(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())
	srv := backendtest.NewServer()
	defer srv.Close()

	srv.SetStatuses(backendtest.StatusReply{Frame: backendtest.Frame{Status: "processing", Progress: 1}})
	ch := NewPoll(newBackend(t, srv), 10*time.Millisecond, 55*time.Millisecond, nil)
	events := make(collector, 64)
	require.NoError(t, ch.Open(context.Background(), "sess-1", events.emit))

	var last *model.ProgressUpdate
	for last == nil || last.RawStatus != lifecycle.RawTimeout {
		last = events.next(t).Update
	}
	assert.Equal(t, model.StateError, lifecycle.Canonicalize(*last))

	hits := srv.Hits(backendtest.RouteStatus)
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, hits, srv.Hits(backendtest.RouteStatus), "no requests after the deadline")
	require.NoError(t, ch.Close())
}

func TestPoll_ServerErrorIsFatal(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())
	srv := backendtest.NewServer()
	defer srv.Close()

	srv.SetStatuses(backendtest.StatusReply{Code: http.StatusNotFound, Body: `{"error":"unknown session"}`})
	ch := NewPoll(newBackend(t, srv), 10*time.Millisecond, time.Minute, nil)
	events := make(collector, 8)
	require.NoError(t, ch.Open(context.Background(), "sess-1", events.emit))

	ev := events.next(t)
	require.Error(t, ev.Fatal)
	var se *backend.ServerError
	require.ErrorAs(t, ev.Fatal, &se)
	assert.Equal(t, "unknown session", se.ServerMessage())
	require.NoError(t, ch.Close())
}

func TestPoll_NetworkErrorsKeepPollingUntilBreakerOpens(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	srv := backendtest.NewServer()
	client := newBackend(t, srv)
	srv.Close()

	breaker := resilience.NewCircuitBreaker("test_poll", 2, time.Hour)
	ch := NewPoll(client, 5*time.Millisecond, time.Minute, breaker)
	events := make(collector, 8)
	require.NoError(t, ch.Open(context.Background(), "sess-1", events.emit))

	require.Eventually(t, func() bool { return breaker.State() == resilience.StateOpen }, waitFor, time.Millisecond)
	assert.Empty(t, events, "network errors are not emitted")
	require.NoError(t, ch.Close())
}

func TestEventStream_ReconnectsAfterDrop(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())
	srv := backendtest.NewServer()
	defer srv.Close()

	srv.SetEvents(1,
		backendtest.Frame{Status: "processing", Progress: 60},
		backendtest.Frame{Status: "ready_for_processing", Progress: 100},
	)
	client := newBackend(t, srv)
	ch := NewEventStream(httpx.NewStreamingClient(time.Second), client.EventsURL, client.Header(), 3, 5*time.Millisecond)
	events := make(collector, 8)
	require.NoError(t, ch.Open(context.Background(), "sess-1", events.emit))

	assert.Equal(t, 60.0, events.next(t).Update.Progress)
	assert.Equal(t, "ready_for_processing", events.next(t).Update.RawStatus)
	assert.Equal(t, 1, ch.Reconnects())
	assert.EqualValues(t, 2, srv.Hits(backendtest.RouteEvents))
	require.NoError(t, ch.Close())
}

func TestEventStream_ExhaustedReconnectsIsFailure(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())
	srv := backendtest.NewServer()

	srv.SetEvents(1)
	client := newBackend(t, srv)
	ch := NewEventStream(httpx.NewStreamingClient(time.Second), client.EventsURL, client.Header(), 2, 50*time.Millisecond)
	events := make(collector, 8)
	require.NoError(t, ch.Open(context.Background(), "sess-1", events.emit))

	// With the backend gone every reconnect is refused.
	srv.Close()

	ev := events.next(t)
	require.Error(t, ev.Failure)
	assert.ErrorIs(t, ev.Failure, model.ErrTransport)
	assert.Contains(t, ev.Failure.Error(), "gave up after 2 reconnects")
	assert.Equal(t, 2, ch.Reconnects())
	require.NoError(t, ch.Close())
}
