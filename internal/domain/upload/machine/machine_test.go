// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package machine

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ManuGH/uplink/internal/domain/upload/model"
)

type countingStopper struct{ n atomic.Int32 }

func (s *countingStopper) Stop() { s.n.Add(1) }

type harness struct {
	m         *Machine
	stopper   *countingStopper
	mu        sync.Mutex
	published []model.UploadSession
	terminals []model.UploadSession
}

func newHarness(t *testing.T, kind model.SourceKind) *harness {
	t.Helper()
	h := &harness{stopper: &countingStopper{}}
	clock := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	h.m = New(Config{
		SessionID:  "sess-1",
		SourceKind: kind,
		Clock: func() time.Time {
			clock = clock.Add(time.Millisecond)
			return clock
		},
		Publish: func(s model.UploadSession) {
			h.mu.Lock()
			h.published = append(h.published, s)
			h.mu.Unlock()
		},
		OnTerminal: func(s model.UploadSession) {
			h.mu.Lock()
			h.terminals = append(h.terminals, s)
			h.mu.Unlock()
		},
	})
	h.m.Attach(h.stopper)
	return h
}

func (h *harness) terminalCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.terminals)
}

func (h *harness) states() []model.State {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]model.State, 0, len(h.published))
	for _, s := range h.published {
		out = append(out, s.State)
	}
	return out
}

func remote(status string, progress float64) model.ProgressUpdate {
	return model.ProgressUpdate{SessionID: "sess-1", RawStatus: status, Progress: progress, Transport: "websocket"}
}

func TestMachine_LocalFileHappyPath(t *testing.T) {
	h := newHarness(t, model.SourceLocalFile)
	m := h.m

	require.NoError(t, m.BeginUpload())
	assert.True(t, m.TransferProgress(10))
	assert.True(t, m.TransferProgress(55.5))
	assert.False(t, m.TransferProgress(40), "transfer progress never goes back")
	assert.True(t, m.TransferProgress(100))

	require.NoError(t, m.BeginProcessing())
	snap := m.Snapshot()
	assert.Equal(t, model.StateProcessing, snap.State)
	assert.Zero(t, snap.Progress)

	m.Deliver(remote("processing", 20))
	m.Deliver(remote("processing", 15))
	assert.Equal(t, 20.0, m.Snapshot().Progress)

	m.Deliver(remote("ready_for_processing", 100))

	final := m.Snapshot()
	assert.Equal(t, model.StateComplete, final.State)
	assert.Equal(t, 100.0, final.Progress)
	require.NotNil(t, final.TerminalAt)
	assert.Equal(t, "websocket", final.Transport)

	want := []model.State{
		model.StateUploading, model.StateUploading, model.StateUploading, model.StateUploading,
		model.StateProcessing, model.StateProcessing, model.StateComplete,
	}
	if diff := cmp.Diff(want, h.states()); diff != "" {
		t.Fatalf("published states mismatch (-want +got):\n%s", diff)
	}
	assert.Equal(t, 1, h.terminalCount())
	assert.EqualValues(t, 1, h.stopper.n.Load())

	select {
	case <-m.Done():
	default:
		t.Fatal("done channel not closed")
	}
}

func TestMachine_PublishedSequenceIsStrictlyIncreasing(t *testing.T) {
	h := newHarness(t, model.SourceRemoteURL)
	require.NoError(t, h.m.BeginProcessing())
	for _, p := range []float64{5, 5, 30, 10, 60} {
		h.m.Deliver(remote("processing", p))
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	require.Len(t, h.published, 5)
	for i := 1; i < len(h.published); i++ {
		assert.Greater(t, h.published[i].Seq, h.published[i-1].Seq)
		assert.GreaterOrEqual(t, h.published[i].Progress, h.published[i-1].Progress)
	}
}

func TestMachine_TerminalAbsorbsEverything(t *testing.T) {
	h := newHarness(t, model.SourceRemoteURL)
	require.NoError(t, h.m.BeginProcessing())
	h.m.Deliver(remote("done", 100))
	before := h.m.Snapshot()

	h.m.Deliver(remote("failed", 10))
	h.m.Deliver(remote("processing", 50))
	h.m.Fail(errors.New("late failure"))
	assert.False(t, h.m.Cancel())
	assert.ErrorIs(t, h.m.BeginProcessing(), ErrIllegalTransition)

	assert.Equal(t, before, h.m.Snapshot())
	assert.Equal(t, 1, h.terminalCount())
}

func TestMachine_ProgressThresholdWins(t *testing.T) {
	h := newHarness(t, model.SourceRemoteURL)
	require.NoError(t, h.m.BeginProcessing())
	h.m.Deliver(remote("processing", 100))
	assert.Equal(t, model.StateComplete, h.m.Snapshot().State)
}

func TestMachine_RemoteFailures(t *testing.T) {
	tests := []struct {
		name     string
		update   model.ProgressUpdate
		wantKind model.ErrorKind
		wantMsg  string
	}{
		{
			name:     "failed with backend text",
			update:   model.ProgressUpdate{RawStatus: "failed", Progress: 40, Error: "unsupported codec"},
			wantKind: model.KindProcessing,
			wantMsg:  "unsupported codec",
		},
		{
			name:     "error text with progress 100",
			update:   model.ProgressUpdate{RawStatus: "processing", Progress: 100, Error: "disk full"},
			wantKind: model.KindProcessing,
			wantMsg:  "disk full",
		},
		{
			name:     "poll deadline",
			update:   model.ProgressUpdate{RawStatus: "timeout", Message: "no terminal status after 5m0s"},
			wantKind: model.KindTimeout,
			wantMsg:  "processing timed out",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, model.SourceRemoteURL)
			require.NoError(t, h.m.BeginProcessing())
			h.m.Deliver(remote("processing", 30))
			h.m.Deliver(tt.update)

			snap := h.m.Snapshot()
			assert.Equal(t, model.StateError, snap.State)
			assert.Equal(t, tt.wantKind, snap.ErrorKind())
			assert.Equal(t, tt.wantMsg, snap.ErrorMessage())
			assert.Equal(t, 30.0, snap.Progress, "error keeps the last progress")
			assert.Equal(t, 1, h.terminalCount())
		})
	}
}

type fakeServerError struct{ msg string }

func (e *fakeServerError) Error() string         { return "backend: HTTP 500: " + e.msg }
func (e *fakeServerError) StatusCode() int       { return 500 }
func (e *fakeServerError) ServerMessage() string { return e.msg }

func TestMachine_FailClassifies(t *testing.T) {
	h := newHarness(t, model.SourceLocalFile)
	require.NoError(t, h.m.BeginUpload())

	h.m.Fail(model.NewError(model.KindTransport, "socket closed", nil))
	assert.Equal(t, model.StateUploading, h.m.Snapshot().State, "transport errors are not terminal")

	h.m.Fail(&fakeServerError{msg: "quota exceeded"})
	snap := h.m.Snapshot()
	assert.Equal(t, model.StateError, snap.State)
	assert.Equal(t, model.KindServer, snap.ErrorKind())
	assert.Equal(t, "quota exceeded", snap.ErrorMessage())
	assert.True(t, errors.Is(snap.LastError, model.ErrServer))
}

func TestMachine_CancelIsIdempotent(t *testing.T) {
	h := newHarness(t, model.SourceLocalFile)
	ctx, cancel := context.WithCancel(context.Background())
	h.m.Bind(cancel)
	require.NoError(t, h.m.BeginUpload())

	assert.True(t, h.m.Cancel())
	assert.False(t, h.m.Cancel())

	snap := h.m.Snapshot()
	assert.Equal(t, model.StateError, snap.State)
	assert.Equal(t, model.KindCancelled, snap.ErrorKind())
	assert.ErrorIs(t, ctx.Err(), context.Canceled)
	assert.Equal(t, 1, h.terminalCount())
	assert.EqualValues(t, 1, h.stopper.n.Load())

	// Late updates from a channel that has not noticed yet are dropped.
	h.m.Deliver(remote("processing", 90))
	assert.Equal(t, snap, h.m.Snapshot())
}

func TestMachine_RacingTerminalSourcesFireOnce(t *testing.T) {
	for i := 0; i < 50; i++ {
		h := newHarness(t, model.SourceRemoteURL)
		require.NoError(t, h.m.BeginProcessing())

		var wg sync.WaitGroup
		start := make(chan struct{})
		run := func(fn func()) {
			wg.Add(1)
			go func() {
				defer wg.Done()
				<-start
				fn()
			}()
		}
		run(func() { h.m.Deliver(remote("complete", 100)) })
		run(func() { h.m.Deliver(remote("failed", 0)) })
		run(func() { h.m.Fail(context.DeadlineExceeded) })
		run(func() { h.m.Cancel() })
		close(start)
		wg.Wait()

		require.Equal(t, 1, h.terminalCount())
		require.EqualValues(t, 1, h.stopper.n.Load())
		assert.True(t, h.m.Snapshot().State.IsTerminal())
	}
}

func TestMachine_ResetStartsNewAttempt(t *testing.T) {
	h := newHarness(t, model.SourceRemoteURL)
	assert.ErrorIs(t, h.m.Reset(), ErrNotRetryable)

	require.NoError(t, h.m.BeginProcessing())
	h.m.Deliver(remote("processing", 70))
	h.m.Deliver(remote("failed", 70))
	firstDone := h.m.Done()

	require.NoError(t, h.m.Reset())
	snap := h.m.Snapshot()
	assert.Equal(t, model.StateIdle, snap.State)
	assert.Equal(t, 2, snap.Attempt)
	assert.Zero(t, snap.Progress)
	assert.Nil(t, snap.LastError)
	assert.Nil(t, snap.TerminalAt)
	assert.NotEqual(t, firstDone, h.m.Done())

	second := &countingStopper{}
	h.m.Attach(second)
	require.NoError(t, h.m.BeginProcessing())
	h.m.Deliver(remote("processing", 10))
	assert.Equal(t, 10.0, h.m.Snapshot().Progress, "progress restarts after reset")
	h.m.Deliver(remote("complete", 100))

	assert.Equal(t, 2, h.terminalCount())
	assert.EqualValues(t, 1, h.stopper.n.Load())
	assert.EqualValues(t, 1, second.n.Load())
	assert.ErrorIs(t, h.m.Reset(), ErrNotRetryable, "complete sessions are final")
}

func TestMachine_AttachAfterTerminalStopsImmediately(t *testing.T) {
	h := newHarness(t, model.SourceLocalFile)
	require.NoError(t, h.m.BeginUpload())
	h.m.Cancel()

	late := &countingStopper{}
	h.m.Attach(late)
	assert.EqualValues(t, 1, late.n.Load())

	ctx, cancel := context.WithCancel(context.Background())
	h.m.Bind(cancel)
	assert.Error(t, ctx.Err())
}
