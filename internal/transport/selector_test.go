// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package transport

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/ManuGH/uplink/internal/domain/upload/model"
)

const waitFor = 2 * time.Second

func startSelector(t *testing.T, push *fakeChannel, deadline time.Duration) (*Selector, *fakeFactory, *recordingSink) {
	t.Helper()
	f := &fakeFactory{push: push}
	sink := &recordingSink{}
	sel := NewSelector("sess-1", f, sink, deadline)
	require.NoError(t, sel.Start(context.Background()))
	return sel, f, sink
}

func stopAndWait(t *testing.T, sel *Selector) {
	t.Helper()
	sel.Stop()
	waitDone(t, sel)
}

func waitDone(t *testing.T, sel *Selector) {
	t.Helper()
	select {
	case <-sel.Done():
	case <-time.After(waitFor):
		t.Fatal("selector did not shut down")
	}
}

func TestSelector_PushOpensBeforeDeadline(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	push := newFakeChannel(KindWebSocket)
	sel, f, sink := startSelector(t, push, 50*time.Millisecond)
	defer stopAndWait(t, sel)

	require.Eventually(t, func() bool { return sel.State() == StatePushActive }, waitFor, time.Millisecond)
	assert.Equal(t, ConnOpen, sel.Handle().State)

	push.Update("processing", 10)
	require.Eventually(t, func() bool { return len(sink.Updates()) == 1 }, waitFor, time.Millisecond)

	// The deadline was disarmed by the open.
	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, StatePushActive, sel.State())
	assert.Zero(t, f.pollCount())

	sel.Stop()
	waitDone(t, sel)
	assert.Equal(t, StateClosed, sel.State())
	assert.EqualValues(t, 1, push.closes.Load())
}

func TestSelector_DeadlineFallsBackExactlyOnce(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	push := newFakeChannel(KindWebSocket)
	push.hang = true
	sel, f, _ := startSelector(t, push, 20*time.Millisecond)
	defer stopAndWait(t, sel)

	require.Eventually(t, func() bool { return sel.State() == StatePolling }, waitFor, time.Millisecond)
	assert.Equal(t, 1, f.pollCount())
	assert.EqualValues(t, 1, push.closes.Load(), "push channel must be torn down before polling")

	// The poll channel reporting a transport failure is a no-op.
	f.poll(0).Emit(Event{Failure: errors.New("flaky")})
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, StatePolling, sel.State())
	assert.Equal(t, 1, f.pollCount())

	h := sel.Handle()
	assert.Equal(t, KindPoll, h.Kind)
	assert.EqualValues(t, 2, h.Generation)
}

func TestSelector_PushFailureAfterOpenFallsBack(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	push := newFakeChannel(KindWebSocket)
	sel, f, sink := startSelector(t, push, time.Second)
	defer stopAndWait(t, sel)

	require.Eventually(t, func() bool { return sel.State() == StatePushActive }, waitFor, time.Millisecond)
	push.Emit(Event{Failure: errors.New("connection reset")})

	require.Eventually(t, func() bool { return sel.State() == StatePolling }, waitFor, time.Millisecond)
	assert.Equal(t, 1, f.pollCount())

	// The retired push channel can no longer reach the sink.
	push.Update("processing", 99)
	f.poll(0).Update("processing", 40)
	require.Eventually(t, func() bool { return len(sink.Updates()) == 1 }, waitFor, time.Millisecond)
	assert.Equal(t, string(KindPoll), sink.Updates()[0].Transport)
}

func TestSelector_OpenErrorFallsBack(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	push := newFakeChannel(KindSSE)
	push.openErr = errors.New("HTTP 503")
	sel, f, _ := startSelector(t, push, time.Second)
	defer stopAndWait(t, sel)

	require.Eventually(t, func() bool { return sel.State() == StatePolling }, waitFor, time.Millisecond)
	assert.Equal(t, 1, f.pollCount())
}

func TestSelector_UpdateBeforeOpenCountsAsOpen(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	push := newFakeChannel(KindWebSocket)
	push.hang = true
	sel, f, sink := startSelector(t, push, 100*time.Millisecond)
	defer stopAndWait(t, sel)

	push.Update("processing", 5)
	require.Eventually(t, func() bool { return len(sink.Updates()) == 1 }, waitFor, time.Millisecond)
	assert.Equal(t, StatePushActive, sel.State())

	time.Sleep(150 * time.Millisecond)
	assert.Equal(t, StatePushActive, sel.State())
	assert.Zero(t, f.pollCount())
}

func TestSelector_FatalReachesSink(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	push := newFakeChannel(KindWebSocket)
	sel, _, sink := startSelector(t, push, time.Second)
	defer stopAndWait(t, sel)

	boom := errors.New("HTTP 500")
	push.Emit(Event{Fatal: boom})
	require.Eventually(t, func() bool { return len(sink.Fails()) == 1 }, waitFor, time.Millisecond)
	assert.ErrorIs(t, sink.Fails()[0], boom)
}

func TestSelector_StopFromSinkAndIdempotent(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	push := newFakeChannel(KindWebSocket)
	f := &fakeFactory{push: push}
	sink := &recordingSink{}
	sel := NewSelector("sess-1", f, sink, time.Second)
	sink.onDeliver = func(u model.ProgressUpdate) {
		if u.RawStatus == "complete" {
			sel.Stop()
		}
	}
	require.NoError(t, sel.Start(context.Background()))

	push.Update("complete", 100)
	waitDone(t, sel)

	sel.Stop()
	sel.Stop()
	assert.Equal(t, StateClosed, sel.State())
	assert.Equal(t, ConnClosed, sel.Handle().State)
	assert.ErrorIs(t, sel.Start(context.Background()), ErrStopped)
}

func TestSelector_StopBeforeStart(t *testing.T) {
	sel := NewSelector("sess-1", &fakeFactory{push: newFakeChannel(KindWebSocket)}, &recordingSink{}, time.Second)
	sel.Stop()
	waitDone(t, sel)
	assert.Equal(t, StateClosed, sel.State())
	assert.ErrorIs(t, sel.Start(context.Background()), ErrStopped)
}

func TestSelector_ContextCancelStops(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	push := newFakeChannel(KindWebSocket)
	sel := NewSelector("sess-1", &fakeFactory{push: push}, &recordingSink{}, time.Second)
	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, sel.Start(ctx))

	cancel()
	waitDone(t, sel)
	assert.Equal(t, StateClosed, sel.State())
	sel.Stop()
}
