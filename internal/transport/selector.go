// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package transport

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/ManuGH/uplink/internal/log"
	"github.com/ManuGH/uplink/internal/metrics"
	"github.com/ManuGH/uplink/internal/pipeline/fsm"
)

// SelectorState is the state of the transport selector.
type SelectorState string

const (
	StateNoChannel    SelectorState = "no_channel"
	StateAwaitingPush SelectorState = "awaiting_push"
	StatePushActive   SelectorState = "push_active"
	StatePolling      SelectorState = "polling"
	StateClosed       SelectorState = "closed"
)

type selectorEvent string

const (
	evStart      selectorEvent = "start"
	evPushOpened selectorEvent = "push_opened"
	evFallback   selectorEvent = "fallback"
	evStop       selectorEvent = "stop"
)

// Fallback reasons, also used as metric labels.
const (
	FallbackDeadline    = "connect_deadline"
	FallbackPushFailure = "push_failure"
)

func selectorTransitions() []fsm.Transition[SelectorState, selectorEvent] {
	return []fsm.Transition[SelectorState, selectorEvent]{
		{From: StateNoChannel, Event: evStart, To: StateAwaitingPush},
		{From: StateAwaitingPush, Event: evPushOpened, To: StatePushActive},

		// Fallback fires at most once: Polling has no fallback edge.
		{From: StateAwaitingPush, Event: evFallback, To: StatePolling},
		{From: StatePushActive, Event: evFallback, To: StatePolling},

		{From: StateNoChannel, Event: evStop, To: StateClosed},
		{From: StateAwaitingPush, Event: evStop, To: StateClosed},
		{From: StatePushActive, Event: evStop, To: StateClosed},
		{From: StatePolling, Event: evStop, To: StateClosed},
	}
}

type taggedEvent struct {
	gen uint64
	ev  Event
}

// Selector owns the single live channel of one session. All channel events
// funnel into one queue consumed by the selector goroutine; events from a
// channel generation that is no longer current are dropped, which resolves
// the connect-deadline versus open race without further locking.
type Selector struct {
	sessionID string
	factory   Factory
	sink      Sink
	deadline  time.Duration
	logger    zerolog.Logger

	machine *fsm.Machine[SelectorState, selectorEvent]
	events  chan taggedEvent
	stopCh  chan struct{}
	done    chan struct{}
	openers sync.WaitGroup

	mu      sync.Mutex
	started bool
	stopped bool
	handle  Handle

	// Owned by the run goroutine.
	gen       uint64
	cur       Channel
	curCancel context.CancelFunc
}

// NewSelector builds a selector for one session. deadline bounds how long
// the push channel may take to open before polling takes over.
func NewSelector(sessionID string, factory Factory, sink Sink, deadline time.Duration) *Selector {
	return &Selector{
		sessionID: sessionID,
		factory:   factory,
		sink:      sink,
		deadline:  deadline,
		logger:    log.WithSession("transport", sessionID),
		machine:   fsm.MustNew(StateNoChannel, selectorTransitions()),
		events:    make(chan taggedEvent),
		stopCh:    make(chan struct{}),
		done:      make(chan struct{}),
		handle:    Handle{State: ConnClosed},
	}
}

// Start opens the push channel and arms the connect deadline. The selector
// runs until Stop is called or ctx is done.
func (s *Selector) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return ErrStopped
	}
	if s.started {
		return errors.New("transport: selector already started")
	}
	if _, err := s.machine.Fire(ctx, evStart); err != nil {
		return err
	}
	s.started = true
	go s.run(ctx)
	return nil
}

// Stop closes the live channel and cancels all timers. It never blocks and
// may be called any number of times from any goroutine, including from the
// sink while an update is being delivered. Done is closed once teardown
// has finished.
func (s *Selector) Stop() {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	s.stopped = true
	started := s.started
	s.mu.Unlock()

	close(s.stopCh)
	if !started {
		_, _ = s.machine.Fire(context.Background(), evStop)
		close(s.done)
	}
}

// Done is closed once the selector has released every resource.
func (s *Selector) Done() <-chan struct{} { return s.done }

// State returns the current selector state.
func (s *Selector) State() SelectorState { return s.machine.State() }

// Handle returns a snapshot of the live channel.
func (s *Selector) Handle() Handle {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.handle
}

func (s *Selector) run(ctx context.Context) {
	defer close(s.done)
	defer s.openers.Wait()
	defer s.shutdown()

	timer := time.NewTimer(s.deadline)
	defer timer.Stop()
	deadline := timer.C

	s.open(ctx, s.factory.Push())

	for {
		// Stop wins over any event that is ready at the same time.
		select {
		case <-s.stopCh:
			return
		case <-ctx.Done():
			return
		default:
		}

		select {
		case <-s.stopCh:
			return
		case <-ctx.Done():
			return
		case <-deadline:
			deadline = nil
			if s.machine.State() == StateAwaitingPush {
				s.fallback(ctx, FallbackDeadline, nil)
			}
		case te := <-s.events:
			if te.gen != s.gen {
				s.logger.Debug().Uint64(log.FieldGeneration, te.gen).Msg("dropping event from retired channel")
				continue
			}
			if s.handleEvent(ctx, te.ev) {
				timer.Stop()
				deadline = nil
			}
		}
	}
}

// handleEvent applies one current-generation event and reports whether the
// connect deadline should be disarmed.
func (s *Selector) handleEvent(ctx context.Context, ev Event) bool {
	state := s.machine.State()
	switch {
	case ev.Opened:
		return s.markOpen(ctx, state)

	case ev.Update != nil:
		disarm := false
		if state == StateAwaitingPush {
			// Data before the open notification still proves the socket works.
			disarm = s.markOpen(ctx, state)
		}
		s.sink.Deliver(*ev.Update)
		return disarm

	case ev.Failure != nil:
		switch state {
		case StateAwaitingPush, StatePushActive:
			s.fallback(ctx, FallbackPushFailure, ev.Failure)
			return true
		default:
			s.logger.Debug().Err(ev.Failure).Str("state", string(state)).Msg("ignoring transport failure")
		}

	case ev.Fatal != nil:
		s.sink.Fail(ev.Fatal)
	}
	return false
}

func (s *Selector) markOpen(ctx context.Context, state SelectorState) bool {
	if s.Handle().State == ConnOpen {
		return false
	}
	if state == StateAwaitingPush {
		if _, err := s.machine.Fire(ctx, evPushOpened); err != nil {
			return false
		}
		s.logger.Info().
			Str(log.FieldEvent, "transport.push_open").
			Str(log.FieldTransport, string(s.cur.Kind())).
			Msg("push channel open")
	}
	metrics.RecordTransportOpen(string(s.cur.Kind()), "ok")
	s.setConnState(ConnOpen)
	return true
}

func (s *Selector) fallback(ctx context.Context, reason string, cause error) {
	if _, err := s.machine.Fire(ctx, evFallback); err != nil {
		return
	}
	if reason == FallbackDeadline {
		metrics.RecordTransportOpen(string(s.cur.Kind()), "timeout")
	} else if s.Handle().State == ConnConnecting {
		metrics.RecordTransportOpen(string(s.cur.Kind()), "error")
	}
	metrics.RecordFallback(reason)
	s.logger.Warn().
		Err(cause).
		Str(log.FieldEvent, "transport.fallback").
		Str(log.FieldReason, reason).
		Msg("switching to polling")

	s.retire()
	s.open(ctx, s.factory.Poll())
}

// open makes ch the live channel under a new generation and connects it in
// the background so the deadline timer can race the connect.
func (s *Selector) open(ctx context.Context, ch Channel) {
	s.gen++
	gen := s.gen
	chCtx, cancel := context.WithCancel(ctx)
	s.cur, s.curCancel = ch, cancel

	s.mu.Lock()
	s.handle = Handle{
		Kind:              ch.Kind(),
		State:             ConnConnecting,
		Generation:        gen,
		ReconnectAttempts: s.handle.ReconnectAttempts,
	}
	s.mu.Unlock()

	emit := s.emitter(chCtx, gen)
	s.openers.Add(1)
	go func() {
		defer s.openers.Done()
		if err := ch.Open(chCtx, s.sessionID, emit); err != nil {
			emit(Event{Failure: failure(ch.Kind(), err)})
			return
		}
		emit(Event{Opened: true})
	}()
}

// retire cancels and closes the live channel. The context is cancelled
// first so a channel blocked in emit unblocks before Close waits for it.
func (s *Selector) retire() {
	if s.cur == nil {
		return
	}
	s.curCancel()
	_ = s.cur.Close()

	s.mu.Lock()
	if r, ok := s.cur.(reconnecter); ok {
		s.handle.ReconnectAttempts += r.Reconnects()
	}
	s.handle.State = ConnClosed
	s.mu.Unlock()

	s.cur, s.curCancel = nil, nil
}

func (s *Selector) shutdown() {
	s.retire()
	from := s.machine.State()
	_, _ = s.machine.Fire(context.Background(), evStop)
	s.logger.Debug().
		Str(log.FieldEvent, "transport.closed").
		Str(log.FieldOldState, string(from)).
		Msg("selector closed")
}

func (s *Selector) emitter(ctx context.Context, gen uint64) Emit {
	return func(ev Event) {
		select {
		case s.events <- taggedEvent{gen: gen, ev: ev}:
		case <-ctx.Done():
		case <-s.stopCh:
		}
	}
}

func (s *Selector) setConnState(st ConnState) {
	s.mu.Lock()
	s.handle.State = st
	s.mu.Unlock()
}
