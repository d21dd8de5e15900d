// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

// Package manager is the caller-facing entry point: it begins sessions,
// fans their snapshots out to observers and archives them on acknowledgement.
package manager

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/ManuGH/uplink/internal/domain/upload/archive"
	"github.com/ManuGH/uplink/internal/domain/upload/coordinator"
	"github.com/ManuGH/uplink/internal/domain/upload/machine"
	"github.com/ManuGH/uplink/internal/domain/upload/model"
	"github.com/ManuGH/uplink/internal/log"
	"github.com/ManuGH/uplink/internal/metrics"
	"github.com/ManuGH/uplink/internal/pipeline/bus"
	"github.com/ManuGH/uplink/internal/telemetry"
	"github.com/ManuGH/uplink/internal/transport"
)

var (
	ErrNotFound    = errors.New("session not found")
	ErrNotTerminal = errors.New("session has not reached a terminal state")
	ErrDuplicate   = errors.New("session id already registered")
	ErrClosed      = errors.New("manager is closed")
)

// Snapshot is a point-in-time copy of a session, safe to retain.
type Snapshot = model.UploadSession

// Config wires a Manager.
type Config struct {
	Coordinator     *coordinator.Coordinator
	Channels        transport.Factory
	ConnectDeadline time.Duration
	Archive         archive.Store
	// OnTerminal runs once per attempt when a session completes or fails.
	OnTerminal func(Snapshot)
	Clock      func() time.Time
}

// Manager runs upload sessions. All methods are safe for concurrent use.
type Manager struct {
	coord      *coordinator.Coordinator
	channels   transport.Factory
	deadline   time.Duration
	archive    archive.Store
	onTerminal func(Snapshot)
	now        func() time.Time
	bus        *bus.MemoryBus
	tracer     trace.Tracer
	logger     zerolog.Logger

	registry *sessionRegistry
	base     context.Context
	stop     context.CancelFunc
	closed   sync.Once
}

type session struct {
	id      string
	created time.Time
	machine *machine.Machine
	ticket  *coordinator.Ticket
	gone    chan struct{}

	// retry serialises Retry calls; mu guards worker, which is closed when
	// the goroutine of the latest attempt has returned.
	retry  sync.Mutex
	mu     sync.Mutex
	worker chan struct{}
}

func (s *session) workerDone() <-chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.worker
}

// New returns a Manager. Archive defaults to an in-memory store.
func New(cfg Config) (*Manager, error) {
	if cfg.Coordinator == nil || cfg.Channels == nil {
		return nil, errors.New("manager: coordinator and channels are required")
	}
	if cfg.ConnectDeadline <= 0 {
		cfg.ConnectDeadline = transport.DefaultConfig().ConnectDeadline
	}
	if cfg.Archive == nil {
		cfg.Archive = archive.NewMemoryStore()
	}
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}
	base, stop := context.WithCancel(context.Background())
	return &Manager{
		coord:      cfg.Coordinator,
		channels:   cfg.Channels,
		deadline:   cfg.ConnectDeadline,
		archive:    cfg.Archive,
		onTerminal: cfg.OnTerminal,
		now:        cfg.Clock,
		bus:        bus.NewMemoryBus(),
		tracer:     otel.Tracer("uplink/manager"),
		logger:     log.WithComponent("manager"),
		registry:   newSessionRegistry(),
		base:       base,
		stop:       stop,
	}, nil
}

func topic(id string) string { return "session/" + id }

// Begin validates src, obtains a backend session id and starts the session
// in the background. Validation and backend errors are returned as is and
// leave no session behind.
func (m *Manager) Begin(ctx context.Context, src coordinator.Source) (string, error) {
	if m.base.Err() != nil {
		return "", ErrClosed
	}
	ticket, err := m.coord.Prepare(ctx, src)
	if err != nil {
		return "", err
	}

	id := ticket.SessionID
	s := &session{id: id, created: m.now(), ticket: ticket, gone: make(chan struct{})}
	s.machine = machine.New(machine.Config{
		SessionID:  id,
		SourceKind: ticket.Kind,
		Clock:      m.now,
		Publish:    func(snap model.UploadSession) { m.bus.TryPublish(topic(id), snap) },
		OnTerminal: m.terminal,
	})
	if err := m.registry.add(s); err != nil {
		return "", err
	}

	metrics.IncSessionStarted(string(ticket.Kind))
	metrics.ActiveSessions.Inc()
	m.logger.Info().
		Str(log.FieldEvent, "session.created").
		Str(log.FieldSessionID, id).
		Str(log.FieldSourceKind, string(ticket.Kind)).
		Str(log.FieldRequestID, log.RequestIDFromContext(ctx)).
		Msg("session created")

	if !m.launch(s) {
		s.machine.Cancel()
	}
	return id, nil
}

// launch runs one attempt: transfer, then progress observation until the
// session is terminal.
func (m *Manager) launch(s *session) bool {
	ctx, cancel := context.WithCancel(log.ContextWithSessionID(m.base, s.id))
	s.machine.Bind(cancel)

	exited := make(chan struct{})
	s.mu.Lock()
	s.worker = exited
	s.mu.Unlock()

	ok := m.registry.Go(func() {
		defer close(exited)
		defer cancel()
		snap := s.machine.Snapshot()
		ctx, span := m.tracer.Start(ctx, "upload.attempt",
			trace.WithAttributes(telemetry.SessionAttributes(s.id, string(snap.SourceKind), snap.Attempt)...))
		defer func() {
			final := s.machine.Snapshot()
			span.SetAttributes(telemetry.OutcomeAttributes(final.State.String(), string(final.ErrorKind()))...)
			span.End()
		}()

		if err := m.coord.Drive(ctx, s.ticket, s.machine); err != nil {
			s.machine.Fail(err)
			return
		}

		sel := transport.NewSelector(s.id, m.channels, s.machine, m.deadline)
		s.machine.Attach(sel)
		if err := sel.Start(ctx); err != nil {
			if !errors.Is(err, transport.ErrStopped) {
				s.machine.Fail(err)
			}
			return
		}
		<-sel.Done()
	})
	if !ok {
		cancel()
		close(exited)
	}
	return ok
}

func (m *Manager) terminal(snap model.UploadSession) {
	if m.onTerminal != nil {
		m.onTerminal(snap)
	}
}

func (m *Manager) lookup(id string) (*session, error) {
	s, ok := m.registry.get(id)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return s, nil
}

// Get returns the current snapshot of a live session.
func (m *Manager) Get(id string) (Snapshot, error) {
	s, err := m.lookup(id)
	if err != nil {
		return Snapshot{}, err
	}
	return s.machine.Snapshot(), nil
}

// List returns snapshots of all live sessions, oldest first.
func (m *Manager) List() []Snapshot {
	all := m.registry.all()
	out := make([]Snapshot, 0, len(all))
	for _, s := range all {
		out = append(out, s.machine.Snapshot())
	}
	return out
}

// Await blocks until the session's current attempt is terminal or ctx ends.
func (m *Manager) Await(ctx context.Context, id string) (Snapshot, error) {
	s, err := m.lookup(id)
	if err != nil {
		return Snapshot{}, err
	}
	for {
		done := s.machine.Done()
		snap := s.machine.Snapshot()
		if snap.State.IsTerminal() {
			return snap, nil
		}
		select {
		case <-done:
		case <-s.gone:
			return s.machine.Snapshot(), nil
		case <-ctx.Done():
			return snap, ctx.Err()
		}
	}
}

// Cancel stops a live session. Cancelling a terminal session is a no-op.
func (m *Manager) Cancel(id string) error {
	s, err := m.lookup(id)
	if err != nil {
		return err
	}
	if s.machine.Cancel() {
		m.logger.Info().Str(log.FieldEvent, "session.cancelled").Str(log.FieldSessionID, id).Msg("session cancelled by caller")
	}
	return nil
}

// Retry starts a new attempt for a session in Error. A local file whose
// transfer was acknowledged is not sent again. The previous attempt's
// worker is drained first so none of its calls reach the new attempt.
func (m *Manager) Retry(id string) error {
	s, err := m.lookup(id)
	if err != nil {
		return err
	}
	s.retry.Lock()
	defer s.retry.Unlock()

	if st := s.machine.Snapshot().State; st != model.StateError {
		return fmt.Errorf("%w: %s", machine.ErrNotRetryable, st)
	}
	select {
	case <-s.workerDone():
	case <-s.gone:
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	case <-m.base.Done():
		return ErrClosed
	}

	if err := s.machine.Reset(); err != nil {
		return err
	}
	if !m.launch(s) {
		s.machine.Cancel()
		return ErrClosed
	}
	return nil
}

// Ack archives a terminal session and removes it from memory.
func (m *Manager) Ack(ctx context.Context, id string) (archive.Record, error) {
	s, err := m.lookup(id)
	if err != nil {
		return archive.Record{}, err
	}
	snap := s.machine.Snapshot()
	if !snap.State.IsTerminal() {
		return archive.Record{}, fmt.Errorf("%w: %s is %s", ErrNotTerminal, id, snap.State)
	}

	rec := archive.FromSession(snap, m.now())
	if err := m.archive.Put(ctx, rec); err != nil {
		return archive.Record{}, fmt.Errorf("archive %s: %w", id, err)
	}
	if !m.registry.remove(s) {
		return archive.Record{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	close(s.gone)
	metrics.ActiveSessions.Dec()

	m.logger.Info().
		Str(log.FieldEvent, "session.acked").
		Str(log.FieldSessionID, id).
		Str(log.FieldNewState, snap.State.String()).
		Msg("session archived")
	return rec, nil
}

// Archived returns the archived record of an acknowledged session.
func (m *Manager) Archived(ctx context.Context, id string) (archive.Record, error) {
	rec, err := m.archive.Get(ctx, id)
	if errors.Is(err, archive.ErrNotFound) {
		return archive.Record{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return rec, err
}

// Close cancels every live session and waits for their workers.
func (m *Manager) Close(ctx context.Context) error {
	var err error
	m.closed.Do(func() {
		for _, s := range m.registry.all() {
			s.machine.Cancel()
		}
		m.stop()
		err = m.registry.CloseAndWait(ctx)
	})
	return err
}
