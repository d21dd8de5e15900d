// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

// Package machine holds the authoritative state of one upload session.
package machine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/ManuGH/uplink/internal/domain/upload/lifecycle"
	"github.com/ManuGH/uplink/internal/domain/upload/model"
	"github.com/ManuGH/uplink/internal/log"
	"github.com/ManuGH/uplink/internal/metrics"
)

var (
	ErrIllegalTransition = errors.New("illegal session transition")
	ErrNotRetryable      = errors.New("session is not in error state")
)

// TransportLocal tags updates produced by the transfer itself.
const TransportLocal = "transfer"

// Stopper is the part of the transport selector the machine drives.
type Stopper interface {
	Stop()
}

// Config wires a machine to its observers.
type Config struct {
	SessionID  string
	SourceKind model.SourceKind
	// OnTerminal runs once per attempt, outside the session lock.
	OnTerminal func(model.UploadSession)
	// Publish receives every accepted snapshot, in order, under the lock.
	// It must not block.
	Publish func(model.UploadSession)
	Clock   func() time.Time
}

// Machine is the single writer of an UploadSession. All methods are safe
// for concurrent use.
type Machine struct {
	onTerminal func(model.UploadSession)
	publish    func(model.UploadSession)
	now        func() time.Time
	logger     zerolog.Logger

	mu      sync.Mutex
	sess    model.UploadSession
	stopper Stopper
	cancel  context.CancelFunc
	fired   bool
	done    chan struct{}
}

// New returns a machine in Idle for the first attempt.
func New(cfg Config) *Machine {
	now := cfg.Clock
	if now == nil {
		now = time.Now
	}
	created := now()
	return &Machine{
		onTerminal: cfg.OnTerminal,
		publish:    cfg.Publish,
		now:        now,
		logger:     log.WithSession("machine", cfg.SessionID),
		sess: model.UploadSession{
			SessionID:  cfg.SessionID,
			SourceKind: cfg.SourceKind,
			State:      model.StateIdle,
			Attempt:    1,
			CreatedAt:  created,
			UpdatedAt:  created,
		},
		done: make(chan struct{}),
	}
}

// ID returns the session id.
func (m *Machine) ID() string { return m.sess.SessionID }

// Snapshot returns a copy of the current session.
func (m *Machine) Snapshot() model.UploadSession {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.snapshotLocked()
}

func (m *Machine) snapshotLocked() model.UploadSession {
	s := m.sess
	if s.TerminalAt != nil {
		t := *s.TerminalAt
		s.TerminalAt = &t
	}
	return s
}

// Done is closed when the current attempt reaches a terminal state. A
// retry installs a fresh channel.
func (m *Machine) Done() <-chan struct{} {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.done
}

// Attach binds the channel selector of the current attempt. A session that
// is already terminal stops it straight away.
func (m *Machine) Attach(s Stopper) {
	m.mu.Lock()
	terminal := m.sess.State.IsTerminal()
	if !terminal {
		m.stopper = s
	}
	m.mu.Unlock()
	if terminal && s != nil {
		s.Stop()
	}
}

// Bind registers the cancel func of the current attempt's work context.
// It is called when the attempt ends, whichever way.
func (m *Machine) Bind(cancel context.CancelFunc) {
	m.mu.Lock()
	terminal := m.sess.State.IsTerminal()
	if !terminal {
		m.cancel = cancel
	}
	m.mu.Unlock()
	if terminal && cancel != nil {
		cancel()
	}
}

// BeginUpload moves Idle to Uploading.
func (m *Machine) BeginUpload() error {
	return m.local(lifecycle.EvTransferStarted)
}

// BeginProcessing moves Idle or Uploading to Processing and restarts the
// progress scale.
func (m *Machine) BeginProcessing() error {
	return m.local(lifecycle.EvProcessingStarted)
}

func (m *Machine) local(ev lifecycle.EventKind) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	tr, ok := lifecycle.TransitionFor(m.sess.State, ev)
	if !ok {
		return fmt.Errorf("%w: %s on %s", ErrIllegalTransition, ev, m.sess.State)
	}
	m.logger.Debug().
		Str(log.FieldEvent, "session.transition").
		Str(log.FieldOldState, tr.From.String()).
		Str(log.FieldNewState, tr.To.String()).
		Str(log.FieldReason, string(ev)).
		Msg("session transition")

	m.sess.State = tr.To
	m.sess.Progress = 0
	m.sess.Transport = TransportLocal
	m.commitLocked()
	return nil
}

// TransferProgress records local transfer progress while Uploading. It
// reports whether the value was applied.
func (m *Machine) TransferProgress(pct float64) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.sess.State != model.StateUploading {
		return false
	}
	v := lifecycle.Admit(m.sess.State, m.sess.Progress, model.StateUploading, pct)
	if !v.Accepted || v.Progress == m.sess.Progress {
		return false
	}
	m.sess.Progress = v.Progress
	m.sess.Transport = TransportLocal
	m.commitLocked()
	return true
}

// Deliver applies a remote status update. It implements the transport sink.
func (m *Machine) Deliver(u model.ProgressUpdate) {
	next := lifecycle.Canonicalize(u)

	m.mu.Lock()
	v := lifecycle.Admit(m.sess.State, m.sess.Progress, next, u.Progress)
	if !v.Accepted {
		cur := m.sess.State
		m.mu.Unlock()
		metrics.RecordUpdate(u.Transport, v.Reason)
		m.logger.Debug().
			Str(log.FieldEvent, "session.update_rejected").
			Str(log.FieldReason, v.Reason).
			Str(log.FieldOldState, cur.String()).
			Str(log.FieldRawStatus, u.RawStatus).
			Float64(log.FieldProgress, u.Progress).
			Str(log.FieldTransport, u.Transport).
			Msg("update rejected")
		return
	}
	metrics.RecordUpdate(u.Transport, "accepted")

	if v.State != m.sess.State {
		m.logger.Info().
			Str(log.FieldEvent, "session.transition").
			Str(log.FieldOldState, m.sess.State.String()).
			Str(log.FieldNewState, v.State.String()).
			Str(log.FieldRawStatus, u.RawStatus).
			Str(log.FieldTransport, u.Transport).
			Msg("session transition")
	}
	m.sess.State = v.State
	m.sess.Progress = v.Progress
	m.sess.Transport = u.Transport
	if u.Message != "" {
		m.sess.Message = u.Message
	}
	if v.State == model.StateError {
		m.sess.LastError = lifecycle.RemoteFailure(u)
	}

	if !v.State.IsTerminal() {
		m.commitLocked()
		m.mu.Unlock()
		return
	}
	m.terminalizeLocked()
}

// Fail moves the session to Error for a fatal local or backend error. It
// implements the transport sink. Transport errors are never terminal on
// their own and are ignored here.
func (m *Machine) Fail(err error) {
	e := lifecycle.Classify(err)
	if e == nil {
		return
	}
	if e.Kind == model.KindTransport {
		m.logger.Debug().Err(err).Msg("ignoring transport error")
		return
	}
	m.fail(lifecycle.EvFailed, e)
}

// Cancel moves a live session to Error with kind cancelled. It returns
// false when the session was already terminal.
func (m *Machine) Cancel() bool {
	return m.fail(lifecycle.EvCancelled, lifecycle.Cancelled())
}

func (m *Machine) fail(ev lifecycle.EventKind, e *model.Error) bool {
	m.mu.Lock()
	tr, ok := lifecycle.TransitionFor(m.sess.State, ev)
	if !ok {
		state := m.sess.State
		m.mu.Unlock()
		m.logger.Debug().
			Str(log.FieldEvent, "session.failure_ignored").
			Str(log.FieldOldState, state.String()).
			Str(log.FieldReason, string(e.Kind)).
			Msg("session already terminal")
		return false
	}
	m.sess.State = tr.To
	m.sess.LastError = e
	m.sess.Message = ""
	m.terminalizeLocked()
	return true
}

// terminalizeLocked commits the terminal state, releases the lock and runs
// the attempt's side effects exactly once.
func (m *Machine) terminalizeLocked() {
	now := m.now()
	m.sess.TerminalAt = &now
	m.commitLocked()

	snap := m.snapshotLocked()
	fire := !m.fired
	m.fired = true
	stopper, cancel := m.stopper, m.cancel
	m.stopper, m.cancel = nil, nil
	if fire {
		close(m.done)
	}
	m.mu.Unlock()

	if !fire {
		return
	}
	metrics.RecordTerminal(snap.State.String(), string(snap.ErrorKind()))
	ev := m.logger.Info()
	if snap.State == model.StateError {
		ev = m.logger.Warn().Str("error_kind", string(snap.ErrorKind())).Str("error", snap.ErrorMessage())
	}
	ev.Str(log.FieldEvent, "session.terminal").
		Str(log.FieldNewState, snap.State.String()).
		Int(log.FieldAttempt, snap.Attempt).
		Msg("session reached terminal state")

	if m.onTerminal != nil {
		m.onTerminal(snap)
	}
	if stopper != nil {
		stopper.Stop()
	}
	if cancel != nil {
		cancel()
	}
}

// Reset prepares an Error session for another attempt: state returns to
// Idle, progress to zero and the terminal latch is re-armed.
func (m *Machine) Reset() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := lifecycle.TransitionFor(m.sess.State, lifecycle.EvReset); !ok {
		return fmt.Errorf("%w: %s", ErrNotRetryable, m.sess.State)
	}
	m.sess.State = model.StateIdle
	m.sess.Progress = 0
	m.sess.Message = ""
	m.sess.LastError = nil
	m.sess.TerminalAt = nil
	m.sess.Transport = ""
	m.sess.Attempt++
	m.fired = false
	m.done = make(chan struct{})

	m.logger.Info().
		Str(log.FieldEvent, "session.reset").
		Int(log.FieldAttempt, m.sess.Attempt).
		Msg("session reset for retry")
	m.commitLocked()
	return nil
}

func (m *Machine) commitLocked() {
	m.sess.Seq++
	m.sess.UpdatedAt = m.now()
	if m.publish != nil {
		m.publish(m.snapshotLocked())
	}
}
