// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package transport

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/ManuGH/uplink/internal/backend"
	"github.com/ManuGH/uplink/internal/domain/upload/lifecycle"
	"github.com/ManuGH/uplink/internal/domain/upload/model"
	"github.com/ManuGH/uplink/internal/log"
	"github.com/ManuGH/uplink/internal/metrics"
	"github.com/ManuGH/uplink/internal/resilience"
)

// StatusFetcher is the part of the backend client the poll channel needs.
type StatusFetcher interface {
	Status(ctx context.Context, sessionID string) (backend.StatusResponse, error)
}

// Poll is the fallback channel: it asks for the session status on a fixed
// interval until a terminal status arrives or the overall deadline passes.
type Poll struct {
	fetch    StatusFetcher
	interval time.Duration
	timeout  time.Duration
	breaker  *resilience.CircuitBreaker
	logger   zerolog.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
	closed bool
	wg     sync.WaitGroup
}

// NewPoll builds a poll channel. breaker may be shared between sessions.
func NewPoll(fetch StatusFetcher, interval, timeout time.Duration, breaker *resilience.CircuitBreaker) *Poll {
	return &Poll{
		fetch:    fetch,
		interval: interval,
		timeout:  timeout,
		breaker:  breaker,
		logger:   log.WithComponent("transport.poll"),
	}
}

func (p *Poll) Kind() Kind { return KindPoll }

func (p *Poll) Open(ctx context.Context, sessionID string, emit Emit) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return ErrClosed
	}
	if p.cancel != nil {
		return fmt.Errorf("poll: already open")
	}
	loopCtx, cancel := context.WithCancel(ctx)
	p.cancel = cancel
	p.wg.Add(1)
	go p.loop(loopCtx, sessionID, emit)
	return nil
}

func (p *Poll) loop(ctx context.Context, sessionID string, emit Emit) {
	defer p.wg.Done()
	logger := p.logger.With().Str(log.FieldSessionID, sessionID).Logger()

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()
	deadline := time.NewTimer(p.timeout)
	defer deadline.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-deadline.C:
			metrics.RecordPollRequest("deadline")
			logger.Warn().
				Str(log.FieldEvent, "transport.poll_deadline").
				Dur("timeout", p.timeout).
				Msg("no terminal status before polling deadline")
			u := model.ProgressUpdate{
				SessionID:  sessionID,
				RawStatus:  lifecycle.RawTimeout,
				Message:    fmt.Sprintf("no terminal status after %s", p.timeout),
				ReceivedAt: time.Now(),
				Transport:  string(KindPoll),
			}
			emit(Event{Update: &u})
			return
		case <-ticker.C:
			if done := p.tick(ctx, sessionID, emit, logger); done {
				return
			}
		}
	}
}

// tick issues one status request and reports whether polling is over.
func (p *Poll) tick(ctx context.Context, sessionID string, emit Emit, logger zerolog.Logger) bool {
	var st backend.StatusResponse
	call := func() error {
		var err error
		st, err = p.fetch.Status(ctx, sessionID)
		return err
	}

	var err error
	if p.breaker != nil {
		err = p.breaker.Execute(call)
	} else {
		err = call()
	}

	switch {
	case ctx.Err() != nil:
		return true
	case errors.Is(err, resilience.ErrCircuitOpen):
		metrics.RecordPollRequest("skipped")
		logger.Debug().Msg("status endpoint breaker open, skipping tick")
		return false
	case backend.IsServerError(err):
		metrics.RecordPollRequest("server_error")
		emit(Event{Fatal: err})
		return true
	case err != nil:
		metrics.RecordPollRequest("network_error")
		logger.Warn().Err(err).Str(log.FieldEvent, "transport.poll_failed").Msg("status request failed, retrying next tick")
		return false
	}

	metrics.RecordPollRequest("ok")
	u := toUpdate(sessionID, KindPoll, st)
	emit(Event{Update: &u})
	return lifecycle.Canonicalize(u).IsTerminal()
}

func (p *Poll) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	if p.cancel != nil {
		p.cancel()
	}
	p.mu.Unlock()

	p.wg.Wait()
	return nil
}
