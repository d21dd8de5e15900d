// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package transport

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gorilla/websocket"

	"github.com/ManuGH/uplink/internal/backend"
	"github.com/ManuGH/uplink/internal/resilience"
)

// Config holds the timing and selection knobs for progress channels.
type Config struct {
	// Push selects the push variant: KindWebSocket, or KindSSE where
	// websockets are unavailable.
	Push              Kind
	ConnectDeadline   time.Duration
	PollInterval      time.Duration
	PollTimeout       time.Duration
	ReconnectAttempts int
	ReconnectDelay    time.Duration
	BreakerThreshold  int
	BreakerReset      time.Duration
}

// DefaultConfig returns the stock timings: 3s connect deadline, 2s poll
// interval, 300s overall poll timeout, five linear reconnects of 1s steps.
func DefaultConfig() Config {
	return Config{
		Push:              KindWebSocket,
		ConnectDeadline:   3 * time.Second,
		PollInterval:      2 * time.Second,
		PollTimeout:       300 * time.Second,
		ReconnectAttempts: 5,
		ReconnectDelay:    time.Second,
		BreakerThreshold:  5,
		BreakerReset:      30 * time.Second,
	}
}

// Validate reports configuration errors.
func (c Config) Validate() error {
	var errs []error
	switch c.Push {
	case KindWebSocket, KindSSE:
	default:
		errs = append(errs, fmt.Errorf("transport.push: unsupported %q (websocket, sse)", c.Push))
	}
	if c.ConnectDeadline <= 0 {
		errs = append(errs, errors.New("transport.connectDeadline must be positive"))
	}
	if c.PollInterval <= 0 {
		errs = append(errs, errors.New("transport.pollInterval must be positive"))
	}
	if c.PollTimeout < c.PollInterval {
		errs = append(errs, errors.New("transport.pollTimeout must not be shorter than pollInterval"))
	}
	if c.ReconnectAttempts < 0 {
		errs = append(errs, errors.New("transport.reconnectAttempts must not be negative"))
	}
	return errors.Join(errs...)
}

// Dialer builds channels against one backend. The status circuit breaker is
// shared by every poll channel it creates.
type Dialer struct {
	client  *backend.Client
	cfg     Config
	ws      *websocket.Dialer
	breaker *resilience.CircuitBreaker
}

// NewDialer returns a Factory for client.
func NewDialer(client *backend.Client, cfg Config) *Dialer {
	return &Dialer{
		client: client,
		cfg:    cfg,
		ws: &websocket.Dialer{
			HandshakeTimeout: cfg.ConnectDeadline,
		},
		breaker: resilience.NewCircuitBreaker("backend_status", cfg.BreakerThreshold, cfg.BreakerReset,
			resilience.WithFailureFilter(countsAgainstBackend)),
	}
}

// countsAgainstBackend treats only missing responses as backend ill health.
func countsAgainstBackend(err error) bool {
	return !backend.IsServerError(err) && !errors.Is(err, context.Canceled)
}

// Config returns the configuration the dialer was built with.
func (d *Dialer) Config() Config { return d.cfg }

func (d *Dialer) Push() Channel {
	if d.cfg.Push == KindSSE {
		return NewEventStream(d.client.Streaming(), d.client.EventsURL, d.client.Header(),
			d.cfg.ReconnectAttempts, d.cfg.ReconnectDelay)
	}
	return NewWebSocket(d.ws, d.client.PushURL, d.client.Header())
}

func (d *Dialer) Poll() Channel {
	return NewPoll(d.client, d.cfg.PollInterval, d.cfg.PollTimeout, d.breaker)
}

var _ Factory = (*Dialer)(nil)
