// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package transport

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/ManuGH/uplink/internal/backend"
	"github.com/ManuGH/uplink/internal/domain/upload/lifecycle"
	"github.com/ManuGH/uplink/internal/log"
)

const maxEventSize = 1 << 20

// EventStream is the push-pull hybrid: a server-sent event stream opened
// with a plain GET. Lost streams are reopened with linear backoff.
type EventStream struct {
	client   *http.Client
	url      func(sessionID string) string
	header   http.Header
	attempts int
	delay    time.Duration
	logger   zerolog.Logger

	reconnects atomic.Int64

	mu     sync.Mutex
	cancel context.CancelFunc
	closed bool
	wg     sync.WaitGroup
}

// NewEventStream builds an SSE channel that reconnects up to attempts
// times, waiting delay*attempt before each try.
func NewEventStream(client *http.Client, url func(string) string, header http.Header, attempts int, delay time.Duration) *EventStream {
	return &EventStream{
		client:   client,
		url:      url,
		header:   header,
		attempts: attempts,
		delay:    delay,
		logger:   log.WithComponent("transport.sse"),
	}
}

func (s *EventStream) Kind() Kind { return KindSSE }

// Reconnects returns how many reconnects were attempted so far.
func (s *EventStream) Reconnects() int { return int(s.reconnects.Load()) }

func (s *EventStream) Open(ctx context.Context, sessionID string, emit Emit) error {
	streamCtx, cancel := context.WithCancel(ctx)

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		cancel()
		return ErrClosed
	}
	s.cancel = cancel
	s.mu.Unlock()

	body, err := s.connect(streamCtx, sessionID)
	if err != nil {
		cancel()
		return err
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		_ = body.Close()
		return ErrClosed
	}
	s.wg.Add(1)
	s.mu.Unlock()

	go s.run(streamCtx, sessionID, body, emit)
	return nil
}

func (s *EventStream) connect(ctx context.Context, sessionID string) (io.ReadCloser, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.url(sessionID), nil)
	if err != nil {
		return nil, fmt.Errorf("event stream: %w", err)
	}
	for k, v := range s.header {
		req.Header[k] = v
	}
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Cache-Control", "no-cache")

	res, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("event stream: %w", err)
	}
	if res.StatusCode != http.StatusOK {
		_ = res.Body.Close()
		return nil, fmt.Errorf("event stream: HTTP %d", res.StatusCode)
	}
	return res.Body, nil
}

func (s *EventStream) run(ctx context.Context, sessionID string, body io.ReadCloser, emit Emit) {
	defer s.wg.Done()
	logger := s.logger.With().Str(log.FieldSessionID, sessionID).Logger()

	for {
		terminal, err := s.consume(body, sessionID, emit, logger)
		_ = body.Close()
		if terminal || ctx.Err() != nil {
			return
		}
		logger.Info().Err(err).Str(log.FieldEvent, "transport.stream_lost").Msg("event stream lost, reconnecting")

		body, err = s.reconnect(ctx, sessionID, logger)
		if ctx.Err() != nil {
			return
		}
		if err != nil {
			emit(Event{Failure: failure(KindSSE, err)})
			return
		}
	}
}

func (s *EventStream) reconnect(ctx context.Context, sessionID string, logger zerolog.Logger) (io.ReadCloser, error) {
	var lastErr error
	for attempt := 1; attempt <= s.attempts; attempt++ {
		t := time.NewTimer(s.delay * time.Duration(attempt))
		select {
		case <-ctx.Done():
			t.Stop()
			return nil, ctx.Err()
		case <-t.C:
		}

		s.reconnects.Add(1)
		body, err := s.connect(ctx, sessionID)
		if err == nil {
			logger.Info().Int(log.FieldAttempt, attempt).Msg("event stream reconnected")
			return body, nil
		}
		lastErr = err
		logger.Debug().Err(err).Int(log.FieldAttempt, attempt).Msg("event stream reconnect failed")
	}
	if lastErr == nil {
		lastErr = fmt.Errorf("stream lost")
	}
	return nil, fmt.Errorf("gave up after %d reconnects: %w", s.attempts, lastErr)
}

// consume reads events until the stream ends or a terminal status arrives.
func (s *EventStream) consume(body io.Reader, sessionID string, emit Emit, logger zerolog.Logger) (bool, error) {
	sc := bufio.NewScanner(body)
	sc.Buffer(make([]byte, 0, 4096), maxEventSize)

	var (
		name string
		data strings.Builder
	)
	for sc.Scan() {
		line := sc.Text()
		switch {
		case line == "":
			if data.Len() > 0 && name != "ping" {
				if s.dispatch(data.String(), sessionID, emit, logger) {
					return true, nil
				}
			}
			name = ""
			data.Reset()
		case strings.HasPrefix(line, ":"):
			// comment / keepalive
		default:
			field, value, _ := strings.Cut(line, ":")
			value = strings.TrimPrefix(value, " ")
			switch field {
			case "event":
				name = value
			case "data":
				if data.Len() > 0 {
					data.WriteByte('\n')
				}
				data.WriteString(value)
			}
		}
	}
	if err := sc.Err(); err != nil {
		return false, err
	}
	return false, io.ErrUnexpectedEOF
}

func (s *EventStream) dispatch(data, sessionID string, emit Emit, logger zerolog.Logger) bool {
	var frame backend.StatusResponse
	if err := json.Unmarshal([]byte(data), &frame); err != nil {
		logger.Warn().Err(err).Str(log.FieldEvent, "transport.frame_invalid").Msg("skipping malformed event")
		return false
	}
	if frame.Empty() {
		return false
	}
	u := toUpdate(sessionID, KindSSE, frame)
	emit(Event{Update: &u})
	return lifecycle.Canonicalize(u).IsTerminal()
}

func (s *EventStream) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	if s.cancel != nil {
		s.cancel()
	}
	s.mu.Unlock()

	s.wg.Wait()
	return nil
}
