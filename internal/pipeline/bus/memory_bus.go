// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package bus

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/ManuGH/uplink/internal/log"
	"github.com/ManuGH/uplink/internal/metrics"
)

// SubscriberBuffer is the per-subscriber channel capacity.
const SubscriberBuffer = 64

// MemoryBus is an in-memory pub/sub. It is not durable; slow subscribers
// lose messages once their buffer is full.
type MemoryBus struct {
	mu   sync.RWMutex
	subs map[string][]*memSub
}

const dropLogEvery = 100

var dropCount atomic.Uint64

func NewMemoryBus() *MemoryBus {
	return &MemoryBus{subs: make(map[string][]*memSub)}
}

func publishDropReason(err error) string {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	case errors.Is(err, context.Canceled):
		return "canceled"
	default:
		return "context_done"
	}
}

func recordDrop(topic, reason string) {
	metrics.IncBusDropReason(topic, reason)
	count := dropCount.Add(1)
	if count%dropLogEvery == 0 {
		log.L().Warn().
			Str("topic", topic).
			Str("reason", reason).
			Uint64("dropped", count).
			Msg("memory bus dropped messages")
	}
}

// Publish delivers msg to every subscriber of topic, blocking on full
// buffers until ctx is done.
func (b *MemoryBus) Publish(ctx context.Context, topic string, msg Message) error {
	if ctx == nil {
		return fmt.Errorf("publish context is nil")
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, s := range b.subs[topic] {
		select {
		case s.ch <- msg:
		case <-ctx.Done():
			recordDrop(topic, publishDropReason(ctx.Err()))
			return fmt.Errorf("publish topic %q: %w", topic, ctx.Err())
		}
	}
	return nil
}

// TryPublish delivers msg without blocking and returns the number of
// subscribers that received it. It is safe to call while holding other locks.
func (b *MemoryBus) TryPublish(topic string, msg Message) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	delivered := 0
	for _, s := range b.subs[topic] {
		select {
		case s.ch <- msg:
			delivered++
		default:
			recordDrop(topic, "full")
		}
	}
	return delivered
}

func (b *MemoryBus) Subscribe(ctx context.Context, topic string) (Subscriber, error) {
	if ctx != nil {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
	}
	s := &memSub{b: b, topic: topic, ch: make(chan Message, SubscriberBuffer)}

	b.mu.Lock()
	b.subs[topic] = append(b.subs[topic], s)
	b.mu.Unlock()

	return s, nil
}

type memSub struct {
	b     *MemoryBus
	topic string
	ch    chan Message
	once  sync.Once
}

func (s *memSub) C() <-chan Message {
	return s.ch
}

func (s *memSub) Close() error {
	s.once.Do(func() {
		s.b.mu.Lock()
		defer s.b.mu.Unlock()

		lst := s.b.subs[s.topic]
		out := lst[:0]
		for _, c := range lst {
			if c != s {
				out = append(out, c)
			}
		}
		if len(out) == 0 {
			delete(s.b.subs, s.topic)
		} else {
			s.b.subs[s.topic] = out
		}
		close(s.ch)
	})
	return nil
}

// Ensure compliance
var _ Bus = (*MemoryBus)(nil)
