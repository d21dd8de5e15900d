// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package manager

import (
	"context"
	"fmt"
	"slices"
	"sync"
)

// sessionRegistry owns the live sessions and the goroutines working on
// them. The map only stores pointers; per-session state is owned by each
// session's machine.
type sessionRegistry struct {
	mu       sync.Mutex
	closing  bool
	sessions map[string]*session
	wg       sync.WaitGroup
}

func newSessionRegistry() *sessionRegistry {
	return &sessionRegistry{sessions: make(map[string]*session)}
}

// add registers s. It fails when the registry is closing or the id is taken.
func (r *sessionRegistry) add(s *session) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closing {
		return ErrClosed
	}
	if _, ok := r.sessions[s.id]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicate, s.id)
	}
	r.sessions[s.id] = s
	return nil
}

func (r *sessionRegistry) get(id string) (*session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[id]
	return s, ok
}

// remove drops s if it is still registered. Only one caller wins.
func (r *sessionRegistry) remove(s *session) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if cur, ok := r.sessions[s.id]; !ok || cur != s {
		return false
	}
	delete(r.sessions, s.id)
	return true
}

func (r *sessionRegistry) all() []*session {
	r.mu.Lock()
	out := make([]*session, 0, len(r.sessions))
	for _, s := range r.sessions {
		out = append(out, s)
	}
	r.mu.Unlock()
	slices.SortFunc(out, func(a, b *session) int { return a.created.Compare(b.created) })
	return out
}

// Go runs fn as a tracked worker unless the registry is closing.
func (r *sessionRegistry) Go(fn func()) bool {
	r.mu.Lock()
	if r.closing {
		r.mu.Unlock()
		return false
	}
	r.wg.Add(1)
	r.mu.Unlock()

	go func() {
		defer r.wg.Done()
		fn()
	}()
	return true
}

// CloseAndWait refuses new work and waits for running workers, bounded by ctx.
func (r *sessionRegistry) CloseAndWait(ctx context.Context) error {
	r.mu.Lock()
	r.closing = true
	r.mu.Unlock()

	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("session worker drain timeout: %w", ctx.Err())
	}
}
