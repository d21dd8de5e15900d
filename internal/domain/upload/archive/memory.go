// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package archive

import (
	"context"
	"slices"
	"sync"
)

// MemoryStore is a process-local Store.
type MemoryStore struct {
	mu      sync.RWMutex
	records map[string]Record
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[string]Record)}
}

func (s *MemoryStore) Put(_ context.Context, rec Record) error {
	if err := validID(rec.SessionID); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[rec.SessionID] = rec
	return nil
}

func (s *MemoryStore) Get(_ context.Context, id string) (Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.records[id]
	if !ok {
		return Record{}, ErrNotFound
	}
	return rec, nil
}

func (s *MemoryStore) List(_ context.Context, limit int) ([]Record, error) {
	s.mu.RLock()
	out := make([]Record, 0, len(s.records))
	for _, r := range s.records {
		out = append(out, r)
	}
	s.mu.RUnlock()
	return newestFirst(out, limit), nil
}

func (s *MemoryStore) Close() error { return nil }

func newestFirst(recs []Record, limit int) []Record {
	slices.SortFunc(recs, func(a, b Record) int {
		if c := b.AckedAt.Compare(a.AckedAt); c != 0 {
			return c
		}
		switch {
		case a.SessionID < b.SessionID:
			return -1
		case a.SessionID > b.SessionID:
			return 1
		}
		return 0
	})
	if limit > 0 && len(recs) > limit {
		recs = recs[:limit]
	}
	return recs
}
