// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

// Package archive keeps acknowledged sessions after they leave memory.
package archive

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ManuGH/uplink/internal/domain/upload/model"
)

// ErrNotFound is returned when no record exists for a session id.
var ErrNotFound = errors.New("archive: record not found")

// Record is the archived outcome of a session.
type Record struct {
	SessionID    string           `json:"sessionId"`
	SourceKind   model.SourceKind `json:"sourceKind"`
	State        model.State      `json:"state"`
	Progress     float64          `json:"progress"`
	ErrorKind    model.ErrorKind  `json:"errorKind,omitempty"`
	ErrorMessage string           `json:"errorMessage,omitempty"`
	Attempts     int              `json:"attempts"`
	Transport    string           `json:"transport,omitempty"`
	CreatedAt    time.Time        `json:"createdAt"`
	TerminalAt   time.Time        `json:"terminalAt"`
	AckedAt      time.Time        `json:"ackedAt"`
}

// FromSession builds the record for a terminal session.
func FromSession(s model.UploadSession, ackedAt time.Time) Record {
	r := Record{
		SessionID:    s.SessionID,
		SourceKind:   s.SourceKind,
		State:        s.State,
		Progress:     s.Progress,
		ErrorKind:    s.ErrorKind(),
		ErrorMessage: s.ErrorMessage(),
		Attempts:     s.Attempt,
		Transport:    s.Transport,
		CreatedAt:    s.CreatedAt.UTC(),
		AckedAt:      ackedAt.UTC(),
	}
	if s.TerminalAt != nil {
		r.TerminalAt = s.TerminalAt.UTC()
	}
	return r
}

// Store persists records. Put overwrites an existing record with the same id.
// List returns the most recently acknowledged records first.
type Store interface {
	Put(ctx context.Context, rec Record) error
	Get(ctx context.Context, sessionID string) (Record, error)
	List(ctx context.Context, limit int) ([]Record, error)
	Close() error
}

// Config selects and parameterises a backend.
type Config struct {
	Backend       string // memory, sqlite, badger, redis
	Path          string
	RedisAddr     string
	RedisPassword string
	RedisDB       int
}

// Open creates the Store for cfg.Backend. An empty backend means memory.
func Open(ctx context.Context, cfg Config) (Store, error) {
	switch cfg.Backend {
	case "", "memory":
		return NewMemoryStore(), nil
	case "sqlite":
		return OpenSqliteStore(ctx, cfg.Path)
	case "badger":
		return OpenBadgerStore(cfg.Path)
	case "redis":
		return OpenRedisStore(ctx, cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
	default:
		return nil, fmt.Errorf("unknown archive backend: %s", cfg.Backend)
	}
}

func validID(id string) error {
	if id == "" {
		return errors.New("archive: empty session id")
	}
	return nil
}
