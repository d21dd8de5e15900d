// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package archive

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ManuGH/uplink/internal/domain/upload/model"
	"github.com/ManuGH/uplink/internal/log"
	"github.com/ManuGH/uplink/internal/persistence/sqlite"
)

const schemaVersion = 1

// SqliteStore implements Store on a local SQLite file.
type SqliteStore struct {
	DB *sql.DB
}

// OpenSqliteStore opens or creates the archive database at path and
// migrates it to the current schema.
func OpenSqliteStore(ctx context.Context, path string) (*SqliteStore, error) {
	if path == "" {
		return nil, errors.New("archive: sqlite backend needs a path")
	}
	db, err := sqlite.Open(path, sqlite.DefaultConfig())
	if err != nil {
		return nil, err
	}

	s := &SqliteStore{DB: db}
	if err := s.migrate(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("archive: migration failed: %w", err)
	}
	if issues, err := sqlite.VerifyIntegrity(ctx, db, "quick"); err != nil || issues != nil {
		_ = db.Close()
		if err == nil {
			err = fmt.Errorf("integrity check: %s", strings.Join(issues, "; "))
		}
		return nil, fmt.Errorf("archive: %s: %w", path, err)
	}
	return s, nil
}

func (s *SqliteStore) Close() error {
	return s.DB.Close()
}

func (s *SqliteStore) migrate(ctx context.Context) error {
	current, err := sqlite.UserVersion(s.DB)
	if err != nil {
		return err
	}
	if current >= schemaVersion {
		return nil
	}

	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	schema := `
	CREATE TABLE IF NOT EXISTS archived_sessions (
		session_id TEXT PRIMARY KEY,
		source_kind TEXT NOT NULL,
		state TEXT NOT NULL,
		progress REAL NOT NULL,
		error_kind TEXT,
		error_message TEXT,
		attempts INTEGER NOT NULL,
		transport TEXT,
		created_at_ms INTEGER NOT NULL,
		terminal_at_ms INTEGER NOT NULL,
		acked_at_ms INTEGER NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_archived_acked ON archived_sessions(acked_at_ms);
	`
	if _, err := tx.ExecContext(ctx, schema); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, fmt.Sprintf("PRAGMA user_version = %d", schemaVersion)); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return err
	}

	logger := log.WithComponent("archive")
	logger.Info().
		Int("from", current).
		Int("to", schemaVersion).
		Msg("archive schema migrated")
	return nil
}

func (s *SqliteStore) Put(ctx context.Context, rec Record) error {
	if err := validID(rec.SessionID); err != nil {
		return err
	}
	const query = `
	INSERT INTO archived_sessions (
		session_id, source_kind, state, progress, error_kind, error_message,
		attempts, transport, created_at_ms, terminal_at_ms, acked_at_ms
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(session_id) DO UPDATE SET
		source_kind = excluded.source_kind,
		state = excluded.state,
		progress = excluded.progress,
		error_kind = excluded.error_kind,
		error_message = excluded.error_message,
		attempts = excluded.attempts,
		transport = excluded.transport,
		created_at_ms = excluded.created_at_ms,
		terminal_at_ms = excluded.terminal_at_ms,
		acked_at_ms = excluded.acked_at_ms
	`
	_, err := s.DB.ExecContext(ctx, query,
		rec.SessionID, string(rec.SourceKind), string(rec.State), rec.Progress,
		string(rec.ErrorKind), rec.ErrorMessage, rec.Attempts, rec.Transport,
		rec.CreatedAt.UnixMilli(), rec.TerminalAt.UnixMilli(), rec.AckedAt.UnixMilli(),
	)
	return err
}

const selectColumns = `session_id, source_kind, state, progress, error_kind, error_message,
	attempts, transport, created_at_ms, terminal_at_ms, acked_at_ms`

type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(row scanner) (Record, error) {
	var (
		r                          Record
		kind, state                string
		errKind, errMsg, transport sql.NullString
		created, terminal, acked   int64
	)
	if err := row.Scan(&r.SessionID, &kind, &state, &r.Progress, &errKind, &errMsg,
		&r.Attempts, &transport, &created, &terminal, &acked); err != nil {
		return Record{}, err
	}
	r.SourceKind = model.SourceKind(kind)
	r.State = model.State(state)
	r.ErrorKind = model.ErrorKind(errKind.String)
	r.ErrorMessage = errMsg.String
	r.Transport = transport.String
	r.CreatedAt = time.UnixMilli(created).UTC()
	r.TerminalAt = time.UnixMilli(terminal).UTC()
	r.AckedAt = time.UnixMilli(acked).UTC()
	return r, nil
}

func (s *SqliteStore) Get(ctx context.Context, id string) (Record, error) {
	row := s.DB.QueryRowContext(ctx, "SELECT "+selectColumns+" FROM archived_sessions WHERE session_id = ?", id)
	r, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Record{}, ErrNotFound
	}
	return r, err
}

func (s *SqliteStore) List(ctx context.Context, limit int) ([]Record, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.DB.QueryContext(ctx,
		"SELECT "+selectColumns+" FROM archived_sessions ORDER BY acked_at_ms DESC, session_id ASC LIMIT ?", limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		r, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}
