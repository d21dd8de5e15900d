// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package archive

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ManuGH/uplink/internal/domain/upload/model"
)

func openAll(t *testing.T) map[string]Store {
	t.Helper()
	ctx := context.Background()
	mr := miniredis.RunT(t)

	configs := map[string]Config{
		"memory": {Backend: "memory"},
		"sqlite": {Backend: "sqlite", Path: filepath.Join(t.TempDir(), "archive.sqlite")},
		"badger": {Backend: "badger", Path: filepath.Join(t.TempDir(), "badger")},
		"redis":  {Backend: "redis", RedisAddr: mr.Addr()},
	}
	out := make(map[string]Store, len(configs))
	for name, cfg := range configs {
		s, err := Open(ctx, cfg)
		require.NoError(t, err, name)
		t.Cleanup(func() { _ = s.Close() })
		out[name] = s
	}
	return out
}

func record(id string, acked time.Time) Record {
	base := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	return Record{
		SessionID:  id,
		SourceKind: model.SourceLocalFile,
		State:      model.StateComplete,
		Progress:   100,
		Attempts:   1,
		Transport:  "websocket",
		CreatedAt:  base,
		TerminalAt: base.Add(time.Minute),
		AckedAt:    acked,
	}
}

func TestStores_Contract(t *testing.T) {
	ctx := context.Background()
	t0 := time.Date(2025, 3, 1, 13, 0, 0, 0, time.UTC)

	for name, s := range openAll(t) {
		t.Run(name, func(t *testing.T) {
			_, err := s.Get(ctx, "missing")
			require.ErrorIs(t, err, ErrNotFound)
			require.Error(t, s.Put(ctx, Record{}))

			a := record("a", t0)
			b := record("b", t0.Add(time.Second))
			c := record("c", t0.Add(2*time.Second))
			c.State = model.StateError
			c.Progress = 42
			c.ErrorKind = model.KindProcessing
			c.ErrorMessage = "unsupported codec"
			c.Attempts = 2
			for _, r := range []Record{a, b, c} {
				require.NoError(t, s.Put(ctx, r))
			}

			got, err := s.Get(ctx, "c")
			require.NoError(t, err)
			if diff := cmp.Diff(c, got); diff != "" {
				t.Fatalf("record mismatch (-want +got):\n%s", diff)
			}

			list, err := s.List(ctx, 0)
			require.NoError(t, err)
			ids := make([]string, 0, len(list))
			for _, r := range list {
				ids = append(ids, r.SessionID)
			}
			assert.Equal(t, []string{"c", "b", "a"}, ids)

			limited, err := s.List(ctx, 2)
			require.NoError(t, err)
			assert.Len(t, limited, 2)

			// Re-acknowledging overwrites and moves the record to the front.
			a.AckedAt = t0.Add(time.Hour)
			a.Transport = "poll"
			require.NoError(t, s.Put(ctx, a))
			list, err = s.List(ctx, 1)
			require.NoError(t, err)
			require.Len(t, list, 1)
			assert.Equal(t, "a", list[0].SessionID)
			assert.Equal(t, "poll", list[0].Transport)
		})
	}
}

func TestFromSession(t *testing.T) {
	created := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	terminal := created.Add(5 * time.Minute)
	s := model.UploadSession{
		SessionID:  "sess-1",
		SourceKind: model.SourceRemoteURL,
		State:      model.StateError,
		Progress:   30,
		LastError:  model.NewError(model.KindTimeout, "processing timed out", nil),
		Attempt:    3,
		Transport:  "poll",
		CreatedAt:  created,
		TerminalAt: &terminal,
	}

	got := FromSession(s, terminal.Add(time.Second))
	want := Record{
		SessionID:    "sess-1",
		SourceKind:   model.SourceRemoteURL,
		State:        model.StateError,
		Progress:     30,
		ErrorKind:    model.KindTimeout,
		ErrorMessage: "processing timed out",
		Attempts:     3,
		Transport:    "poll",
		CreatedAt:    created,
		TerminalAt:   terminal,
		AckedAt:      terminal.Add(time.Second),
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("FromSession mismatch (-want +got):\n%s", diff)
	}
}

func TestSqliteStore_SurvivesReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "archive.sqlite")

	s, err := OpenSqliteStore(ctx, path)
	require.NoError(t, err)
	require.NoError(t, s.Put(ctx, record("keep", time.Now().UTC().Truncate(time.Millisecond))))
	require.NoError(t, s.Close())

	s, err = OpenSqliteStore(ctx, path)
	require.NoError(t, err)
	defer s.Close()
	_, err = s.Get(ctx, "keep")
	require.NoError(t, err)
}

func TestOpen_Errors(t *testing.T) {
	ctx := context.Background()
	_, err := Open(ctx, Config{Backend: "bolt"})
	require.Error(t, err)
	_, err = Open(ctx, Config{Backend: "sqlite"})
	require.Error(t, err)
	_, err = Open(ctx, Config{Backend: "redis"})
	require.Error(t, err)

	s, err := Open(ctx, Config{})
	require.NoError(t, err)
	assert.IsType(t, &MemoryStore{}, s)
}
