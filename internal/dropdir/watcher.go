// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package dropdir submits video files that appear in a watched directory.
package dropdir

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"

	"github.com/ManuGH/uplink/internal/domain/upload/coordinator"
	"github.com/ManuGH/uplink/internal/domain/upload/model"
	"github.com/ManuGH/uplink/internal/log"
	"github.com/ManuGH/uplink/internal/metrics"
)

// Submitter starts an upload session.
type Submitter interface {
	Begin(ctx context.Context, src coordinator.Source) (string, error)
}

// Config configures a Watcher.
type Config struct {
	Dir string
	// Settle is how long a file must stay unmodified before it is submitted.
	Settle time.Duration
	// Extensions limits candidates, e.g. ".mp4". Empty accepts every file.
	Extensions []string
	Submit     Submitter
}

// Watcher debounces filesystem events per file and submits each settled
// file once. A file rewritten after submission is submitted again.
type Watcher struct {
	dir     string
	settle  time.Duration
	exts    []string
	submit  Submitter
	logger  zerolog.Logger
	now     func() time.Time
	pending map[string]time.Time
	done    map[string]time.Time
}

// New validates cfg. Watching starts with Run.
func New(cfg Config) (*Watcher, error) {
	if cfg.Submit == nil {
		return nil, errors.New("dropdir: submitter is required")
	}
	if cfg.Settle <= 0 {
		return nil, fmt.Errorf("dropdir: settle must be positive, got %s", cfg.Settle)
	}
	info, err := os.Stat(cfg.Dir)
	if err != nil {
		return nil, fmt.Errorf("dropdir: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("dropdir: %s is not a directory", cfg.Dir)
	}

	exts := make([]string, 0, len(cfg.Extensions))
	for _, e := range cfg.Extensions {
		exts = append(exts, strings.ToLower(e))
	}
	return &Watcher{
		dir:     cfg.Dir,
		settle:  cfg.Settle,
		exts:    exts,
		submit:  cfg.Submit,
		logger:  log.WithComponent("dropdir"),
		now:     time.Now,
		pending: make(map[string]time.Time),
		done:    make(map[string]time.Time),
	}, nil
}

// Run watches until ctx is cancelled. It returns nil on cancellation.
func (w *Watcher) Run(ctx context.Context) error {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer func() { _ = fw.Close() }()

	if err := fw.Add(w.dir); err != nil {
		return fmt.Errorf("watch %s: %w", w.dir, err)
	}
	w.logger.Info().
		Str(log.FieldEvent, "dropdir.watching").
		Str(log.FieldPath, w.dir).
		Dur("settle", w.settle).
		Msg("watching drop folder")

	tick := time.NewTicker(max(w.settle/4, 10*time.Millisecond))
	defer tick.Stop()

	for {
		select {
		case <-ctx.Done():
			w.logger.Info().Str(log.FieldEvent, "dropdir.stopped").Msg("drop folder watcher stopped")
			return nil

		case ev, ok := <-fw.Events:
			if !ok {
				return nil
			}
			w.observe(ev)

		case err, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			w.logger.Error().Err(err).Str(log.FieldEvent, "dropdir.watch_error").Msg("drop folder watcher error")

		case <-tick.C:
			w.flush(ctx)
		}
	}
}

// observe (re)arms the settle window of a candidate file.
func (w *Watcher) observe(ev fsnotify.Event) {
	path := ev.Name
	switch {
	case ev.Has(fsnotify.Remove) || ev.Has(fsnotify.Rename):
		delete(w.pending, path)
		delete(w.done, path)
	case ev.Has(fsnotify.Create) || ev.Has(fsnotify.Write):
		if !w.candidate(path) {
			return
		}
		w.pending[path] = w.now()
		w.logger.Debug().
			Str(log.FieldEvent, "dropdir.file_changed").
			Str(log.FieldPath, path).
			Str("op", ev.Op.String()).
			Msg("drop folder file changed")
	}
}

func (w *Watcher) candidate(path string) bool {
	base := filepath.Base(path)
	if strings.HasPrefix(base, ".") {
		return false
	}
	ext := strings.ToLower(filepath.Ext(base))
	switch ext {
	case ".part", ".partial", ".tmp", ".crdownload":
		return false
	}
	return len(w.exts) == 0 || slices.Contains(w.exts, ext)
}

// flush submits every file whose settle window has elapsed.
func (w *Watcher) flush(ctx context.Context) {
	now := w.now()
	for path, last := range w.pending {
		if now.Sub(last) < w.settle {
			continue
		}
		delete(w.pending, path)

		info, err := os.Stat(path)
		if err != nil || !info.Mode().IsRegular() {
			continue
		}
		if prev, ok := w.done[path]; ok && prev.Equal(info.ModTime()) {
			continue
		}
		w.done[path] = info.ModTime()
		w.submitFile(ctx, path)
	}
}

func (w *Watcher) submitFile(ctx context.Context, path string) {
	src, err := coordinator.File(path)
	if err == nil {
		var id string
		if id, err = w.submit.Begin(ctx, src); err == nil {
			metrics.RecordDropDirFile("submitted")
			w.logger.Info().
				Str(log.FieldEvent, "dropdir.submitted").
				Str(log.FieldPath, path).
				Str(log.FieldSessionID, id).
				Int64(log.FieldBytes, src.Size).
				Msg("drop folder file submitted")
			return
		}
	}

	if errors.Is(err, model.ErrValidation) {
		metrics.RecordDropDirFile("rejected")
		w.logger.Warn().Err(err).
			Str(log.FieldEvent, "dropdir.rejected").
			Str(log.FieldPath, path).
			Msg("drop folder file rejected")
		return
	}
	metrics.RecordDropDirFile("failed")
	w.logger.Error().Err(err).
		Str(log.FieldEvent, "dropdir.submit_failed").
		Str(log.FieldPath, path).
		Msg("drop folder submission failed")
}
