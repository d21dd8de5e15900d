// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os/signal"
	"syscall"
	"time"

	"github.com/ManuGH/uplink/internal/daemon"
	"github.com/ManuGH/uplink/internal/domain/upload/coordinator"
	"github.com/ManuGH/uplink/internal/domain/upload/manager"
	"github.com/ManuGH/uplink/internal/domain/upload/model"
	xglog "github.com/ManuGH/uplink/internal/log"
)

type submitFlags struct {
	config  string
	file    string
	url     string
	consent bool
	timeout time.Duration
}

func runSubmit(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("uplink submit", flag.ContinueOnError)
	fs.SetOutput(stderr)
	var f submitFlags
	fs.StringVar(&f.config, "config", "", "path to YAML configuration file")
	fs.StringVar(&f.file, "file", "", "local video file to upload")
	fs.StringVar(&f.url, "url", "", "remote video URL the backend fetches")
	fs.BoolVar(&f.consent, "consent", false, "confirm you hold the rights to the remote content")
	fs.DurationVar(&f.timeout, "timeout", 0, "give up after this long (0 waits for a terminal state)")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if (f.file == "") == (f.url == "") {
		fmt.Fprintln(stderr, "Error: exactly one of -file or -url is required")
		return 2
	}

	cfg, err := loadConfig(f.config, stderr)
	if err != nil {
		fmt.Fprintf(stderr, "Configuration error:\n  %v\n", err)
		return 1
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	if f.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, f.timeout)
		defer cancel()
	}

	rt, err := daemon.Build(ctx, cfg)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), daemon.ShutdownTimeout)
		defer cancel()
		if err := rt.Close(closeCtx); err != nil {
			logger := xglog.WithComponent("cli")
			logger.Warn().Err(err).Str(xglog.FieldEvent, "cli.close_failed").Msg("shutdown incomplete")
		}
	}()

	snap, err := follow(ctx, rt.Manager, f, stdout)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	if snap.State != model.StateComplete {
		fmt.Fprintf(stderr, "Upload failed: %s (%s)\n", snap.ErrorMessage(), snap.ErrorKind())
		return 1
	}
	return 0
}

// follow submits the source, prints every snapshot and archives the
// terminal one. A cancelled ctx cancels the session.
func follow(ctx context.Context, mgr *manager.Manager, f submitFlags, out io.Writer) (manager.Snapshot, error) {
	var src coordinator.Source
	if f.file != "" {
		file, err := coordinator.File(f.file)
		if err != nil {
			return manager.Snapshot{}, err
		}
		src = file
	} else {
		src = coordinator.RemoteURL{URL: f.url, ConsentAcknowledged: f.consent}
	}

	id, err := mgr.Begin(ctx, src)
	if err != nil {
		return manager.Snapshot{}, err
	}
	fmt.Fprintf(out, "session %s\n", id)

	var printed uint64
	unsubscribe, err := mgr.OnUpdate(id, func(s manager.Snapshot) {
		printSnapshot(out, s)
		printed = s.Seq
	})
	if err != nil {
		return manager.Snapshot{}, err
	}

	snap, err := mgr.Await(ctx, id)
	unsubscribe()
	if snap.Seq > printed {
		printSnapshot(out, snap)
	}
	if err != nil {
		_ = mgr.Cancel(id)
		if errors.Is(err, context.DeadlineExceeded) {
			return snap, fmt.Errorf("gave up waiting for %s: %w", id, err)
		}
		return snap, err
	}

	if _, err := mgr.Ack(context.Background(), id); err != nil {
		logger := xglog.WithComponent("cli")
		logger.Warn().Err(err).
			Str(xglog.FieldEvent, "cli.archive_failed").
			Str(xglog.FieldSessionID, id).
			Msg("failed to archive session")
	}
	return snap, nil
}

func printSnapshot(w io.Writer, s manager.Snapshot) {
	line := fmt.Sprintf("%-10s %5.1f%%", s.State, s.Progress)
	if s.Message != "" {
		line += "  " + s.Message
	}
	if s.LastError != nil {
		line += fmt.Sprintf("  [%s] %s", s.ErrorKind(), s.ErrorMessage())
	}
	fmt.Fprintln(w, line)
}
