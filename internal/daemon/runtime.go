// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package daemon wires the upload stack from configuration and owns its
// lifecycle.
package daemon

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/ManuGH/uplink/internal/backend"
	"github.com/ManuGH/uplink/internal/config"
	"github.com/ManuGH/uplink/internal/domain/upload/archive"
	"github.com/ManuGH/uplink/internal/domain/upload/coordinator"
	"github.com/ManuGH/uplink/internal/domain/upload/manager"
	"github.com/ManuGH/uplink/internal/log"
	"github.com/ManuGH/uplink/internal/telemetry"
	"github.com/ManuGH/uplink/internal/transport"
)

// Runtime is the upload stack built from one configuration.
type Runtime struct {
	Config  config.AppConfig
	Client  *backend.Client
	Manager *manager.Manager
	Archive archive.Store
	Tracing *telemetry.Provider

	logger zerolog.Logger
}

// Build wires tracing, the backend client, the coordinator, the transport
// dialer, the archive store and the session manager. Partially built
// resources are released on error.
func Build(ctx context.Context, cfg config.AppConfig) (rt *Runtime, err error) {
	rt = &Runtime{Config: cfg, logger: log.WithComponent("daemon")}
	defer func() {
		if err != nil {
			_ = rt.Close(context.Background())
			rt = nil
		}
	}()

	if rt.Tracing, err = telemetry.NewProvider(ctx, cfg.Tracing()); err != nil {
		return rt, fmt.Errorf("tracing: %w", err)
	}
	if rt.Client, err = backend.New(cfg.BackendClient()); err != nil {
		return rt, fmt.Errorf("backend client: %w", err)
	}
	coord, err := coordinator.New(rt.Client, cfg.Rules())
	if err != nil {
		return rt, fmt.Errorf("coordinator: %w", err)
	}
	if rt.Archive, err = archive.Open(ctx, cfg.ArchiveStore()); err != nil {
		return rt, fmt.Errorf("archive: %w", err)
	}

	channels := cfg.Channels()
	rt.Manager, err = manager.New(manager.Config{
		Coordinator:     coord,
		Channels:        transport.NewDialer(rt.Client, channels),
		ConnectDeadline: channels.ConnectDeadline,
		Archive:         rt.Archive,
		OnTerminal:      rt.terminal,
	})
	if err != nil {
		return rt, fmt.Errorf("manager: %w", err)
	}

	rt.logger.Info().
		Str(log.FieldEvent, "daemon.built").
		Str(log.FieldTransport, string(channels.Push)).
		Str("archive", cfg.Archive.Backend).
		Bool("tracing", cfg.Telemetry.Enabled).
		Msg("upload stack ready")
	return rt, nil
}

func (r *Runtime) terminal(snap manager.Snapshot) {
	ev := r.logger.Info()
	if snap.LastError != nil {
		ev = r.logger.Warn().
			Str("error_kind", string(snap.ErrorKind())).
			Str("error", snap.ErrorMessage())
	}
	ev.Str(log.FieldEvent, "daemon.session_terminal").
		Str(log.FieldSessionID, snap.SessionID).
		Str(log.FieldNewState, snap.State.String()).
		Int(log.FieldAttempt, snap.Attempt).
		Msg("upload session finished")
}

// Close cancels live sessions, then releases the archive and flushes traces.
func (r *Runtime) Close(ctx context.Context) error {
	var errs []error
	if r.Manager != nil {
		if err := r.Manager.Close(ctx); err != nil {
			errs = append(errs, fmt.Errorf("close manager: %w", err))
		}
	}
	if r.Archive != nil {
		if err := r.Archive.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close archive: %w", err))
		}
	}
	if r.Tracing != nil {
		if err := r.Tracing.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("shutdown tracing: %w", err))
		}
	}
	return errors.Join(errs...)
}
