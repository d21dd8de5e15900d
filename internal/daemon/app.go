// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package daemon

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/ManuGH/uplink/internal/control/api"
	"github.com/ManuGH/uplink/internal/dropdir"
	"github.com/ManuGH/uplink/internal/health"
	"github.com/ManuGH/uplink/internal/log"
)

// ShutdownTimeout bounds how long Run waits for sessions to wind down.
const ShutdownTimeout = 10 * time.Second

// App owns the long-lived subsystems of the serve command: the control API
// and the optional drop-folder watcher.
type App struct {
	rt     *Runtime
	api    *api.Server
	logger zerolog.Logger
}

// NewApp builds the control API over rt.
func NewApp(rt *Runtime) (*App, error) {
	if rt == nil || rt.Manager == nil {
		return nil, ErrMissingRuntime
	}
	return &App{
		rt: rt,
		api: api.New(api.Config{
			Uploads:        rt.Manager,
			RateLimit:      rt.Config.Control.RateLimit,
			TracingService: "uplink-control",
			Readiness:      http.HandlerFunc(readiness(rt).ServeReady),
		}),
		logger: log.WithComponent("daemon"),
	}, nil
}

// readiness probes the backend host, the archive store and the drop folder.
func readiness(rt *Runtime) *health.Manager {
	m := health.NewManager(rt.Config.Version, 2*time.Second)
	m.RegisterChecker(health.NewDialChecker("backend", rt.Config.Backend.BaseURL))
	m.RegisterChecker(health.CheckerFunc{CheckName: "archive", Fn: func(ctx context.Context) health.CheckResult {
		if _, err := rt.Archive.List(ctx, 1); err != nil {
			return health.CheckResult{Status: health.StatusUnhealthy, Message: rt.Config.Archive.Backend, Error: err.Error()}
		}
		return health.CheckResult{Status: health.StatusHealthy, Message: rt.Config.Archive.Backend}
	}})
	m.RegisterChecker(health.NewDirChecker("dropdir", rt.Config.DropDir.Path))
	return m
}

// Run serves on ln until ctx is cancelled or a subsystem fails, then closes
// the runtime. A cancelled ctx is a clean shutdown.
func (a *App) Run(ctx context.Context, ln net.Listener) error {
	if ln == nil {
		return ErrMissingListener
	}

	var watcher *dropdir.Watcher
	if dir := a.rt.Config.DropDir; dir.Path != "" {
		w, err := dropdir.New(dropdir.Config{
			Dir:        dir.Path,
			Settle:     dir.Settle,
			Extensions: a.rt.Config.Upload.Extensions,
			Submit:     a.rt.Manager,
		})
		if err != nil {
			_ = ln.Close()
			return fmt.Errorf("drop folder: %w", err)
		}
		watcher = w
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return a.api.Serve(gctx, ln) })
	if watcher != nil {
		g.Go(func() error { return watcher.Run(gctx) })
	}

	a.logger.Info().
		Str(log.FieldEvent, "daemon.started").
		Str("addr", ln.Addr().String()).
		Bool("dropdir", watcher != nil).
		Msg("uplink daemon running")

	runErr := g.Wait()
	if errors.Is(runErr, context.Canceled) {
		runErr = nil
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), ShutdownTimeout)
	defer cancel()
	closeErr := a.rt.Close(shutdownCtx)

	a.logger.Info().Str(log.FieldEvent, "daemon.stopped").Msg("uplink daemon stopped")
	return errors.Join(runErr, closeErr)
}
