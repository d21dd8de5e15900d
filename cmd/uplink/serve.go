// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"net"
	"os/signal"
	"syscall"

	"github.com/ManuGH/uplink/internal/daemon"
	xglog "github.com/ManuGH/uplink/internal/log"
)

func runServe(args []string, stderr io.Writer) int {
	fs := flag.NewFlagSet("uplink serve", flag.ContinueOnError)
	fs.SetOutput(stderr)
	var configPath, listen string
	fs.StringVar(&configPath, "config", "", "path to YAML configuration file")
	fs.StringVar(&listen, "listen", "", "override control.listen")
	if err := fs.Parse(args); err != nil {
		return 2
	}

	cfg, err := loadConfig(configPath, stderr)
	if err != nil {
		fmt.Fprintf(stderr, "Configuration error:\n  %v\n", err)
		return 1
	}
	if listen != "" {
		cfg.Control.Listen = listen
	}
	logger := xglog.WithComponent("cli")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	rt, err := daemon.Build(ctx, cfg)
	if err != nil {
		logger.Error().Err(err).Str(xglog.FieldEvent, "startup.failed").Msg("failed to build upload stack")
		return 1
	}
	app, err := daemon.NewApp(rt)
	if err != nil {
		_ = rt.Close(context.Background())
		logger.Error().Err(err).Str(xglog.FieldEvent, "startup.failed").Msg("failed to create daemon")
		return 1
	}
	ln, err := net.Listen("tcp", cfg.Control.Listen)
	if err != nil {
		_ = rt.Close(context.Background())
		logger.Error().Err(err).Str(xglog.FieldEvent, "startup.failed").Str("addr", cfg.Control.Listen).Msg("failed to listen")
		return 1
	}

	if err := app.Run(ctx, ln); err != nil {
		logger.Error().Err(err).Str(xglog.FieldEvent, "daemon.failed").Msg("daemon failed")
		return 1
	}
	return 0
}
