// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package config

import (
	"fmt"
	"regexp"

	"github.com/ManuGH/uplink/internal/validate"
)

// Validate checks the resolved configuration and reports every problem at
// once.
func Validate(cfg AppConfig) error {
	v := validate.New()

	v.OneOf("logLevel", cfg.LogLevel, validate.LogLevels())

	v.URL("backend.baseUrl", cfg.Backend.BaseURL, []string{"http", "https"})
	if cfg.Backend.PushBaseURL != "" {
		v.URL("backend.pushBaseUrl", cfg.Backend.PushBaseURL, []string{"http", "https", "ws", "wss"})
	}
	v.PositiveDuration("backend.timeout", cfg.Backend.Timeout)

	t := cfg.Transport
	v.OneOf("transport.push", t.Push, []string{"websocket", "sse"})
	v.PositiveDuration("transport.connectDeadline", t.ConnectDeadline)
	v.PositiveDuration("transport.pollInterval", t.PollInterval)
	v.PositiveDuration("transport.pollTimeout", t.PollTimeout)
	v.Positive("transport.reconnectAttempts", t.ReconnectAttempts)
	v.PositiveDuration("transport.reconnectDelay", t.ReconnectDelay)
	v.Positive("transport.breakerThreshold", t.BreakerThreshold)
	v.PositiveDuration("transport.breakerReset", t.BreakerReset)
	if t.PollInterval > t.PollTimeout {
		v.AddError("transport.pollInterval", "must not exceed transport.pollTimeout", t.PollInterval)
	}

	u := cfg.Upload
	if u.MaxBytes <= 0 {
		v.AddError("upload.maxBytes", fmt.Sprintf("value must be positive, got %d", u.MaxBytes), u.MaxBytes)
	}
	if len(u.MimeTypes) == 0 {
		v.AddError("upload.mimeTypes", "at least one mime type is required", u.MimeTypes)
	}
	if len(u.Extensions) == 0 {
		v.AddError("upload.extensions", "at least one extension is required", u.Extensions)
	}
	if u.ProgressRate <= 0 {
		v.AddError("upload.progressRate", fmt.Sprintf("value must be positive, got %g", u.ProgressRate), u.ProgressRate)
	}
	for i, p := range cfg.Remote.URLPatterns {
		v.Custom(fmt.Sprintf("remote.urlPatterns[%d]", i), p, func(any) error {
			_, err := regexp.Compile(p)
			return err
		})
	}

	a := cfg.Archive
	v.OneOf("archive.backend", a.Backend, []string{"memory", "sqlite", "badger", "redis"})
	switch a.Backend {
	case "sqlite":
		v.NotEmpty("archive.path", a.Path)
	case "redis":
		v.NotEmpty("archive.redisAddr", a.RedisAddr)
		v.Range("archive.redisDb", a.RedisDB, 0, 15)
	}

	v.ListenAddr("control.listen", cfg.Control.Listen)
	v.Positive("control.rateLimit", cfg.Control.RateLimit)

	if cfg.DropDir.Path != "" {
		v.Directory("dropdir.path", cfg.DropDir.Path, false)
		v.PositiveDuration("dropdir.settle", cfg.DropDir.Settle)
	}

	if tel := cfg.Telemetry; tel.Enabled {
		v.OneOf("telemetry.exporter", tel.Exporter, []string{"grpc", "http"})
		v.NotEmpty("telemetry.endpoint", tel.Endpoint)
		v.Fraction("telemetry.samplingRate", tel.SamplingRate)
	}

	return v.Err()
}
