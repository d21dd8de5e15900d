// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/renameio/v2"
	"gopkg.in/yaml.v3"
)

// Manager handles configuration persistence.
type Manager struct {
	configPath string
}

// NewManager creates a new configuration manager.
func NewManager(configPath string) *Manager {
	return &Manager{configPath: configPath}
}

// Save writes cfg to disk atomically. Secrets are written as configured, so
// the file is created owner-readable only.
func (m *Manager) Save(cfg AppConfig) error {
	if err := os.MkdirAll(filepath.Dir(m.configPath), 0o750); err != nil {
		return fmt.Errorf("mkdir config dir: %w", err)
	}

	data, err := yaml.Marshal(ToFileConfig(cfg))
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	if err := renameio.WriteFile(m.configPath, data, 0o600); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	return nil
}

// Init writes a default configuration file pointing at backendURL. It
// refuses to overwrite an existing file.
func (m *Manager) Init(backendURL string) error {
	if _, err := os.Stat(m.configPath); err == nil {
		return fmt.Errorf("config file %s already exists", m.configPath)
	}
	cfg := Defaults()
	cfg.Backend.BaseURL = backendURL
	return m.Save(cfg)
}

// ToFileConfig is the inverse of the file merge: every resolved value is
// written explicitly.
func ToFileConfig(cfg AppConfig) FileConfig {
	t := cfg.Transport
	return FileConfig{
		LogLevel: cfg.LogLevel,
		Backend: BackendFileConfig{
			BaseURL:     cfg.Backend.BaseURL,
			PushBaseURL: cfg.Backend.PushBaseURL,
			Token:       cfg.Backend.Token,
			Timeout:     durationString(cfg.Backend.Timeout),
		},
		Transport: TransportFileConfig{
			Push:              t.Push,
			ConnectDeadline:   durationString(t.ConnectDeadline),
			PollInterval:      durationString(t.PollInterval),
			PollTimeout:       durationString(t.PollTimeout),
			ReconnectAttempts: &t.ReconnectAttempts,
			ReconnectDelay:    durationString(t.ReconnectDelay),
			BreakerThreshold:  &t.BreakerThreshold,
			BreakerReset:      durationString(t.BreakerReset),
		},
		Upload: UploadFileConfig{
			MaxBytes:     &cfg.Upload.MaxBytes,
			MimeTypes:    cfg.Upload.MimeTypes,
			Extensions:   cfg.Upload.Extensions,
			ProgressRate: &cfg.Upload.ProgressRate,
		},
		Remote: RemoteFileConfig{URLPatterns: cfg.Remote.URLPatterns},
		Archive: ArchiveFileConfig{
			Backend:       cfg.Archive.Backend,
			Path:          cfg.Archive.Path,
			RedisAddr:     cfg.Archive.RedisAddr,
			RedisPassword: cfg.Archive.RedisPassword,
			RedisDB:       &cfg.Archive.RedisDB,
		},
		Control: ControlFileConfig{
			Listen:    cfg.Control.Listen,
			RateLimit: &cfg.Control.RateLimit,
		},
		DropDir: DropDirFileConfig{
			Path:   cfg.DropDir.Path,
			Settle: durationString(cfg.DropDir.Settle),
		},
		Telemetry: TelemetryFileConfig{
			Enabled:      &cfg.Telemetry.Enabled,
			Exporter:     cfg.Telemetry.Exporter,
			Endpoint:     cfg.Telemetry.Endpoint,
			SamplingRate: &cfg.Telemetry.SamplingRate,
			Environment:  cfg.Telemetry.Environment,
		},
	}
}

func durationString(d time.Duration) string {
	if d == 0 {
		return ""
	}
	return d.String()
}
