// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package config loads uplink's configuration: defaults, then a strict YAML
// file, then UPLINK_* environment overrides, then validation.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"slices"
	"sort"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/ManuGH/uplink/internal/domain/upload/coordinator"
	"github.com/ManuGH/uplink/internal/log"
	"github.com/ManuGH/uplink/internal/transport"
)

// Loader handles configuration loading with precedence
type Loader struct {
	configPath      string
	version         string
	ConsumedEnvKeys map[string]struct{}
}

// NewLoader creates a new configuration loader. An empty configPath means
// defaults plus environment only.
func NewLoader(configPath, version string) *Loader {
	return &Loader{
		configPath:      configPath,
		version:         version,
		ConsumedEnvKeys: make(map[string]struct{}),
	}
}

func (l *Loader) envString(key, defaultVal string) string {
	l.ConsumedEnvKeys[key] = struct{}{}
	return ParseString(key, defaultVal)
}

func (l *Loader) envBool(key string, defaultVal bool) bool {
	l.ConsumedEnvKeys[key] = struct{}{}
	return ParseBool(key, defaultVal)
}

func (l *Loader) envInt(key string, defaultVal int) int {
	l.ConsumedEnvKeys[key] = struct{}{}
	return ParseInt(key, defaultVal)
}

func (l *Loader) envInt64(key string, defaultVal int64) int64 {
	l.ConsumedEnvKeys[key] = struct{}{}
	return ParseInt64(key, defaultVal)
}

func (l *Loader) envDuration(key string, defaultVal time.Duration) time.Duration {
	l.ConsumedEnvKeys[key] = struct{}{}
	return ParseDuration(key, defaultVal)
}

func (l *Loader) envFloat(key string, defaultVal float64) float64 {
	l.ConsumedEnvKeys[key] = struct{}{}
	return ParseFloat(key, defaultVal)
}

func (l *Loader) envList(key string, defaultVal []string) []string {
	l.ConsumedEnvKeys[key] = struct{}{}
	return ParseList(key, defaultVal)
}

// Load loads configuration with precedence: ENV > File > Defaults.
func (l *Loader) Load() (AppConfig, error) {
	cfg := Defaults()

	if l.configPath != "" {
		fileCfg, err := l.loadFile(l.configPath)
		if err != nil {
			return cfg, fmt.Errorf("load config file: %w", err)
		}
		if err := mergeFileConfig(&cfg, fileCfg); err != nil {
			return cfg, fmt.Errorf("merge file config: %w", err)
		}
	}

	l.mergeEnvConfig(&cfg)
	l.warnUnknownEnv()
	cfg.Version = l.version

	if err := Validate(cfg); err != nil {
		return cfg, fmt.Errorf("config validation failed: %w", err)
	}
	return cfg, nil
}

// Defaults returns the built-in configuration.
func Defaults() AppConfig {
	ch := transport.DefaultConfig()
	rules := coordinator.DefaultRules()
	return AppConfig{
		LogLevel: "info",
		Backend:  BackendConfig{Timeout: 30 * time.Second},
		Transport: TransportConfig{
			Push:              string(ch.Push),
			ConnectDeadline:   ch.ConnectDeadline,
			PollInterval:      ch.PollInterval,
			PollTimeout:       ch.PollTimeout,
			ReconnectAttempts: ch.ReconnectAttempts,
			ReconnectDelay:    ch.ReconnectDelay,
			BreakerThreshold:  ch.BreakerThreshold,
			BreakerReset:      ch.BreakerReset,
		},
		Upload: UploadConfig{
			MaxBytes:     rules.MaxBytes,
			MimeTypes:    rules.MimeTypes,
			Extensions:   rules.Extensions,
			ProgressRate: rules.ProgressRate,
		},
		Remote:  RemoteConfig{URLPatterns: rules.URLPatterns},
		Archive: ArchiveConfig{Backend: "memory"},
		Control: ControlConfig{Listen: "127.0.0.1:8089", RateLimit: 30},
		DropDir: DropDirConfig{Settle: 2 * time.Second},
		Telemetry: TelemetryConfig{
			Exporter:     "grpc",
			Endpoint:     "localhost:4317",
			SamplingRate: 1.0,
		},
	}
}

// loadFile loads configuration from a YAML file with strict parsing.
// Unknown fields are a fatal error.
func (l *Loader) loadFile(path string) (*FileConfig, error) {
	path = filepath.Clean(path)

	ext := strings.ToLower(filepath.Ext(path))
	if ext != ".yaml" && ext != ".yml" {
		return nil, fmt.Errorf("unsupported config format: %s (only YAML supported)", ext)
	}

	// #nosec G304 -- configuration file paths are provided by the operator via CLI/ENV
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read file: %w", err)
	}

	var fileCfg FileConfig
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)

	if err := dec.Decode(&fileCfg); err != nil {
		if errors.Is(err, io.EOF) {
			return &FileConfig{}, nil
		}
		return nil, fmt.Errorf("strict config parse error: %w", err)
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config file contains multiple documents or trailing content")
	}
	return &fileCfg, nil
}

// durationField parses an optional duration string onto dst.
func durationField(name, raw string, dst *time.Duration) error {
	if raw == "" {
		return nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("%s: invalid duration %q: %w", name, raw, err)
	}
	*dst = d
	return nil
}

func setIf[T any](dst *T, src *T) {
	if src != nil {
		*dst = *src
	}
}

func setString(dst *string, src string) {
	if src != "" {
		*dst = src
	}
}

func setList(dst *[]string, src []string) {
	if len(src) > 0 {
		*dst = slices.Clone(src)
	}
}

func mergeFileConfig(cfg *AppConfig, f *FileConfig) error {
	setString(&cfg.LogLevel, f.LogLevel)

	setString(&cfg.Backend.BaseURL, f.Backend.BaseURL)
	setString(&cfg.Backend.PushBaseURL, f.Backend.PushBaseURL)
	setString(&cfg.Backend.Token, f.Backend.Token)

	t := f.Transport
	setString(&cfg.Transport.Push, t.Push)
	setIf(&cfg.Transport.ReconnectAttempts, t.ReconnectAttempts)
	setIf(&cfg.Transport.BreakerThreshold, t.BreakerThreshold)

	setIf(&cfg.Upload.MaxBytes, f.Upload.MaxBytes)
	setList(&cfg.Upload.MimeTypes, f.Upload.MimeTypes)
	setList(&cfg.Upload.Extensions, f.Upload.Extensions)
	setIf(&cfg.Upload.ProgressRate, f.Upload.ProgressRate)
	setList(&cfg.Remote.URLPatterns, f.Remote.URLPatterns)

	setString(&cfg.Archive.Backend, f.Archive.Backend)
	setString(&cfg.Archive.Path, f.Archive.Path)
	setString(&cfg.Archive.RedisAddr, f.Archive.RedisAddr)
	setString(&cfg.Archive.RedisPassword, f.Archive.RedisPassword)
	setIf(&cfg.Archive.RedisDB, f.Archive.RedisDB)

	setString(&cfg.Control.Listen, f.Control.Listen)
	setIf(&cfg.Control.RateLimit, f.Control.RateLimit)
	setString(&cfg.DropDir.Path, f.DropDir.Path)

	setIf(&cfg.Telemetry.Enabled, f.Telemetry.Enabled)
	setString(&cfg.Telemetry.Exporter, f.Telemetry.Exporter)
	setString(&cfg.Telemetry.Endpoint, f.Telemetry.Endpoint)
	setIf(&cfg.Telemetry.SamplingRate, f.Telemetry.SamplingRate)
	setString(&cfg.Telemetry.Environment, f.Telemetry.Environment)

	return errors.Join(
		durationField("backend.timeout", f.Backend.Timeout, &cfg.Backend.Timeout),
		durationField("transport.connectDeadline", t.ConnectDeadline, &cfg.Transport.ConnectDeadline),
		durationField("transport.pollInterval", t.PollInterval, &cfg.Transport.PollInterval),
		durationField("transport.pollTimeout", t.PollTimeout, &cfg.Transport.PollTimeout),
		durationField("transport.reconnectDelay", t.ReconnectDelay, &cfg.Transport.ReconnectDelay),
		durationField("transport.breakerReset", t.BreakerReset, &cfg.Transport.BreakerReset),
		durationField("dropdir.settle", f.DropDir.Settle, &cfg.DropDir.Settle),
	)
}

// mergeEnvConfig applies UPLINK_* overrides. URL patterns are file-only
// because regular expressions routinely contain commas.
func (l *Loader) mergeEnvConfig(cfg *AppConfig) {
	cfg.LogLevel = l.envString("UPLINK_LOG_LEVEL", cfg.LogLevel)

	b := &cfg.Backend
	b.BaseURL = l.envString("UPLINK_BACKEND_URL", b.BaseURL)
	b.PushBaseURL = l.envString("UPLINK_PUSH_URL", b.PushBaseURL)
	b.Token = l.envString("UPLINK_BACKEND_TOKEN", b.Token)
	b.Timeout = l.envDuration("UPLINK_BACKEND_TIMEOUT", b.Timeout)

	t := &cfg.Transport
	t.Push = l.envString("UPLINK_PUSH", t.Push)
	t.ConnectDeadline = l.envDuration("UPLINK_CONNECT_DEADLINE", t.ConnectDeadline)
	t.PollInterval = l.envDuration("UPLINK_POLL_INTERVAL", t.PollInterval)
	t.PollTimeout = l.envDuration("UPLINK_POLL_TIMEOUT", t.PollTimeout)
	t.ReconnectAttempts = l.envInt("UPLINK_SSE_RECONNECT_ATTEMPTS", t.ReconnectAttempts)
	t.ReconnectDelay = l.envDuration("UPLINK_SSE_RECONNECT_DELAY", t.ReconnectDelay)
	t.BreakerThreshold = l.envInt("UPLINK_BREAKER_THRESHOLD", t.BreakerThreshold)
	t.BreakerReset = l.envDuration("UPLINK_BREAKER_RESET", t.BreakerReset)

	u := &cfg.Upload
	u.MaxBytes = l.envInt64("UPLINK_MAX_BYTES", u.MaxBytes)
	u.MimeTypes = l.envList("UPLINK_MIME_TYPES", u.MimeTypes)
	u.Extensions = l.envList("UPLINK_EXTENSIONS", u.Extensions)
	u.ProgressRate = l.envFloat("UPLINK_PROGRESS_RATE", u.ProgressRate)

	a := &cfg.Archive
	a.Backend = l.envString("UPLINK_ARCHIVE_BACKEND", a.Backend)
	a.Path = l.envString("UPLINK_ARCHIVE_PATH", a.Path)
	a.RedisAddr = l.envString("UPLINK_REDIS_ADDR", a.RedisAddr)
	a.RedisPassword = l.envString("UPLINK_REDIS_PASSWORD", a.RedisPassword)
	a.RedisDB = l.envInt("UPLINK_REDIS_DB", a.RedisDB)

	cfg.Control.Listen = l.envString("UPLINK_LISTEN", cfg.Control.Listen)
	cfg.Control.RateLimit = l.envInt("UPLINK_RATE_LIMIT", cfg.Control.RateLimit)
	cfg.DropDir.Path = l.envString("UPLINK_DROPDIR", cfg.DropDir.Path)
	cfg.DropDir.Settle = l.envDuration("UPLINK_DROPDIR_SETTLE", cfg.DropDir.Settle)

	tel := &cfg.Telemetry
	tel.Enabled = l.envBool("UPLINK_TRACING_ENABLED", tel.Enabled)
	tel.Exporter = l.envString("UPLINK_OTLP_EXPORTER", tel.Exporter)
	tel.Endpoint = l.envString("UPLINK_OTLP_ENDPOINT", tel.Endpoint)
	tel.SamplingRate = l.envFloat("UPLINK_TRACE_SAMPLING", tel.SamplingRate)
	tel.Environment = l.envString("UPLINK_ENVIRONMENT", tel.Environment)
}

// UnknownEnvKeys lists UPLINK_* variables that no setting consumed,
// usually typos. Valid only after Load.
func (l *Loader) UnknownEnvKeys() []string {
	var unknown []string
	for _, pair := range os.Environ() {
		key, _, _ := strings.Cut(pair, "=")
		if !strings.HasPrefix(key, EnvPrefix) {
			continue
		}
		if _, ok := l.ConsumedEnvKeys[key]; !ok {
			unknown = append(unknown, key)
		}
	}
	sort.Strings(unknown)
	return unknown
}

func (l *Loader) warnUnknownEnv() {
	unknown := l.UnknownEnvKeys()
	if len(unknown) == 0 {
		return
	}
	logger := log.WithComponent("config")
	logger.Warn().
		Str(log.FieldEvent, "config.unknown_env").
		Strs("keys", unknown).
		Msg("ignoring unknown UPLINK_* environment variables")
}
