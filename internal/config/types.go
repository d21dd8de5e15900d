// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package config

import (
	"time"

	"github.com/ManuGH/uplink/internal/backend"
	"github.com/ManuGH/uplink/internal/domain/upload/archive"
	"github.com/ManuGH/uplink/internal/domain/upload/coordinator"
	"github.com/ManuGH/uplink/internal/telemetry"
	"github.com/ManuGH/uplink/internal/transport"
)

// AppConfig is the resolved runtime configuration.
type AppConfig struct {
	Version   string
	LogLevel  string
	Backend   BackendConfig
	Transport TransportConfig
	Upload    UploadConfig
	Remote    RemoteConfig
	Archive   ArchiveConfig
	Control   ControlConfig
	DropDir   DropDirConfig
	Telemetry TelemetryConfig
}

type BackendConfig struct {
	BaseURL     string
	PushBaseURL string
	Token       string
	Timeout     time.Duration
}

type TransportConfig struct {
	Push              string
	ConnectDeadline   time.Duration
	PollInterval      time.Duration
	PollTimeout       time.Duration
	ReconnectAttempts int
	ReconnectDelay    time.Duration
	BreakerThreshold  int
	BreakerReset      time.Duration
}

type UploadConfig struct {
	MaxBytes     int64
	MimeTypes    []string
	Extensions   []string
	ProgressRate float64
}

type RemoteConfig struct {
	URLPatterns []string
}

type ArchiveConfig struct {
	Backend       string
	Path          string
	RedisAddr     string
	RedisPassword string
	RedisDB       int
}

// ControlConfig configures the local control API served by `uplink serve`.
type ControlConfig struct {
	Listen string
	// RateLimit caps submissions per minute per client address.
	RateLimit int
}

// DropDirConfig configures drop-folder ingestion. An empty Path disables it.
type DropDirConfig struct {
	Path   string
	Settle time.Duration
}

type TelemetryConfig struct {
	Enabled      bool
	Exporter     string
	Endpoint     string
	SamplingRate float64
	Environment  string
}

// FileConfig is the on-disk YAML shape. Durations are strings so files stay
// readable; pointers distinguish "unset" from zero.
type FileConfig struct {
	LogLevel  string              `yaml:"logLevel,omitempty"`
	Backend   BackendFileConfig   `yaml:"backend,omitempty"`
	Transport TransportFileConfig `yaml:"transport,omitempty"`
	Upload    UploadFileConfig    `yaml:"upload,omitempty"`
	Remote    RemoteFileConfig    `yaml:"remote,omitempty"`
	Archive   ArchiveFileConfig   `yaml:"archive,omitempty"`
	Control   ControlFileConfig   `yaml:"control,omitempty"`
	DropDir   DropDirFileConfig   `yaml:"dropdir,omitempty"`
	Telemetry TelemetryFileConfig `yaml:"telemetry,omitempty"`
}

type BackendFileConfig struct {
	BaseURL     string `yaml:"baseUrl,omitempty"`
	PushBaseURL string `yaml:"pushBaseUrl,omitempty"`
	Token       string `yaml:"token,omitempty"`
	Timeout     string `yaml:"timeout,omitempty"`
}

type TransportFileConfig struct {
	Push              string `yaml:"push,omitempty"`
	ConnectDeadline   string `yaml:"connectDeadline,omitempty"`
	PollInterval      string `yaml:"pollInterval,omitempty"`
	PollTimeout       string `yaml:"pollTimeout,omitempty"`
	ReconnectAttempts *int   `yaml:"reconnectAttempts,omitempty"`
	ReconnectDelay    string `yaml:"reconnectDelay,omitempty"`
	BreakerThreshold  *int   `yaml:"breakerThreshold,omitempty"`
	BreakerReset      string `yaml:"breakerReset,omitempty"`
}

type UploadFileConfig struct {
	MaxBytes     *int64   `yaml:"maxBytes,omitempty"`
	MimeTypes    []string `yaml:"mimeTypes,omitempty"`
	Extensions   []string `yaml:"extensions,omitempty"`
	ProgressRate *float64 `yaml:"progressRate,omitempty"`
}

type RemoteFileConfig struct {
	URLPatterns []string `yaml:"urlPatterns,omitempty"`
}

type ArchiveFileConfig struct {
	Backend       string `yaml:"backend,omitempty"`
	Path          string `yaml:"path,omitempty"`
	RedisAddr     string `yaml:"redisAddr,omitempty"`
	RedisPassword string `yaml:"redisPassword,omitempty"`
	RedisDB       *int   `yaml:"redisDb,omitempty"`
}

type ControlFileConfig struct {
	Listen    string `yaml:"listen,omitempty"`
	RateLimit *int   `yaml:"rateLimit,omitempty"`
}

type DropDirFileConfig struct {
	Path   string `yaml:"path,omitempty"`
	Settle string `yaml:"settle,omitempty"`
}

type TelemetryFileConfig struct {
	Enabled      *bool    `yaml:"enabled,omitempty"`
	Exporter     string   `yaml:"exporter,omitempty"`
	Endpoint     string   `yaml:"endpoint,omitempty"`
	SamplingRate *float64 `yaml:"samplingRate,omitempty"`
	Environment  string   `yaml:"environment,omitempty"`
}

// BackendClient maps the backend section onto the HTTP client config.
func (c AppConfig) BackendClient() backend.Config {
	return backend.Config{
		BaseURL:     c.Backend.BaseURL,
		PushBaseURL: c.Backend.PushBaseURL,
		Token:       c.Backend.Token,
		Timeout:     c.Backend.Timeout,
	}
}

// Channels maps the transport section onto the channel dialer config.
func (c AppConfig) Channels() transport.Config {
	t := c.Transport
	return transport.Config{
		Push:              transport.Kind(t.Push),
		ConnectDeadline:   t.ConnectDeadline,
		PollInterval:      t.PollInterval,
		PollTimeout:       t.PollTimeout,
		ReconnectAttempts: t.ReconnectAttempts,
		ReconnectDelay:    t.ReconnectDelay,
		BreakerThreshold:  t.BreakerThreshold,
		BreakerReset:      t.BreakerReset,
	}
}

// Rules maps the upload and remote sections onto submission rules.
func (c AppConfig) Rules() coordinator.Rules {
	return coordinator.Rules{
		MaxBytes:     c.Upload.MaxBytes,
		MimeTypes:    c.Upload.MimeTypes,
		Extensions:   c.Upload.Extensions,
		URLPatterns:  c.Remote.URLPatterns,
		ProgressRate: c.Upload.ProgressRate,
	}
}

// ArchiveStore maps the archive section onto the store config.
func (c AppConfig) ArchiveStore() archive.Config {
	a := c.Archive
	return archive.Config{
		Backend:       a.Backend,
		Path:          a.Path,
		RedisAddr:     a.RedisAddr,
		RedisPassword: a.RedisPassword,
		RedisDB:       a.RedisDB,
	}
}

// Tracing maps the telemetry section onto the tracer provider config.
func (c AppConfig) Tracing() telemetry.Config {
	t := c.Telemetry
	return telemetry.Config{
		Enabled:        t.Enabled,
		ServiceName:    "uplink",
		ServiceVersion: c.Version,
		Environment:    t.Environment,
		ExporterType:   t.Exporter,
		Endpoint:       t.Endpoint,
		SamplingRate:   t.SamplingRate,
	}
}
