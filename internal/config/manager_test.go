// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestManager_InitRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "conf", "uplink.yaml")
	m := NewManager(path)
	require.NoError(t, m.Init("https://backend.example"))

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	got, err := NewLoader(path, "v1").Load()
	require.NoError(t, err)

	want := Defaults()
	want.Version = "v1"
	want.Backend.BaseURL = "https://backend.example"
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("round trip mismatch (-want +got):\n%s", diff)
	}
}

func TestManager_InitRefusesOverwrite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "uplink.yaml")
	require.NoError(t, os.WriteFile(path, []byte("logLevel: warn\n"), 0o600))

	err := NewManager(path).Init("https://backend.example")
	require.Error(t, err)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "logLevel: warn\n", string(data))
}

func TestManager_SavePreservesOverrides(t *testing.T) {
	path := filepath.Join(t.TempDir(), "uplink.yaml")
	cfg := Defaults()
	cfg.Backend.BaseURL = "https://backend.example"
	cfg.Transport.Push = "sse"
	cfg.Upload.MaxBytes = 2048
	cfg.Telemetry.Enabled = true
	cfg.Telemetry.SamplingRate = 0.5

	require.NoError(t, NewManager(path).Save(cfg))

	got, err := NewLoader(path, "").Load()
	require.NoError(t, err)
	assert.Equal(t, "sse", got.Transport.Push)
	assert.Equal(t, int64(2048), got.Upload.MaxBytes)
	assert.True(t, got.Telemetry.Enabled)
	assert.InDelta(t, 0.5, got.Telemetry.SamplingRate, 1e-9)
}
