// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package config

import (
	"bytes"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseHelpers(t *testing.T) {
	t.Setenv("UPLINK_T_INT", "42")
	t.Setenv("UPLINK_T_BAD_INT", "forty-two")
	t.Setenv("UPLINK_T_DUR", "750ms")
	t.Setenv("UPLINK_T_BOOL", "YES")
	t.Setenv("UPLINK_T_BAD_BOOL", "maybe")
	t.Setenv("UPLINK_T_FLOAT", "0.25")
	t.Setenv("UPLINK_T_LIST", " video/mp4, ,video/webm ")
	t.Setenv("UPLINK_T_EMPTY", "")

	assert.Equal(t, 42, ParseInt("UPLINK_T_INT", 1))
	assert.Equal(t, 1, ParseInt("UPLINK_T_BAD_INT", 1))
	assert.Equal(t, 7, ParseInt("UPLINK_T_UNSET", 7))
	assert.Equal(t, int64(42), ParseInt64("UPLINK_T_INT", 0))
	assert.Equal(t, 750*time.Millisecond, ParseDuration("UPLINK_T_DUR", time.Second))
	assert.Equal(t, time.Second, ParseDuration("UPLINK_T_EMPTY", time.Second))
	assert.True(t, ParseBool("UPLINK_T_BOOL", false))
	assert.True(t, ParseBool("UPLINK_T_BAD_BOOL", true))
	assert.InDelta(t, 0.25, ParseFloat("UPLINK_T_FLOAT", 1), 1e-9)
	assert.Equal(t, []string{"video/mp4", "video/webm"}, ParseList("UPLINK_T_LIST", nil))
	assert.Equal(t, "fallback", ParseString("UPLINK_T_EMPTY", "fallback"))
}

func TestParseString_MasksSensitiveValues(t *testing.T) {
	t.Setenv("UPLINK_BACKEND_TOKEN", "s3cr3t")
	t.Setenv("UPLINK_BACKEND_URL", "http://backend.local")

	prev := zerolog.GlobalLevel()
	zerolog.SetGlobalLevel(zerolog.DebugLevel)
	t.Cleanup(func() { zerolog.SetGlobalLevel(prev) })

	var buf bytes.Buffer
	logger := zerolog.New(&buf)

	require.Equal(t, "s3cr3t", parseStringWithLogger(logger, "UPLINK_BACKEND_TOKEN", ""))
	require.Equal(t, "http://backend.local", parseStringWithLogger(logger, "UPLINK_BACKEND_URL", ""))

	out := buf.String()
	assert.NotContains(t, out, "s3cr3t")
	assert.Contains(t, out, `"sensitive":true`)
	assert.Contains(t, out, "http://backend.local")
}
