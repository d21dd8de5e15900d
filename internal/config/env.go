// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/ManuGH/uplink/internal/log"
)

// EnvPrefix namespaces every environment override.
const EnvPrefix = "UPLINK_"

// ParseString reads a string from environment variable or returns default value.
// It logs the source (environment or default) for observability.
func ParseString(key, defaultValue string) string {
	return parseStringWithLogger(log.WithComponent("config"), key, defaultValue)
}

// parseStringWithLogger reads an environment variable with custom logger.
// Values of keys that look like credentials are never logged.
func parseStringWithLogger(logger zerolog.Logger, key, defaultValue string) string {
	value, exists := os.LookupEnv(key)
	switch {
	case !exists:
		logger.Debug().Str("key", key).Str("source", "default").Msg("using default value")
		return defaultValue
	case value == "":
		logger.Debug().
			Str("key", key).
			Str("source", "default").
			Msg("using default value (environment variable is empty)")
		return defaultValue
	case isSensitiveKey(key):
		logger.Debug().
			Str("key", key).
			Str("source", "environment").
			Bool("sensitive", true).
			Msg("using environment variable")
	default:
		logger.Debug().
			Str("key", key).
			Str("value", value).
			Str("source", "environment").
			Msg("using environment variable")
	}
	return value
}

func isSensitiveKey(key string) bool {
	k := strings.ToLower(key)
	return strings.Contains(k, "token") || strings.Contains(k, "password")
}

// parseEnv is the shared shape of the typed Parse helpers: unset or empty
// falls back to the default, a malformed value is logged and ignored.
func parseEnv[T any](key string, defaultValue T, kind string, parse func(string) (T, error)) T {
	logger := log.WithComponent("config")
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		logger.Debug().
			Str("key", key).
			Interface("default", defaultValue).
			Str("source", "default").
			Msg("using default value")
		return defaultValue
	}
	parsed, err := parse(v)
	if err != nil {
		logger.Warn().
			Str("key", key).
			Str("value", v).
			Interface("default", defaultValue).
			Msgf("invalid %s in environment variable, using default", kind)
		return defaultValue
	}
	logger.Debug().
		Str("key", key).
		Interface("value", parsed).
		Str("source", "environment").
		Msg("using environment variable")
	return parsed
}

// ParseInt reads an integer from environment variable or returns default value.
func ParseInt(key string, defaultValue int) int {
	return parseEnv(key, defaultValue, "integer", strconv.Atoi)
}

// ParseInt64 reads a 64-bit integer, used for byte sizes.
func ParseInt64(key string, defaultValue int64) int64 {
	return parseEnv(key, defaultValue, "integer", func(s string) (int64, error) {
		return strconv.ParseInt(s, 10, 64)
	})
}

// ParseDuration reads a Go duration string ("2s", "500ms").
func ParseDuration(key string, defaultValue time.Duration) time.Duration {
	return parseEnv(key, defaultValue, "duration", time.ParseDuration)
}

// ParseFloat reads a float64 from environment variable or returns default value.
func ParseFloat(key string, defaultValue float64) float64 {
	return parseEnv(key, defaultValue, "float", func(s string) (float64, error) {
		return strconv.ParseFloat(s, 64)
	})
}

// ParseBool accepts "true", "false", "1", "0", "yes", "no" (case-insensitive).
func ParseBool(key string, defaultValue bool) bool {
	return parseEnv(key, defaultValue, "boolean", func(s string) (bool, error) {
		switch strings.ToLower(s) {
		case "true", "1", "yes":
			return true, nil
		case "false", "0", "no":
			return false, nil
		}
		return false, strconv.ErrSyntax
	})
}

// ParseList reads a comma separated list. Blank entries are dropped.
func ParseList(key string, defaultValue []string) []string {
	return parseEnv(key, defaultValue, "list", func(s string) ([]string, error) {
		return splitCSV(s), nil
	})
}

func splitCSV(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
