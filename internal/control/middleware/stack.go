// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package middleware

import (
	"github.com/go-chi/chi/v5"
)

// StackConfig configures the canonical control API middleware stack.
type StackConfig struct {
	AllowedOrigins []string

	EnableMetrics  bool
	TracingService string // empty disables tracing
}

// NewRouter constructs a chi router with the canonical middleware stack applied.
func NewRouter(cfg StackConfig) *chi.Mux {
	r := chi.NewRouter()
	ApplyStack(r, cfg)
	return r
}

// ApplyStack applies the canonical middleware stack to r.
func ApplyStack(r chi.Router, cfg StackConfig) {
	// 1. Recoverer (outermost safety net)
	r.Use(Recoverer)
	// 2. RequestID (correlation early)
	r.Use(RequestID)
	// 3. CSRF (cross-origin browser writes)
	r.Use(CSRFProtection(cfg.AllowedOrigins))
	// 4. Metrics
	if cfg.EnableMetrics {
		r.Use(Metrics())
	}
	// 5. Tracing
	if cfg.TracingService != "" {
		r.Use(Tracing(cfg.TracingService))
	}
}
