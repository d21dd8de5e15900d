// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package health aggregates readiness checks of the serve daemon.
package health

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/ManuGH/uplink/internal/log"
)

// Status represents the overall readiness status
type Status string

const (
	StatusHealthy   Status = "healthy"
	StatusDegraded  Status = "degraded"
	StatusUnhealthy Status = "unhealthy"
)

// CheckResult represents the result of a component check
type CheckResult struct {
	Status  Status `json:"status"`
	Message string `json:"message,omitempty"`
	Error   string `json:"error,omitempty"`
}

// ReadinessResponse represents the readiness check response
type ReadinessResponse struct {
	Ready     bool                   `json:"ready"`
	Status    Status                 `json:"status"`
	Version   string                 `json:"version,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
	Checks    map[string]CheckResult `json:"checks,omitempty"`
}

// Checker defines the interface for readiness checks
type Checker interface {
	Name() string
	Check(ctx context.Context) CheckResult
}

// CheckerFunc adapts a function to Checker.
type CheckerFunc struct {
	CheckName string
	Fn        func(ctx context.Context) CheckResult
}

func (c CheckerFunc) Name() string                          { return c.CheckName }
func (c CheckerFunc) Check(ctx context.Context) CheckResult { return c.Fn(ctx) }

// Manager runs registered checkers concurrently, each bounded by Timeout.
type Manager struct {
	version  string
	timeout  time.Duration
	mu       sync.RWMutex
	checkers []Checker
}

// NewManager creates a readiness manager. A non-positive timeout means 2s.
func NewManager(version string, timeout time.Duration) *Manager {
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	return &Manager{version: version, timeout: timeout}
}

// RegisterChecker adds a checker to the manager
func (m *Manager) RegisterChecker(checker Checker) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.checkers = append(m.checkers, checker)
}

// Ready runs every checker. Any unhealthy result makes the daemon not ready;
// degraded results keep it ready.
func (m *Manager) Ready(ctx context.Context) ReadinessResponse {
	m.mu.RLock()
	checkers := append([]Checker(nil), m.checkers...)
	m.mu.RUnlock()

	resp := ReadinessResponse{
		Ready:     true,
		Status:    StatusHealthy,
		Version:   m.version,
		Timestamp: time.Now(),
	}
	if len(checkers) == 0 {
		return resp
	}

	results := make([]CheckResult, len(checkers))
	var wg sync.WaitGroup
	for i, c := range checkers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			cctx, cancel := context.WithTimeout(ctx, m.timeout)
			defer cancel()
			results[i] = c.Check(cctx)
		}()
	}
	wg.Wait()

	resp.Checks = make(map[string]CheckResult, len(checkers))
	for i, c := range checkers {
		r := results[i]
		resp.Checks[c.Name()] = r
		switch r.Status {
		case StatusUnhealthy:
			resp.Ready = false
			resp.Status = StatusUnhealthy
		case StatusDegraded:
			if resp.Status == StatusHealthy {
				resp.Status = StatusDegraded
			}
		}
	}
	return resp
}

// ServeReady handles HTTP readiness check requests
func (m *Manager) ServeReady(w http.ResponseWriter, r *http.Request) {
	logger := log.WithComponentFromContext(r.Context(), "readiness")

	resp := m.Ready(r.Context())

	w.Header().Set("Content-Type", "application/json")
	if resp.Ready {
		w.WriteHeader(http.StatusOK)
	} else {
		w.WriteHeader(http.StatusServiceUnavailable)
	}

	if err := json.NewEncoder(w).Encode(resp); err != nil {
		logger.Error().Err(err).Str(log.FieldEvent, "readiness.encode_error").Msg("failed to encode readiness response")
	}

	logger.Debug().
		Str(log.FieldEvent, "readiness.checked").
		Str("status", string(resp.Status)).
		Bool("ready", resp.Ready).
		Msg("readiness check performed")
}
