// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	SessionsStartedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "uplink_sessions_started_total",
		Help: "Upload sessions accepted by the backend, by source kind",
	}, []string{"source_kind"})

	SessionsTerminalTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "uplink_sessions_terminal_total",
		Help: "Upload sessions that reached a terminal state, by state and error kind",
	}, []string{"state", "kind"})

	ActiveSessions = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "uplink_sessions_active",
		Help: "Upload sessions currently held in the registry",
	})

	TransportFallbackTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "uplink_transport_fallback_total",
		Help: "Push to polling fallbacks, by reason",
	}, []string{"reason"})

	TransportOpenTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "uplink_transport_open_total",
		Help: "Progress channel open attempts, by transport and result",
	}, []string{"transport", "result"})

	UpdatesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "uplink_updates_total",
		Help: "Progress updates seen by the session state machine, by transport and admission result",
	}, []string{"transport", "result"})

	PollRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "uplink_poll_requests_total",
		Help: "Status poll requests, by result",
	}, []string{"result"})

	TransferBytesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "uplink_transfer_bytes_total",
		Help: "Bytes sent to upload destinations",
	})

	DropDirFilesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "uplink_dropdir_files_total",
		Help: "Settled drop-folder files, by submission result",
	}, []string{"result"})
)

// IncSessionStarted counts a session accepted by the backend.
func IncSessionStarted(sourceKind string) {
	SessionsStartedTotal.WithLabelValues(sourceKind).Inc()
}

// RecordTerminal counts a terminal outcome. kind is empty for successful sessions.
func RecordTerminal(state, kind string) {
	if kind == "" {
		kind = "none"
	}
	SessionsTerminalTotal.WithLabelValues(state, kind).Inc()
}

// RecordFallback counts a push to polling swap.
func RecordFallback(reason string) {
	TransportFallbackTotal.WithLabelValues(reason).Inc()
}

// RecordTransportOpen counts a channel open attempt.
func RecordTransportOpen(transport, result string) {
	TransportOpenTotal.WithLabelValues(transport, result).Inc()
}

// RecordUpdate counts an admitted or rejected progress update.
func RecordUpdate(transport, result string) {
	if transport == "" {
		transport = "local"
	}
	UpdatesTotal.WithLabelValues(transport, result).Inc()
}

// RecordPollRequest counts a status poll outcome.
func RecordPollRequest(result string) {
	PollRequestsTotal.WithLabelValues(result).Inc()
}

// AddTransferBytes counts bytes handed to the upload destination.
func AddTransferBytes(n int) {
	if n > 0 {
		TransferBytesTotal.Add(float64(n))
	}
}

// RecordDropDirFile counts a settled drop-folder file.
func RecordDropDirFile(result string) {
	DropDirFilesTotal.WithLabelValues(result).Inc()
}
