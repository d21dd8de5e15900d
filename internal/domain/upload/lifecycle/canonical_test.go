// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package lifecycle

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ManuGH/uplink/internal/domain/upload/model"
)

func TestCanonicalize(t *testing.T) {
	tests := []struct {
		name string
		in   model.ProgressUpdate
		want model.State
	}{
		{name: "processing", in: model.ProgressUpdate{RawStatus: "processing", Progress: 40}, want: model.StateProcessing},
		{name: "ready for processing", in: model.ProgressUpdate{RawStatus: "ready_for_processing", Progress: 100}, want: model.StateComplete},
		{name: "case and separators", in: model.ProgressUpdate{RawStatus: " Ready-For-Processing "}, want: model.StateComplete},
		{name: "failed", in: model.ProgressUpdate{RawStatus: "failed", Error: "decode error"}, want: model.StateError},
		{name: "timeout", in: model.ProgressUpdate{RawStatus: "TIMEOUT"}, want: model.StateError},
		{name: "pending upload", in: model.ProgressUpdate{RawStatus: "pending_upload"}, want: model.StateUploading},
		{name: "unknown is processing", in: model.ProgressUpdate{RawStatus: "warming_up", Progress: 5}, want: model.StateProcessing},
		{name: "empty is processing", in: model.ProgressUpdate{}, want: model.StateProcessing},
		{name: "threshold overrides processing", in: model.ProgressUpdate{RawStatus: "processing", Progress: 100}, want: model.StateComplete},
		{name: "threshold above 100", in: model.ProgressUpdate{RawStatus: "queued", Progress: 130}, want: model.StateComplete},
		{name: "error text blocks threshold", in: model.ProgressUpdate{RawStatus: "processing", Progress: 100, Error: "bad"}, want: model.StateError},
		{name: "error status blocks threshold", in: model.ProgressUpdate{RawStatus: "failed", Progress: 100}, want: model.StateError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, tt.want, Canonicalize(tt.in))
		})
	}
}

func TestNormalizeStatus_FoldsUnicodeCase(t *testing.T) {
	require.Equal(t, "in_progress", NormalizeStatus("IN PROGRESS"))
	require.Equal(t, "done", NormalizeStatus("DONE"))
}
