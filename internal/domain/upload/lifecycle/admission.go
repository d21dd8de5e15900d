// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package lifecycle

import (
	"math"

	"github.com/ManuGH/uplink/internal/domain/upload/model"
)

const (
	RejectTerminal        = "terminal_absorbing"
	RejectStateRegress    = "state_regress"
	RejectProgressRegress = "progress_regress"
)

// Verdict is the result of Admit. State and Progress are the values to
// store when Accepted.
type Verdict struct {
	Accepted bool
	Reason   string
	State    model.State
	Progress float64
}

// Admit decides whether a move from (cur, curProgress) to (next, progress)
// may be applied. Ordering is lexicographic on (state rank, progress).
// Uploading and Processing each carry their own 0-100 scale, so progress
// only ever grows within one state and starts over when the state moves
// forward: Uploading at 100 followed by Processing at 10 is accepted.
// Terminal states absorb everything.
func Admit(cur model.State, curProgress float64, next model.State, progress float64) Verdict {
	if cur.IsTerminal() {
		return Verdict{Reason: RejectTerminal, State: cur, Progress: curProgress}
	}
	if next.Rank() < cur.Rank() {
		return Verdict{Reason: RejectStateRegress, State: cur, Progress: curProgress}
	}

	progress = clamp(progress)
	if next == cur && progress < curProgress {
		return Verdict{Reason: RejectProgressRegress, State: cur, Progress: curProgress}
	}

	switch next {
	case model.StateComplete:
		progress = CompleteThreshold
	case model.StateError:
		progress = curProgress
	}
	return Verdict{Accepted: true, State: next, Progress: progress}
}

func clamp(p float64) float64 {
	switch {
	case math.IsNaN(p):
		return 0
	case p < 0:
		return 0
	case p > 100:
		return 100
	default:
		return p
	}
}
