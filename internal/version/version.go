// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package version carries build metadata injected with -ldflags.
package version

import "fmt"

var (
	// Version is the release tag of the build.
	Version = "v0.1.0-dev"

	// Commit is the git short hash of the build.
	Commit = "unknown"

	// Date is the build timestamp.
	Date = "unknown"
)

// String formats the build metadata for the version command.
func String() string {
	return fmt.Sprintf("uplink %s (commit: %s, built: %s)", Version, Commit, Date)
}
