// SPDX-License-Identifier: AGPL-3.0-or-later
// Copyright (C) 2026 aPlane Authors

package util

import (
	"os"

	"golang.org/x/term"
)

// IsTerminal reports whether f is attached to a terminal.
func IsTerminal(f *os.File) bool {
	return term.IsTerminal(int(f.Fd())) // #nosec G115 - file descriptors are small integers
}

// SupportsColor checks if stdout is a terminal that understands ANSI codes
func SupportsColor() bool {
	if !IsTerminal(os.Stdout) {
		return false
	}

	termEnv := os.Getenv("TERM")
	if termEnv == "" || termEnv == "dumb" {
		return false
	}
	return os.Getenv("NO_COLOR") == ""
}
