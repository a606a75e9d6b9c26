// SPDX-License-Identifier: AGPL-3.0-or-later
// Copyright (C) 2026 aPlane Authors

package util

import (
	"io"
	"log/slog"
	"os"
)

var Logger = slog.Default()

// DebugEnabled reports whether JSVM_DEBUG is set.
func DebugEnabled() bool {
	return os.Getenv("JSVM_DEBUG") != ""
}

// InitLogger initializes the global logger for CLI use and makes it the slog default.
// Set JSVM_DEBUG=1 environment variable to enable debug logging
func InitLogger() {
	Logger = NewCLILogger(os.Stderr)
	slog.SetDefault(Logger)
}

// NewCLILogger returns a text logger without time and level attributes.
func NewCLILogger(w io.Writer) *slog.Logger {
	level := slog.LevelInfo // Default: only show Info, Warn, Error
	if DebugEnabled() {
		level = slog.LevelDebug
	}

	handler := slog.NewTextHandler(w, &slog.HandlerOptions{
		Level: level,
		// Remove timestamp and level for cleaner CLI output
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			if a.Key == slog.TimeKey || a.Key == slog.LevelKey {
				return slog.Attr{}
			}
			return a
		},
	})
	return slog.New(handler)
}

// NewServerLogger returns a full text logger for long-running daemons.
func NewServerLogger(w io.Writer) *slog.Logger {
	level := slog.LevelInfo
	if DebugEnabled() {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level}))
}

// Debug logs a debug message (only shown when JSVM_DEBUG is set)
func Debug(msg string, args ...any) {
	Logger.Debug(msg, args...)
}
