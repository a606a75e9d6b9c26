// SPDX-License-Identifier: AGPL-3.0-or-later
// Copyright (C) 2026 aPlane Authors

// Package scripting provides the execution context: one embedded interpreter
// with synchronous run/evaluate operations, captured output and global
// introspection. The interpreter itself (Goja) is treated as a black box.
package scripting

import "errors"

// ErrClosed is returned by every operation on a context after Close.
var ErrClosed = errors.New("execution context is closed")

// ScriptError represents an uncaught fault raised while a script was running.
type ScriptError struct {
	Message string
	// Interrupted is true when the run was aborted by Interrupt rather than
	// by an exception thrown from script code.
	Interrupted bool
}

func (e *ScriptError) Error() string {
	return e.Message
}

// Output holds text written to the captured streams since the last drain.
type Output struct {
	Stdout string `json:"stdout"`
	Stderr string `json:"stderr"`
}

// Executor is the synchronous script execution capability.
//
// Compile and runtime failures are never returned as errors: a compile
// failure is reported by a false result, a runtime failure lands in the
// captured stderr stream. The error return is reserved for contract
// violations such as use after Close.
type Executor interface {
	// Run compiles and executes source against the global namespace.
	// Returns whether compilation succeeded.
	Run(source string) (bool, error)

	// Eval evaluates a single expression and returns its JSON encoding.
	// The bool is false if compilation or evaluation failed.
	Eval(expression string) (string, bool, error)

	// ReadOutput drains everything written to stdout/stderr so far.
	ReadOutput() (Output, error)
}

// ModuleHost registers importable source units.
type ModuleHost interface {
	AddModule(name, source string) (bool, error)
}

// Inspector exposes top-level bindings.
type Inspector interface {
	GetGlobal(name string) (string, bool, error)
	Globals() ([]string, error)
}

// Context is the full execution context surface.
type Context interface {
	Executor
	ModuleHost
	Inspector
	Close() error
}
