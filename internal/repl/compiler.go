// SPDX-License-Identifier: AGPL-3.0-or-later
// Copyright (C) 2026 aPlane Authors

// Package repl turns raw input lines into complete executable units.
package repl

import (
	"fmt"
	"strings"

	"github.com/dop251/goja/ast"
	"github.com/dop251/goja/parser"

	"github.com/aplane-algo/jsvm/internal/version"
)

// Status is the outcome of feeding one line.
type Status int

const (
	// NeedMore means the buffered unit is incomplete; the buffer is kept.
	NeedMore Status = iota
	// Executed means the unit compiled and was handed to the runner.
	Executed
	// Skipped means there was nothing to run, or the unit did not compile.
	Skipped
)

func (s Status) String() string {
	switch s {
	case NeedMore:
		return "need_more"
	case Executed:
		return "executed"
	case Skipped:
		return "skipped"
	default:
		return fmt.Sprintf("status(%d)", int(s))
	}
}

// MarshalText encodes the status by name.
func (s Status) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Runner executes a complete unit. A false result means it did not compile;
// the runner reports the syntax error itself.
type Runner interface {
	Run(source string) (bool, error)
}

// incomplete is the parser's message for input that stops mid-construct.
const incomplete = "Unexpected end of input"

// Compiler buffers lines until they form a complete unit, then runs it.
// It does not own the runner. Not safe for concurrent use.
type Compiler struct {
	exec Runner
	buf  strings.Builder
}

// New creates a compiler feeding exec.
func New(exec Runner) *Compiler {
	return &Compiler{exec: exec}
}

// Banner returns the greeting printed when an interactive session starts.
func Banner() string {
	return fmt.Sprintf("jsvm %s [goja] on %s\nType \"exit()\" or press Ctrl+D to exit.",
		version.Version, version.Platform())
}

// Pending reports whether lines are buffered awaiting completion.
func (c *Compiler) Pending() bool {
	return c.buf.Len() > 0
}

// Reset discards buffered lines.
func (c *Compiler) Reset() {
	c.buf.Reset()
}

// Input appends line to the buffer and runs the buffer once it is a
// complete unit. An error is returned only when the runner reports one;
// the buffer is cleared in that case too.
func (c *Compiler) Input(line string) (Status, error) {
	if c.buf.Len() == 0 && strings.TrimSpace(line) == "" {
		return Skipped, nil
	}

	c.buf.WriteString(line)
	c.buf.WriteByte('\n')
	source := c.buf.String()

	prog, err := parser.ParseFile(nil, "<repl>", source, 0)
	if err != nil && strings.Contains(err.Error(), incomplete) {
		return NeedMore, nil
	}
	c.buf.Reset()

	if err == nil && isNoop(prog) {
		return Skipped, nil
	}

	// A structurally complete unit with a syntax error still goes to the
	// runner, which reports the error on its stderr channel.
	ok, runErr := c.exec.Run(source)
	if runErr != nil {
		return Skipped, runErr
	}
	if !ok {
		return Skipped, nil
	}
	return Executed, nil
}

// isNoop reports whether prog contains nothing but empty statements.
func isNoop(prog *ast.Program) bool {
	for _, stmt := range prog.Body {
		if _, ok := stmt.(*ast.EmptyStatement); !ok {
			return false
		}
	}
	return true
}
