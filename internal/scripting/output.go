// SPDX-License-Identifier: AGPL-3.0-or-later
// Copyright (C) 2026 aPlane Authors

package scripting

import (
	"io"
	"strings"
	"sync"
)

// capture is the pair of append-only output channels. Both streams share one
// lock so a drain observes a consistent snapshot of stdout and stderr.
type capture struct {
	mu     sync.Mutex
	stdout strings.Builder
	stderr strings.Builder

	// optional mirrors (process stdio when the context is created with stdio on)
	stdoutMirror io.Writer
	stderrMirror io.Writer
}

func (c *capture) writeStdout(text string) {
	c.mu.Lock()
	c.stdout.WriteString(text)
	c.mu.Unlock()
	if c.stdoutMirror != nil {
		_, _ = io.WriteString(c.stdoutMirror, text)
	}
}

func (c *capture) writeStderr(text string) {
	c.mu.Lock()
	c.stderr.WriteString(text)
	c.mu.Unlock()
	if c.stderrMirror != nil {
		_, _ = io.WriteString(c.stderrMirror, text)
	}
}

func (c *capture) drain() Output {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := Output{Stdout: c.stdout.String(), Stderr: c.stderr.String()}
	c.stdout.Reset()
	c.stderr.Reset()
	return out
}
