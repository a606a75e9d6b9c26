// SPDX-License-Identifier: AGPL-3.0-or-later
// Copyright (C) 2026 aPlane Authors

package rpc

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/aplane-algo/jsvm/internal/attach"
)

// Serve is the process side of a Backend: it answers newline-delimited
// requests read from r on w until r is exhausted or ctx is cancelled.
// Notifications are dispatched but get no reply.
func Serve(ctx context.Context, r io.Reader, w io.Writer, d attach.Dispatcher) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), maxLineSize)
	out := bufio.NewWriter(w)

	for scanner.Scan() {
		if err := ctx.Err(); err != nil {
			return err
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		resp := d.Dispatch(ctx, nil, line)
		if req, rerr := DecodeRequest(line); rerr == nil && req.IsNotification() {
			continue
		}

		if _, err := out.WriteString(resp + "\n"); err != nil {
			return fmt.Errorf("failed to write response: %w", err)
		}
		if err := out.Flush(); err != nil {
			return fmt.Errorf("failed to write response: %w", err)
		}
	}
	return scanner.Err()
}
