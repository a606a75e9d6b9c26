// SPDX-License-Identifier: AGPL-3.0-or-later
// Copyright (C) 2026 aPlane Authors

package rpc

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"time"

	"github.com/aplane-algo/jsvm/internal/attach"
)

// stopGrace is how long Stop waits for the backend to exit before killing it.
const stopGrace = 5 * time.Second

// Backend forwards callout requests to an external process speaking
// newline-delimited JSON-RPC on its stdin/stdout. Its stderr is logged.
type Backend struct {
	name   string
	cmd    *exec.Cmd
	client *Client
	stdin  io.WriteCloser
	logger *slog.Logger
}

// StartBackend launches argv[0] with the remaining arguments.
func StartBackend(argv []string, logger *slog.Logger) (*Backend, error) {
	if len(argv) == 0 {
		return nil, errors.New("backend command is empty")
	}
	if logger == nil {
		logger = slog.Default()
	}

	cmd := exec.Command(argv[0], argv[1:]...)
	cmd.Env = append(os.Environ(), "JSVM_BACKEND=1")

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to create stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to create stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to create stderr pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("failed to start backend: %w", err)
	}

	b := &Backend{
		name:   argv[0],
		cmd:    cmd,
		client: NewClient(stdout, stdin),
		stdin:  stdin,
		logger: logger.With("backend", argv[0]),
	}
	b.client.Start()
	go b.monitorStderr(stderr)

	b.logger.Debug("backend started", "pid", cmd.Process.Pid)
	return b, nil
}

func (b *Backend) monitorStderr(r io.Reader) {
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		b.logger.Info("backend stderr", "line", scanner.Text())
	}
}

// Call forwards one method call to the backend.
func (b *Backend) Call(ctx context.Context, method string, params interface{}, result interface{}) error {
	return b.client.Call(ctx, method, params, result)
}

// Dispatch implements attach.Dispatcher by relaying the request and
// re-addressing the backend's answer to the caller's id.
func (b *Backend) Dispatch(ctx context.Context, _ attach.Target, request string) string {
	req, rerr := DecodeRequest(request)
	if rerr != nil {
		var id interface{}
		if req != nil {
			id = req.ID
		}
		return (&Response{Jsonrpc: Version, Error: rerr, ID: id}).String()
	}

	resp, err := b.client.Do(ctx, req.Method, req.Params)
	if err != nil {
		code := BackendError
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			code = Cancelled
		}
		return ErrorResponse(req.ID, code, fmt.Sprintf("backend %s: %v", b.name, err)).String()
	}
	resp.ID = req.ID
	return resp.String()
}

// Stop closes the backend's stdin and waits for it to exit, killing it after
// a grace period.
func (b *Backend) Stop() error {
	_ = b.stdin.Close()

	done := make(chan error, 1)
	go func() {
		done <- b.cmd.Wait()
	}()

	var err error
	select {
	case err = <-done:
	case <-time.After(stopGrace):
		_ = b.cmd.Process.Kill()
		err = <-done
	}

	b.client.Close()
	b.logger.Debug("backend stopped")
	if err != nil {
		return fmt.Errorf("backend exited: %w", err)
	}
	return nil
}

var _ attach.Dispatcher = (*Backend)(nil)
