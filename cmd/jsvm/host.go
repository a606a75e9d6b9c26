// SPDX-License-Identifier: AGPL-3.0-or-later
// Copyright (C) 2026 aPlane Authors

package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/aplane-algo/jsvm/internal/attach"
	"github.com/aplane-algo/jsvm/internal/hostapi"
	"github.com/aplane-algo/jsvm/internal/modules"
	"github.com/aplane-algo/jsvm/internal/rpc"
	"github.com/aplane-algo/jsvm/internal/threaded"
	"github.com/aplane-algo/jsvm/internal/util"
)

// host owns one threaded context and answers its callouts from the terminal
// (input) or the configured backend process (everything else).
type host struct {
	vm      *threaded.VM
	mux     *rpc.Mux
	backend *rpc.Backend
	logger  *slog.Logger

	registry  *modules.Registry
	installed uint64

	poll   time.Duration
	stdio  bool
	stdout io.Writer
	stderr io.Writer

	// readLine prompts for and reads one line; replaced by the REPL so
	// input() shares the line editor.
	readLine func(prompt string) (string, error)
}

func newHost(cfg util.Config, registry *modules.Registry, logger *slog.Logger) (*host, error) {
	h := &host{
		vm:       threaded.New(threaded.WithStdio(cfg.Stdio), threaded.WithLogger(logger)),
		mux:      rpc.NewMux(logger),
		logger:   logger,
		registry: registry,
		poll:     cfg.PollInterval,
		stdio:    cfg.Stdio,
		stdout:   os.Stdout,
		stderr:   os.Stderr,
	}
	h.readLine = stdinReader(bufio.NewReader(os.Stdin), h.stdout)

	if err := hostapi.New(h.vm).RegisterAll(); err != nil {
		_ = h.vm.Close()
		return nil, err
	}
	h.mux.Handle(hostapi.MethodInput, h.handleInput)

	if len(cfg.Backend) > 0 {
		backend, err := rpc.StartBackend(cfg.Backend, logger)
		if err != nil {
			_ = h.vm.Close()
			return nil, err
		}
		h.backend = backend
		h.mux.SetFallback(backend)
	}

	h.syncModules()
	return h, nil
}

func stdinReader(r *bufio.Reader, w io.Writer) func(string) (string, error) {
	return func(prompt string) (string, error) {
		_, _ = io.WriteString(w, prompt)
		line, err := r.ReadString('\n')
		if err != nil && line == "" {
			return "", err
		}
		return strings.TrimRight(line, "\r\n"), nil
	}
}

// handleInput answers input(prompt) with one line from the terminal.
func (h *host) handleInput(_ context.Context, params json.RawMessage) (interface{}, error) {
	var args []string
	if len(params) > 0 {
		if err := json.Unmarshal(params, &args); err != nil {
			return nil, rpc.Errorf(rpc.InvalidParams, "input expects [prompt]: %v", err)
		}
	}
	prompt := ""
	if len(args) > 0 {
		prompt = args[0]
	}

	// show what the script printed before asking
	h.flush()
	line, err := h.readLine(prompt)
	if err != nil {
		return nil, fmt.Errorf("failed to read input: %w", err)
	}
	return line, nil
}

// syncModules reinstalls the registry when it changed since the last install.
func (h *host) syncModules() {
	if h.registry == nil || h.registry.Version() == h.installed {
		return
	}
	failed, version, err := h.registry.InstallVersion(h.vm)
	if err != nil {
		h.logger.Warn("module install failed", "error", err)
		return
	}
	for _, name := range failed {
		h.logger.Warn("module failed to compile", "module", name)
	}
	h.installed = version
}

// flush prints and clears the captured output.
func (h *host) flush() {
	out, err := h.vm.ReadOutput()
	if err != nil || h.stdio {
		// already mirrored to the terminal
		return
	}
	_, _ = io.WriteString(h.stdout, out.Stdout)
	if out.Stderr != "" {
		_, _ = io.WriteString(h.stderr, styleError(out.Stderr))
	}
}

// run executes one unit to completion: submit, serve callouts until the
// script finishes, print its output and reset for the next unit.
// The result is false if source did not compile.
func (h *host) run(ctx context.Context, source string) (bool, error) {
	h.syncModules()

	ok, err := h.vm.ExecAsync(source)
	if err != nil {
		return false, err
	}
	if !ok {
		h.flush()
		return false, nil
	}

	attachErr := attach.Attach(ctx, h.vm, h.mux,
		attach.WithPollInterval(h.poll), attach.WithLogger(h.logger))
	if attachErr != nil {
		h.vm.Terminate()
		h.waitFinished()
	}

	h.flush()
	if err := h.vm.ResetState(); err != nil {
		return true, err
	}
	return true, attachErr
}

// runInterruptible is run with Ctrl+C mapped to Terminate for its duration.
func (h *host) runInterruptible(ctx context.Context, source string) (bool, error) {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt)
	defer signal.Stop(sigCh)

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-sigCh:
			h.logger.Debug("interrupt received, terminating script")
			h.vm.Terminate()
		case <-done:
		}
	}()

	return h.run(ctx, source)
}

func (h *host) waitFinished() {
	poll := h.poll
	if poll <= 0 {
		poll = attach.DefaultPollInterval
	}
	for h.vm.State() != threaded.Finished {
		time.Sleep(poll)
	}
}

// eval evaluates expression synchronously and returns its encoding.
func (h *host) eval(expression string) (string, bool, error) {
	h.syncModules()
	value, ok, err := h.vm.Eval(expression)
	h.flush()
	return value, ok, err
}

func (h *host) close() {
	if h.backend != nil {
		if err := h.backend.Stop(); err != nil {
			h.logger.Debug("backend stop", "error", err)
		}
	}
	_ = h.vm.Close()
}
