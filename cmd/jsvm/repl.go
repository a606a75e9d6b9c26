// SPDX-License-Identifier: AGPL-3.0-or-later
// Copyright (C) 2026 aPlane Authors

package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/chzyer/readline"

	"github.com/aplane-algo/jsvm/internal/repl"
	"github.com/aplane-algo/jsvm/internal/util"
)

// unitRunner feeds complete REPL units through the host.
type unitRunner struct {
	ctx  context.Context
	host *host
}

func (r unitRunner) Run(source string) (bool, error) {
	return r.host.runInterruptible(r.ctx, source)
}

func isExit(line string) bool {
	switch strings.TrimSpace(line) {
	case "exit", "exit()":
		return true
	}
	return false
}

// feed passes one line to the compiler and reports runner failures.
func feed(c *repl.Compiler, line string) {
	if _, err := c.Input(line); err != nil {
		fmt.Fprint(os.Stderr, styleError(fmt.Sprintf("Error: %v\n", err)))
	}
}

func startBasicREPL(ctx context.Context, h *host) {
	reader := bufio.NewReader(os.Stdin)
	h.readLine = stdinReader(reader, os.Stdout)
	compiler := repl.New(unitRunner{ctx: ctx, host: h})

	for ctx.Err() == nil {
		line, err := h.readLine(prompt(compiler.Pending()))
		if err != nil {
			break
		}
		if !compiler.Pending() && isExit(line) {
			break
		}
		feed(compiler, line)
	}
}

func startREPL(ctx context.Context, h *host, cfg util.Config) {
	fmt.Print(banner())

	if !util.IsTerminal(os.Stdin) {
		startBasicREPL(ctx, h)
		return
	}

	rl, err := readline.NewEx(&readline.Config{
		Prompt:            prompt(false),
		HistoryFile:       cfg.HistoryFile,
		HistoryLimit:      cfg.HistoryLimit,
		AutoComplete:      repl.NewCompleter(h.vm),
		InterruptPrompt:   "^C",
		EOFPrompt:         "exit",
		HistorySearchFold: true,
	})
	if err != nil {
		fmt.Printf("Failed to create readline instance, falling back to basic input: %v\n", err)
		startBasicREPL(ctx, h)
		return
	}
	defer func() {
		_ = rl.Close()
	}()

	h.readLine = func(p string) (string, error) {
		rl.SetPrompt(p)
		return rl.Readline()
	}
	compiler := repl.New(unitRunner{ctx: ctx, host: h})

	for ctx.Err() == nil {
		rl.SetPrompt(prompt(compiler.Pending()))

		line, err := rl.Readline()
		if err != nil {
			if errors.Is(err, readline.ErrInterrupt) {
				if compiler.Pending() {
					compiler.Reset()
				} else if len(line) == 0 {
					fmt.Println(`Use "exit()" or Ctrl+D to exit`)
				}
				continue
			}
			if errors.Is(err, io.EOF) {
				break
			}
			fmt.Printf("Error reading input: %v\n", err)
			continue
		}

		if !compiler.Pending() && isExit(line) {
			break
		}
		feed(compiler, line)
	}
}
