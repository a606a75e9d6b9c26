// SPDX-License-Identifier: AGPL-3.0-or-later
// Copyright (C) 2026 aPlane Authors

package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/aplane-algo/jsvm/internal/modules"
	"github.com/aplane-algo/jsvm/internal/util"
	"github.com/aplane-algo/jsvm/internal/version"
)

func main() {
	printVersion := flag.Bool("version", false, "Print version and exit")
	showConfig := flag.Bool("config", false, "Print the effective configuration and exit")
	dataDir := flag.String("d", "", "Data directory (default: ~/.jsvm or JSVM_DATA)")
	expr := flag.String("e", "", "Evaluate a JavaScript expression and print its value")
	scriptFile := flag.String("f", "", "Run a JavaScript file (use '-' for stdin)")
	flag.Parse()

	if *printVersion {
		fmt.Printf("jsvm %s\n", version.String())
		os.Exit(0)
	}

	resolvedDataDir := util.GetDataDir(*dataDir)
	if *showConfig {
		util.DisplayConfig(resolvedDataDir)
		os.Exit(0)
	}

	// Initialize logger (supports JSVM_DEBUG environment variable)
	util.InitLogger()

	config, err := util.LoadConfig(resolvedDataDir)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: Invalid configuration: %v\n", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM)

	registry := modules.NewRegistry()
	if n, err := registry.LoadDir(config.ModulesDir); err != nil {
		util.Logger.Warn("failed to load modules", "dir", config.ModulesDir, "error", err)
	} else {
		util.Debug("modules loaded", "dir", config.ModulesDir, "count", n)
	}
	interactive := *expr == "" && *scriptFile == ""
	if interactive && config.WatchModules {
		if err := modules.Watch(ctx, config.ModulesDir, registry, util.Logger, func(n int) {
			util.Debug("modules reloaded", "count", n)
		}); err != nil {
			util.Debug("module watcher not started", "error", err)
		}
	}

	h, err := newHost(config, registry, util.Logger)
	if err != nil {
		stop()
		fmt.Fprintf(os.Stderr, "Error: failed to initialize context: %v\n", err)
		os.Exit(1)
	}

	code := 0
	switch {
	case *expr != "":
		code = runExpression(h, *expr)
	case *scriptFile != "":
		code = runScriptFile(ctx, h, *scriptFile)
	default:
		startREPL(ctx, h, config)
	}

	h.close()
	stop()
	os.Exit(code)
}

// runExpression evaluates expr and prints its JSON encoding.
func runExpression(h *host, expr string) int {
	value, ok, err := h.eval(expr)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	if !ok {
		return 1
	}
	fmt.Println(value)
	return 0
}

// runScriptFile runs a file (or stdin for "-") with callouts served.
func runScriptFile(ctx context.Context, h *host, path string) int {
	var content []byte
	var err error
	if path == "-" {
		content, err = io.ReadAll(os.Stdin)
	} else {
		content, err = os.ReadFile(path) // #nosec G304 - user-supplied script path
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: failed to read script: %v\n", err)
		return 1
	}

	ok, err := h.runInterruptible(ctx, string(content))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Script error: %v\n", err)
		return 1
	}
	if !ok {
		return 1
	}
	return 0
}
