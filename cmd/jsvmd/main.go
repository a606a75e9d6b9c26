// SPDX-License-Identifier: AGPL-3.0-or-later
// Copyright (C) 2026 aPlane Authors

package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/aplane-algo/jsvm/internal/modules"
	"github.com/aplane-algo/jsvm/internal/server"
	"github.com/aplane-algo/jsvm/internal/util"
	"github.com/aplane-algo/jsvm/internal/version"
)

func main() {
	printVersion := flag.Bool("version", false, "Print version and exit")
	dataDir := flag.String("d", "", "Data directory (default: ~/.jsvm or JSVM_DATA)")
	port := flag.Int("port", 0, "Listen port (overrides listen_port in config.yaml)")
	flag.Parse()
	if *printVersion {
		fmt.Printf("jsvmd %s\n", version.String())
		os.Exit(0)
	}

	resolvedDataDir := util.GetDataDir(*dataDir)

	config, err := util.LoadConfig(resolvedDataDir)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: Invalid configuration: %v\n", err)
		os.Exit(1)
	}
	if *port != 0 {
		config.ListenPort = *port
		if err := config.Validate(); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
	}

	logger := util.NewServerLogger(os.Stderr)
	util.Logger = logger

	logger.Info("starting jsvmd", "version", version.String(), "data_dir", resolvedDataDir)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	registry := modules.NewRegistry()
	if n, err := registry.LoadDir(config.ModulesDir); err != nil {
		logger.Warn("failed to load modules", "dir", config.ModulesDir, "error", err)
	} else {
		logger.Info("modules loaded", "dir", config.ModulesDir, "count", n)
	}
	if config.WatchModules {
		if err := modules.Watch(ctx, config.ModulesDir, registry, logger, func(n int) {
			logger.Info("modules reloaded", "count", n)
		}); err != nil {
			logger.Warn("module watcher not started", "error", err)
		}
	}

	srv := server.New(server.Config{
		Addr:        config.ListenAddress(),
		MaxSessions: config.MaxSessions,
	}, registry, logger)

	if err := srv.Run(ctx); err != nil {
		logger.Error("server stopped", "error", err)
		stop()
		os.Exit(1)
	}
}
