// SPDX-License-Identifier: AGPL-3.0-or-later
// Copyright (C) 2026 aPlane Authors

package modules

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/fsnotify/fsnotify"
)

// DebounceDelay coalesces bursts of filesystem events into one reload.
const DebounceDelay = 200 * time.Millisecond

// Watch reloads r from dir whenever a module file is created, modified or
// deleted. It returns once the watcher is running; watching stops when ctx
// is cancelled. onReload, if non-nil, runs after every reload.
func Watch(ctx context.Context, dir string, r *Registry, logger *slog.Logger, onReload func(n int)) error {
	if logger == nil {
		logger = slog.Default()
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create file watcher: %w", err)
	}
	if err := watcher.Add(dir); err != nil {
		_ = watcher.Close()
		return fmt.Errorf("failed to watch modules directory: %w", err)
	}

	logger.Debug("watching modules directory", "dir", dir)

	go func() {
		defer func() { _ = watcher.Close() }()

		var debounce *time.Timer
		defer func() {
			if debounce != nil {
				debounce.Stop()
			}
		}()

		for {
			select {
			case <-ctx.Done():
				return

			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if NameFor(event.Name) == "" {
					continue
				}
				if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Remove|fsnotify.Rename) == 0 {
					continue
				}

				if debounce != nil {
					debounce.Stop()
				}
				debounce = time.AfterFunc(DebounceDelay, func() {
					n, err := r.LoadDir(dir)
					if err != nil {
						logger.Warn("module reload failed", "error", err)
						return
					}
					logger.Debug("modules reloaded", "count", n)
					if onReload != nil {
						onReload(n)
					}
				})

			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				logger.Warn("file watcher error", "error", err)
			}
		}
	}()

	return nil
}
