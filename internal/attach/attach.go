// SPDX-License-Identifier: AGPL-3.0-or-later
// Copyright (C) 2026 aPlane Authors

// Package attach bridges the Suspended episodes of a threaded context to a
// host-side request handler.
package attach

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/aplane-algo/jsvm/internal/threaded"
)

// DefaultPollInterval is how often the loop samples the context state.
const DefaultPollInterval = time.Millisecond

// Target is the host polling surface the loop drives.
type Target interface {
	State() threaded.State
	ReadRequest() (string, error)
	WriteResponse(text string) error
	Claim() (release func(), err error)
}

// Dispatcher answers one callout request. Failures must be encoded into the
// returned text; Dispatch has no error return.
type Dispatcher interface {
	Dispatch(ctx context.Context, target Target, request string) string
}

// DispatchFunc adapts a function to the Dispatcher interface.
type DispatchFunc func(ctx context.Context, target Target, request string) string

// Dispatch calls f.
func (f DispatchFunc) Dispatch(ctx context.Context, target Target, request string) string {
	return f(ctx, target, request)
}

// Option configures Attach.
type Option func(*options)

type options struct {
	interval time.Duration
	logger   *slog.Logger
}

// WithPollInterval sets the state sampling interval.
func WithPollInterval(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.interval = d
		}
	}
}

// WithLogger sets the logger for dispatch debug messages.
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) { o.logger = logger }
}

// Attach services target until its submission finishes. Each Suspended
// episode is dispatched exactly once and answered with WriteResponse.
//
// Attach returns nil when the target reaches Finished, ctx.Err() if ctx is
// cancelled first, and an error wrapping threaded.ErrProtocol on a contract
// violation (including a second concurrent Attach on the same target).
func Attach(ctx context.Context, target Target, d Dispatcher, opts ...Option) error {
	o := options{interval: DefaultPollInterval, logger: slog.Default()}
	for _, opt := range opts {
		opt(&o)
	}

	release, err := target.Claim()
	if err != nil {
		return err
	}
	defer release()

	ticker := time.NewTicker(o.interval)
	defer ticker.Stop()

	// set once the run was terminated mid-episode; no more dispatching
	draining := false

	for {
		switch st := target.State(); st {
		case threaded.Finished:
			return nil

		case threaded.Ready, threaded.Running:

		case threaded.Suspended:
			if draining {
				break
			}
			req, err := target.ReadRequest()
			if err != nil {
				if target.State() == threaded.Finished {
					return nil
				}
				return fmt.Errorf("read request: %w", err)
			}

			o.logger.Debug("dispatching callout", "bytes", len(req))
			resp := d.Dispatch(ctx, target, req)

			if err := target.WriteResponse(resp); err != nil {
				if errors.Is(err, threaded.ErrTerminated) {
					o.logger.Debug("response dropped, run terminated")
					draining = true
					break
				}
				if target.State() == threaded.Finished {
					return nil
				}
				return fmt.Errorf("write response: %w", err)
			}
			// the state is Running again; look for the next episode eagerly
			continue

		default:
			return fmt.Errorf("%w: unexpected state %s", threaded.ErrProtocol, st)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}
