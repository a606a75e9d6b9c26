// SPDX-License-Identifier: AGPL-3.0-or-later
// Copyright (C) 2026 aPlane Authors

package rpc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/aplane-algo/jsvm/internal/attach"
)

// Handler answers one method. params is the raw params value (nil if absent).
// Returning an *Error selects the reported code; any other error is reported
// as InternalError.
type Handler func(ctx context.Context, params json.RawMessage) (interface{}, error)

// Mux routes JSON-RPC requests arriving through callouts to handlers by
// method name. It implements attach.Dispatcher and never panics.
type Mux struct {
	mu       sync.RWMutex
	handlers map[string]Handler
	fallback attach.Dispatcher
	logger   *slog.Logger
}

// NewMux creates an empty mux.
func NewMux(logger *slog.Logger) *Mux {
	if logger == nil {
		logger = slog.Default()
	}
	return &Mux{
		handlers: make(map[string]Handler),
		logger:   logger,
	}
}

// Handle registers h for method, replacing any previous handler.
func (m *Mux) Handle(method string, h Handler) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers[method] = h
}

// SetFallback routes unknown methods to d with the original request text.
func (m *Mux) SetFallback(d attach.Dispatcher) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fallback = d
}

// Methods returns the registered method names, sorted.
func (m *Mux) Methods() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	names := make([]string, 0, len(m.handlers))
	for name := range m.handlers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Dispatch implements attach.Dispatcher.
func (m *Mux) Dispatch(ctx context.Context, target attach.Target, request string) (response string) {
	req, rerr := DecodeRequest(request)
	if rerr != nil {
		var id interface{}
		if req != nil {
			id = req.ID
		}
		m.logger.Debug("rejecting callout", "code", rerr.Code, "error", rerr.Message)
		return (&Response{Jsonrpc: Version, Error: rerr, ID: id}).String()
	}

	m.mu.RLock()
	h, ok := m.handlers[req.Method]
	fallback := m.fallback
	m.mu.RUnlock()

	if !ok {
		if fallback != nil {
			return fallback.Dispatch(ctx, target, request)
		}
		return ErrorResponse(req.ID, MethodNotFound, fmt.Sprintf("method not found: %s", req.Method)).String()
	}

	defer func() {
		if r := recover(); r != nil {
			m.logger.Error("handler panicked", "method", req.Method, "panic", r)
			response = ErrorResponse(req.ID, InternalError, fmt.Sprintf("internal error: %v", r)).String()
		}
	}()

	var params json.RawMessage
	if raw, ok := req.Params.(json.RawMessage); ok {
		params = raw
	}

	result, err := h(ctx, params)
	if err != nil {
		var rpcErr *Error
		if errors.As(err, &rpcErr) {
			return (&Response{Jsonrpc: Version, Error: rpcErr, ID: req.ID}).String()
		}
		return ErrorResponse(req.ID, InternalError, err.Error()).String()
	}

	resp, err := ResultResponse(req.ID, result)
	if err != nil {
		return ErrorResponse(req.ID, InternalError, err.Error()).String()
	}
	return resp.String()
}

var _ attach.Dispatcher = (*Mux)(nil)
