// SPDX-License-Identifier: AGPL-3.0-or-later
// Copyright (C) 2026 aPlane Authors

package server

import (
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/aplane-algo/jsvm/internal/hostapi"
	"github.com/aplane-algo/jsvm/internal/modules"
	"github.com/aplane-algo/jsvm/internal/repl"
	"github.com/aplane-algo/jsvm/internal/threaded"
)

var (
	// ErrSessionNotFound is returned for an unknown session id.
	ErrSessionNotFound = errors.New("session not found")

	// ErrTooManySessions is returned when max_sessions are already open.
	ErrTooManySessions = errors.New("too many sessions")
)

// Session is one threaded context driven over HTTP. The browser page is
// the dispatcher: it polls state, reads the request and posts the response.
type Session struct {
	ID      string
	Created time.Time

	vm *threaded.VM

	// guards the line buffer; the VM does its own locking
	replMu   sync.Mutex
	compiler *repl.Compiler
}

// asyncRunner submits complete REPL units without waiting, so callouts
// reach the page like any other submission.
type asyncRunner struct {
	vm *threaded.VM
}

func (r asyncRunner) Run(source string) (bool, error) {
	return r.vm.ExecAsync(source)
}

// Input feeds one REPL line.
func (s *Session) Input(line string) (repl.Status, bool, error) {
	s.replMu.Lock()
	defer s.replMu.Unlock()
	status, err := s.compiler.Input(line)
	return status, s.compiler.Pending(), err
}

// VM returns the session's context.
func (s *Session) VM() *threaded.VM {
	return s.vm
}

// Sessions owns every open session.
type Sessions struct {
	mu       sync.RWMutex
	sessions map[string]*Session
	max      int
	registry *modules.Registry
	logger   *slog.Logger
}

// NewSessions creates a session table. registry may be nil.
func NewSessions(max int, registry *modules.Registry, logger *slog.Logger) *Sessions {
	if logger == nil {
		logger = slog.Default()
	}
	return &Sessions{
		sessions: make(map[string]*Session),
		max:      max,
		registry: registry,
		logger:   logger,
	}
}

// Create opens a new session with the host API and modules installed.
func (s *Sessions) Create() (*Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.max > 0 && len(s.sessions) >= s.max {
		return nil, fmt.Errorf("%w (max %d)", ErrTooManySessions, s.max)
	}

	vm := threaded.New(threaded.WithLogger(s.logger))
	if err := hostapi.New(vm).RegisterAll(); err != nil {
		_ = vm.Close()
		return nil, fmt.Errorf("failed to install host API: %w", err)
	}
	if s.registry != nil {
		failed, err := s.registry.InstallInto(vm)
		if err != nil {
			_ = vm.Close()
			return nil, err
		}
		for _, name := range failed {
			s.logger.Warn("module failed to compile", "module", name)
		}
	}

	sess := &Session{
		ID:       vm.ID(),
		Created:  time.Now(),
		vm:       vm,
		compiler: repl.New(asyncRunner{vm: vm}),
	}
	s.sessions[sess.ID] = sess
	s.logger.Info("session created", "session", sess.ID)
	return sess, nil
}

// Get returns the session with id.
func (s *Sessions) Get(id string) (*Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sess, ok := s.sessions[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	return sess, nil
}

// List returns open sessions ordered by creation.
func (s *Sessions) List() []*Session {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*Session, 0, len(s.sessions))
	for _, sess := range s.sessions {
		out = append(out, sess)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Created.Before(out[j].Created) })
	return out
}

// Delete closes and forgets a session.
func (s *Sessions) Delete(id string) error {
	s.mu.Lock()
	sess, ok := s.sessions[id]
	delete(s.sessions, id)
	s.mu.Unlock()

	if !ok {
		return fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	s.logger.Info("session closed", "session", id)
	return sess.vm.Close()
}

// CloseAll closes every session.
func (s *Sessions) CloseAll() {
	s.mu.Lock()
	all := s.sessions
	s.sessions = make(map[string]*Session)
	s.mu.Unlock()

	for _, sess := range all {
		_ = sess.vm.Close()
	}
}
