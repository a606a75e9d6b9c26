// SPDX-License-Identifier: AGPL-3.0-or-later
// Copyright (C) 2026 aPlane Authors

// Package threaded runs an execution context on a dedicated worker goroutine
// and bridges script callouts to the host through a single-slot
// request/response handoff.
//
// The host observes progress by polling State. While a callout is pending
// the state is Suspended, the request is readable with ReadRequest and the
// worker is parked until WriteResponse. No other cross-goroutine state is
// shared: all interpreter access happens on the worker while a submission is
// in flight, and on the host only while the context is Ready or Finished.
package threaded

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/dop251/goja"
	"github.com/rs/xid"

	"github.com/aplane-algo/jsvm/internal/scripting"
)

// ErrNoHost is returned by Callout when no asynchronous submission is running,
// so nothing can answer the request.
var ErrNoHost = errors.New("callout is only available during an asynchronous run")

// Threaded is the asynchronous capability layered over an execution context.
type Threaded interface {
	State() State
	ExecAsync(source string) (bool, error)
	ReadRequest() (string, error)
	WriteResponse(text string) error
	Terminate()
	ResetState() error
}

// Option configures a threaded VM.
type Option func(*options)

type options struct {
	stdio  bool
	logger *slog.Logger
	hook   func(from, to State)
}

// WithStdio mirrors captured output to the process stdout/stderr.
func WithStdio(on bool) Option {
	return func(o *options) { o.stdio = on }
}

// WithLogger sets the logger for lifecycle messages.
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) { o.logger = logger }
}

// WithTransitionHook registers fn to observe every committed lifecycle
// transition. fn runs with the handoff lock held and must not call back
// into the VM.
func WithTransitionHook(fn func(from, to State)) Option {
	return func(o *options) { o.hook = fn }
}

type job struct {
	program *goja.Program
	abort   <-chan struct{}
}

// VM is a threaded execution context.
type VM struct {
	base   *scripting.VM
	logger *slog.Logger
	hook   func(from, to State)

	state atomic.Int32

	// runMu is the interpreter lock. Host-side interpreter access holds it
	// for the whole call, and ExecAsync holds it while committing Running,
	// so the host never touches the runtime while the worker owns it.
	// Lock order is runMu before mu.
	runMu sync.Mutex

	// mu serializes host operations against the worker's Running->Suspended
	// handoff. request, abort and aborting are guarded by mu.
	mu       sync.Mutex
	request  string
	abort    chan struct{}
	aborting bool

	// response slot; capacity 1, filled only by WriteResponse
	wake chan string
	jobs chan job
	done chan struct{}
	gone chan struct{}

	// worker-only
	inRun    atomic.Bool
	runAbort <-chan struct{}

	attached  atomic.Bool
	closed    atomic.Bool
	closeOnce sync.Once
}

// New creates a threaded VM in the Ready state and starts its worker.
func New(opts ...Option) *VM {
	o := options{logger: slog.Default()}
	for _, opt := range opts {
		opt(&o)
	}

	base := scripting.New(
		scripting.WithID(xid.New().String()),
		scripting.WithStdio(o.stdio),
		scripting.WithLogger(o.logger),
	)

	t := &VM{
		base:   base,
		logger: base.Logger(),
		hook:   o.hook,
		wake:   make(chan string, 1),
		jobs:   make(chan job, 1),
		done:   make(chan struct{}),
		gone:   make(chan struct{}),
	}
	if err := base.Set("callout", t.jsCallout); err != nil {
		panic("failed to register callout: " + err.Error())
	}

	go t.loop()
	return t
}

// ID returns the context identifier used in logs.
func (t *VM) ID() string {
	return t.base.ID()
}

// State returns the latest committed lifecycle state without blocking.
func (t *VM) State() State {
	return State(t.state.Load())
}

// transition commits a new state. Callers hold mu.
func (t *VM) transition(to State) {
	from := State(t.state.Swap(int32(to)))
	if !ValidTransition(from, to) {
		panic(fmt.Sprintf("threaded: illegal transition %s -> %s", from, to))
	}
	t.logger.Debug("lifecycle transition", "from", from, "to", to)
	if t.hook != nil {
		t.hook(from, to)
	}
}

func (t *VM) loop() {
	defer close(t.gone)
	for {
		select {
		case <-t.done:
			return
		case j := <-t.jobs:
			t.run(j)
		}
	}
}

func (t *VM) run(j job) {
	t.runAbort = j.abort
	t.inRun.Store(true)
	err := t.base.Execute(j.program)
	t.inRun.Store(false)
	t.runAbort = nil

	if err != nil {
		t.logger.Debug("submission ended with fault", "error", err)
	}

	t.mu.Lock()
	t.transition(Finished)
	t.mu.Unlock()
}

// ExecAsync submits source for execution on the worker. Only valid in Ready.
// Returns false, leaving the state at Ready, if source does not compile;
// the syntax error is written to stderr.
func (t *VM) ExecAsync(source string) (bool, error) {
	t.runMu.Lock()
	defer t.runMu.Unlock()
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed.Load() {
		return false, scripting.ErrClosed
	}
	if st := t.State(); st != Ready {
		return false, protocolError("exec_async", st)
	}

	prog, ok := t.base.Compile("<exec_async>", source)
	if !ok {
		return false, nil
	}

	// drop a response left over from a terminated episode
	select {
	case <-t.wake:
	default:
	}

	t.abort = make(chan struct{})
	t.aborting = false
	t.transition(Running)
	t.jobs <- job{program: prog, abort: t.abort}
	return true, nil
}

// Callout performs one host round trip from script code. It must be called
// on the worker goroutine, from a native function invoked by the running
// script. The worker blocks until WriteResponse or Terminate.
func (t *VM) Callout(request string) (string, error) {
	if !t.inRun.Load() {
		return "", ErrNoHost
	}

	t.mu.Lock()
	if t.aborting {
		t.mu.Unlock()
		return "", ErrTerminated
	}
	t.request = request
	t.transition(Suspended)
	t.mu.Unlock()

	select {
	case resp := <-t.wake:
		return resp, nil
	case <-t.runAbort:
		return "", ErrTerminated
	}
}

// jsCallout is the script-visible callout(text) -> text primitive.
func (t *VM) jsCallout(call goja.FunctionCall) goja.Value {
	rt := t.base.Runtime()
	resp, err := t.Callout(call.Argument(0).String())
	if err != nil {
		if errors.Is(err, ErrTerminated) {
			// the pending interrupt aborts the script at the next instruction
			return goja.Undefined()
		}
		panic(rt.NewGoError(err))
	}
	return rt.ToValue(resp)
}

// ReadRequest returns the pending request. Only valid while Suspended.
// The request is not cleared; repeated reads return the same text.
func (t *VM) ReadRequest() (string, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed.Load() {
		return "", scripting.ErrClosed
	}
	if st := t.State(); st != Suspended {
		return "", protocolError("read_request", st)
	}
	return t.request, nil
}

// WriteResponse hands text to the parked worker and resumes it.
// Only valid while Suspended. Returns ErrTerminated if Terminate already
// released the worker.
func (t *VM) WriteResponse(text string) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed.Load() {
		return scripting.ErrClosed
	}
	if st := t.State(); st != Suspended {
		return protocolError("write_response", st)
	}
	if t.aborting {
		return ErrTerminated
	}

	// Fill the slot before the state flips. The worker may wake at once, but
	// its next transition needs mu, so Running is committed first.
	t.wake <- text
	t.transition(Running)
	return nil
}

// Terminate requests cooperative interruption of the current submission.
// The worker stops at its next instruction boundary and the state moves to
// Finished. Calling Terminate in Ready or Finished, or more than once, is a no-op.
func (t *VM) Terminate() {
	t.mu.Lock()
	defer t.mu.Unlock()

	st := t.State()
	if (st != Running && st != Suspended) || t.aborting {
		return
	}
	t.aborting = true
	t.base.Interrupt("terminated")
	close(t.abort)
	t.logger.Debug("termination requested", "state", st)
}

// ResetState returns a Finished context to Ready, clearing the handoff
// slots, any unconsumed interrupt and the captured output.
func (t *VM) ResetState() error {
	t.runMu.Lock()
	defer t.runMu.Unlock()
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed.Load() {
		return scripting.ErrClosed
	}
	if st := t.State(); st != Finished {
		return protocolError("reset_state", st)
	}

	t.request = ""
	t.aborting = false
	t.base.ClearInterrupt()
	select {
	case <-t.wake:
	default:
	}
	_, _ = t.base.ReadOutput()

	t.transition(Ready)
	return nil
}

// Claim reserves the context for one attachment loop. The returned release
// function may be called more than once.
func (t *VM) Claim() (release func(), err error) {
	if !t.attached.CompareAndSwap(false, true) {
		return nil, ErrAttached
	}
	var once sync.Once
	return func() {
		once.Do(func() { t.attached.Store(false) })
	}, nil
}

// idle checks that synchronous interpreter access is allowed and, if so,
// returns with runMu held. The caller must call the returned unlock.
func (t *VM) idle(op string) (unlock func(), err error) {
	t.runMu.Lock()
	if t.closed.Load() {
		t.runMu.Unlock()
		return nil, scripting.ErrClosed
	}
	if st := t.State(); st == Running || st == Suspended {
		t.runMu.Unlock()
		return nil, fmt.Errorf("%w: %s while %s", ErrBusy, op, st)
	}
	return t.runMu.Unlock, nil
}

// Run executes source synchronously on the calling goroutine.
// Only valid in Ready or Finished; callout() is unavailable.
func (t *VM) Run(source string) (bool, error) {
	unlock, err := t.idle("run")
	if err != nil {
		return false, err
	}
	defer unlock()
	return t.base.Run(source)
}

// Eval evaluates an expression synchronously. Only valid in Ready or Finished.
func (t *VM) Eval(expression string) (string, bool, error) {
	unlock, err := t.idle("eval")
	if err != nil {
		return "", false, err
	}
	defer unlock()
	return t.base.Eval(expression)
}

// ReadOutput drains the captured streams. Valid in every state.
func (t *VM) ReadOutput() (scripting.Output, error) {
	return t.base.ReadOutput()
}

// AddModule registers an importable unit. Only valid in Ready or Finished.
func (t *VM) AddModule(name, source string) (bool, error) {
	unlock, err := t.idle("add_module")
	if err != nil {
		return false, err
	}
	defer unlock()
	return t.base.AddModule(name, source)
}

// GetGlobal looks up a top-level binding. Only valid in Ready or Finished.
func (t *VM) GetGlobal(name string) (string, bool, error) {
	unlock, err := t.idle("get_global")
	if err != nil {
		return "", false, err
	}
	defer unlock()
	return t.base.GetGlobal(name)
}

// Globals lists global names. Only valid in Ready or Finished.
func (t *VM) Globals() ([]string, error) {
	unlock, err := t.idle("globals")
	if err != nil {
		return nil, err
	}
	defer unlock()
	return t.base.Globals()
}

// Set binds a native value on the global object. Only valid in Ready or Finished.
func (t *VM) Set(name string, value interface{}) error {
	unlock, err := t.idle("set")
	if err != nil {
		return err
	}
	defer unlock()
	return t.base.Set(name, value)
}

// Runtime returns the underlying Goja runtime for native bindings.
func (t *VM) Runtime() *goja.Runtime {
	return t.base.Runtime()
}

// Close terminates any submission, stops the worker and releases the
// interpreter. Safe to call more than once.
func (t *VM) Close() error {
	t.closeOnce.Do(func() {
		t.mu.Lock()
		t.closed.Store(true)
		t.mu.Unlock()

		t.Terminate()
		close(t.done)
		<-t.gone

		// wait out any synchronous call still using the runtime
		t.runMu.Lock()
		_ = t.base.Close()
		t.runMu.Unlock()
	})
	return nil
}

// Compile-time interface checks
var (
	_ Threaded          = (*VM)(nil)
	_ scripting.Context = (*VM)(nil)
)
