// SPDX-License-Identifier: AGPL-3.0-or-later
// Copyright (C) 2026 aPlane Authors

package scripting

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"regexp"
	"sort"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/dop251/goja"
	"github.com/dop251/goja/ast"
	"github.com/dop251/goja/parser"
	"github.com/rs/xid"
)

// identRe matches names that can be resolved as a bare expression.
var identRe = regexp.MustCompile(`^[A-Za-z_$][A-Za-z0-9_$]*$`)

// reserved words that match identRe but are not bindings
var reserved = map[string]bool{
	"this": true, "null": true, "true": true, "false": true, "undefined": true,
	"arguments": true, "new": true, "typeof": true, "void": true, "delete": true,
	"function": true, "class": true, "var": true, "let": true, "const": true,
	"if": true, "else": true, "for": true, "while": true, "do": true,
	"return": true, "throw": true, "try": true, "catch": true, "finally": true,
	"switch": true, "case": true, "default": true, "break": true, "continue": true,
	"in": true, "instanceof": true, "with": true, "yield": true, "await": true,
	"super": true, "import": true, "export": true, "debugger": true,
}

// Option configures a VM.
type Option func(*options)

type options struct {
	id     string
	stdio  bool
	logger *slog.Logger
}

// WithStdio mirrors captured output to the process stdout/stderr.
// Output is still captured and drained by ReadOutput.
func WithStdio(on bool) Option {
	return func(o *options) { o.stdio = on }
}

// WithLogger sets the logger used for lifecycle debug messages.
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) { o.logger = logger }
}

// WithID sets the identifier used in log messages. A fresh xid is used otherwise.
func WithID(id string) Option {
	return func(o *options) { o.id = id }
}

// module is a registered importable unit.
type module struct {
	program *goja.Program
	object  *goja.Object // set while loading and after load
}

// VM is an execution context backed by one Goja runtime.
// The runtime is exclusively owned by the VM and released by Close.
type VM struct {
	id     string
	rt     *goja.Runtime
	out    *capture
	logger *slog.Logger

	stringify goja.Callable

	modMu   sync.Mutex
	modules map[string]*module

	closed atomic.Bool
}

// New creates an execution context with print/console/require builtins.
func New(opts ...Option) *VM {
	o := options{logger: slog.Default()}
	for _, opt := range opts {
		opt(&o)
	}
	if o.id == "" {
		o.id = xid.New().String()
	}

	out := &capture{}
	if o.stdio {
		out.stdoutMirror = os.Stdout
		out.stderrMirror = os.Stderr
	}

	vm := &VM{
		id:      o.id,
		rt:      goja.New(),
		out:     out,
		logger:  o.logger.With("vm", o.id),
		modules: make(map[string]*module),
	}
	vm.rt.SetFieldNameMapper(goja.TagFieldNameMapper("json", true))

	if err := vm.registerBuiltins(); err != nil {
		// Registration errors are programming bugs, not runtime errors
		panic("failed to register builtins: " + err.Error())
	}

	vm.logger.Debug("execution context created")
	return vm
}

func (v *VM) registerBuiltins() error {
	jsonObj := v.rt.Get("JSON").ToObject(v.rt)
	stringify, ok := goja.AssertFunction(jsonObj.Get("stringify"))
	if !ok {
		return errors.New("JSON.stringify is not callable")
	}
	v.stringify = stringify

	if err := v.rt.Set("print", v.printer(v.out.writeStdout)); err != nil {
		return fmt.Errorf("failed to register print: %w", err)
	}

	console := v.rt.NewObject()
	for _, name := range []string{"log", "info", "debug"} {
		if err := console.Set(name, v.printer(v.out.writeStdout)); err != nil {
			return fmt.Errorf("failed to register console.%s: %w", name, err)
		}
	}
	for _, name := range []string{"error", "warn"} {
		if err := console.Set(name, v.printer(v.out.writeStderr)); err != nil {
			return fmt.Errorf("failed to register console.%s: %w", name, err)
		}
	}
	if err := v.rt.Set("console", console); err != nil {
		return fmt.Errorf("failed to register console: %w", err)
	}

	if err := v.rt.Set("require", v.jsRequire); err != nil {
		return fmt.Errorf("failed to register require: %w", err)
	}
	return nil
}

// printer returns a native function writing its space-joined arguments as one line.
func (v *VM) printer(write func(string)) func(goja.FunctionCall) goja.Value {
	return func(call goja.FunctionCall) goja.Value {
		parts := make([]string, len(call.Arguments))
		for i, arg := range call.Arguments {
			parts[i] = v.display(arg)
		}
		write(strings.Join(parts, " ") + "\n")
		return goja.Undefined()
	}
}

// display renders a value for print: strings verbatim, plain objects as JSON.
func (v *VM) display(val goja.Value) string {
	if val == nil || goja.IsUndefined(val) {
		return "undefined"
	}
	if goja.IsNull(val) {
		return "null"
	}
	if obj, ok := val.(*goja.Object); ok {
		if _, isFn := goja.AssertFunction(obj); !isFn && obj.ClassName() != "Error" {
			return v.encode(val)
		}
	}
	return val.String()
}

// encode returns the JSON representation of a value using the interpreter's
// own JSON.stringify. Unrepresentable values become a JSON string.
func (v *VM) encode(val goja.Value) string {
	if val == nil || goja.IsUndefined(val) {
		return "null"
	}
	res, err := v.stringify(goja.Undefined(), val)
	if err != nil || res == nil || goja.IsUndefined(res) {
		b, _ := json.Marshal(val.String())
		return string(b)
	}
	return res.String()
}

// ID returns the identifier used in log messages.
func (v *VM) ID() string {
	return v.id
}

// Logger returns the context-scoped logger.
func (v *VM) Logger() *slog.Logger {
	return v.logger
}

// Compile compiles source without running it.
// A syntax error is written to stderr and reported by a false result.
func (v *VM) Compile(name, source string) (*goja.Program, bool) {
	prog, err := goja.Compile(name, source, false)
	if err != nil {
		v.out.writeStderr(err.Error() + "\n")
		return nil, false
	}
	return prog, true
}

// Execute runs a compiled program on the calling goroutine.
// An uncaught fault is written to stderr and returned as a *ScriptError.
func (v *VM) Execute(prog *goja.Program) error {
	if _, err := v.rt.RunProgram(prog); err != nil {
		return v.fault(err)
	}
	return nil
}

// fault records an uncaught interpreter error on stderr.
func (v *VM) fault(err error) *ScriptError {
	se := &ScriptError{}
	var interrupted *goja.InterruptedError
	var exc *goja.Exception
	switch {
	case errors.As(err, &interrupted):
		se.Interrupted = true
		se.Message = fmt.Sprintf("Interrupted: %v", interrupted.Value())
	case errors.As(err, &exc):
		se.Message = exc.String()
	default:
		se.Message = err.Error()
	}
	v.out.writeStderr(se.Message + "\n")
	return se
}

// compileExpression compiles expression as exactly one expression. Input
// that closes the wrapping paren early and smuggles in further statements
// is rejected with a SyntaxError on stderr.
func (v *VM) compileExpression(expression string) (*goja.Program, bool) {
	// The newline keeps a trailing line comment from swallowing the paren.
	parsed, err := parser.ParseFile(nil, "<eval>", "("+expression+"\n)", 0)
	if err != nil {
		v.out.writeStderr("SyntaxError: " + err.Error() + "\n")
		return nil, false
	}
	if len(parsed.Body) != 1 {
		v.out.writeStderr("SyntaxError: <eval>: expected a single expression\n")
		return nil, false
	}
	if _, ok := parsed.Body[0].(*ast.ExpressionStatement); !ok {
		v.out.writeStderr("SyntaxError: <eval>: expected a single expression\n")
		return nil, false
	}
	prog, err := goja.CompileAST(parsed, false)
	if err != nil {
		v.out.writeStderr(err.Error() + "\n")
		return nil, false
	}
	return prog, true
}

// Run compiles and executes source. See Executor.
func (v *VM) Run(source string) (bool, error) {
	if v.closed.Load() {
		return false, ErrClosed
	}
	prog, ok := v.Compile("<exec>", source)
	if !ok {
		return false, nil
	}
	_ = v.Execute(prog) // fault already captured on stderr
	return true, nil
}

// Eval evaluates one expression and returns its JSON encoding. See Executor.
func (v *VM) Eval(expression string) (string, bool, error) {
	if v.closed.Load() {
		return "", false, ErrClosed
	}
	prog, ok := v.compileExpression(expression)
	if !ok {
		return "", false, nil
	}
	val, err := v.rt.RunProgram(prog)
	if err != nil {
		v.fault(err)
		return "", false, nil
	}
	return v.encode(val), true, nil
}

// ReadOutput drains the captured streams. Safe to call from any goroutine.
func (v *VM) ReadOutput() (Output, error) {
	if v.closed.Load() {
		return Output{}, ErrClosed
	}
	return v.out.drain(), nil
}

// AddModule registers source as an importable unit named name.
// The unit is compiled now and executed on its first require().
func (v *VM) AddModule(name, source string) (bool, error) {
	if v.closed.Load() {
		return false, ErrClosed
	}
	// Validate the body on its own so a stray "})" cannot escape the wrapper.
	if _, ok := v.Compile(name, source); !ok {
		return false, nil
	}
	prog, ok := v.Compile(name, "(function (exports, require, module) {\n"+source+"\n})")
	if !ok {
		return false, nil
	}

	v.modMu.Lock()
	v.modules[name] = &module{program: prog}
	v.modMu.Unlock()

	v.logger.Debug("module registered", "module", name)
	return true, nil
}

// jsRequire implements require(name) with CommonJS-style caching.
func (v *VM) jsRequire(call goja.FunctionCall) goja.Value {
	name := call.Argument(0).String()

	v.modMu.Lock()
	m, ok := v.modules[name]
	v.modMu.Unlock()
	if !ok {
		panic(v.rt.NewTypeError(fmt.Sprintf("module %q not found", name)))
	}
	if m.object != nil {
		// loaded, or a require cycle: hand back the current exports
		return m.object.Get("exports")
	}

	fnVal, err := v.rt.RunProgram(m.program)
	if err != nil {
		v.rethrow(err)
		return goja.Undefined()
	}
	fn, ok := goja.AssertFunction(fnVal)
	if !ok {
		panic(v.rt.NewTypeError(fmt.Sprintf("module %q did not compile to a function", name)))
	}

	moduleObj := v.rt.NewObject()
	exports := v.rt.NewObject()
	_ = moduleObj.Set("exports", exports)
	m.object = moduleObj

	if _, err := fn(goja.Undefined(), exports, v.rt.Get("require"), moduleObj); err != nil {
		m.object = nil
		v.rethrow(err)
		return goja.Undefined()
	}
	return moduleObj.Get("exports")
}

// rethrow re-raises an error from a nested call inside a native function.
// Interrupts are re-armed rather than panicked so they stay uncatchable.
func (v *VM) rethrow(err error) {
	var interrupted *goja.InterruptedError
	if errors.As(err, &interrupted) {
		v.rt.Interrupt(interrupted.Value())
		return
	}
	var exc *goja.Exception
	if errors.As(err, &exc) {
		panic(exc)
	}
	panic(v.rt.NewGoError(err))
}

// GetGlobal looks up a top-level binding and returns its JSON encoding.
// Properties of the global object are found first; identifier names then
// fall back to lexical declarations (let/const/class).
func (v *VM) GetGlobal(name string) (string, bool, error) {
	if v.closed.Load() {
		return "", false, ErrClosed
	}
	if val := v.rt.GlobalObject().Get(name); val != nil {
		return v.encode(val), true, nil
	}
	if !identRe.MatchString(name) || reserved[name] {
		return "", false, nil
	}
	val, err := v.rt.RunString(name)
	if err != nil {
		// ReferenceError: not bound anywhere
		return "", false, nil
	}
	return v.encode(val), true, nil
}

// Globals returns the sorted own property names of the global object.
func (v *VM) Globals() ([]string, error) {
	if v.closed.Load() {
		return nil, ErrClosed
	}
	names := v.rt.GlobalObject().GetOwnPropertyNames()
	sort.Strings(names)
	return names, nil
}

// Set binds a Go value (typically a native function) as a global.
func (v *VM) Set(name string, value interface{}) error {
	if v.closed.Load() {
		return ErrClosed
	}
	return v.rt.Set(name, value)
}

// Runtime returns the underlying Goja runtime.
// Use sparingly - prefer the Executor interface for portability.
func (v *VM) Runtime() *goja.Runtime {
	return v.rt
}

// WriteStderr appends text to the captured stderr stream.
func (v *VM) WriteStderr(text string) {
	v.out.writeStderr(text)
}

// Interrupt aborts the running script at its next instruction boundary.
// Safe to call from another goroutine. If no script is running, the next
// run is interrupted immediately.
func (v *VM) Interrupt(reason interface{}) {
	v.rt.Interrupt(reason)
}

// ClearInterrupt discards a pending interrupt that was never consumed.
func (v *VM) ClearInterrupt() {
	v.rt.ClearInterrupt()
}

// Close releases the interpreter. It is safe to call more than once; every
// other operation returns ErrClosed afterward.
func (v *VM) Close() error {
	if !v.closed.CompareAndSwap(false, true) {
		return nil
	}
	v.rt.Interrupt("execution context closed")

	v.modMu.Lock()
	v.modules = make(map[string]*module)
	v.modMu.Unlock()

	v.logger.Debug("execution context closed")
	return nil
}

// Compile-time interface check
var _ Context = (*VM)(nil)
