// SPDX-License-Identifier: AGPL-3.0-or-later
// Copyright (C) 2026 aPlane Authors

package scripting

import (
	"errors"
	"strings"
	"testing"
)

func TestRun(t *testing.T) {
	tests := []struct {
		name       string
		source     string
		wantOK     bool
		wantStdout string
		wantStderr string
	}{
		{
			name:       "print",
			source:     `print("hello", 1, true)`,
			wantOK:     true,
			wantStdout: "hello 1 true\n",
		},
		{
			name:       "console streams",
			source:     `console.log("out"); console.error("err")`,
			wantOK:     true,
			wantStdout: "out\n",
			wantStderr: "err\n",
		},
		{
			name:       "object printed as json",
			source:     `print({a: 1, b: [1, 2]})`,
			wantOK:     true,
			wantStdout: "{\"a\":1,\"b\":[1,2]}\n",
		},
		{
			name:       "compile error",
			source:     `var = ;`,
			wantOK:     false,
			wantStderr: "SyntaxError",
		},
		{
			name:       "runtime error is captured",
			source:     `throw new Error("boom")`,
			wantOK:     true,
			wantStderr: "boom",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			vm := New()
			defer func() { _ = vm.Close() }()

			ok, err := vm.Run(tt.source)
			if err != nil {
				t.Fatalf("Run() error = %v", err)
			}
			if ok != tt.wantOK {
				t.Errorf("Run() = %v, want %v", ok, tt.wantOK)
			}

			out, err := vm.ReadOutput()
			if err != nil {
				t.Fatalf("ReadOutput() error = %v", err)
			}
			if out.Stdout != tt.wantStdout {
				t.Errorf("stdout = %q, want %q", out.Stdout, tt.wantStdout)
			}
			if tt.wantStderr == "" && out.Stderr != "" {
				t.Errorf("stderr = %q, want empty", out.Stderr)
			}
			if !strings.Contains(out.Stderr, tt.wantStderr) {
				t.Errorf("stderr = %q, want it to contain %q", out.Stderr, tt.wantStderr)
			}
		})
	}
}

func TestRunDeterministic(t *testing.T) {
	source := `var xs = []; for (var i = 0; i < 5; i++) { xs.push(i * i) } print(xs.join(","))`

	var outputs []string
	var globals []string
	for i := 0; i < 2; i++ {
		vm := New()
		if _, err := vm.Run(source); err != nil {
			t.Fatalf("Run() error = %v", err)
		}
		out, _ := vm.ReadOutput()
		g, _, _ := vm.GetGlobal("xs")
		outputs = append(outputs, out.Stdout)
		globals = append(globals, g)
		_ = vm.Close()
	}

	if outputs[0] != outputs[1] || globals[0] != globals[1] {
		t.Errorf("runs differ: outputs %q, globals %q", outputs, globals)
	}
	if globals[0] != "[0,1,4,9,16]" {
		t.Errorf("xs = %s, want [0,1,4,9,16]", globals[0])
	}
}

func TestReadOutputDrains(t *testing.T) {
	vm := New()
	defer func() { _ = vm.Close() }()

	_, _ = vm.Run(`print("first")`)
	out, _ := vm.ReadOutput()
	if out.Stdout != "first\n" {
		t.Fatalf("stdout = %q, want %q", out.Stdout, "first\n")
	}

	out, _ = vm.ReadOutput()
	if out.Stdout != "" || out.Stderr != "" {
		t.Errorf("second drain = %+v, want empty", out)
	}

	_, _ = vm.Run(`print("second")`)
	out, _ = vm.ReadOutput()
	if out.Stdout != "second\n" {
		t.Errorf("stdout = %q, want %q", out.Stdout, "second\n")
	}
}

func TestEval(t *testing.T) {
	tests := []struct {
		name   string
		expr   string
		want   string
		wantOK bool
	}{
		{name: "number", expr: "1 + 2", want: "3", wantOK: true},
		{name: "string", expr: `"a" + "b"`, want: `"ab"`, wantOK: true},
		{name: "array", expr: "[1, 2, 3]", want: "[1,2,3]", wantOK: true},
		{name: "object", expr: "({x: 1})", want: `{"x":1}`, wantOK: true},
		{name: "object literal without parens", expr: "{x: 1}", want: `{"x":1}`, wantOK: true},
		{name: "undefined is null", expr: "undefined", want: "null", wantOK: true},
		{name: "trailing comment", expr: "42 // answer", want: "42", wantOK: true},
		{name: "statement is not an expression", expr: "var a = 1", wantOK: false},
		{name: "empty", expr: "", wantOK: false},
		{name: "runtime error", expr: "missing.field", wantOK: false},
		{name: "early close paren", expr: "1); x = 5; (2", wantOK: false},
		{name: "second statement", expr: "1);(2", wantOK: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			vm := New()
			defer func() { _ = vm.Close() }()

			got, ok, err := vm.Eval(tt.expr)
			if err != nil {
				t.Fatalf("Eval() error = %v", err)
			}
			if ok != tt.wantOK {
				t.Fatalf("Eval() ok = %v, want %v", ok, tt.wantOK)
			}
			if ok && got != tt.want {
				t.Errorf("Eval() = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestEvalRejectsExtraStatements(t *testing.T) {
	vm := New()
	defer func() { _ = vm.Close() }()

	if got, ok, _ := vm.Eval("1); x = 5; (2"); ok {
		t.Fatalf("Eval() = %s, want no value", got)
	}
	if _, found, _ := vm.GetGlobal("x"); found {
		t.Error("x was assigned by a rejected expression")
	}
	out, _ := vm.ReadOutput()
	if !strings.Contains(out.Stderr, "SyntaxError") {
		t.Errorf("stderr = %q, want SyntaxError", out.Stderr)
	}
}

func TestEvalFunctionEncodesAsString(t *testing.T) {
	vm := New()
	defer func() { _ = vm.Close() }()

	got, ok, _ := vm.Eval("(function f() {})")
	if !ok {
		t.Fatal("Eval() failed")
	}
	if !strings.HasPrefix(got, `"function`) {
		t.Errorf("Eval() = %s, want a JSON string of the function source", got)
	}
}

func TestGetGlobal(t *testing.T) {
	vm := New()
	defer func() { _ = vm.Close() }()

	if _, err := vm.Run("a = 0; var b = 'x'; let c = [1]; const d = {k: true}"); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	tests := []struct {
		name   string
		want   string
		wantOK bool
	}{
		{name: "a", want: "0", wantOK: true},
		{name: "b", want: `"x"`, wantOK: true},
		{name: "c", want: "[1]", wantOK: true},
		{name: "d", want: `{"k":true}`, wantOK: true},
		{name: "missing", wantOK: false},
		{name: "this", wantOK: false},
		{name: "a + 1", wantOK: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok, err := vm.GetGlobal(tt.name)
			if err != nil {
				t.Fatalf("GetGlobal() error = %v", err)
			}
			if ok != tt.wantOK {
				t.Fatalf("GetGlobal(%q) ok = %v, want %v", tt.name, ok, tt.wantOK)
			}
			if ok && got != tt.want {
				t.Errorf("GetGlobal(%q) = %s, want %s", tt.name, got, tt.want)
			}
		})
	}
}

func TestAddModule(t *testing.T) {
	vm := New()
	defer func() { _ = vm.Close() }()

	ok, err := vm.AddModule("counter", `
var n = 0;
print("loading counter");
exports.next = function () { return ++n; };
`)
	if err != nil || !ok {
		t.Fatalf("AddModule() = %v, %v; want true, nil", ok, err)
	}

	// registering does not execute the body
	out, _ := vm.ReadOutput()
	if out.Stdout != "" {
		t.Fatalf("module executed at registration: stdout = %q", out.Stdout)
	}

	_, _ = vm.Run(`var c1 = require("counter"); var c2 = require("counter"); c1.next(); total = c2.next();`)
	out, _ = vm.ReadOutput()
	if out.Stdout != "loading counter\n" {
		t.Errorf("stdout = %q, want one load message", out.Stdout)
	}
	if out.Stderr != "" {
		t.Errorf("stderr = %q, want empty", out.Stderr)
	}
	if got, _, _ := vm.GetGlobal("total"); got != "2" {
		t.Errorf("total = %s, want 2 (module cached)", got)
	}
}

func TestAddModuleExportsReplacement(t *testing.T) {
	vm := New()
	defer func() { _ = vm.Close() }()

	_, _ = vm.AddModule("greet", `module.exports = function (who) { return "hi " + who; };`)
	got, ok, _ := vm.Eval(`require("greet")("bob")`)
	if !ok || got != `"hi bob"` {
		t.Errorf("Eval() = %s, %v; want \"hi bob\"", got, ok)
	}
}

func TestAddModuleCompileError(t *testing.T) {
	vm := New()
	defer func() { _ = vm.Close() }()

	tests := []struct {
		name   string
		source string
	}{
		{name: "syntax error", source: "function ("},
		{name: "wrapper escape", source: "}); (function () {"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ok, err := vm.AddModule("bad", tt.source)
			if err != nil {
				t.Fatalf("AddModule() error = %v", err)
			}
			if ok {
				t.Error("AddModule() = true, want false")
			}
		})
	}
}

func TestRequireMissingModule(t *testing.T) {
	vm := New()
	defer func() { _ = vm.Close() }()

	_, _ = vm.Run(`try { require("nope") } catch (e) { print("caught", e.message) }`)
	out, _ := vm.ReadOutput()
	if !strings.Contains(out.Stdout, `module "nope" not found`) {
		t.Errorf("stdout = %q, want not-found message", out.Stdout)
	}
}

func TestGlobals(t *testing.T) {
	vm := New()
	defer func() { _ = vm.Close() }()

	_, _ = vm.Run("zeta = 1; alpha = 2")
	names, err := vm.Globals()
	if err != nil {
		t.Fatalf("Globals() error = %v", err)
	}
	index := map[string]int{}
	for i, n := range names {
		index[n] = i
	}
	for _, want := range []string{"alpha", "zeta", "print", "require", "JSON"} {
		if _, ok := index[want]; !ok {
			t.Errorf("Globals() missing %q", want)
		}
	}
	if index["alpha"] > index["zeta"] {
		t.Error("Globals() not sorted")
	}
}

func TestInterruptBeforeRun(t *testing.T) {
	vm := New()
	defer func() { _ = vm.Close() }()

	vm.Interrupt("stop")
	prog, ok := vm.Compile("<test>", "for (;;) {}")
	if !ok {
		t.Fatal("Compile() failed")
	}
	err := vm.Execute(prog)
	var se *ScriptError
	if !errors.As(err, &se) || !se.Interrupted {
		t.Fatalf("Execute() error = %v, want interrupted ScriptError", err)
	}

	vm.ClearInterrupt()
	if ok, _ := vm.Run("x = 1"); !ok {
		t.Error("Run() after ClearInterrupt failed")
	}
	if got, _, _ := vm.GetGlobal("x"); got != "1" {
		t.Errorf("x = %s, want 1", got)
	}
}

func TestClose(t *testing.T) {
	vm := New()
	if err := vm.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if err := vm.Close(); err != nil {
		t.Errorf("second Close() error = %v, want nil", err)
	}

	if _, err := vm.Run("1"); !errors.Is(err, ErrClosed) {
		t.Errorf("Run() error = %v, want ErrClosed", err)
	}
	if _, _, err := vm.Eval("1"); !errors.Is(err, ErrClosed) {
		t.Errorf("Eval() error = %v, want ErrClosed", err)
	}
	if _, err := vm.ReadOutput(); !errors.Is(err, ErrClosed) {
		t.Errorf("ReadOutput() error = %v, want ErrClosed", err)
	}
	if _, err := vm.AddModule("m", ""); !errors.Is(err, ErrClosed) {
		t.Errorf("AddModule() error = %v, want ErrClosed", err)
	}
	if _, _, err := vm.GetGlobal("a"); !errors.Is(err, ErrClosed) {
		t.Errorf("GetGlobal() error = %v, want ErrClosed", err)
	}
}
