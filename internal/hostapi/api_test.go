// SPDX-License-Identifier: AGPL-3.0-or-later
// Copyright (C) 2026 aPlane Authors

package hostapi

import (
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/aplane-algo/jsvm/internal/attach"
	"github.com/aplane-algo/jsvm/internal/rpc"
	"github.com/aplane-algo/jsvm/internal/threaded"
)

func newVM(t *testing.T) *threaded.VM {
	t.Helper()
	vm := threaded.New()
	t.Cleanup(func() { _ = vm.Close() })
	if err := New(vm).RegisterAll(); err != nil {
		t.Fatalf("RegisterAll() error = %v", err)
	}
	return vm
}

func runAttached(t *testing.T, vm *threaded.VM, source string, d attach.Dispatcher) {
	t.Helper()
	if ok, err := vm.ExecAsync(source); err != nil || !ok {
		out, _ := vm.ReadOutput()
		t.Fatalf("ExecAsync() = %v, %v (stderr %q)", ok, err, out.Stderr)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := attach.Attach(ctx, vm, d); err != nil {
		t.Fatalf("Attach() error = %v", err)
	}
}

func TestJSONRPC(t *testing.T) {
	mux := rpc.NewMux(nil)
	mux.Handle("add", func(_ context.Context, params json.RawMessage) (interface{}, error) {
		var nums []float64
		if err := json.Unmarshal(params, &nums); err != nil {
			return nil, rpc.Errorf(rpc.InvalidParams, "add expects numbers")
		}
		sum := 0.0
		for _, n := range nums {
			sum += n
		}
		return sum, nil
	})
	mux.Handle("user", func(context.Context, json.RawMessage) (interface{}, error) {
		return map[string]interface{}{"name": "ada", "tags": []string{"x"}}, nil
	})
	mux.Handle("nothing", func(context.Context, json.RawMessage) (interface{}, error) {
		return nil, nil
	})

	tests := []struct {
		name   string
		source string
		global string
		want   string
	}{
		{
			name:   "numeric result",
			source: `sum = jsonrpc("add", 1, 2, 3.5)`,
			global: "sum",
			want:   "6.5",
		},
		{
			name:   "object result is a plain object",
			source: `var u = jsonrpc("user"); kind = Object.getPrototypeOf(u) === Object.prototype && u.tags.length`,
			global: "kind",
			want:   "1",
		},
		{
			name:   "null result",
			source: `res = jsonrpc("nothing")`,
			global: "res",
			want:   "null",
		},
		{
			name:   "rpc error is thrown",
			source: `try { jsonrpc("add", "a", {}) } catch (e) { msg = e.message }`,
			global: "msg",
			want:   `"jsonrpc() error: add expects numbers"`,
		},
		{
			name:   "unknown method",
			source: `try { jsonrpc("missing") } catch (e) { msg = e.message }`,
			global: "msg",
			want:   `"jsonrpc() error: method not found: missing"`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			vm := newVM(t)
			runAttached(t, vm, tt.source, mux)

			got, ok, err := vm.GetGlobal(tt.global)
			if err != nil || !ok {
				out, _ := vm.ReadOutput()
				t.Fatalf("GetGlobal(%q) = %v, %v (stderr %q)", tt.global, ok, err, out.Stderr)
			}
			if got != tt.want {
				t.Errorf("%s = %s, want %s", tt.global, got, tt.want)
			}
		})
	}
}

func TestInput(t *testing.T) {
	vm := newVM(t)

	var prompts []string
	mux := rpc.NewMux(nil)
	mux.Handle(MethodInput, func(_ context.Context, params json.RawMessage) (interface{}, error) {
		var args []string
		_ = json.Unmarshal(params, &args)
		prompts = append(prompts, args...)
		return "alice", nil
	})

	runAttached(t, vm, `name = input("who? "); again = input()`, mux)

	if got, _, _ := vm.GetGlobal("name"); got != `"alice"` {
		t.Errorf("name = %s, want \"alice\"", got)
	}
	if len(prompts) != 2 || prompts[0] != "who? " || prompts[1] != "" {
		t.Errorf("prompts = %q, want [\"who? \" \"\"]", prompts)
	}
}

func TestJSONRPCBadResponse(t *testing.T) {
	vm := newVM(t)

	tests := []struct {
		name     string
		response string
		wantMsg  string
	}{
		{name: "not json", response: "pong", wantMsg: "invalid response"},
		{name: "wrong id", response: `{"jsonrpc":"2.0","result":1,"id":99}`, wantMsg: "does not match"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := attach.DispatchFunc(func(context.Context, attach.Target, string) string { return tt.response })
			runAttached(t, vm, `try { jsonrpc("x") } catch (e) { msg = e.message }`, d)

			got, _, _ := vm.GetGlobal("msg")
			if !strings.Contains(got, tt.wantMsg) {
				t.Errorf("msg = %s, want it to contain %q", got, tt.wantMsg)
			}
			if err := vm.ResetState(); err != nil {
				t.Fatalf("ResetState() error = %v", err)
			}
		})
	}
}

func TestJSONRPCOutsideAsyncRun(t *testing.T) {
	vm := newVM(t)

	if _, err := vm.Run(`try { jsonrpc("x") } catch (e) { print(e.message) }`); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	out, _ := vm.ReadOutput()
	if !strings.Contains(out.Stdout, "only available") {
		t.Errorf("stdout = %q, want callout unavailable message", out.Stdout)
	}
}
