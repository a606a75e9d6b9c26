// SPDX-License-Identifier: AGPL-3.0-or-later
// Copyright (C) 2026 aPlane Authors

// Package hostapi provides the script-side host API layered on callout().
//
// Scripts see two functions:
//   - jsonrpc(method, ...params): one JSON-RPC 2.0 round trip to the host
//   - input(prompt): reads one line of interactive input from the host
package hostapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/dop251/goja"

	"github.com/aplane-algo/jsvm/internal/rpc"
	"github.com/aplane-algo/jsvm/internal/threaded"
)

// MethodInput is the method input() sends; the host answers with the line read.
const MethodInput = "input"

// Host is the context the API is installed into.
type Host interface {
	Runtime() *goja.Runtime
	Set(name string, value interface{}) error
	Callout(request string) (string, error)
}

// API provides the host bindings for one context.
type API struct {
	host    Host
	runtime *goja.Runtime
	parse   goja.Callable
	nextID  atomic.Uint64
}

// New creates the API for host. Call RegisterAll before submitting scripts.
func New(host Host) *API {
	return &API{host: host, runtime: host.Runtime()}
}

// RegisterAll registers all API functions as globals.
func (a *API) RegisterAll() error {
	jsonObj := a.runtime.Get("JSON").ToObject(a.runtime)
	parse, ok := goja.AssertFunction(jsonObj.Get("parse"))
	if !ok {
		return errors.New("JSON.parse is not callable")
	}
	a.parse = parse

	if err := a.host.Set("jsonrpc", a.jsJSONRPC); err != nil {
		return fmt.Errorf("failed to register jsonrpc: %w", err)
	}
	if err := a.host.Set("input", a.jsInput); err != nil {
		return fmt.Errorf("failed to register input: %w", err)
	}
	return nil
}

// throw raises a script Error carrying msg.
func (a *API) throw(format string, args ...interface{}) {
	panic(a.runtime.NewGoError(fmt.Errorf(format, args...)))
}

// jsJSONRPC performs one JSON-RPC round trip.
// jsonrpc(method, ...params) - Returns the decoded result
func (a *API) jsJSONRPC(call goja.FunctionCall) goja.Value {
	if len(call.Arguments) < 1 {
		a.throw("jsonrpc() requires a method name")
	}
	params := make([]interface{}, 0, len(call.Arguments)-1)
	for _, arg := range call.Arguments[1:] {
		params = append(params, arg.Export())
	}
	return a.call("jsonrpc()", call.Arguments[0].String(), params)
}

// jsInput asks the host for one line of input.
// input(prompt) - Returns the line, without its newline
func (a *API) jsInput(call goja.FunctionCall) goja.Value {
	prompt := ""
	if len(call.Arguments) > 0 && !goja.IsUndefined(call.Arguments[0]) {
		prompt = call.Arguments[0].String()
	}
	return a.call("input()", MethodInput, []interface{}{prompt})
}

func (a *API) call(fn, method string, params []interface{}) goja.Value {
	id := a.nextID.Add(1)
	data, err := json.Marshal(rpc.NewRequest(method, params, id))
	if err != nil {
		a.throw("%s error: %v", fn, err)
	}

	text, err := a.host.Callout(string(data))
	if err != nil {
		if errors.Is(err, threaded.ErrTerminated) {
			// the pending interrupt unwinds the script
			return goja.Undefined()
		}
		a.throw("%s error: %v", fn, err)
	}

	var resp rpc.Response
	if err := json.Unmarshal([]byte(text), &resp); err != nil {
		a.throw("%s error: invalid response: %v", fn, err)
	}
	if resp.Error != nil {
		a.throw("%s error: %s", fn, resp.Error.Message)
	}
	if got, ok := resp.ID.(float64); !ok || uint64(got) != id {
		a.throw("%s error: response id %v does not match request %d", fn, resp.ID, id)
	}
	if resp.Result == nil {
		return goja.Undefined()
	}

	val, err := a.parse(goja.Undefined(), a.runtime.ToValue(string(*resp.Result)))
	if err != nil {
		a.throw("%s error: invalid result: %v", fn, err)
	}
	return val
}
