// SPDX-License-Identifier: AGPL-3.0-or-later
// Copyright (C) 2026 aPlane Authors

package rpc

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"testing"
	"time"
)

// serveEcho answers every request on r with its params as the result, or an
// error for method "boom". It stops when r is closed.
func serveEcho(r io.Reader, w io.Writer) {
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		req, rerr := DecodeRequest(scanner.Text())
		if rerr != nil || req.IsNotification() {
			continue
		}
		var resp *Response
		switch req.Method {
		case "boom":
			resp = ErrorResponse(req.ID, ServerError, "boom")
		case "hang":
			continue
		default:
			resp, _ = ResultResponse(req.ID, req.Params)
		}
		fmt.Fprintln(w, resp.String())
	}
}

func newPipeClient(t *testing.T) *Client {
	t.Helper()
	reqR, reqW := io.Pipe()
	respR, respW := io.Pipe()
	go func() {
		serveEcho(reqR, respW)
		_ = respW.Close()
	}()

	c := NewClient(respR, reqW)
	c.Start()
	t.Cleanup(func() {
		_ = reqW.Close()
		c.Close()
	})
	return c
}

func TestClientCall(t *testing.T) {
	c := newPipeClient(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var got []string
	if err := c.Call(ctx, "echo", []string{"a", "b"}, &got); err != nil {
		t.Fatalf("Call() error = %v", err)
	}
	if len(got) != 2 || got[0] != "a" || got[1] != "b" {
		t.Errorf("Call() result = %v, want [a b]", got)
	}

	err := c.Call(ctx, "boom", nil, nil)
	var rpcErr *Error
	if !errors.As(err, &rpcErr) || rpcErr.Code != ServerError {
		t.Errorf("Call(boom) error = %v, want ServerError", err)
	}
}

func TestClientCallCancelled(t *testing.T) {
	c := newPipeClient(t)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	if err := c.Call(ctx, "hang", nil, nil); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Call(hang) error = %v, want context.DeadlineExceeded", err)
	}
}

func TestClientClosedByPeer(t *testing.T) {
	reqR, reqW := io.Pipe()
	respR, respW := io.Pipe()
	c := NewClient(respR, reqW)
	c.Start()

	// swallow one request, then hang up
	go func() {
		_, _ = bufio.NewReader(reqR).ReadString('\n')
		_ = respW.Close()
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := c.Call(ctx, "echo", nil, nil); !errors.Is(err, ErrClientClosed) {
		t.Errorf("Call() error = %v, want ErrClientClosed", err)
	}
	if err := c.Call(ctx, "echo", nil, nil); !errors.Is(err, ErrClientClosed) {
		t.Errorf("Call() after close error = %v, want ErrClientClosed", err)
	}
}

// TestHelperProcess is not a real test; it is the backend binary for
// TestBackend when re-executed with JSVM_HELPER_BACKEND=1.
func TestHelperProcess(t *testing.T) {
	if os.Getenv("JSVM_HELPER_BACKEND") != "1" {
		return
	}
	fmt.Fprintln(os.Stderr, "helper backend ready")
	serveEcho(os.Stdin, os.Stdout)
	os.Exit(0)
}

func TestBackend(t *testing.T) {
	t.Setenv("JSVM_HELPER_BACKEND", "1")
	b, err := StartBackend([]string{os.Args[0], "-test.run=^TestHelperProcess$"}, nil)
	if err != nil {
		t.Fatalf("StartBackend() error = %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	text := b.Dispatch(ctx, nil, `{"jsonrpc":"2.0","method":"echo","params":["x"],"id":"caller-1"}`)
	var resp Response
	if err := json.Unmarshal([]byte(text), &resp); err != nil {
		t.Fatalf("Dispatch() = %q: %v", text, err)
	}
	if resp.ID != "caller-1" {
		t.Errorf("ID = %v, want caller-1", resp.ID)
	}
	if resp.Result == nil || string(*resp.Result) != `["x"]` {
		t.Errorf("Result = %s, want [\"x\"]", resp.Result)
	}

	text = b.Dispatch(ctx, nil, `{"jsonrpc":"2.0","method":"boom","id":2}`)
	if err := json.Unmarshal([]byte(text), &resp); err != nil || resp.Error == nil || resp.Error.Code != ServerError {
		t.Errorf("Dispatch(boom) = %s", text)
	}

	if err := b.Stop(); err != nil {
		t.Errorf("Stop() error = %v", err)
	}
}

func TestStartBackendEmpty(t *testing.T) {
	if _, err := StartBackend(nil, nil); err == nil {
		t.Error("StartBackend(nil) error = nil, want error")
	}
}
