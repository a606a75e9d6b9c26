// SPDX-License-Identifier: AGPL-3.0-or-later
// Copyright (C) 2026 aPlane Authors

package rpc

import (
	"encoding/json"
	"strings"
	"testing"
)

func TestRequestValidate(t *testing.T) {
	tests := []struct {
		name    string
		request Request
		wantErr bool
		errMsg  string
	}{
		{
			name:    "valid request with numeric id",
			request: Request{Jsonrpc: "2.0", Method: "input", ID: 1.0},
		},
		{
			name:    "valid request with string id",
			request: Request{Jsonrpc: "2.0", Method: "input", ID: "req-123"},
		},
		{
			name:    "valid notification (nil id)",
			request: Request{Jsonrpc: "2.0", Method: "log"},
		},
		{
			name:    "invalid jsonrpc version",
			request: Request{Jsonrpc: "1.0", Method: "input", ID: 1.0},
			wantErr: true,
			errMsg:  "invalid JSON-RPC version",
		},
		{
			name:    "empty method",
			request: Request{Jsonrpc: "2.0", ID: 1.0},
			wantErr: true,
			errMsg:  "method is required",
		},
		{
			name:    "invalid id type (bool)",
			request: Request{Jsonrpc: "2.0", Method: "input", ID: true},
			wantErr: true,
			errMsg:  "invalid ID type",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.request.Validate()
			if (err != nil) != tt.wantErr {
				t.Fatalf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr && !strings.Contains(err.Error(), tt.errMsg) {
				t.Errorf("Validate() error = %q, want it to contain %q", err.Error(), tt.errMsg)
			}
		})
	}
}

func TestDecodeRequest(t *testing.T) {
	tests := []struct {
		name       string
		text       string
		wantCode   int
		wantMethod string
		wantID     interface{}
		wantParams string
	}{
		{
			name:       "positional params",
			text:       `{"jsonrpc":"2.0","method":"input","params":["name? "],"id":7}`,
			wantMethod: "input",
			wantID:     7.0,
			wantParams: `["name? "]`,
		},
		{
			name:       "null params dropped",
			text:       `{"jsonrpc":"2.0","method":"ping","params":null,"id":"a"}`,
			wantMethod: "ping",
			wantID:     "a",
		},
		{
			name:     "not json",
			text:     `pi`,
			wantCode: ParseError,
		},
		{
			name:     "wrong version keeps id",
			text:     `{"jsonrpc":"1.0","method":"ping","id":3}`,
			wantCode: InvalidRequest,
			wantID:   3.0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req, rerr := DecodeRequest(tt.text)
			if tt.wantCode != 0 {
				if rerr == nil || rerr.Code != tt.wantCode {
					t.Fatalf("DecodeRequest() error = %v, want code %d", rerr, tt.wantCode)
				}
				if req != nil && req.ID != tt.wantID {
					t.Errorf("ID = %v, want %v", req.ID, tt.wantID)
				}
				return
			}
			if rerr != nil {
				t.Fatalf("DecodeRequest() error = %v", rerr)
			}
			if req.Method != tt.wantMethod {
				t.Errorf("Method = %q, want %q", req.Method, tt.wantMethod)
			}
			if req.ID != tt.wantID {
				t.Errorf("ID = %v, want %v", req.ID, tt.wantID)
			}
			if tt.wantParams == "" {
				if req.Params != nil {
					t.Errorf("Params = %v, want nil", req.Params)
				}
				return
			}
			raw, ok := req.Params.(json.RawMessage)
			if !ok || string(raw) != tt.wantParams {
				t.Errorf("Params = %v, want %s", req.Params, tt.wantParams)
			}
		})
	}
}

func TestRequestParseParams(t *testing.T) {
	tests := []struct {
		name   string
		params interface{}
		want   []string
	}{
		{name: "raw message", params: json.RawMessage(`["a","b"]`), want: []string{"a", "b"}},
		{name: "go value", params: []string{"c"}, want: []string{"c"}},
		{name: "absent", params: nil, want: nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := NewRequest("m", tt.params, 1.0)
			var got []string
			if err := req.ParseParams(&got); err != nil {
				t.Fatalf("ParseParams() error = %v", err)
			}
			if strings.Join(got, ",") != strings.Join(tt.want, ",") {
				t.Errorf("ParseParams() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestResultResponse(t *testing.T) {
	resp, err := ResultResponse(4.0, map[string]int{"n": 1})
	if err != nil {
		t.Fatalf("ResultResponse() error = %v", err)
	}
	if got, want := resp.String(), `{"jsonrpc":"2.0","result":{"n":1},"id":4}`; got != want {
		t.Errorf("String() = %s, want %s", got, want)
	}

	var decoded map[string]int
	if err := resp.ParseResult(&decoded); err != nil || decoded["n"] != 1 {
		t.Errorf("ParseResult() = %v, %v", decoded, err)
	}

	if _, err := ResultResponse(1.0, func() {}); err == nil {
		t.Error("ResultResponse() with a func should fail")
	}
}

func TestErrorResponse(t *testing.T) {
	resp := ErrorResponse(nil, MethodNotFound, "method not found: x")
	if got, want := resp.String(), `{"jsonrpc":"2.0","error":{"code":-32601,"message":"method not found: x"},"id":null}`; got != want {
		t.Errorf("String() = %s, want %s", got, want)
	}
	if !resp.HasError() {
		t.Error("HasError() = false, want true")
	}
	if err := resp.ParseResult(new(interface{})); err == nil {
		t.Error("ParseResult() on an error response should fail")
	}
}

func TestErrorCodes(t *testing.T) {
	tests := []struct {
		name string
		code int
		want int
	}{
		{"ParseError", ParseError, -32700},
		{"InvalidRequest", InvalidRequest, -32600},
		{"MethodNotFound", MethodNotFound, -32601},
		{"InvalidParams", InvalidParams, -32602},
		{"InternalError", InternalError, -32603},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.code != tt.want {
				t.Errorf("%s = %d, want %d", tt.name, tt.code, tt.want)
			}
		})
	}

	// host codes live in the implementation-defined server range
	for _, code := range []int{ServerError, BackendError, Cancelled} {
		if code > -32000 || code < -32099 {
			t.Errorf("code %d outside server error range", code)
		}
	}
}
