// SPDX-License-Identifier: AGPL-3.0-or-later
// Copyright (C) 2026 aPlane Authors

// Package rpc implements the JSON-RPC 2.0 envelopes exchanged through callouts
package rpc

import (
	"encoding/json"
	"fmt"
)

// Version is the only protocol version accepted.
const Version = "2.0"

// Request represents a JSON-RPC request sent by script code
type Request struct {
	Jsonrpc string      `json:"jsonrpc"`
	Method  string      `json:"method"`
	Params  interface{} `json:"params,omitempty"`
	ID      interface{} `json:"id"`
}

// Response represents a JSON-RPC response returned to script code
type Response struct {
	Jsonrpc string           `json:"jsonrpc"`
	Result  *json.RawMessage `json:"result,omitempty"`
	Error   *Error           `json:"error,omitempty"`
	ID      interface{}      `json:"id"`
}

// Error represents a JSON-RPC error. It doubles as a Go error so handlers
// can choose the code reported to the caller.
type Error struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

func (e *Error) Error() string {
	return fmt.Sprintf("RPC error %d: %s", e.Code, e.Message)
}

// Standard JSON-RPC error codes
const (
	ParseError     = -32700
	InvalidRequest = -32600
	MethodNotFound = -32601
	InvalidParams  = -32602
	InternalError  = -32603
)

// Host-defined error codes
const (
	// ServerError is a generic handler failure
	ServerError = -32000
	// BackendError means the forwarding backend could not answer
	BackendError = -32001
	// Cancelled means the host gave up on the request
	Cancelled = -32002
)

// NewRequest creates a new JSON-RPC request
func NewRequest(method string, params interface{}, id interface{}) *Request {
	return &Request{
		Jsonrpc: Version,
		Method:  method,
		Params:  params,
		ID:      id,
	}
}

// Errorf builds an *Error with a formatted message.
func Errorf(code int, format string, args ...interface{}) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Validate checks if a request is valid
func (r *Request) Validate() error {
	if r.Jsonrpc != Version {
		return fmt.Errorf("invalid JSON-RPC version: %s", r.Jsonrpc)
	}

	if r.Method == "" {
		return fmt.Errorf("method is required")
	}

	// ID can be null, number, or string
	if r.ID != nil {
		switch r.ID.(type) {
		case float64, string:
			// Valid
		default:
			return fmt.Errorf("invalid ID type: %T", r.ID)
		}
	}

	return nil
}

// IsNotification checks if this is a notification (no response expected)
func (r *Request) IsNotification() bool {
	return r.ID == nil
}

// ParseParams unmarshals params into the provided interface
func (r *Request) ParseParams(v interface{}) error {
	if r.Params == nil {
		return nil
	}

	var bytes []byte
	switch p := r.Params.(type) {
	case json.RawMessage:
		bytes = p
	default:
		var err error
		if bytes, err = json.Marshal(r.Params); err != nil {
			return fmt.Errorf("failed to marshal params: %w", err)
		}
	}

	if err := json.Unmarshal(bytes, v); err != nil {
		return fmt.Errorf("failed to unmarshal params: %w", err)
	}

	return nil
}

// ParseResult unmarshals the result into the provided interface
func (r *Response) ParseResult(v interface{}) error {
	if r.Result == nil {
		return fmt.Errorf("no result in response")
	}

	if err := json.Unmarshal(*r.Result, v); err != nil {
		return fmt.Errorf("failed to unmarshal result: %w", err)
	}

	return nil
}

// HasError checks if the response contains an error
func (r *Response) HasError() bool {
	return r.Error != nil
}

// ResultResponse wraps v as the successful result for id.
func ResultResponse(id interface{}, v interface{}) (*Response, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal result: %w", err)
	}
	raw := json.RawMessage(data)
	return &Response{Jsonrpc: Version, Result: &raw, ID: id}, nil
}

// ErrorResponse builds an error response for id.
func ErrorResponse(id interface{}, code int, message string) *Response {
	return &Response{
		Jsonrpc: Version,
		Error:   &Error{Code: code, Message: message},
		ID:      id,
	}
}

// String encodes the response as one line of JSON. An unencodable response
// degrades to an InternalError envelope so callers always get valid text.
func (r *Response) String() string {
	data, err := json.Marshal(r)
	if err != nil {
		data, _ = json.Marshal(ErrorResponse(nil, InternalError, "failed to encode response"))
	}
	return string(data)
}

// rawRequest is the decoding shape for inbound requests; params stay raw
// until a handler asks for them.
type rawRequest struct {
	Jsonrpc string          `json:"jsonrpc"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
	ID      interface{}     `json:"id"`
}

// DecodeRequest parses one request. A syntax error yields a ParseError and
// an envelope problem an InvalidRequest; in both cases the returned id is
// whatever could be recovered (possibly nil).
func DecodeRequest(text string) (*Request, *Error) {
	var raw rawRequest
	if err := json.Unmarshal([]byte(text), &raw); err != nil {
		return nil, Errorf(ParseError, "parse error: %v", err)
	}
	req := &Request{Jsonrpc: raw.Jsonrpc, Method: raw.Method, ID: raw.ID}
	if len(raw.Params) > 0 && string(raw.Params) != "null" {
		req.Params = raw.Params
	}
	if err := req.Validate(); err != nil {
		return req, Errorf(InvalidRequest, "invalid request: %v", err)
	}
	return req, nil
}
