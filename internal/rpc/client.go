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
	"sync"
	"sync/atomic"
)

// ErrClientClosed is returned for calls pending when the client stops.
var ErrClientClosed = errors.New("rpc client closed")

// maxLineSize bounds one newline-delimited message.
const maxLineSize = 1024 * 1024

// Client speaks newline-delimited JSON-RPC over a reader/writer pair
type Client struct {
	scanner *bufio.Scanner

	writeMu sync.Mutex
	writer  io.Writer

	// Request tracking
	requestID uint64
	pending   map[uint64]chan *Response
	closed    bool
	mu        sync.Mutex

	lastError error
}

// NewClient creates a new JSON-RPC client. Call Start to begin reading.
func NewClient(reader io.Reader, writer io.Writer) *Client {
	scanner := bufio.NewScanner(reader)
	scanner.Buffer(make([]byte, 64*1024), maxLineSize)

	return &Client{
		scanner: scanner,
		writer:  writer,
		pending: make(map[uint64]chan *Response),
	}
}

// Do sends method with params and waits for the matching response.
// The response is returned as-is, error object included.
func (c *Client) Do(ctx context.Context, method string, params interface{}) (*Response, error) {
	id := atomic.AddUint64(&c.requestID, 1)
	respChan := make(chan *Response, 1)

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, ErrClientClosed
	}
	c.pending[id] = respChan
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		delete(c.pending, id)
		c.mu.Unlock()
	}()

	if err := c.send(NewRequest(method, params, id)); err != nil {
		return nil, fmt.Errorf("failed to send request: %w", err)
	}

	select {
	case resp, ok := <-respChan:
		if !ok {
			return nil, ErrClientClosed
		}
		return resp, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Call makes a JSON-RPC call and decodes the result into result (if non-nil).
func (c *Client) Call(ctx context.Context, method string, params interface{}, result interface{}) error {
	resp, err := c.Do(ctx, method, params)
	if err != nil {
		return err
	}
	if resp.HasError() {
		return resp.Error
	}
	if result != nil && resp.Result != nil {
		return resp.ParseResult(result)
	}
	return nil
}

// Notify sends a notification (no response expected)
func (c *Client) Notify(method string, params interface{}) error {
	return c.send(NewRequest(method, params, nil))
}

func (c *Client) send(request *Request) error {
	data, err := json.Marshal(request)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}
	data = append(data, '\n')

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if _, err := c.writer.Write(data); err != nil {
		return fmt.Errorf("failed to write request: %w", err)
	}
	return nil
}

// Start begins reading responses in the background
func (c *Client) Start() {
	go c.readLoop()
}

func (c *Client) readLoop() {
	defer c.Close()

	for c.scanner.Scan() {
		line := c.scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		var response Response
		if err := json.Unmarshal(line, &response); err != nil {
			c.setError(fmt.Errorf("failed to unmarshal response: %w", err))
			continue
		}

		// JSON numbers decode as float64
		id, ok := response.ID.(float64)
		if !ok {
			continue
		}

		// deliver under mu so Close cannot close the channel mid-send
		c.mu.Lock()
		if respChan, ok := c.pending[uint64(id)]; ok {
			select {
			case respChan <- &response:
			default:
				// duplicate response for the same id
			}
		}
		c.mu.Unlock()
	}

	if err := c.scanner.Err(); err != nil {
		c.setError(fmt.Errorf("scanner error: %w", err))
	}
}

func (c *Client) setError(err error) {
	c.mu.Lock()
	c.lastError = err
	c.mu.Unlock()
}

// LastError returns the last error encountered during reading
func (c *Client) LastError() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastError
}

// Close fails every pending call. It doesn't close the underlying reader/writer.
func (c *Client) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return
	}
	c.closed = true
	for id, ch := range c.pending {
		close(ch)
		delete(c.pending, id)
	}
}
