// Package ecp implements the Editor Control Protocol client: a JSON-RPC
// 2.0 connection to the host IDE over which all editor-side tools run
// (file access, terminal execution, plan/spec/document stores).
package ecp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/coder/websocket"
)

// ErrClosed is returned for requests issued after Close.
var ErrClosed = errors.New("ecp connection closed")

// DefaultRequestTimeout bounds a single editor round-trip.
const DefaultRequestTimeout = 60 * time.Second

type rpcRequest struct {
	JSONRPC string         `json:"jsonrpc"`
	ID      int64          `json:"id"`
	Method  string         `json:"method"`
	Params  map[string]any `json:"params,omitempty"`
}

type rpcResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      int64           `json:"id"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *rpcError       `json:"error,omitempty"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *rpcError) Error() string {
	return fmt.Sprintf("ecp error %d: %s", e.Code, e.Message)
}

// Client is an id-correlated JSON-RPC client over a websocket to the host
// IDE. Safe for concurrent use; one read pump dispatches responses to the
// pending call that owns the id.
type Client struct {
	conn    *websocket.Conn
	timeout time.Duration
	logger  *slog.Logger

	mu      sync.Mutex
	nextID  int64
	pending map[int64]chan *rpcResponse
	closed  bool
}

// Dial connects to the editor's ECP endpoint and starts the read pump.
func Dial(ctx context.Context, url string, requestTimeout time.Duration) (*Client, error) {
	conn, _, err := websocket.Dial(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("ecp dial %s: %w", url, err)
	}
	c := NewClient(conn, requestTimeout)
	return c, nil
}

// NewClient wraps an accepted or dialed websocket connection.
func NewClient(conn *websocket.Conn, requestTimeout time.Duration) *Client {
	if requestTimeout == 0 {
		requestTimeout = DefaultRequestTimeout
	}
	c := &Client{
		conn:    conn,
		timeout: requestTimeout,
		logger:  slog.With("component", "ecp"),
		pending: make(map[int64]chan *rpcResponse),
	}
	go c.readPump()
	return c
}

// Request performs one editor round-trip. The result is the decoded
// JSON-RPC result object; editor-side errors come back as Go errors.
func (c *Client) Request(ctx context.Context, method string, params map[string]any) (map[string]any, error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, ErrClosed
	}
	c.nextID++
	id := c.nextID
	done := make(chan *rpcResponse, 1)
	c.pending[id] = done
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		delete(c.pending, id)
		c.mu.Unlock()
	}()

	payload, err := json.Marshal(rpcRequest{JSONRPC: "2.0", ID: id, Method: method, Params: params})
	if err != nil {
		return nil, fmt.Errorf("ecp marshal request: %w", err)
	}

	writeCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	if err := c.conn.Write(writeCtx, websocket.MessageText, payload); err != nil {
		return nil, fmt.Errorf("ecp write %s: %w", method, err)
	}

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-time.After(c.timeout):
		return nil, fmt.Errorf("ecp request %s timed out after %s", method, c.timeout)
	case resp, ok := <-done:
		if !ok || resp == nil {
			return nil, ErrClosed
		}
		if resp.Error != nil {
			return nil, resp.Error
		}
		result := make(map[string]any)
		if len(resp.Result) > 0 {
			if err := json.Unmarshal(resp.Result, &result); err != nil {
				return nil, fmt.Errorf("ecp decode result for %s: %w", method, err)
			}
		}
		return result, nil
	}
}

func (c *Client) readPump() {
	ctx := context.Background()
	for {
		_, data, err := c.conn.Read(ctx)
		if err != nil {
			c.logger.Debug("ECP read pump stopped", "error", err)
			c.failPending()
			return
		}
		var resp rpcResponse
		if err := json.Unmarshal(data, &resp); err != nil {
			c.logger.Warn("ECP received malformed frame", "error", err)
			continue
		}
		c.mu.Lock()
		done, ok := c.pending[resp.ID]
		c.mu.Unlock()
		if !ok {
			c.logger.Debug("ECP response for unknown id", "id", resp.ID)
			continue
		}
		done <- &resp
	}
}

// failPending closes the connection state and wakes all waiters.
func (c *Client) failPending() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	for id, done := range c.pending {
		close(done)
		delete(c.pending, id)
	}
}

// Close tears down the connection. Pending requests fail with ErrClosed.
func (c *Client) Close() error {
	c.mu.Lock()
	alreadyClosed := c.closed
	c.closed = true
	c.mu.Unlock()
	if alreadyClosed {
		return nil
	}
	return c.conn.Close(websocket.StatusNormalClosure, "shutdown")
}
