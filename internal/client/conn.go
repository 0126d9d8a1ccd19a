// Package client implements the streaming protocol client for the agent
// gateway: connection lifecycle, keepalive, inbound event routing, and
// reassembly of streamed replies into finalized conversation messages.
package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"sync"

	"github.com/coder/websocket"
)

// ErrNotConnected is returned for sends attempted against a connection that
// is not open. Sends are rejected at the call site, never attempted against
// a dead handle.
var ErrNotConnected = errors.New("not connected")

// ConnState is the lifecycle state of the gateway connection.
type ConnState int

const (
	// StateConnecting means the dial is in progress.
	StateConnecting ConnState = iota
	// StateOpen means the connection is usable.
	StateOpen
	// StateClosed means the connection ended normally.
	StateClosed
	// StateErrored means the connection ended abnormally. Terminal: there
	// is no automatic reconnect, the caller must re-initiate.
	StateErrored
)

func (s ConnState) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateClosed:
		return "closed"
	case StateErrored:
		return "errored"
	default:
		return "unknown"
	}
}

// Conn owns one duplex channel to the gateway.
type Conn struct {
	mu    sync.Mutex
	ws    *websocket.Conn
	state ConnState
}

// Dial opens a connection to the gateway with the bearer token attached as
// connection-establishment metadata (a query parameter), not a frame field.
func Dial(ctx context.Context, gatewayURL, token string) (*Conn, error) {
	u, err := url.Parse(gatewayURL)
	if err != nil {
		return nil, fmt.Errorf("parse gateway url: %w", err)
	}
	q := u.Query()
	q.Set("token", token)
	u.RawQuery = q.Encode()

	ws, _, err := websocket.Dial(ctx, u.String(), nil) //nolint:bodyclose // handled by websocket library
	if err != nil {
		return nil, fmt.Errorf("dial gateway: %w", err)
	}
	// Agent replies can run well past the library default read limit.
	ws.SetReadLimit(1 << 20)

	return &Conn{ws: ws, state: StateOpen}, nil
}

// State returns the connection lifecycle state.
func (c *Conn) State() ConnState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// WriteJSON sends a command frame. Rejected without touching the transport
// when the connection is not open.
func (c *Conn) WriteJSON(ctx context.Context, v any) error {
	c.mu.Lock()
	if c.state != StateOpen {
		c.mu.Unlock()
		return fmt.Errorf("%w: connection %s", ErrNotConnected, c.state)
	}
	ws := c.ws
	c.mu.Unlock()

	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode frame: %w", err)
	}
	if err := ws.Write(ctx, websocket.MessageText, data); err != nil {
		c.markErrored()
		return fmt.Errorf("write frame: %w", err)
	}
	return nil
}

// Read returns the next inbound frame. On error the connection transitions
// to closed or errored and no further reads are valid.
func (c *Conn) Read(ctx context.Context) ([]byte, error) {
	c.mu.Lock()
	ws := c.ws
	c.mu.Unlock()

	_, data, err := ws.Read(ctx)
	if err != nil {
		if websocket.CloseStatus(err) == websocket.StatusNormalClosure {
			c.markClosed()
		} else {
			c.markErrored()
		}
		return nil, err
	}
	return data, nil
}

// Close tears the connection down. Idempotent.
func (c *Conn) Close() error {
	c.mu.Lock()
	if c.state == StateClosed || c.state == StateErrored {
		c.mu.Unlock()
		return nil
	}
	c.state = StateClosed
	ws := c.ws
	c.mu.Unlock()

	if err := ws.Close(websocket.StatusNormalClosure, "client closed"); err != nil {
		return fmt.Errorf("close connection: %w", err)
	}
	return nil
}

func (c *Conn) markClosed() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == StateOpen || c.state == StateConnecting {
		c.state = StateClosed
	}
}

func (c *Conn) markErrored() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == StateOpen || c.state == StateConnecting {
		c.state = StateErrored
	}
}
