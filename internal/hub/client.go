// ABOUTME: Client tracks one live connection: identity, activity, and its state machine.
// ABOUTME: States only move forward: connecting -> connected -> disconnecting -> disconnected.

package hub

import (
	"sync"
	"time"
)

type clientState int

const (
	stateConnecting clientState = iota
	stateConnected
	stateDisconnecting
	stateDisconnected
)

// Client is one live connection owned by the Manager.
type Client struct {
	ID          string
	Transport   Transport
	Metadata    map[string]any
	ConnectedAt time.Time

	mu           sync.Mutex
	state        clientState
	lastActivity time.Time
}

func newClient(id string, t Transport, metadata map[string]any) *Client {
	now := time.Now()
	return &Client{
		ID:           id,
		Transport:    t,
		Metadata:     metadata,
		ConnectedAt:  now,
		state:        stateConnecting,
		lastActivity: now,
	}
}

// Touch records traffic on the connection.
func (c *Client) Touch() {
	c.mu.Lock()
	c.lastActivity = time.Now()
	c.mu.Unlock()
}

// LastActivity returns the time of the most recent traffic.
func (c *Client) LastActivity() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastActivity
}

// Connected reports whether the client is in the connected state.
func (c *Client) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state == stateConnected
}

func (c *Client) setState(s clientState) {
	c.mu.Lock()
	// never re-enter connected once the client has left it
	if s > c.state {
		c.state = s
	}
	c.mu.Unlock()
}
