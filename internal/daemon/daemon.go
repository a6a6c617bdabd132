// ABOUTME: Daemon contract: lifecycle states, the message handler interface, and results.
// ABOUTME: A daemon owns one capability and knows nothing about transport or peers.

package daemon

import (
	"context"
	"encoding/json"
)

// State is a daemon's lifecycle state.
type State int

const (
	StateStopped State = iota
	StateStarting
	StateRunning
	StateStopping
	// StateFailed is terminal and reachable only from StateStarting.
	StateFailed
)

// String returns the lowercase name of the state.
func (s State) String() string {
	switch s {
	case StateStopped:
		return "stopped"
	case StateStarting:
		return "starting"
	case StateRunning:
		return "running"
	case StateStopping:
		return "stopping"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Message is the input to a daemon handler.
type Message struct {
	Type string
	Data json.RawMessage
}

// Result is the outcome of handling one message. A Result with Success false
// carries a daemon-level failure; a returned error means the handler itself blew up.
type Result struct {
	Success bool
	Data    any
	Error   string
}

// Handler is the single entry point the router depends on.
type Handler interface {
	HandleMessage(ctx context.Context, msg Message) (*Result, error)
}

// Daemon is an independently lifecycled service unit.
type Daemon interface {
	Handler

	Name() string
	Version() string
	State() State

	// Start is rejected unless the daemon is currently stopped.
	Start(ctx context.Context) error
	// Stop from stopped is a no-op. A failing stop hook still forces the
	// daemon to stopped while the error is returned to the caller.
	Stop(ctx context.Context) error
}
