// ABOUTME: Echo daemon: the generic catch-all that answers echo and the baseline types.
// ABOUTME: The preference table demotes it automatically as specialists register.

package daemons

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/signalhouse/switchboard/internal/daemon"
)

// TypeEcho is the echo daemon's own message type.
const TypeEcho = "echo"

var echoCapabilities = []string{"generic"}

// Echo is the generic daemon.
type Echo struct {
	*daemon.Base
}

// NewEcho creates the echo daemon.
func NewEcho(logger *slog.Logger) *Echo {
	return &Echo{Base: daemon.NewBase("echo", "1.0.0", logger)}
}

// HandleMessage answers echo and the baseline types.
func (e *Echo) HandleMessage(_ context.Context, msg daemon.Message) (*daemon.Result, error) {
	if res, ok := daemon.Describe(e.Base, echoCapabilities, []string{TypeEcho}, msg); ok {
		return res, nil
	}

	switch msg.Type {
	case TypeEcho:
		return &daemon.Result{Success: true, Data: map[string]any{
			"echo": json.RawMessage(msg.Data),
		}}, nil
	default:
		return nil, fmt.Errorf("echo daemon cannot handle %q", msg.Type)
	}
}
