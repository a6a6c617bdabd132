// ABOUTME: Shared handling for the baseline message types every daemon answers.
// ABOUTME: Covers introspection (capabilities, message types), ping, and status.

package daemon

import (
	"github.com/signalhouse/switchboard/internal/protocol"
)

// Describe answers the baseline message types on behalf of a daemon.
// capabilities and types are the daemon's own declarations; the second return
// is false when the message type is not a baseline type and the daemon must
// handle it itself.
func Describe(b *Base, capabilities, types []string, msg Message) (*Result, bool) {
	switch msg.Type {
	case protocol.TypeGetCapabilities:
		return &Result{Success: true, Data: map[string]any{"capabilities": capabilities}}, true

	case protocol.TypeGetMessageTypes:
		return &Result{Success: true, Data: map[string]any{"types": types}}, true

	case protocol.TypePing:
		return &Result{Success: true, Data: map[string]any{"reply": "pong", "daemon": b.Name()}}, true

	case protocol.TypeGetStatus:
		snap := b.Snapshot()
		return &Result{Success: true, Data: map[string]any{
			"name":    snap.Name,
			"version": snap.Version,
			"state":   snap.State.String(),
			"uptime":  snap.Uptime.String(),
		}}, true
	}
	return nil, false
}
