// ABOUTME: Lifecycle event notification for the hub: connect, disconnect, cleanup.
// ABOUTME: Subscribers are an explicit, enumerable list, not an ambient emitter.

package hub

import "time"

// EventType identifies a hub lifecycle event.
type EventType string

const (
	EventClientConnected    EventType = "client_connected"
	EventClientDisconnected EventType = "client_disconnected"
	EventHeartbeatCleanup   EventType = "heartbeat_cleanup"
	EventShutdown           EventType = "shutdown"
)

// Event describes one hub lifecycle event.
type Event struct {
	Type     EventType
	ClientID string
	// Removed is the number of connections evicted, set on heartbeat cleanup.
	Removed int
	Time    time.Time
}

// Subscribe registers an observer for hub lifecycle events. Observers are
// invoked synchronously and must not block.
func (m *Manager) Subscribe(fn func(Event)) {
	m.obsMu.Lock()
	m.observers = append(m.observers, fn)
	m.obsMu.Unlock()
}

func (m *Manager) emit(ev Event) {
	ev.Time = time.Now().UTC()

	m.obsMu.Lock()
	observers := make([]func(Event), len(m.observers))
	copy(observers, m.observers)
	m.obsMu.Unlock()

	for _, fn := range observers {
		fn(ev)
	}
}
