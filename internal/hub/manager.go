// ABOUTME: Manager is the sole owner of the live-client set; all delivery goes through it.
// ABOUTME: Assigns identity, tracks activity, runs the heartbeat sweep, delivers messages.

package hub

import (
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/signalhouse/switchboard/internal/protocol"
)

// ErrCapacityExceeded indicates the hub is at its configured client maximum.
// Not retried at this layer; the caller must back off.
var ErrCapacityExceeded = errors.New("client capacity exceeded")

// ErrShuttingDown indicates the hub no longer accepts clients.
var ErrShuttingDown = errors.New("hub is shutting down")

// Manager coordinates all live client connections.
type Manager struct {
	maxClients        int
	heartbeatInterval time.Duration
	heartbeatTimeout  time.Duration
	logger            *slog.Logger

	mu        sync.RWMutex
	clients   map[string]*Client
	sweepStop chan struct{}
	closed    bool

	obsMu     sync.Mutex
	observers []func(Event)
}

// NewManager creates a Manager. maxClients caps the live-client count;
// the sweep evicts clients quiet for longer than heartbeatTimeout.
func NewManager(maxClients int, heartbeatInterval, heartbeatTimeout time.Duration, logger *slog.Logger) *Manager {
	return &Manager{
		maxClients:        maxClients,
		heartbeatInterval: heartbeatInterval,
		heartbeatTimeout:  heartbeatTimeout,
		logger:            logger.With("component", "hub"),
		clients:           make(map[string]*Client),
	}
}

// AddClient admits a new connection and returns its assigned id.
// Returns ErrCapacityExceeded at the configured maximum without mutating the registry.
func (m *Manager) AddClient(t Transport, metadata map[string]any) (string, error) {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return "", ErrShuttingDown
	}
	if len(m.clients) >= m.maxClients {
		m.mu.Unlock()
		return "", ErrCapacityExceeded
	}

	id := uuid.New().String()
	client := newClient(id, t, metadata)
	m.clients[id] = client
	total := len(m.clients)
	if total == 1 {
		m.startSweepLocked()
	}
	m.mu.Unlock()

	// Transport-level close or error means the client is gone.
	t.Subscribe(
		func() { m.RemoveClient(id) },
		func(err error) {
			m.logger.Warn("transport error", "client_id", id, "error", err)
			m.RemoveClient(id)
		},
	)
	client.setState(stateConnected)

	m.logger.Info("=== CLIENT CONNECTED ===",
		"client_id", id,
		"total_clients", total,
	)
	m.emit(Event{Type: EventClientConnected, ClientID: id})
	return id, nil
}

// RemoveClient drops a client from the registry. Idempotent; returns false if
// the id was already absent.
func (m *Manager) RemoveClient(clientID string) bool {
	m.mu.Lock()
	client, ok := m.clients[clientID]
	if !ok {
		m.mu.Unlock()
		return false
	}
	client.setState(stateDisconnecting)
	delete(m.clients, clientID)
	total := len(m.clients)
	if total == 0 {
		m.stopSweepLocked()
	}
	m.mu.Unlock()

	if err := client.Transport.Close(); err != nil {
		m.logger.Debug("transport close failed", "client_id", clientID, "error", err)
	}
	client.setState(stateDisconnected)

	m.logger.Info("=== CLIENT DISCONNECTED ===",
		"client_id", clientID,
		"total_clients", total,
	)
	m.emit(Event{Type: EventClientDisconnected, ClientID: clientID})
	return true
}

// GetClient returns the client with the given id.
func (m *Manager) GetClient(clientID string) (*Client, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	client, ok := m.clients[clientID]
	return client, ok
}

// IsOpen reports whether the client exists and its transport accepts sends.
// Used by the message queue as its "still open" check.
func (m *Manager) IsOpen(clientID string) bool {
	client, ok := m.GetClient(clientID)
	return ok && client.Connected() && client.Transport.Open()
}

// Touch records inbound traffic for a client.
func (m *Manager) Touch(clientID string) {
	if client, ok := m.GetClient(clientID); ok {
		client.Touch()
	}
}

// Count returns the number of live clients.
func (m *Manager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.clients)
}

// SendToClient delivers one message to one client. Returns false if the client
// is absent or its transport is not open. A transport-level send failure is
// treated as a disconnect: the client is removed and false is returned.
func (m *Manager) SendToClient(clientID string, msg *protocol.Outbound) bool {
	client, ok := m.GetClient(clientID)
	if !ok || !client.Transport.Open() {
		return false
	}

	data, err := json.Marshal(msg)
	if err != nil {
		m.logger.Error("marshaling outbound message", "client_id", clientID, "error", err)
		return false
	}

	if err := client.Transport.Send(data); err != nil {
		m.logger.Warn("send failed, removing client", "client_id", clientID, "error", err)
		m.RemoveClient(clientID)
		return false
	}
	client.Touch()
	return true
}

// Broadcast delivers a message to every open client except excludeClientID.
// A send failure removes that client but never aborts delivery to the rest.
// Returns the number of successful deliveries.
func (m *Manager) Broadcast(msg *protocol.Outbound, excludeClientID string) int {
	data, err := json.Marshal(msg)
	if err != nil {
		m.logger.Error("marshaling broadcast message", "error", err)
		return 0
	}

	m.mu.RLock()
	targets := make([]*Client, 0, len(m.clients))
	for _, client := range m.clients {
		if client.ID == excludeClientID {
			continue
		}
		targets = append(targets, client)
	}
	m.mu.RUnlock()

	sent := 0
	var failed []string
	for _, client := range targets {
		if !client.Transport.Open() {
			continue
		}
		if err := client.Transport.Send(data); err != nil {
			m.logger.Warn("broadcast send failed", "client_id", client.ID, "error", err)
			failed = append(failed, client.ID)
			continue
		}
		client.Touch()
		sent++
	}
	for _, id := range failed {
		m.RemoveClient(id)
	}
	return sent
}

// Shutdown stops the sweep, closes every transport, and clears the registry.
// Process teardown only, not per-session.
func (m *Manager) Shutdown() {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.closed = true
	m.stopSweepLocked()
	clients := m.clients
	m.clients = make(map[string]*Client)
	m.mu.Unlock()

	for _, client := range clients {
		client.setState(stateDisconnecting)
		if err := client.Transport.Close(); err != nil {
			m.logger.Debug("transport close failed", "client_id", client.ID, "error", err)
		}
		client.setState(stateDisconnected)
	}

	m.logger.Info("hub shut down", "clients_closed", len(clients))
	m.emit(Event{Type: EventShutdown, Removed: len(clients)})
}

// startSweepLocked starts the heartbeat sweep. Caller holds m.mu.
func (m *Manager) startSweepLocked() {
	if m.sweepStop != nil || m.heartbeatInterval <= 0 {
		return
	}
	stop := make(chan struct{})
	m.sweepStop = stop
	go m.sweep(stop)
	m.logger.Debug("heartbeat sweep started", "interval", m.heartbeatInterval)
}

// stopSweepLocked stops the heartbeat sweep. Caller holds m.mu.
func (m *Manager) stopSweepLocked() {
	if m.sweepStop != nil {
		close(m.sweepStop)
		m.sweepStop = nil
		m.logger.Debug("heartbeat sweep stopped")
	}
}

func (m *Manager) sweep(stop <-chan struct{}) {
	ticker := time.NewTicker(m.heartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			m.sweepOnce()
		}
	}
}

// sweepOnce scans every client for inactivity or probe failure. Removal happens
// after the scan completes so the scan never skips entries.
func (m *Manager) sweepOnce() {
	m.mu.RLock()
	clients := make([]*Client, 0, len(m.clients))
	for _, client := range m.clients {
		clients = append(clients, client)
	}
	m.mu.RUnlock()

	now := time.Now()
	var stale []string
	for _, client := range clients {
		if now.Sub(client.LastActivity()) > m.heartbeatTimeout {
			m.logger.Warn("client timed out", "client_id", client.ID,
				"idle", now.Sub(client.LastActivity()))
			stale = append(stale, client.ID)
			continue
		}
		if prober, ok := client.Transport.(Prober); ok {
			if err := prober.Ping(); err != nil {
				m.logger.Warn("liveness probe failed", "client_id", client.ID, "error", err)
				stale = append(stale, client.ID)
			}
		}
	}

	for _, id := range stale {
		m.RemoveClient(id)
	}
	if len(stale) > 0 {
		m.logger.Info("heartbeat cleanup", "removed", len(stale))
		m.emit(Event{Type: EventHeartbeatCleanup, Removed: len(stale)})
	}
}
