// ABOUTME: Base implements the daemon lifecycle state machine and heartbeat emission.
// ABOUTME: Concrete daemons embed *Base and supply start/stop hooks plus HandleMessage.

package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// ErrNotStopped indicates Start was called while the daemon was not stopped.
var ErrNotStopped = errors.New("daemon is not stopped")

// Snapshot is a periodic health report emitted by a running daemon.
// It describes process-level health and is independent of any transport
// heartbeat the connection layer runs.
type Snapshot struct {
	Name    string
	Version string
	State   State
	Uptime  time.Duration
	Time    time.Time
}

// SnapshotSink receives heartbeat snapshots from a running daemon.
type SnapshotSink func(Snapshot)

// Base owns a daemon's state machine and heartbeat loop.
type Base struct {
	name    string
	version string
	logger  *slog.Logger

	startHook func(ctx context.Context) error
	stopHook  func(ctx context.Context) error

	beatInterval time.Duration
	sink         SnapshotSink

	mu        sync.Mutex
	state     State
	startedAt time.Time
	stopBeat  chan struct{}
}

// NewBase creates a Base in the stopped state.
func NewBase(name, version string, logger *slog.Logger) *Base {
	return &Base{
		name:    name,
		version: version,
		logger:  logger.With("daemon", name),
		state:   StateStopped,
	}
}

// SetHooks installs optional start and stop hooks. Either may be nil.
func (b *Base) SetHooks(start, stop func(ctx context.Context) error) {
	b.startHook = start
	b.stopHook = stop
}

// SetHeartbeat installs the heartbeat interval and sink. With a zero interval
// or nil sink, no heartbeats are emitted.
func (b *Base) SetHeartbeat(interval time.Duration, sink SnapshotSink) {
	b.beatInterval = interval
	b.sink = sink
}

// Name returns the daemon name.
func (b *Base) Name() string { return b.name }

// Version returns the daemon version.
func (b *Base) Version() string { return b.version }

// State returns the current lifecycle state.
func (b *Base) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Uptime returns the time since the daemon entered running, or zero if it never has.
func (b *Base) Uptime() time.Duration {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.startedAt.IsZero() || b.state != StateRunning {
		return 0
	}
	return time.Since(b.startedAt)
}

// Start transitions stopped -> starting -> running, running the start hook in
// between. A hook failure leaves the daemon in the terminal failed state.
func (b *Base) Start(ctx context.Context) error {
	b.mu.Lock()
	if b.state != StateStopped {
		state := b.state
		b.mu.Unlock()
		return fmt.Errorf("starting %s from %s: %w", b.name, state, ErrNotStopped)
	}
	b.state = StateStarting
	b.mu.Unlock()

	if b.startHook != nil {
		if err := b.startHook(ctx); err != nil {
			b.mu.Lock()
			b.state = StateFailed
			b.mu.Unlock()
			b.logger.Error("daemon failed to start", "error", err)
			return fmt.Errorf("starting %s: %w", b.name, err)
		}
	}

	b.mu.Lock()
	b.state = StateRunning
	b.startedAt = time.Now()
	if b.beatInterval > 0 && b.sink != nil {
		b.stopBeat = make(chan struct{})
		go b.heartbeatLoop(b.stopBeat)
	}
	b.mu.Unlock()

	b.logger.Info("daemon started", "version", b.version)
	return nil
}

// Stop transitions running -> stopping -> stopped. Whatever the stop hook does,
// the daemon ends up stopped; the hook error is still returned.
func (b *Base) Stop(ctx context.Context) error {
	b.mu.Lock()
	if b.state == StateStopped || b.state == StateFailed {
		b.mu.Unlock()
		return nil
	}
	b.state = StateStopping
	if b.stopBeat != nil {
		close(b.stopBeat)
		b.stopBeat = nil
	}
	b.mu.Unlock()

	var hookErr error
	if b.stopHook != nil {
		hookErr = b.stopHook(ctx)
	}

	b.mu.Lock()
	b.state = StateStopped
	b.startedAt = time.Time{}
	b.mu.Unlock()

	if hookErr != nil {
		b.logger.Warn("daemon stop hook failed", "error", hookErr)
		return fmt.Errorf("stopping %s: %w", b.name, hookErr)
	}
	b.logger.Info("daemon stopped")
	return nil
}

// Snapshot reports the daemon's current health.
func (b *Base) Snapshot() Snapshot {
	b.mu.Lock()
	defer b.mu.Unlock()

	var uptime time.Duration
	if !b.startedAt.IsZero() && b.state == StateRunning {
		uptime = time.Since(b.startedAt)
	}
	return Snapshot{
		Name:    b.name,
		Version: b.version,
		State:   b.state,
		Uptime:  uptime,
		Time:    time.Now().UTC(),
	}
}

func (b *Base) heartbeatLoop(stop <-chan struct{}) {
	ticker := time.NewTicker(b.beatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			b.sink(b.Snapshot())
		}
	}
}
