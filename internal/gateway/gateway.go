// ABOUTME: Gateway orchestrator that wires config, store, hub, queue, router, and daemons.
// ABOUTME: Runs the HTTP server and owns the startup/shutdown order.

package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/signalhouse/switchboard/internal/config"
	"github.com/signalhouse/switchboard/internal/daemon"
	"github.com/signalhouse/switchboard/internal/daemons"
	"github.com/signalhouse/switchboard/internal/hub"
	"github.com/signalhouse/switchboard/internal/protocol"
	"github.com/signalhouse/switchboard/internal/router"
	"github.com/signalhouse/switchboard/internal/store"
)

const shutdownTimeout = 10 * time.Second

// Gateway orchestrates the switchboard server components.
type Gateway struct {
	config     *config.Config
	logger     *slog.Logger
	store      *store.Store
	hub        *hub.Manager
	queue      *hub.Queue
	router     *router.Router
	daemons    []daemon.Daemon
	httpServer *http.Server

	// ctx is the run context; queued generators inherit it
	ctx       context.Context
	startedAt time.Time
}

// New creates a Gateway from configuration. The store is opened and the
// component graph wired, but nothing listens until Run.
func New(cfg *config.Config, logger *slog.Logger) (*Gateway, error) {
	st, err := store.Open(cfg.Database.Path)
	if err != nil {
		return nil, fmt.Errorf("opening store: %w", err)
	}

	manager := hub.NewManager(
		cfg.Connections.MaxClients,
		cfg.Connections.HeartbeatInterval,
		cfg.Connections.HeartbeatTimeout,
		logger,
	)

	g := &Gateway{
		config: cfg,
		logger: logger.With("component", "gateway"),
		store:  st,
		hub:    manager,
		queue:  hub.NewQueue(manager.IsOpen, manager.SendToClient, logger),
		router: router.New(cfg.Routing.Preferences, logger),
	}

	g.daemons = g.buildDaemons(logger)
	manager.Subscribe(g.recordHubEvent)
	return g, nil
}

// buildDaemons constructs the daemon set in registration order: specialists
// first, the generic catch-all last.
func (g *Gateway) buildDaemons(logger *slog.Logger) []daemon.Daemon {
	render := daemons.NewRender(logger)
	diagnostics := daemons.NewDiagnostics(logger)
	ledger := daemons.NewLedger(g.store, logger)
	echo := daemons.NewEcho(logger)

	set := []daemon.Daemon{render, diagnostics, ledger, echo}
	for _, d := range set {
		if b, ok := d.(interface {
			SetHeartbeat(time.Duration, daemon.SnapshotSink)
		}); ok {
			b.SetHeartbeat(g.config.Daemons.HeartbeatInterval, g.recordHeartbeat)
		}
	}
	return set
}

// Run starts the daemons and serves HTTP until ctx is cancelled.
func (g *Gateway) Run(ctx context.Context) error {
	g.ctx = ctx
	g.startedAt = time.Now()
	g.startDaemons(ctx)

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", g.handleWebSocket)
	mux.HandleFunc("/healthz", g.handleHealthz)
	mux.HandleFunc("/status", g.handleStatus)

	g.httpServer = &http.Server{
		Addr:              g.config.Server.HTTPAddr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		g.logger.Info("http server listening", "addr", g.config.Server.HTTPAddr)
		if err := g.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		g.shutdown()
		return fmt.Errorf("http server: %w", err)
	case <-ctx.Done():
		g.logger.Info("shutdown requested")
		g.shutdown()
		return nil
	}
}

// startDaemons starts and registers every daemon. A failure affects that
// daemon only: it is logged and omitted, the rest keep going.
func (g *Gateway) startDaemons(ctx context.Context) {
	for _, d := range g.daemons {
		if err := d.Start(ctx); err != nil {
			g.logger.Error("daemon failed to start, omitting", "daemon", d.Name(), "error", err)
			continue
		}
		if err := g.router.Register(ctx, d.Name(), d); err != nil {
			g.logger.Error("daemon registration failed, omitting", "daemon", d.Name(), "error", err)
			if stopErr := d.Stop(ctx); stopErr != nil {
				g.logger.Warn("stopping unregistered daemon", "daemon", d.Name(), "error", stopErr)
			}
		}
	}
}

// shutdown tears components down in reverse dependency order: HTTP intake
// first, then clients, daemons, and finally the store.
func (g *Gateway) shutdown() {
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	g.hub.Broadcast(&protocol.Outbound{
		Type:      "server_shutdown",
		Timestamp: time.Now().UTC(),
	}, "")

	if err := g.httpServer.Shutdown(shutdownCtx); err != nil {
		g.logger.Warn("http server shutdown", "error", err)
	}

	g.hub.Shutdown()

	for i := len(g.daemons) - 1; i >= 0; i-- {
		d := g.daemons[i]
		if err := d.Stop(shutdownCtx); err != nil {
			g.logger.Warn("daemon stop failed", "daemon", d.Name(), "error", err)
		}
	}

	if err := g.store.Close(); err != nil {
		g.logger.Warn("closing store", "error", err)
	}
	g.logger.Info("gateway stopped")
}

// recordHubEvent persists hub lifecycle events to the ledger. Observers must
// not block, so the write happens off the calling goroutine.
func (g *Gateway) recordHubEvent(ev hub.Event) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()

		detail := ""
		if ev.Removed > 0 {
			detail = fmt.Sprintf("removed=%d", ev.Removed)
		}
		if err := g.store.RecordEvent(ctx, string(ev.Type), ev.ClientID, detail); err != nil {
			g.logger.Warn("recording hub event", "event", ev.Type, "error", err)
		}
	}()
}

// recordHeartbeat persists daemon heartbeat snapshots.
func (g *Gateway) recordHeartbeat(snap daemon.Snapshot) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	if err := g.store.RecordHeartbeat(ctx, snap.Name, snap.Version, snap.State.String(), snap.Uptime); err != nil {
		g.logger.Warn("recording daemon heartbeat", "daemon", snap.Name, "error", err)
	}
	g.logger.Debug("daemon heartbeat",
		"daemon", snap.Name, "state", snap.State.String(), "uptime", snap.Uptime)
}

func (g *Gateway) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain")
	fmt.Fprintln(w, "ok")
}

func (g *Gateway) handleStatus(w http.ResponseWriter, _ *http.Request) {
	status := map[string]any{
		"status":  "ok",
		"uptime":  time.Since(g.startedAt).String(),
		"clients": g.hub.Count(),
		"routing": g.router.Status(),
	}
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(status); err != nil {
		g.logger.Warn("writing status response", "error", err)
	}
}
