// ABOUTME: Capability-based message router over dynamically registered daemons.
// ABOUTME: Resolves each inbound message to exactly one daemon and shapes the envelope.

package router

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/signalhouse/switchboard/internal/daemon"
	"github.com/signalhouse/switchboard/internal/protocol"
)

// Component is the component name stamped on router error envelopes.
const Component = "DynamicMessageRouter"

// ErrNoMatchingDaemon indicates no registered daemon supports a message type.
var ErrNoMatchingDaemon = errors.New("no matching daemon")

// stater is the optional narrow interface used for status reporting. The
// router routes through daemon.Handler alone; lifecycle state is peeked at
// only for diagnostics.
type stater interface {
	State() daemon.State
}

// Registration is one daemon's entry in the registry. Immutable after
// registration except through re-registration under the same name.
type Registration struct {
	Name         string
	Capabilities []string

	// declaredTypes is what the daemon itself announced; messageTypes is
	// the declared set unioned with the baseline types.
	declaredTypes map[string]struct{}
	messageTypes  map[string]struct{}
	handler       daemon.Handler
}

func (r *Registration) supports(messageType string) bool {
	_, ok := r.messageTypes[messageType]
	return ok
}

func (r *Registration) declares(messageType string) bool {
	_, ok := r.declaredTypes[messageType]
	return ok
}

func (r *Registration) hasCapability(tag string) bool {
	for _, c := range r.Capabilities {
		if c == tag {
			return true
		}
	}
	return false
}

// MessageTypes returns the daemon's supported types, sorted.
func (r *Registration) MessageTypes() []string {
	types := make([]string, 0, len(r.messageTypes))
	for t := range r.messageTypes {
		types = append(types, t)
	}
	sort.Strings(types)
	return types
}

// Router maintains the daemon registry and resolves inbound messages.
// It is the single writer of the daemon set.
type Router struct {
	preferences map[string][]string
	logger      *slog.Logger

	mu     sync.RWMutex
	order  []*Registration
	byName map[string]*Registration
}

// DefaultPreferences is the built-in table mapping message types to ordered
// capability tags. Specialized daemons carrying a preferred tag win over
// generic ones; the fallback path keeps routing functional before any
// specialist registers.
func DefaultPreferences() map[string][]string {
	return map[string][]string{
		"render_request": {"rendering"},
		"system_status":  {"diagnostics"},
		"runtime_stats":  {"diagnostics"},
		"log_event":      {"storage"},
		"log_search":     {"storage"},
	}
}

// New creates a Router. A nil preferences map selects DefaultPreferences.
func New(preferences map[string][]string, logger *slog.Logger) *Router {
	if preferences == nil {
		preferences = DefaultPreferences()
	}
	return &Router{
		preferences: preferences,
		logger:      logger.With("component", "router"),
		byName:      make(map[string]*Registration),
	}
}

// Register introspects a daemon and adds it to the registry.
//
// Capabilities come from the daemon's own get_capabilities answer; an
// unsuccessful answer defaults them to empty. Declared message types come
// from get_message_types and are unioned with the baseline set. An
// introspection error fails this registration only — the caller logs it and
// continues with the remaining daemons.
func (r *Router) Register(ctx context.Context, name string, h daemon.Handler) error {
	caps, err := r.introspectCapabilities(ctx, h)
	if err != nil {
		return fmt.Errorf("registering %s: %w", name, err)
	}

	declared := make(map[string]struct{})
	for _, t := range r.introspectMessageTypes(ctx, name, h) {
		declared[t] = struct{}{}
	}
	types := make(map[string]struct{}, len(declared)+4)
	for t := range declared {
		types[t] = struct{}{}
	}
	for _, t := range protocol.BaselineTypes() {
		types[t] = struct{}{}
	}

	reg := &Registration{
		Name:          name,
		Capabilities:  caps,
		declaredTypes: declared,
		messageTypes:  types,
		handler:       h,
	}

	r.mu.Lock()
	if existing, ok := r.byName[name]; ok {
		// re-registration replaces in place, keeping registration order
		for i, e := range r.order {
			if e == existing {
				r.order[i] = reg
				break
			}
		}
		r.byName[name] = reg
		r.mu.Unlock()
		r.logger.Info("daemon re-registered", "name", name, "capabilities", caps)
		return nil
	}
	r.order = append(r.order, reg)
	r.byName[name] = reg
	total := len(r.order)
	r.mu.Unlock()

	r.logger.Info("=== DAEMON REGISTERED ===",
		"name", name,
		"capabilities", caps,
		"message_types", len(types),
		"total_daemons", total,
	)
	return nil
}

// Unregister removes a daemon from the registry.
func (r *Router) Unregister(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	reg, ok := r.byName[name]
	if !ok {
		return
	}
	delete(r.byName, name)
	for i, e := range r.order {
		if e == reg {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
	r.logger.Info("=== DAEMON UNREGISTERED ===", "name", name, "total_daemons", len(r.order))
}

func (r *Router) introspectCapabilities(ctx context.Context, h daemon.Handler) ([]string, error) {
	res, err := h.HandleMessage(ctx, daemon.Message{Type: protocol.TypeGetCapabilities})
	if err != nil {
		return nil, fmt.Errorf("introspecting capabilities: %w", err)
	}
	if res == nil || !res.Success {
		return nil, nil
	}
	return stringList(res.Data, "capabilities"), nil
}

func (r *Router) introspectMessageTypes(ctx context.Context, name string, h daemon.Handler) []string {
	res, err := h.HandleMessage(ctx, daemon.Message{Type: protocol.TypeGetMessageTypes})
	if err != nil || res == nil || !res.Success {
		// optional introspection; the baseline set still applies
		r.logger.Debug("daemon declared no message types", "name", name)
		return nil
	}
	return stringList(res.Data, "types")
}

// stringList pulls a []string out of a handler's loosely typed result data.
func stringList(data any, key string) []string {
	m, ok := data.(map[string]any)
	if !ok {
		return nil
	}
	switch v := m[key].(type) {
	case []string:
		return v
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}

// Route resolves an inbound message to one daemon, invokes it, and returns
// the response envelope. Routing never fails the caller: every failure mode
// comes back as an error envelope for the originating client.
func (r *Router) Route(ctx context.Context, msg *protocol.Inbound, clientID string) *protocol.Outbound {
	reg, err := r.resolve(msg.Type)
	if errors.Is(err, ErrNoMatchingDaemon) {
		r.logger.Debug("no daemon for message type", "type", msg.Type, "client_id", clientID)
		return protocol.NewError(clientID, msg.RequestID, protocol.ErrorData{
			Error:          fmt.Sprintf("no daemon supports message type %q", msg.Type),
			AvailableTypes: r.AllMessageTypes(),
			Component:      Component,
		})
	}

	res, err := r.invoke(ctx, reg, msg)
	if err != nil {
		r.logger.Warn("daemon invocation failed",
			"daemon", reg.Name, "type", msg.Type, "error", err)
		return protocol.NewError(clientID, msg.RequestID, protocol.ErrorData{
			Error:       err.Error(),
			Daemon:      reg.Name,
			MessageType: msg.Type,
			Component:   Component,
		})
	}
	if !res.Success {
		return protocol.NewError(clientID, msg.RequestID, protocol.ErrorData{
			Error:       res.Error,
			Daemon:      reg.Name,
			MessageType: msg.Type,
			Component:   Component,
		})
	}
	return protocol.NewResponse(msg.Type, res.Data, clientID, msg.RequestID, reg.Name)
}

// invoke calls the daemon handler, converting a panic into an error so a
// misbehaving daemon can never take the router down.
func (r *Router) invoke(ctx context.Context, reg *Registration, msg *protocol.Inbound) (res *daemon.Result, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("daemon %s panicked handling %s: %v", reg.Name, msg.Type, rec)
		}
	}()

	res, err = reg.handler.HandleMessage(ctx, daemon.Message{Type: msg.Type, Data: msg.Data})
	if err != nil {
		return nil, err
	}
	if res == nil {
		return nil, fmt.Errorf("daemon %s returned no result for %s", reg.Name, msg.Type)
	}
	return res, nil
}

// resolve picks the daemon for a message type: first a capability-preferred
// match, then registration order. In the fallback, a daemon that declared
// the type itself outranks one that carries it only through the baseline
// set, so baseline-only daemons never shadow an explicit declaration.
func (r *Router) resolve(messageType string) (*Registration, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, tag := range r.preferences[messageType] {
		for _, reg := range r.order {
			if reg.hasCapability(tag) && reg.supports(messageType) {
				return reg, nil
			}
		}
	}
	for _, reg := range r.order {
		if reg.declares(messageType) {
			return reg, nil
		}
	}
	for _, reg := range r.order {
		if reg.supports(messageType) {
			return reg, nil
		}
	}
	return nil, fmt.Errorf("%w for message type %q", ErrNoMatchingDaemon, messageType)
}

// AllMessageTypes returns the sorted union of every registered daemon's
// supported message types.
func (r *Router) AllMessageTypes() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	union := make(map[string]struct{})
	for _, reg := range r.order {
		for t := range reg.messageTypes {
			union[t] = struct{}{}
		}
	}
	types := make([]string, 0, len(union))
	for t := range union {
		types = append(types, t)
	}
	sort.Strings(types)
	return types
}

// DaemonStatus describes one registered daemon for diagnostics.
type DaemonStatus struct {
	Name         string   `json:"name"`
	State        string   `json:"state"`
	Capabilities []string `json:"capabilities"`
	MessageTypes []string `json:"messageTypes"`
}

// SystemStatus is the read-only routing picture for diagnostics.
type SystemStatus struct {
	DaemonCount  int            `json:"daemonCount"`
	Daemons      []DaemonStatus `json:"daemons"`
	MessageTypes []string       `json:"messageTypes"`
}

// Status reports the registry contents in registration order. No side effects.
func (r *Router) Status() SystemStatus {
	r.mu.RLock()
	defer r.mu.RUnlock()

	daemons := make([]DaemonStatus, 0, len(r.order))
	for _, reg := range r.order {
		state := "unknown"
		if s, ok := reg.handler.(stater); ok {
			state = s.State().String()
		}
		daemons = append(daemons, DaemonStatus{
			Name:         reg.Name,
			State:        state,
			Capabilities: reg.Capabilities,
			MessageTypes: reg.MessageTypes(),
		})
	}

	union := make(map[string]struct{})
	for _, reg := range r.order {
		for t := range reg.messageTypes {
			union[t] = struct{}{}
		}
	}
	types := make([]string, 0, len(union))
	for t := range union {
		types = append(types, t)
	}
	sort.Strings(types)

	return SystemStatus{
		DaemonCount:  len(daemons),
		Daemons:      daemons,
		MessageTypes: types,
	}
}
