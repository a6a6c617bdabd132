// ABOUTME: Ledger daemon: persists and searches activity log entries in SQLite.
// ABOUTME: Carries the "storage" capability tag; answers log_event and log_search.

package daemons

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/signalhouse/switchboard/internal/daemon"
	"github.com/signalhouse/switchboard/internal/store"
)

// Ledger message types.
const (
	TypeLogEvent  = "log_event"
	TypeLogSearch = "log_search"
)

var ledgerCapabilities = []string{"storage"}
var ledgerTypes = []string{TypeLogEvent, TypeLogSearch}

// Ledger is the persistence daemon. Storage is internal to the daemon; no
// other component reaches through it to the database.
type Ledger struct {
	*daemon.Base
	store *store.Store
}

// NewLedger creates the ledger daemon on top of an open store.
func NewLedger(s *store.Store, logger *slog.Logger) *Ledger {
	l := &Ledger{
		Base:  daemon.NewBase("ledger", "1.0.0", logger),
		store: s,
	}
	// refuse to come up on an unreachable database
	l.SetHooks(func(ctx context.Context) error { return s.Ping(ctx) }, nil)
	return l
}

type logEventInput struct {
	Source  string   `json:"source"`
	Message string   `json:"message"`
	Tags    []string `json:"tags"`
}

type logSearchInput struct {
	Query string `json:"query"`
	Since string `json:"since"`
	Limit int    `json:"limit"`
}

// HandleMessage answers log_event, log_search, and the baseline types.
func (l *Ledger) HandleMessage(ctx context.Context, msg daemon.Message) (*daemon.Result, error) {
	if res, ok := daemon.Describe(l.Base, ledgerCapabilities, ledgerTypes, msg); ok {
		return res, nil
	}

	switch msg.Type {
	case TypeLogEvent:
		var in logEventInput
		if err := json.Unmarshal(msg.Data, &in); err != nil {
			return &daemon.Result{Success: false, Error: fmt.Sprintf("invalid input: %v", err)}, nil
		}
		if in.Message == "" {
			return &daemon.Result{Success: false, Error: "message is required"}, nil
		}
		entry := &store.LogEntry{
			Source:  in.Source,
			Message: in.Message,
			Tags:    in.Tags,
		}
		if err := l.store.CreateLogEntry(ctx, entry); err != nil {
			return nil, err
		}
		return &daemon.Result{Success: true, Data: map[string]any{
			"id":     entry.ID,
			"status": "logged",
		}}, nil

	case TypeLogSearch:
		var in logSearchInput
		if err := json.Unmarshal(msg.Data, &in); err != nil {
			return &daemon.Result{Success: false, Error: fmt.Sprintf("invalid input: %v", err)}, nil
		}
		var since *time.Time
		if in.Since != "" {
			t, err := time.Parse(time.RFC3339, in.Since)
			if err != nil {
				return &daemon.Result{Success: false, Error: fmt.Sprintf("invalid since date: %v", err)}, nil
			}
			since = &t
		}
		entries, err := l.store.SearchLogEntries(ctx, in.Query, since, in.Limit)
		if err != nil {
			return nil, err
		}
		return &daemon.Result{Success: true, Data: map[string]any{
			"entries": entries,
			"count":   len(entries),
		}}, nil

	default:
		return nil, fmt.Errorf("ledger daemon cannot handle %q", msg.Type)
	}
}
