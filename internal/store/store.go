// ABOUTME: SQLite-backed activity ledger using modernc.org/sqlite
// ABOUTME: Records hub lifecycle events, daemon heartbeats, and daemon log entries

package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// Store is the SQLite-backed activity ledger.
type Store struct {
	db     *sql.DB
	logger *slog.Logger
}

// Open creates a Store at the given path. The schema is created automatically;
// parent directories are created if needed.
func Open(path string) (*Store, error) {
	logger := slog.Default().With("component", "store")

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("creating database directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// WAL improves concurrent read performance
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}

	s := &Store{db: db, logger: logger}
	if err := s.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	logger.Info("ledger store initialized", "path", path)
	return s, nil
}

func (s *Store) createSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS hub_events (
			id TEXT PRIMARY KEY,
			kind TEXT NOT NULL,
			client_id TEXT,
			detail TEXT,
			created_at DATETIME NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_hub_events_created
			ON hub_events(created_at);

		CREATE TABLE IF NOT EXISTS daemon_heartbeats (
			daemon TEXT NOT NULL,
			version TEXT NOT NULL,
			state TEXT NOT NULL,
			uptime_ms INTEGER NOT NULL,
			recorded_at DATETIME NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_daemon_heartbeats_daemon
			ON daemon_heartbeats(daemon, recorded_at);

		CREATE TABLE IF NOT EXISTS log_entries (
			id TEXT PRIMARY KEY,
			source TEXT NOT NULL,
			message TEXT NOT NULL,
			tags TEXT,
			created_at DATETIME NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_log_entries_created
			ON log_entries(created_at);
	`
	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("executing schema: %w", err)
	}
	return nil
}

// RecordEvent saves one hub lifecycle event.
func (s *Store) RecordEvent(ctx context.Context, kind, clientID, detail string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO hub_events (id, kind, client_id, detail, created_at) VALUES (?, ?, ?, ?, ?)`,
		uuid.New().String(), kind, clientID, detail, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("recording event: %w", err)
	}
	return nil
}

// RecordHeartbeat saves one daemon heartbeat snapshot.
func (s *Store) RecordHeartbeat(ctx context.Context, name, version, state string, uptime time.Duration) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO daemon_heartbeats (daemon, version, state, uptime_ms, recorded_at) VALUES (?, ?, ?, ?, ?)`,
		name, version, state, uptime.Milliseconds(), time.Now().UTC())
	if err != nil {
		return fmt.Errorf("recording heartbeat: %w", err)
	}
	return nil
}

// LogEntry is one daemon-written ledger entry.
type LogEntry struct {
	ID        string    `json:"id"`
	Source    string    `json:"source"`
	Message   string    `json:"message"`
	Tags      []string  `json:"tags,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}

// CreateLogEntry persists a log entry, assigning its id and timestamp.
func (s *Store) CreateLogEntry(ctx context.Context, entry *LogEntry) error {
	entry.ID = uuid.New().String()
	entry.CreatedAt = time.Now().UTC()

	var tags []byte
	if len(entry.Tags) > 0 {
		var err error
		tags, err = json.Marshal(entry.Tags)
		if err != nil {
			return fmt.Errorf("marshaling tags: %w", err)
		}
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO log_entries (id, source, message, tags, created_at) VALUES (?, ?, ?, ?, ?)`,
		entry.ID, entry.Source, entry.Message, string(tags), entry.CreatedAt)
	if err != nil {
		return fmt.Errorf("creating log entry: %w", err)
	}
	return nil
}

// SearchLogEntries returns entries whose message contains query, newest first.
// A nil since means no lower bound; limit <= 0 defaults to 50.
func (s *Store) SearchLogEntries(ctx context.Context, query string, since *time.Time, limit int) ([]*LogEntry, error) {
	if limit <= 0 {
		limit = 50
	}

	q := `SELECT id, source, message, tags, created_at FROM log_entries WHERE message LIKE ?`
	args := []any{"%" + query + "%"}
	if since != nil {
		q += ` AND created_at >= ?`
		args = append(args, since.UTC())
	}
	q += ` ORDER BY created_at DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("searching log entries: %w", err)
	}
	defer rows.Close()

	var entries []*LogEntry
	for rows.Next() {
		entry := &LogEntry{}
		var tags sql.NullString
		if err := rows.Scan(&entry.ID, &entry.Source, &entry.Message, &tags, &entry.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning log entry: %w", err)
		}
		if tags.Valid && tags.String != "" {
			if err := json.Unmarshal([]byte(tags.String), &entry.Tags); err != nil {
				return nil, fmt.Errorf("unmarshaling tags: %w", err)
			}
		}
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}

// Ping verifies the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}
