// ABOUTME: SQLite implementation of the Journal interface using modernc.org/sqlite
// ABOUTME: Creates the agent_events schema on open and appends one row per event

package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// tsLayout is fixed width so timestamps sort correctly as text.
const tsLayout = "2006-01-02T15:04:05.000000000Z07:00"

// SQLiteStore implements Journal using SQLite
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
}

var _ Journal = (*SQLiteStore)(nil)

// NewSQLiteStore opens (or creates) the journal at path. Parent
// directories are created if needed.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	logger := slog.Default().With("component", "store")

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("creating database directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// Enable WAL mode for better concurrent performance
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}
	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting busy timeout: %w", err)
	}

	s := &SQLiteStore{
		db:     db,
		logger: logger,
	}

	if err := s.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	logger.Info("SQLite journal initialized", "path", path)
	return s, nil
}

// createSchema creates the database tables if they don't exist
func (s *SQLiteStore) createSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS agent_events (
			event_id    TEXT PRIMARY KEY,
			agent_id    TEXT NOT NULL,
			kind        TEXT NOT NULL,
			request_id  TEXT,
			status      TEXT,
			server_id   TEXT,
			ts          TEXT NOT NULL,
			detail_json TEXT,

			CHECK (kind IN ('spawned', 'spawn_failed', 'command', 'reaped', 'terminated', 'killed'))
		);

		CREATE INDEX IF NOT EXISTS idx_agent_events_agent ON agent_events(agent_id, ts);
		CREATE INDEX IF NOT EXISTS idx_agent_events_kind ON agent_events(kind);
		CREATE INDEX IF NOT EXISTS idx_agent_events_ts ON agent_events(ts);
	`

	_, err := s.db.Exec(schema)
	return err
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	s.logger.Info("closing SQLite journal")
	return s.db.Close()
}

// RecordEvent appends e to the journal. Generates ID and Timestamp if not set.
func (s *SQLiteStore) RecordEvent(ctx context.Context, e *Event) error {
	prepareEvent(e)

	var detailJSON *string
	if e.Detail != nil {
		data, err := json.Marshal(e.Detail)
		if err != nil {
			return fmt.Errorf("marshaling event detail: %w", err)
		}
		str := string(data)
		detailJSON = &str
	}

	query := `
		INSERT INTO agent_events (event_id, agent_id, kind, request_id, status, server_id, ts, detail_json)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := s.db.ExecContext(ctx, query,
		e.ID,
		e.AgentID.String(),
		string(e.Kind),
		nullString(e.RequestID),
		nullString(e.Status),
		nullString(e.ServerID),
		e.Timestamp.UTC().Format(tsLayout),
		detailJSON,
	)
	if err != nil {
		return fmt.Errorf("inserting agent event: %w", err)
	}

	s.logger.Debug("recorded agent event",
		"id", e.ID,
		"agent_id", e.AgentID,
		"kind", e.Kind,
	)
	return nil
}

// ListEvents returns events matching f, newest first.
func (s *SQLiteStore) ListEvents(ctx context.Context, f EventFilter) ([]*Event, error) {
	var (
		where []string
		args  []any
	)
	if f.AgentID != nil {
		where = append(where, "agent_id = ?")
		args = append(args, f.AgentID.String())
	}
	if f.Kind != nil {
		where = append(where, "kind = ?")
		args = append(args, string(*f.Kind))
	}
	if f.Since != nil {
		where = append(where, "ts >= ?")
		args = append(args, f.Since.UTC().Format(tsLayout))
	}

	query := `SELECT event_id, agent_id, kind, request_id, status, server_id, ts, detail_json FROM agent_events`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY ts DESC, rowid DESC LIMIT ?"
	args = append(args, normalizeLimit(f.Limit))

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying agent events: %w", err)
	}
	defer rows.Close()

	var events []*Event
	for rows.Next() {
		e, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating agent events: %w", err)
	}
	return events, nil
}

// GetEvent returns a single event by ID.
func (s *SQLiteStore) GetEvent(ctx context.Context, id string) (*Event, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT event_id, agent_id, kind, request_id, status, server_id, ts, detail_json FROM agent_events WHERE event_id = ?`, id)
	e, err := scanEvent(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return e, err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEvent(row rowScanner) (*Event, error) {
	var (
		e                           Event
		agentID, kind, ts           string
		requestID, status, serverID sql.NullString
		detailJSON                  sql.NullString
	)
	if err := row.Scan(&e.ID, &agentID, &kind, &requestID, &status, &serverID, &ts, &detailJSON); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scanning agent event: %w", err)
	}

	parsed, err := uuid.Parse(agentID)
	if err != nil {
		return nil, fmt.Errorf("parsing agent id %q: %w", agentID, err)
	}
	e.AgentID = parsed
	e.Kind = EventKind(kind)
	e.RequestID = requestID.String
	e.Status = status.String
	e.ServerID = serverID.String

	e.Timestamp, err = time.Parse(tsLayout, ts)
	if err != nil {
		return nil, fmt.Errorf("parsing event timestamp %q: %w", ts, err)
	}

	if detailJSON.Valid {
		if err := json.Unmarshal([]byte(detailJSON.String), &e.Detail); err != nil {
			return nil, fmt.Errorf("unmarshaling event detail: %w", err)
		}
	}
	return &e, nil
}

// nullString converts empty strings to NULL for optional columns.
func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}
