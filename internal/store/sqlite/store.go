// Package sqlite implements the gatelink connection journal backed by a
// SQLite database. It records gateway connection lifecycle events and
// last-seen timestamps for operational queries; transport behavior never
// depends on it.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

// Lifecycle events recorded per gateway connection.
const (
	EventConnected    = "connected"
	EventAuthRejected = "auth_rejected"
	EventReplaced     = "replaced"
	EventEvicted      = "evicted"
	EventDisconnected = "disconnected"
)

// Store wraps a SQLite database connection for journal persistence.
type Store struct {
	db *sql.DB
}

const defaultMaxOpenConns = 4
const defaultMaxIdleConns = 4

// Open creates or opens the SQLite database at path, runs migrations, and
// enables WAL mode.
func Open(path string) (*Store, error) {
	if err := ensureParentDir(path); err != nil {
		return nil, err
	}
	// Append per-connection PRAGMAs to the DSN so every pooled connection gets them.
	sep := "?"
	if strings.Contains(path, "?") {
		sep = "&"
	}
	dsn := path + sep + "_pragma=foreign_keys(1)&_pragma=synchronous(normal)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(defaultMaxOpenConns)
	db.SetMaxIdleConns(defaultMaxIdleConns)

	// journal_mode and busy_timeout are database-wide; set them once here.
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("sqlite setup (%s): %w", pragma, err)
		}
	}

	s := &Store{db: db}
	if err := s.Migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Migrate creates all required tables and indexes if they do not already exist.
func (s *Store) Migrate(ctx context.Context) error {
	const ddl = `
CREATE TABLE IF NOT EXISTS gateway_events (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	facility_id TEXT NOT NULL,
	conn_id TEXT NOT NULL,
	event TEXT NOT NULL,
	remote_addr TEXT NOT NULL DEFAULT '',
	detail TEXT NOT NULL DEFAULT '',
	created_at DATETIME NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_gateway_events_facility ON gateway_events(facility_id, created_at);
CREATE TABLE IF NOT EXISTS gateway_last_seen (
	facility_id TEXT PRIMARY KEY,
	conn_id TEXT NOT NULL,
	last_seen_at DATETIME NOT NULL
);`
	if _, err := s.db.ExecContext(ctx, ddl); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	return nil
}

// Event is one recorded gateway connection lifecycle transition.
type Event struct {
	ID         int64
	FacilityID string
	ConnID     string
	Event      string
	RemoteAddr string
	Detail     string
	CreatedAt  time.Time
}

// RecordEvent appends one lifecycle event for a facility's connection.
func (s *Store) RecordEvent(ctx context.Context, facilityID, connID, event, remoteAddr, detail string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO gateway_events (facility_id, conn_id, event, remote_addr, detail, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
		facilityID, connID, event, remoteAddr, detail, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("record event: %w", err)
	}
	return nil
}

// TouchLastSeen upserts the last-seen timestamp for a facility's current
// connection.
func (s *Store) TouchLastSeen(ctx context.Context, facilityID, connID string, at time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO gateway_last_seen (facility_id, conn_id, last_seen_at) VALUES (?, ?, ?)
		 ON CONFLICT(facility_id) DO UPDATE SET conn_id = excluded.conn_id, last_seen_at = excluded.last_seen_at`,
		facilityID, connID, at.UTC())
	if err != nil {
		return fmt.Errorf("touch last seen: %w", err)
	}
	return nil
}

// LastSeen returns the most recent activity timestamp recorded for
// facilityID, or sql.ErrNoRows when the facility has never connected.
func (s *Store) LastSeen(ctx context.Context, facilityID string) (time.Time, error) {
	var at time.Time
	err := s.db.QueryRowContext(ctx,
		`SELECT last_seen_at FROM gateway_last_seen WHERE facility_id = ?`, facilityID).Scan(&at)
	if err != nil {
		return time.Time{}, err
	}
	return at, nil
}

// RecentEvents returns up to limit events, newest first, optionally filtered
// by facility id.
func (s *Store) RecentEvents(ctx context.Context, facilityID string, limit int) ([]Event, error) {
	if limit <= 0 || limit > 1000 {
		limit = 100
	}
	query := `SELECT id, facility_id, conn_id, event, remote_addr, detail, created_at
FROM gateway_events`
	args := []any{}
	if facilityID != "" {
		query += ` WHERE facility_id = ?`
		args = append(args, facilityID)
	}
	query += ` ORDER BY id DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("recent events: %w", err)
	}
	defer rows.Close()

	var events []Event
	for rows.Next() {
		var e Event
		if err := rows.Scan(&e.ID, &e.FacilityID, &e.ConnID, &e.Event, &e.RemoteAddr, &e.Detail, &e.CreatedAt); err != nil {
			return nil, err
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

// PurgeEventsBefore deletes journal entries older than cutoff and reports
// how many rows were removed.
func (s *Store) PurgeEventsBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM gateway_events WHERE created_at < ?`, cutoff.UTC())
	if err != nil {
		return 0, fmt.Errorf("purge events: %w", err)
	}
	return res.RowsAffected()
}

func ensureParentDir(path string) error {
	if strings.Contains(path, "?") {
		path = path[:strings.Index(path, "?")]
	}
	dir := filepath.Dir(path)
	if dir == "" || dir == "." {
		return nil
	}
	return os.MkdirAll(dir, 0o755)
}
