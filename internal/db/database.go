package db

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

var ErrNotFound = errors.New("not found")

// ReasonInterrupted marks sessions a previous process never finished
const ReasonInterrupted = "interrupted"

// Database is the session ledger: who connected, when, and how much they drew.
// The scene itself is never stored here.
type Database struct {
	db *sql.DB
}

type SessionRecord struct {
	ID           string     `json:"id"`
	RemoteAddr   string     `json:"remote_addr"`
	StartedAt    time.Time  `json:"started_at"`
	EndedAt      *time.Time `json:"ended_at,omitempty"`
	Segments     int64      `json:"segments"`
	ColorChanges int64      `json:"color_changes"`
	Ignored      int64      `json:"ignored"`
	EndReason    string     `json:"end_reason,omitempty"`
}

type Stats struct {
	Sessions      int   `json:"sessions"`
	OpenSessions  int   `json:"open_sessions"`
	TotalSegments int64 `json:"total_segments"`
	TotalIgnored  int64 `json:"total_ignored"`
}

func New(dbPath string) (*Database, error) {
	if dbPath != ":memory:" {
		dir := filepath.Dir(dbPath)
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("create db dir: %w", err)
		}
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", dbPath, err)
	}
	// Sessions write from many goroutines; sqlite wants a single writer.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enable WAL: %w", err)
	}

	if err := createTables(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("create tables: %w", err)
	}

	return &Database{db: db}, nil
}

func createTables(db *sql.DB) error {
	schema := `
	CREATE TABLE IF NOT EXISTS sessions (
		id TEXT PRIMARY KEY,
		remote_addr TEXT NOT NULL DEFAULT '',
		started_at DATETIME NOT NULL,
		ended_at DATETIME,
		segments INTEGER NOT NULL DEFAULT 0,
		color_changes INTEGER NOT NULL DEFAULT 0,
		ignored INTEGER NOT NULL DEFAULT 0,
		end_reason TEXT NOT NULL DEFAULT ''
	);

	CREATE INDEX IF NOT EXISTS idx_sessions_started_at ON sessions(started_at DESC);
	CREATE INDEX IF NOT EXISTS idx_sessions_ended_at ON sessions(ended_at);
	`

	_, err := db.Exec(schema)
	return err
}

func (d *Database) Close() error {
	return d.db.Close()
}

// Session lifecycle

func (d *Database) StartSession(id, remoteAddr string, startedAt time.Time) error {
	_, err := d.db.Exec(
		"INSERT INTO sessions (id, remote_addr, started_at) VALUES (?, ?, ?)",
		id, remoteAddr, startedAt.UTC(),
	)
	return err
}

func (d *Database) EndSession(id string, endedAt time.Time, segments, colorChanges, ignored int64, reason string) error {
	res, err := d.db.Exec(`
		UPDATE sessions
		SET ended_at = ?, segments = ?, color_changes = ?, ignored = ?, end_reason = ?
		WHERE id = ?
	`, endedAt.UTC(), segments, colorChanges, ignored, reason, id)
	if err != nil {
		return err
	}

	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("session %s: %w", id, ErrNotFound)
	}
	return nil
}

// CloseDanglingSessions ends every session still open, returning how many.
// Called at startup: rows left open belong to a process that died.
func (d *Database) CloseDanglingSessions(now time.Time) (int64, error) {
	res, err := d.db.Exec(
		"UPDATE sessions SET ended_at = ?, end_reason = ? WHERE ended_at IS NULL",
		now.UTC(), ReasonInterrupted,
	)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// Queries

const sessionColumns = "id, remote_addr, started_at, ended_at, segments, color_changes, ignored, end_reason"

type scanner interface {
	Scan(dest ...any) error
}

func scanSession(row scanner) (SessionRecord, error) {
	var s SessionRecord
	var endedAt sql.NullTime
	if err := row.Scan(&s.ID, &s.RemoteAddr, &s.StartedAt, &endedAt, &s.Segments, &s.ColorChanges, &s.Ignored, &s.EndReason); err != nil {
		return SessionRecord{}, err
	}
	if endedAt.Valid {
		t := endedAt.Time
		s.EndedAt = &t
	}
	return s, nil
}

func (d *Database) GetSession(id string) (*SessionRecord, error) {
	row := d.db.QueryRow("SELECT "+sessionColumns+" FROM sessions WHERE id = ?", id)

	s, err := scanSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("session %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &s, nil
}

// ListSessions returns sessions newest first
func (d *Database) ListSessions(limit, offset int) ([]SessionRecord, error) {
	rows, err := d.db.Query(
		"SELECT "+sessionColumns+" FROM sessions ORDER BY started_at DESC, id LIMIT ? OFFSET ?",
		limit, offset,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	sessions := make([]SessionRecord, 0)
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, s)
	}
	return sessions, rows.Err()
}

// DeleteEndedBefore removes finished sessions that ended before cutoff.
// Open sessions are never removed.
func (d *Database) DeleteEndedBefore(cutoff time.Time) (int64, error) {
	res, err := d.db.Exec(
		"DELETE FROM sessions WHERE ended_at IS NOT NULL AND ended_at < ?",
		cutoff.UTC(),
	)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// Stats

func (d *Database) GetStats() (Stats, error) {
	var stats Stats
	err := d.db.QueryRow(`
		SELECT
			COUNT(*),
			COALESCE(SUM(CASE WHEN ended_at IS NULL THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(segments), 0),
			COALESCE(SUM(ignored), 0)
		FROM sessions
	`).Scan(&stats.Sessions, &stats.OpenSessions, &stats.TotalSegments, &stats.TotalIgnored)
	return stats, err
}
