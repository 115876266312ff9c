// Package journal keeps an append-only SQLite audit trail of sessions.
package journal

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/cjeanneret/boothframe/internal/logic/session"
)

const schema = `
CREATE TABLE IF NOT EXISTS sessions (
	id             TEXT PRIMARY KEY,
	stamp          TEXT NOT NULL DEFAULT '',
	state          TEXT NOT NULL,
	raw_path       TEXT NOT NULL DEFAULT '',
	photo_path     TEXT NOT NULL DEFAULT '',
	framed         INTEGER NOT NULL DEFAULT 0,
	print_status   TEXT NOT NULL DEFAULT '',
	archive_status TEXT NOT NULL DEFAULT '',
	qr_status      TEXT NOT NULL DEFAULT '',
	download_url   TEXT NOT NULL DEFAULT '',
	error          TEXT NOT NULL DEFAULT '',
	started_at     INTEGER NOT NULL,
	finished_at    INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_sessions_started ON sessions(started_at);
`

// Entry is one recorded session.
type Entry struct {
	ID            string    `json:"id"`
	Stamp         string    `json:"stamp"`
	State         string    `json:"state"`
	RawPath       string    `json:"raw_path"`
	PhotoPath     string    `json:"photo_path"`
	Framed        bool      `json:"framed"`
	PrintStatus   string    `json:"print_status"`
	ArchiveStatus string    `json:"archive_status"`
	QRStatus      string    `json:"qr_status"`
	DownloadURL   string    `json:"download_url"`
	Error         string    `json:"error,omitempty"`
	StartedAt     time.Time `json:"started_at"`
	FinishedAt    time.Time `json:"finished_at"`
}

// Journal records finished sessions.
type Journal struct {
	db *sql.DB
}

// Open opens (or creates) the journal at path. ":memory:" is accepted.
func Open(path string) (*Journal, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("journal: create dir: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("journal: open: %w", err)
	}
	// One writer; also keeps ":memory:" on a single connection.
	db.SetMaxOpenConns(1)

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("journal: %s: %w", pragma, err)
		}
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("journal: schema: %w", err)
	}
	return &Journal{db: db}, nil
}

// Close releases the database.
func (j *Journal) Close() error {
	return j.db.Close()
}

// Record appends a session. Recording the same ID twice is an error.
func (j *Journal) Record(ctx context.Context, r *session.Result) error {
	if r == nil || r.ID == "" {
		return errors.New("journal: result without id")
	}
	var errText string
	if r.Err != nil {
		errText = r.Err.Error()
	}
	d := r.Distribution
	_, err := j.db.ExecContext(ctx, `
		INSERT INTO sessions (id, stamp, state, raw_path, photo_path, framed,
			print_status, archive_status, qr_status, download_url, error, started_at, finished_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.Stamp, string(r.State), r.RawPath, r.PhotoPath, r.Framed,
		string(d.Print.Status), string(d.Archive.Status), string(d.QR.Status), d.DownloadURL,
		errText, r.StartedAt.UnixMilli(), r.FinishedAt.UnixMilli())
	if err != nil {
		return fmt.Errorf("journal: record %s: %w", r.ID, err)
	}
	return nil
}

// Recent returns up to limit sessions, newest first.
func (j *Journal) Recent(ctx context.Context, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := j.db.QueryContext(ctx, `
		SELECT id, stamp, state, raw_path, photo_path, framed, print_status,
			archive_status, qr_status, download_url, error, started_at, finished_at
		FROM sessions ORDER BY started_at DESC, id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("journal: query: %w", err)
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var e Entry
		var started, finished int64
		if err := rows.Scan(&e.ID, &e.Stamp, &e.State, &e.RawPath, &e.PhotoPath, &e.Framed,
			&e.PrintStatus, &e.ArchiveStatus, &e.QRStatus, &e.DownloadURL, &e.Error,
			&started, &finished); err != nil {
			return nil, fmt.Errorf("journal: scan: %w", err)
		}
		e.StartedAt = time.UnixMilli(started)
		e.FinishedAt = time.UnixMilli(finished)
		out = append(out, e)
	}
	return out, rows.Err()
}
