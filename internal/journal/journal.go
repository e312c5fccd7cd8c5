// Package journal keeps a persistent history of reload attempts in SQLite.
package journal

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// Entry is one reload attempt.
type Entry struct {
	ID         string
	StartedAt  time.Time
	FinishedAt time.Time
	Success    bool
	// Phase is the phase the attempt ended in: "committing" for a commit,
	// otherwise the phase that failed.
	Phase string
	Error string

	LibrariesChanged int
	ClassesMigrated  int
	ObjectsMigrated  int
}

// Duration is the wall time of the attempt.
func (e Entry) Duration() time.Duration { return e.FinishedAt.Sub(e.StartedAt) }

var ErrClosed = errors.New("journal is closed")

const schema = `
CREATE TABLE IF NOT EXISTS reloads (
	id                TEXT PRIMARY KEY,
	started_at        INTEGER NOT NULL,
	finished_at       INTEGER NOT NULL,
	success           INTEGER NOT NULL,
	phase             TEXT NOT NULL,
	error             TEXT NOT NULL DEFAULT '',
	libraries_changed INTEGER NOT NULL DEFAULT 0,
	classes_migrated  INTEGER NOT NULL DEFAULT 0,
	objects_migrated  INTEGER NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS reloads_started ON reloads(started_at);
`

// Journal is a reload history backed by one SQLite database.
type Journal struct {
	db *sql.DB
}

// Open opens or creates the journal at path. ":memory:" gives a journal
// that lives as long as the Journal.
func Open(ctx context.Context, path string) (*Journal, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening journal %s: %w", path, err)
	}
	// One connection: an in-memory database is private to its connection,
	// and SQLite serialises writers anyway.
	db.SetMaxOpenConns(1)
	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating journal schema: %w", err)
	}
	return &Journal{db: db}, nil
}

// Record appends an entry.
func (j *Journal) Record(ctx context.Context, e Entry) error {
	if j.db == nil {
		return ErrClosed
	}
	_, err := j.db.ExecContext(ctx,
		`INSERT INTO reloads (id, started_at, finished_at, success, phase, error,
			libraries_changed, classes_migrated, objects_migrated)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.StartedAt.UnixNano(), e.FinishedAt.UnixNano(), boolInt(e.Success), e.Phase, e.Error,
		e.LibrariesChanged, e.ClassesMigrated, e.ObjectsMigrated)
	if err != nil {
		return fmt.Errorf("recording reload %s: %w", e.ID, err)
	}
	return nil
}

// List returns the most recent entries, newest first. limit <= 0 returns
// all of them.
func (j *Journal) List(ctx context.Context, limit int) ([]Entry, error) {
	if j.db == nil {
		return nil, ErrClosed
	}
	q := `SELECT id, started_at, finished_at, success, phase, error,
			libraries_changed, classes_migrated, objects_migrated
		  FROM reloads ORDER BY started_at DESC, rowid DESC`
	var args []any
	if limit > 0 {
		q += ` LIMIT ?`
		args = append(args, limit)
	}
	rows, err := j.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("listing reloads: %w", err)
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var (
			e              Entry
			started, ended int64
			success        int
		)
		if err := rows.Scan(&e.ID, &started, &ended, &success, &e.Phase, &e.Error,
			&e.LibrariesChanged, &e.ClassesMigrated, &e.ObjectsMigrated); err != nil {
			return nil, fmt.Errorf("reading reload: %w", err)
		}
		e.StartedAt = time.Unix(0, started)
		e.FinishedAt = time.Unix(0, ended)
		e.Success = success != 0
		out = append(out, e)
	}
	return out, rows.Err()
}

// Close releases the database.
func (j *Journal) Close() error {
	if j.db == nil {
		return nil
	}
	err := j.db.Close()
	j.db = nil
	return err
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
