package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	_ "modernc.org/sqlite"

	"github.com/loykin/pmgr/internal/history"
)

// Sink appends history events to a SQLite table.
type Sink struct {
	db *sql.DB
}

// New creates a SQLite history sink.
// DSN format:
//   - "sqlite:///path/to/file.db"
//   - "sqlite://:memory:"
//   - "/path/to/file.db" (without prefix)
//   - ":memory:" (in-memory database)
func New(dsn string) (*Sink, error) {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		return nil, errors.New("empty SQLite DSN")
	}
	if strings.HasPrefix(strings.ToLower(dsn), "sqlite://") {
		dsn = dsn[len("sqlite://"):]
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	// concurrent invocations append to the same file
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(`PRAGMA busy_timeout = 5000;`); err != nil {
		_ = db.Close()
		return nil, err
	}

	sink := &Sink{db: db}
	if err := sink.ensureSchema(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return sink, nil
}

func (s *Sink) ensureSchema(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS process_history(
		timestamp TIMESTAMP NOT NULL DEFAULT (CURRENT_TIMESTAMP),
		type TEXT NOT NULL,
		name TEXT NOT NULL,
		pid INTEGER NOT NULL,
		instance_id TEXT,
		generation INTEGER NOT NULL DEFAULT 0,
		status TEXT NOT NULL,
		restart_count INTEGER NOT NULL DEFAULT 0,
		error TEXT
	);`)
	return err
}

func (s *Sink) Send(ctx context.Context, e history.Event) error {
	r := history.Flatten(e)
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO process_history(timestamp, type, name, pid, instance_id, generation, status, restart_count, error)
		VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?);`,
		r.OccurredAt, r.Type, r.Name, r.PID, nullIfEmpty(r.InstanceID), r.Generation, r.Status, r.RestartCount, nullIfEmpty(r.Error))
	return err
}

func (s *Sink) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

func nullIfEmpty(v string) sql.NullString {
	return sql.NullString{String: v, Valid: v != ""}
}
