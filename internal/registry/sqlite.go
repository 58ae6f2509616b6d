package registry

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteStore keeps the registry document in a single-row SQLite table
// (modernc.org/sqlite driver, CGO-free). Update runs in an IMMEDIATE
// transaction so the write lock is taken before the document is read.
type SQLiteStore struct {
	db   *sql.DB
	path string
}

type querier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// NewSQLiteStore opens (and creates if needed) the database at path.
// Use ":memory:" for an in-memory database.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	p := strings.TrimSpace(path)
	if p == "" {
		return nil, errors.New("empty sqlite path")
	}
	if p != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(p), 0o750); err != nil {
			return nil, fmt.Errorf("create registry dir: %w", err)
		}
	}
	dsn := "file:" + p + "?_pragma=busy_timeout(10000)&_txlock=immediate"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite database: %w", err)
	}
	// SQLite works best with a single connection
	db.SetMaxOpenConns(1)

	s := &SQLiteStore{db: db, path: p}
	if err := s.ensureSchema(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLiteStore) ensureSchema(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS registry(
		id INTEGER PRIMARY KEY CHECK (id = 1),
		doc TEXT NOT NULL,
		updated_at TIMESTAMP NOT NULL
	);`)
	if err != nil {
		return fmt.Errorf("ensure registry schema: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Load(ctx context.Context) (Registry, error) {
	return s.load(ctx, s.db), nil
}

func (s *SQLiteStore) load(ctx context.Context, q querier) Registry {
	var doc string
	err := q.QueryRowContext(ctx, `SELECT doc FROM registry WHERE id = 1;`).Scan(&doc)
	if err != nil {
		if !errors.Is(err, sql.ErrNoRows) {
			slog.Warn("Failed to read registry, using empty registry", "path", s.path, "error", err)
		}
		return Registry{}
	}
	if strings.TrimSpace(doc) == "" {
		return Registry{}
	}
	reg, err := Decode([]byte(doc))
	if err != nil {
		slog.Warn("Corrupt registry document, using empty registry", "path", s.path, "error", err)
		return Registry{}
	}
	return reg
}

func (s *SQLiteStore) Save(ctx context.Context, reg Registry) error {
	return s.save(ctx, s.db, reg)
}

func (s *SQLiteStore) save(ctx context.Context, q querier, reg Registry) error {
	b, err := Encode(reg)
	if err != nil {
		return fmt.Errorf("encode registry: %w", err)
	}
	_, err = q.ExecContext(ctx, `
		INSERT INTO registry(id, doc, updated_at) VALUES(1, ?, ?)
		ON CONFLICT(id) DO UPDATE SET doc=excluded.doc, updated_at=excluded.updated_at;`,
		string(b), time.Now().UTC())
	if err != nil {
		return fmt.Errorf("save registry: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Update(ctx context.Context, fn func(Registry) error) error {
	// fn may outlive an interrupt (a stop escalating to SIGKILL); its result must still commit
	ctx = context.WithoutCancel(ctx)
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	reg := s.load(ctx, tx)
	if err := fn(reg); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := s.save(ctx, tx, reg); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

func (s *SQLiteStore) Close() error { return s.db.Close() }
