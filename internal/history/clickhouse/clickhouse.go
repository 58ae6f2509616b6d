package clickhouse

import (
	"context"
	"fmt"
	"regexp"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"

	"github.com/loykin/pmgr/internal/history"
)

var tableName = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_.]*$`)

// Sink sends events to ClickHouse using the official ClickHouse Go client.
type Sink struct {
	conn  driver.Conn
	table string
}

// Options configures the connection.
type Options struct {
	Addr     string // host:port of the native protocol
	Table    string
	Database string
	Username string
	Password string
}

func New(opts Options) (*Sink, error) {
	if !tableName.MatchString(opts.Table) {
		return nil, fmt.Errorf("invalid ClickHouse table name %q", opts.Table)
	}
	auth := clickhouse.Auth{Database: "default", Username: "default"}
	if opts.Database != "" {
		auth.Database = opts.Database
	}
	if opts.Username != "" {
		auth.Username = opts.Username
	}
	auth.Password = opts.Password

	conn, err := clickhouse.Open(&clickhouse.Options{
		Addr: []string{opts.Addr},
		Auth: auth,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to ClickHouse: %w", err)
	}
	if err := conn.Ping(context.Background()); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to ping ClickHouse: %w", err)
	}
	s := &Sink{conn: conn, table: opts.Table}
	if err := s.ensureSchema(context.Background()); err != nil {
		_ = conn.Close()
		return nil, err
	}
	return s, nil
}

func (s *Sink) ensureSchema(ctx context.Context) error {
	err := s.conn.Exec(ctx, `CREATE TABLE IF NOT EXISTS `+s.table+` (
		type String,
		occurred_at DateTime64(3),
		name String,
		pid UInt32,
		instance_id String,
		generation UInt32,
		status String,
		restart_count UInt32,
		error String
	) ENGINE = MergeTree()
	ORDER BY (name, occurred_at)`)
	if err != nil {
		return fmt.Errorf("failed to create ClickHouse table: %w", err)
	}
	return nil
}

func (s *Sink) Close() error {
	if s.conn != nil {
		return s.conn.Close()
	}
	return nil
}

func (s *Sink) Send(ctx context.Context, e history.Event) error {
	r := history.Flatten(e)
	query := fmt.Sprintf(`INSERT INTO %s (type, occurred_at, name, pid, instance_id, generation, status, restart_count, error) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`, s.table)
	err := s.conn.Exec(ctx, query,
		r.Type,
		r.OccurredAt,
		r.Name,
		uint32(r.PID),
		r.InstanceID,
		uint32(r.Generation),
		r.Status,
		uint32(r.RestartCount),
		r.Error,
	)
	if err != nil {
		return fmt.Errorf("failed to insert event into ClickHouse: %w", err)
	}
	return nil
}
