// Package postgres provides a Postgres-backed completion store.
package postgres

import (
	"context"
	"fmt"
	"regexp"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JakeFAU/canvaspal/internal/assignment"
)

const defaultTable = "assignment_completions"

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// Config controls the Postgres connection pool used for completion rows.
type Config struct {
	DSN             string
	Table           string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

type pool interface {
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	Query(context.Context, string, ...any) (pgx.Rows, error)
	Close()
}

// CompletionStore keeps completed flags in a Postgres table.
type CompletionStore struct {
	pool  pool
	table string
}

// New connects to Postgres and makes sure the completion table exists.
func New(ctx context.Context, cfg Config) (*CompletionStore, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("db.dsn is required")
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	p, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	store, err := NewWithPool(p, cfg.Table)
	if err != nil {
		p.Close()
		return nil, err
	}
	if err := store.EnsureSchema(ctx); err != nil {
		p.Close()
		return nil, err
	}
	return store, nil
}

// NewWithPool constructs a store from an existing pool (primarily for testing).
func NewWithPool(p pool, table string) (*CompletionStore, error) {
	if p == nil {
		return nil, fmt.Errorf("pool is required")
	}
	if table == "" {
		table = defaultTable
	}
	if !validTableName.MatchString(table) {
		return nil, fmt.Errorf("invalid table name %q", table)
	}
	return &CompletionStore{pool: p, table: table}, nil
}

// EnsureSchema creates the completion table when missing.
func (s *CompletionStore) EnsureSchema(ctx context.Context) error {
	query := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
	url TEXT PRIMARY KEY,
	completed_at TIMESTAMPTZ NOT NULL
)`, s.table)
	if _, err := s.pool.Exec(ctx, query); err != nil {
		return fmt.Errorf("create completion table: %w", err)
	}
	return nil
}

// SetCompleted marks or clears one URL. Re-marking keeps the original timestamp.
func (s *CompletionStore) SetCompleted(ctx context.Context, url string, completed bool, at time.Time) error {
	if url == "" {
		return fmt.Errorf("url is required")
	}
	if !completed {
		query := fmt.Sprintf(`DELETE FROM %s WHERE url = $1`, s.table)
		if _, err := s.pool.Exec(ctx, query, url); err != nil {
			return fmt.Errorf("clear completion: %w", err)
		}
		return nil
	}
	query := fmt.Sprintf(`INSERT INTO %s (url, completed_at) VALUES ($1, $2)
ON CONFLICT (url) DO NOTHING`, s.table)
	if _, err := s.pool.Exec(ctx, query, url, at.UTC()); err != nil {
		return fmt.Errorf("insert completion: %w", err)
	}
	return nil
}

// CompletedSet reports which of urls are completed.
func (s *CompletionStore) CompletedSet(ctx context.Context, urls []string) (map[string]bool, error) {
	out := make(map[string]bool, len(urls))
	if len(urls) == 0 {
		return out, nil
	}
	query := fmt.Sprintf(`SELECT url FROM %s WHERE url = ANY($1)`, s.table)
	rows, err := s.pool.Query(ctx, query, urls)
	if err != nil {
		return nil, fmt.Errorf("query completions: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var url string
		if err := rows.Scan(&url); err != nil {
			return nil, fmt.Errorf("scan completion row: %w", err)
		}
		out[url] = true
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate completions: %w", err)
	}
	return out, nil
}

// ListCompleted returns every completed flag, newest first.
func (s *CompletionStore) ListCompleted(ctx context.Context) ([]assignment.Completion, error) {
	query := fmt.Sprintf(`SELECT url, completed_at FROM %s ORDER BY completed_at DESC, url ASC`, s.table)
	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list completions: %w", err)
	}
	defer rows.Close()

	var out []assignment.Completion
	for rows.Next() {
		var c assignment.Completion
		if err := rows.Scan(&c.URL, &c.CompletedAt); err != nil {
			return nil, fmt.Errorf("scan completion row: %w", err)
		}
		c.CompletedAt = c.CompletedAt.UTC()
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate completions: %w", err)
	}
	return out, nil
}

// Close releases the underlying pool resources.
func (s *CompletionStore) Close() error {
	if s == nil || s.pool == nil {
		return nil
	}
	s.pool.Close()
	return nil
}
