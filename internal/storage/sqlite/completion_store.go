// Package sqlite provides a single-file completion store backed by modernc.org/sqlite.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite" // registers the "sqlite" driver

	"github.com/JakeFAU/canvaspal/internal/assignment"
)

const createTableSQL = `
CREATE TABLE IF NOT EXISTS completions (
	url TEXT PRIMARY KEY,
	completed_at INTEGER NOT NULL
);
`

// CompletionStore keeps completed flags in a SQLite database.
type CompletionStore struct {
	db *sql.DB
}

// New opens the database at path and creates the table when missing.
func New(ctx context.Context, path string) (*CompletionStore, error) {
	if path == "" {
		return nil, fmt.Errorf("completion.sqlite_path is required")
	}
	if path != ":memory:" && !strings.HasPrefix(path, "file:") {
		if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
			return nil, fmt.Errorf("create sqlite dir: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)

	if _, err := db.ExecContext(ctx, "PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}
	if _, err := db.ExecContext(ctx, createTableSQL); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create completions table: %w", err)
	}
	return &CompletionStore{db: db}, nil
}

// SetCompleted marks or clears one URL. Re-marking keeps the original timestamp.
func (s *CompletionStore) SetCompleted(ctx context.Context, url string, completed bool, at time.Time) error {
	if url == "" {
		return fmt.Errorf("url is required")
	}
	if !completed {
		if _, err := s.db.ExecContext(ctx, `DELETE FROM completions WHERE url = ?`, url); err != nil {
			return fmt.Errorf("clear completion: %w", err)
		}
		return nil
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO completions (url, completed_at) VALUES (?, ?) ON CONFLICT(url) DO NOTHING`,
		url, at.UTC().UnixNano())
	if err != nil {
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
	args := make([]any, len(urls))
	for i, u := range urls {
		args[i] = u
	}
	query := `SELECT url FROM completions WHERE url IN (?` + strings.Repeat(",?", len(urls)-1) + `)`
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query completions: %w", err)
	}
	defer func() { _ = rows.Close() }()

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
	rows, err := s.db.QueryContext(ctx,
		`SELECT url, completed_at FROM completions ORDER BY completed_at DESC, url ASC`)
	if err != nil {
		return nil, fmt.Errorf("list completions: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []assignment.Completion
	for rows.Next() {
		var (
			url   string
			nanos int64
		)
		if err := rows.Scan(&url, &nanos); err != nil {
			return nil, fmt.Errorf("scan completion row: %w", err)
		}
		out = append(out, assignment.Completion{URL: url, CompletedAt: time.Unix(0, nanos).UTC()})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate completions: %w", err)
	}
	return out, nil
}

// Close closes the database.
func (s *CompletionStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("close sqlite: %w", err)
	}
	return nil
}
