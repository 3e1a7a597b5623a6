package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"

	"github.com/tjfontaine/gqlink/internal/core/domain"
	"github.com/tjfontaine/gqlink/internal/core/ports"
)

// Store is a SQLite implementation of CacheStore. Entries survive process
// restarts until Clear is called.
type Store struct {
	db *sqlx.DB
}

var _ ports.CacheStore = (*Store)(nil)

type cacheRow struct {
	Key       string    `db:"cache_key"`
	Response  string    `db:"response"`
	CreatedAt time.Time `db:"created_at"`
}

// New opens (creating if needed) the cache database at dbPath
func New(dbPath string) (*Store, error) {
	if dir := filepath.Dir(dbPath); !strings.HasPrefix(dbPath, "file:") && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	db, err := sqlx.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	for _, stmt := range []string{"PRAGMA journal_mode=WAL", "PRAGMA synchronous=NORMAL"} {
		if _, err := db.Exec(stmt); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to execute pragma: %w", err)
		}
	}

	store := &Store{db: db}

	if err := store.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return store, nil
}

func (s *Store) initSchema() error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS cache_entries (
			cache_key TEXT PRIMARY KEY,
			response TEXT NOT NULL,
			created_at TIMESTAMP NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_cache_entries_created ON cache_entries(created_at)`,
	}

	for _, stmt := range statements {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("failed to execute schema statement: %w", err)
		}
	}

	return nil
}

func (s *Store) Get(ctx context.Context, key string) (*domain.Response, bool, error) {
	var row cacheRow
	err := s.db.GetContext(ctx, &row,
		`SELECT cache_key, response, created_at FROM cache_entries WHERE cache_key = ?`, key)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to read cache entry: %w", err)
	}

	var resp domain.Response
	if err := json.Unmarshal([]byte(row.Response), &resp); err != nil {
		return nil, false, fmt.Errorf("failed to decode cache entry: %w", err)
	}
	return &resp, true, nil
}

func (s *Store) Put(ctx context.Context, key string, resp *domain.Response) error {
	if resp == nil {
		return fmt.Errorf("cache %s: nil response", key)
	}
	encoded, err := json.Marshal(resp)
	if err != nil {
		return fmt.Errorf("failed to encode response: %w", err)
	}

	_, err = s.db.NamedExecContext(ctx,
		`INSERT INTO cache_entries (cache_key, response, created_at)
		VALUES (:cache_key, :response, :created_at)
		ON CONFLICT(cache_key) DO UPDATE SET response = excluded.response, created_at = excluded.created_at`,
		cacheRow{Key: key, Response: string(encoded), CreatedAt: time.Now().UTC()})
	if err != nil {
		return fmt.Errorf("failed to write cache entry: %w", err)
	}
	return nil
}

func (s *Store) Clear(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM cache_entries`); err != nil {
		return fmt.Errorf("failed to clear cache: %w", err)
	}
	return nil
}

// Len reports the number of cached responses.
func (s *Store) Len(ctx context.Context) (int, error) {
	var n int
	if err := s.db.GetContext(ctx, &n, `SELECT COUNT(*) FROM cache_entries`); err != nil {
		return 0, fmt.Errorf("failed to count cache entries: %w", err)
	}
	return n, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}
