package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"driftwatch/internal/core"
	"driftwatch/internal/ledger"
)

// Store is the SQLite-backed durable ledger used between local runs.
type Store struct {
	db   *sql.DB
	path string
}

// NewStore creates a new store instance with SQLite database
func NewStore(dataDir string) (*Store, error) {
	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	dbPath := filepath.Join(dataDir, "driftwatch.db")
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	store := &Store{
		db:   db,
		path: dbPath,
	}

	if err := store.initialize(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	return store, nil
}

// initialize creates the necessary tables
func (s *Store) initialize() error {
	tables := []string{`
	CREATE TABLE IF NOT EXISTS cache_entries (
		key TEXT PRIMARY KEY,
		kind TEXT NOT NULL,
		model TEXT,
		vector TEXT,
		text TEXT,
		created_at INTEGER NOT NULL,
		cost REAL NOT NULL DEFAULT 0
	);`,
		`CREATE INDEX IF NOT EXISTS idx_cache_entries_created_at ON cache_entries (created_at);`,
	}
	for _, table := range tables {
		if _, err := s.db.Exec(table); err != nil {
			return fmt.Errorf("failed to create table: %w", err)
		}
	}
	return nil
}

// Path returns the database file location.
func (s *Store) Path() string { return s.path }

// Close closes the database connection
func (s *Store) Close() error {
	return s.db.Close()
}

// Get implements ledger.Backend.
func (s *Store) Get(ctx context.Context, key string) (core.CacheEntry, bool, error) {
	var (
		entry     core.CacheEntry
		kind      string
		model     sql.NullString
		vector    sql.NullString
		text      sql.NullString
		createdAt int64
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT key, kind, model, vector, text, created_at, cost FROM cache_entries WHERE key = ?`, key,
	).Scan(&entry.Key, &kind, &model, &vector, &text, &createdAt, &entry.Cost)
	if err == sql.ErrNoRows {
		return core.CacheEntry{}, false, nil
	}
	if err != nil {
		return core.CacheEntry{}, false, fmt.Errorf("failed to read cache entry: %w", err)
	}
	entry.Kind = core.CacheKind(kind)
	entry.Model = model.String
	entry.Text = text.String
	entry.CreatedAt = time.Unix(0, createdAt).UTC()
	if vector.Valid && vector.String != "" {
		if err := json.Unmarshal([]byte(vector.String), &entry.Vector); err != nil {
			return core.CacheEntry{}, false, fmt.Errorf("failed to decode cached vector: %w", err)
		}
	}
	return entry, true, nil
}

// Put implements ledger.Backend. Existing keys are left untouched.
func (s *Store) Put(ctx context.Context, entry core.CacheEntry) (bool, error) {
	var vector sql.NullString
	if len(entry.Vector) > 0 {
		raw, err := json.Marshal(entry.Vector)
		if err != nil {
			return false, fmt.Errorf("failed to encode vector: %w", err)
		}
		vector = sql.NullString{String: string(raw), Valid: true}
	}
	res, err := s.db.ExecContext(ctx, `
	INSERT OR IGNORE INTO cache_entries (key, kind, model, vector, text, created_at, cost)
	VALUES (?, ?, ?, ?, ?, ?, ?)`,
		entry.Key, string(entry.Kind), entry.Model, vector, entry.Text, entry.CreatedAt.UTC().UnixNano(), entry.Cost,
	)
	if err != nil {
		return false, fmt.Errorf("failed to insert cache entry: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// Purge implements ledger.Backend.
func (s *Store) Purge(ctx context.Context, olderThan time.Time) (int, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM cache_entries WHERE created_at < ?`, olderThan.UTC().UnixNano())
	if err != nil {
		return 0, fmt.Errorf("failed to purge cache: %w", err)
	}
	n, err := res.RowsAffected()
	return int(n), err
}

// Stats implements ledger.Backend.
func (s *Store) Stats(ctx context.Context) (ledger.Stats, error) {
	stats := ledger.Stats{ByKind: make(map[core.CacheKind]int)}

	rows, err := s.db.QueryContext(ctx, `SELECT kind, COUNT(*), COALESCE(SUM(cost), 0) FROM cache_entries GROUP BY kind`)
	if err != nil {
		return stats, fmt.Errorf("failed to get counts: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var (
			kind  string
			count int
			cost  float64
		)
		if err := rows.Scan(&kind, &count, &cost); err != nil {
			return stats, err
		}
		stats.ByKind[core.CacheKind(kind)] = count
		stats.Entries += count
		stats.TotalCost += cost
	}
	if err := rows.Err(); err != nil {
		return stats, err
	}

	if stats.Entries > 0 {
		var oldest, newest int64
		err := s.db.QueryRowContext(ctx, `SELECT MIN(created_at), MAX(created_at) FROM cache_entries`).Scan(&oldest, &newest)
		if err != nil {
			return stats, fmt.Errorf("failed to get age range: %w", err)
		}
		stats.Oldest = time.Unix(0, oldest).UTC()
		stats.Newest = time.Unix(0, newest).UTC()
	}
	return stats, nil
}

// ClearCache removes all cached data
func (s *Store) ClearCache(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, "DELETE FROM cache_entries"); err != nil {
		return fmt.Errorf("failed to clear cache_entries table: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, "VACUUM"); err != nil {
		return fmt.Errorf("failed to vacuum database: %w", err)
	}
	return nil
}

var _ ledger.Backend = (*Store)(nil)
