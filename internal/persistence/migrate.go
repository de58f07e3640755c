package persistence

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"log/slog"
	"path"
	"sort"
	"strconv"
	"strings"

	"driftwatch/internal/logger"
)

//go:embed migrations/*.sql
var migrationFiles embed.FS

// Migration is one embedded schema file, named NNN_description.sql.
type Migration struct {
	Version     int
	Description string
	SQL         string
}

// MigrationManager applies the embedded schema files in version order.
type MigrationManager struct {
	db  *sql.DB
	log *slog.Logger
}

// NewMigrationManager creates a new migration manager
func NewMigrationManager(db *sql.DB) *MigrationManager {
	return &MigrationManager{db: db, log: logger.Get()}
}

// Migrate applies every migration that is not yet recorded in
// schema_migrations, each in its own transaction.
func (m *MigrationManager) Migrate(ctx context.Context) error {
	_, err := m.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version INT PRIMARY KEY,
			description TEXT NOT NULL,
			applied_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW()
		)`)
	if err != nil {
		return fmt.Errorf("failed to create migrations table: %w", err)
	}

	applied, err := m.applied(ctx)
	if err != nil {
		return fmt.Errorf("failed to get applied migrations: %w", err)
	}
	available, err := LoadMigrations()
	if err != nil {
		return err
	}

	count := 0
	for _, mig := range available {
		if applied[mig.Version] {
			continue
		}
		if err := m.apply(ctx, mig); err != nil {
			return fmt.Errorf("failed to apply migration %d: %w", mig.Version, err)
		}
		count++
	}
	if count > 0 {
		m.log.Info("Migrations applied", "count", count)
	}
	return nil
}

func (m *MigrationManager) applied(ctx context.Context) (map[int]bool, error) {
	rows, err := m.db.QueryContext(ctx, `SELECT version FROM schema_migrations`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	versions := make(map[int]bool)
	for rows.Next() {
		var v int
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		versions[v] = true
	}
	return versions, rows.Err()
}

func (m *MigrationManager) apply(ctx context.Context, mig Migration) error {
	m.log.Info("Applying migration", "version", mig.Version, "description", mig.Description)

	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, mig.SQL); err != nil {
		return fmt.Errorf("failed to execute migration SQL: %w", err)
	}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO schema_migrations (version, description)
		VALUES ($1, $2)
		ON CONFLICT (version) DO NOTHING`, mig.Version, mig.Description)
	if err != nil {
		return fmt.Errorf("failed to record migration: %w", err)
	}
	return tx.Commit()
}

// LoadMigrations reads the embedded migration files sorted by version.
func LoadMigrations() ([]Migration, error) {
	entries, err := migrationFiles.ReadDir("migrations")
	if err != nil {
		return nil, fmt.Errorf("failed to read migrations directory: %w", err)
	}

	var migrations []Migration
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, ".sql") {
			continue
		}
		prefix, rest, ok := strings.Cut(name, "_")
		if !ok {
			return nil, fmt.Errorf("migration %s: expected NNN_description.sql", name)
		}
		version, err := strconv.Atoi(prefix)
		if err != nil {
			return nil, fmt.Errorf("migration %s: invalid version: %w", name, err)
		}
		content, err := migrationFiles.ReadFile(path.Join("migrations", name))
		if err != nil {
			return nil, fmt.Errorf("failed to read migration file %s: %w", name, err)
		}
		migrations = append(migrations, Migration{
			Version:     version,
			Description: strings.ReplaceAll(strings.TrimSuffix(rest, ".sql"), "_", " "),
			SQL:         string(content),
		})
	}
	sort.Slice(migrations, func(i, j int) bool { return migrations[i].Version < migrations[j].Version })
	return migrations, nil
}
