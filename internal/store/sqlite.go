package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/desertthunder/spotauth/internal/shared"
)

// SQLiteBackend stores pairs in the kv table, one row per (scope, key).
type SQLiteBackend struct {
	db    *sql.DB
	scope string
}

// NewSQLiteBackend uses an already migrated database connection.
func NewSQLiteBackend(db *sql.DB, scope string) *SQLiteBackend {
	return &SQLiteBackend{db: db, scope: scope}
}

// OpenSQLite opens the database at cfg.Path, applies pending migrations, and returns a backend for scope.
func OpenSQLite(cfg shared.DatabaseConfig, scope string) (*SQLiteBackend, error) {
	db, err := shared.NewDatabase(cfg.Path)
	if err != nil {
		return nil, err
	}

	if cfg.MaxOpenConns > 0 {
		shared.ConfigureDatabase(db, cfg.MaxOpenConns, cfg.MaxIdleConns)
	}

	if err := shared.RunMigrations(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return NewSQLiteBackend(db, scope), nil
}

// Reset empties the kv table for every scope by rolling the schema back and applying it again.
func (b *SQLiteBackend) Reset() error {
	return shared.ResetMigrations(b.db)
}

// Close closes the underlying database.
func (b *SQLiteBackend) Close() error {
	return b.db.Close()
}

func (b *SQLiteBackend) Get(ctx context.Context, keys ...string) (map[string]string, error) {
	out := make(map[string]string, len(keys))
	if len(keys) == 0 {
		return out, nil
	}

	query := `SELECT key, value FROM kv WHERE scope = ? AND key IN (` + placeholders(len(keys)) + `)`
	args := append([]any{b.scope}, toArgs(keys)...)

	rows, err := b.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query kv: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var key, value string
		if err := rows.Scan(&key, &value); err != nil {
			return nil, fmt.Errorf("failed to scan kv row: %w", err)
		}
		out[key] = value
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row iteration error: %w", err)
	}

	return out, nil
}

// Put upserts every pair inside one transaction.
func (b *SQLiteBackend) Put(ctx context.Context, values map[string]string) error {
	tx, err := b.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	query := `
		INSERT INTO kv (scope, key, value, updated_at) VALUES (?, ?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(scope, key) DO UPDATE SET value = excluded.value, updated_at = CURRENT_TIMESTAMP
	`
	for key, value := range values {
		if _, err := tx.ExecContext(ctx, query, b.scope, key, value); err != nil {
			return fmt.Errorf("failed to write %s: %w", key, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit kv transaction: %w", err)
	}

	return nil
}

func (b *SQLiteBackend) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}

	query := `DELETE FROM kv WHERE scope = ? AND key IN (` + placeholders(len(keys)) + `)`
	args := append([]any{b.scope}, toArgs(keys)...)

	if _, err := b.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("failed to delete kv rows: %w", err)
	}
	return nil
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}

func toArgs(keys []string) []any {
	args := make([]any, len(keys))
	for i, k := range keys {
		args[i] = k
	}
	return args
}
