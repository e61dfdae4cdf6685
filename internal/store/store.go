// Package store provides the durable local cache for the Outpost daemon,
// backed by SQLite: per-tenant license records, per-user credential records,
// and a small metadata table.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/rs/zerolog"
	_ "modernc.org/sqlite"
)

// ErrRecordCorrupt indicates a stored row could not be parsed. Callers clamp
// to a safe "not licensed" default instead of failing.
var ErrRecordCorrupt = errors.New("record corrupt")

// Store is the SQLite-backed local cache. All rows are independent per
// tenant/user key; writes are single-row last-writer-wins upserts.
type Store struct {
	db     *sql.DB
	logger zerolog.Logger
}

// New opens (or creates) the Outpost database in the given data directory.
func New(dataDir string, logger zerolog.Logger) (*Store, error) {
	if err := os.MkdirAll(dataDir, 0700); err != nil {
		return nil, fmt.Errorf("create data directory: %w", err)
	}

	dbPath := filepath.Join(dataDir, "outpost.db")
	db, err := sql.Open("sqlite", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	s := &Store{
		db:     db,
		logger: logger.With().Str("component", "store").Logger(),
	}

	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate database: %w", err)
	}

	s.logger.Info().Str("path", dbPath).Msg("local cache database initialized")

	return s, nil
}

// migrate creates the necessary tables.
func (s *Store) migrate() error {
	schema := `
		CREATE TABLE IF NOT EXISTS tenant_licenses (
			tenant_id TEXT PRIMARY KEY,
			registered INTEGER NOT NULL DEFAULT 0,
			licensed INTEGER NOT NULL DEFAULT 0,
			status TEXT NOT NULL DEFAULT 'not_registered',
			plan_key TEXT,
			max_seats INTEGER,
			grace_days INTEGER NOT NULL DEFAULT 7,
			expires_at TEXT,
			last_checked TEXT,
			updated_at TEXT NOT NULL
		);

		CREATE TABLE IF NOT EXISTS user_credentials (
			user_id TEXT PRIMARY KEY,
			email TEXT NOT NULL UNIQUE,
			tenant_id TEXT NOT NULL,
			password_hash TEXT NOT NULL,
			pin_hash TEXT,
			last_hub_auth_at TEXT,
			updated_at TEXT NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_user_credentials_tenant ON user_credentials(tenant_id);

		CREATE TABLE IF NOT EXISTS outpost_metadata (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL,
			updated_at TEXT NOT NULL DEFAULT (datetime('now'))
		);
	`

	_, err := s.db.Exec(schema)
	return err
}

// SetMetadata stores a key-value pair in the metadata table.
func (s *Store) SetMetadata(ctx context.Context, key, value string) error {
	query := `
		INSERT INTO outpost_metadata (key, value, updated_at)
		VALUES (?, ?, datetime('now'))
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at
	`
	_, err := s.db.ExecContext(ctx, query, key, value)
	if err != nil {
		return fmt.Errorf("set metadata %s: %w", key, err)
	}
	return nil
}

// GetMetadata retrieves a value from the metadata table. Missing keys return
// an empty string.
func (s *Store) GetMetadata(ctx context.Context, key string) (string, error) {
	var value string
	err := s.db.QueryRowContext(ctx, "SELECT value FROM outpost_metadata WHERE key = ?", key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("get metadata %s: %w", key, err)
	}
	return value, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// nullString converts a string to sql.NullString.
func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}
