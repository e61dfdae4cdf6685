package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// CredentialRecord is the durable per-user credential cache used only for
// offline authentication. It is written exclusively after a successful online
// authentication - never from an offline success - so the offline window can
// never be extended by cached-checking-cached.
type CredentialRecord struct {
	UserID        string
	Email         string
	TenantID      string
	PasswordHash  string
	PINHash       string
	LastHubAuthAt *time.Time
	UpdatedAt     time.Time
}

// UpsertCredential writes the credential record for a user, creating it if
// absent. Single atomic row replace, keyed by user ID.
func (s *Store) UpsertCredential(ctx context.Context, rec *CredentialRecord) (*CredentialRecord, error) {
	var lastHubAuthAt sql.NullString
	if rec.LastHubAuthAt != nil {
		lastHubAuthAt = sql.NullString{String: rec.LastHubAuthAt.UTC().Format(time.RFC3339), Valid: true}
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO user_credentials (user_id, email, tenant_id, password_hash, pin_hash, last_hub_auth_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(user_id) DO UPDATE SET
			email = excluded.email,
			tenant_id = excluded.tenant_id,
			password_hash = excluded.password_hash,
			pin_hash = excluded.pin_hash,
			last_hub_auth_at = excluded.last_hub_auth_at,
			updated_at = excluded.updated_at
	`,
		rec.UserID,
		rec.Email,
		rec.TenantID,
		rec.PasswordHash,
		nullString(rec.PINHash),
		lastHubAuthAt,
		rec.UpdatedAt.UTC().Format(time.RFC3339),
	)
	if err != nil {
		return nil, fmt.Errorf("upsert credential for user %s: %w", rec.UserID, err)
	}

	stored, err := s.GetCredentialByEmail(ctx, rec.Email)
	if err != nil {
		return nil, err
	}
	if stored == nil {
		return nil, fmt.Errorf("upsert credential for user %s: record missing after write", rec.UserID)
	}
	return stored, nil
}

// GetCredentialByEmail retrieves a cached credential by email. Returns
// (nil, nil) if no record exists.
func (s *Store) GetCredentialByEmail(ctx context.Context, email string) (*CredentialRecord, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT user_id, email, tenant_id, password_hash, pin_hash, last_hub_auth_at, updated_at
		FROM user_credentials
		WHERE email = ?
	`, email)

	rec, err := s.scanCredential(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return rec, err
}

// SetCredentialPIN updates only the PIN hash for a cached user.
func (s *Store) SetCredentialPIN(ctx context.Context, userID, pinHash string) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE user_credentials
		SET pin_hash = ?, updated_at = ?
		WHERE user_id = ?
	`, nullString(pinHash), time.Now().UTC().Format(time.RFC3339), userID)
	if err != nil {
		return fmt.Errorf("set pin for user %s: %w", userID, err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("get rows affected: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("set pin for user %s: no cached credential", userID)
	}
	return nil
}

// CountCredentialsByTenant returns how many users of a tenant have a cached
// credential on this device.
func (s *Store) CountCredentialsByTenant(ctx context.Context, tenantID string) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM user_credentials WHERE tenant_id = ?`, tenantID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count credentials for tenant %s: %w", tenantID, err)
	}
	return count, nil
}

// PruneCredentials removes credentials whose last online authentication is
// older than the given duration. Departed staff age out of the offline cache.
func (s *Store) PruneCredentials(ctx context.Context, olderThan time.Duration) (int, error) {
	cutoff := time.Now().Add(-olderThan).UTC().Format(time.RFC3339)

	result, err := s.db.ExecContext(ctx, `
		DELETE FROM user_credentials
		WHERE last_hub_auth_at IS NOT NULL AND last_hub_auth_at < ?
	`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("prune credentials: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("get rows affected: %w", err)
	}
	return int(affected), nil
}

// scanCredential scans a single row into a CredentialRecord.
func (s *Store) scanCredential(row *sql.Row) (*CredentialRecord, error) {
	var (
		rec                    CredentialRecord
		pinHash, lastHubAuthAt sql.NullString
		updatedAtStr           string
	)

	err := row.Scan(&rec.UserID, &rec.Email, &rec.TenantID, &rec.PasswordHash, &pinHash, &lastHubAuthAt, &updatedAtStr)
	if err != nil {
		return nil, err
	}

	if pinHash.Valid {
		rec.PINHash = pinHash.String
	}
	if lastHubAuthAt.Valid {
		t, err := time.Parse(time.RFC3339, lastHubAuthAt.String)
		if err != nil {
			return nil, fmt.Errorf("credential for user %s: %w", rec.UserID, ErrRecordCorrupt)
		}
		rec.LastHubAuthAt = &t
	}

	updatedAt, err := time.Parse(time.RFC3339, updatedAtStr)
	if err != nil {
		return nil, fmt.Errorf("credential for user %s: %w", rec.UserID, ErrRecordCorrupt)
	}
	rec.UpdatedAt = updatedAt

	return &rec, nil
}
