package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/groomwise/outpost/internal/license"
)

// GetLicense retrieves the license record for a tenant. Returns (nil, nil) if
// no record exists. An unparsable row returns a clamped, unlicensed record
// alongside ErrRecordCorrupt so the caller can degrade instead of crash.
func (s *Store) GetLicense(ctx context.Context, tenantID string) (*license.Record, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT tenant_id, registered, licensed, status, plan_key, max_seats, grace_days, expires_at, last_checked, updated_at
		FROM tenant_licenses
		WHERE tenant_id = ?
	`, tenantID)

	rec, err := s.scanLicense(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return rec, err
}

// UpsertLicense writes the full license record for a tenant, creating it if
// absent. The write is a single atomic row replace; the materialized record
// is re-read and returned for immediate consistency.
func (s *Store) UpsertLicense(ctx context.Context, rec *license.Record) (*license.Record, error) {
	var expiresAt, lastChecked sql.NullString
	if rec.ExpiresAt != nil {
		expiresAt = sql.NullString{String: rec.ExpiresAt.UTC().Format(time.RFC3339), Valid: true}
	}
	if rec.LastChecked != nil {
		lastChecked = sql.NullString{String: rec.LastChecked.UTC().Format(time.RFC3339), Valid: true}
	}

	var planKey sql.NullString
	if rec.PlanKey != nil {
		planKey = nullString(*rec.PlanKey)
	}
	var maxSeats sql.NullInt64
	if rec.MaxSeats != nil {
		maxSeats = sql.NullInt64{Int64: int64(*rec.MaxSeats), Valid: true}
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO tenant_licenses (tenant_id, registered, licensed, status, plan_key, max_seats, grace_days, expires_at, last_checked, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(tenant_id) DO UPDATE SET
			registered = excluded.registered,
			licensed = excluded.licensed,
			status = excluded.status,
			plan_key = excluded.plan_key,
			max_seats = excluded.max_seats,
			grace_days = excluded.grace_days,
			expires_at = excluded.expires_at,
			last_checked = excluded.last_checked,
			updated_at = excluded.updated_at
	`,
		rec.TenantID,
		boolToInt(rec.Registered),
		boolToInt(rec.Licensed),
		string(rec.Status),
		planKey,
		maxSeats,
		rec.GraceDays,
		expiresAt,
		lastChecked,
		rec.UpdatedAt.UTC().Format(time.RFC3339),
	)
	if err != nil {
		return nil, fmt.Errorf("upsert license for tenant %s: %w", rec.TenantID, err)
	}

	stored, err := s.GetLicense(ctx, rec.TenantID)
	if err != nil {
		return nil, err
	}
	if stored == nil {
		return nil, fmt.Errorf("upsert license for tenant %s: record missing after write", rec.TenantID)
	}
	return stored, nil
}

// ListTenantIDs returns all tenant IDs with a cached license record.
func (s *Store) ListTenantIDs(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT tenant_id FROM tenant_licenses ORDER BY tenant_id`)
	if err != nil {
		return nil, fmt.Errorf("list tenants: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan tenant id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate tenants: %w", err)
	}
	return ids, nil
}

// scanLicense scans a single row into a license.Record.
func (s *Store) scanLicense(row *sql.Row) (*license.Record, error) {
	var (
		rec                             license.Record
		registered, licensed            int
		statusStr, updatedAtStr         string
		planKey, expiresAt, lastChecked sql.NullString
		maxSeats                        sql.NullInt64
	)

	err := row.Scan(&rec.TenantID, &registered, &licensed, &statusStr, &planKey, &maxSeats, &rec.GraceDays, &expiresAt, &lastChecked, &updatedAtStr)
	if err != nil {
		return nil, err
	}

	rec.Registered = registered != 0
	rec.Licensed = licensed != 0
	rec.Status = license.Status(statusStr)

	if planKey.Valid {
		v := planKey.String
		rec.PlanKey = &v
	}
	if maxSeats.Valid {
		v := int(maxSeats.Int64)
		rec.MaxSeats = &v
	}

	corrupt := false

	if !rec.Status.IsValid() {
		corrupt = true
	}

	updatedAt, err := time.Parse(time.RFC3339, updatedAtStr)
	if err != nil {
		corrupt = true
	}
	rec.UpdatedAt = updatedAt

	if expiresAt.Valid {
		t, err := time.Parse(time.RFC3339, expiresAt.String)
		if err != nil {
			corrupt = true
		} else {
			rec.ExpiresAt = &t
		}
	}
	if lastChecked.Valid {
		t, err := time.Parse(time.RFC3339, lastChecked.String)
		if err != nil {
			corrupt = true
		} else {
			rec.LastChecked = &t
		}
	}

	if corrupt {
		s.logger.Warn().Str("tenant_id", rec.TenantID).Msg("license record corrupt, clamping to unlicensed")
		clamped := license.NewRecord(rec.TenantID)
		return clamped, fmt.Errorf("license record for tenant %s: %w", rec.TenantID, ErrRecordCorrupt)
	}

	return &rec, nil
}

// boolToInt converts a bool to the 0/1 SQLite encoding.
func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
