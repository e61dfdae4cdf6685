package license

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
)

// RecordStore defines the persistence operations needed by the Reconciler.
// GetLicense may return both a record and an error: when both are non-nil the
// record is a safe, clamped default for a corrupt row and the caller may
// proceed with it.
type RecordStore interface {
	GetLicense(ctx context.Context, tenantID string) (*Record, error)
	UpsertLicense(ctx context.Context, rec *Record) (*Record, error)
}

// InstallProbe reports whether any local users exist for a tenant. Used to
// derive the "is installed" half of a verdict on devices that have cached
// credentials but lost (or never finished) activation.
type InstallProbe interface {
	CountCredentialsByTenant(ctx context.Context, tenantID string) (int, error)
}

// Reconciler is the single decision engine that merges the Hub's reported
// state with the local cache and produces the authoritative LicenseVerdict.
// Every caller - login, UI queries, the connectivity monitor - goes through
// it; nobody else merges remote and cached state.
type Reconciler struct {
	store          RecordStore
	installs       InstallProbe
	offlineMaxDays int
	now            func() time.Time
	logger         zerolog.Logger
}

// NewReconciler creates a Reconciler. offlineMaxDays <= 0 falls back to
// DefaultOfflineMaxDays.
func NewReconciler(store RecordStore, installs InstallProbe, offlineMaxDays int, logger zerolog.Logger) *Reconciler {
	if offlineMaxDays <= 0 {
		offlineMaxDays = DefaultOfflineMaxDays
	}
	return &Reconciler{
		store:          store,
		installs:       installs,
		offlineMaxDays: offlineMaxDays,
		now:            time.Now,
		logger:         logger.With().Str("component", "reconciler").Logger(),
	}
}

// WithClock overrides the time source. Test hook.
func (r *Reconciler) WithClock(now func() time.Time) *Reconciler {
	r.now = now
	return r
}

// OfflineMaxDays returns the configured offline window in days.
func (r *Reconciler) OfflineMaxDays() int {
	return r.offlineMaxDays
}

// Reconcile computes the authoritative verdict for a tenant. When remote is
// non-nil (the Hub was reached) the stored record is overwritten from it and
// the contact timestamps advance - the only path that can improve trust.
// When remote is nil the stored fields are left untouched and only the
// offline-days counter is derived.
func (r *Reconciler) Reconcile(ctx context.Context, tenantID string, remote *RemoteState) (*Verdict, error) {
	rec, err := r.store.GetLicense(ctx, tenantID)
	if err != nil {
		if rec == nil {
			return nil, fmt.Errorf("load license record: %w", err)
		}
		// Corrupt row came back clamped to unlicensed. Degrade, don't crash.
		r.logger.Warn().Err(err).Str("tenant_id", tenantID).Msg("proceeding with clamped license record")
	}
	if rec == nil {
		rec = NewRecord(tenantID)
	}

	if remote == nil {
		// Hub unreachable: no field may change, only the counter is derived.
		return r.verdict(ctx, rec, false), nil
	}

	r.apply(rec, remote)

	stored, err := r.store.UpsertLicense(ctx, rec)
	if err != nil {
		return nil, fmt.Errorf("persist license record: %w", err)
	}

	r.logger.Debug().
		Str("tenant_id", tenantID).
		Bool("licensed", stored.Licensed).
		Str("status", string(stored.Status)).
		Msg("license record reconciled from hub")

	return r.verdict(ctx, stored, true), nil
}

// CurrentVerdict derives the verdict from the cached record alone, without
// contacting the Hub and without writing anything.
func (r *Reconciler) CurrentVerdict(ctx context.Context, tenantID string) (*Verdict, error) {
	return r.Reconcile(ctx, tenantID, nil)
}

// OfflineDaysLeft returns how many whole days of offline operation remain for
// a tenant right now.
func (r *Reconciler) OfflineDaysLeft(ctx context.Context, tenantID string) (int, error) {
	v, err := r.CurrentVerdict(ctx, tenantID)
	if err != nil {
		return 0, err
	}
	return v.OfflineDaysLeft, nil
}

// RecordActivation persists the record created by a successful activation
// call. Activation is the only path that creates a record for a new tenant.
func (r *Reconciler) RecordActivation(ctx context.Context, tenantID string, act *Activation) (*Verdict, error) {
	remote := &RemoteState{
		Licensed:  true,
		Status:    StatusActive,
		PlanKey:   act.Plan,
		ExpiresAt: act.ExpiresAt,
	}
	return r.Reconcile(ctx, tenantID, remote)
}

// apply overwrites the record's fields from the Hub's reported state.
// Malformed or partial payloads are clamped to safe defaults: an unspecified
// licensed flag is false, an unrecognized status forces unlicensed, a missing
// plan keeps the cached one. Timestamps only move forward.
func (r *Reconciler) apply(rec *Record, remote *RemoteState) {
	now := r.now()

	rec.Licensed = remote.Licensed

	switch {
	case remote.Status.IsValid():
		rec.Status = remote.Status
		if remote.Status != StatusNotRegistered {
			rec.Registered = true
		}
	default:
		// Unknown status from the Hub: keep the cached one but never let a
		// malformed payload grant validity.
		r.logger.Warn().Str("tenant_id", rec.TenantID).Str("status", string(remote.Status)).Msg("unrecognized status from hub")
		rec.Licensed = false
	}
	if rec.Status == "" {
		rec.Status = StatusNotRegistered
	}

	// Plan tie-break: the authority's value always wins when present; the
	// cached value survives only a silent payload.
	if remote.PlanKey != "" {
		plan := remote.PlanKey
		rec.PlanKey = &plan
	}

	if remote.MaxSeats > 0 {
		seats := remote.MaxSeats
		rec.MaxSeats = &seats
	}

	if remote.GraceDays >= 0 {
		rec.GraceDays = remote.GraceDays
	} else {
		rec.GraceDays = 0
	}

	rec.ExpiresAt = remote.ExpiresAt

	// Monotonic trust: lastChecked/updatedAt never move backward, even if
	// the wall clock does.
	if rec.LastChecked == nil || now.After(*rec.LastChecked) {
		t := now
		rec.LastChecked = &t
	}
	if now.After(rec.UpdatedAt) {
		rec.UpdatedAt = now
	}
}

// verdict computes the derived verdict for a record. online reports whether
// the Hub was reached in this cycle.
func (r *Reconciler) verdict(ctx context.Context, rec *Record, online bool) *Verdict {
	now := r.now()
	daysLeft := rec.OfflineDaysLeft(now, r.offlineMaxDays)

	notExpired := rec.ExpiresAt == nil || rec.ExpiresAt.After(now)
	valid := rec.Licensed && rec.Status.CanOperate() && notExpired && (online || daysLeft > 0)

	installed := rec.Registered
	if !installed && r.installs != nil {
		count, err := r.installs.CountCredentialsByTenant(ctx, rec.TenantID)
		if err != nil {
			r.logger.Warn().Err(err).Str("tenant_id", rec.TenantID).Msg("install probe failed")
		} else if count > 0 {
			installed = true
		}
	}

	v := &Verdict{
		TenantID:        rec.TenantID,
		Valid:           valid,
		IsInstalled:     installed,
		Status:          rec.Status,
		ExpiresAt:       rec.ExpiresAt,
		OfflineDaysLeft: daysLeft,
		Online:          online,
		CheckedAt:       now,
	}
	if rec.PlanKey != nil {
		v.Plan = *rec.PlanKey
	}
	return v
}
