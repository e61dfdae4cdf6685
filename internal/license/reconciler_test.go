package license

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

// memStore is an in-memory RecordStore that counts writes.
type memStore struct {
	records map[string]*Record
	getErr  error
	upserts int
}

func newMemStore() *memStore {
	return &memStore{records: make(map[string]*Record)}
}

func (m *memStore) GetLicense(ctx context.Context, tenantID string) (*Record, error) {
	if m.getErr != nil {
		clamped := NewRecord(tenantID)
		return clamped, m.getErr
	}
	rec, ok := m.records[tenantID]
	if !ok {
		return nil, nil
	}
	cp := *rec
	return &cp, nil
}

func (m *memStore) UpsertLicense(ctx context.Context, rec *Record) (*Record, error) {
	m.upserts++
	cp := *rec
	m.records[rec.TenantID] = &cp
	out := cp
	return &out, nil
}

// memInstalls is a fixed-count InstallProbe.
type memInstalls struct {
	count int
}

func (m *memInstalls) CountCredentialsByTenant(ctx context.Context, tenantID string) (int, error) {
	return m.count, nil
}

func newTestReconciler(store *memStore, installs InstallProbe, at time.Time) *Reconciler {
	r := NewReconciler(store, installs, DefaultOfflineMaxDays, zerolog.Nop())
	return r.WithClock(func() time.Time { return at })
}

func activeRemote(plan string) *RemoteState {
	return &RemoteState{
		Licensed:  true,
		Status:    StatusActive,
		PlanKey:   plan,
		MaxSeats:  5,
		GraceDays: DefaultGraceDays,
	}
}

func TestReconcile_OnlineConfirmation(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	store := newMemStore()
	rec := newTestReconciler(store, &memInstalls{}, now)

	v, err := rec.Reconcile(context.Background(), "tenant-1", activeRemote(PlanPro))
	if err != nil {
		t.Fatalf("reconcile: %v", err)
	}

	if !v.Valid {
		t.Error("expected valid verdict after online confirmation")
	}
	if !v.Online {
		t.Error("expected online flag set")
	}
	if v.Plan != PlanPro {
		t.Errorf("plan = %q, want %q", v.Plan, PlanPro)
	}
	if v.OfflineDaysLeft != DefaultOfflineMaxDays {
		t.Errorf("offline days = %d, want %d", v.OfflineDaysLeft, DefaultOfflineMaxDays)
	}

	stored := store.records["tenant-1"]
	if stored == nil {
		t.Fatal("expected record persisted")
	}
	if !stored.Registered || !stored.Licensed {
		t.Error("expected record registered and licensed")
	}
	if stored.LastChecked == nil || !stored.LastChecked.Equal(now) {
		t.Errorf("last checked = %v, want %v", stored.LastChecked, now)
	}
}

func TestReconcile_OfflineWithinWindow(t *testing.T) {
	start := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	store := newMemStore()

	// Confirm online, then come back three days later with no connectivity.
	if _, err := newTestReconciler(store, &memInstalls{}, start).
		Reconcile(context.Background(), "tenant-1", activeRemote(PlanStarter)); err != nil {
		t.Fatalf("seed record: %v", err)
	}
	before := *store.records["tenant-1"]
	writesBefore := store.upserts

	later := start.Add(3 * 24 * time.Hour)
	v, err := newTestReconciler(store, &memInstalls{}, later).
		Reconcile(context.Background(), "tenant-1", nil)
	if err != nil {
		t.Fatalf("offline reconcile: %v", err)
	}

	if !v.Valid {
		t.Error("expected valid verdict inside offline window")
	}
	if v.Online {
		t.Error("expected online flag unset")
	}
	if want := DefaultOfflineMaxDays - 3; v.OfflineDaysLeft != want {
		t.Errorf("offline days = %d, want %d", v.OfflineDaysLeft, want)
	}

	// An offline cycle must not write, and the record must be untouched.
	if store.upserts != writesBefore {
		t.Errorf("upserts = %d, want %d", store.upserts, writesBefore)
	}
	after := *store.records["tenant-1"]
	if before != after {
		t.Errorf("record changed during offline cycle:\n before %+v\n after  %+v", before, after)
	}
}

func TestReconcile_OfflineWindowExhausted(t *testing.T) {
	start := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	store := newMemStore()
	if _, err := newTestReconciler(store, &memInstalls{}, start).
		Reconcile(context.Background(), "tenant-1", activeRemote(PlanMax)); err != nil {
		t.Fatalf("seed record: %v", err)
	}

	later := start.Add(time.Duration(DefaultOfflineMaxDays+6) * 24 * time.Hour)
	v, err := newTestReconciler(store, &memInstalls{}, later).
		Reconcile(context.Background(), "tenant-1", nil)
	if err != nil {
		t.Fatalf("offline reconcile: %v", err)
	}

	if v.Valid {
		t.Error("expected invalid verdict after window exhaustion")
	}
	if v.OfflineDaysLeft != 0 {
		t.Errorf("offline days = %d, want 0", v.OfflineDaysLeft)
	}
	if !v.IsInstalled {
		t.Error("expired window must still report installed, not wiped")
	}
	if v.Status != StatusActive {
		t.Errorf("status = %q, cached status must survive the window", v.Status)
	}
}

func TestReconcile_ReconnectRestoresValidity(t *testing.T) {
	start := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	store := newMemStore()
	if _, err := newTestReconciler(store, &memInstalls{}, start).
		Reconcile(context.Background(), "tenant-1", activeRemote(PlanPro)); err != nil {
		t.Fatalf("seed record: %v", err)
	}

	// Far past the window, the Hub comes back and confirms.
	later := start.Add(40 * 24 * time.Hour)
	rec := newTestReconciler(store, &memInstalls{}, later)

	v, err := rec.Reconcile(context.Background(), "tenant-1", nil)
	if err != nil {
		t.Fatalf("offline reconcile: %v", err)
	}
	if v.Valid {
		t.Fatal("expected invalid before reconnect")
	}

	v, err = rec.Reconcile(context.Background(), "tenant-1", activeRemote(PlanPro))
	if err != nil {
		t.Fatalf("online reconcile: %v", err)
	}
	if !v.Valid {
		t.Error("expected validity restored by online confirmation")
	}
	if v.OfflineDaysLeft != DefaultOfflineMaxDays {
		t.Errorf("offline days = %d, want full window after reconnect", v.OfflineDaysLeft)
	}
}

func TestReconcile_OnlineDenialWins(t *testing.T) {
	start := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	store := newMemStore()
	if _, err := newTestReconciler(store, &memInstalls{}, start).
		Reconcile(context.Background(), "tenant-1", activeRemote(PlanPro)); err != nil {
		t.Fatalf("seed record: %v", err)
	}

	// One hour later, well inside the offline window, the Hub says suspended.
	// The authoritative denial must not be softened by remaining grace days.
	later := start.Add(time.Hour)
	v, err := newTestReconciler(store, &memInstalls{}, later).
		Reconcile(context.Background(), "tenant-1", &RemoteState{
			Licensed: false,
			Status:   StatusSuspended,
		})
	if err != nil {
		t.Fatalf("online reconcile: %v", err)
	}

	if v.Valid {
		t.Error("online denial must yield an invalid verdict")
	}
	if !v.Online {
		t.Error("expected online flag set")
	}
	if store.records["tenant-1"].Licensed {
		t.Error("denial must be persisted")
	}
}

func TestReconcile_MalformedStatusClampsUnlicensed(t *testing.T) {
	start := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	store := newMemStore()
	if _, err := newTestReconciler(store, &memInstalls{}, start).
		Reconcile(context.Background(), "tenant-1", activeRemote(PlanPro)); err != nil {
		t.Fatalf("seed record: %v", err)
	}

	v, err := newTestReconciler(store, &memInstalls{}, start.Add(time.Hour)).
		Reconcile(context.Background(), "tenant-1", &RemoteState{
			Licensed: true,
			Status:   "turbo_premium",
		})
	if err != nil {
		t.Fatalf("reconcile: %v", err)
	}

	if v.Valid {
		t.Error("unrecognized status must never grant validity")
	}
	if store.records["tenant-1"].Licensed {
		t.Error("unrecognized status must clamp licensed=false")
	}
	if got := store.records["tenant-1"].Status; got != StatusActive {
		t.Errorf("status = %q, cached status should survive a malformed payload", got)
	}
}

func TestReconcile_PlanAuthorityWins(t *testing.T) {
	start := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	store := newMemStore()
	rec := newTestReconciler(store, &memInstalls{}, start)

	if _, err := rec.Reconcile(context.Background(), "tenant-1", activeRemote(PlanMax)); err != nil {
		t.Fatalf("seed record: %v", err)
	}

	// Hub reports a downgrade: its value replaces the cached plan.
	v, err := rec.Reconcile(context.Background(), "tenant-1", activeRemote(PlanStarter))
	if err != nil {
		t.Fatalf("reconcile: %v", err)
	}
	if v.Plan != PlanStarter {
		t.Errorf("plan = %q, want authority's %q", v.Plan, PlanStarter)
	}

	// Hub omits the plan: the cached value survives.
	remote := activeRemote("")
	v, err = rec.Reconcile(context.Background(), "tenant-1", remote)
	if err != nil {
		t.Fatalf("reconcile: %v", err)
	}
	if v.Plan != PlanStarter {
		t.Errorf("plan = %q, cached plan should survive a silent payload", v.Plan)
	}
}

func TestReconcile_TimestampsNeverMoveBackward(t *testing.T) {
	start := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	store := newMemStore()
	if _, err := newTestReconciler(store, &memInstalls{}, start).
		Reconcile(context.Background(), "tenant-1", activeRemote(PlanPro)); err != nil {
		t.Fatalf("seed record: %v", err)
	}

	// Wall clock jumped backward a day. A fresh confirmation must not regress
	// the contact timestamps.
	earlier := start.Add(-24 * time.Hour)
	if _, err := newTestReconciler(store, &memInstalls{}, earlier).
		Reconcile(context.Background(), "tenant-1", activeRemote(PlanPro)); err != nil {
		t.Fatalf("reconcile: %v", err)
	}

	stored := store.records["tenant-1"]
	if stored.LastChecked.Before(start) {
		t.Errorf("last checked moved backward to %v", stored.LastChecked)
	}
	if stored.UpdatedAt.Before(start) {
		t.Errorf("updated at moved backward to %v", stored.UpdatedAt)
	}
}

func TestReconcile_NeverContactedHasNoOfflineWindow(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	rec := newTestReconciler(newMemStore(), &memInstalls{}, now)

	v, err := rec.CurrentVerdict(context.Background(), "tenant-fresh")
	if err != nil {
		t.Fatalf("current verdict: %v", err)
	}

	if v.Valid {
		t.Error("never-contacted tenant must not be valid")
	}
	if v.OfflineDaysLeft != 0 {
		t.Errorf("offline days = %d, want 0 for never-contacted record", v.OfflineDaysLeft)
	}
	if v.IsInstalled {
		t.Error("no record and no cached users means not installed")
	}
}

func TestReconcile_CachedCredentialsImplyInstalled(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	rec := newTestReconciler(newMemStore(), &memInstalls{count: 2}, now)

	v, err := rec.CurrentVerdict(context.Background(), "tenant-1")
	if err != nil {
		t.Fatalf("current verdict: %v", err)
	}

	if !v.IsInstalled {
		t.Error("cached credentials must imply installed even without a license record")
	}
	if v.Valid {
		t.Error("installed without a license record must still be invalid")
	}
}

func TestReconcile_CorruptRecordDegradesSafely(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	store := newMemStore()
	store.getErr = ErrNotActivated // any error alongside a clamped record

	rec := newTestReconciler(store, &memInstalls{}, now)
	v, err := rec.CurrentVerdict(context.Background(), "tenant-1")
	if err != nil {
		t.Fatalf("expected clamped record to be usable, got %v", err)
	}
	if v.Valid {
		t.Error("clamped record must be unlicensed")
	}
}

func TestReconcile_IdempotentVerdict(t *testing.T) {
	start := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	store := newMemStore()
	if _, err := newTestReconciler(store, &memInstalls{}, start).
		Reconcile(context.Background(), "tenant-1", activeRemote(PlanPro)); err != nil {
		t.Fatalf("seed record: %v", err)
	}

	later := start.Add(2 * 24 * time.Hour)
	rec := newTestReconciler(store, &memInstalls{}, later)

	first, err := rec.CurrentVerdict(context.Background(), "tenant-1")
	if err != nil {
		t.Fatalf("first verdict: %v", err)
	}
	second, err := rec.CurrentVerdict(context.Background(), "tenant-1")
	if err != nil {
		t.Fatalf("second verdict: %v", err)
	}

	if *first != *second {
		t.Errorf("verdicts differ on repeated queries:\n first  %+v\n second %+v", first, second)
	}
}

func TestReconcile_ExpiredLicenseInvalidEvenOnline(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	expired := now.Add(-time.Hour)
	store := newMemStore()
	rec := newTestReconciler(store, &memInstalls{}, now)

	remote := activeRemote(PlanPro)
	remote.ExpiresAt = &expired

	v, err := rec.Reconcile(context.Background(), "tenant-1", remote)
	if err != nil {
		t.Fatalf("reconcile: %v", err)
	}
	if v.Valid {
		t.Error("expired license must be invalid even when the hub is reachable")
	}
}

func TestRecordActivation(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	store := newMemStore()
	rec := newTestReconciler(store, &memInstalls{}, now)

	v, err := rec.RecordActivation(context.Background(), "tenant-1", &Activation{
		LicenseToken: "tok-123",
		Plan:         PlanStarter,
	})
	if err != nil {
		t.Fatalf("record activation: %v", err)
	}

	if !v.Valid || !v.IsInstalled {
		t.Error("activation must yield a valid, installed verdict")
	}
	if v.Plan != PlanStarter {
		t.Errorf("plan = %q, want %q", v.Plan, PlanStarter)
	}
	if store.records["tenant-1"] == nil {
		t.Fatal("activation must create the license record")
	}
}

func TestOfflineDaysLeft(t *testing.T) {
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name    string
		elapsed time.Duration
		want    int
	}{
		{"same day", 0, 14},
		{"under one day", 23 * time.Hour, 14},
		{"three days", 3 * 24 * time.Hour, 11},
		{"boundary", 14 * 24 * time.Hour, 0},
		{"past boundary", 30 * 24 * time.Hour, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			checked := base
			rec := &Record{TenantID: "t", LastChecked: &checked, UpdatedAt: base}
			got := rec.OfflineDaysLeft(base.Add(tt.elapsed), DefaultOfflineMaxDays)
			if got != tt.want {
				t.Errorf("OfflineDaysLeft = %d, want %d", got, tt.want)
			}
		})
	}
}
