package license

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

// fakeHubAPI scripts Validate and Activate.
type fakeHubAPI struct {
	state       *RemoteState
	validateErr error
	activation  *Activation
	activateErr error
}

func (f *fakeHubAPI) Activate(ctx context.Context, tenantID, planID string) (*Activation, error) {
	if f.activateErr != nil {
		return nil, f.activateErr
	}
	return f.activation, nil
}

func (f *fakeHubAPI) Validate(ctx context.Context, tenantID string) (*RemoteState, error) {
	if f.validateErr != nil {
		return nil, f.validateErr
	}
	return f.state, nil
}

func TestService_SyncOnline(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	store := newMemStore()
	rec := newTestReconciler(store, &memInstalls{}, now)
	svc := NewService(&fakeHubAPI{state: activeRemote(PlanPro)}, rec, zerolog.Nop())

	v, err := svc.Sync(context.Background(), "tenant-1")
	if err != nil {
		t.Fatalf("sync: %v", err)
	}
	if !v.Valid || !v.Online {
		t.Errorf("verdict = %+v, want valid and online", v)
	}
	if store.upserts != 1 {
		t.Errorf("upserts = %d, online sync must persist", store.upserts)
	}
}

func TestService_SyncUnreachableKeepsCache(t *testing.T) {
	start := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	store := newMemStore()
	if _, err := newTestReconciler(store, &memInstalls{}, start).
		Reconcile(context.Background(), "tenant-1", activeRemote(PlanPro)); err != nil {
		t.Fatalf("seed: %v", err)
	}
	writes := store.upserts

	later := start.Add(24 * time.Hour)
	rec := newTestReconciler(store, &memInstalls{}, later)
	svc := NewService(&fakeHubAPI{validateErr: ErrUnreachable}, rec, zerolog.Nop())

	v, err := svc.Sync(context.Background(), "tenant-1")
	if err != nil {
		t.Fatalf("sync with unreachable hub must not error: %v", err)
	}
	if v.Online {
		t.Error("verdict must report offline")
	}
	if !v.Valid {
		t.Error("cached validity must survive an unreachable hub")
	}
	if store.upserts != writes {
		t.Error("unreachable sync must not write")
	}
}

func TestService_ActivateRejected(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	store := newMemStore()
	rec := newTestReconciler(store, &memInstalls{}, now)
	svc := NewService(&fakeHubAPI{activateErr: ErrActivationRejected}, rec, zerolog.Nop())

	_, err := svc.Activate(context.Background(), "tenant-1", PlanStarter)
	if err != ErrActivationRejected {
		t.Fatalf("err = %v, want ErrActivationRejected", err)
	}
	if store.upserts != 0 {
		t.Error("rejected activation must not create a record")
	}
}

func TestService_ActivateSuccess(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	store := newMemStore()
	rec := newTestReconciler(store, &memInstalls{}, now)
	svc := NewService(&fakeHubAPI{activation: &Activation{LicenseToken: "tok", Plan: PlanMax}}, rec, zerolog.Nop())

	v, err := svc.Activate(context.Background(), "tenant-1", PlanMax)
	if err != nil {
		t.Fatalf("activate: %v", err)
	}
	if !v.Valid {
		t.Error("activation must yield a valid verdict")
	}
	if v.Plan != PlanMax {
		t.Errorf("plan = %q, want %q", v.Plan, PlanMax)
	}
}
