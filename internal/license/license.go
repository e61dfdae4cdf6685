// Package license implements the license reconciliation and offline-validity
// logic for the Outpost daemon: the single authoritative answer to "is this
// installation licensed right now", online or not.
package license

import (
	"time"
)

// Status represents the licensing state of a tenant as last reported by the Hub.
type Status string

const (
	// StatusNotRegistered means the tenant has never activated this device.
	StatusNotRegistered Status = "not_registered"
	// StatusTrial means the tenant is inside a trial period.
	StatusTrial Status = "trial"
	// StatusActive means the tenant holds a paid, current license.
	StatusActive Status = "active"
	// StatusSuspended means the Hub has suspended the tenant (e.g. billing hold).
	StatusSuspended Status = "suspended"
	// StatusExpired means the license lapsed and was not renewed.
	StatusExpired Status = "expired"
)

// ValidStatuses returns all recognized status values.
func ValidStatuses() []Status {
	return []Status{StatusNotRegistered, StatusTrial, StatusActive, StatusSuspended, StatusExpired}
}

// IsValid checks if the status is a recognized value.
func (s Status) IsValid() bool {
	for _, valid := range ValidStatuses() {
		if s == valid {
			return true
		}
	}
	return false
}

// CanOperate reports whether the status permits the installation to run.
func (s Status) CanOperate() bool {
	return s == StatusTrial || s == StatusActive
}

// Plan keys as issued by the Hub. The set is open: unknown keys are carried
// through verbatim so new plans don't require a client update.
const (
	PlanStarter = "starter"
	PlanPro     = "pro"
	PlanMax     = "max"
)

// DefaultGraceDays is the plan-level grace period applied when the Hub does
// not supply one.
const DefaultGraceDays = 7

// DefaultOfflineMaxDays is the default maximum number of days a device may
// operate without successfully reaching the Hub.
const DefaultOfflineMaxDays = 14

// Record is the durable per-tenant license record: the last known Hub verdict
// plus the timestamps offline aging is computed from. It is created on first
// activation and only ever overwritten, never deleted.
type Record struct {
	TenantID    string     `json:"tenant_id"`
	Registered  bool       `json:"registered"`
	Licensed    bool       `json:"licensed"`
	Status      Status     `json:"status"`
	PlanKey     *string    `json:"plan_key,omitempty"`
	MaxSeats    *int       `json:"max_seats,omitempty"`
	GraceDays   int        `json:"grace_days"`
	ExpiresAt   *time.Time `json:"expires_at,omitempty"`
	LastChecked *time.Time `json:"last_checked,omitempty"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

// NewRecord returns a fresh, unlicensed record for a tenant.
func NewRecord(tenantID string) *Record {
	return &Record{
		TenantID:  tenantID,
		Status:    StatusNotRegistered,
		GraceDays: DefaultGraceDays,
	}
}

// Verdict is the computed, point-in-time licensing answer. It is derived on
// every query from the stored record, the current time, and the configured
// offline window; it is never persisted.
type Verdict struct {
	TenantID        string     `json:"tenant_id"`
	Valid           bool       `json:"valid"`
	IsInstalled     bool       `json:"is_installed"`
	Plan            string     `json:"plan,omitempty"`
	Status          Status     `json:"status"`
	ExpiresAt       *time.Time `json:"expires_at,omitempty"`
	OfflineDaysLeft int        `json:"offline_days_left"`
	Online          bool       `json:"online"`
	CheckedAt       time.Time  `json:"checked_at"`
}

// lastContact returns the most recent of LastChecked and UpdatedAt, or nil if
// the record has never been written from a successful Hub exchange.
func (r *Record) lastContact() *time.Time {
	t := r.UpdatedAt
	if r.LastChecked != nil && r.LastChecked.After(t) {
		t = *r.LastChecked
	}
	if t.IsZero() {
		return nil
	}
	return &t
}

// OfflineDaysLeft computes how many whole days of offline operation remain for
// the record at the given time. A record that has never seen a successful Hub
// exchange gets zero: a device that was never licensed locally cannot run
// offline.
func (r *Record) OfflineDaysLeft(now time.Time, offlineMaxDays int) int {
	anchor := r.lastContact()
	if anchor == nil {
		return 0
	}
	elapsed := int(now.Sub(*anchor).Hours() / 24)
	left := offlineMaxDays - elapsed
	if left < 0 {
		return 0
	}
	return left
}
