package license

import (
	"errors"
	"time"
)

var (
	// ErrUnreachable indicates the Hub could not be reached: transport
	// failure, timeout, or a server-side error. It means "unknown", never
	// "denied" - callers fall back to cached state, they do not revoke it.
	ErrUnreachable = errors.New("hub unreachable")
	// ErrActivationRejected indicates the Hub explicitly refused activation
	// (unknown tenant, invalid plan, seat limit). Terminal for the attempt.
	ErrActivationRejected = errors.New("activation rejected by hub")
	// ErrNotActivated indicates an operation that requires a prior
	// activation was attempted on a device with no license record.
	ErrNotActivated = errors.New("device not activated")
)

// RemoteState is the Hub's reported license state for a tenant+device pair,
// as returned by a validate call. A nil RemoteState everywhere in this
// package means "the Hub could not be reached".
type RemoteState struct {
	Licensed  bool       `json:"licensed"`
	Status    Status     `json:"status"`
	PlanKey   string     `json:"plan_key,omitempty"`
	MaxSeats  int        `json:"max_seats,omitempty"`
	GraceDays int        `json:"grace_days,omitempty"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
}

// Activation is the Hub's response to a successful device activation.
type Activation struct {
	LicenseToken string     `json:"license_token"`
	Plan         string     `json:"plan"`
	ExpiresAt    *time.Time `json:"expires_at,omitempty"`
}
