package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/groomwise/outpost/internal/hub"
	"github.com/groomwise/outpost/internal/license"
	"github.com/groomwise/outpost/internal/store"
)

var (
	// ErrUserNotCached indicates no credential cache exists for the email.
	// The user has never logged in online from this device.
	ErrUserNotCached = errors.New("user not cached on this device")
	// ErrBadCredential indicates the submitted password or PIN does not
	// match the cached verifier, or the PIN's tenant does not match.
	ErrBadCredential = errors.New("bad credential")
	// ErrOfflineWindowExpired indicates the credentials are correct but the
	// offline grace window has lapsed; the device must reach the Hub again.
	ErrOfflineWindowExpired = errors.New("offline window expired")
)

// HubAuthenticator is the Hub operation the gate needs for the online path.
type HubAuthenticator interface {
	Login(ctx context.Context, email, password string) (*hub.LoginResponse, error)
}

// CredentialStore defines the credential cache operations used by the gate.
type CredentialStore interface {
	GetCredentialByEmail(ctx context.Context, email string) (*store.CredentialRecord, error)
	UpsertCredential(ctx context.Context, rec *store.CredentialRecord) (*store.CredentialRecord, error)
	SetCredentialPIN(ctx context.Context, userID, pinHash string) error
}

// LicenseResolver is the slice of the Reconciler the gate depends on.
type LicenseResolver interface {
	Reconcile(ctx context.Context, tenantID string, remote *license.RemoteState) (*license.Verdict, error)
	CurrentVerdict(ctx context.Context, tenantID string) (*license.Verdict, error)
}

// LoginResult is returned to the session/UI layer on a successful login.
type LoginResult struct {
	Token     string           `json:"token"`
	ExpiresAt time.Time        `json:"expires_at"`
	UserID    string           `json:"user_id"`
	Email     string           `json:"email"`
	TenantID  string           `json:"tenant_id"`
	Offline   bool             `json:"offline"`
	Verdict   *license.Verdict `json:"verdict"`
}

// Gate validates logins: online against the Hub when reachable, otherwise
// against the local credential cache, bounded by the reconciler's
// offline-validity window.
type Gate struct {
	hub      HubAuthenticator
	creds    CredentialStore
	licenses LicenseResolver
	sessions *Sessions
	now      func() time.Time
	logger   zerolog.Logger
}

// NewGate creates an authentication gate.
func NewGate(hubAuth HubAuthenticator, creds CredentialStore, licenses LicenseResolver, sessions *Sessions, logger zerolog.Logger) *Gate {
	return &Gate{
		hub:      hubAuth,
		creds:    creds,
		licenses: licenses,
		sessions: sessions,
		now:      time.Now,
		logger:   logger.With().Str("component", "auth_gate").Logger(),
	}
}

// Login authenticates a user. The online path is always tried first. An
// explicit denial from the Hub is terminal - a revoked password must not be
// bypassed via the stale cache. Only an unreachable Hub falls through to the
// offline path.
func (g *Gate) Login(ctx context.Context, email, password string) (*LoginResult, error) {
	resp, err := g.hub.Login(ctx, email, password)
	switch {
	case err == nil:
		return g.finishOnline(ctx, password, resp)
	case errors.Is(err, hub.ErrAuthDenied):
		g.logger.Info().Str("email", email).Msg("hub denied credentials")
		return nil, hub.ErrAuthDenied
	case errors.Is(err, license.ErrUnreachable):
		g.logger.Debug().Str("email", email).Msg("hub unreachable, trying offline login")
		return g.loginOffline(ctx, email, password)
	default:
		return nil, fmt.Errorf("online login: %w", err)
	}
}

// finishOnline records the confirmed credentials and reconciles the license
// state the Hub piggybacked on the login response. This is the only path
// that writes the credential cache. A session is issued even when the
// license verdict is invalid, so the user can reach the plan-selection flow.
func (g *Gate) finishOnline(ctx context.Context, password string, resp *hub.LoginResponse) (*LoginResult, error) {
	now := g.now()

	passwordHash, err := HashPassword(password)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}

	// Carry an existing PIN forward; online logins refresh the password
	// verifier, they don't revoke the quick-unlock PIN.
	var pinHash string
	if existing, err := g.creds.GetCredentialByEmail(ctx, resp.Email); err == nil && existing != nil {
		pinHash = existing.PINHash
	}

	if _, err := g.creds.UpsertCredential(ctx, &store.CredentialRecord{
		UserID:        resp.UserID,
		Email:         resp.Email,
		TenantID:      resp.TenantID,
		PasswordHash:  passwordHash,
		PINHash:       pinHash,
		LastHubAuthAt: &now,
		UpdatedAt:     now,
	}); err != nil {
		return nil, fmt.Errorf("cache credential: %w", err)
	}

	var verdict *license.Verdict
	if resp.License != nil {
		verdict, err = g.licenses.Reconcile(ctx, resp.TenantID, resp.License)
	} else {
		g.logger.Warn().Str("tenant_id", resp.TenantID).Msg("hub login response carried no license state")
		verdict, err = g.licenses.CurrentVerdict(ctx, resp.TenantID)
	}
	if err != nil {
		return nil, fmt.Errorf("reconcile after login: %w", err)
	}

	token, expiresAt, err := g.sessions.Issue(resp.UserID, resp.TenantID, resp.Email, verdict.Plan, false)
	if err != nil {
		return nil, err
	}

	g.logger.Info().
		Str("user_id", resp.UserID).
		Str("tenant_id", resp.TenantID).
		Bool("license_valid", verdict.Valid).
		Msg("online login succeeded")

	return &LoginResult{
		Token:     token,
		ExpiresAt: expiresAt,
		UserID:    resp.UserID,
		Email:     resp.Email,
		TenantID:  resp.TenantID,
		Offline:   false,
		Verdict:   verdict,
	}, nil
}

// loginOffline validates the password against the cached verifier. Even
// correct credentials are denied once the offline window has lapsed.
func (g *Gate) loginOffline(ctx context.Context, email, password string) (*LoginResult, error) {
	cred, err := g.creds.GetCredentialByEmail(ctx, email)
	if err != nil {
		return nil, fmt.Errorf("lookup cached credential: %w", err)
	}
	if cred == nil {
		return nil, ErrUserNotCached
	}

	if !VerifyPassword(cred.PasswordHash, password) {
		return nil, ErrBadCredential
	}

	return g.finishOffline(ctx, cred)
}

// LoginWithPin authenticates with the 4-digit quick-unlock PIN. The PIN is a
// device-local credential: it is always verified against the cache, and a
// tenant mismatch between the cached record and the caller's tenant is a bad
// credential, never silently corrected.
func (g *Gate) LoginWithPin(ctx context.Context, email, pin, tenantID string) (*LoginResult, error) {
	cred, err := g.creds.GetCredentialByEmail(ctx, email)
	if err != nil {
		return nil, fmt.Errorf("lookup cached credential: %w", err)
	}
	if cred == nil {
		return nil, ErrUserNotCached
	}

	if tenantID != "" && cred.TenantID != tenantID {
		g.logger.Warn().Str("email", email).Msg("pin login tenant mismatch")
		return nil, ErrBadCredential
	}

	if !VerifyPIN(cred.PINHash, pin) {
		return nil, ErrBadCredential
	}

	return g.finishOffline(ctx, cred)
}

// finishOffline checks the offline window and issues a cache-backed session
// carrying the last-cached plan, not upgraded and not re-verified.
func (g *Gate) finishOffline(ctx context.Context, cred *store.CredentialRecord) (*LoginResult, error) {
	verdict, err := g.licenses.CurrentVerdict(ctx, cred.TenantID)
	if err != nil {
		return nil, fmt.Errorf("derive offline verdict: %w", err)
	}

	if verdict.OfflineDaysLeft <= 0 {
		g.logger.Warn().
			Str("user_id", cred.UserID).
			Str("tenant_id", cred.TenantID).
			Msg("offline login denied: grace window exhausted")
		return nil, ErrOfflineWindowExpired
	}

	token, expiresAt, err := g.sessions.Issue(cred.UserID, cred.TenantID, cred.Email, verdict.Plan, true)
	if err != nil {
		return nil, err
	}

	g.logger.Info().
		Str("user_id", cred.UserID).
		Str("tenant_id", cred.TenantID).
		Int("offline_days_left", verdict.OfflineDaysLeft).
		Msg("offline login succeeded")

	return &LoginResult{
		Token:     token,
		ExpiresAt: expiresAt,
		UserID:    cred.UserID,
		Email:     cred.Email,
		TenantID:  cred.TenantID,
		Offline:   true,
		Verdict:   verdict,
	}, nil
}

// SetPIN sets the quick-unlock PIN for a user who already holds a cached
// credential. Callers must only invoke this from an online-authenticated
// session.
func (g *Gate) SetPIN(ctx context.Context, email, pin string) error {
	hash, err := HashPIN(pin)
	if err != nil {
		return err
	}

	cred, err := g.creds.GetCredentialByEmail(ctx, email)
	if err != nil {
		return fmt.Errorf("lookup cached credential: %w", err)
	}
	if cred == nil {
		return ErrUserNotCached
	}

	if err := g.creds.SetCredentialPIN(ctx, cred.UserID, hash); err != nil {
		return err
	}

	g.logger.Info().Str("user_id", cred.UserID).Msg("quick-unlock pin updated")
	return nil
}
