package auth

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// DefaultSessionTTL is the default lifetime of a local session token.
const DefaultSessionTTL = 12 * time.Hour

const sessionSecretKey = "session_secret"

// ErrInvalidSession indicates a session token that is missing, malformed,
// expired, or signed with a different secret.
var ErrInvalidSession = errors.New("invalid session token")

// MetadataStore persists the signing secret so sessions survive restarts.
type MetadataStore interface {
	GetMetadata(ctx context.Context, key string) (string, error)
	SetMetadata(ctx context.Context, key, value string) error
}

// SessionClaims are the claims embedded in a local session token. Offline
// marks sessions granted from the credential cache: their plan/entitlements
// are the last-cached values, not re-verified against the Hub.
type SessionClaims struct {
	UserID   string `json:"user_id"`
	TenantID string `json:"tenant_id"`
	Email    string `json:"email"`
	Plan     string `json:"plan,omitempty"`
	Offline  bool   `json:"offline"`
	jwt.RegisteredClaims
}

// Sessions issues and verifies local session tokens (HS256 JWTs). The tokens
// authenticate the ERP UI to this daemon only; they carry no weight with the
// Hub.
type Sessions struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

// NewSessions creates a session issuer. ttl <= 0 falls back to
// DefaultSessionTTL.
func NewSessions(secret []byte, ttl time.Duration) (*Sessions, error) {
	if len(secret) < 32 {
		return nil, fmt.Errorf("session secret must be at least 32 bytes")
	}
	if ttl <= 0 {
		ttl = DefaultSessionTTL
	}
	return &Sessions{secret: secret, ttl: ttl, now: time.Now}, nil
}

// LoadOrCreateSecret returns the persisted signing secret, generating and
// storing a new one on first run so sessions persist across restarts.
func LoadOrCreateSecret(ctx context.Context, meta MetadataStore) ([]byte, error) {
	stored, err := meta.GetMetadata(ctx, sessionSecretKey)
	if err != nil {
		return nil, fmt.Errorf("load session secret: %w", err)
	}
	if stored != "" {
		secret, err := hex.DecodeString(stored)
		if err != nil {
			return nil, fmt.Errorf("decode session secret: %w", err)
		}
		return secret, nil
	}

	secret := make([]byte, 32)
	if _, err := rand.Read(secret); err != nil {
		return nil, fmt.Errorf("generate session secret: %w", err)
	}
	if err := meta.SetMetadata(ctx, sessionSecretKey, hex.EncodeToString(secret)); err != nil {
		return nil, fmt.Errorf("persist session secret: %w", err)
	}
	return secret, nil
}

// Issue creates a signed session token.
func (s *Sessions) Issue(userID, tenantID, email, plan string, offline bool) (string, time.Time, error) {
	now := s.now()
	expiresAt := now.Add(s.ttl)

	claims := SessionClaims{
		UserID:   userID,
		TenantID: tenantID,
		Email:    email,
		Plan:     plan,
		Offline:  offline,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.New().String(),
			Issuer:    "outpost",
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	}

	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign session token: %w", err)
	}
	return token, expiresAt, nil
}

// Parse verifies a session token and returns its claims.
func (s *Sessions) Parse(token string) (*SessionClaims, error) {
	claims := &SessionClaims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return s.secret, nil
	}, jwt.WithTimeFunc(s.now))
	if err != nil || !parsed.Valid {
		return nil, ErrInvalidSession
	}
	return claims, nil
}
