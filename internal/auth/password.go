// Package auth implements the offline authentication gate for the Outpost
// daemon: online-first login against the Hub with a bounded, cache-backed
// offline fallback, plus local session tokens.
package auth

import (
	"errors"
	"regexp"

	"golang.org/x/crypto/bcrypt"
)

// ErrInvalidPIN indicates a PIN that is not exactly four digits.
var ErrInvalidPIN = errors.New("pin must be exactly 4 digits")

var pinPattern = regexp.MustCompile(`^[0-9]{4}$`)

// HashPassword creates a bcrypt hash of the password.
func HashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

// VerifyPassword checks a password against a bcrypt hash.
func VerifyPassword(hash, password string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil
}

// HashPIN validates and hashes a 4-digit PIN.
func HashPIN(pin string) (string, error) {
	if !pinPattern.MatchString(pin) {
		return "", ErrInvalidPIN
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(pin), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

// VerifyPIN checks a PIN against a bcrypt hash.
func VerifyPIN(hash, pin string) bool {
	if hash == "" {
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(pin)) == nil
}
