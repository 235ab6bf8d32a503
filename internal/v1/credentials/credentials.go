// Package credentials implements room password hashing and access-code
// generation for the relay's room admission checks.
package credentials

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"fmt"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"
)

// BCryptCost is the fixed cost for newly hashed room passwords.
const BCryptCost = 12

// AccessCodeLength is the length of generated access codes.
const AccessCodeLength = 8

// accessCodeAlphabet excludes visually ambiguous characters (0,O,1,I,L).
const accessCodeAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"

// HashPassword hashes a room password with bcrypt at the fixed cost.
func HashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), BCryptCost)
	if err != nil {
		return "", fmt.Errorf("failed to hash password: %w", err)
	}
	return string(hash), nil
}

// VerifyPassword checks a candidate password against a stored hash.
// BCrypt hashes ($2a/$2b/$2y prefixes) are verified with bcrypt's own
// comparison. Anything else is treated as the legacy scheme:
// base64(SHA-256(salt || password)), compared in constant time.
func VerifyPassword(password, storedHash, legacySalt string) bool {
	if storedHash == "" {
		return false
	}
	if strings.HasPrefix(storedHash, "$2a$") ||
		strings.HasPrefix(storedHash, "$2b$") ||
		strings.HasPrefix(storedHash, "$2y$") {
		return bcrypt.CompareHashAndPassword([]byte(storedHash), []byte(password)) == nil
	}
	return verifyLegacy(password, storedHash, legacySalt)
}

// verifyLegacy checks the pre-bcrypt scheme: base64(SHA-256(salt||password)).
func verifyLegacy(password, storedHash, salt string) bool {
	sum := sha256.Sum256([]byte(salt + password))
	computed := base64.StdEncoding.EncodeToString(sum[:])
	return subtle.ConstantTimeCompare([]byte(computed), []byte(storedHash)) == 1
}

// AccessCode is a room-scoped shareable join token with an expiry.
type AccessCode struct {
	Code      string
	ExpiresAt time.Time
}

// NewAccessCode generates an 8-character code from the restricted alphabet
// using a cryptographically secure RNG.
func NewAccessCode(ttl time.Duration) (AccessCode, error) {
	buf := make([]byte, AccessCodeLength)
	if _, err := rand.Read(buf); err != nil {
		return AccessCode{}, fmt.Errorf("failed to generate access code: %w", err)
	}
	code := make([]byte, AccessCodeLength)
	for i, b := range buf {
		code[i] = accessCodeAlphabet[int(b)%len(accessCodeAlphabet)]
	}
	return AccessCode{
		Code:      string(code),
		ExpiresAt: time.Now().Add(ttl),
	}, nil
}

// Valid reports whether candidate matches the code and the code has not
// expired. The comparison is constant time.
func (a AccessCode) Valid(candidate string, now time.Time) bool {
	if a.Code == "" || candidate == "" {
		return false
	}
	if now.After(a.ExpiresAt) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(a.Code), []byte(candidate)) == 1
}
