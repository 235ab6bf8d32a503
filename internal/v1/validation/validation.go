// Package validation centralizes the input predicates applied before any
// state change. Every identifier crossing the wire is checked here first.
package validation

import (
	"errors"
	"regexp"
	"strings"
	"unicode"
)

var (
	roomIDPattern     = regexp.MustCompile(`^[A-Za-z0-9_-]{1,64}$`)
	usernamePattern   = regexp.MustCompile(`^[A-Za-z0-9_-]{3,32}$`)
	accessCodePattern = regexp.MustCompile(`^[A-Z0-9]{6,12}$`)
)

var (
	ErrInvalidRoomID     = errors.New("room id must be 1-64 characters of [A-Za-z0-9_-]")
	ErrInvalidUsername   = errors.New("username must be 3-32 characters of [A-Za-z0-9_-]")
	ErrInvalidAccessCode = errors.New("access code must be 6-12 uppercase alphanumeric characters")
	ErrWeakPassword      = errors.New("password must be 8-128 characters with upper, lower, digit, and special characters")
	ErrRoomPasswordLen   = errors.New("room password must be 4-128 characters")
	ErrPayloadTooLarge   = errors.New("binary payload exceeds the configured maximum")
)

// ValidRoomID reports whether id is an acceptable room identifier.
func ValidRoomID(id string) bool {
	return roomIDPattern.MatchString(id)
}

// ValidUsername reports whether name is acceptable. Comparison elsewhere is
// case-insensitive, so callers should normalize with NormalizeUsername.
func ValidUsername(name string) bool {
	return usernamePattern.MatchString(name)
}

// NormalizeUsername lowercases a username for comparison.
func NormalizeUsername(name string) string {
	return strings.ToLower(name)
}

// ValidAccessCode reports whether code has the shape of an access code.
func ValidAccessCode(code string) bool {
	return accessCodePattern.MatchString(code)
}

// ValidRoomPassword checks the length bounds applied at room creation.
func ValidRoomPassword(password string) bool {
	return len(password) >= 4 && len(password) <= 128
}

// ValidUserPassword enforces the account-password complexity policy:
// 8-128 characters containing upper, lower, digit, and special characters.
func ValidUserPassword(password string) bool {
	if len(password) < 8 || len(password) > 128 {
		return false
	}
	var upper, lower, digit, special bool
	for _, r := range password {
		switch {
		case unicode.IsUpper(r):
			upper = true
		case unicode.IsLower(r):
			lower = true
		case unicode.IsDigit(r):
			digit = true
		default:
			special = true
		}
	}
	return upper && lower && digit && special
}

// ValidPayloadSize checks a binary payload against the configured cap.
func ValidPayloadSize(size, max int) bool {
	return size >= 0 && size <= max
}

// ClampMaxViewers bounds a requested viewer cap to [1, limit].
func ClampMaxViewers(requested, limit int) int {
	if requested < 1 {
		return limit
	}
	if requested > limit {
		return limit
	}
	return requested
}
