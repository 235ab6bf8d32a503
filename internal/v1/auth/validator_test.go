package auth

import (
	"encoding/base64"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "0123456789abcdef0123456789abcdef"

func signHS256(t *testing.T, claims *Claims) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(testSecret))
	require.NoError(t, err)
	return signed
}

func TestNewHS256ValidatorRejectsShortSecret(t *testing.T) {
	_, err := NewHS256Validator("too-short", "")
	assert.Error(t, err)
}

func TestHS256ValidatorRoundTrip(t *testing.T) {
	v, err := NewHS256Validator(testSecret, "relay")
	require.NoError(t, err)

	claims := &Claims{Username: "alice", Role: "user"}
	claims.Issuer = "relay"
	claims.Subject = "user-1"
	claims.ExpiresAt = jwt.NewNumericDate(time.Now().Add(time.Hour))

	got, err := v.ValidateToken(signHS256(t, claims))
	require.NoError(t, err)
	assert.Equal(t, "alice", got.Username)
	assert.Equal(t, "user", got.Role)
	assert.Equal(t, "alice", got.Identity())
}

func TestHS256ValidatorRejectsExpiredToken(t *testing.T) {
	v, err := NewHS256Validator(testSecret, "")
	require.NoError(t, err)

	claims := &Claims{Username: "alice"}
	claims.ExpiresAt = jwt.NewNumericDate(time.Now().Add(-time.Hour))

	_, err = v.ValidateToken(signHS256(t, claims))
	require.Error(t, err)
	assert.ErrorIs(t, err, jwt.ErrTokenExpired)
}

func TestHS256ValidatorRejectsWrongSecret(t *testing.T) {
	v, err := NewHS256Validator(testSecret, "")
	require.NoError(t, err)

	claims := &Claims{Username: "mallory"}
	claims.ExpiresAt = jwt.NewNumericDate(time.Now().Add(time.Hour))
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte("ffffffffffffffffffffffffffffffff"))
	require.NoError(t, err)

	_, err = v.ValidateToken(signed)
	assert.Error(t, err)
}

func TestHS256ValidatorRejectsWrongAlgorithm(t *testing.T) {
	v, err := NewHS256Validator(testSecret, "")
	require.NoError(t, err)

	claims := &Claims{Username: "mallory"}
	claims.ExpiresAt = jwt.NewNumericDate(time.Now().Add(time.Hour))
	token := jwt.NewWithClaims(jwt.SigningMethodHS384, claims)
	signed, err := token.SignedString([]byte(testSecret))
	require.NoError(t, err)

	_, err = v.ValidateToken(signed)
	assert.Error(t, err)
}

func TestHS256ValidatorRejectsWrongIssuer(t *testing.T) {
	v, err := NewHS256Validator(testSecret, "relay")
	require.NoError(t, err)

	claims := &Claims{Username: "alice"}
	claims.Issuer = "someone-else"
	claims.ExpiresAt = jwt.NewNumericDate(time.Now().Add(time.Hour))

	_, err = v.ValidateToken(signHS256(t, claims))
	assert.Error(t, err)
}

func TestClaimsIdentityFallsBackToSubject(t *testing.T) {
	c := &Claims{}
	c.Subject = "user-7"
	assert.Equal(t, "user-7", c.Identity())

	c.Username = "alice"
	assert.Equal(t, "alice", c.Identity())
}

func TestMockValidatorExtractsClaims(t *testing.T) {
	payload := base64.RawURLEncoding.EncodeToString([]byte(`{"username":"bob","role":"admin","sub":"user-2"}`))
	token := "header." + payload + ".sig"

	m := &MockValidator{}
	claims, err := m.ValidateToken(token)
	require.NoError(t, err)
	assert.Equal(t, "bob", claims.Username)
	assert.Equal(t, "admin", claims.Role)
	assert.Equal(t, "user-2", claims.Subject)
}

func TestMockValidatorDefaults(t *testing.T) {
	m := &MockValidator{}
	claims, err := m.ValidateToken("not-a-jwt")
	require.NoError(t, err)
	assert.Equal(t, "dev-user", claims.Username)
	assert.Equal(t, "user", claims.Role)
}
