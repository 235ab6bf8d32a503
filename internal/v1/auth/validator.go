package auth

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/lestrrat-go/jwx/v2/jwk"

	"github.com/vijayvir/screenai/internal/v1/logging"
)

// Claims represents the identity a bearer token carries: the username and
// the account role. The relay only validates opaque token strings at
// session admission; minting and refresh live elsewhere.
type Claims struct {
	Username string `json:"username,omitempty"`
	Role     string `json:"role,omitempty"`
	jwt.RegisteredClaims
}

// Identity returns the effective username, falling back to the subject.
func (c *Claims) Identity() string {
	if c.Username != "" {
		return c.Username
	}
	return c.Subject
}

// Validator provides JWT validation against a JWKS endpoint, including key
// retrieval, issuer verification, and audience checks.
type Validator struct {
	keyFunc  jwt.Keyfunc
	issuer   string
	audience []string
}

// NewValidator creates a Validator for JWT validation using JWKS from the
// specified domain. It registers the JWKS endpoint with a refreshing cache
// and fetches the keys once to ensure connectivity. Additional
// jwk.RegisterOption values may be supplied for testability.
func NewValidator(ctx context.Context, domain, audience string, regOpts ...jwk.RegisterOption) (*Validator, error) {
	issuerURL, err := url.Parse("https://" + domain + "/")
	if err != nil {
		return nil, fmt.Errorf("failed to parse issuer URL: %w", err)
	}

	jwksURL := issuerURL.JoinPath(".well-known/jwks.json").String()

	cache := jwk.NewCache(ctx)

	opts := []jwk.RegisterOption{jwk.WithRefreshInterval(1 * time.Hour)}
	opts = append(opts, regOpts...)

	err = cache.Register(jwksURL, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to register JWKS URL in cache: %w", err)
	}

	// Fetch the keys for the first time to ensure connectivity.
	_, err = cache.Refresh(ctx, jwksURL)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch initial JWKS: %w", err)
	}

	keyFunc := func(token *jwt.Token) (interface{}, error) {
		kid, ok := token.Header["kid"].(string)
		if !ok {
			return nil, errors.New("kid header not found")
		}

		keys, err := cache.Get(ctx, jwksURL)
		if err != nil {
			return nil, fmt.Errorf("failed to get keys from cache: %w", err)
		}

		key, found := keys.LookupKeyID(kid)
		if !found {
			return nil, fmt.Errorf("key with kid %s not found", kid)
		}

		var pubKey interface{}
		if err := key.Raw(&pubKey); err != nil {
			return nil, fmt.Errorf("failed to get raw public key: %w", err)
		}

		return pubKey, nil
	}

	return &Validator{
		keyFunc:  keyFunc,
		issuer:   issuerURL.String(),
		audience: []string{audience},
	}, nil
}

// ValidateToken parses and validates a JWT token string using the
// configured key function, issuer, and audience, returning its claims.
func (v *Validator) ValidateToken(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, v.keyFunc,
		jwt.WithIssuer(v.issuer),
		jwt.WithAudience(v.audience[0]),
	)

	if err != nil {
		return nil, fmt.Errorf("failed to parse token: %w", err)
	}

	if !token.Valid {
		return nil, errors.New("token is invalid")
	}

	claims, ok := token.Claims.(*Claims)
	if !ok {
		return nil, errors.New("failed to cast claims to Claims")
	}

	return claims, nil
}

// HS256Validator validates tokens signed with a shared HS256 secret.
type HS256Validator struct {
	secret []byte
	issuer string
}

// NewHS256Validator creates a shared-secret validator. The issuer check is
// skipped when issuer is empty.
func NewHS256Validator(secret, issuer string) (*HS256Validator, error) {
	if len(secret) < 32 {
		return nil, errors.New("HS256 secret must be at least 32 bytes")
	}
	return &HS256Validator{secret: []byte(secret), issuer: issuer}, nil
}

// ValidateToken parses and validates an HS256-signed token.
func (v *HS256Validator) ValidateToken(tokenString string) (*Claims, error) {
	parseOpts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{"HS256"}),
	}
	if v.issuer != "" {
		parseOpts = append(parseOpts, jwt.WithIssuer(v.issuer))
	}

	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		return v.secret, nil
	}, parseOpts...)

	if err != nil {
		return nil, fmt.Errorf("failed to parse token: %w", err)
	}

	if !token.Valid {
		return nil, errors.New("token is invalid")
	}

	claims, ok := token.Claims.(*Claims)
	if !ok {
		return nil, errors.New("failed to cast claims to Claims")
	}

	return claims, nil
}

// GetAllowedOriginsFromEnv reads a comma-separated origin allow-list from
// the environment, falling back to the provided defaults.
func GetAllowedOriginsFromEnv(envVarName string, defaultEnvs []string) []string {
	// Example: ALLOWED_ORIGINS="http://localhost:3000,https://your-app.com"
	originsStr := os.Getenv(envVarName)
	if originsStr == "" {
		logging.Warn(context.Background(), fmt.Sprintf("%s environment variable not set. Using default development origins:\n%s", envVarName, defaultEnvs))
		return defaultEnvs
	}
	return strings.Split(originsStr, ",")
}

// MockValidator is a development-only token validator that accepts any
// token, extracting claims from the unverified payload when possible.
type MockValidator struct{}

func (m *MockValidator) ValidateToken(tokenString string) (*Claims, error) {
	var username, role, subject string

	// Parse JWT token (format: header.payload.signature)
	parts := strings.Split(tokenString, ".")
	if len(parts) == 3 {
		payload, err := base64.RawURLEncoding.DecodeString(parts[1])
		if err == nil {
			var raw map[string]interface{}
			if json.Unmarshal(payload, &raw) == nil {
				if u, ok := raw["username"].(string); ok {
					username = u
				}
				if r, ok := raw["role"].(string); ok {
					role = r
				}
				if sub, ok := raw["sub"].(string); ok {
					subject = sub
				}
			}
		}
	}

	if username == "" {
		username = "dev-user"
	}
	if role == "" {
		role = "user"
	}
	if subject == "" {
		subject = username
	}

	claims := &Claims{
		Username: username,
		Role:     role,
	}
	claims.Subject = subject
	return claims, nil
}
