package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds validated environment configuration
type Config struct {
	// Required variables
	Port string

	// Auth (one of the two must be configured unless SKIP_AUTH=true)
	JWTDomain   string // JWKS issuer domain (e.g. Auth0 tenant)
	JWTAudience string
	JWTSecret   string // HS256 shared secret
	JWTIssuer   string
	SkipAuth    bool

	// Optional variables with defaults
	GoEnv           string
	LogLevel        string
	DevelopmentMode bool
	AllowedOrigins  string

	// Media limits
	MaxBinaryPayloadBytes int

	// Rate limits (ulule/limiter formatted: "<count>-<S|M|H>")
	RateLimitMessages      string // per-session inbound control messages
	RateLimitRoomCreations string // per-IP create-room attempts

	// IP lockout
	FailedAuthBeforeBlock  int
	IPBlockDurationMinutes int

	// Room limits
	MaxRooms           int
	MaxViewersPerRoom  int
	MaxRoomsPerUser    int
	AccessCodeTTL      time.Duration
	IdleSessionTimeout time.Duration

	// Stores
	RedisEnabled  bool
	RedisAddr     string
	RedisPassword string
	SQLitePath    string

	// Tracing
	TracingEnabled bool
	OTLPCollector  string
	OTLPInsecure   bool // skip collector certificate verification (dev only)
}

// ValidateEnv validates all required environment variables and returns a Config object.
// Returns an error if any required variable is missing or invalid.
func ValidateEnv() (*Config, error) {
	cfg := &Config{}
	var errors []string

	// Required: PORT (valid port number)
	cfg.Port = os.Getenv("PORT")
	if cfg.Port == "" {
		errors = append(errors, "PORT is required")
	} else {
		port, err := strconv.Atoi(cfg.Port)
		if err != nil || port < 1 || port > 65535 {
			errors = append(errors, fmt.Sprintf("PORT must be a valid port number between 1 and 65535 (got '%s')", cfg.Port))
		}
	}

	// Auth configuration
	cfg.JWTDomain = os.Getenv("JWT_DOMAIN")
	cfg.JWTAudience = os.Getenv("JWT_AUDIENCE")
	cfg.JWTSecret = os.Getenv("JWT_SECRET")
	cfg.JWTIssuer = os.Getenv("JWT_ISSUER")
	cfg.SkipAuth = os.Getenv("SKIP_AUTH") == "true"
	if cfg.JWTSecret != "" && len(cfg.JWTSecret) < 32 {
		errors = append(errors, fmt.Sprintf("JWT_SECRET must be at least 32 characters (got %d)", len(cfg.JWTSecret)))
	}
	if !cfg.SkipAuth && cfg.JWTSecret == "" && (cfg.JWTDomain == "" || cfg.JWTAudience == "") {
		errors = append(errors, "either JWT_SECRET or JWT_DOMAIN+JWT_AUDIENCE must be set when SKIP_AUTH=false")
	}

	// Optional: GO_ENV (defaults to "production")
	cfg.GoEnv = os.Getenv("GO_ENV")
	if cfg.GoEnv == "" {
		cfg.GoEnv = "production"
	}

	// Optional: LOG_LEVEL (defaults to "info")
	cfg.LogLevel = os.Getenv("LOG_LEVEL")
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}

	cfg.DevelopmentMode = os.Getenv("DEVELOPMENT_MODE") == "true"
	cfg.AllowedOrigins = os.Getenv("ALLOWED_ORIGINS")

	// Media limits
	cfg.MaxBinaryPayloadBytes = getEnvIntOrDefault("MAX_BINARY_PAYLOAD_BYTES", 10*1024*1024, &errors)

	// Rate limits
	cfg.RateLimitMessages = getEnvOrDefault("RATE_LIMIT_MESSAGES", "100-S")
	cfg.RateLimitRoomCreations = getEnvOrDefault("RATE_LIMIT_ROOM_CREATIONS", "10-H")

	// IP lockout
	cfg.FailedAuthBeforeBlock = getEnvIntOrDefault("FAILED_AUTH_BEFORE_BLOCK", 5, &errors)
	cfg.IPBlockDurationMinutes = getEnvIntOrDefault("IP_BLOCK_DURATION_MINUTES", 15, &errors)

	// Room limits
	cfg.MaxRooms = getEnvIntOrDefault("MAX_ROOMS", 1000, &errors)
	cfg.MaxViewersPerRoom = getEnvIntOrDefault("MAX_VIEWERS_PER_ROOM", 100, &errors)
	if cfg.MaxViewersPerRoom > 100 {
		cfg.MaxViewersPerRoom = 100
	}
	cfg.MaxRoomsPerUser = getEnvIntOrDefault("MAX_ROOMS_PER_USER", 5, &errors)
	cfg.AccessCodeTTL = time.Duration(getEnvIntOrDefault("ACCESS_CODE_TTL_HOURS", 24, &errors)) * time.Hour
	cfg.IdleSessionTimeout = time.Duration(getEnvIntOrDefault("IDLE_SESSION_TIMEOUT_MINUTES", 60, &errors)) * time.Minute

	// Conditional: REDIS_ADDR (required if REDIS_ENABLED=true)
	cfg.RedisEnabled = os.Getenv("REDIS_ENABLED") == "true"
	if cfg.RedisEnabled {
		cfg.RedisAddr = os.Getenv("REDIS_ADDR")
		if cfg.RedisAddr == "" {
			cfg.RedisAddr = "localhost:6379"
			slog.Warn("REDIS_ADDR not set, using default", "addr", cfg.RedisAddr)
		} else if !isValidHostPort(cfg.RedisAddr) {
			errors = append(errors, fmt.Sprintf("REDIS_ADDR must be in format 'host:port' (got '%s')", cfg.RedisAddr))
		}
		cfg.RedisPassword = os.Getenv("REDIS_PASSWORD")
	}

	cfg.SQLitePath = getEnvOrDefault("SQLITE_PATH", "data/relay.db")

	// Tracing
	cfg.TracingEnabled = os.Getenv("TRACING_ENABLED") == "true"
	if cfg.TracingEnabled {
		cfg.OTLPCollector = os.Getenv("OTLP_COLLECTOR_ADDR")
		if cfg.OTLPCollector == "" {
			errors = append(errors, "OTLP_COLLECTOR_ADDR is required when TRACING_ENABLED=true")
		}
		cfg.OTLPInsecure = os.Getenv("OTEL_INSECURE_SKIP_VERIFY") == "true"
	}

	// If there are validation errors, return them
	if len(errors) > 0 {
		return nil, fmt.Errorf("environment validation failed:\n  - %s", strings.Join(errors, "\n  - "))
	}

	// Log validated configuration (with secrets redacted)
	logValidatedConfig(cfg)

	return cfg, nil
}

// isValidHostPort checks if a string is in the format "host:port"
func isValidHostPort(addr string) bool {
	parts := strings.Split(addr, ":")
	if len(parts) != 2 {
		return false
	}

	// Validate port is a number
	port, err := strconv.Atoi(parts[1])
	if err != nil || port < 1 || port > 65535 {
		return false
	}

	// Validate host is not empty
	if parts[0] == "" {
		return false
	}

	return true
}

// logValidatedConfig logs the validated configuration with secrets redacted
func logValidatedConfig(cfg *Config) {
	slog.Info("✅ Environment configuration validated successfully")
	slog.Info("Configuration",
		"port", cfg.Port,
		"jwt_secret", redactSecret(cfg.JWTSecret),
		"jwt_domain", cfg.JWTDomain,
		"max_binary_payload_bytes", cfg.MaxBinaryPayloadBytes,
		"rate_limit_messages", cfg.RateLimitMessages,
		"rate_limit_room_creations", cfg.RateLimitRoomCreations,
		"failed_auth_before_block", cfg.FailedAuthBeforeBlock,
		"ip_block_duration_minutes", cfg.IPBlockDurationMinutes,
		"max_viewers_per_room", cfg.MaxViewersPerRoom,
		"redis_enabled", cfg.RedisEnabled,
		"sqlite_path", cfg.SQLitePath,
		"go_env", cfg.GoEnv,
		"development_mode", cfg.DevelopmentMode,
	)
}

// getEnvOrDefault returns the value of the environment variable or a default value if not set
func getEnvOrDefault(key, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultValue
}

// getEnvIntOrDefault parses an integer environment variable, recording a
// validation error for non-numeric values.
func getEnvIntOrDefault(key string, defaultValue int, errors *[]string) int {
	value, exists := os.LookupEnv(key)
	if !exists || value == "" {
		return defaultValue
	}
	n, err := strconv.Atoi(value)
	if err != nil || n < 0 {
		*errors = append(*errors, fmt.Sprintf("%s must be a non-negative integer (got '%s')", key, value))
		return defaultValue
	}
	return n
}

// redactSecret redacts a secret by showing only the first 8 characters
func redactSecret(secret string) string {
	if len(secret) <= 8 {
		return "***"
	}
	return secret[:8] + "***"
}
