package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"github.com/vijayvir/screenai/internal/v1/audit"
	"github.com/vijayvir/screenai/internal/v1/auth"
	"github.com/vijayvir/screenai/internal/v1/config"
	"github.com/vijayvir/screenai/internal/v1/health"
	"github.com/vijayvir/screenai/internal/v1/ipguard"
	"github.com/vijayvir/screenai/internal/v1/logging"
	"github.com/vijayvir/screenai/internal/v1/middleware"
	"github.com/vijayvir/screenai/internal/v1/ratelimit"
	"github.com/vijayvir/screenai/internal/v1/store"
	"github.com/vijayvir/screenai/internal/v1/tracing"
	"github.com/vijayvir/screenai/internal/v1/transport"
)

const serviceName = "screenai-relay"

func main() {
	// Load .env file for local development.
	// Try multiple paths to handle different ways of running the app
	envPaths := []string{".env", "../../../.env", "../../.env"}
	var envLoaded bool

	for _, path := range envPaths {
		if err := godotenv.Load(path); err == nil {
			slog.Info("Loaded environment from", "path", path)
			envLoaded = true
			break
		}
	}

	if !envLoaded {
		slog.Warn("No .env file found in any expected location, relying on environment variables")
	}

	// Validate environment variables before starting the server
	cfg, err := config.ValidateEnv()
	if err != nil {
		slog.Error("Environment validation failed", "error", err)
		os.Exit(1)
	}

	if err := logging.Initialize(cfg.DevelopmentMode); err != nil {
		slog.Error("Failed to initialize logger", "error", err)
		os.Exit(1)
	}

	ctx := context.Background()

	// --- Tracing (Optional) ---
	if cfg.TracingEnabled {
		tp, err := tracing.InitTracer(ctx, serviceName, cfg.OTLPCollector, cfg.OTLPInsecure)
		if err != nil {
			slog.Error("Failed to initialize tracer", "error", err)
			os.Exit(1)
		}
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = tp.Shutdown(shutdownCtx)
		}()
		slog.Info("✅ Tracing initialized", "collector", cfg.OTLPCollector)
	}

	// --- Durable Store (SQLite) ---
	// Holds blocked IPs across restarts and the audit trail.
	st, err := store.Open(cfg.SQLitePath)
	if err != nil {
		slog.Error("Failed to open store", "error", err, "path", cfg.SQLitePath)
		os.Exit(1)
	}
	defer st.Close()
	slog.Info("✅ Store opened", "path", cfg.SQLitePath)

	// --- Audit Trail ---
	// Every security event goes to the structured log and, asynchronously,
	// to the durable store.
	storeRecorder := audit.NewStoreRecorder(st)
	defer storeRecorder.Close()
	auditor := audit.Fanout{audit.NewZapRecorder(), storeRecorder}

	// --- IP Guard ---
	guard, err := ipguard.New(ctx, ipguard.Options{
		FailedAuthBeforeBlock: cfg.FailedAuthBeforeBlock,
		BlockDuration:         time.Duration(cfg.IPBlockDurationMinutes) * time.Minute,
		Durable:               st,
		Auditor:               auditor,
	})
	if err != nil {
		slog.Error("Failed to initialize IP guard", "error", err)
		os.Exit(1)
	}
	defer guard.Close()

	// --- Redis (Optional) ---
	// Backs the rate limiter when running multiple relay instances.
	var redisClient *redis.Client
	if cfg.RedisEnabled {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
		})
		if err := redisClient.Ping(ctx).Err(); err != nil {
			slog.Error("Failed to connect to Redis, falling back to memory rate-limit store", "error", err)
			_ = redisClient.Close()
			redisClient = nil
		} else {
			slog.Info("✅ Redis connected", "addr", cfg.RedisAddr)
		}
	} else {
		slog.Info("Running in single-instance mode (Redis disabled)")
	}

	rateLimiter, err := ratelimit.NewRateLimiter(cfg, redisClient)
	if err != nil {
		slog.Error("Failed to initialize rate limiter", "error", err)
		os.Exit(1)
	}

	// --- Token Validator ---
	validator := buildValidator(ctx, cfg)

	// --- Hub ---
	hub := transport.NewHub(cfg, validator, guard, rateLimiter, auditor)

	// --- Set up Server ---
	if cfg.GoEnv == "production" && !cfg.DevelopmentMode {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.CorrelationID())
	if cfg.TracingEnabled {
		router.Use(otelgin.Middleware(serviceName))
	}

	// Cors
	corsConfig := cors.DefaultConfig()
	corsConfig.AllowOrigins = auth.GetAllowedOriginsFromEnv("ALLOWED_ORIGINS", []string{"http://localhost:3000"})
	router.Use(cors.New(corsConfig))

	// Routing
	wsGroup := router.Group("/ws")
	{
		wsGroup.GET("/screenshare", hub.ServeWs)
	}

	// Prometheus metrics endpoint
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// Health check endpoints
	var redisHealth health.Pinger
	if redisClient != nil {
		redisHealth = redisPinger{client: redisClient}
	}
	healthHandler := health.NewHandler(st, redisHealth)
	router.GET("/health/live", healthHandler.Liveness)
	router.GET("/health/ready", healthHandler.Readiness)

	// Start the server.
	srv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: router,
	}

	// --- Graceful Shutdown ---
	// Start the server in a goroutine so it doesn't block.
	go func() {
		slog.Info("Relay server starting", "port", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("Failed to run server", "error", err)
			syscall.Kill(os.Getpid(), syscall.SIGTERM)
		}
	}()

	// Wait for an interrupt signal to gracefully shut down the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	slog.Info("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	// Close all active rooms and WebSocket sessions gracefully
	if err := hub.Shutdown(shutdownCtx); err != nil {
		slog.Error("Error during Hub shutdown:", "error", err)
	}

	// Shutdown HTTP server
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("Server forced to shutdown:", "error", err)
	}

	// Close Redis connection if it was initialized
	if redisClient != nil {
		if err := redisClient.Close(); err != nil {
			slog.Error("Failed to close Redis connection:", "error", err)
		}
	}

	slog.Info("Server exiting")
}

// buildValidator selects the token validator: shared-secret HS256 when
// JWT_SECRET is set, JWKS otherwise, and a permissive mock when SKIP_AUTH
// is enabled for development.
func buildValidator(ctx context.Context, cfg *config.Config) transport.TokenValidator {
	if cfg.SkipAuth {
		slog.Warn("⚠️ Authentication DISABLED for development - DO NOT USE IN PRODUCTION")
		return &auth.MockValidator{}
	}

	if cfg.JWTSecret != "" {
		v, err := auth.NewHS256Validator(cfg.JWTSecret, cfg.JWTIssuer)
		if err != nil {
			slog.Error("Failed to create HS256 validator", "error", err)
			os.Exit(1)
		}
		slog.Info("✅ HS256 validator initialized", "issuer", cfg.JWTIssuer)
		return v
	}

	v, err := auth.NewValidator(ctx, cfg.JWTDomain, cfg.JWTAudience)
	if err != nil {
		slog.Error("Failed to create JWKS validator", "error", err)
		os.Exit(1)
	}
	slog.Info("✅ JWKS validator initialized", "domain", cfg.JWTDomain, "audience", cfg.JWTAudience)
	return v
}

// redisPinger adapts the Redis client to the health.Pinger interface.
type redisPinger struct {
	client *redis.Client
}

func (p redisPinger) Ping(ctx context.Context) error {
	return p.client.Ping(ctx).Err()
}
