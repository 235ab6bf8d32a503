package health

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/vijayvir/screenai/internal/v1/logging"
	"go.uber.org/zap"
)

// Pinger is a dependency that can report its own connectivity.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Handler manages health check endpoints
type Handler struct {
	store Pinger // durable SQLite store (nil disables the check)
	redis Pinger // rate-limit Redis backend (nil when memory store is used)
}

// NewHandler creates a new health check handler
func NewHandler(store Pinger, redis Pinger) *Handler {
	return &Handler{store: store, redis: redis}
}

// LivenessResponse represents the liveness probe response
type LivenessResponse struct {
	Status    string `json:"status"`
	Timestamp string `json:"timestamp"`
}

// ReadinessResponse represents the readiness probe response
type ReadinessResponse struct {
	Status    string            `json:"status"`
	Checks    map[string]string `json:"checks"`
	Timestamp string            `json:"timestamp"`
}

// Liveness handles the liveness probe endpoint
// GET /health/live
// Returns 200 if the process is alive (no dependency checks)
func (h *Handler) Liveness(c *gin.Context) {
	response := LivenessResponse{
		Status:    "alive",
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}

	c.JSON(http.StatusOK, response)
}

// Readiness handles the readiness probe endpoint
// GET /health/ready
// Returns 200 only if all critical dependencies are healthy
// Returns 503 if any dependency is unhealthy
func (h *Handler) Readiness(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 3*time.Second)
	defer cancel()

	checks := make(map[string]string)
	allHealthy := true

	checks["store"] = h.check(ctx, "store", h.store)
	if checks["store"] != "healthy" {
		allHealthy = false
	}

	checks["redis"] = h.check(ctx, "redis", h.redis)
	if checks["redis"] != "healthy" {
		allHealthy = false
	}

	status := "ready"
	statusCode := http.StatusOK
	if !allHealthy {
		status = "unavailable"
		statusCode = http.StatusServiceUnavailable
	}

	response := ReadinessResponse{
		Status:    status,
		Checks:    checks,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}

	c.JSON(statusCode, response)
}

// check pings one dependency. A nil dependency is not in use and counts as
// healthy.
func (h *Handler) check(ctx context.Context, name string, p Pinger) string {
	if p == nil {
		return "healthy"
	}
	if err := p.Ping(ctx); err != nil {
		logging.Error(ctx, "health check failed", zap.String("dependency", name), zap.Error(err))
		return "unhealthy"
	}
	return "healthy"
}
