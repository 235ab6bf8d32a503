package health

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubPinger struct{ err error }

func (p stubPinger) Ping(context.Context) error { return p.err }

func serve(t *testing.T, h *Handler, path string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	router := gin.New()
	router.GET("/health/live", h.Liveness)
	router.GET("/health/ready", h.Readiness)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	router.ServeHTTP(rec, req)

	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return rec, body
}

func TestLiveness(t *testing.T) {
	rec, body := serve(t, NewHandler(nil, nil), "/health/live")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "alive", body["status"])
	assert.NotEmpty(t, body["timestamp"])
}

func TestReadinessAllHealthy(t *testing.T) {
	h := NewHandler(stubPinger{}, stubPinger{})
	rec, body := serve(t, h, "/health/ready")

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ready", body["status"])
	checks := body["checks"].(map[string]any)
	assert.Equal(t, "healthy", checks["store"])
	assert.Equal(t, "healthy", checks["redis"])
}

func TestReadinessUnhealthyDependency(t *testing.T) {
	h := NewHandler(stubPinger{}, stubPinger{err: errors.New("connection refused")})
	rec, body := serve(t, h, "/health/ready")

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "unavailable", body["status"])
	checks := body["checks"].(map[string]any)
	assert.Equal(t, "unhealthy", checks["redis"])
}

func TestReadinessSkipsAbsentDependencies(t *testing.T) {
	rec, body := serve(t, NewHandler(nil, nil), "/health/ready")
	assert.Equal(t, http.StatusOK, rec.Code, "absent dependencies are not in use")
	assert.Equal(t, "ready", body["status"])
}
