package health

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCheckAllHealthy(t *testing.T) {
	c := NewChecker()
	c.Register("database", func(context.Context) error { return nil })
	c.Register("pool", func(context.Context) error { return nil })

	status, results := c.Check(context.Background())
	assert.Equal(t, StatusHealthy, status)
	assert.Equal(t, "ok", results["database"].Status)
	assert.Equal(t, "ok", results["pool"].Status)
}

func TestCriticalFailureIsUnhealthy(t *testing.T) {
	c := NewChecker()
	c.Register("database", func(context.Context) error { return errors.New("connection refused") })
	c.RegisterOptional("redis", func(context.Context) error { return nil })

	status, results := c.Check(context.Background())
	assert.Equal(t, StatusUnhealthy, status)
	assert.Equal(t, "error", results["database"].Status)
	assert.Contains(t, results["database"].Error, "connection refused")
}

func TestOptionalFailureIsDegraded(t *testing.T) {
	c := NewChecker()
	c.Register("database", func(context.Context) error { return nil })
	c.RegisterOptional("redis", func(context.Context) error { return errors.New("down") })

	status, _ := c.Check(context.Background())
	assert.Equal(t, StatusDegraded, status)
}

func TestGinHandlerStatusCodes(t *testing.T) {
	gin.SetMode(gin.TestMode)

	healthy := NewChecker()
	healthy.Register("database", func(context.Context) error { return nil })

	unhealthy := NewChecker()
	unhealthy.Register("database", func(context.Context) error { return errors.New("down") })

	tests := []struct {
		name     string
		checker  *Checker
		wantCode int
	}{
		{"healthy", healthy, http.StatusOK},
		{"unhealthy", unhealthy, http.StatusServiceUnavailable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			router := gin.New()
			router.GET("/health", tt.checker.GinHandler())
			router.GET("/health/detailed", tt.checker.GinDetailedHandler())

			w := httptest.NewRecorder()
			req := httptest.NewRequest(http.MethodGet, "/health", nil)
			router.ServeHTTP(w, req)
			assert.Equal(t, tt.wantCode, w.Code)

			w = httptest.NewRecorder()
			req = httptest.NewRequest(http.MethodGet, "/health/detailed", nil)
			router.ServeHTTP(w, req)
			assert.Equal(t, tt.wantCode, w.Code)
			require.Contains(t, w.Body.String(), "components")
		})
	}
}
