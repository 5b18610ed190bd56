package health

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

const checkTimeout = 5 * time.Second

// GinHandler serves the summary health endpoint.
func (c *Checker) GinHandler() gin.HandlerFunc {
	return func(ctx *gin.Context) {
		checkCtx, cancel := context.WithTimeout(ctx.Request.Context(), checkTimeout)
		defer cancel()

		status, _ := c.Check(checkCtx)
		ctx.JSON(httpStatus(status), gin.H{
			"status":    status,
			"timestamp": time.Now().UTC().Format(time.RFC3339),
		})
	}
}

// GinDetailedHandler serves the per-component health endpoint.
func (c *Checker) GinDetailedHandler() gin.HandlerFunc {
	return func(ctx *gin.Context) {
		checkCtx, cancel := context.WithTimeout(ctx.Request.Context(), checkTimeout)
		defer cancel()

		status, results := c.Check(checkCtx)
		ctx.JSON(httpStatus(status), gin.H{
			"status":     status,
			"components": results,
			"timestamp":  time.Now().UTC().Format(time.RFC3339),
		})
	}
}

func httpStatus(status Status) int {
	if status == StatusUnhealthy {
		return http.StatusServiceUnavailable
	}
	return http.StatusOK
}
