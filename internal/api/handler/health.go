package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/jmerrifield20/uavledger/internal/health"
)

// HealthHandler serves GET /healthz from the dependency monitor.
func HealthHandler(checker *health.HealthChecker) gin.HandlerFunc {
	return func(c *gin.Context) {
		if checker == nil {
			c.JSON(http.StatusOK, gin.H{"status": "ok"})
			return
		}
		status, code := "ok", http.StatusOK
		if !checker.Healthy() {
			status, code = "degraded", http.StatusServiceUnavailable
		}
		c.JSON(code, gin.H{
			"status":       status,
			"dependencies": checker.Snapshot(),
		})
	}
}
