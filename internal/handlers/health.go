package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/teatalks/teatalks/internal/monitoring"
	appErrors "github.com/teatalks/teatalks/pkg/errors"
	"github.com/teatalks/teatalks/pkg/response"
)

// Health reports readiness. Only a probe that is down fails the request; degraded
// probes are listed with a 200.
func Health(manager *monitoring.HealthManager) gin.HandlerFunc {
	return func(c *gin.Context) {
		report := manager.Evaluate(requestContext(c))
		if report.Status == monitoring.StatusDown {
			response.Error(c, appErrors.New("UNAVAILABLE", "Service unavailable", http.StatusServiceUnavailable).
				WithDetail("checks", report.Checks))
			return
		}
		response.Success(c, http.StatusOK, report)
	}
}
