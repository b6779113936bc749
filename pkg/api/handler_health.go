package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/carebridge/policychat/pkg/database"
)

// Health handles GET /health: worker pool plus, when the relational substrate
// is active, database reachability.
func (s *Server) Health(c *gin.Context) {
	body := gin.H{"status": "healthy"}
	healthy := true

	if s.pool != nil {
		poolHealth := s.pool.Health()
		body["workers"] = poolHealth
		healthy = healthy && poolHealth.IsHealthy
	}

	if s.db != nil {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
		defer cancel()

		dbHealth, err := database.Health(ctx, s.db.DB())
		body["database"] = dbHealth
		if err != nil {
			healthy = false
			body["error"] = err.Error()
		}
	}

	if !healthy {
		body["status"] = "unhealthy"
		c.JSON(http.StatusServiceUnavailable, body)
		return
	}
	c.JSON(http.StatusOK, body)
}
