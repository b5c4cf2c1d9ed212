package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/boardterm/relay/internal/session"
)

// HealthHandler serves the liveness endpoint.
type HealthHandler struct {
	sessions  *session.Manager
	startedAt time.Time
}

// NewHealthHandler creates a new HealthHandler.
func NewHealthHandler(sessions *session.Manager) *HealthHandler {
	return &HealthHandler{
		sessions:  sessions,
		startedAt: time.Now(),
	}
}

// Health handles GET /health.
func (h *HealthHandler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":   "ok",
		"sessions": h.sessions.Count(),
		"uptime":   int64(time.Since(h.startedAt).Seconds()),
	})
}
