package handlers

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
)

// Pinger reports whether a backend is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// HealthHandler serves the health check.
type HealthHandler struct {
	store Pinger
}

// NewHealthHandler constructs a HealthHandler.
func NewHealthHandler(store Pinger) *HealthHandler {
	return &HealthHandler{store: store}
}

// Healthz reports service health, including the key store backend.
func (h *HealthHandler) Healthz(c *gin.Context) {
	if h.store != nil {
		if errPing := h.store.Ping(c.Request.Context()); errPing != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "error", "error": errPing.Error()})
			return
		}
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
