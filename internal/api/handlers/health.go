package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"catalogsync/internal/clock"
	"catalogsync/internal/repository"
)

type HealthHandler struct {
	store repository.ProductStore
	clock clock.Clock
}

func NewHealthHandler(store repository.ProductStore, clk clock.Clock) *HealthHandler {
	if clk == nil {
		clk = clock.New()
	}
	return &HealthHandler{store: store, clock: clk}
}

// Health reports whether the product store answers.
func (h *HealthHandler) Health(c *gin.Context) {
	body := gin.H{
		"status":  "healthy",
		"service": "catalogsync",
		"time":    h.clock.Now().UTC(),
	}
	if _, err := h.store.Count(c.Request.Context(), repository.Filter{}); err != nil {
		_ = c.Error(err)
		body["status"] = "degraded"
		body["store"] = "unreachable"
		c.JSON(http.StatusServiceUnavailable, body)
		return
	}
	body["store"] = "ok"
	c.JSON(http.StatusOK, body)
}
