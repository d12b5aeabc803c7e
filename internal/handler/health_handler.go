package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/dongzzi101/chat-sevice/internal/session"
)

type HealthHandler struct {
	registry *session.Registry
}

func NewHealthHandler(registry *session.Registry) *HealthHandler {
	return &HealthHandler{registry: registry}
}

func (h *HealthHandler) RegisterRoutes(r *gin.Engine) {
	r.GET("/health", h.HealthCheck)
}

func (h *HealthHandler) HealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":   "ok",
		"sessions": h.registry.Count(),
	})
}
