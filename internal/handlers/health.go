package handlers

import (
	"net/http"

	"proctor-go/internal/emitter"
	"proctor-go/internal/proctor"

	"github.com/gin-gonic/gin"
)

// HealthHandler reports liveness and a few runtime counters.
type HealthHandler struct {
	service *proctor.Service
	mqtt    *emitter.MQTTEmitter // nil when publishing is disabled
}

func NewHealthHandler(service *proctor.Service, mqtt *emitter.MQTTEmitter) *HealthHandler {
	return &HealthHandler{service: service, mqtt: mqtt}
}

func (h *HealthHandler) Health(c *gin.Context) {
	resp := gin.H{
		"status":          "healthy",
		"service":         "proctoring",
		"active_sessions": h.service.ActiveSessions(),
	}
	if h.mqtt != nil {
		resp["mqtt"] = h.mqtt.Stats()
	}
	c.JSON(http.StatusOK, resp)
}
