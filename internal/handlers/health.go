package handlers

import (
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/pvmonitor/pvdash/internal/models"
)

// Health handles health check requests. Missing backend credentials do not
// make the service unhealthy; they are reported as flags.
func (h *Handler) Health(c *fiber.Ctx) error {
	resp := models.HealthResponse{
		Status:    "healthy",
		Timestamp: time.Now().Format(time.RFC3339),
		Version:   Version,
	}
	if h.influx != nil {
		resp.InfluxConfigured = h.influx.Configured()
		resp.Breaker = h.influx.BreakerState()
	}
	if h.grafana != nil {
		resp.GrafanaConfigured = h.grafana.Configured()
	}
	return c.JSON(resp)
}

// NotFound handles 404 errors
func (h *Handler) NotFound(c *fiber.Ctx) error {
	return c.Status(fiber.StatusNotFound).JSON(models.ErrorResponse{
		Error: models.ErrorDetail{
			Code:    "NOT_FOUND",
			Message: "Route not found",
			Path:    c.Path(),
		},
	})
}
