package handlers

import (
	"github.com/gofiber/fiber/v2"
	"github.com/localnerve/tablebridge/internal/services"
)

// HealthHandler handles the health route
type HealthHandler struct {
	Deps services.HealthDeps
}

// Health handles GET /api/health
// @Summary Service health
// @Description Ping the document store, the destination database and Superset
// @Tags Health
// @Produce json
// @Success 200 {object} services.HealthCheckResult
// @Failure 503 {object} services.HealthCheckResult
// @Router /health [get]
func (h *HealthHandler) Health(c *fiber.Ctx) error {
	result := services.HealthCheck(c.UserContext(), h.Deps)
	if result.Status != "healthy" {
		return c.Status(fiber.StatusServiceUnavailable).JSON(result)
	}
	return c.Status(fiber.StatusOK).JSON(result)
}
