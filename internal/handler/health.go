package handler

import (
	"github.com/gofiber/fiber/v2"

	"github.com/docspark/api/internal/model"
	"github.com/docspark/api/pkg/response"
)

const serviceName = "docspark-backend"

// Health handles GET /api/health
// @Summary      Health check
// @Tags         Health
// @Produce      json
// @Success      200 {object} model.HealthResponse
// @Router       /api/health [get]
func Health(c *fiber.Ctx) error {
	return response.OK(c, model.HealthResponse{OK: true, Service: serviceName})
}
