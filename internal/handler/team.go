package handler

import (
	"errors"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/teamdock/portal/internal/middleware"
	"github.com/teamdock/portal/internal/model"
	"github.com/teamdock/portal/internal/service"
	"github.com/teamdock/portal/pkg/response"
)

type TeamHandler struct {
	service   *service.TeamService
	validator *validator.Validate
}

func NewTeamHandler(svc *service.TeamService, v *validator.Validate) *TeamHandler {
	return &TeamHandler{
		service:   svc,
		validator: v,
	}
}

// Create handles POST /api/teams
func (h *TeamHandler) Create(c *fiber.Ctx) error {
	var req model.CreateTeamRequest
	if err := c.BodyParser(&req); err != nil {
		return response.ValidationError(c, "Invalid request body", nil)
	}

	if err := h.validator.Struct(&req); err != nil {
		return response.ValidationError(c, "Validation failed", formatValidationErrors(err))
	}

	result, err := h.service.Create(c.Context(), middleware.GetUserID(c), &req)
	if err != nil {
		return response.Conflict(c, err.Error())
	}

	return response.Accepted(c, result)
}

// Delete handles DELETE /api/teams/:slug
func (h *TeamHandler) Delete(c *fiber.Ctx) error {
	slug := c.Params("slug")
	if slug == "" {
		return response.ValidationError(c, "Team slug is required", nil)
	}

	result, err := h.service.Delete(c.Context(), middleware.GetUserID(c), slug)
	if err != nil {
		if errors.Is(err, service.ErrNotFound) {
			return response.NotFound(c, "Team not found")
		}
		return response.ServiceError(c, err.Error())
	}

	return response.Accepted(c, result)
}
