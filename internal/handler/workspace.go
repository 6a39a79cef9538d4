package handler

import (
	"context"
	"errors"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/teamdock/portal/internal/middleware"
	"github.com/teamdock/portal/internal/model"
	"github.com/teamdock/portal/internal/service"
	"github.com/teamdock/portal/pkg/response"
)

type WorkspaceHandler struct {
	service   *service.WorkspaceService
	validator *validator.Validate
}

func NewWorkspaceHandler(svc *service.WorkspaceService, v *validator.Validate) *WorkspaceHandler {
	return &WorkspaceHandler{
		service:   svc,
		validator: v,
	}
}

// Create handles POST /api/workspaces
func (h *WorkspaceHandler) Create(c *fiber.Ctx) error {
	var req model.CreateWorkspaceRequest
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

// Delete handles DELETE /api/workspaces/:slug
func (h *WorkspaceHandler) Delete(c *fiber.Ctx) error {
	return h.lifecycle(c, h.service.Delete)
}

// Restart handles POST /api/workspaces/:slug/restart
func (h *WorkspaceHandler) Restart(c *fiber.Ctx) error {
	return h.lifecycle(c, h.service.Restart)
}

// Start handles POST /api/workspaces/:slug/start
func (h *WorkspaceHandler) Start(c *fiber.Ctx) error {
	return h.lifecycle(c, h.service.Start)
}

// LinkApp handles POST /api/workspaces/:slug/apps
func (h *WorkspaceHandler) LinkApp(c *fiber.Ctx) error {
	slug := c.Params("slug")
	if slug == "" {
		return response.ValidationError(c, "Workspace slug is required", nil)
	}

	var req model.LinkAppRequest
	if err := c.BodyParser(&req); err != nil {
		return response.ValidationError(c, "Invalid request body", nil)
	}
	if err := h.validator.Struct(&req); err != nil {
		return response.ValidationError(c, "Validation failed", formatValidationErrors(err))
	}

	result, err := h.service.LinkApp(c.Context(), middleware.GetUserID(c), slug, &req)
	if err != nil {
		return h.serviceError(c, err)
	}

	return response.Accepted(c, result)
}

// UnlinkApp handles DELETE /api/workspaces/:slug/apps/:app
func (h *WorkspaceHandler) UnlinkApp(c *fiber.Ctx) error {
	slug := c.Params("slug")
	appSlug := c.Params("app")
	if slug == "" || appSlug == "" {
		return response.ValidationError(c, "Workspace and app slugs are required", nil)
	}

	result, err := h.service.UnlinkApp(c.Context(), middleware.GetUserID(c), slug, appSlug)
	if err != nil {
		return h.serviceError(c, err)
	}

	return response.Accepted(c, result)
}

// SandboxPullRequest handles POST /api/workspaces/:slug/sandboxes/pull-request
func (h *WorkspaceHandler) SandboxPullRequest(c *fiber.Ctx) error {
	slug := c.Params("slug")
	if slug == "" {
		return response.ValidationError(c, "Workspace slug is required", nil)
	}

	var req model.SandboxPullRequestRequest
	if err := c.BodyParser(&req); err != nil {
		return response.ValidationError(c, "Invalid request body", nil)
	}
	if err := h.validator.Struct(&req); err != nil {
		return response.ValidationError(c, "Validation failed", formatValidationErrors(err))
	}

	result, err := h.service.SandboxPullRequest(c.Context(), middleware.GetUserID(c), slug, &req)
	if err != nil {
		return h.serviceError(c, err)
	}

	return response.Accepted(c, result)
}

// Health handles GET /api/workspaces/:slug/health
func (h *WorkspaceHandler) Health(c *fiber.Ctx) error {
	slug := c.Params("slug")
	if slug == "" {
		return response.ValidationError(c, "Workspace slug is required", nil)
	}

	result, err := h.service.Health(c.Context(), slug)
	if err != nil {
		return h.serviceError(c, err)
	}

	return response.OK(c, result)
}

// JobStatus handles GET /api/jobs/:jobId
func (h *WorkspaceHandler) JobStatus(c *fiber.Ctx) error {
	jobID := c.Params("jobId")
	if jobID == "" {
		return response.ValidationError(c, "Job ID is required", nil)
	}

	result, err := h.service.Job(c.Context(), jobID)
	if err != nil {
		return h.serviceError(c, err)
	}

	return response.OK(c, result)
}

func (h *WorkspaceHandler) lifecycle(c *fiber.Ctx, fn func(ctx context.Context, userID, slug string) (*model.JobAcceptedResponse, error)) error {
	slug := c.Params("slug")
	if slug == "" {
		return response.ValidationError(c, "Workspace slug is required", nil)
	}

	result, err := fn(c.Context(), middleware.GetUserID(c), slug)
	if err != nil {
		return h.serviceError(c, err)
	}

	return response.Accepted(c, result)
}

func (h *WorkspaceHandler) serviceError(c *fiber.Ctx, err error) error {
	if errors.Is(err, service.ErrNotFound) {
		return response.NotFound(c, "Workspace not found")
	}
	return response.ServiceError(c, err.Error())
}

// formatValidationErrors formats validator errors for response
func formatValidationErrors(err error) interface{} {
	var ve validator.ValidationErrors
	if !errors.As(err, &ve) {
		return nil
	}
	out := make([]map[string]string, 0, len(ve))
	for _, fe := range ve {
		out = append(out, map[string]string{
			"field": fe.Field(),
			"rule":  fe.Tag(),
		})
	}
	return out
}
