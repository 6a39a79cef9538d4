package handler

import (
	"errors"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/teamdock/portal/internal/auth"
	"github.com/teamdock/portal/internal/bridge"
	"github.com/teamdock/portal/internal/middleware"
	"github.com/teamdock/portal/internal/service"
	"github.com/teamdock/portal/pkg/response"
)

// BridgeHandler mints and exchanges the short-lived tokens that carry a
// session across the portal/tenant origin boundary.
type BridgeHandler struct {
	tokens    *auth.TokenService
	teams     *service.TeamService
	validator *validator.Validate
}

func NewBridgeHandler(tokens *auth.TokenService, teams *service.TeamService, v *validator.Validate) *BridgeHandler {
	return &BridgeHandler{
		tokens:    tokens,
		teams:     teams,
		validator: v,
	}
}

// Mint handles POST /api/bridge/token. It runs under the primary session
// on the origin the user is leaving, before any navigation happens.
func (h *BridgeHandler) Mint(c *fiber.Ctx) error {
	var req bridge.MintRequest
	if err := c.BodyParser(&req); err != nil || req.TenantSlug == "" {
		return response.ValidationError(c, "tenant_slug is required", nil)
	}

	userID := middleware.GetUserID(c)

	team, err := h.teams.Get(c.Context(), req.TenantSlug)
	if err != nil {
		if errors.Is(err, service.ErrNotFound) {
			return response.BridgeDenied(c, "No access to tenant "+req.TenantSlug)
		}
		return response.ServiceError(c, err.Error())
	}
	if team.OwnerID != userID {
		return response.BridgeDenied(c, "No access to tenant "+req.TenantSlug)
	}

	token, err := h.tokens.MintBridgeToken(c.Context(), userID, req.TenantSlug)
	if err != nil {
		return response.ServiceError(c, "Failed to mint bridge token")
	}

	return response.OK(c, bridge.MintResponse{BridgeToken: token})
}

// Exchange handles POST /auth/bridge/exchange on the destination origin.
// It is unauthenticated: the bridge token is the credential, valid exactly
// once.
func (h *BridgeHandler) Exchange(c *fiber.Ctx) error {
	var req bridge.ExchangeRequest
	if err := c.BodyParser(&req); err != nil || req.BridgeToken == "" {
		return response.ValidationError(c, "bridge_token is required", nil)
	}

	claims, err := h.tokens.ExchangeBridgeToken(c.Context(), req.BridgeToken)
	if err != nil {
		return response.Unauthorized(c, "Invalid or expired bridge token")
	}

	session, err := h.tokens.IssueTenantSession(claims.UserID, claims.TenantSlug)
	if err != nil {
		return response.ServiceError(c, "Failed to issue session")
	}

	return response.OK(c, bridge.ExchangeResponse{SessionToken: session})
}
