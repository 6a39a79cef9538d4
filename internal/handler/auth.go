package handler

import (
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/teamdock/portal/internal/auth"
	"github.com/teamdock/portal/pkg/response"
)

// AuthHandler exchanges identity-provider logins for portal sessions and
// serves ForwardAuth verification for the gateway.
type AuthHandler struct {
	verifier auth.SSOVerifier
	tokens   *auth.TokenService
}

func NewAuthHandler(verifier auth.SSOVerifier, tokens *auth.TokenService) *AuthHandler {
	return &AuthHandler{
		verifier: verifier,
		tokens:   tokens,
	}
}

// SSOExchange handles POST /auth/sso/exchange. The bearer value is the
// identity provider's token; on success the portal issues its own session
// token, which the entry point delivers through the one-shot session_token
// query parameter.
func (h *AuthHandler) SSOExchange(c *fiber.Ctx) error {
	tokenString := bearer(c)
	if tokenString == "" {
		return response.Unauthorized(c, "Missing authorization header")
	}
	if h.verifier == nil {
		return response.ServiceError(c, "SSO is not configured")
	}

	claims, err := h.verifier.Validate(tokenString)
	if err != nil {
		return response.Unauthorized(c, "Invalid identity token")
	}

	session, err := h.tokens.IssueSession(claims.UserID, claims.Email)
	if err != nil {
		return response.ServiceError(c, "Failed to issue session")
	}

	return response.OK(c, fiber.Map{"session_token": session})
}

// Verify handles GET /auth/verify — called by the gateway's ForwardAuth.
// Returns 200 with X-User-* headers on success, 401 on failure.
func (h *AuthHandler) Verify(c *fiber.Ctx) error {
	tokenString := bearer(c)
	if tokenString == "" {
		return c.SendStatus(fiber.StatusUnauthorized)
	}

	claims, err := h.tokens.ValidateSession(tokenString)
	if err != nil {
		return c.SendStatus(fiber.StatusUnauthorized)
	}

	c.Set("X-User-Id", claims.UserID)
	c.Set("X-User-Email", claims.Email)
	return c.SendStatus(fiber.StatusOK)
}

func bearer(c *fiber.Ctx) string {
	authHeader := c.Get("Authorization")
	if authHeader == "" {
		return ""
	}
	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) != 2 || strings.ToLower(parts[0]) != "bearer" {
		return ""
	}
	return parts[1]
}
