package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

var (
	// ErrBridgeTokenUsed reports a bridge token redeemed more than once.
	ErrBridgeTokenUsed = errors.New("bridge token already used or expired")
)

// SessionClaims are the claims of a primary or tenant-scoped session token.
type SessionClaims struct {
	UserID     string `json:"userId"`
	Email      string `json:"email,omitempty"`
	TenantSlug string `json:"tenantSlug,omitempty"`
	// Purpose is never set on session tokens; it is decoded here only so
	// a bridge token can be recognized and rejected as a session.
	Purpose string `json:"purpose,omitempty"`
	jwt.RegisteredClaims
}

// BridgeClaims are the claims of a short-lived cross-origin bridge token.
// It is a distinct token type: the `purpose` claim keeps it from ever being
// accepted as a session credential.
type BridgeClaims struct {
	UserID     string `json:"user_id"`
	TenantSlug string `json:"tenant_slug"`
	Purpose    string `json:"purpose"`
	jwt.RegisteredClaims
}

const bridgePurpose = "origin-bridge"

// TokenService mints and validates session and bridge tokens. Bridge
// tokens are single-use: each carries a jti registered in redis and deleted
// on first exchange.
type TokenService struct {
	secret     []byte
	issuer     string
	sessionTTL time.Duration
	bridgeTTL  time.Duration
	redis      *redis.Client
}

// NewTokenService creates a token service. bridgeTTL should be on the
// order of seconds; the token only has to survive one redirect.
func NewTokenService(secret, issuer string, sessionTTL, bridgeTTL time.Duration, redisClient *redis.Client) *TokenService {
	return &TokenService{
		secret:     []byte(secret),
		issuer:     issuer,
		sessionTTL: sessionTTL,
		bridgeTTL:  bridgeTTL,
		redis:      redisClient,
	}
}

// IssueSession mints a primary session token for the portal origin.
func (s *TokenService) IssueSession(userID, email string) (string, error) {
	return s.sign(SessionClaims{
		UserID: userID,
		Email:  email,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    s.issuer,
			Subject:   userID,
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(s.sessionTTL)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
		},
	})
}

// IssueTenantSession mints a session token scoped to one tenant origin.
func (s *TokenService) IssueTenantSession(userID, tenantSlug string) (string, error) {
	return s.sign(SessionClaims{
		UserID:     userID,
		TenantSlug: tenantSlug,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    s.issuer,
			Subject:   userID,
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(s.sessionTTL)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
		},
	})
}

// ValidateSession parses and validates a session token.
func (s *TokenService) ValidateSession(tokenString string) (*SessionClaims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &SessionClaims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, jwt.ErrSignatureInvalid
		}
		return s.secret, nil
	})
	if err != nil {
		return nil, err
	}
	claims, ok := token.Claims.(*SessionClaims)
	if !ok || !token.Valid {
		return nil, errors.New("invalid token claims")
	}
	if claims.Purpose != "" {
		return nil, errors.New("bridge token is not a session credential")
	}
	return claims, nil
}

// MintBridgeToken mints a single-use token carrying {tenant_slug, user_id}
// across the origin boundary. The jti is registered in redis under the
// bridge TTL so the exchange endpoint can enforce one-shot consumption.
func (s *TokenService) MintBridgeToken(ctx context.Context, userID, tenantSlug string) (string, error) {
	jti := uuid.New().String()
	token, err := s.sign(BridgeClaims{
		UserID:     userID,
		TenantSlug: tenantSlug,
		Purpose:    bridgePurpose,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    s.issuer,
			Subject:   userID,
			ID:        jti,
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(s.bridgeTTL)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
		},
	})
	if err != nil {
		return "", err
	}
	if err := s.redis.Set(ctx, bridgeKey(jti), userID, s.bridgeTTL).Err(); err != nil {
		return "", fmt.Errorf("registering bridge token: %w", err)
	}
	return token, nil
}

// ExchangeBridgeToken validates a bridge token and consumes it. The second
// exchange of the same token fails with ErrBridgeTokenUsed.
func (s *TokenService) ExchangeBridgeToken(ctx context.Context, tokenString string) (*BridgeClaims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &BridgeClaims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, jwt.ErrSignatureInvalid
		}
		return s.secret, nil
	})
	if err != nil {
		return nil, err
	}
	claims, ok := token.Claims.(*BridgeClaims)
	if !ok || !token.Valid || claims.Purpose != bridgePurpose {
		return nil, errors.New("invalid bridge token claims")
	}

	// Delete-on-read makes consumption atomic; a replayed token finds
	// nothing to delete.
	deleted, err := s.redis.Del(ctx, bridgeKey(claims.ID)).Result()
	if err != nil {
		return nil, fmt.Errorf("consuming bridge token: %w", err)
	}
	if deleted == 0 {
		return nil, ErrBridgeTokenUsed
	}
	return claims, nil
}

func (s *TokenService) sign(claims jwt.Claims) (string, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(s.secret)
}

func bridgeKey(jti string) string {
	return "bridge:jti:" + jti
}
