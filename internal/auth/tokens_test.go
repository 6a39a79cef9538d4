package auth

import (
	"context"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
)

func newTestService(t *testing.T, bridgeTTL time.Duration) *TokenService {
	t.Helper()
	redisClient := redis.NewClient(&redis.Options{Addr: "localhost:6379", DB: 15})
	if err := redisClient.Ping(context.Background()).Err(); err != nil {
		t.Skipf("redis not available: %v", err)
	}
	t.Cleanup(func() { redisClient.Close() })
	return NewTokenService("test-secret", "teamdock-test", time.Hour, bridgeTTL, redisClient)
}

func TestSessionRoundTrip(t *testing.T) {
	s := NewTokenService("test-secret", "teamdock-test", time.Hour, time.Minute, nil)

	token, err := s.IssueSession("user-1", "u@example.com")
	if err != nil {
		t.Fatal(err)
	}
	claims, err := s.ValidateSession(token)
	if err != nil {
		t.Fatalf("ValidateSession: %v", err)
	}
	if claims.UserID != "user-1" || claims.Email != "u@example.com" {
		t.Errorf("claims = %+v", claims)
	}
	if claims.TenantSlug != "" {
		t.Errorf("primary session has tenant scope %q", claims.TenantSlug)
	}
}

func TestTenantSessionCarriesScope(t *testing.T) {
	s := NewTokenService("test-secret", "teamdock-test", time.Hour, time.Minute, nil)

	token, err := s.IssueTenantSession("user-1", "acme")
	if err != nil {
		t.Fatal(err)
	}
	claims, err := s.ValidateSession(token)
	if err != nil {
		t.Fatal(err)
	}
	if claims.TenantSlug != "acme" {
		t.Errorf("tenantSlug = %q", claims.TenantSlug)
	}
}

func TestSessionRejectsWrongSecret(t *testing.T) {
	s := NewTokenService("test-secret", "teamdock-test", time.Hour, time.Minute, nil)
	other := NewTokenService("other-secret", "teamdock-test", time.Hour, time.Minute, nil)

	token, err := s.IssueSession("user-1", "")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := other.ValidateSession(token); err == nil {
		t.Error("token accepted under a different secret")
	}
}

func TestBridgeTokenIsNotASession(t *testing.T) {
	s := newTestService(t, time.Minute)

	token, err := s.MintBridgeToken(context.Background(), "user-1", "acme")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := s.ValidateSession(token); err == nil {
		t.Error("bridge token accepted as a session credential")
	}
}

func TestBridgeTokenOneShot(t *testing.T) {
	s := newTestService(t, time.Minute)
	ctx := context.Background()

	token, err := s.MintBridgeToken(ctx, "user-1", "acme")
	if err != nil {
		t.Fatal(err)
	}

	claims, err := s.ExchangeBridgeToken(ctx, token)
	if err != nil {
		t.Fatalf("first exchange: %v", err)
	}
	if claims.UserID != "user-1" || claims.TenantSlug != "acme" {
		t.Errorf("claims = %+v", claims)
	}

	if _, err := s.ExchangeBridgeToken(ctx, token); err != ErrBridgeTokenUsed {
		t.Errorf("second exchange = %v, want ErrBridgeTokenUsed", err)
	}
}

func TestExpiredBridgeTokenRejected(t *testing.T) {
	s := newTestService(t, 50*time.Millisecond)
	ctx := context.Background()

	token, err := s.MintBridgeToken(ctx, "user-1", "acme")
	if err != nil {
		t.Fatal(err)
	}

	time.Sleep(100 * time.Millisecond)
	if _, err := s.ExchangeBridgeToken(ctx, token); err == nil {
		t.Error("expired bridge token accepted")
	}
}

func TestSessionTokenNotExchangeable(t *testing.T) {
	s := newTestService(t, time.Minute)

	token, err := s.IssueSession("user-1", "")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := s.ExchangeBridgeToken(context.Background(), token); err == nil {
		t.Error("session token accepted by the bridge exchange")
	}
}
