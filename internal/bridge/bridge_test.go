package bridge

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
)

func mustParse(t *testing.T, raw string) *url.URL {
	t.Helper()
	u, err := url.Parse(raw)
	if err != nil {
		t.Fatalf("parse %q: %v", raw, err)
	}
	return u
}

func TestStripParamPreservesOthers(t *testing.T) {
	cases := []struct {
		name string
		in   string
	}{
		{"bridge before invite", "https://team.example.com/app?bridge_token=bt&invite_token=inv"},
		{"invite before bridge", "https://team.example.com/app?invite_token=inv&bridge_token=bt"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			token, cleaned, ok := ExtractBridgeToken(mustParse(t, tc.in))
			if !ok || token != "bt" {
				t.Fatalf("token = %q ok=%v", token, ok)
			}
			if cleaned.Query().Get(InviteTokenParam) != "inv" {
				t.Errorf("invite_token lost: %s", cleaned)
			}
			if cleaned.Query().Has(BridgeTokenParam) {
				t.Errorf("bridge_token survived: %s", cleaned)
			}
		})
	}
}

func TestExtractMissingOrEmptyToken(t *testing.T) {
	if _, _, ok := ExtractBridgeToken(mustParse(t, "https://x.example.com/?invite_token=inv")); ok {
		t.Error("extracted a token that is not there")
	}
	if _, _, ok := ExtractBridgeToken(mustParse(t, "https://x.example.com/?bridge_token=")); ok {
		t.Error("extracted an empty token")
	}
	if _, _, ok := ExtractSessionToken(mustParse(t, "https://x.example.com/app")); ok {
		t.Error("extracted a session token that is not there")
	}
}

func TestExtractSessionTokenLeavesInviteAlone(t *testing.T) {
	u := mustParse(t, "https://portal.example.com/?session_token=st&invite_token=inv")
	token, cleaned, ok := ExtractSessionToken(u)
	if !ok || token != "st" {
		t.Fatalf("token = %q ok=%v", token, ok)
	}
	if cleaned.Query().Get(InviteTokenParam) != "inv" {
		t.Errorf("invite_token lost: %s", cleaned)
	}
}

func TestHandoffMintsThenSetsGuard(t *testing.T) {
	var minted int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/bridge/token" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		var req MintRequest
		json.NewDecoder(r.Body).Decode(&req)
		if req.TenantSlug != "acme" {
			t.Errorf("tenant_slug = %q", req.TenantSlug)
		}
		minted++
		json.NewEncoder(w).Encode(MintResponse{BridgeToken: "bt-1"})
	}))
	defer srv.Close()

	guard := &NavigationGuard{}
	m, err := NewMinter(srv.URL, nil, guard)
	if err != nil {
		t.Fatal(err)
	}

	dest := mustParse(t, "https://acme.example.com/app?invite_token=inv")
	target, err := m.Handoff(context.Background(), dest, "acme")
	if err != nil {
		t.Fatalf("Handoff: %v", err)
	}
	if minted != 1 {
		t.Errorf("minted %d tokens, want 1", minted)
	}
	if !guard.Leaving() {
		t.Error("guard not set after successful handoff")
	}
	q := target.Query()
	if q.Get(BridgeTokenParam) != "bt-1" {
		t.Errorf("bridge_token = %q", q.Get(BridgeTokenParam))
	}
	if q.Get(InviteTokenParam) != "inv" {
		t.Errorf("invite_token lost from destination: %s", target)
	}
	// The input URL is not mutated.
	if dest.Query().Has(BridgeTokenParam) {
		t.Error("Handoff mutated the destination URL in place")
	}
}

func TestHandoffDeniedLeavesGuardClear(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()

	guard := &NavigationGuard{}
	m, err := NewMinter(srv.URL, nil, guard)
	if err != nil {
		t.Fatal(err)
	}

	_, err = m.Handoff(context.Background(), mustParse(t, "https://acme.example.com/"), "acme")
	if err == nil || !strings.Contains(err.Error(), "denied") {
		t.Fatalf("Handoff error = %v, want denial", err)
	}
	if guard.Leaving() {
		t.Error("guard set even though handoff failed")
	}
}

func TestConsumeExchangesAndCleansURL(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/auth/bridge/exchange" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		var req ExchangeRequest
		json.NewDecoder(r.Body).Decode(&req)
		if req.BridgeToken != "bt-1" {
			t.Errorf("bridge_token = %q", req.BridgeToken)
		}
		json.NewEncoder(w).Encode(ExchangeResponse{SessionToken: "sess-1"})
	}))
	defer srv.Close()

	c, err := NewConsumer(srv.URL, nil)
	if err != nil {
		t.Fatal(err)
	}

	page := mustParse(t, "https://acme.example.com/app?bridge_token=bt-1&invite_token=inv")
	session, cleaned, err := c.Consume(context.Background(), page)
	if err != nil {
		t.Fatalf("Consume: %v", err)
	}
	if session != "sess-1" {
		t.Errorf("session = %q", session)
	}
	if cleaned.Query().Has(BridgeTokenParam) {
		t.Errorf("token left in cleaned URL: %s", cleaned)
	}
	if cleaned.Query().Get(InviteTokenParam) != "inv" {
		t.Errorf("invite_token lost: %s", cleaned)
	}
}

func TestConsumeWithoutToken(t *testing.T) {
	c, err := NewConsumer("https://api.acme.example.com", nil)
	if err != nil {
		t.Fatal(err)
	}
	page := mustParse(t, "https://acme.example.com/app")
	_, cleaned, err := c.Consume(context.Background(), page)
	if err != ErrNoBridgeToken {
		t.Fatalf("err = %v, want ErrNoBridgeToken", err)
	}
	if cleaned != page {
		t.Error("URL without a token should pass through unchanged")
	}
}

func TestConsumeFailureStillCleansURL(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// A replayed one-shot token is rejected.
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	c, err := NewConsumer(srv.URL, nil)
	if err != nil {
		t.Fatal(err)
	}
	page := mustParse(t, "https://acme.example.com/app?bridge_token=used")
	_, cleaned, err := c.Consume(context.Background(), page)
	if err == nil {
		t.Fatal("expected exchange failure")
	}
	// The caller still installs the cleaned URL before falling back to
	// the destination's own login.
	if cleaned.Query().Has(BridgeTokenParam) {
		t.Errorf("token left in cleaned URL after failure: %s", cleaned)
	}
}
