// Package bridge carries an authenticated identity across an origin
// boundary without sharing the long-lived session token. The origin the
// user is leaving mints a short-lived single-purpose token; the destination
// consumes it exactly once from a URL query parameter and installs its own
// session credential.
package bridge

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync/atomic"
)

// One-shot query parameters recognized at origin entry points. The invite
// token is owned by the invitation flow and is only ever preserved here.
const (
	BridgeTokenParam  = "bridge_token"
	SessionTokenParam = "session_token"
	InviteTokenParam  = "invite_token"
)

// ErrNoBridgeToken reports that the page URL carries no bridge token.
var ErrNoBridgeToken = errors.New("bridge: no bridge token in URL")

// NavigationGuard marks that the user is deliberately leaving the current
// origin. While it is set, a 401 observed from an in-flight request racing
// the navigation must not be read as a lost session.
type NavigationGuard struct {
	leaving atomic.Bool
}

func (g *NavigationGuard) Set()          { g.leaving.Store(true) }
func (g *NavigationGuard) Clear()        { g.leaving.Store(false) }
func (g *NavigationGuard) Leaving() bool { return g.leaving.Load() }

// MintRequest asks for a bridge token scoped to one destination tenant.
type MintRequest struct {
	TenantSlug string `json:"tenant_slug"`
}

// MintResponse carries the freshly minted token.
type MintResponse struct {
	BridgeToken string `json:"bridge_token"`
}

// ExchangeRequest redeems a bridge token on the destination origin.
type ExchangeRequest struct {
	BridgeToken string `json:"bridge_token"`
}

// ExchangeResponse carries the destination-scoped session token.
type ExchangeResponse struct {
	SessionToken string `json:"session_token"`
}

// Minter requests bridge tokens from the origin the user is leaving. The
// HTTP client must already carry the primary session credential.
type Minter struct {
	base  *url.URL
	http  *http.Client
	guard *NavigationGuard
}

// NewMinter creates a minter against the given API origin.
func NewMinter(apiBase string, httpClient *http.Client, guard *NavigationGuard) (*Minter, error) {
	u, err := url.Parse(apiBase)
	if err != nil {
		return nil, fmt.Errorf("bridge: invalid API base URL: %w", err)
	}
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	if guard == nil {
		guard = &NavigationGuard{}
	}
	return &Minter{base: u, http: httpClient, guard: guard}, nil
}

// Guard returns the navigation guard the minter sets before a handoff.
func (m *Minter) Guard() *NavigationGuard { return m.guard }

// Mint requests a bridge token for the destination tenant. It is a distinct
// network round-trip that must complete before any navigation; on failure
// the caller stays on the current origin with the primary session intact.
func (m *Minter) Mint(ctx context.Context, tenantSlug string) (string, error) {
	body, err := json.Marshal(MintRequest{TenantSlug: tenantSlug})
	if err != nil {
		return "", err
	}

	endpoint := *m.base
	endpoint.Path = strings.TrimSuffix(endpoint.Path, "/") + "/api/bridge/token"

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint.String(), bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := m.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("bridge: mint request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusForbidden || resp.StatusCode == http.StatusUnauthorized {
		return "", fmt.Errorf("bridge: access to tenant %q denied", tenantSlug)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("bridge: mint returned status %d", resp.StatusCode)
	}

	var out MintResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("bridge: decoding mint response: %w", err)
	}
	if out.BridgeToken == "" {
		return "", errors.New("bridge: mint response missing token")
	}
	return out.BridgeToken, nil
}

// Handoff mints a token for tenantSlug and returns the destination URL with
// it attached as the one-shot query parameter. The navigation guard is set
// only after minting succeeds, immediately before the caller navigates. The
// token is never written to durable storage.
func (m *Minter) Handoff(ctx context.Context, destination *url.URL, tenantSlug string) (*url.URL, error) {
	token, err := m.Mint(ctx, tenantSlug)
	if err != nil {
		return nil, err
	}
	target := *destination
	q := target.Query()
	q.Set(BridgeTokenParam, token)
	target.RawQuery = q.Encode()
	m.guard.Set()
	return &target, nil
}

// Consumer redeems bridge tokens on the destination origin.
type Consumer struct {
	base *url.URL
	http *http.Client
}

// NewConsumer creates a consumer against the destination origin's API base.
func NewConsumer(apiBase string, httpClient *http.Client) (*Consumer, error) {
	u, err := url.Parse(apiBase)
	if err != nil {
		return nil, fmt.Errorf("bridge: invalid API base URL: %w", err)
	}
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Consumer{base: u, http: httpClient}, nil
}

// Consume detects the bridge token on the page URL, exchanges it for a
// session token scoped to this origin and returns the cleaned URL the
// caller must install with replace semantics. ErrNoBridgeToken means there
// was nothing to consume. An exchange failure still returns the cleaned
// URL; the caller falls back to this origin's normal login.
func (c *Consumer) Consume(ctx context.Context, pageURL *url.URL) (string, *url.URL, error) {
	token, cleaned, ok := ExtractBridgeToken(pageURL)
	if !ok {
		return "", pageURL, ErrNoBridgeToken
	}

	body, err := json.Marshal(ExchangeRequest{BridgeToken: token})
	if err != nil {
		return "", cleaned, err
	}

	endpoint := *c.base
	endpoint.Path = strings.TrimSuffix(endpoint.Path, "/") + "/auth/bridge/exchange"

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint.String(), bytes.NewReader(body))
	if err != nil {
		return "", cleaned, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return "", cleaned, fmt.Errorf("bridge: exchange request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", cleaned, fmt.Errorf("bridge: exchange returned status %d", resp.StatusCode)
	}

	var out ExchangeResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", cleaned, fmt.Errorf("bridge: decoding exchange response: %w", err)
	}
	if out.SessionToken == "" {
		return "", cleaned, errors.New("bridge: exchange response missing session token")
	}
	return out.SessionToken, cleaned, nil
}
