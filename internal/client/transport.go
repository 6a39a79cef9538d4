package client

import (
	"net/http"

	"github.com/teamdock/portal/internal/bridge"
)

// Transport attaches the primary session credential to every request and
// funnels 401 handling through one place. A 401 triggers the login redirect
// callback unless the navigation guard says the user is deliberately
// leaving the origin, in which case the response is passed through
// untouched.
type Transport struct {
	Base  http.RoundTripper
	Token func() string
	Guard *bridge.NavigationGuard

	// OnUnauthorized runs when a request comes back 401 while the user did
	// not intend to leave (typically a redirect to login).
	OnUnauthorized func()
}

func (t *Transport) RoundTrip(req *http.Request) (*http.Response, error) {
	base := t.Base
	if base == nil {
		base = http.DefaultTransport
	}

	clone := req.Clone(req.Context())
	if t.Token != nil {
		if tok := t.Token(); tok != "" {
			clone.Header.Set("Authorization", "Bearer "+tok)
		}
	}

	resp, err := base.RoundTrip(clone)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode == http.StatusUnauthorized && t.OnUnauthorized != nil {
		if t.Guard == nil || !t.Guard.Leaving() {
			t.OnUnauthorized()
		}
	}
	return resp, nil
}
