package bridge

import "net/url"

// stripParam returns a copy of u with one query parameter removed and every
// other parameter untouched, in any relative order of appearance.
func stripParam(u *url.URL, name string) (value string, cleaned *url.URL, ok bool) {
	q := u.Query()
	values, present := q[name]
	if !present || len(values) == 0 || values[0] == "" {
		return "", u, false
	}
	q.Del(name)
	out := *u
	out.RawQuery = q.Encode()
	return values[0], &out, true
}

// ExtractBridgeToken removes the one-shot bridge token from the URL. The
// cleaned URL must be installed with replace (not push) history semantics
// so a reload or share never replays the token.
func ExtractBridgeToken(u *url.URL) (token string, cleaned *url.URL, ok bool) {
	return stripParam(u, BridgeTokenParam)
}

// ExtractSessionToken removes the one-shot primary session token the portal
// entry point receives after SSO login. The invitation token parameter is
// independent and left alone.
func ExtractSessionToken(u *url.URL) (token string, cleaned *url.URL, ok bool) {
	return stripParam(u, SessionTokenParam)
}
