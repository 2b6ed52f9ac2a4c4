package gateway

import (
	"crypto/subtle"
	"net/http"
	"strings"
)

// ExtractToken returns the bearer token from the request. It checks the
// Authorization header first, then the token query parameter for clients
// that cannot set headers on a WebSocket upgrade.
func ExtractToken(r *http.Request) string {
	authz := strings.TrimSpace(r.Header.Get("Authorization"))
	const prefix = "Bearer "
	if strings.HasPrefix(authz, prefix) {
		return strings.TrimSpace(strings.TrimPrefix(authz, prefix))
	}
	return r.URL.Query().Get("token")
}

// authorize reports whether r carries the configured token. A gateway with
// no token configured rejects every request.
func (s *Server) authorize(r *http.Request) bool {
	if s.cfg.AuthToken == "" {
		return false
	}
	token := ExtractToken(r)
	if token == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(token), []byte(s.cfg.AuthToken)) == 1
}
