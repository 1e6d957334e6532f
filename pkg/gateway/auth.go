package gateway

import (
	"crypto/subtle"
	"net/http"
	"strings"
)

// requireAuth wraps a handler with bearer-token enforcement. When no auth
// token is configured, every request passes — a gateway bound to
// 127.0.0.1 with no token is considered trusted-local-only (see bindAddr).
func (g *Gateway) requireAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if g.cfg.Gateway.AuthToken == "" {
			next(w, r)
			return
		}

		header := r.Header.Get("Authorization")
		const prefix = "Bearer "
		if !strings.HasPrefix(header, prefix) {
			writeJSONError(w, http.StatusUnauthorized, "missing bearer token")
			return
		}

		token := strings.TrimPrefix(header, prefix)
		if subtle.ConstantTimeCompare([]byte(token), []byte(g.cfg.Gateway.AuthToken)) != 1 {
			writeJSONError(w, http.StatusUnauthorized, "invalid bearer token")
			return
		}

		next(w, r)
	}
}
