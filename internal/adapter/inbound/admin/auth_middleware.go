package admin

import (
	"fmt"
	"net"
	"net/http"
	"strings"

	"github.com/alexedwards/argon2id"
)

// isLocalhost checks if the request originates from a loopback address.
// X-Forwarded-For is not trusted.
func isLocalhost(r *http.Request) bool {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}
	return host == "127.0.0.1" || host == "::1" || host == "localhost"
}

// bearerToken returns the credential of an "Authorization: Bearer" header.
func bearerToken(r *http.Request) string {
	const prefix = "Bearer "
	auth := r.Header.Get("Authorization")
	if len(auth) <= len(prefix) || !strings.EqualFold(auth[:len(prefix)], prefix) {
		return ""
	}
	return strings.TrimSpace(auth[len(prefix):])
}

// HashAPIKey returns the argon2id hash to configure as admin.api_key_hash.
func HashAPIKey(rawKey string) (string, error) {
	return argon2id.CreateHash(rawKey, argon2id.DefaultParams)
}

// verifyAPIKey compares rawKey to an argon2id hash. The argon2 library
// panics on hashes with invalid parameters; that is reported as an error.
func verifyAPIKey(rawKey, storedHash string) (match bool, err error) {
	defer func() {
		if r := recover(); r != nil {
			match = false
			err = fmt.Errorf("invalid argon2id hash parameters: %v", r)
		}
	}()
	return argon2id.ComparePasswordAndHash(rawKey, storedHash)
}

// adminAuthMiddleware lets localhost through. Remote callers need a bearer
// key matching the configured hash; without a configured hash they get 403.
func (h *AdminAPIHandler) adminAuthMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if isLocalhost(r) {
			next.ServeHTTP(w, r)
			return
		}
		if h.apiKeyHash == "" {
			h.respondError(w, http.StatusForbidden, "admin API requires localhost access")
			return
		}
		key := bearerToken(r)
		if key == "" {
			w.Header().Set("WWW-Authenticate", `Bearer realm="actiongate"`)
			h.respondError(w, http.StatusUnauthorized, "missing bearer API key")
			return
		}
		ok, err := verifyAPIKey(key, h.apiKeyHash)
		if err != nil {
			h.logger.Error("admin API key hash is unusable", "error", err)
			h.respondError(w, http.StatusInternalServerError, "authentication unavailable")
			return
		}
		if !ok {
			h.logger.Warn("admin API key rejected", "remote_addr", r.RemoteAddr)
			h.respondError(w, http.StatusUnauthorized, "invalid API key")
			return
		}
		next.ServeHTTP(w, r)
	})
}
