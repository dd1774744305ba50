package admin

import (
	"math"
	"net"
	"net/http"
	"strconv"

	"github.com/clinicore/actiongate/internal/domain/ratelimit"
)

// apiRateLimitMiddleware limits remote callers per address. Localhost is
// exempt, consistent with the auth bypass. Limiter errors fail open.
func (h *AdminAPIHandler) apiRateLimitMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if isLocalhost(r) || h.clientLimit.Rate <= 0 {
			next.ServeHTTP(w, r)
			return
		}

		clientIP, _, err := net.SplitHostPort(r.RemoteAddr)
		if err != nil {
			clientIP = r.RemoteAddr
		}

		res, err := h.limiter.Allow(r.Context(), ratelimit.ClientKey(clientIP), h.clientLimit)
		if err != nil {
			h.logger.Warn("admin rate limiter failed", "error", err)
			next.ServeHTTP(w, r)
			return
		}
		if !res.Allowed {
			retry := int(math.Ceil(res.RetryAfter.Seconds()))
			if retry < 1 {
				retry = 1
			}
			w.Header().Set("Retry-After", strconv.Itoa(retry))
			h.respondError(w, http.StatusTooManyRequests, "rate limit exceeded")
			return
		}

		next.ServeHTTP(w, r)
	})
}
