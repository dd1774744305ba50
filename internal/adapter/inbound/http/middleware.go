package http

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/google/uuid"

	"github.com/clinicore/actiongate/internal/ctxkey"
)

const (
	requestIDHeader = "X-Request-ID"
	// longer caller ids are replaced rather than logged
	maxRequestIDLen = 128
)

// RequestIDMiddleware tags each request with an id, taken from X-Request-ID
// when the caller sent a usable one. The id and a logger carrying it go into
// the context; the id is echoed back in the response header.
func RequestIDMiddleware(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id := r.Header.Get(requestIDHeader)
			if id == "" || len(id) > maxRequestIDLen {
				id = uuid.NewString()
			}
			w.Header().Set(requestIDHeader, id)

			ctx := context.WithValue(r.Context(), ctxkey.RequestIDKey{}, id)
			ctx = context.WithValue(ctx, ctxkey.LoggerKey{}, logger.With("request_id", id))
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// LoggerFromContext returns the request logger, or slog.Default outside a request.
func LoggerFromContext(ctx context.Context) *slog.Logger {
	if l, ok := ctx.Value(ctxkey.LoggerKey{}).(*slog.Logger); ok {
		return l
	}
	return slog.Default()
}
