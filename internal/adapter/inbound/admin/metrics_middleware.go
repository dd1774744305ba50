package admin

import (
	"net/http"
	"strconv"
	"time"

	"github.com/clinicore/actiongate/internal/adapter/outbound/telemetry"
)

// MetricsMiddleware times every admin request and counts it by method and
// status class. Health checks are not counted.
func MetricsMiddleware(m *telemetry.Metrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Path == "/health" {
				next.ServeHTTP(w, r)
				return
			}
			rec := &statusRecorder{ResponseWriter: w}
			start := time.Now()
			next.ServeHTTP(rec, r)

			m.AdminRequestDuration.WithLabelValues(r.Method).Observe(time.Since(start).Seconds())
			m.AdminRequestsTotal.WithLabelValues(r.Method, statusClass(rec.code())).Inc()
		})
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(code int) {
	if s.status == 0 {
		s.status = code
	}
	s.ResponseWriter.WriteHeader(code)
}

// code is the status sent, 200 when the handler only wrote a body.
func (s *statusRecorder) code() int {
	if s.status == 0 {
		return http.StatusOK
	}
	return s.status
}

// statusClass maps 404 to "4xx".
func statusClass(code int) string {
	if code < 100 || code > 599 {
		return "other"
	}
	return strconv.Itoa(code/100) + "xx"
}
