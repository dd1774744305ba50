package admin

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/clinicore/actiongate/internal/adapter/outbound/memory"
	"github.com/clinicore/actiongate/internal/adapter/outbound/telemetry"
	"github.com/clinicore/actiongate/internal/clock"
	"github.com/clinicore/actiongate/internal/domain/ratelimit"
)

func serve(h http.Handler, method, path, remote string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, nil)
	req.RemoteAddr = remote
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestSecurityHeaders(t *testing.T) {
	t.Parallel()
	h := NewAdminAPIHandler(WithAPILogger(discard)).Routes()
	rec := serve(h, http.MethodGet, "/health", "127.0.0.1:1")

	want := map[string]string{
		"Content-Security-Policy": "default-src 'none'; frame-ancestors 'none'",
		"X-Content-Type-Options":  "nosniff",
		"X-Frame-Options":         "DENY",
		"Referrer-Policy":         "no-referrer",
		"Cache-Control":           "no-store",
	}
	for k, v := range want {
		if got := rec.Header().Get(k); got != v {
			t.Errorf("%s = %q, want %q", k, got, v)
		}
	}
}

func TestAPIRateLimit(t *testing.T) {
	t.Parallel()
	mc := clock.NewManual(time.Date(2026, 5, 4, 10, 0, 0, 0, time.UTC))
	limiter := memory.NewRateLimiterWithConfig(time.Minute, time.Hour, mc, discard)
	h := NewAdminAPIHandler(
		WithAPILogger(discard),
		WithClientRateLimit(limiter, ratelimit.RateLimitConfig{Rate: 2, Period: time.Minute}),
	).Routes()

	for i := 0; i < 2; i++ {
		if rec := serve(h, http.MethodGet, "/health", "10.0.0.1:5"); rec.Code != http.StatusOK {
			t.Fatalf("request %d status = %d, want 200", i+1, rec.Code)
		}
	}
	rec := serve(h, http.MethodGet, "/health", "10.0.0.1:6")
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("third request status = %d, want 429", rec.Code)
	}
	if rec.Header().Get("Retry-After") == "" {
		t.Error("429 without Retry-After")
	}

	if rec := serve(h, http.MethodGet, "/health", "10.0.0.2:5"); rec.Code != http.StatusOK {
		t.Errorf("other client status = %d, want 200", rec.Code)
	}
	for i := 0; i < 5; i++ {
		if rec := serve(h, http.MethodGet, "/health", "127.0.0.1:5"); rec.Code != http.StatusOK {
			t.Fatalf("localhost request %d status = %d, want 200", i+1, rec.Code)
		}
	}

	mc.Advance(30 * time.Second)
	if rec := serve(h, http.MethodGet, "/health", "10.0.0.1:5"); rec.Code != http.StatusOK {
		t.Errorf("after refill status = %d, want 200", rec.Code)
	}
}

func TestMetricsMiddleware(t *testing.T) {
	t.Parallel()
	reg := prometheus.NewRegistry()
	m := telemetry.NewMetrics(reg)
	h := NewAdminAPIHandler(WithAPILogger(discard), WithMetrics(m)).Routes()

	serve(h, http.MethodGet, "/health", "127.0.0.1:1")
	serve(h, http.MethodGet, "/admin/api/v1/tools", "127.0.0.1:1")
	serve(h, http.MethodGet, "/admin/api/v1/killswitch", "127.0.0.1:1")

	if got := testutil.ToFloat64(m.AdminRequestsTotal.WithLabelValues(http.MethodGet, "2xx")); got != 1 {
		t.Errorf("2xx requests = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.AdminRequestsTotal.WithLabelValues(http.MethodGet, "4xx")); got != 1 {
		t.Errorf("4xx requests = %v, want 1", got)
	}
}

func TestStatusClass(t *testing.T) {
	t.Parallel()
	tests := map[int]string{200: "2xx", 202: "2xx", 302: "3xx", 404: "4xx", 429: "4xx", 503: "5xx", 0: "other", 999: "other"}
	for code, want := range tests {
		if got := statusClass(code); got != want {
			t.Errorf("statusClass(%d) = %q, want %q", code, got, want)
		}
	}
}
