package http

import (
	"context"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/goleak"
)

var discard = slog.New(slog.NewTextHandler(io.Discard, nil))

func apiStub() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		LoggerFromContext(r.Context()).Info("api hit")
		w.Header().Set("X-Handler", "api")
		_, _ = io.WriteString(w, r.URL.Path)
	})
}

func TestHandler_Routing(t *testing.T) {
	t.Parallel()
	reg := prometheus.NewRegistry()
	hits := prometheus.NewCounter(prometheus.CounterOpts{Name: "actiongate_test_hits_total", Help: "test"})
	reg.MustRegister(hits)
	hits.Inc()

	tr := NewHTTPTransport(apiStub(), WithLogger(discard), WithMetricsGatherer(reg))
	h := tr.Handler()

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "actiongate_test_hits_total 1") {
		t.Errorf("/metrics = %d %q", rec.Code, rec.Body.String())
	}

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/admin/api/v1/tools", nil))
	if rec.Header().Get("X-Handler") != "api" {
		t.Error("admin path should reach the API handler")
	}
	if rec.Header().Get("X-Request-ID") == "" {
		t.Error("missing X-Request-ID")
	}
}

func TestHandler_NoMetricsWithoutGatherer(t *testing.T) {
	t.Parallel()
	h := NewHTTPTransport(apiStub(), WithLogger(discard)).Handler()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Header().Get("X-Handler") != "api" {
		t.Error("/metrics should fall through to the API without a gatherer")
	}
}

func TestRequestIDMiddleware(t *testing.T) {
	t.Parallel()
	var seen string
	h := RequestIDMiddleware(discard)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if LoggerFromContext(r.Context()) == slog.Default() {
			t.Error("logger not stored in context")
		}
		seen = w.Header().Get("X-Request-ID")
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-Request-ID", "req-42")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if seen != "req-42" {
		t.Errorf("request id = %q, want caller's", seen)
	}

	req = httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-Request-ID", strings.Repeat("x", maxRequestIDLen+1))
	h.ServeHTTP(httptest.NewRecorder(), req)
	if len(seen) != 36 {
		t.Errorf("oversized id should be replaced with a uuid, got %q", seen)
	}
}

func TestLoggerFromContext_Default(t *testing.T) {
	t.Parallel()
	if LoggerFromContext(context.Background()) != slog.Default() {
		t.Error("expected slog.Default() without a stored logger")
	}
}

func TestServe_ShutsDownOnCancel(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	tr := NewHTTPTransport(apiStub(), WithLogger(discard), WithShutdownTimeout(time.Second))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- tr.Serve(ctx, ln) }()

	client := &http.Client{Timeout: 2 * time.Second, Transport: &http.Transport{DisableKeepAlives: true}}
	resp, err := client.Get("http://" + ln.Addr().String() + "/ping")
	if err != nil {
		cancel()
		t.Fatalf("GET: %v", err)
	}
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	if string(body) != "/ping" {
		t.Errorf("body = %q", body)
	}
	if tr.Addr() != ln.Addr().String() {
		t.Errorf("Addr = %s, want %s", tr.Addr(), ln.Addr())
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Serve returned %v", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("Serve did not return after cancel")
	}
}

func TestClose_BeforeStart(t *testing.T) {
	t.Parallel()
	if err := NewHTTPTransport(apiStub()).Close(); err != nil {
		t.Errorf("Close = %v", err)
	}
}
