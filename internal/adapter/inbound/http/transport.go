// Package http serves the admin API and the Prometheus endpoint over HTTP.
package http

import (
	"context"
	"crypto/tls"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/clinicore/actiongate/internal/port/inbound"
)

const (
	defaultAddr            = "127.0.0.1:8080"
	defaultShutdownTimeout = 10 * time.Second
)

// HTTPTransport owns the listening server. The API handler is mounted at /
// and /metrics is served from the given Prometheus gatherer.
type HTTPTransport struct {
	api      http.Handler
	gatherer prometheus.Gatherer
	addr     string
	certFile string
	keyFile  string
	logger   *slog.Logger

	readHeaderTimeout time.Duration
	shutdownTimeout   time.Duration

	mu       sync.Mutex
	server   *http.Server
	listener net.Listener
}

// Option is a functional option for configuring HTTPTransport.
type Option func(*HTTPTransport)

// WithAddr sets the listen address. Default is "127.0.0.1:8080".
func WithAddr(addr string) Option {
	return func(t *HTTPTransport) { t.addr = addr }
}

// WithTLS serves HTTPS with the given certificate and key files.
func WithTLS(certFile, keyFile string) Option {
	return func(t *HTTPTransport) {
		t.certFile = certFile
		t.keyFile = keyFile
	}
}

// WithLogger sets the logger for the HTTP transport.
func WithLogger(logger *slog.Logger) Option {
	return func(t *HTTPTransport) {
		if logger != nil {
			t.logger = logger
		}
	}
}

// WithMetricsGatherer exposes /metrics. Without it there is no /metrics route.
func WithMetricsGatherer(g prometheus.Gatherer) Option {
	return func(t *HTTPTransport) { t.gatherer = g }
}

// WithShutdownTimeout bounds graceful shutdown.
func WithShutdownTimeout(d time.Duration) Option {
	return func(t *HTTPTransport) {
		if d > 0 {
			t.shutdownTimeout = d
		}
	}
}

// NewHTTPTransport creates a transport serving api.
func NewHTTPTransport(api http.Handler, opts ...Option) *HTTPTransport {
	t := &HTTPTransport{
		api:               api,
		addr:              defaultAddr,
		logger:            slog.Default(),
		readHeaderTimeout: 10 * time.Second,
		shutdownTimeout:   defaultShutdownTimeout,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Handler returns the full route tree: /metrics when configured, everything
// else to the API, all behind the request ID middleware.
func (t *HTTPTransport) Handler() http.Handler {
	mux := http.NewServeMux()
	if t.gatherer != nil {
		mux.Handle("GET /metrics", promhttp.HandlerFor(t.gatherer, promhttp.HandlerOpts{}))
	}
	mux.Handle("/", t.api)
	return RequestIDMiddleware(t.logger)(mux)
}

// Start listens and serves until ctx is cancelled or the server fails.
func (t *HTTPTransport) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", t.addr)
	if err != nil {
		return err
	}
	return t.Serve(ctx, ln)
}

// Serve is Start on an existing listener.
func (t *HTTPTransport) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           t.Handler(),
		ReadHeaderTimeout: t.readHeaderTimeout,
	}
	tlsEnabled := t.certFile != "" && t.keyFile != ""
	if tlsEnabled {
		srv.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
	}

	t.mu.Lock()
	t.server = srv
	t.listener = ln
	t.mu.Unlock()

	errCh := make(chan error, 1)
	go func() {
		var err error
		if tlsEnabled {
			t.logger.Info("starting HTTPS server", "addr", ln.Addr().String())
			err = srv.ServeTLS(ln, t.certFile, t.keyFile)
		} else {
			t.logger.Info("starting HTTP server", "addr", ln.Addr().String())
			err = srv.Serve(ln)
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		t.logger.Info("context cancelled, shutting down HTTP server")
		if err := t.Close(); err != nil {
			return err
		}
		<-errCh
		return nil
	case err, ok := <-errCh:
		if !ok {
			return nil
		}
		return err
	}
}

// Addr returns the bound address once serving, else the configured one.
func (t *HTTPTransport) Addr() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.listener != nil {
		return t.listener.Addr().String()
	}
	return t.addr
}

// Close gracefully shuts down the server.
func (t *HTTPTransport) Close() error {
	t.mu.Lock()
	srv := t.server
	t.mu.Unlock()
	if srv == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), t.shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		t.logger.Error("error during server shutdown", "error", err)
		return err
	}
	t.logger.Info("HTTP server shutdown complete")
	return nil
}

// Compile-time check that HTTPTransport implements inbound.Server.
var _ inbound.Server = (*HTTPTransport)(nil)
