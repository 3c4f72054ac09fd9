// Package server exposes the copyedit service over HTTP.
//
// Routes:
//
//   - POST /api/copyedit accepts {"text", "mode"} and answers with
//     {"revised_text", "changes", "cached"}. With ?units=utf16 span offsets
//     count UTF-16 code units instead of bytes.
//   - GET /healthz and GET /readyz when a [health.Handler] is supplied.
//   - GET /metrics when a metrics handler is supplied.
//
// Failures answer with {"error", "code"} where code is the stable error kind
// from [types.ErrorKind].
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/MrWong99/copyedit/internal/health"
	"github.com/MrWong99/copyedit/internal/observe"
	"github.com/MrWong99/copyedit/internal/service"
)

const (
	// DefaultMaxBodyBytes bounds the request body of POST /api/copyedit.
	DefaultMaxBodyBytes = 64 << 10

	// RequestIDHeader carries the per-request ID in both directions.
	RequestIDHeader = "X-Request-ID"

	shutdownTimeout = 15 * time.Second
)

// Copyeditor is the service the API fronts. [*service.Service] satisfies it.
type Copyeditor interface {
	Copyedit(ctx context.Context, req service.Request) (service.Response, error)
}

// Option is a functional option for configuring a [Server].
type Option func(*Server)

// WithHealth mounts the liveness and readiness probes.
func WithHealth(h *health.Handler) Option {
	return func(s *Server) {
		s.health = h
	}
}

// WithMetricsHandler mounts h at GET /metrics.
func WithMetricsHandler(h http.Handler) Option {
	return func(s *Server) {
		s.metricsHandler = h
	}
}

// WithMetrics sets the instruments used by the request middleware.
// Default: [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(s *Server) {
		s.metrics = m
	}
}

// WithMaxBodyBytes overrides [DefaultMaxBodyBytes].
func WithMaxBodyBytes(n int64) Option {
	return func(s *Server) {
		if n > 0 {
			s.maxBody = n
		}
	}
}

// WithTrustForwarded makes the first X-Forwarded-For entry the rate-limit
// client key. Enable it only behind a proxy that sets the header.
func WithTrustForwarded(trust bool) Option {
	return func(s *Server) {
		s.trustForwarded = trust
	}
}

// Server is the HTTP front end.
type Server struct {
	svc            Copyeditor
	health         *health.Handler
	metricsHandler http.Handler
	metrics        *observe.Metrics
	maxBody        int64
	trustForwarded bool
}

// New creates a [Server] for svc.
func New(svc Copyeditor, opts ...Option) *Server {
	s := &Server{svc: svc, maxBody: DefaultMaxBodyBytes}
	for _, o := range opts {
		o(s)
	}
	if s.metrics == nil {
		s.metrics = observe.DefaultMetrics()
	}
	return s
}

// Handler returns the routed handler wrapped in the request middleware.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/copyedit", s.handleCopyedit)
	if s.health != nil {
		s.health.Register(mux)
	}
	if s.metricsHandler != nil {
		mux.Handle("GET /metrics", s.metricsHandler)
	}
	return requestID(recoverer(observe.Middleware(s.metrics)(mux)))
}

// Run serves on addr until ctx is done, then shuts down gracefully. TLS is
// enabled when certFile and keyFile are both set.
func (s *Server) Run(ctx context.Context, addr, certFile, keyFile string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("server: listen %s: %w", addr, err)
	}
	return s.Serve(ctx, ln, certFile, keyFile)
}

// Serve is like [Server.Run] on an existing listener.
func (s *Server) Serve(ctx context.Context, ln net.Listener, certFile, keyFile string) error {
	srv := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return context.WithoutCancel(ctx) },
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("http server listening", "addr", ln.Addr().String(), "tls", certFile != "")
		if certFile != "" && keyFile != "" {
			errCh <- srv.ServeTLS(ln, certFile, keyFile)
		} else {
			errCh <- srv.Serve(ln)
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("server: serve: %w", err)
	case <-ctx.Done():
	}

	if s.health != nil {
		s.health.Drain()
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server: shutdown: %w", err)
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server: serve: %w", err)
	}
	return nil
}

// clientKey identifies the caller for rate limiting.
func (s *Server) clientKey(r *http.Request) string {
	if s.trustForwarded {
		if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
			first, _, _ := strings.Cut(fwd, ",")
			return strings.TrimSpace(first)
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// requestID propagates a valid inbound X-Request-ID or assigns a new one.
func requestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(RequestIDHeader)
		if _, err := uuid.Parse(id); err != nil {
			id = uuid.NewString()
		}
		w.Header().Set(RequestIDHeader, id)
		next.ServeHTTP(w, r.WithContext(observe.WithRequestID(r.Context(), id)))
	})
}

// recoverer turns a handler panic into a 500.
func recoverer(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if v := recover(); v != nil {
				if v == http.ErrAbortHandler {
					panic(v)
				}
				observe.Logger(r.Context()).Error("handler panic", "panic", v)
				writeJSON(w, http.StatusInternalServerError, errorBody{Error: "internal error", Code: "internal"})
			}
		}()
		next.ServeHTTP(w, r)
	})
}
