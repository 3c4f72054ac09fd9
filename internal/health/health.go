// Package health serves the liveness and readiness probes of the copyedit
// HTTP server.
//
//   - GET /healthz reports 200 while the process can serve HTTP, together
//     with the build version.
//   - GET /readyz reports 200 only when every registered [Checker] passes and
//     the server is not draining, 503 otherwise.
//
// Responses are JSON objects with a top-level "status" ("ok", "fail" or
// "draining") and a "checks" map from checker name to "ok" or
// "fail: <reason>".
package health

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"
)

// DefaultCheckTimeout bounds a single readiness check.
const DefaultCheckTimeout = 5 * time.Second

// Checker is a named readiness probe. Check returns nil when the dependency
// is usable and must honour context cancellation.
type Checker struct {
	Name  string
	Check func(ctx context.Context) error
}

type report struct {
	Status  string            `json:"status"`
	Version string            `json:"version,omitempty"`
	Checks  map[string]string `json:"checks,omitempty"`
}

// Option configures a [Handler].
type Option func(*Handler)

// WithCheckTimeout overrides [DefaultCheckTimeout].
func WithCheckTimeout(d time.Duration) Option {
	return func(h *Handler) {
		if d > 0 {
			h.timeout = d
		}
	}
}

// WithVersion adds the build version to /healthz responses.
func WithVersion(v string) Option {
	return func(h *Handler) {
		h.version = v
	}
}

// Handler serves /healthz and /readyz.
type Handler struct {
	checkers []Checker
	timeout  time.Duration
	version  string
	draining atomic.Bool
}

// New creates a [Handler] evaluating checkers on every /readyz request.
func New(checkers []Checker, opts ...Option) *Handler {
	h := &Handler{
		checkers: append([]Checker(nil), checkers...),
		timeout:  DefaultCheckTimeout,
	}
	for _, o := range opts {
		o(h)
	}
	return h
}

// Drain makes /readyz fail from now on so load balancers stop routing new
// requests while in-flight ones finish. Liveness is unaffected.
func (h *Handler) Drain() {
	if !h.draining.Swap(true) {
		slog.Info("readiness: draining")
	}
}

// Healthz always returns 200 OK.
func (h *Handler) Healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, report{Status: "ok", Version: h.version})
}

// Readyz runs every checker concurrently and returns 200 when all pass.
func (h *Handler) Readyz(w http.ResponseWriter, r *http.Request) {
	if h.draining.Load() {
		writeJSON(w, http.StatusServiceUnavailable, report{Status: "draining"})
		return
	}

	checks, ok := h.run(r.Context())
	res := report{Status: "ok", Checks: checks}
	status := http.StatusOK
	if !ok {
		res.Status = "fail"
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, res)
}

func (h *Handler) run(ctx context.Context) (map[string]string, bool) {
	var (
		mu     sync.Mutex
		checks = make(map[string]string, len(h.checkers))
		ok     = true
	)
	var g errgroup.Group
	for _, c := range h.checkers {
		g.Go(func() error {
			cctx, cancel := context.WithTimeout(ctx, h.timeout)
			defer cancel()
			err := c.Check(cctx)

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				checks[c.Name] = "fail: " + err.Error()
				ok = false
				slog.Warn("readiness check failed", "check", c.Name, "err", err)
			} else {
				checks[c.Name] = "ok"
			}
			return nil
		})
	}
	_ = g.Wait()
	return checks, ok
}

// Register adds the /healthz and /readyz routes to mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /healthz", h.Healthz)
	mux.HandleFunc("GET /readyz", h.Readyz)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	body, err := json.Marshal(v)
	if err != nil {
		http.Error(w, `{"status":"fail"}`, http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_, _ = w.Write(append(body, '\n'))
}
