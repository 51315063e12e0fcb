// Package health serves the liveness and readiness endpoints.
//
//   - /healthz reports that the process serves HTTP. It always returns 200.
//   - /readyz returns 200 only while the server accepts device connections
//     and every registered [Checker] passes.
//
// Responses are JSON objects with a top-level "status" field ("ok" or
// "fail"), the per-check results, and the number of connected sessions.
package health

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"
)

// checkTimeout bounds one readiness check.
const checkTimeout = 5 * time.Second

// Checker is a named readiness check. Check returns nil when the dependency
// is healthy.
type Checker struct {
	// Name labels the check in the response (e.g. "transcript_log").
	Name string

	// Check tests the dependency. It must respect context cancellation.
	Check func(ctx context.Context) error
}

type result struct {
	Status   string            `json:"status"`
	Sessions *int              `json:"sessions,omitempty"`
	Checks   map[string]string `json:"checks,omitempty"`
}

// Handler serves /healthz and /readyz. It is safe for concurrent use; the
// checker list is fixed at construction time.
type Handler struct {
	checkers []Checker
	sessions func() int
	draining atomic.Bool
}

// Option configures a [Handler].
type Option func(*Handler)

// WithSessions reports the number of connected device sessions in both
// health responses.
func WithSessions(count func() int) Option {
	return func(h *Handler) { h.sessions = count }
}

// New creates a Handler that runs checkers concurrently on each /readyz
// request.
func New(checkers []Checker, opts ...Option) *Handler {
	h := &Handler{checkers: append([]Checker(nil), checkers...)}
	for _, o := range opts {
		o(h)
	}
	return h
}

// SetDraining marks the server as shutting down. While draining, /readyz
// fails so that load balancers stop routing new devices here; live sessions
// are unaffected.
func (h *Handler) SetDraining(v bool) { h.draining.Store(v) }

func (h *Handler) sessionCount() *int {
	if h.sessions == nil {
		return nil
	}
	n := h.sessions()
	return &n
}

// Healthz is the liveness endpoint.
func (h *Handler) Healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, result{Status: "ok", Sessions: h.sessionCount()})
}

// Readyz is the readiness endpoint. Each checker gets its own [checkTimeout]
// deadline derived from the request context.
func (h *Handler) Readyz(w http.ResponseWriter, r *http.Request) {
	checks := make(map[string]string, len(h.checkers)+1)
	var mu sync.Mutex
	allOK := true

	// Failures are collected per check rather than returned, so one failing
	// dependency does not cancel the others.
	var g errgroup.Group
	for _, c := range h.checkers {
		g.Go(func() error {
			ctx, cancel := context.WithTimeout(r.Context(), checkTimeout)
			defer cancel()
			err := c.Check(ctx)

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				checks[c.Name] = "fail: " + err.Error()
				allOK = false
			} else {
				checks[c.Name] = "ok"
			}
			return nil
		})
	}
	_ = g.Wait()

	if h.draining.Load() {
		checks["draining"] = "fail: server is shutting down"
		allOK = false
	}

	res := result{Status: "ok", Sessions: h.sessionCount(), Checks: checks}
	status := http.StatusOK
	if !allOK {
		res.Status = "fail"
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, res)
}

// Register adds the /healthz and /readyz routes to mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /healthz", h.Healthz)
	mux.HandleFunc("GET /readyz", h.Readyz)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, `{"status":"error"}`, http.StatusInternalServerError)
	}
}
