// Package health serves the liveness and readiness endpoints of the jarvis
// server.
//
//   - GET /healthz answers 200 while the process can serve HTTP.
//   - GET /readyz runs every registered [Checker] concurrently and answers
//     200 only when all of them pass, 503 otherwise.
//
// Both respond with {"status": "ok"|"fail", "checks": {name: result}}.
package health

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

// DefaultCheckTimeout bounds a single readiness check.
const DefaultCheckTimeout = 5 * time.Second

// Checker is a named readiness probe. Check returns nil when the dependency
// is usable and must honour ctx cancellation.
type Checker struct {
	Name  string
	Check func(ctx context.Context) error
}

// Report is the JSON body of both endpoints.
type Report struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
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

// Handler serves the health endpoints. Checkers are added before the handler
// starts serving.
type Handler struct {
	checkers []Checker
	timeout  time.Duration
}

// New returns a Handler with the given options and no checkers.
func New(opts ...Option) *Handler {
	h := &Handler{timeout: DefaultCheckTimeout}
	for _, o := range opts {
		o(h)
	}
	return h
}

// Add registers readiness checkers.
func (h *Handler) Add(checkers ...Checker) {
	h.checkers = append(h.checkers, checkers...)
}

// Register adds /healthz and /readyz to mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /healthz", h.Healthz)
	mux.HandleFunc("GET /readyz", h.Readyz)
}

// Healthz is the liveness probe.
func (h *Handler) Healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, Report{Status: "ok"})
}

// Readyz is the readiness probe.
func (h *Handler) Readyz(w http.ResponseWriter, r *http.Request) {
	rep := h.Run(r.Context())
	status := http.StatusOK
	if rep.Status != "ok" {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, rep)
}

// Run evaluates all checkers concurrently, each with its own timeout.
func (h *Handler) Run(ctx context.Context) Report {
	var (
		mu     sync.Mutex
		g      errgroup.Group
		checks = make(map[string]string, len(h.checkers))
		failed bool
	)
	for _, c := range h.checkers {
		g.Go(func() error {
			cctx, cancel := context.WithTimeout(ctx, h.timeout)
			defer cancel()
			res := "ok"
			if err := c.Check(cctx); err != nil {
				res = "fail: " + err.Error()
			}

			mu.Lock()
			defer mu.Unlock()
			checks[c.Name] = res
			if res != "ok" {
				failed = true
			}
			return nil
		})
	}
	_ = g.Wait()

	rep := Report{Status: "ok", Checks: checks}
	if failed {
		rep.Status = "fail"
	}
	return rep
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, `{"status":"error"}`, http.StatusInternalServerError)
	}
}
