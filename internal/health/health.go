// Package health provides HTTP health, readiness and status handlers.
//
// The package exposes three endpoints:
//
//   - /healthz: liveness probe; always returns 200 OK.
//   - /readyz: readiness probe; returns 200 only when all registered
//     [Checker] functions pass.
//   - /api/status: the coordinator snapshot (session state, pending
//     requests, engine state), when a status source is configured.
//
// Health responses are JSON objects with a top-level "status" field ("ok"
// or "fail") and a "checks" map containing the result of each named checker.
package health

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/MrWong99/holdscribe/internal/coordinator"
)

// checkTimeout is the maximum time a single readiness check may take before
// the context is cancelled.
const checkTimeout = 5 * time.Second

// Checker is a named health check function. The Check function should return
// nil when the dependency is healthy and a non-nil error describing the
// failure otherwise.
type Checker struct {
	// Name is a short label for this check (e.g. "coordinator", "history").
	// It appears as a key in the JSON response.
	Name string

	// Check probes the dependency. It must respect context cancellation.
	Check func(ctx context.Context) error

	// Detail, when set, is used instead of Check. Its description is
	// reported next to a passing result.
	Detail func(ctx context.Context) (string, error)
}

func (c Checker) run(ctx context.Context) (string, error) {
	if c.Detail != nil {
		return c.Detail(ctx)
	}
	return "", c.Check(ctx)
}

// Snapshotter reports the coordinator state.
type Snapshotter interface {
	Snapshot(ctx context.Context) (coordinator.Snapshot, error)
}

// Pinger is a dependency that can be probed, such as the history store.
type Pinger interface {
	Ping(ctx context.Context) error
}

// CoordinatorCheck fails when the coordinator does not answer, which means
// its goroutine has stopped or is wedged. It reports the session and engine
// state. An unloaded engine is not a failure: engines load lazily on the
// first session.
func CoordinatorCheck(s Snapshotter) Checker {
	detail := func(ctx context.Context) (string, error) {
		snap, err := s.Snapshot(ctx)
		if errors.Is(err, context.DeadlineExceeded) {
			return "", errors.New("coordinator not responding")
		}
		if err != nil {
			return "", err
		}
		engine := "unloaded"
		switch {
		case snap.EngineReady:
			engine = "ready"
		case snap.EngineAlive:
			engine = "warming up"
		}
		return fmt.Sprintf("%s, engine %s", snap.State, engine), nil
	}
	return Checker{
		Name:   "coordinator",
		Detail: detail,
		Check: func(ctx context.Context) error {
			_, err := detail(ctx)
			return err
		},
	}
}

// PingCheck wraps p as a checker named name.
func PingCheck(name string, p Pinger) Checker {
	return Checker{Name: name, Check: p.Ping}
}

// result is the JSON response body for health endpoints.
type result struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
}

// Option configures a [Handler].
type Option func(*Handler)

// WithStatus serves s on /api/status.
func WithStatus(s Snapshotter) Option {
	return func(h *Handler) { h.status = s }
}

// Handler serves the health endpoints. It is safe for concurrent use; the
// checker list is fixed at construction time.
type Handler struct {
	checkers []Checker
	status   Snapshotter
}

// New creates a [Handler] that evaluates the given checkers on each /readyz
// request. The checkers are evaluated sequentially in the order provided.
func New(checkers []Checker, opts ...Option) *Handler {
	h := &Handler{checkers: append([]Checker(nil), checkers...)}
	for _, o := range opts {
		o(h)
	}
	return h
}

// Healthz is a liveness probe that always returns 200 OK. A running process
// that can serve HTTP is considered alive.
func (h *Handler) Healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, result{Status: "ok"})
}

// Readyz is a readiness probe that returns 200 only when every registered
// [Checker] passes. Each checker is given a context with a [checkTimeout]
// deadline derived from the request context.
func (h *Handler) Readyz(w http.ResponseWriter, r *http.Request) {
	checks := make(map[string]string, len(h.checkers))
	allOK := true

	for _, c := range h.checkers {
		ctx, cancel := context.WithTimeout(r.Context(), checkTimeout)
		detail, err := c.run(ctx)
		cancel()

		switch {
		case err != nil:
			checks[c.Name] = "fail: " + err.Error()
			allOK = false
		case detail != "":
			checks[c.Name] = "ok: " + detail
		default:
			checks[c.Name] = "ok"
		}
	}

	res := result{Status: "ok", Checks: checks}
	status := http.StatusOK
	if !allOK {
		res.Status = "fail"
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, res)
}

// Status writes the coordinator snapshot.
func (h *Handler) Status(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), checkTimeout)
	defer cancel()
	snap, err := h.status.Snapshot(ctx)
	if err != nil {
		writeJSON(w, http.StatusServiceUnavailable, result{Status: "fail", Checks: map[string]string{"coordinator": err.Error()}})
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

// Register adds the routes to mux. /api/status is only added when a
// status source was configured.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /healthz", h.Healthz)
	mux.HandleFunc("GET /readyz", h.Readyz)
	if h.status != nil {
		mux.HandleFunc("GET /api/status", h.Status)
	}
}

// writeJSON encodes v as JSON and writes it with the given status code. On
// encoding failure it falls back to a plain-text 500 response.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, `{"status":"error"}`, http.StatusInternalServerError)
	}
}
