// Package health serves the bridge's liveness and readiness probes.
//
// /health and /healthz answer 200 as soon as the process serves HTTP; they
// exist for load balancers and voice clients that only need to know the
// socket is alive. /readyz additionally runs every registered [Checker]
// (database ping, provider reachability) and answers 503 until all of them
// pass, so sessions are not routed to a bridge that cannot complete a turn.
//
// Probe bodies are JSON: a top-level "status" of "ok" or "fail", plus a
// "checks" map naming each checker's outcome on /readyz.
package health

import (
	"context"
	"encoding/json"
	"net/http"
	"time"
)

// checkTimeout bounds a single readiness check. A hung provider must not
// stall the probe indefinitely.
const checkTimeout = 5 * time.Second

// Checker is one named readiness dependency.
type Checker struct {
	// Name keys the check's outcome in the /readyz body, e.g. "database".
	Name string

	// Check probes the dependency; nil means healthy. It must respect
	// context cancellation.
	Check func(ctx context.Context) error
}

// report is the probe response body.
type report struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
}

// Handler serves the probe endpoints. The checker list is fixed at
// construction, so the handler is safe for concurrent use.
type Handler struct {
	checkers []Checker
}

// New builds a [Handler] that evaluates the given checkers, in order, on
// every /readyz request.
func New(checkers ...Checker) *Handler {
	c := make([]Checker, len(checkers))
	copy(c, checkers)
	return &Handler{checkers: c}
}

// Healthz is the liveness probe. Reaching it at all is the signal, so it
// always answers 200.
func (h *Handler) Healthz(w http.ResponseWriter, _ *http.Request) {
	respond(w, http.StatusOK, report{Status: "ok"})
}

// Readyz is the readiness probe: 200 when every checker passes, 503 with the
// per-check outcomes otherwise.
func (h *Handler) Readyz(w http.ResponseWriter, r *http.Request) {
	rep, ready := h.evaluate(r.Context())
	code := http.StatusOK
	if !ready {
		code = http.StatusServiceUnavailable
	}
	respond(w, code, rep)
}

// evaluate runs the checkers in order, each under its own checkTimeout
// derived from ctx.
func (h *Handler) evaluate(ctx context.Context) (report, bool) {
	rep := report{Status: "ok", Checks: make(map[string]string, len(h.checkers))}
	ready := true
	for _, c := range h.checkers {
		cctx, cancel := context.WithTimeout(ctx, checkTimeout)
		err := c.Check(cctx)
		cancel()
		if err != nil {
			rep.Checks[c.Name] = "fail: " + err.Error()
			rep.Status = "fail"
			ready = false
			continue
		}
		rep.Checks[c.Name] = "ok"
	}
	return rep, ready
}

// Register adds the /health, /healthz, and /readyz routes to mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /health", h.Healthz)
	mux.HandleFunc("GET /healthz", h.Healthz)
	mux.HandleFunc("GET /readyz", h.Readyz)
}

// respond writes v as JSON with the given status. Encoding a report cannot
// realistically fail, but a plain 500 beats a half-written body if it does.
func respond(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, `{"status":"error"}`, http.StatusInternalServerError)
	}
}
