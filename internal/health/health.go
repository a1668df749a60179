// Package health serves the liveness and readiness probes for the
// concierge process.
//
//   - /healthz answers 200 whenever the process can serve HTTP.
//   - /readyz answers 200 only when every registered probe (booking
//     store, telemetry, ...) passes, 503 otherwise.
//
// Bodies are JSON: {"status": "ok"|"fail", "checks": {name: verdict}}.
package health

import (
	"context"
	"encoding/json"
	"net/http"
	"time"
)

// checkTimeout bounds a single readiness probe.
const checkTimeout = 5 * time.Second

// Checker is one named readiness probe. Check returns nil while the
// dependency can serve and must respect context cancellation.
type Checker struct {
	Name  string
	Check func(ctx context.Context) error
}

// NamedCheck builds a [Checker] from a name and a probe function.
func NamedCheck(name string, check func(ctx context.Context) error) Checker {
	return Checker{Name: name, Check: check}
}

// verdict runs the probe under the standard timeout and renders its
// outcome the way it appears in the response body.
func (c Checker) verdict(parent context.Context) (string, bool) {
	ctx, cancel := context.WithTimeout(parent, checkTimeout)
	defer cancel()
	if err := c.Check(ctx); err != nil {
		return "fail: " + err.Error(), false
	}
	return "ok", true
}

// result is the response body shared by both probes.
type result struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
}

// Handler answers the health routes. The probe list is fixed at
// construction; the Handler itself is stateless and safe for concurrent
// use.
type Handler struct {
	checkers []Checker
}

// New creates a [Handler] evaluating the given probes, in order, on
// each /readyz request.
func New(checkers ...Checker) *Handler {
	c := make([]Checker, len(checkers))
	copy(c, checkers)
	return &Handler{checkers: c}
}

// Healthz is the liveness probe. Always 200.
func (h *Handler) Healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, result{Status: "ok"})
}

// Readyz is the readiness probe: 200 when every probe passes, 503 with
// per-probe verdicts otherwise.
func (h *Handler) Readyz(w http.ResponseWriter, r *http.Request) {
	res := result{
		Status: "ok",
		Checks: make(map[string]string, len(h.checkers)),
	}
	status := http.StatusOK

	for _, c := range h.checkers {
		v, ok := c.verdict(r.Context())
		res.Checks[c.Name] = v
		if !ok {
			res.Status = "fail"
			status = http.StatusServiceUnavailable
		}
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
