// Package health serves the liveness and readiness probes on the admin
// listener, beside /metrics.
//
// /healthz answers 200 whenever the process can serve HTTP at all. /readyz
// probes every registered dependency (transcript store, speech services) and
// answers 503 until all of them pass, so an orchestrator holds traffic off a
// box whose database is still coming up.
package health

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"
)

// DefaultProbeTimeout bounds a single dependency probe.
const DefaultProbeTimeout = 5 * time.Second

// Checker probes one dependency of the assistant.
type Checker struct {
	// Name keys the probe in the readiness report ("database", "speech").
	Name string

	// Check returns nil while the dependency is usable. It must honor ctx.
	Check func(ctx context.Context) error
}

// probeResult is one dependency's entry in the readiness report.
type probeResult struct {
	Name     string `json:"name"`
	Status   string `json:"status"`
	Error    string `json:"error,omitempty"`
	Duration string `json:"duration"`
}

// report is the response body of both probes.
type report struct {
	Status string        `json:"status"`
	Probes []probeResult `json:"probes,omitempty"`
}

// Handler answers the /healthz and /readyz probes. The checker set is fixed
// at construction; the handler itself is stateless and safe for concurrent
// requests.
type Handler struct {
	checkers []Checker
	timeout  time.Duration
}

// New builds a Handler over the given dependency checkers.
func New(checkers ...Checker) *Handler {
	return &Handler{
		checkers: append([]Checker(nil), checkers...),
		timeout:  DefaultProbeTimeout,
	}
}

// Register mounts both probes on mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /healthz", h.Healthz)
	mux.HandleFunc("GET /readyz", h.Readyz)
}

// Healthz reports liveness. Serving the request is the proof.
func (h *Handler) Healthz(w http.ResponseWriter, _ *http.Request) {
	writeReport(w, http.StatusOK, report{Status: "ok"})
}

// Readyz probes all dependencies concurrently and reports 200 only when every
// probe passes. Each probe runs under its own timeout derived from the
// request context.
func (h *Handler) Readyz(w http.ResponseWriter, r *http.Request) {
	probes := make([]probeResult, len(h.checkers))

	var wg sync.WaitGroup
	for i, c := range h.checkers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			probes[i] = h.probe(r.Context(), c)
		}()
	}
	wg.Wait()

	rep := report{Status: "ok", Probes: probes}
	status := http.StatusOK
	for _, p := range probes {
		if p.Status != "ok" {
			rep.Status = "fail"
			status = http.StatusServiceUnavailable
			break
		}
	}
	writeReport(w, status, rep)
}

func (h *Handler) probe(ctx context.Context, c Checker) probeResult {
	ctx, cancel := context.WithTimeout(ctx, h.timeout)
	defer cancel()

	start := time.Now()
	err := c.Check(ctx)
	res := probeResult{
		Name:     c.Name,
		Status:   "ok",
		Duration: time.Since(start).Round(time.Microsecond).String(),
	}
	if err != nil {
		res.Status = "fail"
		res.Error = err.Error()
	}
	return res
}

func writeReport(w http.ResponseWriter, status int, rep report) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(rep); err != nil {
		http.Error(w, `{"status":"error"}`, http.StatusInternalServerError)
	}
}
