package handlers

import (
	"net/http"
	"time"
)

// HealthHandler reports service liveness and dependency health.
type HealthHandler struct {
	checkers map[string]HealthChecker
	started  time.Time
}

// NewHealthHandler creates a health handler. The checkers map is keyed by
// dependency name; nil entries are skipped.
func NewHealthHandler(checkers map[string]HealthChecker) *HealthHandler {
	return &HealthHandler{
		checkers: checkers,
		started:  time.Now(),
	}
}

type healthResponse struct {
	Status  string            `json:"status"`
	Uptime  string            `json:"uptime"`
	Checks  map[string]string `json:"checks,omitempty"`
	Version string            `json:"version,omitempty"`
}

// Health handles GET /healthz. A failing dependency degrades the status but
// the endpoint still answers 200 so load balancers can tell "up but degraded"
// from "down".
func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	resp := healthResponse{
		Status: "ok",
		Uptime: time.Since(h.started).Round(time.Second).String(),
		Checks: make(map[string]string, len(h.checkers)),
	}

	for name, checker := range h.checkers {
		if checker == nil {
			continue
		}
		if err := checker.Health(r.Context()); err != nil {
			resp.Checks[name] = err.Error()
			resp.Status = "degraded"
		} else {
			resp.Checks[name] = "ok"
		}
	}

	RespondJSON(w, http.StatusOK, resp)
}
