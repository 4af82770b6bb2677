package handler

import (
	"context"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/josh-kwaku/tutor-settlement/internal/logging"
)

const readinessTimeout = 2 * time.Second

type pinger interface {
	PingContext(ctx context.Context) error
}

// HealthCheck is one dependency probed by readiness.
type HealthCheck struct {
	Name string
	// Critical checks fail readiness. Others only report "degraded".
	Critical bool
	Probe    pinger
}

type HealthHandler struct {
	checks []HealthCheck
}

func NewHealthHandler(checks ...HealthCheck) *HealthHandler {
	return &HealthHandler{checks: checks}
}

func (h *HealthHandler) Liveness(w http.ResponseWriter, r *http.Request) {
	RespondJSON(w, http.StatusOK, map[string]string{
		"status":    "ok",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

func (h *HealthHandler) Readiness(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), readinessTimeout)
	defer cancel()

	status := "ok"
	code := http.StatusOK
	results := make(map[string]string, len(h.checks))

	for _, c := range h.checks {
		if err := c.Probe.PingContext(ctx); err != nil {
			logging.FromContext(ctx).Warn("readiness check failed",
				zap.String("check", c.Name),
				zap.Bool("critical", c.Critical),
				zap.Error(err),
			)
			results[c.Name] = "down"
			if c.Critical {
				status = "down"
				code = http.StatusServiceUnavailable
			} else if status == "ok" {
				status = "degraded"
			}
			continue
		}
		results[c.Name] = "ok"
	}

	RespondJSON(w, code, map[string]any{
		"status":    status,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
		"checks":    results,
	})
}
