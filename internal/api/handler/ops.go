// Package handler provides HTTP handlers for the callbridge API.
package handler

import (
	"context"
	"net/http"
	"sort"
	"time"

	"github.com/callbridge/callbridge/internal/api/models"
	"github.com/callbridge/callbridge/internal/api/response"
	"github.com/callbridge/callbridge/internal/resilience"
)

// CheckFunc reports whether one dependency is usable.
type CheckFunc func(ctx context.Context) error

// checkTimeout bounds each readiness check.
const checkTimeout = 2 * time.Second

// OpsHandler handles operational endpoints.
type OpsHandler struct {
	version   string
	buildTime string
	checks    map[string]CheckFunc
	commands  *resilience.Registry
}

// NewOpsHandler creates a new OpsHandler. checks are run on every readiness
// request; commands may be nil.
func NewOpsHandler(version, buildTime string, checks map[string]CheckFunc, commands *resilience.Registry) *OpsHandler {
	return &OpsHandler{
		version:   version,
		buildTime: buildTime,
		checks:    checks,
		commands:  commands,
	}
}

// HealthCheck handles GET /v1/ops/health - liveness check.
func (h *OpsHandler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	health := models.Health{
		Status: models.HealthStatusOK,
		Time:   models.Timestamp(time.Now()),
		Details: map[string]interface{}{
			"version":   h.version,
			"buildTime": h.buildTime,
		},
	}
	response.JSON(w, r, http.StatusOK, health)
}

// ReadinessCheck handles GET /v1/ops/ready. A failed check makes the service
// unready; an open command circuit only degrades it.
func (h *OpsHandler) ReadinessCheck(w http.ResponseWriter, r *http.Request) {
	ready := models.Readiness{
		Status: models.HealthStatusOK,
		Time:   models.Timestamp(time.Now()),
		Checks: make([]models.CheckStatus, 0, len(h.checks)),
	}

	names := make([]string, 0, len(h.checks))
	for name := range h.checks {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		ctx, cancel := context.WithTimeout(r.Context(), checkTimeout)
		err := h.checks[name](ctx)
		cancel()

		check := models.CheckStatus{Name: name, Status: models.HealthStatusOK}
		if err != nil {
			detail := err.Error()
			check.Status = models.HealthStatusFail
			check.Detail = &detail
			ready.Status = models.HealthStatusFail
		}
		ready.Checks = append(ready.Checks, check)
	}

	if h.commands != nil {
		for _, cmd := range h.commands.AllHealth() {
			status := commandStatus(cmd)
			if status.Status != models.HealthStatusOK && ready.Status == models.HealthStatusOK {
				ready.Status = models.HealthStatusDegraded
			}
			ready.Commands = append(ready.Commands, status)
		}
	}

	code := http.StatusOK
	if ready.Status == models.HealthStatusFail {
		code = http.StatusServiceUnavailable
	}
	response.JSON(w, r, code, ready)
}

func commandStatus(h *resilience.CommandHealth) models.CommandStatus {
	status := models.CommandStatus{
		Name:          h.Name,
		Status:        models.HealthStatusOK,
		CircuitState:  h.State,
		LastSuccessAt: models.TimestampPtr(h.LastSuccessAt),
		LastFailureAt: models.TimestampPtr(h.LastFailureAt),
	}
	switch {
	case h.IsUnhealthy():
		status.Status = models.HealthStatusFail
	case h.IsDegraded():
		status.Status = models.HealthStatusDegraded
	}
	if h.LastError != "" {
		msg := h.LastError
		status.Message = &msg
	}
	return status
}
