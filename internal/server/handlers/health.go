package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/fulmenhq/gofulmen/errors"
)

// HealthResponse represents the aggregate health check response
type HealthResponse struct {
	Status    string            `json:"status"`
	Version   string            `json:"version"`
	Timestamp string            `json:"timestamp"`
	Checks    map[string]string `json:"checks,omitempty"`
}

// ProbeResponse represents individual probe response
type ProbeResponse struct {
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
}

// HealthChecker defines interface for health checkable components
type HealthChecker interface {
	CheckHealth(ctx context.Context) error
}

// HealthManager manages health checks and probe states
type HealthManager struct {
	checkers map[string]HealthChecker
	version  string
}

// NewHealthManager creates a new health manager
func NewHealthManager(version string) *HealthManager {
	return &HealthManager{
		checkers: make(map[string]HealthChecker),
		version:  version,
	}
}

// RegisterChecker registers a health checker
func (hm *HealthManager) RegisterChecker(name string, checker HealthChecker) {
	hm.checkers[name] = checker
}

func (hm *HealthManager) runHealthChecks(ctx context.Context) map[string]string {
	checks := make(map[string]string)

	for name, checker := range hm.checkers {
		select {
		case <-ctx.Done():
			checks[name] = "timeout"
			return checks
		default:
			if err := checker.CheckHealth(ctx); err != nil {
				checks[name] = "unhealthy"
			} else {
				checks[name] = "healthy"
			}
		}
	}

	return checks
}

func (hm *HealthManager) overallStatus(checks map[string]string) string {
	degraded := false
	for _, status := range checks {
		if status == "unhealthy" {
			return "unhealthy"
		}
		if status == "timeout" {
			degraded = true
		}
	}
	if degraded {
		return "degraded"
	}
	return "healthy"
}

// HealthHandler handles aggregate health check requests
func (hm *HealthManager) HealthHandler(w http.ResponseWriter, r *http.Request) {
	checkCtx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	checks := hm.runHealthChecks(checkCtx)
	status := hm.overallStatus(checks)

	if status == "unhealthy" {
		envelope := errors.NewErrorEnvelope("SERVICE_UNAVAILABLE", "aggregate health check failed")
		envelope, _ = envelope.WithContext(map[string]interface{}{"checks": checks})
		respondWithError(w, r, envelope)
		return
	}

	response := HealthResponse{
		Status:    status,
		Version:   hm.version,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Checks:    checks,
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(response)
}

// probeHandler serves the liveness and readiness probes; they differ only in
// timeout.
func (hm *HealthManager) probeHandler(timeout time.Duration, probe string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		checkCtx, cancel := context.WithTimeout(r.Context(), timeout)
		defer cancel()

		checks := hm.runHealthChecks(checkCtx)
		status := hm.overallStatus(checks)

		if status == "unhealthy" {
			envelope := errors.NewErrorEnvelope("SERVICE_UNAVAILABLE", probe+" probe failed")
			envelope, _ = envelope.WithContext(map[string]interface{}{"probe": probe, "checks": checks})
			respondWithError(w, r, envelope)
			return
		}

		response := ProbeResponse{
			Status:    status,
			Timestamp: time.Now().UTC(),
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_ = json.NewEncoder(w).Encode(response)
	}
}

// Global health manager instance
var globalHealthManager *HealthManager

// InitHealthManager initializes the global health manager
func InitHealthManager(version string) {
	globalHealthManager = NewHealthManager(version)
}

// GetHealthManager returns the global health manager
func GetHealthManager() *HealthManager {
	return globalHealthManager
}

// HealthHandler is the handler that uses the global manager
func HealthHandler(w http.ResponseWriter, r *http.Request) {
	if globalHealthManager != nil {
		globalHealthManager.HealthHandler(w, r)
		return
	}
	respondWithError(w, r, errors.NewErrorEnvelope("SERVICE_UNAVAILABLE", "health manager not initialized"))
}

// LivenessHandler is the liveness probe using the global manager
func LivenessHandler(w http.ResponseWriter, r *http.Request) {
	if globalHealthManager != nil {
		globalHealthManager.probeHandler(2*time.Second, "live")(w, r)
		return
	}
	respondWithError(w, r, errors.NewErrorEnvelope("SERVICE_UNAVAILABLE", "health manager not initialized"))
}

// ReadinessHandler is the readiness probe using the global manager
func ReadinessHandler(w http.ResponseWriter, r *http.Request) {
	if globalHealthManager != nil {
		globalHealthManager.probeHandler(5*time.Second, "ready")(w, r)
		return
	}
	respondWithError(w, r, errors.NewErrorEnvelope("SERVICE_UNAVAILABLE", "health manager not initialized"))
}
