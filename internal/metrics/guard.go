package metrics

import (
	"time"

	"github.com/deckward/deckward/internal/observability"
)

// Guard metric names following Prometheus conventions.
var (
	GuardRejectionsTotal  = "guard_rejections_total"
	GenerationsTotal      = "guard_generations_total"
	GenerationDuration    = "guard_generation_duration_ms"
	CircuitTransitions    = "guard_circuit_transitions_total"
	FileValidationsTotal  = "guard_file_validations_total"
	ConcurrentGenerations = "guard_concurrent_generations"
)

// RecordGuardRejection records a guard rejection by code.
func RecordGuardRejection(code string) {
	if observability.TelemetrySystem != nil {
		_ = observability.TelemetrySystem.Counter(
			GuardRejectionsTotal,
			1,
			map[string]string{"code": code},
		)
	}
}

// RecordGeneration records the outcome and duration of one gateway pass.
func RecordGeneration(provider string, success bool, duration time.Duration) {
	status := "success"
	if !success {
		status = "failure"
	}

	if observability.TelemetrySystem != nil {
		_ = observability.TelemetrySystem.Counter(
			GenerationsTotal,
			1,
			map[string]string{
				"provider": provider,
				"status":   status,
			},
		)

		_ = observability.TelemetrySystem.Histogram(
			GenerationDuration,
			duration,
			map[string]string{"provider": provider},
		)
	}
}

// RecordCircuitTransition records a breaker state change for a service.
func RecordCircuitTransition(service, from, to string) {
	if observability.TelemetrySystem != nil {
		_ = observability.TelemetrySystem.Counter(
			CircuitTransitions,
			1,
			map[string]string{
				"service": service,
				"from":    from,
				"to":      to,
			},
		)
	}
}

// RecordFileValidation records an upload screening outcome.
func RecordFileValidation(declaredType string, accepted bool) {
	status := "accepted"
	if !accepted {
		status = "rejected"
	}

	if observability.TelemetrySystem != nil {
		_ = observability.TelemetrySystem.Counter(
			FileValidationsTotal,
			1,
			map[string]string{
				"type":   declaredType,
				"status": status,
			},
		)
	}
}

// SetConcurrentGenerations sets the in-flight generation gauge for an actor pool.
func SetConcurrentGenerations(count int64) {
	if observability.TelemetrySystem != nil {
		_ = observability.TelemetrySystem.Gauge(
			ConcurrentGenerations,
			float64(count),
			nil,
		)
	}
}
