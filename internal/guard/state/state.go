// Package state defines the actor-scoped store that backs the rate limiter
// and circuit breaker. State is keyed by actor (one end user's session) so
// one actor's counters never influence another's.
package state

import (
	"context"
	"time"
)

// Kind identifies a rate-limited operation class.
type Kind string

const (
	// KindGeneration covers expensive remote AI calls.
	KindGeneration Kind = "generation"

	// KindFileProcessing covers uploaded-document processing.
	KindFileProcessing Kind = "file_processing"
)

// CircuitStatus is the persisted breaker state for one remote service.
type CircuitStatus string

const (
	CircuitClosed   CircuitStatus = "closed"
	CircuitOpen     CircuitStatus = "open"
	CircuitHalfOpen CircuitStatus = "half_open"
)

// CircuitRecord holds breaker counters for one (actor, service).
type CircuitRecord struct {
	Status       CircuitStatus `json:"status"`
	FailureCount int           `json:"failure_count"`
	SuccessCount int           `json:"success_count"`
	LastFailure  time.Time     `json:"last_failure"`
}

// Store persists rate and circuit state per actor.
//
// A nil return with no error means "no state yet" for Get operations; callers
// initialize fresh state on first use. Implementations: MemoryStore for tests
// and single-process use, LibsqlStore for durable multi-process state.
type Store interface {
	// GetWindow returns the recorded event timestamps for (actor, kind).
	GetWindow(ctx context.Context, actor string, kind Kind) ([]time.Time, error)
	// PutWindow replaces the recorded event timestamps for (actor, kind).
	PutWindow(ctx context.Context, actor string, kind Kind, events []time.Time) error

	// GetCooldown returns the last cooldown-gated invocation for an actor.
	GetCooldown(ctx context.Context, actor string) (time.Time, bool, error)
	// PutCooldown stores the last cooldown-gated invocation for an actor.
	PutCooldown(ctx context.Context, actor string, mark time.Time) error

	// GetConcurrency returns the in-flight operation count for an actor.
	GetConcurrency(ctx context.Context, actor string) (int, error)
	// PutConcurrency stores the in-flight operation count for an actor.
	PutConcurrency(ctx context.Context, actor string, count int) error

	// GetCircuit returns the breaker record for (actor, service), nil if none.
	GetCircuit(ctx context.Context, actor, service string) (*CircuitRecord, error)
	// PutCircuit stores the breaker record for (actor, service).
	PutCircuit(ctx context.Context, actor, service string, record *CircuitRecord) error
	// ListCircuits returns all breaker records for an actor keyed by service.
	ListCircuits(ctx context.Context, actor string) (map[string]*CircuitRecord, error)

	// ResetActor clears all windows, marks, counters, and circuits for an actor.
	ResetActor(ctx context.Context, actor string) error
}

// SettingsStore is the secret-bearing configuration store consumed by the
// encryption service's migration routine.
type SettingsStore interface {
	// GetSetting returns the stored value for a key, and whether it exists.
	GetSetting(ctx context.Context, key string) (string, bool, error)
	// SetSetting stores a value under a key.
	SetSetting(ctx context.Context, key, value string) error
}
