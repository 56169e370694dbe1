// Package circuit implements a per-service circuit breaker over the
// actor-scoped state store.
//
// Recovery is lazy: the Open to HalfOpen transition happens on the next
// availability check after the open timeout, not on a background timer. A
// service that is never retried therefore stays Open indefinitely; that is
// the intended behavior, not a defect.
package circuit

import (
	"context"
	"time"

	apperrors "github.com/deckward/deckward/internal/errors"
	"github.com/deckward/deckward/internal/guard/state"
	"github.com/deckward/deckward/internal/metrics"
)

// Config holds the breaker thresholds.
type Config struct {
	// FailureThreshold is consecutive failures before opening. Default 5.
	FailureThreshold int
	// SuccessThreshold is half-open successes required to close. Default 2.
	SuccessThreshold int
	// OpenTimeout is how long Open lasts before a half-open probe. Default 60s.
	OpenTimeout time.Duration
}

// DefaultConfig returns the standard thresholds.
func DefaultConfig() Config {
	return Config{
		FailureThreshold: 5,
		SuccessThreshold: 2,
		OpenTimeout:      60 * time.Second,
	}
}

// Breaker tracks one independent state machine per (actor, service).
type Breaker struct {
	Store  state.Store
	Clock  func() time.Time
	Config Config
}

// New returns a breaker with defaults applied for zero config values.
func New(store state.Store, cfg Config) *Breaker {
	defaults := DefaultConfig()
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = defaults.FailureThreshold
	}
	if cfg.SuccessThreshold <= 0 {
		cfg.SuccessThreshold = defaults.SuccessThreshold
	}
	if cfg.OpenTimeout <= 0 {
		cfg.OpenTimeout = defaults.OpenTimeout
	}

	return &Breaker{Store: store, Config: cfg}
}

// Check reports whether a call to the service may proceed. When the circuit
// is Open and the timeout has elapsed, the check itself transitions the
// circuit to HalfOpen and allows the call as the recovery probe.
func (b *Breaker) Check(ctx context.Context, actor, service string) error {
	record, err := b.load(ctx, actor, service)
	if err != nil {
		return err
	}

	if record.Status != state.CircuitOpen {
		return nil
	}

	elapsed := b.now().Sub(record.LastFailure)
	if elapsed < b.Config.OpenTimeout {
		return apperrors.NewCircuitOpen(service, b.Config.OpenTimeout-elapsed)
	}

	record.Status = state.CircuitHalfOpen
	record.SuccessCount = 0
	metrics.RecordCircuitTransition(service, string(state.CircuitOpen), string(state.CircuitHalfOpen))
	return b.Store.PutCircuit(ctx, actor, service, record)
}

// RecordSuccess notes a successful call. In Closed it clears the failure
// count; in HalfOpen it counts toward closing.
func (b *Breaker) RecordSuccess(ctx context.Context, actor, service string) error {
	record, err := b.load(ctx, actor, service)
	if err != nil {
		return err
	}

	switch record.Status {
	case state.CircuitHalfOpen:
		record.SuccessCount++
		if record.SuccessCount >= b.Config.SuccessThreshold {
			record.Status = state.CircuitClosed
			record.FailureCount = 0
			metrics.RecordCircuitTransition(service, string(state.CircuitHalfOpen), string(state.CircuitClosed))
		}
	default:
		record.FailureCount = 0
	}

	return b.Store.PutCircuit(ctx, actor, service, record)
}

// RecordFailure notes a failed call. Reaching the threshold in Closed opens
// the circuit; any failure in HalfOpen reopens it immediately.
func (b *Breaker) RecordFailure(ctx context.Context, actor, service string) error {
	record, err := b.load(ctx, actor, service)
	if err != nil {
		return err
	}

	record.LastFailure = b.now()

	switch record.Status {
	case state.CircuitHalfOpen:
		record.Status = state.CircuitOpen
		record.SuccessCount = 0
		metrics.RecordCircuitTransition(service, string(state.CircuitHalfOpen), string(state.CircuitOpen))
	default:
		record.FailureCount++
		if record.Status == state.CircuitClosed && record.FailureCount >= b.Config.FailureThreshold {
			record.Status = state.CircuitOpen
			metrics.RecordCircuitTransition(service, string(state.CircuitClosed), string(state.CircuitOpen))
		}
	}

	return b.Store.PutCircuit(ctx, actor, service, record)
}

// State returns the current circuit status for (actor, service).
func (b *Breaker) State(ctx context.Context, actor, service string) (state.CircuitStatus, error) {
	record, err := b.load(ctx, actor, service)
	if err != nil {
		return "", err
	}
	return record.Status, nil
}

// Snapshot returns all circuit records for an actor keyed by service.
func (b *Breaker) Snapshot(ctx context.Context, actor string) (map[string]*state.CircuitRecord, error) {
	return b.Store.ListCircuits(ctx, actor)
}

// Reset clears the circuit for one service.
func (b *Breaker) Reset(ctx context.Context, actor, service string) error {
	return b.Store.PutCircuit(ctx, actor, service, nil)
}

// ResetAll clears every circuit for an actor.
func (b *Breaker) ResetAll(ctx context.Context, actor string) error {
	records, err := b.Store.ListCircuits(ctx, actor)
	if err != nil {
		return err
	}
	for service := range records {
		if err := b.Store.PutCircuit(ctx, actor, service, nil); err != nil {
			return err
		}
	}
	return nil
}

func (b *Breaker) load(ctx context.Context, actor, service string) (*state.CircuitRecord, error) {
	record, err := b.Store.GetCircuit(ctx, actor, service)
	if err != nil {
		return nil, err
	}
	if record == nil {
		record = &state.CircuitRecord{Status: state.CircuitClosed}
	}
	return record, nil
}

func (b *Breaker) now() time.Time {
	if b != nil && b.Clock != nil {
		return b.Clock()
	}
	return time.Now().UTC()
}
