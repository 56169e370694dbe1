// Package ratelimit bounds how often an actor may invoke expensive
// operations: rolling hourly windows per operation kind, a fixed cooldown
// between generation requests, and a ceiling on in-flight generations.
package ratelimit

import (
	"context"
	"time"

	apperrors "github.com/deckward/deckward/internal/errors"
	"github.com/deckward/deckward/internal/guard/state"
	"github.com/deckward/deckward/internal/metrics"
)

// Config holds the per-actor budgets.
type Config struct {
	GenerationPerHour     int
	FileProcessingPerHour int
	Window                time.Duration
	Cooldown              time.Duration
	MaxConcurrent         int
}

// DefaultConfig provides conservative defaults.
func DefaultConfig() Config {
	return Config{
		GenerationPerHour:     10,
		FileProcessingPerHour: 20,
		Window:                time.Hour,
		Cooldown:              30 * time.Second,
		MaxConcurrent:         2,
	}
}

// Limiter enforces the rate budgets against an actor-scoped store.
type Limiter struct {
	Store  state.Store
	Clock  func() time.Time
	Config Config
}

// New returns a limiter with defaults applied for zero config values.
func New(store state.Store, cfg Config) *Limiter {
	defaults := DefaultConfig()
	if cfg.GenerationPerHour <= 0 {
		cfg.GenerationPerHour = defaults.GenerationPerHour
	}
	if cfg.FileProcessingPerHour <= 0 {
		cfg.FileProcessingPerHour = defaults.FileProcessingPerHour
	}
	if cfg.Window <= 0 {
		cfg.Window = defaults.Window
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = defaults.Cooldown
	}
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = defaults.MaxConcurrent
	}

	return &Limiter{Store: store, Config: cfg}
}

// Snapshot reports the current budget usage for one actor.
type Snapshot struct {
	GenerationUsed      int           `json:"generation_used"`
	GenerationLimit     int           `json:"generation_limit"`
	FileProcessingUsed  int           `json:"file_processing_used"`
	FileProcessingLimit int           `json:"file_processing_limit"`
	CooldownRemaining   time.Duration `json:"cooldown_remaining"`
	InFlight            int           `json:"in_flight"`
	MaxConcurrent       int           `json:"max_concurrent"`
}

// CheckLimit reports whether another event of the given kind fits in the
// rolling window, and how long to wait if it does not. Stale events are
// purged from the stored window as a side effect.
func (l *Limiter) CheckLimit(ctx context.Context, actor string, kind state.Kind) (bool, time.Duration, error) {
	events, err := l.pruneWindow(ctx, actor, kind)
	if err != nil {
		return false, 0, err
	}

	limit := l.limitFor(kind)
	if len(events) < limit {
		return true, 0, nil
	}

	// The oldest in-window event leaving the window frees the first slot.
	wait := events[0].Add(l.Config.Window).Sub(l.now())
	if wait < 0 {
		wait = 0
	}
	return false, wait, nil
}

// Record appends an event to the window. It re-validates the limit
// immediately before insertion so a caller that skipped CheckLimit (or raced
// another request) cannot overshoot the budget.
func (l *Limiter) Record(ctx context.Context, actor string, kind state.Kind) error {
	events, err := l.pruneWindow(ctx, actor, kind)
	if err != nil {
		return err
	}

	limit := l.limitFor(kind)
	if len(events) >= limit {
		wait := events[0].Add(l.Config.Window).Sub(l.now())
		return apperrors.NewRateLimitExceeded(string(kind), wait)
	}

	events = append(events, l.now())
	return l.Store.PutWindow(ctx, actor, kind, events)
}

// CheckCooldown reports whether the fixed between-generations cooldown has
// elapsed, and the remaining wait if it has not.
func (l *Limiter) CheckCooldown(ctx context.Context, actor string) (bool, time.Duration, error) {
	mark, ok, err := l.Store.GetCooldown(ctx, actor)
	if err != nil {
		return false, 0, err
	}
	if !ok {
		return true, 0, nil
	}

	elapsed := l.now().Sub(mark)
	if elapsed >= l.Config.Cooldown {
		return true, 0, nil
	}
	return false, l.Config.Cooldown - elapsed, nil
}

// RecordCooldownEvent marks now as the last cooldown-gated invocation.
func (l *Limiter) RecordCooldownEvent(ctx context.Context, actor string) error {
	return l.Store.PutCooldown(ctx, actor, l.now())
}

// EnterConcurrent acquires one in-flight slot and returns its release
// function. The release is idempotent and must be called on every exit path
// of the guarded operation; a deferred call is the expected usage.
func (l *Limiter) EnterConcurrent(ctx context.Context, actor string) (func(), error) {
	count, err := l.Store.GetConcurrency(ctx, actor)
	if err != nil {
		return nil, err
	}

	if count >= l.Config.MaxConcurrent {
		return nil, apperrors.NewConcurrencyExceeded(l.Config.MaxConcurrent)
	}

	if err := l.Store.PutConcurrency(ctx, actor, count+1); err != nil {
		return nil, err
	}
	metrics.SetConcurrentGenerations(int64(count + 1))

	released := false
	release := func() {
		if released {
			return
		}
		released = true
		_ = l.ExitConcurrent(context.WithoutCancel(ctx), actor)
	}
	return release, nil
}

// ExitConcurrent releases one in-flight slot. The counter never goes
// negative even if callers over-release.
func (l *Limiter) ExitConcurrent(ctx context.Context, actor string) error {
	count, err := l.Store.GetConcurrency(ctx, actor)
	if err != nil {
		return err
	}
	if count <= 0 {
		return nil
	}
	if err := l.Store.PutConcurrency(ctx, actor, count-1); err != nil {
		return err
	}
	metrics.SetConcurrentGenerations(int64(count - 1))
	return nil
}

// Status returns a snapshot of all budgets for one actor.
func (l *Limiter) Status(ctx context.Context, actor string) (*Snapshot, error) {
	generation, err := l.pruneWindow(ctx, actor, state.KindGeneration)
	if err != nil {
		return nil, err
	}
	fileProcessing, err := l.pruneWindow(ctx, actor, state.KindFileProcessing)
	if err != nil {
		return nil, err
	}

	inflight, err := l.Store.GetConcurrency(ctx, actor)
	if err != nil {
		return nil, err
	}

	snapshot := &Snapshot{
		GenerationUsed:      len(generation),
		GenerationLimit:     l.Config.GenerationPerHour,
		FileProcessingUsed:  len(fileProcessing),
		FileProcessingLimit: l.Config.FileProcessingPerHour,
		InFlight:            inflight,
		MaxConcurrent:       l.Config.MaxConcurrent,
	}

	if ok, wait, err := l.CheckCooldown(ctx, actor); err != nil {
		return nil, err
	} else if !ok {
		snapshot.CooldownRemaining = wait
	}

	return snapshot, nil
}

// Reset clears all budgets for one actor (administrative override).
func (l *Limiter) Reset(ctx context.Context, actor string) error {
	return l.Store.ResetActor(ctx, actor)
}

// pruneWindow loads the window, discards events older than the configured
// window, and writes the pruned list back when anything was dropped.
func (l *Limiter) pruneWindow(ctx context.Context, actor string, kind state.Kind) ([]time.Time, error) {
	events, err := l.Store.GetWindow(ctx, actor, kind)
	if err != nil {
		return nil, err
	}

	cutoff := l.now().Add(-l.Config.Window)
	kept := events[:0]
	for _, event := range events {
		if event.After(cutoff) {
			kept = append(kept, event)
		}
	}

	if len(kept) != len(events) {
		if err := l.Store.PutWindow(ctx, actor, kind, kept); err != nil {
			return nil, err
		}
	}
	return kept, nil
}

func (l *Limiter) limitFor(kind state.Kind) int {
	if kind == state.KindFileProcessing {
		return l.Config.FileProcessingPerHour
	}
	return l.Config.GenerationPerHour
}

func (l *Limiter) now() time.Time {
	if l != nil && l.Clock != nil {
		return l.Clock()
	}
	return time.Now().UTC()
}
