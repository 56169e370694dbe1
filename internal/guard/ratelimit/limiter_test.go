package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	apperrors "github.com/deckward/deckward/internal/errors"
	"github.com/deckward/deckward/internal/guard/state"

	gferrors "github.com/fulmenhq/gofulmen/errors"
)

func newTestLimiter(clock *time.Time) *Limiter {
	limiter := New(state.NewMemoryStore(), Config{
		GenerationPerHour:     3,
		FileProcessingPerHour: 2,
		Cooldown:              30 * time.Second,
		MaxConcurrent:         2,
	})
	limiter.Clock = func() time.Time { return *clock }
	return limiter
}

func TestCheckLimitRollingWindow(t *testing.T) {
	clock := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	limiter := newTestLimiter(&clock)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		allowed, _, err := limiter.CheckLimit(ctx, "alice", state.KindGeneration)
		require.NoError(t, err)
		require.True(t, allowed)
		require.NoError(t, limiter.Record(ctx, "alice", state.KindGeneration))
		clock = clock.Add(time.Minute)
	}

	allowed, wait, err := limiter.CheckLimit(ctx, "alice", state.KindGeneration)
	require.NoError(t, err)
	require.False(t, allowed)
	require.Greater(t, wait, time.Duration(0))

	// The oldest event ages out after an hour and frees a slot.
	clock = clock.Add(58 * time.Minute)
	allowed, _, err = limiter.CheckLimit(ctx, "alice", state.KindGeneration)
	require.NoError(t, err)
	require.True(t, allowed)
}

func TestRecordRevalidates(t *testing.T) {
	clock := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	limiter := newTestLimiter(&clock)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		require.NoError(t, limiter.Record(ctx, "alice", state.KindGeneration))
	}

	err := limiter.Record(ctx, "alice", state.KindGeneration)
	require.Error(t, err)
	envelope, ok := err.(*gferrors.ErrorEnvelope)
	require.True(t, ok)
	require.Equal(t, apperrors.CodeRateLimitExceeded, envelope.Code)
}

func TestWindowsAreIndependentPerActorAndKind(t *testing.T) {
	clock := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	limiter := newTestLimiter(&clock)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		require.NoError(t, limiter.Record(ctx, "alice", state.KindGeneration))
	}

	allowed, _, err := limiter.CheckLimit(ctx, "alice", state.KindFileProcessing)
	require.NoError(t, err)
	require.True(t, allowed)

	allowed, _, err = limiter.CheckLimit(ctx, "bob", state.KindGeneration)
	require.NoError(t, err)
	require.True(t, allowed)
}

func TestCooldown(t *testing.T) {
	clock := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	limiter := newTestLimiter(&clock)
	ctx := context.Background()

	ok, _, err := limiter.CheckCooldown(ctx, "alice")
	require.NoError(t, err)
	require.True(t, ok)

	require.NoError(t, limiter.RecordCooldownEvent(ctx, "alice"))

	ok, wait, err := limiter.CheckCooldown(ctx, "alice")
	require.NoError(t, err)
	require.False(t, ok)
	require.Equal(t, 30*time.Second, wait)

	clock = clock.Add(30 * time.Second)
	ok, _, err = limiter.CheckCooldown(ctx, "alice")
	require.NoError(t, err)
	require.True(t, ok)
}

func TestConcurrencyCeiling(t *testing.T) {
	clock := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	limiter := newTestLimiter(&clock)
	ctx := context.Background()

	release1, err := limiter.EnterConcurrent(ctx, "alice")
	require.NoError(t, err)
	release2, err := limiter.EnterConcurrent(ctx, "alice")
	require.NoError(t, err)

	_, err = limiter.EnterConcurrent(ctx, "alice")
	require.Error(t, err)
	envelope, ok := err.(*gferrors.ErrorEnvelope)
	require.True(t, ok)
	require.Equal(t, apperrors.CodeConcurrencyExceeded, envelope.Code)

	release1()
	_, err = limiter.EnterConcurrent(ctx, "alice")
	require.NoError(t, err)

	// Release is idempotent: double-release must not free a second slot.
	release1()
	release2()
	count, err := limiter.Store.GetConcurrency(ctx, "alice")
	require.NoError(t, err)
	require.Equal(t, 1, count)
}

func TestStatusAndReset(t *testing.T) {
	clock := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	limiter := newTestLimiter(&clock)
	ctx := context.Background()

	require.NoError(t, limiter.Record(ctx, "alice", state.KindGeneration))
	require.NoError(t, limiter.Record(ctx, "alice", state.KindFileProcessing))
	require.NoError(t, limiter.RecordCooldownEvent(ctx, "alice"))
	_, err := limiter.EnterConcurrent(ctx, "alice")
	require.NoError(t, err)

	snapshot, err := limiter.Status(ctx, "alice")
	require.NoError(t, err)
	require.Equal(t, 1, snapshot.GenerationUsed)
	require.Equal(t, 3, snapshot.GenerationLimit)
	require.Equal(t, 1, snapshot.FileProcessingUsed)
	require.Equal(t, 1, snapshot.InFlight)
	require.Equal(t, 30*time.Second, snapshot.CooldownRemaining)

	require.NoError(t, limiter.Reset(ctx, "alice"))

	snapshot, err = limiter.Status(ctx, "alice")
	require.NoError(t, err)
	require.Equal(t, 0, snapshot.GenerationUsed)
	require.Equal(t, 0, snapshot.InFlight)
	require.Equal(t, time.Duration(0), snapshot.CooldownRemaining)
}
