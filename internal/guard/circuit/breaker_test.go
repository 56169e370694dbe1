package circuit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	apperrors "github.com/deckward/deckward/internal/errors"
	"github.com/deckward/deckward/internal/guard/state"

	gferrors "github.com/fulmenhq/gofulmen/errors"
)

func newTestBreaker(clock *time.Time) *Breaker {
	breaker := New(state.NewMemoryStore(), DefaultConfig())
	breaker.Clock = func() time.Time { return *clock }
	return breaker
}

func TestClosedOpensAfterFiveFailures(t *testing.T) {
	clock := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	breaker := newTestBreaker(&clock)
	ctx := context.Background()

	for i := 0; i < 4; i++ {
		require.NoError(t, breaker.RecordFailure(ctx, "alice", "openai"))
		require.NoError(t, breaker.Check(ctx, "alice", "openai"))
	}

	require.NoError(t, breaker.RecordFailure(ctx, "alice", "openai"))

	err := breaker.Check(ctx, "alice", "openai")
	require.Error(t, err)
	envelope, ok := err.(*gferrors.ErrorEnvelope)
	require.True(t, ok)
	require.Equal(t, apperrors.CodeCircuitOpen, envelope.Code)
}

func TestSuccessResetsFailureCount(t *testing.T) {
	clock := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	breaker := newTestBreaker(&clock)
	ctx := context.Background()

	for i := 0; i < 4; i++ {
		require.NoError(t, breaker.RecordFailure(ctx, "alice", "openai"))
	}
	require.NoError(t, breaker.RecordSuccess(ctx, "alice", "openai"))

	// The counter restarted, so four more failures still leave it closed.
	for i := 0; i < 4; i++ {
		require.NoError(t, breaker.RecordFailure(ctx, "alice", "openai"))
	}
	status, err := breaker.State(ctx, "alice", "openai")
	require.NoError(t, err)
	require.Equal(t, state.CircuitClosed, status)
}

func TestOpenTransitionsToHalfOpenLazily(t *testing.T) {
	clock := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	breaker := newTestBreaker(&clock)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		require.NoError(t, breaker.RecordFailure(ctx, "alice", "openai"))
	}
	require.Error(t, breaker.Check(ctx, "alice", "openai"))

	// Before the timeout the circuit stays open even as time passes.
	clock = clock.Add(59 * time.Second)
	require.Error(t, breaker.Check(ctx, "alice", "openai"))

	clock = clock.Add(time.Second)
	require.NoError(t, breaker.Check(ctx, "alice", "openai"))

	status, err := breaker.State(ctx, "alice", "openai")
	require.NoError(t, err)
	require.Equal(t, state.CircuitHalfOpen, status)
}

func TestHalfOpenFailureReopens(t *testing.T) {
	clock := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	breaker := newTestBreaker(&clock)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		require.NoError(t, breaker.RecordFailure(ctx, "alice", "openai"))
	}
	clock = clock.Add(61 * time.Second)
	require.NoError(t, breaker.Check(ctx, "alice", "openai"))

	require.NoError(t, breaker.RecordFailure(ctx, "alice", "openai"))

	status, err := breaker.State(ctx, "alice", "openai")
	require.NoError(t, err)
	require.Equal(t, state.CircuitOpen, status)

	err = breaker.Check(ctx, "alice", "openai")
	require.Error(t, err)
}

func TestHalfOpenClosesAfterTwoSuccesses(t *testing.T) {
	clock := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	breaker := newTestBreaker(&clock)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		require.NoError(t, breaker.RecordFailure(ctx, "alice", "openai"))
	}
	clock = clock.Add(61 * time.Second)
	require.NoError(t, breaker.Check(ctx, "alice", "openai"))

	require.NoError(t, breaker.RecordSuccess(ctx, "alice", "openai"))
	status, err := breaker.State(ctx, "alice", "openai")
	require.NoError(t, err)
	require.Equal(t, state.CircuitHalfOpen, status)

	require.NoError(t, breaker.RecordSuccess(ctx, "alice", "openai"))
	status, err = breaker.State(ctx, "alice", "openai")
	require.NoError(t, err)
	require.Equal(t, state.CircuitClosed, status)
}

func TestServicesAreIndependent(t *testing.T) {
	clock := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	breaker := newTestBreaker(&clock)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		require.NoError(t, breaker.RecordFailure(ctx, "alice", "openai"))
	}

	require.Error(t, breaker.Check(ctx, "alice", "openai"))
	require.NoError(t, breaker.Check(ctx, "alice", "anthropic"))
}

func TestResetAll(t *testing.T) {
	clock := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	breaker := newTestBreaker(&clock)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		require.NoError(t, breaker.RecordFailure(ctx, "alice", "openai"))
	}
	require.Error(t, breaker.Check(ctx, "alice", "openai"))

	require.NoError(t, breaker.ResetAll(ctx, "alice"))
	require.NoError(t, breaker.Check(ctx, "alice", "openai"))

	status, err := breaker.State(ctx, "alice", "openai")
	require.NoError(t, err)
	require.Equal(t, state.CircuitClosed, status)
}
