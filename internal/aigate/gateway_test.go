package aigate

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	gferrors "github.com/fulmenhq/gofulmen/errors"

	"github.com/deckward/deckward/internal/aigate/driver"
	"github.com/deckward/deckward/internal/filesec"
	"github.com/deckward/deckward/internal/guard/circuit"
	"github.com/deckward/deckward/internal/guard/ratelimit"
	"github.com/deckward/deckward/internal/guard/state"
	"github.com/deckward/deckward/internal/signing"
)

type fakeDriver struct {
	name    string
	resp    *driver.Response
	err     error
	calls   int
	lastReq *driver.Request
}

func (f *fakeDriver) Complete(_ context.Context, req *driver.Request) (*driver.Response, error) {
	f.calls++
	f.lastReq = req
	if f.err != nil {
		return nil, f.err
	}
	return f.resp, nil
}

func (f *fakeDriver) Name() string { return f.name }

func (f *fakeDriver) Capabilities() driver.Capabilities { return driver.Capabilities{} }

func openaiBody(t *testing.T, text string) []byte {
	t.Helper()
	body, err := json.Marshal(map[string]any{
		"choices": []any{map[string]any{"message": map[string]any{"content": text}}},
	})
	require.NoError(t, err)
	return body
}

func newTestGateway(drv driver.Driver) (*Gateway, *state.MemoryStore, *time.Time) {
	store := state.NewMemoryStore()
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }

	limiter := ratelimit.New(store, ratelimit.DefaultConfig())
	limiter.Clock = clock
	breaker := circuit.New(store, circuit.DefaultConfig())
	breaker.Clock = clock

	g := &Gateway{
		Limiter:         limiter,
		Breaker:         breaker,
		Signer:          &signing.Signer{Clock: clock},
		Files:           &filesec.Validator{},
		Drivers:         map[string]driver.Driver{"openai": drv},
		DefaultProvider: "openai",
		CallTimeout:     DefaultCallTimeout,
		providers: map[string]ProviderConfig{
			"openai": {Type: "openai", APIKey: "sk-test", Model: "gpt-4o-mini", Enabled: true},
		},
	}
	return g, store, &now
}

func requireCode(t *testing.T, err error, code string) {
	t.Helper()
	require.Error(t, err)
	envelope, ok := err.(*gferrors.ErrorEnvelope)
	require.True(t, ok, "expected envelope, got %T: %v", err, err)
	require.Equal(t, code, envelope.Code)
}

func TestGenerateSuccess(t *testing.T) {
	drv := &fakeDriver{
		name: "openai",
		resp: &driver.Response{RawBody: openaiBody(t, "## Title\nA\n\n## Content\nB")},
	}
	g, store, _ := newTestGateway(drv)
	ctx := context.Background()

	result, err := g.Generate(ctx, &GenerateRequest{Actor: "actor-1", Prompt: "make a card"})
	require.NoError(t, err)
	require.Equal(t, "openai", result.Provider)
	require.Equal(t, "gpt-4o-mini", result.Model)
	require.Len(t, result.Pages, 1)
	require.Equal(t, "A", result.Pages[0].Title)
	require.Equal(t, "B", result.Pages[0].Content)

	// The request was signed before dispatch.
	require.Equal(t, 1, drv.calls)
	require.NotEmpty(t, drv.lastReq.Signature)
	require.True(t, g.Signer.Verify("openai", map[string]any{"model": "gpt-4o-mini", "prompt": "make a card"}, drv.lastReq.Signature, "sk-test"))

	// Budget consumed, slot released, circuit success recorded.
	events, err := store.GetWindow(ctx, "actor-1", state.KindGeneration)
	require.NoError(t, err)
	require.Len(t, events, 1)
	inflight, err := store.GetConcurrency(ctx, "actor-1")
	require.NoError(t, err)
	require.Equal(t, 0, inflight)
}

func TestGenerateRejectsBeforeDispatch(t *testing.T) {
	drv := &fakeDriver{name: "openai", resp: &driver.Response{RawBody: openaiBody(t, "x")}}
	g, store, now := newTestGateway(drv)
	ctx := context.Background()

	// Exhausted hourly budget: the driver is never called.
	events := make([]time.Time, g.Limiter.Config.GenerationPerHour)
	for i := range events {
		events[i] = now.Add(-time.Minute)
	}
	require.NoError(t, store.PutWindow(ctx, "actor-1", state.KindGeneration, events))

	_, err := g.Generate(ctx, &GenerateRequest{Actor: "actor-1", Prompt: "p"})
	requireCode(t, err, "RATE_LIMIT_EXCEEDED")
	require.Equal(t, 0, drv.calls)

	// Unsafe prompt is rejected before any budget is consumed.
	_, err = g.Generate(ctx, &GenerateRequest{Actor: "actor-2", Prompt: "<script>alert(1)</script>"})
	requireCode(t, err, "UNSAFE_CONTENT")
	require.Equal(t, 0, drv.calls)
	fresh, err := store.GetWindow(ctx, "actor-2", state.KindGeneration)
	require.NoError(t, err)
	require.Empty(t, fresh)

	// Open circuit blocks dispatch.
	require.NoError(t, store.PutCircuit(ctx, "actor-3", "openai", &state.CircuitRecord{
		Status:      state.CircuitOpen,
		LastFailure: *now,
	}))
	_, err = g.Generate(ctx, &GenerateRequest{Actor: "actor-3", Prompt: "p"})
	requireCode(t, err, "CIRCUIT_OPEN")
	require.Equal(t, 0, drv.calls)
}

func TestGenerateCooldownBetweenCalls(t *testing.T) {
	drv := &fakeDriver{
		name: "openai",
		resp: &driver.Response{RawBody: openaiBody(t, "## Title\nA\n\n## Content\nB")},
	}
	g, _, now := newTestGateway(drv)
	ctx := context.Background()

	_, err := g.Generate(ctx, &GenerateRequest{Actor: "actor-1", Prompt: "p"})
	require.NoError(t, err)

	_, err = g.Generate(ctx, &GenerateRequest{Actor: "actor-1", Prompt: "p"})
	requireCode(t, err, "COOLDOWN_ACTIVE")
	require.Equal(t, 1, drv.calls)

	*now = now.Add(31 * time.Second)
	_, err = g.Generate(ctx, &GenerateRequest{Actor: "actor-1", Prompt: "p"})
	require.NoError(t, err)
	require.Equal(t, 2, drv.calls)
}

func TestGenerateReleasesSlotAndRecordsFailure(t *testing.T) {
	drv := &fakeDriver{name: "openai", err: fmt.Errorf("connection reset")}
	g, store, _ := newTestGateway(drv)
	ctx := context.Background()

	_, err := g.Generate(ctx, &GenerateRequest{Actor: "actor-1", Prompt: "p"})
	require.Error(t, err)
	require.Equal(t, 1, drv.calls)

	// The concurrency slot is released on the failure path.
	inflight, err := store.GetConcurrency(ctx, "actor-1")
	require.NoError(t, err)
	require.Equal(t, 0, inflight)

	// The failure reached the circuit breaker.
	record, err := store.GetCircuit(ctx, "actor-1", "openai")
	require.NoError(t, err)
	require.NotNil(t, record)
	require.Equal(t, 1, record.FailureCount)
}

func TestGenerateMalformedResponseIsTerminal(t *testing.T) {
	drv := &fakeDriver{name: "openai", resp: &driver.Response{RawBody: []byte(`{"choices":[]}`)}}
	g, store, _ := newTestGateway(drv)
	ctx := context.Background()

	_, err := g.Generate(ctx, &GenerateRequest{Actor: "actor-1", Prompt: "p"})
	requireCode(t, err, "MALFORMED_RESPONSE")

	// The provider call itself succeeded: the circuit records a success and
	// the slot is released.
	record, err := store.GetCircuit(ctx, "actor-1", "openai")
	require.NoError(t, err)
	require.NotNil(t, record)
	require.Equal(t, 0, record.FailureCount)
	inflight, err := store.GetConcurrency(ctx, "actor-1")
	require.NoError(t, err)
	require.Equal(t, 0, inflight)
}

func TestValidateUpload(t *testing.T) {
	g, store, now := newTestGateway(&fakeDriver{name: "openai"})
	ctx := context.Background()

	require.NoError(t, g.ValidateUpload(ctx, "actor-1", []byte("plain notes"), "txt"))

	requireCode(t, g.ValidateUpload(ctx, "actor-1", []byte("not a pdf"), "pdf"), "FILE_SIGNATURE_MISMATCH")

	events := make([]time.Time, g.Limiter.Config.FileProcessingPerHour)
	for i := range events {
		events[i] = now.Add(-time.Minute)
	}
	require.NoError(t, store.PutWindow(ctx, "actor-2", state.KindFileProcessing, events))
	requireCode(t, g.ValidateUpload(ctx, "actor-2", []byte("plain"), "txt"), "RATE_LIMIT_EXCEEDED")
}

func TestStatus(t *testing.T) {
	drv := &fakeDriver{
		name: "openai",
		resp: &driver.Response{RawBody: openaiBody(t, "## Title\nA\n\n## Content\nB")},
	}
	g, _, _ := newTestGateway(drv)
	ctx := context.Background()

	_, err := g.Generate(ctx, &GenerateRequest{Actor: "actor-1", Prompt: "p"})
	require.NoError(t, err)

	status, err := g.Status(ctx, "actor-1")
	require.NoError(t, err)
	require.Equal(t, 1, status.Limits.GenerationUsed)
	require.Equal(t, g.Limiter.Config.GenerationPerHour, status.Limits.GenerationLimit)
	require.Positive(t, status.Limits.CooldownRemaining)
	require.Contains(t, status.Circuits, "openai")
	require.Equal(t, state.CircuitClosed, status.Circuits["openai"].Status)
}
