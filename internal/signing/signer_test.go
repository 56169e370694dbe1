package signing

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	gferrors "github.com/fulmenhq/gofulmen/errors"
)

func fixedClock(at time.Time) func() time.Time {
	return func() time.Time { return at }
}

func TestSignVerifyRoundTrip(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	signer := &Signer{Clock: fixedClock(now)}

	payload := map[string]any{
		"model":  "gpt-4o-mini",
		"prompt": "summarize the attached notes",
		"count":  5,
		"options": map[string]any{
			"temperature": 0.2,
		},
	}

	signature, err := signer.Sign("openai", payload, "sk-test-key")
	require.NoError(t, err)
	require.True(t, signer.Verify("openai", payload, signature, "sk-test-key"))
}

func TestVerifyRejectsTampering(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	signer := &Signer{Clock: fixedClock(now)}

	payload := map[string]any{"prompt": "original"}
	signature, err := signer.Sign("openai", payload, "sk-test-key")
	require.NoError(t, err)

	require.False(t, signer.Verify("openai", map[string]any{"prompt": "altered"}, signature, "sk-test-key"))
	require.False(t, signer.Verify("anthropic", payload, signature, "sk-test-key"))
	require.False(t, signer.Verify("openai", payload, signature, "sk-other-key"))
	require.False(t, signer.Verify("openai", payload, "not-base64!!!", "sk-test-key"))
}

func TestVerifyRejectsReplay(t *testing.T) {
	signedAt := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	signer := &Signer{Clock: fixedClock(signedAt)}

	payload := map[string]any{"prompt": "hello"}
	signature, err := signer.Sign("openai", payload, "sk-test-key")
	require.NoError(t, err)

	// Within the window it verifies.
	signer.Clock = fixedClock(signedAt.Add(299 * time.Second))
	require.True(t, signer.Verify("openai", payload, signature, "sk-test-key"))

	// Beyond 300 seconds the otherwise-valid signature is rejected.
	signer.Clock = fixedClock(signedAt.Add(301 * time.Second))
	require.False(t, signer.Verify("openai", payload, signature, "sk-test-key"))
}

func TestCheckReportsFailureReason(t *testing.T) {
	signedAt := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	signer := &Signer{Clock: fixedClock(signedAt)}

	payload := map[string]any{"prompt": "original"}
	signature, err := signer.Sign("openai", payload, "sk-test-key")
	require.NoError(t, err)

	requireInvalid := func(err error, reason string) {
		t.Helper()
		require.Error(t, err)
		envelope, ok := err.(*gferrors.ErrorEnvelope)
		require.True(t, ok)
		require.Equal(t, "SIGNATURE_INVALID", envelope.Code)
		require.Contains(t, envelope.Message, reason)
	}

	require.NoError(t, signer.Check("openai", payload, signature, "sk-test-key"))

	requireInvalid(signer.Check("openai", payload, "not-base64!!!", "sk-test-key"), "base64")
	requireInvalid(signer.Check("openai", map[string]any{"prompt": "altered"}, signature, "sk-test-key"), "digest")
	requireInvalid(signer.Check("openai", payload, signature, "sk-other-key"), "digest")

	signer.Clock = fixedClock(signedAt.Add(301 * time.Second))
	requireInvalid(signer.Check("openai", payload, signature, "sk-test-key"), "replay window")
}

func TestCanonicalizationIsOrderIndependent(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	signer := &Signer{Clock: fixedClock(now)}

	first, err := canonicalize(map[string]any{"b": "2", "a": "1", "c": "3"})
	require.NoError(t, err)
	require.Equal(t, "a=1&b=2&c=3", first)

	sigA, err := signer.Sign("openai", map[string]any{"a": "1", "b": "2"}, "k")
	require.NoError(t, err)
	sigB, err := signer.Sign("openai", map[string]any{"b": "2", "a": "1"}, "k")
	require.NoError(t, err)
	require.Equal(t, sigA, sigB)
}
