package output

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/deckward/deckward/internal/aigate"
	"github.com/deckward/deckward/internal/guard/ratelimit"
	"github.com/deckward/deckward/internal/guard/state"
)

func sampleStatus() *aigate.GuardStatus {
	return &aigate.GuardStatus{
		Limits: &ratelimit.Snapshot{
			GenerationUsed:      3,
			GenerationLimit:     10,
			FileProcessingUsed:  1,
			FileProcessingLimit: 20,
			CooldownRemaining:   12 * time.Second,
			InFlight:            1,
			MaxConcurrent:       2,
		},
		Circuits: map[string]*state.CircuitRecord{
			"openai": {Status: state.CircuitOpen, FailureCount: 5},
			"anthropic": {Status: state.CircuitClosed},
		},
	}
}

func TestParseFormat(t *testing.T) {
	format, err := ParseFormat(" Table ")
	require.NoError(t, err)
	require.Equal(t, FormatTable, format)

	format, err = ParseFormat("")
	require.NoError(t, err)
	require.Equal(t, FormatTable, format)

	_, err = ParseFormat("xml")
	require.Error(t, err)
}

func TestTableFormatter(t *testing.T) {
	rendered, err := (&TableFormatter{}).FormatStatus(sampleStatus())
	require.NoError(t, err)
	require.Contains(t, rendered, "3/10")
	require.Contains(t, rendered, "12s")
	require.Contains(t, rendered, "openai")
	require.Contains(t, rendered, "open")
}

func TestJSONFormatter(t *testing.T) {
	rendered, err := (&JSONFormatter{Indent: true}).FormatStatus(sampleStatus())
	require.NoError(t, err)

	var decoded aigate.GuardStatus
	require.NoError(t, json.Unmarshal([]byte(rendered), &decoded))
	require.Equal(t, 3, decoded.Limits.GenerationUsed)
	require.Equal(t, state.CircuitOpen, decoded.Circuits["openai"].Status)
}

func TestMarkdownFormatter(t *testing.T) {
	rendered, err := (&MarkdownFormatter{}).FormatStatus(sampleStatus())
	require.NoError(t, err)
	require.Contains(t, rendered, "## Rate limits")
	require.Contains(t, rendered, "| generation | 3/10 |")
	require.Contains(t, rendered, "| anthropic | closed | 0 | 0 |")
}

func TestFormattersTolerateNil(t *testing.T) {
	for _, format := range []Format{FormatTable, FormatJSON, FormatMarkdown} {
		rendered, err := NewFormatter(format).FormatStatus(nil)
		require.NoError(t, err)
		require.Empty(t, rendered)
	}
}
