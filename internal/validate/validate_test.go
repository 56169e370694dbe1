package validate

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	gferrors "github.com/fulmenhq/gofulmen/errors"
)

func requireCode(t *testing.T, err error, code string) *gferrors.ErrorEnvelope {
	t.Helper()
	require.Error(t, err)
	envelope, ok := err.(*gferrors.ErrorEnvelope)
	require.True(t, ok)
	require.Equal(t, code, envelope.Code)
	return envelope
}

func TestExtractTextOpenAI(t *testing.T) {
	raw := []byte(`{"choices":[{"message":{"role":"assistant","content":"## Title\nA"}}]}`)

	text, err := ExtractText("openai", raw)
	require.NoError(t, err)
	require.Equal(t, "## Title\nA", text)

	// xai shares the OpenAI shape.
	text, err = ExtractText("xai", raw)
	require.NoError(t, err)
	require.Equal(t, "## Title\nA", text)
}

func TestExtractTextAnthropic(t *testing.T) {
	raw := []byte(`{"content":[{"type":"text","text":"generated pages"}]}`)

	text, err := ExtractText("anthropic", raw)
	require.NoError(t, err)
	require.Equal(t, "generated pages", text)
}

func TestExtractTextMalformed(t *testing.T) {
	cases := map[string]string{
		"not json":        `{{`,
		"missing choices": `{"id":"x"}`,
		"empty choices":   `{"choices":[]}`,
		"missing message": `{"choices":[{}]}`,
		"non-string body": `{"choices":[{"message":{"content":42}}]}`,
		"empty content":   `{"choices":[{"message":{"content":"   "}}]}`,
	}

	for name, raw := range cases {
		_, err := ExtractText("openai", []byte(raw))
		require.Error(t, err, name)
		requireCode(t, err, "MALFORMED_RESPONSE")
	}

	_, err := ExtractText("anthropic", []byte(`{"content":[{"type":"text"}]}`))
	requireCode(t, err, "MALFORMED_RESPONSE")
}

func TestScreenContentRejectsUnsafe(t *testing.T) {
	cases := map[string]string{
		"<p>hello <script>alert(1)</script></p>":    "script_tag",
		"text with < SCRIPT src='x'>":               "script_tag",
		"```javascript\nalert(1)\n```":              "script_code_fence",
		"SELECT 1; DROP TABLE users":                "sql_after_terminator",
		"[click me](javascript:alert(1))":           "script_uri",
		"![img](data:text/html;base64,PHNjcmlwdD4)": "script_uri",
	}

	for input, category := range cases {
		envelope := requireCode(t, ScreenContent(input), "UNSAFE_CONTENT")
		require.Equal(t, category, envelope.Context["category"], "input %q", input)
	}
}

func TestScreenContentAcceptsSafeMarkdown(t *testing.T) {
	safe := strings.Repeat("Plain **markdown** text with a [link](https://example.com). ", 9)
	require.Less(t, len(safe), 1000)
	require.NoError(t, ScreenContent(safe))

	// Code fences for non-script languages are fine.
	require.NoError(t, ScreenContent("```go\nfmt.Println(1)\n```"))
}

func TestScreenContentRejectsOversized(t *testing.T) {
	require.NoError(t, ScreenContent(strings.Repeat("a", MaxContentLength)))
	requireCode(t, ScreenContent(strings.Repeat("a", 150000)), "UNSAFE_CONTENT")
}

func TestScreenContentCountsCharactersNotBytes(t *testing.T) {
	// Three bytes per rune: at the character limit this is three times the
	// limit in bytes and still passes.
	require.NoError(t, ScreenContent(strings.Repeat("語", MaxContentLength)))
	requireCode(t, ScreenContent(strings.Repeat("語", MaxContentLength+1)), "UNSAFE_CONTENT")
}

func TestParsePagesTwoValidSegments(t *testing.T) {
	blob := "## Title\nA\n\n## Content\nB\n\n---\n\n## Title\nC\n\n## Content\nD"

	pages, diagnostics, err := ParsePages(blob)
	require.NoError(t, err)
	require.Empty(t, diagnostics)
	require.Equal(t, []Page{{Title: "A", Content: "B"}, {Title: "C", Content: "D"}}, pages)
}

func TestParsePagesMarkerDetection(t *testing.T) {
	// Case-insensitive markers, content before title.
	blob := "## content\nbody text\n\n## TITLE\nheading"

	pages, diagnostics, err := ParsePages(blob)
	require.NoError(t, err)
	require.Empty(t, diagnostics)
	require.Equal(t, []Page{{Title: "heading", Content: "body text"}}, pages)
}

func TestParsePagesLenientOnPartialFailure(t *testing.T) {
	blob := "## Content\nonly content, no title\n\n---\n\n## Title\nC\n\n## Content\nD"

	pages, diagnostics, err := ParsePages(blob)
	require.NoError(t, err)
	require.Equal(t, []Page{{Title: "C", Content: "D"}}, pages)
	require.Len(t, diagnostics, 1)
	require.Equal(t, 1, diagnostics[0].Segment)
	require.Contains(t, diagnostics[0].Reason, "missing title marker")
}

func TestParsePagesNoValidPages(t *testing.T) {
	blob := "free text without any markers\n\n---\n\n## Title\n\n## Content\n"

	pages, diagnostics, err := ParsePages(blob)
	require.Nil(t, pages)
	require.Len(t, diagnostics, 2)
	requireCode(t, err, "NO_VALID_PAGES")
}
