// Package validate checks provider responses and user text before anything
// is stored or shown.
//
// Schema validation and content screening are strict: the first violation
// rejects the whole input. Page parsing is lenient: invalid segments are
// collected as diagnostics and the valid remainder is returned, failing only
// when nothing survives.
package validate

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"

	apperrors "github.com/deckward/deckward/internal/errors"
)

// MaxContentLength caps screened text as a denial-of-service guard.
const MaxContentLength = 100000

// Page is one parsed {title, content} record from a generation response.
type Page struct {
	Title   string `json:"title"`
	Content string `json:"content"`
}

// Diagnostic records why a page segment was discarded during lenient parsing.
type Diagnostic struct {
	Segment int    `json:"segment"`
	Reason  string `json:"reason"`
}

// ExtractText walks the provider-specific response shape and returns the
// generated text. Any absent, wrong-typed, or empty segment fails with a
// malformed-response error.
func ExtractText(provider string, raw []byte) (string, error) {
	var body map[string]any
	if err := json.Unmarshal(raw, &body); err != nil {
		return "", apperrors.NewMalformedResponse(provider, "response is not valid JSON")
	}

	switch provider {
	case "anthropic":
		return extractAnthropic(provider, body)
	default:
		// openai and xai share the OpenAI response shape.
		return extractOpenAI(provider, body)
	}
}

// extractOpenAI walks choices[0].message.content.
func extractOpenAI(provider string, body map[string]any) (string, error) {
	choices, ok := body["choices"].([]any)
	if !ok || len(choices) == 0 {
		return "", apperrors.NewMalformedResponse(provider, "missing choices array")
	}
	choice, ok := choices[0].(map[string]any)
	if !ok {
		return "", apperrors.NewMalformedResponse(provider, "first choice is not an object")
	}
	message, ok := choice["message"].(map[string]any)
	if !ok {
		return "", apperrors.NewMalformedResponse(provider, "missing message object")
	}
	content, ok := message["content"].(string)
	if !ok {
		return "", apperrors.NewMalformedResponse(provider, "message content is not a string")
	}
	if strings.TrimSpace(content) == "" {
		return "", apperrors.NewMalformedResponse(provider, "message content is empty")
	}
	return content, nil
}

// extractAnthropic walks content[0].text.
func extractAnthropic(provider string, body map[string]any) (string, error) {
	blocks, ok := body["content"].([]any)
	if !ok || len(blocks) == 0 {
		return "", apperrors.NewMalformedResponse(provider, "missing content array")
	}
	block, ok := blocks[0].(map[string]any)
	if !ok {
		return "", apperrors.NewMalformedResponse(provider, "first content block is not an object")
	}
	text, ok := block["text"].(string)
	if !ok {
		return "", apperrors.NewMalformedResponse(provider, "content text is not a string")
	}
	if strings.TrimSpace(text) == "" {
		return "", apperrors.NewMalformedResponse(provider, "content text is empty")
	}
	return text, nil
}

var unsafePatterns = []struct {
	category string
	pattern  *regexp.Regexp
}{
	{"script_tag", regexp.MustCompile(`(?i)<\s*script\b`)},
	{"script_code_fence", regexp.MustCompile("(?i)```\\s*(javascript|js|vbscript|html|php)\\b")},
	{"sql_after_terminator", regexp.MustCompile(`(?i);\s*(drop|delete|insert|update|truncate|alter|create|exec)\b`)},
	{"script_uri", regexp.MustCompile(`(?i)!?\[[^\]]*\]\(\s*(javascript|data)\s*:`)},
}

// ScreenContent rejects text containing script markup, script-language code
// fences, SQL keywords after a statement terminator, script-executing link
// URIs, or more than MaxContentLength characters.
func ScreenContent(s string) error {
	// The ceiling counts characters, not bytes; multi-byte text is not
	// penalized for its encoding.
	if utf8.RuneCountInString(s) > MaxContentLength {
		return apperrors.NewUnsafeContent("content_too_long")
	}
	for _, check := range unsafePatterns {
		if check.pattern.MatchString(s) {
			return apperrors.NewUnsafeContent(check.category)
		}
	}
	return nil
}

var (
	segmentDelimiter = regexp.MustCompile(`(?m)^\s*---\s*$`)
	titleMarker      = regexp.MustCompile(`(?i)^\s*##\s*title\s*$`)
	contentMarker    = regexp.MustCompile(`(?i)^\s*##\s*content\s*$`)
)

// ParsePages splits a generation blob into {title, content} pages. Segments
// are separated by a literal "---" line; each needs a "## Title" and a
// "## Content" marker line, detected case-insensitively in either order.
// Invalid segments become diagnostics; the call fails only when no segment
// parses.
func ParsePages(blob string) ([]Page, []Diagnostic, error) {
	segments := segmentDelimiter.Split(blob, -1)

	var pages []Page
	var diagnostics []Diagnostic

	for i, segment := range segments {
		number := i + 1
		if strings.TrimSpace(segment) == "" {
			diagnostics = append(diagnostics, Diagnostic{Segment: number, Reason: "segment is empty"})
			continue
		}

		page, reason := parseSegment(segment)
		if reason != "" {
			diagnostics = append(diagnostics, Diagnostic{Segment: number, Reason: reason})
			continue
		}
		pages = append(pages, page)
	}

	if len(pages) == 0 {
		reasons := make([]string, 0, len(diagnostics))
		for _, d := range diagnostics {
			reasons = append(reasons, fmt.Sprintf("segment %d: %s", d.Segment, d.Reason))
		}
		return nil, diagnostics, apperrors.NewNoValidPages(reasons)
	}
	return pages, diagnostics, nil
}

// parseSegment extracts one page, returning a non-empty reason on failure.
func parseSegment(segment string) (Page, string) {
	lines := strings.Split(segment, "\n")

	titleLine := -1
	contentLine := -1
	for i, line := range lines {
		if titleLine < 0 && titleMarker.MatchString(line) {
			titleLine = i
		}
		if contentLine < 0 && contentMarker.MatchString(line) {
			contentLine = i
		}
	}

	switch {
	case titleLine < 0 && contentLine < 0:
		return Page{}, "missing title and content markers"
	case titleLine < 0:
		return Page{}, "missing title marker"
	case contentLine < 0:
		return Page{}, "missing content marker"
	}

	title := strings.TrimSpace(strings.Join(linesBetween(lines, titleLine, contentLine), "\n"))
	content := strings.TrimSpace(strings.Join(linesBetween(lines, contentLine, titleLine), "\n"))

	if title == "" {
		return Page{}, "title is empty"
	}
	if content == "" {
		return Page{}, "content is empty"
	}
	return Page{Title: title, Content: content}, ""
}

// linesBetween returns the lines after marker up to the other marker when it
// follows, or to the segment end when it precedes.
func linesBetween(lines []string, marker, other int) []string {
	end := len(lines)
	if other > marker {
		end = other
	}
	return lines[marker+1 : end]
}
