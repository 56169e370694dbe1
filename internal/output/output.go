package output

import (
	"fmt"
	"strings"
	"time"

	"github.com/deckward/deckward/internal/aigate"
)

// Format represents an output format.
type Format string

const (
	FormatTable    Format = "table"
	FormatJSON     Format = "json"
	FormatMarkdown Format = "markdown"
)

// Formatter renders guard status snapshots.
type Formatter interface {
	FormatStatus(status *aigate.GuardStatus) (string, error)
}

// ParseFormat validates and normalizes a format string.
func ParseFormat(value string) (Format, error) {
	normalized := strings.ToLower(strings.TrimSpace(value))
	switch normalized {
	case "", string(FormatTable):
		return FormatTable, nil
	case string(FormatJSON):
		return FormatJSON, nil
	case string(FormatMarkdown):
		return FormatMarkdown, nil
	default:
		return "", fmt.Errorf("unsupported output format: %s", value)
	}
}

// NewFormatter returns a formatter for the requested format.
func NewFormatter(format Format) Formatter {
	switch format {
	case FormatJSON:
		return &JSONFormatter{Indent: true}
	case FormatMarkdown:
		return &MarkdownFormatter{}
	default:
		return &TableFormatter{}
	}
}

func usageLabel(used, limit int) string {
	return fmt.Sprintf("%d/%d", used, limit)
}

func cooldownLabel(remaining time.Duration) string {
	if remaining <= 0 {
		return "none"
	}
	return remaining.Round(time.Second).String()
}

func circuitLabel(status string) string {
	if status == "" {
		return "closed"
	}
	return status
}
