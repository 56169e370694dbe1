package output

import (
	"fmt"
	"strings"

	"github.com/deckward/deckward/internal/aigate"
)

// MarkdownFormatter renders guard status as markdown tables.
type MarkdownFormatter struct{}

// FormatStatus renders a guard status snapshot as Markdown.
func (f *MarkdownFormatter) FormatStatus(status *aigate.GuardStatus) (string, error) {
	if status == nil {
		return "", nil
	}

	var sb strings.Builder
	sb.WriteString("## Rate limits\n\n")
	sb.WriteString("| Budget | Used | Detail |\n")
	sb.WriteString("|--------|------|--------|\n")

	if limits := status.Limits; limits != nil {
		sb.WriteString(fmt.Sprintf("| generation | %s | rolling 1h window |\n",
			usageLabel(limits.GenerationUsed, limits.GenerationLimit)))
		sb.WriteString(fmt.Sprintf("| file processing | %s | rolling 1h window |\n",
			usageLabel(limits.FileProcessingUsed, limits.FileProcessingLimit)))
		sb.WriteString(fmt.Sprintf("| concurrent | %s | in flight |\n",
			usageLabel(limits.InFlight, limits.MaxConcurrent)))
		sb.WriteString(fmt.Sprintf("| cooldown | %s | until next generation |\n",
			cooldownLabel(limits.CooldownRemaining)))
	}

	if len(status.Circuits) > 0 {
		sb.WriteString("\n## Circuits\n\n")
		sb.WriteString("| Provider | State | Failures | Successes |\n")
		sb.WriteString("|----------|-------|----------|-----------|\n")

		for _, provider := range sortedCircuitKeys(status) {
			record := status.Circuits[provider]
			if record == nil {
				continue
			}
			sb.WriteString(fmt.Sprintf("| %s | %s | %d | %d |\n",
				escapeMarkdownCell(provider),
				circuitLabel(string(record.Status)),
				record.FailureCount,
				record.SuccessCount))
		}
	}

	return sb.String(), nil
}

func escapeMarkdownCell(value string) string {
	return strings.ReplaceAll(value, "|", "\\|")
}
