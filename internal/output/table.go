package output

import (
	"sort"
	"strconv"

	"github.com/jedib0t/go-pretty/v6/table"

	"github.com/deckward/deckward/internal/aigate"
)

// TableFormatter renders guard status as ASCII tables.
type TableFormatter struct{}

// FormatStatus renders rate-limit usage and circuit state as tables.
func (f *TableFormatter) FormatStatus(status *aigate.GuardStatus) (string, error) {
	if status == nil {
		return "", nil
	}

	t := table.NewWriter()
	t.SetStyle(table.StyleRounded)
	t.SetTitle("Rate Limits")
	t.AppendHeader(table.Row{"Budget", "Used", "Detail"})

	if limits := status.Limits; limits != nil {
		t.AppendRow(table.Row{
			"generation",
			usageLabel(limits.GenerationUsed, limits.GenerationLimit),
			"rolling 1h window",
		})
		t.AppendRow(table.Row{
			"file processing",
			usageLabel(limits.FileProcessingUsed, limits.FileProcessingLimit),
			"rolling 1h window",
		})
		t.AppendRow(table.Row{
			"concurrent",
			usageLabel(limits.InFlight, limits.MaxConcurrent),
			"in flight",
		})
		t.AppendRow(table.Row{
			"cooldown",
			cooldownLabel(limits.CooldownRemaining),
			"until next generation",
		})
	}

	rendered := t.Render()

	if len(status.Circuits) > 0 {
		ct := table.NewWriter()
		ct.SetStyle(table.StyleRounded)
		ct.SetTitle("Circuits")
		ct.AppendHeader(table.Row{"Provider", "State", "Failures", "Successes"})

		for _, provider := range sortedCircuitKeys(status) {
			record := status.Circuits[provider]
			if record == nil {
				continue
			}
			ct.AppendRow(table.Row{
				provider,
				circuitLabel(string(record.Status)),
				strconv.Itoa(record.FailureCount),
				strconv.Itoa(record.SuccessCount),
			})
		}

		rendered += "\n" + ct.Render()
	}

	return rendered, nil
}

func sortedCircuitKeys(status *aigate.GuardStatus) []string {
	keys := make([]string, 0, len(status.Circuits))
	for provider := range status.Circuits {
		keys = append(keys, provider)
	}
	sort.Strings(keys)
	return keys
}
