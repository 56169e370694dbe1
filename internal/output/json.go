package output

import (
	"encoding/json"

	"github.com/deckward/deckward/internal/aigate"
)

// JSONFormatter renders guard status as JSON.
type JSONFormatter struct {
	Indent bool
}

// FormatStatus renders a guard status snapshot as JSON.
func (f *JSONFormatter) FormatStatus(status *aigate.GuardStatus) (string, error) {
	if status == nil {
		return "", nil
	}

	var (
		data []byte
		err  error
	)

	if f.Indent {
		data, err = json.MarshalIndent(status, "", "  ")
	} else {
		data, err = json.Marshal(status)
	}
	if err != nil {
		return "", err
	}

	return string(data), nil
}
