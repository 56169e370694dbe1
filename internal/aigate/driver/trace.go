package driver

import (
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"
)

// TraceEntry records one provider request/response exchange.
//
// RequestBody and Response are the wire bytes; credentials live in headers
// and never appear here.
type TraceEntry struct {
	Timestamp   time.Time       `json:"timestamp"`
	Driver      string          `json:"driver"`
	Endpoint    string          `json:"endpoint"`
	Model       string          `json:"model,omitempty"`
	RequestBody json.RawMessage `json:"request_body,omitempty"`
	StatusCode  int             `json:"status_code,omitempty"`
	Response    json.RawMessage `json:"response,omitempty"`
	Error       string          `json:"error,omitempty"`
	DurationMs  int64           `json:"duration_ms"`
}

var (
	tracerMu   sync.Mutex
	tracerFile *os.File
)

// EnableTracing starts appending NDJSON trace entries to the given path.
// The returned cleanup closes the file.
func EnableTracing(path string) (func(), error) {
	tracerMu.Lock()
	defer tracerMu.Unlock()

	if tracerFile != nil {
		_ = tracerFile.Close()
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0600)
	if err != nil {
		return nil, fmt.Errorf("open trace file: %w", err)
	}
	tracerFile = f

	return func() {
		tracerMu.Lock()
		defer tracerMu.Unlock()
		if tracerFile != nil {
			_ = tracerFile.Close()
			tracerFile = nil
		}
	}, nil
}

// Trace writes an entry if tracing is enabled.
func Trace(entry TraceEntry) {
	tracerMu.Lock()
	defer tracerMu.Unlock()
	if tracerFile == nil {
		return
	}

	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now()
	}
	data, err := json.Marshal(entry)
	if err != nil {
		return
	}
	_, _ = tracerFile.Write(data)
	_, _ = tracerFile.Write([]byte("\n"))
}
