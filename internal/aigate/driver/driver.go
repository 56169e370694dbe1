package driver

import "context"

// Driver defines the interface for AI completion providers.
type Driver interface {
	// Complete sends a completion request and returns the raw response.
	Complete(ctx context.Context, req *Request) (*Response, error)
	// Name returns the driver identifier (e.g., "openai").
	Name() string
	// Capabilities returns what this driver supports.
	Capabilities() Capabilities
}

// Capabilities describes driver features.
type Capabilities struct {
	SupportsSystemPrompt bool
	SupportsStreaming    bool
	SupportedModels      []string
}

// Request is a provider-agnostic completion request.
type Request struct {
	Model       string
	System      string
	Prompt      string
	Temperature *float64
	MaxTokens   *int

	// Signature is attached as a request header when set, so a proxy or
	// audit layer can verify what was sent.
	Signature string
}

// Response carries the raw provider body. Schema validation happens in the
// gateway, not in the driver, so the body is preserved byte-for-byte.
type Response struct {
	RawBody    []byte
	StatusCode int
}
