package aigate

import (
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/deckward/deckward/internal/aigate/driver"
	"github.com/deckward/deckward/internal/aigate/driver/anthropic"
	"github.com/deckward/deckward/internal/aigate/driver/openai"
	"github.com/deckward/deckward/internal/aigate/driver/xai"
	"github.com/deckward/deckward/internal/pinning"
)

// ProviderConfig describes one configured provider instance. APIKey is the
// decrypted key; decryption happens in the caller before wiring.
type ProviderConfig struct {
	Type    string
	BaseURL string
	APIKey  string
	Model   string
	Enabled bool
}

// defaultHosts is used for pinning when no base URL override is configured.
var defaultHosts = map[string]string{
	"openai":    "api.openai.com",
	"anthropic": "api.anthropic.com",
	"xai":       "api.x.ai",
}

// buildDrivers constructs one driver per enabled provider, each with a
// transport the pinner has configured for the provider host.
func buildDrivers(providers map[string]ProviderConfig, pinner *pinning.Pinner) (map[string]driver.Driver, error) {
	drivers := make(map[string]driver.Driver, len(providers))

	for providerID, cfg := range providers {
		if !cfg.Enabled {
			continue
		}

		providerType := strings.ToLower(strings.TrimSpace(cfg.Type))
		if providerType == "" {
			providerType = strings.ToLower(strings.TrimSpace(providerID))
		}

		httpClient := pinnedHTTPClient(pinner, providerHost(cfg, defaultHosts[providerType]))

		switch providerType {
		case "openai":
			client := openai.NewClient(cfg.BaseURL, cfg.APIKey)
			client.HTTPClient = httpClient
			drivers[providerID] = client
		case "anthropic":
			client := anthropic.NewClient(cfg.BaseURL, cfg.APIKey)
			client.HTTPClient = httpClient
			drivers[providerID] = client
		case "xai":
			client := xai.NewClient(cfg.BaseURL, cfg.APIKey)
			client.HTTPClient = httpClient
			drivers[providerID] = client
		default:
			return nil, fmt.Errorf("unsupported provider type %q for provider %q", providerType, providerID)
		}
	}

	return drivers, nil
}

// pinnedHTTPClient clones the default transport and lets the pinner enforce
// its TLS floor and fingerprint check for the host.
func pinnedHTTPClient(pinner *pinning.Pinner, host string) *http.Client {
	transport := http.DefaultTransport.(*http.Transport).Clone()
	if pinner != nil && host != "" {
		pinner.ConfigureTransport(transport, host)
	}
	return &http.Client{Transport: transport}
}

func providerHost(cfg ProviderConfig, fallback string) string {
	if base := strings.TrimSpace(cfg.BaseURL); base != "" {
		if parsed, err := url.Parse(base); err == nil && parsed.Hostname() != "" {
			return parsed.Hostname()
		}
	}
	return fallback
}
