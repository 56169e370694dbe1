package cmd

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/deckward/deckward/internal/aigate"
	"github.com/deckward/deckward/internal/config"
	"github.com/deckward/deckward/internal/guard/circuit"
	"github.com/deckward/deckward/internal/guard/ratelimit"
	"github.com/deckward/deckward/internal/guard/state"
	"github.com/deckward/deckward/internal/pinning"
	"github.com/deckward/deckward/internal/secrets"
	"github.com/deckward/deckward/internal/signing"
)

const installationIDKey = "security.installation_id"

// installationID returns the configured installation identifier, minting and
// persisting one on first use when the config leaves it empty.
func installationID(ctx context.Context, store state.SettingsStore, cfg *config.Config) (string, error) {
	if id := strings.TrimSpace(cfg.Security.InstallationID); id != "" {
		return id, nil
	}

	id, ok, err := store.GetSetting(ctx, installationIDKey)
	if err != nil {
		return "", fmt.Errorf("load installation id: %w", err)
	}
	if ok && strings.TrimSpace(id) != "" {
		return id, nil
	}

	id = uuid.NewString()
	if err := store.SetSetting(ctx, installationIDKey, id); err != nil {
		return "", fmt.Errorf("persist installation id: %w", err)
	}
	return id, nil
}

func newSecretsService(ctx context.Context, store state.SettingsStore, cfg *config.Config) (*secrets.Service, error) {
	id, err := installationID(ctx, store, cfg)
	if err != nil {
		return nil, err
	}
	return secrets.NewService(id, cfg.Security.Salt), nil
}

func buildLimiter(store state.Store, cfg *config.Config) *ratelimit.Limiter {
	return ratelimit.New(store, ratelimit.Config{
		GenerationPerHour:     cfg.Guard.RateLimit.GenerationPerHour,
		FileProcessingPerHour: cfg.Guard.RateLimit.FileProcessingPerHour,
		Window:                cfg.Guard.RateLimit.Window,
		Cooldown:              cfg.Guard.RateLimit.Cooldown,
		MaxConcurrent:         cfg.Guard.RateLimit.MaxConcurrent,
	})
}

func buildBreaker(store state.Store, cfg *config.Config) *circuit.Breaker {
	return circuit.New(store, circuit.Config{
		FailureThreshold: cfg.Guard.Circuit.FailureThreshold,
		SuccessThreshold: cfg.Guard.Circuit.SuccessThreshold,
		OpenTimeout:      cfg.Guard.Circuit.OpenTimeout,
	})
}

// resolveProviders decrypts provider API keys, falling back to the settings
// store for providers whose key is not inlined in the config file.
func resolveProviders(ctx context.Context, store state.SettingsStore, svc *secrets.Service, cfg *config.Config) (map[string]aigate.ProviderConfig, error) {
	providers := make(map[string]aigate.ProviderConfig, len(cfg.AI.Providers))

	for providerID, provider := range cfg.AI.Providers {
		key := strings.TrimSpace(provider.APIKey)
		if key == "" {
			stored, ok, err := store.GetSetting(ctx, "ai."+providerID+".api_key")
			if err != nil {
				return nil, fmt.Errorf("load api key for %s: %w", providerID, err)
			}
			if ok {
				key = stored
			}
		}

		providers[providerID] = aigate.ProviderConfig{
			Type:    provider.Type,
			BaseURL: provider.BaseURL,
			APIKey:  svc.Decrypt(key),
			Model:   provider.Model,
			Enabled: provider.Enabled,
		}
	}

	return providers, nil
}

// buildGateway wires the full guard stack around the configured providers.
func buildGateway(ctx context.Context, store *state.LibsqlStore, cfg *config.Config) (*aigate.Gateway, error) {
	svc, err := newSecretsService(ctx, store, cfg)
	if err != nil {
		return nil, err
	}

	providers, err := resolveProviders(ctx, store, svc, cfg)
	if err != nil {
		return nil, err
	}

	gw, err := aigate.New(
		providers,
		cfg.AI.DefaultProvider,
		buildLimiter(store, cfg),
		buildBreaker(store, cfg),
		signing.New(),
		pinning.New(cfg.Security.Pins),
	)
	if err != nil {
		return nil, err
	}

	if cfg.AI.CallTimeout > 0 {
		gw.CallTimeout = cfg.AI.CallTimeout
	}

	return gw, nil
}
