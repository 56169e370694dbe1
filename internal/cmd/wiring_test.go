package cmd

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/deckward/deckward/internal/config"
	"github.com/deckward/deckward/internal/guard/state"
	"github.com/deckward/deckward/internal/secrets"
)

func TestInstallationIDPrefersConfig(t *testing.T) {
	store := state.NewMemoryStore()
	cfg := &config.Config{}
	cfg.Security.InstallationID = "install-1"

	id, err := installationID(context.Background(), store, cfg)
	require.NoError(t, err)
	require.Equal(t, "install-1", id)

	// Nothing is persisted when the config supplies the identifier.
	_, ok, err := store.GetSetting(context.Background(), installationIDKey)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestInstallationIDMintedOnceAndPersisted(t *testing.T) {
	store := state.NewMemoryStore()
	cfg := &config.Config{}

	first, err := installationID(context.Background(), store, cfg)
	require.NoError(t, err)
	require.NotEmpty(t, first)

	second, err := installationID(context.Background(), store, cfg)
	require.NoError(t, err)
	require.Equal(t, first, second)
}

func TestResolveProvidersDecryptsStoredKeys(t *testing.T) {
	ctx := context.Background()
	store := state.NewMemoryStore()
	svc := secrets.NewService("install-1", "salt")

	encrypted, err := svc.Encrypt("sk-live-secret")
	require.NoError(t, err)
	require.NoError(t, store.SetSetting(ctx, "ai.openai.api_key", encrypted))

	cfg := &config.Config{}
	cfg.AI.Providers = map[string]config.ProviderConfig{
		"openai":    {Model: "gpt-4o-mini", Enabled: true},
		"anthropic": {APIKey: "sk-inline", Model: "claude-sonnet-4", Enabled: true},
	}

	providers, err := resolveProviders(ctx, store, svc, cfg)
	require.NoError(t, err)
	require.Equal(t, "sk-live-secret", providers["openai"].APIKey)
	require.Equal(t, "sk-inline", providers["anthropic"].APIKey)
	require.True(t, providers["openai"].Enabled)
}
