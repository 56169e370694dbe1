package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0600))
	return path
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, "{}\n"))
	require.NoError(t, err)

	require.Equal(t, "127.0.0.1", cfg.Server.Host)
	require.Equal(t, 8080, cfg.Server.Port)
	require.Equal(t, 10, cfg.Guard.RateLimit.GenerationPerHour)
	require.Equal(t, 20, cfg.Guard.RateLimit.FileProcessingPerHour)
	require.Equal(t, 30*time.Second, cfg.Guard.RateLimit.Cooldown)
	require.Equal(t, 2, cfg.Guard.RateLimit.MaxConcurrent)
	require.Equal(t, 5, cfg.Guard.Circuit.FailureThreshold)
	require.Equal(t, 2, cfg.Guard.Circuit.SuccessThreshold)
	require.Equal(t, 60*time.Second, cfg.Guard.Circuit.OpenTimeout)
	require.Equal(t, 30*time.Second, cfg.AI.CallTimeout)
	require.Equal(t, "info", cfg.Logging.Level)
	require.NotEmpty(t, cfg.Store.Path)
}

func TestLoadFileOverrides(t *testing.T) {
	path := writeConfig(t, `
server:
  port: 9000
guard:
  rate_limit:
    generation_per_hour: 3
    cooldown: 5s
ai:
  default_provider: anthropic
  providers:
    anthropic:
      type: anthropic
      model: claude-sonnet-4-5
      enabled: true
security:
  installation_id: install-1234
  pins:
    api.anthropic.com:
      - aabbcc
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	require.Equal(t, 9000, cfg.Server.Port)
	require.Equal(t, 3, cfg.Guard.RateLimit.GenerationPerHour)
	require.Equal(t, 5*time.Second, cfg.Guard.RateLimit.Cooldown)
	require.Equal(t, "anthropic", cfg.AI.DefaultProvider)
	require.Equal(t, "claude-sonnet-4-5", cfg.AI.Providers["anthropic"].Model)
	require.Equal(t, "install-1234", cfg.Security.InstallationID)
	require.Equal(t, []string{"aabbcc"}, cfg.Security.Pins["api.anthropic.com"])
}

func TestLoadKeepsDottedPinHosts(t *testing.T) {
	path := writeConfig(t, `
security:
  pins:
    api.anthropic.com:
      - aabbcc
      - ddeeff
    api.openai.com: "112233, 445566"
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	// Hostname keys survive intact instead of being split on dots.
	require.Len(t, cfg.Security.Pins, 2)
	require.Equal(t, []string{"aabbcc", "ddeeff"}, cfg.Security.Pins["api.anthropic.com"])
	require.Equal(t, []string{"112233", "445566"}, cfg.Security.Pins["api.openai.com"])
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("DECKWARD_SERVER_PORT", "7777")
	t.Setenv("DECKWARD_LOGGING_LEVEL", "debug")

	cfg, err := Load(writeConfig(t, "{}\n"))
	require.NoError(t, err)
	require.Equal(t, 7777, cfg.Server.Port)
	require.Equal(t, "debug", cfg.Logging.Level)
}

func TestLoadRejectsUnknownDefaultProvider(t *testing.T) {
	path := writeConfig(t, `
ai:
  default_provider: missing
  providers:
    openai:
      type: openai
      enabled: true
`)

	_, err := Load(path)
	require.Error(t, err)
	require.Contains(t, err.Error(), "default_provider")
}

func TestGetConfigReturnsLastLoaded(t *testing.T) {
	cfg, err := Load(writeConfig(t, "server:\n  port: 8123\n"))
	require.NoError(t, err)
	require.Same(t, cfg, GetConfig())
}
