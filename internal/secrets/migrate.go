package secrets

import (
	"context"

	"github.com/fulmenhq/gofulmen/logging"
	"go.uber.org/zap"

	"github.com/deckward/deckward/internal/guard/state"
)

// SecretKeys is the fixed list of configuration keys whose values must be
// encrypted at rest.
var SecretKeys = []string{
	"ai.openai.api_key",
	"ai.anthropic.api_key",
	"ai.xai.api_key",
	"ai.signing_secret",
}

// MigrateResult summarizes one migration pass.
type MigrateResult struct {
	Scanned   int
	Encrypted int
	Skipped   int
	Failed    int
}

// Migrate scans the secret-bearing keys and re-encrypts any value that is
// still plaintext. Run once after every version upgrade. Individual failures
// are logged and counted but never abort the pass: a half-migrated settings
// table is preferable to a failed upgrade.
func (s *Service) Migrate(ctx context.Context, store state.SettingsStore, logger *logging.Logger) MigrateResult {
	var result MigrateResult

	for _, key := range SecretKeys {
		result.Scanned++

		value, ok, err := store.GetSetting(ctx, key)
		if err != nil {
			result.Failed++
			if logger != nil {
				logger.Warn("Secret migration read failed", zap.String("key", key), zap.Error(err))
			}
			continue
		}
		if !ok || value == "" || s.IsEncrypted(value) {
			result.Skipped++
			continue
		}

		encrypted, err := s.Encrypt(value)
		if err != nil {
			result.Failed++
			if logger != nil {
				logger.Warn("Secret migration encryption failed", zap.String("key", key), zap.Error(err))
			}
			continue
		}

		if err := store.SetSetting(ctx, key, encrypted); err != nil {
			result.Failed++
			if logger != nil {
				logger.Warn("Secret migration write failed", zap.String("key", key), zap.Error(err))
			}
			continue
		}

		result.Encrypted++
		if logger != nil {
			logger.Info("Encrypted stored secret", zap.String("key", key))
		}
	}

	return result
}
