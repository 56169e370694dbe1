package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/deckward/deckward/internal/config"
	"github.com/deckward/deckward/internal/observability"
)

var secretsCmd = &cobra.Command{
	Use:   "secrets",
	Short: "Manage encrypted credentials",
}

var secretsMigrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Encrypt stored plaintext credentials",
	Long: `Scan the settings store for credential keys and encrypt any value
that is still plaintext. Already-encrypted values are left untouched, so
the command is safe to run repeatedly; run it once after every upgrade.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := config.GetConfig()
		if cfg == nil {
			return fmt.Errorf("configuration not loaded")
		}

		store, err := openStore(cmd.Context())
		if err != nil {
			return fmt.Errorf("open store: %w", err)
		}
		defer store.Close() // nolint:errcheck // best-effort cleanup

		svc, err := newSecretsService(cmd.Context(), store, cfg)
		if err != nil {
			return err
		}

		result := svc.Migrate(cmd.Context(), store, observability.CLILogger)

		fmt.Printf("Scanned: %d\n", result.Scanned)
		fmt.Printf("Encrypted: %d\n", result.Encrypted)
		fmt.Printf("Skipped: %d\n", result.Skipped)
		if result.Failed > 0 {
			fmt.Printf("Failed: %d\n", result.Failed)
			return fmt.Errorf("secret migration completed with %d failures", result.Failed)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(secretsCmd)
	secretsCmd.AddCommand(secretsMigrateCmd)
}
