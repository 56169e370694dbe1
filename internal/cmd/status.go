package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/deckward/deckward/internal/aigate"
	"github.com/deckward/deckward/internal/config"
	"github.com/deckward/deckward/internal/output"
)

var (
	statusActor  string
	statusFormat string
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show guard state for an actor",
	Long: `Show the rate-limit budgets, cooldown, concurrency, and circuit
state recorded for an actor. Reads the same store the server uses, so it
reflects live state while the server is running.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		format, err := output.ParseFormat(statusFormat)
		if err != nil {
			return err
		}

		cfg := config.GetConfig()
		if cfg == nil {
			return fmt.Errorf("configuration not loaded")
		}

		store, err := openStore(cmd.Context())
		if err != nil {
			return fmt.Errorf("open store: %w", err)
		}
		defer store.Close() // nolint:errcheck // best-effort cleanup

		gw := &aigate.Gateway{
			Limiter: buildLimiter(store, cfg),
			Breaker: buildBreaker(store, cfg),
		}
		status, err := gw.Status(cmd.Context(), statusActor)
		if err != nil {
			return fmt.Errorf("read guard status: %w", err)
		}

		rendered, err := output.NewFormatter(format).FormatStatus(status)
		if err != nil {
			return err
		}
		fmt.Println(rendered)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(statusCmd)

	statusCmd.Flags().StringVar(&statusActor, "actor", "default", "actor whose guard state to show")
	statusCmd.Flags().StringVarP(&statusFormat, "format", "f", "table", "output format (table, json, markdown)")
}
