package cmd

import (
	"fmt"
	"strings"

	"github.com/fulmenhq/gofulmen/ascii"
	"github.com/spf13/cobra"

	"github.com/deckward/deckward/internal/pinning"
)

var pinCmd = &cobra.Command{
	Use:   "pin",
	Short: "Manage certificate pins",
}

var pinFingerprintCmd = &cobra.Command{
	Use:   "fingerprint <host>",
	Short: "Fetch the current leaf certificate fingerprint for a host",
	Long: `Connect to a host over TLS and print the SHA-256 fingerprint of its
leaf certificate, in the form the security.pins config section expects.
Use this when a provider rotates certificates and pinned requests start
failing with CERTIFICATE_MISMATCH.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		host := strings.TrimSpace(args[0])

		pinner := pinning.New(nil)
		fingerprint, err := pinner.FetchFingerprint(cmd.Context(), host)
		if err != nil {
			return fmt.Errorf("fetch fingerprint for %s: %w", host, err)
		}

		lines := []string{
			fmt.Sprintf("Leaf fingerprint for %s", host),
			"",
			fingerprint,
			"",
			"config snippet:",
			"security:",
			"  pins:",
			fmt.Sprintf("    %s:", strings.TrimSuffix(host, ":443")),
			fmt.Sprintf("      - %s", fingerprint),
		}
		fmt.Print(ascii.DrawBox(strings.Join(lines, "\n"), 0))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(pinCmd)
	pinCmd.AddCommand(pinFingerprintCmd)
}
