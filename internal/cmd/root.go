package cmd

import (
	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/fulmenhq/gofulmen/telemetry"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/deckward/deckward/internal/aigate/driver"
	"github.com/deckward/deckward/internal/config"
	"github.com/deckward/deckward/internal/observability"
)

var (
	cfgFile string
	verbose bool

	// Version info set by main package
	versionInfo struct {
		Version   string
		Commit    string
		BuildDate string
	}
)

// SetVersionInfo is called by main package to set version information
func SetVersionInfo(version, commit, buildDate string) {
	versionInfo.Version = version
	versionInfo.Commit = commit
	versionInfo.BuildDate = buildDate
}

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "deckward",
	Short: "Trust boundary for AI provider calls",
	Long: `Deckward guards calls from the application to AI providers: rate
limits, circuit breaking, credential encryption, request signing,
certificate pinning, and response validation.

Use the subcommands to perform specific operations.`,
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	// Disable global telemetry early to prevent config loading from emitting
	// metrics to stdout. Server mode will initialize proper telemetry later.
	disabledConfig := &telemetry.Config{Enabled: false}
	if sys, err := telemetry.NewSystem(disabledConfig); err == nil {
		telemetry.SetGlobalSystem(sys)
	}

	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $XDG_CONFIG_HOME/deckward/config.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output (sets log level to debug)")
}

// initConfig loads configuration and initializes the CLI logger.
func initConfig() {
	observability.InitCLILogger("deckward", verbose)

	cfg, err := config.Load(cfgFile)
	if err != nil {
		ExitWithCode(observability.CLILogger, foundry.ExitConfigInvalid, "Failed to load configuration", err)
	}

	if traceFile := cfg.Security.TraceFile; traceFile != "" {
		cleanup, err := driver.EnableTracing(traceFile)
		if err != nil {
			observability.CLILogger.Warn("Failed to enable provider tracing", zap.Error(err))
		} else {
			observability.CLILogger.Debug("Provider tracing enabled", zap.String("file", traceFile))
			// Tracing stays on for the whole session; the file is closed
			// when the process exits.
			_ = cleanup
		}
	}
}
