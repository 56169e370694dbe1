package cmd

import (
	"context"
	"net/http"
	"time"

	"github.com/fulmenhq/gofulmen/signals"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/deckward/deckward/internal/config"
	errwrap "github.com/deckward/deckward/internal/errors"
	"github.com/deckward/deckward/internal/observability"
	"github.com/deckward/deckward/internal/server"
	"github.com/deckward/deckward/internal/server/handlers"
)

var (
	serverPort int
	serverHost string
)

// telemetryHealthChecker ensures telemetry system and exporter are available
type telemetryHealthChecker struct{}

func (telemetryHealthChecker) CheckHealth(ctx context.Context) error {
	if observability.TelemetrySystem == nil || observability.PrometheusExporter == nil {
		return errwrap.NewInternalError("telemetry system not initialized")
	}
	return nil
}

// gatewayHealthChecker verifies the guard gateway is wired.
type gatewayHealthChecker struct{}

func (gatewayHealthChecker) CheckHealth(ctx context.Context) error {
	if !handlers.HasGateway() {
		return errwrap.NewInternalError("guard gateway not initialized")
	}
	return nil
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP server",
	Long: `Start the HTTP server with graceful shutdown support.

Signal Handling:
  • Ctrl+C (SIGINT) or SIGTERM: Graceful shutdown
  • Ctrl+C twice within 2s: Force quit
  • SIGHUP: Config reload (placeholder - restart recommended)

The server will cleanly shut down the HTTP server, close the state store,
and flush logs on shutdown.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := config.GetConfig()
		if cfg == nil {
			return errwrap.NewConfigInvalidError("configuration not loaded")
		}

		logLevel := cfg.Logging.Level
		observability.InitServerLogger("deckward", logLevel)

		if cfg.Metrics.Enabled {
			metricsPort := cfg.Metrics.Port
			if metricsPort == 0 {
				metricsPort = 9090
			}
			if err := observability.InitMetrics("deckward", metricsPort); err != nil {
				observability.ServerLogger.Error("Failed to initialize metrics",
					zap.Error(err))
				return errwrap.WrapInternal(cmd.Context(), err, "metrics initialization failed")
			}
		}

		host := serverHost
		if host == "" {
			host = cfg.Server.Host
		}
		port := serverPort
		if port == 0 {
			port = cfg.Server.Port
		}

		observability.ServerLogger.Info("Initializing server",
			zap.String("service", "deckward"),
			zap.String("version", versionInfo.Version),
			zap.String("host", host),
			zap.Int("port", port))

		store, err := openStore(cmd.Context())
		if err != nil {
			return errwrap.WrapInternal(cmd.Context(), err, "state store initialization failed")
		}

		gw, err := buildGateway(cmd.Context(), store, cfg)
		if err != nil {
			_ = store.Close()
			return errwrap.WrapConfigInvalid(cmd.Context(), err, "gateway initialization failed")
		}
		handlers.SetGateway(gw)

		// Initialize health manager
		handlers.InitHealthManager(versionInfo.Version)
		hm := handlers.GetHealthManager()
		hm.RegisterChecker("store", store)
		hm.RegisterChecker("gateway", gatewayHealthChecker{})
		if cfg.Metrics.Enabled {
			hm.RegisterChecker("telemetry", telemetryHealthChecker{})
		}

		srv := server.New(host, port)

		shutdownTimeout := cfg.Server.ShutdownTimeout
		if shutdownTimeout == 0 {
			shutdownTimeout = 10 * time.Second
		}

		// Register graceful shutdown handlers (LIFO order - last registered, first executed)
		// Handler 1: Flush logger (executed last)
		signals.OnShutdown(func(ctx context.Context) error {
			observability.ServerLogger.Info("Flushing logger...")
			if err := observability.ServerLogger.Sync(); err != nil {
				// Sync errors are often benign (stdout/stderr already closed)
				observability.ServerLogger.Warn("Logger sync returned error (may be benign)",
					zap.Error(err))
			}
			return nil
		})

		// Handler 2: Close the state store
		signals.OnShutdown(func(ctx context.Context) error {
			observability.ServerLogger.Info("Closing state store...")
			if err := store.Close(); err != nil {
				observability.ServerLogger.Warn("State store close returned error",
					zap.Error(err))
			}
			return nil
		})

		// Handler 3: Shutdown HTTP server (executed first)
		signals.OnShutdown(func(ctx context.Context) error {
			observability.ServerLogger.Info("Shutting down HTTP server...")
			shutdownCtx, cancel := context.WithTimeout(ctx, shutdownTimeout)
			defer cancel()

			if err := srv.Shutdown(shutdownCtx); err != nil {
				return errwrap.WrapInternal(ctx, err, "server shutdown failed")
			}

			observability.ServerLogger.Info("HTTP server stopped gracefully")
			return nil
		})

		// Register config reload handler (SIGHUP)
		signals.OnReload(func(ctx context.Context) error {
			observability.ServerLogger.Info("Received SIGHUP: reloading configuration")

			reloaded, err := config.Load(cfgFile)
			if err != nil {
				observability.ServerLogger.Error("Failed to reload config",
					zap.Error(err))
				return errwrap.WrapConfigInvalid(ctx, err, "config reload failed")
			}

			observability.ServerLogger.Info("Configuration reloaded",
				zap.String("default_provider", reloaded.AI.DefaultProvider))

			// Guard thresholds and provider wiring require a restart; only the
			// in-memory config snapshot is refreshed here.
			return nil
		})

		// Enable double-tap force quit (Ctrl+C within 2 seconds)
		if err := signals.EnableDoubleTap(signals.DoubleTapConfig{
			Window:  2 * time.Second,
			Message: "Press Ctrl+C again within 2 seconds to force quit",
		}); err != nil {
			observability.ServerLogger.Warn("Failed to enable double-tap force quit",
				zap.Error(err))
		}

		// Start server in background goroutine
		errChan := make(chan error, 1)
		go func() {
			observability.ServerLogger.Info("Starting HTTP server...",
				zap.String("host", host),
				zap.Int("port", port))
			if err := srv.Start(); err != nil && err != http.ErrServerClosed {
				errChan <- err
			}
		}()

		// Start signal listener in background
		go func() {
			if err := signals.Listen(cmd.Context()); err != nil {
				observability.ServerLogger.Error("Signal handler error", zap.Error(err))
				errChan <- err
			}
		}()

		// Wait for error or shutdown completion
		if err := <-errChan; err != nil {
			return errwrap.WrapInternal(cmd.Context(), err, "server error")
		}

		return nil
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().StringVar(&serverHost, "host", "", "server host (overrides config)")
	serveCmd.Flags().IntVarP(&serverPort, "port", "p", 0, "server port (overrides config)")
}
