package server

import (
	"os"

	"github.com/fulmenhq/gofulmen/signals"
	"go.uber.org/zap"

	"github.com/deckward/deckward/internal/observability"
	"github.com/deckward/deckward/internal/server/handlers"
)

// registerRoutes registers all HTTP routes
func (s *Server) registerRoutes() {
	// Guarded API surface
	s.router.Post("/v1/generate", handlers.GenerateHandler)
	s.router.Post("/v1/uploads/validate", handlers.ValidateUploadHandler)
	s.router.Get("/v1/guard/status", handlers.GuardStatusHandler)

	// Health endpoints
	s.router.Get("/health", handlers.HealthHandler)
	s.router.Get("/health/live", handlers.LivenessHandler)
	s.router.Get("/health/ready", handlers.ReadinessHandler)

	// Version endpoint
	s.router.Get("/version", handlers.VersionHandler)

	// Metrics endpoint (in server package to access HandleError)
	s.router.Get("/metrics", MetricsHandler)

	// Admin signal endpoint (optional, requires DECKWARD_ADMIN_TOKEN)
	s.registerAdminEndpoint()
}

// registerAdminEndpoint optionally registers the admin signal endpoint
func (s *Server) registerAdminEndpoint() {
	adminToken := os.Getenv("DECKWARD_ADMIN_TOKEN")
	logger := observability.ServerLogger

	if adminToken == "" {
		if logger != nil {
			logger.Debug("Admin signal endpoint disabled (no DECKWARD_ADMIN_TOKEN set)")
		}
		return
	}

	handler := signals.NewHTTPHandler(signals.HTTPConfig{
		TokenAuth: adminToken,
		RateLimit: 10,  // 10 requests per minute
		RateBurst: 5,   // burst size
		Manager:   nil, // use default global manager
	})

	s.router.Post("/admin/signal", handler.ServeHTTP)

	if logger != nil {
		logger.Info("Admin signal endpoint enabled",
			zap.String("path", "/admin/signal"),
			zap.String("auth", "bearer token"))
		logger.Warn("Admin endpoint enabled - ensure this server is not exposed to public internet")
	}
}
