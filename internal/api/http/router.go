package http

import (
	"github.com/gofiber/fiber/v2"

	"github.com/spec-kit/interview-prep-service/internal/api/http/handlers"
	"github.com/spec-kit/interview-prep-service/internal/auth"
)

// RouteConfig bundles dependencies for route registration.
type RouteConfig struct {
	Health         *handlers.HealthHandler
	Auth           *handlers.AuthHandler
	AuthMiddleware *auth.AuthMiddleware
	// UploadsDir is served under /uploads when images are stored locally.
	UploadsDir string
}

// RegisterRoutes wires HTTP routes.
func RegisterRoutes(app *fiber.App, cfg RouteConfig) {
	app.Get("/health/live", cfg.Health.Live)
	app.Get("/health/ready", cfg.Health.Ready)
	app.Get("/health/metrics", cfg.Health.Metrics)

	if cfg.UploadsDir != "" {
		app.Static("/uploads", cfg.UploadsDir, fiber.Static{Browse: false})
	}

	api := app.Group("/api")
	authGroup := api.Group("/auth")
	authGroup.Post("/register", cfg.Auth.Register)
	authGroup.Post("/login", cfg.Auth.Login)
	authGroup.Post("/upload-image", cfg.Auth.UploadImage)
	authGroup.Get("/profile", cfg.AuthMiddleware.Handle, cfg.Auth.Profile)
}
