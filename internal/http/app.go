package http

import (
	"context"
	"net/http"

	"estate_portal_backend/internal/events"
	"estate_portal_backend/platform/config"
	"estate_portal_backend/platform/flags"
	"estate_portal_backend/platform/logger"
)

// RouterConfig is what the router reads: listen/CORS/rate settings and the JWT secret.
type RouterConfig interface {
	config.HTTPConfig
	config.JWTConfig
}

// HealthChecker backs /api/ready.
type HealthChecker interface {
	Ping(ctx context.Context) error
}

// App is everything cmd/api hands to router.New.
type App struct {
	Config RouterConfig
	Logger *logger.Logger
	// Health is pinged by /api/ready. Nil reports ready unconditionally.
	Health   HealthChecker
	EventBus events.Bus
	// Flags is the feature flag set served at /api/v1/feature-flags.
	Flags *flags.Set
	// Metrics serves the Prometheus scrape endpoint. Nil disables /metrics.
	Metrics http.Handler
	// Modules register their routes in slice order.
	Modules []Module
}
