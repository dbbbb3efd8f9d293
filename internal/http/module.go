// Package http defines the App assembled by cmd/api and the Module contract
// through which leads, properties, jobs, outbox and webhook mount their routes.
package http

import (
	"estate_portal_backend/platform/config"
	"estate_portal_backend/platform/httpkit"

	"github.com/gin-gonic/gin"
)

// Module is a bounded context with HTTP routes.
type Module interface {
	Name() string
	RegisterRoutes(ctx *RouterContext)
}

// RouterContext carries the shared groups and middleware a module mounts onto.
type RouterContext struct {
	// Engine is the root engine.
	Engine *gin.Engine
	// API is the unversioned /api group used by the n8n job endpoints.
	API *gin.RouterGroup
	// V1 is the /api/v1 route group.
	V1 *gin.RouterGroup
	// Protected is the authenticated route group under /api/v1.
	Protected *gin.RouterGroup
	// Admin is the admin-only route group under /api/v1/admin.
	Admin *gin.RouterGroup
	// Webhooks is the /webhook group for signed inbound callbacks.
	Webhooks *gin.RouterGroup
	// Config exposes the JWT secret to modules that build their own auth chain.
	Config config.JWTConfig
	// AuthMiddleware is the bearer JWT check already applied to Protected and Admin.
	AuthMiddleware gin.HandlerFunc
	// IngestRateLimiter throttles public message ingestion per client IP.
	IngestRateLimiter *httpkit.IPRateLimiter
}
