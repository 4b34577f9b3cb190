package router // package router defines how HTTP routes are registered for the API

import (
	"github.com/labstack/echo/v4"
	"github.com/redis/go-redis/v9"

	"github.com/miravel/transit-seat-engine/internal/config"
	"github.com/miravel/transit-seat-engine/internal/handler"
	"github.com/miravel/transit-seat-engine/internal/middleware"
)

// RegisterRoutes registers routes that do not require authentication on
// the provided Echo instance. The health check is used by load
// balancers to verify the service is up; the payment webhook carries
// its own shared-secret check instead of a user JWT because it is
// called by the gateway, not by clients.
func RegisterRoutes(e *echo.Echo, w *handler.PaymentWebhookHandler) {
	e.GET("/healthz", handler.Health)
	e.POST("/v1/payments/webhook", w.Confirm)
}

// RegisterInventory registers the authenticated inventory surface: the
// realtime websocket attach point and the REST availability projection.
// Both sit behind JWT auth and the Redis token-bucket limiter; the
// limiter degrades to a no-op when rdb is nil.
func RegisterInventory(e *echo.Echo, rt *handler.RealtimeHandler, av *handler.AvailabilityHandler, jwtSecret string, rdb *redis.Client) {
	g := e.Group("/v1")
	g.Use(middleware.JWTAuth(jwtSecret))
	g.Use(middleware.NewTokenBucket(config.LoadRateLimitConfig(), rdb))

	// Websocket clients cannot set an Authorization header from the
	// browser API, so JWTAuth also accepts ?token= on this route.
	g.GET("/realtime", rt.Attach)
	g.GET("/routes/:id/availability", av.Get)
}
