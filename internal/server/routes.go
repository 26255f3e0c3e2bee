package server

import (
	"log/slog"
	"net/http"

	"starlane-server/internal/auth"
	"starlane-server/internal/gateway"
	"starlane-server/internal/mapfeed"
	"starlane-server/internal/middleware"
	serverHandlers "starlane-server/internal/server/handlers"
	"starlane-server/internal/shared/config"
)

type Routes struct {
	cfg       *config.Config
	db        serverHandlers.Pinger
	bridge    *gateway.Bridge
	hub       *mapfeed.Hub
	mapRepo   *mapfeed.Repository
	responder serverHandlers.Responder
	limiter   *middleware.RateLimiter
	logger    *slog.Logger
}

func NewRoutes(
	cfg *config.Config,
	db serverHandlers.Pinger,
	bridge *gateway.Bridge,
	hub *mapfeed.Hub,
	mapRepo *mapfeed.Repository,
	responder serverHandlers.Responder,
	limiter *middleware.RateLimiter,
	logger *slog.Logger,
) *Routes {
	return &Routes{
		cfg:       cfg,
		db:        db,
		bridge:    bridge,
		hub:       hub,
		mapRepo:   mapRepo,
		responder: responder,
		limiter:   limiter,
		logger:    logger,
	}
}

// Setup builds the HTTP handler: the route table wrapped in rate limiting
// and CORS.
func (r *Routes) Setup() http.Handler {
	logger := slog.With("component", "routes", "operation", "setup")
	logger.Debug("Setting up application routes")

	mux := http.NewServeMux()

	secret := r.cfg.Gateway.Token
	bridgeOnly := middleware.JWTMiddleware(secret, auth.RoleBridge)
	mapAccess := middleware.Optional(r.cfg.Gateway.MapPublic, middleware.JWTMiddleware(secret, auth.RoleViewer, auth.RoleBridge))

	healthHandler := serverHandlers.NewHealthHandler(r.db, r.bridge)
	snapshotHandler := mapfeed.NewSnapshotHandler(r.mapRepo, r.logger)
	interactionHandler := serverHandlers.NewInteractionHandler(r.bridge, r.responder)

	// Public endpoints
	mux.Handle("GET /api/server/health", healthHandler)

	// Map endpoints (public unless MAP_PUBLIC=false)
	mux.Handle("GET /api/map/snapshot", mapAccess(snapshotHandler))
	mux.Handle("GET /api/map/feed", mapAccess(http.HandlerFunc(r.hub.ServeWS)))

	// Bridge endpoints
	mux.Handle("POST /api/gateway/interactions", bridgeOnly(interactionHandler))
	mux.Handle("GET /api/gateway/ws", bridgeOnly(http.HandlerFunc(r.bridge.ServeWS)))

	logger.Info("Routes configured successfully",
		"public_endpoints", []string{"/api/server/health"},
		"map_endpoints", []string{"/api/map/snapshot", "/api/map/feed"},
		"map_public", r.cfg.Gateway.MapPublic,
		"bridge_endpoints", []string{"/api/gateway/interactions", "/api/gateway/ws"},
	)

	cors := middleware.NewCORS(r.cfg.Frontend)
	return cors.Middleware(r.limiter.Middleware(mux))
}
