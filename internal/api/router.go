package api

import (
	"fmt"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/ticvision/portal/internal/app"
	iauth "github.com/ticvision/portal/internal/auth"
	"github.com/ticvision/portal/internal/handlers"
	"github.com/ticvision/portal/internal/middleware"
	"github.com/ticvision/portal/internal/monitoring"
	"github.com/ticvision/portal/internal/services"
)

// Dependencies bundles everything the HTTP surface is built from.
type Dependencies struct {
	Config        *app.Config
	JWT           *iauth.JWTService
	Users         *services.UserService
	Confirmations *services.ConfirmationService
	Dashboard     *services.DashboardService
	Tics          *services.TicService
	// Health is optional; a nil manager serves the disabled health handlers.
	Health *monitoring.HealthManager
	// RateStore is optional; the in-memory store is used when nil.
	RateStore middleware.RateStore
}

// NewRouter builds the Gin engine, wires middleware and registers all routes.
func NewRouter(deps Dependencies) (*gin.Engine, error) {
	cfg := deps.Config
	if cfg == nil {
		return nil, fmt.Errorf("config must be provided")
	}
	if deps.JWT == nil {
		return nil, fmt.Errorf("jwt service must be provided")
	}
	if deps.Users == nil || deps.Confirmations == nil || deps.Dashboard == nil || deps.Tics == nil {
		return nil, fmt.Errorf("services must be provided")
	}

	r := gin.New()

	// Global middleware
	r.Use(middleware.Recovery())
	r.Use(middleware.Logger())
	r.Use(middleware.Metrics())
	r.Use(middleware.SecurityHeaders())
	r.Use(middleware.CORS(middleware.CORSOptions{
		AllowedOrigins:   cfg.Server.CORS.AllowedOrigins,
		AllowCredentials: cfg.Server.CORS.AllowCredentials,
	}))
	if rl := cfg.Server.RateLimit; rl.Enabled {
		r.Use(middleware.RateLimit(deps.RateStore, rl.Requests, rl.Window))
	}

	registerHealthRoutes(r, cfg, deps.Health)

	requireAuth := middleware.Auth(deps.JWT)
	api := r.Group("/api")

	registerAuthRoutes(api, requireAuth, handlers.NewAuthHandler(deps.Users, deps.JWT))
	registerConfirmationRoutes(r, api, requireAuth, handlers.NewConfirmationHandler(deps.Confirmations))
	registerDashboardRoutes(api, requireAuth, handlers.NewDashboardHandler(deps.Dashboard))
	registerTicRoutes(api, requireAuth, handlers.NewTicHandler(deps.Tics))

	if cfg.Monitoring.Prometheus.Enabled {
		endpoint := strings.TrimSpace(cfg.Monitoring.Prometheus.Endpoint)
		if endpoint == "" {
			endpoint = "/metrics"
		}
		r.GET(endpoint, gin.WrapH(promhttp.Handler()))
	}

	// NotFound fallback
	r.NoRoute(middleware.NotFoundHandler)

	return r, nil
}
