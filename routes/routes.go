package routes

import (
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/upb/sensor-gateway/app"
	"github.com/upb/sensor-gateway/handlers"
	"github.com/upb/sensor-gateway/internal/observability"
	"github.com/upb/sensor-gateway/middleware"
	"github.com/upb/sensor-gateway/utils"
)

// handlerTimeout bounds the gateway's own endpoints. Proxied routes are
// bounded by the upstream timeout instead so WebSocket sessions stay open.
const handlerTimeout = 30 * time.Second

// SetupRoutes configures all application routes and middleware
func SetupRoutes(deps *app.Dependencies) http.Handler {
	r := chi.NewRouter()
	cfg := deps.Config

	// Core middleware
	accessLog := middleware.NewAccessLogMiddleware(deps.Logger)
	r.Use(middleware.Correlation)
	r.Use(accessLog.Log)
	r.Use(accessLog.Recover)
	if cfg.Observability.MetricsEnabled {
		r.Use(observability.MetricsMiddleware)
	}

	// CORS middleware
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.Security.CORSAllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", middleware.CorrelationHeader},
		ExposedHeaders:   []string{middleware.CorrelationHeader, "X-RateLimit-Limit", "X-RateLimit-Remaining", "X-RateLimit-Reset", "Retry-After"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	// Security pipeline
	r.Use(deps.Pipeline.Handler)

	// Health check endpoints
	health := handlers.NewHealthHandler(deps.ReadinessChecks(), deps.Logger)
	r.Get("/healthz", health.HandleHealth)
	r.Get("/readyz", health.HandleReadiness)

	if cfg.Observability.MetricsEnabled {
		r.Handle("/metrics", promhttp.Handler())
	}

	auth := handlers.NewAuthHandler(handlers.AuthHandlerDeps{
		Principals:    deps.Subjects,
		Tokens:        deps.Tokens,
		Verifier:      deps.Pipeline,
		Revocation:    deps.Revocation,
		Lockout:       deps.Lockout,
		Audit:         deps.Audit,
		LookupTimeout: cfg.Security.Revocation.LookupTimeout,
	}, deps.Logger)
	identity := handlers.NewIdentityHandler(deps.Audit, deps.Logger)

	r.Group(func(r chi.Router) {
		r.Use(chimw.Timeout(handlerTimeout))

		r.Route("/api/auth", func(r chi.Router) {
			r.Post("/login", auth.HandleLogin)
			r.Post("/refresh", auth.HandleRefresh)
			r.Post("/logout", auth.HandleLogout)
		})

		r.Get("/api/me", identity.HandleMe)
		r.Get("/api/admin/security-events", identity.HandleListSecurityEvents)
	})

	// Everything else under /api and the live feed belongs to the sensor API
	r.Handle("/api/*", deps.Proxy)
	if ws := cfg.Security.WebSocketPath; ws != "" {
		r.Handle(ws, deps.Proxy)
		r.Handle(strings.TrimRight(ws, "/")+"/*", deps.Proxy)
	}

	// 404 handler
	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		_ = utils.WriteError(w, http.StatusNotFound, "not_found", "endpoint not found", nil)
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		_ = utils.WriteError(w, http.StatusMethodNotAllowed, "method_not_allowed", "method not allowed", nil)
	})

	return r
}
