package handler

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/talentgrid/entitlements/internal/auth"
	"github.com/talentgrid/entitlements/internal/middleware"
	"github.com/talentgrid/entitlements/internal/model"
)

// RouterConfig carries everything the router mounts.
type RouterConfig struct {
	Logger *slog.Logger

	Credits       *CreditHandler
	Notifications *NotificationHandler
	Push          *PushHandler
	Health        *HealthHandler
	// Metrics serves /metrics; nil leaves the route unmounted.
	Metrics http.Handler

	ServiceKeys        *auth.KeySet
	ConnectLimit       middleware.RateLimitConfig
	CORSAllowedOrigins []string
	MaxRequestBodySize int64
	IsDevelopment      bool
}

// NewRouter builds the chi router with all routes and middleware.
func NewRouter(cfg RouterConfig) *chi.Mux {
	h := New()
	r := chi.NewRouter()

	r.Use(chimiddleware.RealIP)
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger(cfg.Logger))
	r.Use(middleware.Recoverer(cfg.Logger, cfg.IsDevelopment))
	r.Use(middleware.Security(middleware.SecurityConfig{IsDevelopment: cfg.IsDevelopment}))

	corsCfg := middleware.DefaultCORSConfig()
	corsCfg.AllowedOrigins = cfg.CORSAllowedOrigins
	r.Use(middleware.CORS(corsCfg))

	r.Get("/", h.Info)
	r.Get("/healthz", cfg.Health.Healthz)
	r.Get("/readyz", cfg.Health.Readyz)
	if cfg.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", cfg.Metrics)
	}

	serviceKey := middleware.ServiceKey(middleware.ServiceKeyConfig{
		Logger: cfg.Logger,
		Keys:   cfg.ServiceKeys,
	})
	bodyLimit := middleware.MaxBodySize(cfg.MaxRequestBodySize)
	session := middleware.Session(cfg.Logger)

	// Collaborator calls: billing, messaging and the user directory.
	r.Group(func(r chi.Router) {
		r.Use(serviceKey)
		r.Use(bodyLimit)

		r.Post("/credits/grant", cfg.Credits.Grant)
		r.Post("/credits/consume", cfg.Credits.Consume)
		r.Put("/credits/balance", cfg.Credits.SetBalance)
		r.Post("/plans/{planId}/cancel", cfg.Credits.CancelPlan)

		r.Post("/notifications/messages", cfg.Notifications.CreateMessage)
		r.Delete("/notifications/messages/{messageId}", cfg.Notifications.DeleteMessage)
		r.Put("/principals/{principalId}", cfg.Notifications.UpsertPrincipal)
	})

	// Dashboard calls, authenticated upstream.
	r.Group(func(r chi.Router) {
		r.Use(session)

		r.With(middleware.RequireTenant()).Get("/credits/balance", cfg.Credits.Balance)
		r.With(middleware.RequireTenant()).Get("/plans", cfg.Credits.ListPlans)

		r.With(middleware.RequireRole(model.NotifiedRoles...)).Get("/notifications/unseen", cfg.Notifications.Unseen)
		r.With(middleware.RequireRole(model.NotifiedRoles...)).Put("/notifications/mark-seen", cfg.Notifications.MarkSeen)

		r.With(middleware.RateLimitConnect(cfg.ConnectLimit)).Get("/ws", cfg.Push.Connect)
	})

	r.NotFound(h.NotFound)
	r.MethodNotAllowed(h.MethodNotAllowed)

	return r
}
