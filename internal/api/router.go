// Package api provides the HTTP API for the callbridge daemon.
package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"github.com/callbridge/callbridge/internal/api/handler"
	"github.com/callbridge/callbridge/internal/api/middleware"
	"github.com/callbridge/callbridge/internal/api/models"
	"github.com/callbridge/callbridge/internal/auth"
	"github.com/callbridge/callbridge/internal/resilience"
)

// BridgeEndpoint is the websocket endpoint the host shell attaches to.
type BridgeEndpoint interface {
	http.Handler
	Connected() bool
}

// RouterConfig holds configuration for the router.
type RouterConfig struct {
	Version     string
	BuildTime   string
	Logger      zerolog.Logger
	ServiceName string
	Metrics     *middleware.Metrics
	RequireTLS  bool

	Tokens     middleware.TokenValidator
	Sessions   handler.SessionSource
	Connection handler.ConnectionSource
	Bridge     BridgeEndpoint
	PushTokens handler.TokenObserver
	TokenStore handler.TokenReader
	History    handler.HistorySource

	// Checks run on every readiness request, keyed by dependency name.
	Checks   map[string]handler.CheckFunc
	Commands *resilience.Registry
}

// NewRouter creates a new chi router with all API routes configured.
// Routes whose dependency is nil are not mounted.
func NewRouter(cfg RouterConfig) *chi.Mux {
	r := chi.NewRouter()

	serviceName := cfg.ServiceName
	if serviceName == "" {
		serviceName = "callbridged"
	}

	// Global middleware - order matters
	r.Use(middleware.RequestID)
	r.Use(middleware.Tracing(serviceName))
	if cfg.Metrics != nil {
		r.Use(cfg.Metrics.Middleware())
	}
	r.Use(middleware.Logger(cfg.Logger))
	r.Use(middleware.Recovery(cfg.Logger))
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.SecurityHeaders)
	r.Use(middleware.RequireTLS(cfg.RequireTLS))
	r.Use(middleware.ContentTypeJSON)

	r.NotFound(func(w http.ResponseWriter, req *http.Request) {
		p := models.NewNotFound(middleware.GetRequestID(req.Context()), "no route for "+req.Method+" "+req.URL.Path)
		p.Instance = req.URL.Path
		p.Write(w)
	})

	opsHandler := handler.NewOpsHandler(cfg.Version, cfg.BuildTime, cfg.Checks, cfg.Commands)

	var shellAuth, operatorAuth func(http.Handler) http.Handler
	if cfg.Tokens != nil {
		shellAuth = middleware.BridgeAuth(cfg.Tokens, auth.RoleShell)
		operatorAuth = middleware.BridgeAuth(cfg.Tokens, auth.RoleOperator)
	}
	subjectRateLimit := middleware.RateLimitBySubject(middleware.StandardRateLimit)

	r.Route("/v1", func(r chi.Router) {
		// Ops endpoints (public)
		r.Route("/ops", func(r chi.Router) {
			r.Get("/health", opsHandler.HealthCheck)
			r.Get("/ready", opsHandler.ReadinessCheck)
		})

		// Everything else needs a token.
		if cfg.Tokens == nil {
			return
		}

		if cfg.Bridge != nil {
			r.With(
				middleware.RateLimitByIP(middleware.BridgeRateLimit),
				shellAuth,
			).Get("/bridge", cfg.Bridge.ServeHTTP)
		}

		r.Group(func(r chi.Router) {
			r.Use(operatorAuth)
			r.Use(subjectRateLimit)

			if cfg.Sessions != nil {
				var bridge handler.BridgeSource
				if cfg.Bridge != nil {
					bridge = cfg.Bridge
				}
				callHandler := handler.NewCallHandler(cfg.Sessions, cfg.Connection, bridge)
				r.Get("/call", callHandler.GetCall)
			}

			if cfg.PushTokens != nil && cfg.TokenStore != nil {
				tokenHandler := handler.NewPushTokenHandler(cfg.PushTokens, cfg.TokenStore, cfg.Logger)
				r.Route("/push-token", func(r chi.Router) {
					r.Use(middleware.RateLimitBySubject(middleware.TokenRateLimit))
					r.Get("/", tokenHandler.GetToken)
					r.With(middleware.RequireJSON).Put("/", tokenHandler.PutToken)
					r.Delete("/", tokenHandler.DeleteToken)
				})
			}

			if cfg.History != nil {
				historyHandler := handler.NewHistoryHandler(cfg.History, cfg.Logger)
				r.Route("/calls/history", func(r chi.Router) {
					r.Get("/", historyHandler.ListCalls)
					r.Get("/{sessionId}", historyHandler.GetCall)
				})
			}
		})
	})

	return r
}
