// Package api wires the HTTP routes of the session service.
package api

import (
	"net/http"

	"github.com/Rrens/lean-coffee/internal/api/handler"
	customMiddleware "github.com/Rrens/lean-coffee/internal/api/middleware"
	"github.com/Rrens/lean-coffee/internal/config"
	"github.com/Rrens/lean-coffee/internal/realtime"
	"github.com/Rrens/lean-coffee/internal/security"
	"github.com/Rrens/lean-coffee/internal/service"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// Dependencies are the components the router exposes. Limiter and
// BoardCache are optional.
type Dependencies struct {
	Commands   *service.CommandService
	Devices    *service.DeviceService
	Hub        *realtime.Hub
	JWT        *security.JWTManager
	Limiter    customMiddleware.Limiter
	BoardCache handler.BoardFlusher
	Ready      map[string]handler.Pinger
}

// NewRouter creates and configures the HTTP router
func NewRouter(cfg *config.Config, deps Dependencies) http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(customMiddleware.Logger)
	r.Use(middleware.Recoverer)

	// CORS
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.Server.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders:   []string{"X-Request-ID", "X-RateLimit-Remaining", "X-RateLimit-Reset"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	// Initialize handlers
	sessionHandler := handler.NewSessionHandler(deps.Commands)
	topicHandler := handler.NewTopicHandler(deps.Commands)
	deviceHandler := handler.NewDeviceHandler(deps.Devices)
	wsHandler := handler.NewWebSocketHandler(
		deps.Commands,
		deps.Hub,
		realtime.Options{
			SendBuffer: cfg.Realtime.SendBuffer,
			ReadLimit:  cfg.Realtime.ReadLimit,
			PingPeriod: cfg.Realtime.PingPeriod,
			WriteWait:  cfg.Realtime.WriteWait,
		},
		cfg.Realtime.CommandTimeout,
		cfg.Server.AllowedOrigins,
	)

	// Auth middleware
	authMiddleware := customMiddleware.NewAuthMiddleware(deps.JWT)

	r.Route("/api/v1", func(r chi.Router) {
		// Health check
		r.Get("/health", handler.HealthCheck)
		r.Get("/ready", handler.ReadyCheck(deps.Ready))

		// Websocket connections are long lived and stay outside the
		// request timeout and the rate limiter
		r.With(authMiddleware.Authenticate).Get("/ws", wsHandler.ServeHTTP)

		// Protected routes
		r.Group(func(r chi.Router) {
			r.Use(middleware.Timeout(cfg.Server.MiddlewareTimeout))
			r.Use(authMiddleware.Authenticate)
			if deps.Limiter != nil {
				r.Use(customMiddleware.NewRateLimitMiddleware(deps.Limiter).Limit)
			}

			// Cache management
			if deps.BoardCache != nil {
				r.Post("/cache/flush", handler.FlushBoards(deps.BoardCache))
			}

			// Session routes
			r.Route("/sessions", func(r chi.Router) {
				r.Get("/", sessionHandler.List)
				r.Post("/", sessionHandler.Create)

				r.Route("/{sessionID}", func(r chi.Router) {
					r.Get("/", sessionHandler.Get)
					r.Get("/board", sessionHandler.Board)
					r.Post("/start", sessionHandler.Start)
					r.Put("/status", sessionHandler.SetStatus)
					r.Post("/close", sessionHandler.Close)
					r.Post("/next-topic", sessionHandler.NextTopic)

					r.Post("/join", sessionHandler.Join)
					r.Post("/leave", sessionHandler.Leave)
					r.Get("/participants", sessionHandler.ListParticipants)
					r.Post("/participants", sessionHandler.AddParticipant)
					r.Delete("/participants/{userID}", sessionHandler.RemoveParticipant)

					r.Post("/topics", topicHandler.Create)
					r.Put("/topics/{topicID}", topicHandler.Update)

					r.Get("/votes", sessionHandler.ListVotes)
					r.Get("/notes", sessionHandler.ListNotes)
					r.Post("/notes", sessionHandler.StoreNote)

					r.Post("/push", deviceHandler.Subscribe)
					r.Delete("/push", deviceHandler.Unsubscribe)
				})
			})

			// Topic routes
			r.Route("/topics/{topicID}", func(r chi.Router) {
				r.Delete("/", topicHandler.Delete)
				r.Put("/status", topicHandler.SetStatus)
				r.Post("/votes", topicHandler.CastVote)
				r.Delete("/votes", topicHandler.RemoveVote)
			})

			// Device routes
			r.Route("/devices", func(r chi.Router) {
				r.Post("/", deviceHandler.Register)
				r.Post("/deactivate", deviceHandler.Deactivate)
			})
		})
	})

	return r
}
