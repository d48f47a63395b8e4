package handler

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/bunlongheng/cube-ai-be/internal/middleware"
	"github.com/bunlongheng/cube-ai-be/pkg/logger"
)

// RouterConfig wires handlers and middleware settings into a router.
type RouterConfig struct {
	Chat   *ChatHandler
	Load   *LoadHandler
	Health *HealthHandler
	Logger *logger.Logger

	// AuthJWTSecret enables bearer auth on the API routes when set.
	AuthJWTSecret      string
	CORSAllowedOrigins []string
	RateLimitRequests  int
	RateLimitWindow    time.Duration
	// StaticDir, when set, is served at the root.
	StaticDir string
}

// NewRouter builds the HTTP routes.
func NewRouter(cfg RouterConfig) http.Handler {
	r := chi.NewRouter()

	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)
	r.Use(middleware.Logging(cfg.Logger))
	r.Use(middleware.SecurityHeaders)
	r.Use(middleware.CORS(cfg.CORSAllowedOrigins))

	r.Get("/health", cfg.Health.Health)
	r.Get("/ready", cfg.Health.Ready)
	r.Handle("/metrics", promhttp.Handler())

	r.Group(func(r chi.Router) {
		if cfg.AuthJWTSecret != "" {
			r.Use(middleware.Auth(cfg.AuthJWTSecret))
		}
		if cfg.RateLimitRequests > 0 {
			r.Use(middleware.RateLimit(cfg.RateLimitRequests, cfg.RateLimitWindow))
		}

		r.Route("/chat", func(r chi.Router) {
			r.NotFound(notFound)
			r.MethodNotAllowed(notFound)

			r.Post("/", cfg.Chat.Chat)
			r.Post("/result", cfg.Chat.Result)
			r.Post("/sql", cfg.Chat.SQL)
			r.Post("/chart", cfg.Chat.Chart)
		})

		r.Get("/session", cfg.Chat.Session)

		if cfg.Load != nil {
			r.Post("/cube/load", cfg.Load.Load)
		}
	})

	if cfg.StaticDir != "" {
		r.Handle("/*", http.FileServer(http.Dir(cfg.StaticDir)))
	}

	return r
}

func notFound(w http.ResponseWriter, r *http.Request) {
	writeError(w, http.StatusNotFound, "Not found")
}
