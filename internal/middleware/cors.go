package middleware

import (
	"net/http"

	"github.com/go-chi/cors"
)

// CORS returns a CORS middleware allowing the given origins.
func CORS(origins []string) func(http.Handler) http.Handler {
	return cors.Handler(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Requested-With", "X-User-Email", "X-Request-Id", "X-Correlation-ID"},
		ExposedHeaders:   []string{"X-Correlation-ID", "X-Chat-Id"},
		AllowCredentials: true,
		MaxAge:           300,
	})
}
