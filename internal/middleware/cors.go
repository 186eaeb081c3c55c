// Package middleware provides HTTP middleware for the companion API.
package middleware

import (
	"net/http"

	"github.com/go-chi/cors"
)

// CORS returns middleware that handles CORS headers for allowedOrigins.
// Credentials are only allowed when no wildcard origin is configured.
func CORS(allowedOrigins []string) func(http.Handler) http.Handler {
	wildcard := false
	for _, o := range allowedOrigins {
		if o == "*" {
			wildcard = true
			break
		}
	}
	return cors.Handler(cors.Options{
		AllowedOrigins:   allowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Content-Type", "X-Companion-Device-ID"},
		ExposedHeaders:   []string{"X-Companion-Device-ID", "Retry-After"},
		AllowCredentials: !wildcard,
		MaxAge:           300,
	})
}
