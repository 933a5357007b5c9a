package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"restaurant-verify/internal/config"
	"restaurant-verify/internal/util"
)

// requireHTTPS rejects any request that wasn’t made over TLS
func requireHTTPS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.TLS == nil {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusUpgradeRequired) // 426
			w.Write([]byte(`{"error":"https required"}`))
			return
		}
		next.ServeHTTP(w, r)
	})
}

// HealthReporter exposes collaborator health for the health endpoint.
// The factory implements it. Returned keys are collaborator names that
// failed their probe; RequiredCollaborator reports whether a failed
// name should fail readiness rather than just degrade it.
type HealthReporter interface {
	HealthCheck(ctx context.Context) map[string]error
	RequiredCollaborator(name string) bool
}

// NewRouter creates and configures the Chi router with all middleware
// and routes. Admin routes register only when an admin key is set.
func NewRouter(cfg *config.Config, verificationHandler *VerificationHandler, adminHandler *AdminHandler, health HealthReporter, logger *zap.Logger) chi.Router {
	router := chi.NewRouter()

	if cfg.Server.EnableTLS {
		router.Use(requireHTTPS)
	}

	// Middleware stack
	router.Use(middleware.RequestID)
	router.Use(middleware.RealIP)
	router.Use(LoggerMiddleware(logger))
	router.Use(middleware.Recoverer)
	router.Use(middleware.Timeout(60 * time.Second))

	// CORS configuration
	router.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"https://*"},
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Admin-Key"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	// Health check endpoint
	router.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if health == nil {
			w.WriteHeader(http.StatusOK)
			w.Write([]byte(`{"status":"healthy","service":"restaurant-verify"}`))
			return
		}

		ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
		defer cancel()

		failures := health.HealthCheck(ctx)
		collaborators := make(map[string]string, len(failures))
		unhealthy := false
		for name, err := range failures {
			collaborators[name] = err.Error()
			if health.RequiredCollaborator(name) {
				unhealthy = true
			}
		}

		body := map[string]interface{}{
			"status":  "healthy",
			"service": "restaurant-verify",
		}
		statusCode := http.StatusOK
		if len(collaborators) > 0 {
			body["degraded"] = collaborators
			body["status"] = "degraded"
		}
		if unhealthy {
			body["status"] = "unhealthy"
			statusCode = http.StatusServiceUnavailable
		}
		w.WriteHeader(statusCode)
		json.NewEncoder(w).Encode(body)
	})

	// API routes
	router.Route("/api/v1", func(r chi.Router) {
		verificationHandler.RegisterRoutes(r)
		if adminHandler != nil && cfg.Admin.APIKey != "" {
			adminHandler.RegisterRoutes(r)
		}
	})

	// 404 handler
	router.NotFound(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusNotFound)
		w.Write([]byte(`{"error":"endpoint not found"}`))
	})

	// Method not allowed handler
	router.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusMethodNotAllowed)
		w.Write([]byte(`{"error":"method not allowed"}`))
	})

	return router
}

// LoggerMiddleware creates a middleware that logs HTTP requests
func LoggerMiddleware(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			defer func() {
				logger.Info("HTTP request",
					util.String("method", r.Method),
					util.String("path", r.URL.Path),
					util.String("remote_addr", r.RemoteAddr),
					util.Int("status", ww.Status()),
					util.Duration("duration", time.Since(start)),
					util.String("user_agent", r.UserAgent()),
				)
			}()
			next.ServeHTTP(ww, r)
		})
	}
}
