package http

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/atinyakov/glucosync/internal/middleware"
)

// NewRouter constructs the HTTP handler of the glucosync API.
//
// Routes:
//
//	GET    /healthz                  → liveness probe
//	POST   /v1/auth/register         → authHandler.Register
//	POST   /v1/auth/login            → authHandler.Login
//	POST   /v1/auth/password-reset   → authHandler.PasswordReset
//	DELETE /v1/auth/account          → authHandler.DeleteAccount      (bearer)
//	GET    /v1/measurements          → measurementHandler.List        (bearer)
//	POST   /v1/measurements          → measurementHandler.Create      (bearer)
//	DELETE /v1/measurements/{id}     → measurementHandler.Delete      (bearer)
//
// Middleware chain (applied in order):
//  1. RequestID and Recoverer
//  2. WithRequestLogging(logger)
//  3. AllowContentType("application/json") on the /v1 routes
//  4. BearerAuth(authenticator) on the protected group
func NewRouter(
	authHandler *AuthHandler,
	measurementHandler *MeasurementHandler,
	authenticator middleware.Authenticator,
	logger *zap.Logger,
) http.Handler {
	r := chi.NewRouter()

	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.Recoverer)
	r.Use(middleware.WithRequestLogging(logger))

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		_, _ = w.Write([]byte("ok"))
	})

	r.Route("/v1", func(r chi.Router) {
		r.Use(chiMiddleware.AllowContentType("application/json"))

		r.Post("/auth/register", authHandler.Register)
		r.Post("/auth/login", authHandler.Login)
		r.Post("/auth/password-reset", authHandler.PasswordReset)

		r.Group(func(r chi.Router) {
			r.Use(middleware.BearerAuth(authenticator))

			r.Delete("/auth/account", authHandler.DeleteAccount)
			r.Get("/measurements", measurementHandler.List)
			r.Post("/measurements", measurementHandler.Create)
			r.Delete("/measurements/{id}", measurementHandler.Delete)
		})
	})

	return r
}
