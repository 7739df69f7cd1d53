package web

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/kozaktomas/voter-gate/internal/web/handlers"
	"github.com/kozaktomas/voter-gate/internal/web/middleware"
)

func (s *Server) setupRoutes() {
	apiKeys := middleware.NewKeySet(s.config.Server.APIKeys...)
	adminKeys := middleware.NewKeySet(s.config.Server.AdminAPIKeys...)
	if adminKeys.Empty() {
		// Without dedicated admin keys the client keys guard admin routes too.
		adminKeys = apiKeys
	}

	credentialsHandler := handlers.NewCredentialsHandler(s.service, s.log)
	identityHandler := handlers.NewIdentityHandler(s.service, s.service, s.log)
	votersHandler := handlers.NewVotersHandler(s.directory, s.log)

	// Health check (no auth required)
	s.router.Get("/health", handlers.HealthCheck)
	s.router.Get("/api/v1/health", handlers.HealthCheck)

	s.router.Route("/api/v1", func(r chi.Router) {
		// Verification flow, client API key
		r.Group(func(r chi.Router) {
			r.Use(middleware.RequireAPIKey(apiKeys, adminKeys))

			r.Post("/credentials/verify", credentialsHandler.Verify)
			r.Post("/credentials/otp", credentialsHandler.ConfirmOTP)
			r.Post("/identity/verify", identityHandler.Verify)
		})

		// Administration, admin API key
		r.Group(func(r chi.Router) {
			r.Use(middleware.RequireAPIKey(adminKeys))

			r.Post("/identity/enroll", identityHandler.Enroll)
			r.Get("/voters", votersHandler.List)
			r.Get("/voters/{identity}", votersHandler.Get)
		})

		// Ballot access, bearer token from a successful verification
		r.With(middleware.RequireBallotToken(s.tokens)).Get("/ballot/access", handlers.BallotAccess)
	})

	s.router.NotFound(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusNotFound)
		w.Write([]byte(`{"error":"not found"}` + "\n"))
	})
}
