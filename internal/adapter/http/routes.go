package http

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/Strob0t/ImageForge/internal/config"
	"github.com/Strob0t/ImageForge/internal/middleware"
)

// MountRoutes registers all API routes on the given chi router.
func MountRoutes(r chi.Router, h *Handlers, mjCfg config.Midjourney) {
	// Provider callbacks (outside the API group, token-verified)
	r.Route("/webhooks", func(r chi.Router) {
		r.With(middleware.WebhookToken(mjCfg.CallbackToken, "mj-api-secret")).
			Post("/midjourney", h.HandleMidjourneyCallback)
	})

	r.Route("/api/v1", func(r chi.Router) {
		// Version
		r.Get("/", func(w http.ResponseWriter, _ *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{"version":"0.1.0"}`))
		})

		// Generations
		r.Post("/generations", h.CreateGeneration)
		r.Get("/generations", h.ListGenerations)
		r.Get("/generations/{id}", h.GetGeneration)
		r.Get("/generations/{id}/events", h.ListGenerationEvents)
		r.Delete("/generations/{id}", h.CancelGeneration)

		// Providers
		r.Get("/providers", h.ListProviders)
		r.Get("/providers/midjourney/accounts", h.ListMidjourneyAccounts)
	})
}
