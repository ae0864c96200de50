package gateway

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// buildRouter constructs the chi mux with all routes wired.
func (g *Gateway) buildRouter() http.Handler {
	r := chi.NewRouter()
	r.Use(g.metrics.middleware)

	// Public.
	r.Get("/health", g.handleHealth())

	// Webhooks carry their own HMAC auth per source.
	if len(g.config.Webhooks) > 0 {
		r.With(g.rateLimit).Post("/webhooks/{source}", g.handleWebhook())
	}

	if !g.config.Auth.IsConfigured() {
		return r
	}

	r.Group(func(r chi.Router) {
		r.Use(authMiddleware(g.config.Auth, g.logger))
		r.Get("/status", g.handleStatus())
		r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(g.registry, promhttp.HandlerOpts{}))

		r.Route("/api", func(r chi.Router) {
			r.With(g.rateLimit).Post("/episodes", g.handleSubmitEpisode())
			r.With(g.rateLimit).Post("/documents", g.handleSubmitDocument())

			r.Get("/pending", g.handleListPending())
			r.Post("/pending/{id}/confirm", g.handleConfirmPending())

			r.Get("/queues", g.handleQueueStats())
			r.Get("/queues/{group}", g.handleQueueStats())
			r.Get("/queues/{group}/jobs/{index}", g.handlePeekJob())

			r.Get("/groups", g.handleListGroups())
			r.Post("/groups", g.handleRegisterGroup())
			r.Get("/groups/{id}", g.handleGetGroup())
			r.Delete("/groups/{id}", g.handleDeleteGroup())

			r.Route("/telemetry", func(r chi.Router) {
				r.Get("/stats", g.handleTelemetryStats())
				r.Get("/errors", g.handleRecentErrors())
				r.Get("/errors/patterns", g.handleErrorPatterns())
				r.Get("/errors/{type}", g.handleEpisodesWithError())
				r.Get("/episodes/{identity}", g.handleTrace())
				r.Get("/search", g.handleSearch())
				r.Get("/steps", g.handleStepTimings())
				r.Get("/failed", g.handleFailedEpisodes())
				r.Delete("/", g.handlePurgeTelemetry())
			})

			r.Get("/jobs", g.handleListJobs())
			r.Post("/jobs/{name}/run", g.handleRunJob())

			r.Get("/events", g.handleEvents())
		})
	})

	return r
}
