package handlers

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// RegisterRoutes wires HTTP handlers into the provided ServeMux.
func RegisterRoutes(mux *http.ServeMux, deps Dependencies) {
	health := HealthHandler{Adapters: deps.Adapters, StartedAt: deps.StartedAt}
	animeHandler := AnimeHandler{Anime: deps.Anime, Validator: deps.Validator, Limiter: deps.Limiter}

	mux.HandleFunc("/healthz", health.Handle)
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/api/v1/anime", animeHandler.List)
	mux.HandleFunc("/api/v1/anime/search", animeHandler.Search)
	mux.HandleFunc("/api/v1/anime/schedule", animeHandler.Schedule)
	mux.HandleFunc("/api/v1/anime/cache/invalidate", animeHandler.Invalidate)
	mux.HandleFunc("/api/v1/anime/{id}", animeHandler.Detail)
}

// Dependencies aggregates collaborators required by HTTP handlers.
type Dependencies struct {
	Anime     AnimeService
	Validator Validator
	Limiter   RateLimiter
	Adapters  []string
	StartedAt time.Time
}
