package handlers

import (
	"context"
	"time"

	"github.com/animehub/backend/internal/anime"
	"github.com/animehub/backend/internal/models"
)

// AnimeService captures the aggregation operations served over HTTP.
type AnimeService interface {
	AnimeList(ctx context.Context, page, pageSize int, forceRefresh bool) (anime.Result[[]models.AnimeSummary], error)
	SearchAnime(ctx context.Context, keyword string, limit int, forceRefresh bool) (anime.Result[[]models.AnimeSummary], error)
	Schedule(ctx context.Context, day *int, forceRefresh bool) (anime.Result[[]models.ScheduleEntry], error)
	AnimeDetail(ctx context.Context, id string, forceRefresh bool) (anime.Result[models.AnimeSummary], error)
	Invalidate(ctx context.Context, key string) error
}

// RateLimiter is the minimal interface required to guard public endpoints.
type RateLimiter interface {
	Allow(key string) (bool, time.Duration)
}

// Validator checks parsed query parameters.
type Validator interface {
	Validate(v any) error
}
