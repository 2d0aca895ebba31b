package handlers

import (
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/animehub/backend/internal/anime"
	"github.com/animehub/backend/internal/auth"
	"github.com/animehub/backend/internal/logging"
	"github.com/animehub/backend/internal/models"
)

// AnimeHandler serves the browsing endpoints backed by the aggregator.
type AnimeHandler struct {
	Anime     AnimeService
	Validator Validator
	Limiter   RateLimiter
}

type listQuery struct {
	Page     int  `json:"page" validate:"min=1,max=10000"`
	PageSize int  `json:"pageSize" validate:"min=1,max=50"`
	Refresh  bool `json:"refresh"`
}

type searchQuery struct {
	Keyword string `json:"q" validate:"required"`
	Limit   int    `json:"limit" validate:"min=1,max=50"`
	Refresh bool   `json:"refresh"`
}

type scheduleQuery struct {
	Day     *int `json:"day" validate:"omitempty,min=1,max=7"`
	Refresh bool `json:"refresh"`
}

type pagination struct {
	Page           int  `json:"page"`
	PageSize       int  `json:"pageSize"`
	Count          int  `json:"count"`
	HasMore        bool `json:"hasMore"`
	EstimatedTotal int  `json:"estimatedTotal"`
}

type cacheMeta struct {
	FromCache bool      `json:"fromCache"`
	Stale     bool      `json:"stale"`
	FetchedAt time.Time `json:"fetchedAt"`
}

type listMeta struct {
	Pagination pagination `json:"pagination"`
	Cache      cacheMeta  `json:"cache"`
}

type resultMeta struct {
	Cache cacheMeta `json:"cache"`
}

type searchData struct {
	Keyword string                `json:"keyword"`
	Results []models.AnimeSummary `json:"results"`
	Count   int                   `json:"count"`
}

type scheduleData struct {
	Schedule []models.ScheduleEntry `json:"schedule"`
	Count    int                    `json:"count"`
	Day      *int                   `json:"day,omitempty"`
	DayName  string                 `json:"dayName,omitempty"`
}

// List handles GET /api/v1/anime.
func (h AnimeHandler) List(w http.ResponseWriter, r *http.Request) {
	if methodNotAllowed(w, r, http.MethodGet) || !allowRequest(w, r, h.Limiter, "anime") {
		return
	}
	q := r.URL.Query()
	var params listQuery
	var err error
	if params.Page, err = intParam(q, "page", 1); err != nil {
		respondServiceError(r.Context(), w, err)
		return
	}
	if params.PageSize, err = intParam(q, "pageSize", anime.DefaultPageSize); err != nil {
		respondServiceError(r.Context(), w, err)
		return
	}
	if params.Refresh, err = boolParam(q, "refresh"); err != nil {
		respondServiceError(r.Context(), w, err)
		return
	}
	if !h.validate(w, r, params) {
		return
	}

	res, err := h.Anime.AnimeList(r.Context(), params.Page, params.PageSize, params.Refresh)
	if err != nil {
		respondServiceError(r.Context(), w, err)
		return
	}
	items := nonNil(res.Data)
	respondData(r.Context(), w, items, listMeta{
		Pagination: paginate(params.Page, params.PageSize, len(items)),
		Cache:      cacheMetaOf(res.FromCache, res.Stale, res.FetchedAt),
	})
}

// Search handles GET /api/v1/anime/search.
func (h AnimeHandler) Search(w http.ResponseWriter, r *http.Request) {
	if methodNotAllowed(w, r, http.MethodGet) || !allowRequest(w, r, h.Limiter, "search") {
		return
	}
	q := r.URL.Query()
	params := searchQuery{Keyword: strings.TrimSpace(q.Get("q"))}
	var err error
	if params.Limit, err = intParam(q, "limit", anime.DefaultPageSize); err != nil {
		respondServiceError(r.Context(), w, err)
		return
	}
	if params.Refresh, err = boolParam(q, "refresh"); err != nil {
		respondServiceError(r.Context(), w, err)
		return
	}
	if !h.validate(w, r, params) {
		return
	}

	res, err := h.Anime.SearchAnime(r.Context(), params.Keyword, params.Limit, params.Refresh)
	if err != nil {
		respondServiceError(r.Context(), w, err)
		return
	}
	results := nonNil(res.Data)
	respondData(r.Context(), w, searchData{
		Keyword: params.Keyword,
		Results: results,
		Count:   len(results),
	}, resultMeta{Cache: cacheMetaOf(res.FromCache, res.Stale, res.FetchedAt)})
}

// Schedule handles GET /api/v1/anime/schedule.
func (h AnimeHandler) Schedule(w http.ResponseWriter, r *http.Request) {
	if methodNotAllowed(w, r, http.MethodGet) || !allowRequest(w, r, h.Limiter, "schedule") {
		return
	}
	q := r.URL.Query()
	var params scheduleQuery
	if raw := strings.TrimSpace(q.Get("day")); raw != "" {
		day, err := strconv.Atoi(raw)
		if err != nil {
			respondServiceError(r.Context(), w, &anime.ValidationError{Field: "day", Message: "must be an integer"})
			return
		}
		params.Day = &day
	}
	var err error
	if params.Refresh, err = boolParam(q, "refresh"); err != nil {
		respondServiceError(r.Context(), w, err)
		return
	}
	if !h.validate(w, r, params) {
		return
	}

	res, err := h.Anime.Schedule(r.Context(), params.Day, params.Refresh)
	if err != nil {
		respondServiceError(r.Context(), w, err)
		return
	}
	entries := nonNil(res.Data)
	data := scheduleData{Schedule: entries, Count: len(entries), Day: params.Day}
	if params.Day != nil {
		data.DayName = models.DayName(*params.Day)
	}
	respondData(r.Context(), w, data, resultMeta{Cache: cacheMetaOf(res.FromCache, res.Stale, res.FetchedAt)})
}

// Detail handles GET /api/v1/anime/{id}.
func (h AnimeHandler) Detail(w http.ResponseWriter, r *http.Request) {
	if methodNotAllowed(w, r, http.MethodGet) || !allowRequest(w, r, h.Limiter, "detail") {
		return
	}
	id := strings.TrimSpace(r.PathValue("id"))
	if id == "" {
		respondServiceError(r.Context(), w, &anime.ValidationError{Field: "id", Message: "is required"})
		return
	}
	refresh, err := boolParam(r.URL.Query(), "refresh")
	if err != nil {
		respondServiceError(r.Context(), w, err)
		return
	}

	res, err := h.Anime.AnimeDetail(r.Context(), id, refresh)
	if err != nil {
		respondServiceError(r.Context(), w, err)
		return
	}
	respondData(r.Context(), w, res.Data, resultMeta{Cache: cacheMetaOf(res.FromCache, res.Stale, res.FetchedAt)})
}

// Invalidate handles POST /api/v1/anime/cache/invalidate?key=... for
// authenticated operators.
func (h AnimeHandler) Invalidate(w http.ResponseWriter, r *http.Request) {
	if methodNotAllowed(w, r, http.MethodPost) {
		return
	}
	subject := auth.SubjectFromContext(r.Context())
	if subject == "" {
		respondError(r.Context(), w, http.StatusUnauthorized, codeUnauthorized, "authentication required")
		return
	}
	key := strings.TrimSpace(r.URL.Query().Get("key"))
	if err := h.Anime.Invalidate(r.Context(), key); err != nil {
		respondServiceError(r.Context(), w, err)
		return
	}
	logging.FromContext(r.Context()).Info("cache entry invalidated", "cache_key", key, "subject", subject)
	respondData(r.Context(), w, map[string]any{"key": key, "invalidated": true}, nil)
}

func (h AnimeHandler) validate(w http.ResponseWriter, r *http.Request, params any) bool {
	if h.Validator == nil {
		return true
	}
	if err := h.Validator.Validate(params); err != nil {
		respondServiceError(r.Context(), w, err)
		return false
	}
	return true
}

// paginate keeps the upstream-agnostic estimate: a full page implies at least
// one more item.
func paginate(page, pageSize, count int) pagination {
	p := pagination{Page: page, PageSize: pageSize, Count: count, HasMore: count >= pageSize}
	if p.HasMore {
		p.EstimatedTotal = page*pageSize + 1
	} else {
		p.EstimatedTotal = (page-1)*pageSize + count
	}
	return p
}

func cacheMetaOf(fromCache, stale bool, fetchedAt time.Time) cacheMeta {
	return cacheMeta{FromCache: fromCache, Stale: stale, FetchedAt: fetchedAt.UTC()}
}

func intParam(q url.Values, name string, fallback int) (int, error) {
	raw := strings.TrimSpace(q.Get(name))
	if raw == "" {
		return fallback, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, &anime.ValidationError{Field: name, Message: "must be an integer"}
	}
	return v, nil
}

func boolParam(q url.Values, name string) (bool, error) {
	raw := strings.TrimSpace(q.Get(name))
	if raw == "" {
		return false, nil
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return false, &anime.ValidationError{Field: name, Message: "must be a boolean"}
	}
	return v, nil
}

func nonNil[T any](items []T) []T {
	if items == nil {
		return []T{}
	}
	return items
}
