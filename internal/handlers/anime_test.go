package handlers

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	json "github.com/goccy/go-json"

	"github.com/animehub/backend/internal/anime"
	"github.com/animehub/backend/internal/auth"
	"github.com/animehub/backend/internal/models"
	"github.com/animehub/backend/internal/validation"
)

var fetchedAt = time.Date(2024, 4, 1, 12, 0, 0, 0, time.UTC)

type stubAnimeService struct {
	listFn     func(page, pageSize int, force bool) (anime.Result[[]models.AnimeSummary], error)
	searchFn   func(keyword string, limit int, force bool) (anime.Result[[]models.AnimeSummary], error)
	scheduleFn func(day *int, force bool) (anime.Result[[]models.ScheduleEntry], error)
	detailFn   func(id string, force bool) (anime.Result[models.AnimeSummary], error)
	invalidate func(key string) error
	calls      int
}

func (s *stubAnimeService) AnimeList(_ context.Context, page, pageSize int, force bool) (anime.Result[[]models.AnimeSummary], error) {
	s.calls++
	return s.listFn(page, pageSize, force)
}

func (s *stubAnimeService) SearchAnime(_ context.Context, keyword string, limit int, force bool) (anime.Result[[]models.AnimeSummary], error) {
	s.calls++
	return s.searchFn(keyword, limit, force)
}

func (s *stubAnimeService) Schedule(_ context.Context, day *int, force bool) (anime.Result[[]models.ScheduleEntry], error) {
	s.calls++
	return s.scheduleFn(day, force)
}

func (s *stubAnimeService) AnimeDetail(_ context.Context, id string, force bool) (anime.Result[models.AnimeSummary], error) {
	s.calls++
	return s.detailFn(id, force)
}

func (s *stubAnimeService) Invalidate(_ context.Context, key string) error {
	s.calls++
	return s.invalidate(key)
}

type denyLimiter struct{}

func (denyLimiter) Allow(string) (bool, time.Duration) { return false, 1500 * time.Millisecond }

type testEnvelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Meta    json.RawMessage `json:"meta"`
	Error   *apiError       `json:"error"`
}

func serve(t *testing.T, svc AnimeService, limiter RateLimiter, req *http.Request) (*httptest.ResponseRecorder, testEnvelope) {
	t.Helper()
	mux := http.NewServeMux()
	RegisterRoutes(mux, Dependencies{Anime: svc, Validator: validation.New(), Limiter: limiter})
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	var env testEnvelope
	if err := json.Unmarshal(rec.Body.Bytes(), &env); err != nil {
		t.Fatalf("decode envelope: %v (body %s)", err, rec.Body.String())
	}
	return rec, env
}

func summaries(n int) []models.AnimeSummary {
	out := make([]models.AnimeSummary, n)
	for i := range out {
		out[i] = models.AnimeSummary{ID: fmt.Sprintf("anilist:%d", i+1), Title: fmt.Sprintf("Show %d", i+1)}
	}
	return out
}

func TestListReturnsPaginationAndCacheMeta(t *testing.T) {
	svc := &stubAnimeService{listFn: func(page, pageSize int, force bool) (anime.Result[[]models.AnimeSummary], error) {
		if page != 2 || pageSize != 3 || !force {
			t.Fatalf("unexpected arguments page=%d size=%d force=%v", page, pageSize, force)
		}
		return anime.Result[[]models.AnimeSummary]{Data: summaries(3), FromCache: true, Stale: true, FetchedAt: fetchedAt}, nil
	}}

	rec, env := serve(t, svc, nil, httptest.NewRequest(http.MethodGet, "/api/v1/anime?page=2&pageSize=3&refresh=true", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200 got %d", rec.Code)
	}
	var items []models.AnimeSummary
	if err := json.Unmarshal(env.Data, &items); err != nil || len(items) != 3 {
		t.Fatalf("expected 3 items got %s (%v)", env.Data, err)
	}
	var meta listMeta
	if err := json.Unmarshal(env.Meta, &meta); err != nil {
		t.Fatalf("decode meta: %v", err)
	}
	want := pagination{Page: 2, PageSize: 3, Count: 3, HasMore: true, EstimatedTotal: 7}
	if meta.Pagination != want {
		t.Fatalf("expected pagination %+v got %+v", want, meta.Pagination)
	}
	if !meta.Cache.Stale || !meta.Cache.FromCache || !meta.Cache.FetchedAt.Equal(fetchedAt) {
		t.Fatalf("unexpected cache meta %+v", meta.Cache)
	}
}

func TestListDefaultsAndEmptyData(t *testing.T) {
	svc := &stubAnimeService{listFn: func(page, pageSize int, _ bool) (anime.Result[[]models.AnimeSummary], error) {
		if page != 1 || pageSize != anime.DefaultPageSize {
			t.Fatalf("expected defaults got page=%d size=%d", page, pageSize)
		}
		return anime.Result[[]models.AnimeSummary]{}, nil
	}}

	_, env := serve(t, svc, nil, httptest.NewRequest(http.MethodGet, "/api/v1/anime", nil))

	if string(env.Data) != "[]" {
		t.Fatalf("expected an empty array got %s", env.Data)
	}
	var meta listMeta
	_ = json.Unmarshal(env.Meta, &meta)
	if meta.Pagination.HasMore || meta.Pagination.EstimatedTotal != 0 {
		t.Fatalf("unexpected pagination %+v", meta.Pagination)
	}
}

func TestListRejectsInvalidParameters(t *testing.T) {
	cases := map[string]string{
		"zero page":      "/api/v1/anime?page=0",
		"oversized page": "/api/v1/anime?pageSize=51",
		"page too far":   "/api/v1/anime?page=4611686018427387904",
		"non numeric":    "/api/v1/anime?page=abc",
		"bad refresh":    "/api/v1/anime?refresh=maybe",
	}
	for name, target := range cases {
		t.Run(name, func(t *testing.T) {
			svc := &stubAnimeService{}
			rec, env := serve(t, svc, nil, httptest.NewRequest(http.MethodGet, target, nil))
			if rec.Code != http.StatusBadRequest {
				t.Fatalf("expected status 400 got %d", rec.Code)
			}
			if env.Success || env.Error == nil || env.Error.Code != codeInvalidParameter {
				t.Fatalf("unexpected envelope %+v", env)
			}
			if svc.calls != 0 {
				t.Fatalf("expected no service calls got %d", svc.calls)
			}
		})
	}
}

func TestSearchTrimsKeyword(t *testing.T) {
	svc := &stubAnimeService{searchFn: func(keyword string, limit int, _ bool) (anime.Result[[]models.AnimeSummary], error) {
		if keyword != "frieren" || limit != 5 {
			t.Fatalf("unexpected arguments %q %d", keyword, limit)
		}
		return anime.Result[[]models.AnimeSummary]{Data: summaries(2), FetchedAt: fetchedAt}, nil
	}}

	rec, env := serve(t, svc, nil, httptest.NewRequest(http.MethodGet, "/api/v1/anime/search?q=%20frieren%20&limit=5", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200 got %d", rec.Code)
	}
	var data searchData
	if err := json.Unmarshal(env.Data, &data); err != nil {
		t.Fatalf("decode data: %v", err)
	}
	if data.Keyword != "frieren" || data.Count != 2 || len(data.Results) != 2 {
		t.Fatalf("unexpected search data %+v", data)
	}
}

func TestSearchRequiresKeyword(t *testing.T) {
	svc := &stubAnimeService{}
	rec, env := serve(t, svc, nil, httptest.NewRequest(http.MethodGet, "/api/v1/anime/search?q=%20%20", nil))

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400 got %d", rec.Code)
	}
	if env.Error == nil || env.Error.Message != "q is required" {
		t.Fatalf("unexpected error %+v", env.Error)
	}
	if svc.calls != 0 {
		t.Fatalf("expected no service calls got %d", svc.calls)
	}
}

func TestScheduleForOneDay(t *testing.T) {
	svc := &stubAnimeService{scheduleFn: func(day *int, _ bool) (anime.Result[[]models.ScheduleEntry], error) {
		if day == nil || *day != 3 {
			t.Fatalf("expected day 3 got %v", day)
		}
		return anime.Result[[]models.ScheduleEntry]{Data: []models.ScheduleEntry{
			{AnimeID: "bilibili:1", Title: "Show", DayOfWeek: 3, AirTime: "21:30", Platform: "Bilibili"},
		}}, nil
	}}

	_, env := serve(t, svc, nil, httptest.NewRequest(http.MethodGet, "/api/v1/anime/schedule?day=3", nil))

	var data scheduleData
	if err := json.Unmarshal(env.Data, &data); err != nil {
		t.Fatalf("decode data: %v", err)
	}
	if data.Count != 1 || data.Day == nil || *data.Day != 3 || data.DayName != "Wednesday" {
		t.Fatalf("unexpected schedule data %+v", data)
	}
}

func TestScheduleWholeWeekOmitsDay(t *testing.T) {
	svc := &stubAnimeService{scheduleFn: func(day *int, _ bool) (anime.Result[[]models.ScheduleEntry], error) {
		if day != nil {
			t.Fatalf("expected no day got %d", *day)
		}
		return anime.Result[[]models.ScheduleEntry]{}, nil
	}}

	_, env := serve(t, svc, nil, httptest.NewRequest(http.MethodGet, "/api/v1/anime/schedule", nil))

	if string(env.Data) != `{"schedule":[],"count":0}` {
		t.Fatalf("unexpected schedule body %s", env.Data)
	}
}

func TestScheduleRejectsInvalidDay(t *testing.T) {
	for _, day := range []string{"0", "8", "monday"} {
		svc := &stubAnimeService{}
		rec, _ := serve(t, svc, nil, httptest.NewRequest(http.MethodGet, "/api/v1/anime/schedule?day="+day, nil))
		if rec.Code != http.StatusBadRequest {
			t.Fatalf("day %s: expected status 400 got %d", day, rec.Code)
		}
		if svc.calls != 0 {
			t.Fatalf("day %s: expected no service calls", day)
		}
	}
}

func TestDetailMapsServiceErrors(t *testing.T) {
	cases := []struct {
		name   string
		err    error
		status int
		code   string
	}{
		{"not found", anime.ErrNotFound, http.StatusNotFound, codeNotFound},
		{"all failed", fmt.Errorf("detail: %w", anime.ErrAllProvidersFailed), http.StatusBadGateway, codeUpstream},
		{"validation", &anime.ValidationError{Field: "id", Message: "must not be empty"}, http.StatusBadRequest, codeInvalidParameter},
		{"unexpected", errors.New("boom"), http.StatusInternalServerError, codeInternal},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			svc := &stubAnimeService{detailFn: func(string, bool) (anime.Result[models.AnimeSummary], error) {
				return anime.Result[models.AnimeSummary]{}, tc.err
			}}
			rec, env := serve(t, svc, nil, httptest.NewRequest(http.MethodGet, "/api/v1/anime/anilist:1", nil))
			if rec.Code != tc.status {
				t.Fatalf("expected status %d got %d", tc.status, rec.Code)
			}
			if env.Error == nil || env.Error.Code != tc.code {
				t.Fatalf("unexpected error %+v", env.Error)
			}
		})
	}
}

func TestDetailHidesUpstreamDetails(t *testing.T) {
	svc := &stubAnimeService{detailFn: func(string, bool) (anime.Result[models.AnimeSummary], error) {
		return anime.Result[models.AnimeSummary]{}, fmt.Errorf("tmdb detail: HTTP 503: secret-host: %w", anime.ErrAllProvidersFailed)
	}}
	_, env := serve(t, svc, nil, httptest.NewRequest(http.MethodGet, "/api/v1/anime/tmdb:1", nil))
	if env.Error == nil || env.Error.Message != "anime data is temporarily unavailable" {
		t.Fatalf("expected a generic message got %+v", env.Error)
	}
}

func TestDetailPassesPathID(t *testing.T) {
	svc := &stubAnimeService{detailFn: func(id string, force bool) (anime.Result[models.AnimeSummary], error) {
		if id != "tmdb:42" || force {
			t.Fatalf("unexpected arguments %q %v", id, force)
		}
		return anime.Result[models.AnimeSummary]{Data: models.AnimeSummary{ID: id, Title: "Answer"}}, nil
	}}
	rec, env := serve(t, svc, nil, httptest.NewRequest(http.MethodGet, "/api/v1/anime/tmdb:42", nil))
	if rec.Code != http.StatusOK || !env.Success {
		t.Fatalf("expected success got %d %+v", rec.Code, env)
	}
}

func TestNonGetIsRejected(t *testing.T) {
	svc := &stubAnimeService{}
	rec, env := serve(t, svc, nil, httptest.NewRequest(http.MethodPost, "/api/v1/anime", nil))
	if rec.Code != http.StatusMethodNotAllowed || env.Error.Code != codeMethod {
		t.Fatalf("expected 405 got %d %+v", rec.Code, env.Error)
	}
}

func TestRateLimitedCallerGets429(t *testing.T) {
	svc := &stubAnimeService{}
	rec, env := serve(t, svc, denyLimiter{}, httptest.NewRequest(http.MethodGet, "/api/v1/anime", nil))
	if rec.Code != http.StatusTooManyRequests || env.Error.Code != codeRateLimited {
		t.Fatalf("expected 429 got %d", rec.Code)
	}
	if got := rec.Header().Get("Retry-After"); got != "2" {
		t.Fatalf("expected Retry-After 2 got %q", got)
	}
	if svc.calls != 0 {
		t.Fatalf("expected no service calls got %d", svc.calls)
	}
}

func TestInvalidateRequiresSubject(t *testing.T) {
	var invalidated string
	svc := &stubAnimeService{invalidate: func(key string) error {
		invalidated = key
		return nil
	}}

	rec, _ := serve(t, svc, nil, httptest.NewRequest(http.MethodPost, "/api/v1/anime/cache/invalidate?key=list:page=1:size=20", nil))
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected status 401 got %d", rec.Code)
	}

	req := httptest.NewRequest(http.MethodPost, "/api/v1/anime/cache/invalidate?key=list:page=1:size=20", nil)
	req = req.WithContext(auth.WithSubject(req.Context(), "ops"))
	rec, env := serve(t, svc, nil, req)
	if rec.Code != http.StatusOK || !env.Success {
		t.Fatalf("expected status 200 got %d", rec.Code)
	}
	if invalidated != "list:page=1:size=20" {
		t.Fatalf("expected key to be invalidated got %q", invalidated)
	}
}

func TestClientIPPrefersForwardedFor(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "10.0.0.1:5000"
	if got := clientIP(req); got != "10.0.0.1" {
		t.Fatalf("expected remote host got %q", got)
	}
	req.Header.Set("X-Forwarded-For", " 203.0.113.7 , 10.0.0.1")
	if got := rateLimitKey(req, "anime"); got != "anime:203.0.113.7" {
		t.Fatalf("unexpected key %q", got)
	}
}
