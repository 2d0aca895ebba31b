package anime

import (
	"context"
	"fmt"
	"net/url"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/animehub/backend/internal/models"
)

const (
	tmdbDefaultBaseURL  = "https://api.themoviedb.org/3"
	tmdbDefaultImageURL = "https://image.tmdb.org/t/p/w500"
	tmdbPageSize        = 20
	tmdbMaxPageSize     = 50
	tmdbAnimationGenre  = 16
	tmdbMaxSearchPages  = 3
)

// tmdbGenres is TMDB's fixed TV genre table.
var tmdbGenres = map[int]string{
	10759: "Action & Adventure",
	16:    "Animation",
	35:    "Comedy",
	80:    "Crime",
	99:    "Documentary",
	18:    "Drama",
	10751: "Family",
	10762: "Kids",
	9648:  "Mystery",
	10763: "News",
	10764: "Reality",
	10765: "Sci-Fi & Fantasy",
	10766: "Soap",
	10767: "Talk",
	10768: "War & Politics",
	37:    "Western",
}

// TMDBConfig configures the TMDB metadata adapter.
type TMDBConfig struct {
	ClientConfig
	ImageBaseURL string
	Language     string
	// Now is used to classify shows whose first air date is in the future.
	Now func() time.Time
}

// TMDBAdapter serves list, search and detail from TMDB's TV catalogue,
// restricted to Japanese animation.
type TMDBAdapter struct {
	client   *upstreamClient
	imageURL string
	language string
	now      func() time.Time
}

// NewTMDBAdapter constructs the adapter. A missing token is not an error here;
// every call fails with ErrCredentialsMissing instead.
func NewTMDBAdapter(cfg TMDBConfig) *TMDBAdapter {
	imageURL := strings.TrimRight(strings.TrimSpace(cfg.ImageBaseURL), "/")
	if imageURL == "" {
		imageURL = tmdbDefaultImageURL
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &TMDBAdapter{
		client:   newUpstreamClient(string(KindTMDB), cfg.ClientConfig, tmdbDefaultBaseURL),
		imageURL: imageURL,
		language: strings.TrimSpace(cfg.Language),
		now:      now,
	}
}

func (a *TMDBAdapter) Name() string { return string(KindTMDB) }

func (a *TMDBAdapter) Kind() Kind { return KindTMDB }

func (a *TMDBAdapter) MaxPageSize() int { return tmdbMaxPageSize }

// HasCredentials reports whether an API token was configured.
func (a *TMDBAdapter) HasCredentials() bool { return a.client.token != "" }

type tmdbShow struct {
	ID               int     `json:"id"`
	Name             string  `json:"name"`
	OriginalName     string  `json:"original_name"`
	Overview         string  `json:"overview"`
	PosterPath       string  `json:"poster_path"`
	VoteAverage      float64 `json:"vote_average"`
	FirstAirDate     string  `json:"first_air_date"`
	GenreIDs         []int   `json:"genre_ids"`
	Status           string  `json:"status"`
	NumberOfEpisodes int     `json:"number_of_episodes"`
	Genres           []struct {
		ID   int    `json:"id"`
		Name string `json:"name"`
	} `json:"genres"`
	AlternativeTitles struct {
		Results []struct {
			Title string `json:"title"`
		} `json:"results"`
	} `json:"alternative_titles"`
}

type tmdbPage struct {
	Page       int        `json:"page"`
	Results    []tmdbShow `json:"results"`
	TotalPages int        `json:"total_pages"`
}

// FetchList maps an arbitrary page/pageSize window onto TMDB's fixed 20-item pages.
func (a *TMDBAdapter) FetchList(ctx context.Context, page, pageSize int) ([]models.AnimeSummary, error) {
	if err := a.client.requireToken("list"); err != nil {
		return nil, err
	}
	if page < 1 || page > MaxPage {
		return nil, invalid("page", fmt.Sprintf("must be between 1 and %d", MaxPage))
	}
	if pageSize < 1 || pageSize > tmdbMaxPageSize {
		return nil, invalid("pageSize", fmt.Sprintf("must be between 1 and %d", tmdbMaxPageSize))
	}

	start := (page - 1) * pageSize
	upstreamPage := start/tmdbPageSize + 1
	skip := start % tmdbPageSize

	var shows []tmdbShow
	for len(shows) < skip+pageSize {
		q := a.baseQuery()
		q.Set("with_genres", strconv.Itoa(tmdbAnimationGenre))
		q.Set("with_original_language", "ja")
		q.Set("sort_by", "popularity.desc")
		q.Set("page", strconv.Itoa(upstreamPage))

		var resp tmdbPage
		if err := a.client.getJSON(ctx, "list", "/discover/tv", q, &resp); err != nil {
			return nil, err
		}
		shows = append(shows, resp.Results...)
		if len(resp.Results) == 0 || upstreamPage >= resp.TotalPages {
			break
		}
		upstreamPage++
	}

	if skip >= len(shows) {
		return []models.AnimeSummary{}, nil
	}
	end := min(skip+pageSize, len(shows))
	return a.normalizeAll(shows[skip:end]), nil
}

// Search runs TMDB's TV search and keeps animated results only.
func (a *TMDBAdapter) Search(ctx context.Context, keyword string, limit int) ([]models.AnimeSummary, error) {
	if err := a.client.requireToken("search"); err != nil {
		return nil, err
	}
	keyword = strings.TrimSpace(keyword)
	if keyword == "" {
		return nil, invalid("q", "must not be empty")
	}

	var shows []tmdbShow
	for p := 1; p <= tmdbMaxSearchPages && len(shows) < limit; p++ {
		q := a.baseQuery()
		q.Set("query", keyword)
		q.Set("page", strconv.Itoa(p))

		var resp tmdbPage
		if err := a.client.getJSON(ctx, "search", "/search/tv", q, &resp); err != nil {
			return nil, err
		}
		for _, show := range resp.Results {
			if slices.Contains(show.GenreIDs, tmdbAnimationGenre) {
				shows = append(shows, show)
			}
		}
		if p >= resp.TotalPages {
			break
		}
	}
	if len(shows) > limit {
		shows = shows[:limit]
	}
	return a.normalizeAll(shows), nil
}

// FetchDetail resolves a "tmdb:<id>" identifier.
func (a *TMDBAdapter) FetchDetail(ctx context.Context, id string) (models.AnimeSummary, error) {
	native, ok := ownedID(id, KindTMDB)
	if !ok {
		return models.AnimeSummary{}, a.client.wrap("detail", 0, ErrNotFound)
	}
	if _, err := strconv.Atoi(native); err != nil {
		return models.AnimeSummary{}, a.client.wrap("detail", 0, ErrNotFound)
	}
	if err := a.client.requireToken("detail"); err != nil {
		return models.AnimeSummary{}, err
	}

	q := a.baseQuery()
	q.Set("append_to_response", "alternative_titles")

	var show tmdbShow
	if err := a.client.getJSON(ctx, "detail", "/tv/"+native, q, &show); err != nil {
		return models.AnimeSummary{}, err
	}
	summary := a.normalize(show)
	if !summary.Valid() {
		return models.AnimeSummary{}, a.client.wrap("detail", 0, ErrNotFound)
	}
	return summary, nil
}

func (a *TMDBAdapter) baseQuery() url.Values {
	q := url.Values{}
	if a.language != "" {
		q.Set("language", a.language)
	}
	return q
}

func (a *TMDBAdapter) normalizeAll(shows []tmdbShow) []models.AnimeSummary {
	out := make([]models.AnimeSummary, 0, len(shows))
	for _, show := range shows {
		out = append(out, a.normalize(show))
	}
	return keepValid(out)
}

func (a *TMDBAdapter) normalize(show tmdbShow) models.AnimeSummary {
	if show.ID <= 0 {
		return models.AnimeSummary{}
	}

	title := strings.TrimSpace(show.Name)
	if title == "" {
		title = strings.TrimSpace(show.OriginalName)
	}

	alts := []string{show.OriginalName}
	for _, alt := range show.AlternativeTitles.Results {
		alts = append(alts, alt.Title)
	}

	var genres []string
	for _, id := range show.GenreIDs {
		if name, ok := tmdbGenres[id]; ok {
			genres = append(genres, name)
		}
	}
	for _, g := range show.Genres {
		genres = append(genres, g.Name)
	}

	summary := models.AnimeSummary{
		ID:        prefixedID(KindTMDB, strconv.Itoa(show.ID)),
		Title:     title,
		AltTitles: altTitles(title, alts...),
		Synopsis:  models.StringPtr(show.Overview),
		Rating:    ratingPtr(show.VoteAverage),
		Status:    a.status(show),
		Year:      yearFromDate(show.FirstAirDate),
		Episodes:  models.IntPtr(show.NumberOfEpisodes),
		Genres:    models.GenreSet(genres...),
	}
	if path := strings.TrimSpace(show.PosterPath); path != "" {
		cover := a.imageURL + "/" + strings.TrimLeft(path, "/")
		summary.CoverURL = &cover
	}
	return summary
}

func (a *TMDBAdapter) status(show tmdbShow) *models.Status {
	if show.Status != "" {
		return statusPtr(tmdbStatus(show.Status))
	}
	// Discover and search results carry no status; only a future premiere is certain.
	if first, err := time.Parse("2006-01-02", strings.TrimSpace(show.FirstAirDate)); err == nil && first.After(a.now()) {
		return statusPtr(models.StatusUpcoming)
	}
	return nil
}

func tmdbStatus(s string) models.Status {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "returning series":
		return models.StatusAiring
	case "ended", "canceled", "cancelled":
		return models.StatusCompleted
	default:
		return models.StatusUpcoming
	}
}
