package anime

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"github.com/animehub/backend/internal/models"
)

const (
	anilistDefaultBaseURL   = "https://graphql.anilist.co"
	anilistMaxPageSize      = 50
	anilistMaxSchedulePages = 4
	anilistPlatform         = "AniList"
)

const anilistMediaFields = `
	id
	title { romaji english native }
	synonyms
	coverImage { large }
	description(asHtml: false)
	averageScore
	status
	seasonYear
	startDate { year }
	episodes
	genres
`

var (
	anilistListQuery = `query ($page: Int, $perPage: Int) {
  Page(page: $page, perPage: $perPage) {
    media(type: ANIME, sort: TRENDING_DESC, isAdult: false) {` + anilistMediaFields + `}
  }
}`

	anilistSearchQuery = `query ($search: String, $perPage: Int) {
  Page(page: 1, perPage: $perPage) {
    media(type: ANIME, search: $search, sort: SEARCH_MATCH, isAdult: false) {` + anilistMediaFields + `}
  }
}`

	anilistDetailQuery = `query ($id: Int) {
  Media(id: $id, type: ANIME) {` + anilistMediaFields + `}
}`

	anilistScheduleQuery = `query ($page: Int, $from: Int, $to: Int) {
  Page(page: $page, perPage: 50) {
    pageInfo { hasNextPage }
    airingSchedules(airingAt_greater: $from, airingAt_lesser: $to, sort: TIME) {
      airingAt
      episode
      media { id isAdult title { romaji english native } coverImage { large } }
    }
  }
}`
)

// AniListConfig configures the AniList GraphQL adapter.
type AniListConfig struct {
	ClientConfig
	// Location is the time zone used to place airings on the weekly grid.
	Location *time.Location
	Now      func() time.Time
}

// AniListAdapter serves list, search, detail and schedule from AniList.
// AniList is public, so no credential is required.
type AniListAdapter struct {
	client   *upstreamClient
	location *time.Location
	now      func() time.Time
}

// NewAniListAdapter constructs the adapter.
func NewAniListAdapter(cfg AniListConfig) *AniListAdapter {
	loc := cfg.Location
	if loc == nil {
		loc = time.UTC
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &AniListAdapter{
		client:   newUpstreamClient(string(KindAniList), cfg.ClientConfig, anilistDefaultBaseURL),
		location: loc,
		now:      now,
	}
}

func (a *AniListAdapter) Name() string { return string(KindAniList) }

func (a *AniListAdapter) Kind() Kind { return KindAniList }

func (a *AniListAdapter) MaxPageSize() int { return anilistMaxPageSize }

type anilistTitle struct {
	Romaji  string `json:"romaji"`
	English string `json:"english"`
	Native  string `json:"native"`
}

type anilistMedia struct {
	ID         int          `json:"id"`
	IsAdult    bool         `json:"isAdult"`
	Title      anilistTitle `json:"title"`
	Synonyms   []string     `json:"synonyms"`
	CoverImage struct {
		Large string `json:"large"`
	} `json:"coverImage"`
	Description  string `json:"description"`
	AverageScore int    `json:"averageScore"`
	Status       string `json:"status"`
	SeasonYear   int    `json:"seasonYear"`
	StartDate    struct {
		Year int `json:"year"`
	} `json:"startDate"`
	Episodes int      `json:"episodes"`
	Genres   []string `json:"genres"`
}

type anilistGraphQLError struct {
	Message string `json:"message"`
	Status  int    `json:"status"`
}

type anilistResponse[T any] struct {
	Data   T                     `json:"data"`
	Errors []anilistGraphQLError `json:"errors"`
}

type anilistPageData struct {
	Page struct {
		PageInfo struct {
			HasNextPage bool `json:"hasNextPage"`
		} `json:"pageInfo"`
		Media           []anilistMedia `json:"media"`
		AiringSchedules []struct {
			AiringAt int64        `json:"airingAt"`
			Episode  int          `json:"episode"`
			Media    anilistMedia `json:"media"`
		} `json:"airingSchedules"`
	} `json:"Page"`
}

type anilistMediaData struct {
	Media *anilistMedia `json:"Media"`
}

func anilistQuery[T any](ctx context.Context, c *upstreamClient, op, query string, vars map[string]any) (T, error) {
	var resp anilistResponse[T]
	body := map[string]any{"query": query, "variables": vars}
	if err := c.postJSON(ctx, op, "", body, &resp); err != nil {
		var zero T
		return zero, err
	}
	if len(resp.Errors) > 0 {
		first := resp.Errors[0]
		sentinel := ErrUpstream
		switch first.Status {
		case 404:
			sentinel = ErrNotFound
		case 429:
			sentinel = ErrRateLimited
		}
		var zero T
		return zero, c.wrap(op, first.Status, fmt.Errorf("%w: %s", sentinel, first.Message))
	}
	return resp.Data, nil
}

func (a *AniListAdapter) FetchList(ctx context.Context, page, pageSize int) ([]models.AnimeSummary, error) {
	if page < 1 || pageSize < 1 || pageSize > anilistMaxPageSize {
		return nil, invalid("pageSize", fmt.Sprintf("must be between 1 and %d", anilistMaxPageSize))
	}
	data, err := anilistQuery[anilistPageData](ctx, a.client, "list", anilistListQuery, map[string]any{
		"page":    page,
		"perPage": pageSize,
	})
	if err != nil {
		return nil, err
	}
	return a.normalizeAll(data.Page.Media, pageSize), nil
}

func (a *AniListAdapter) Search(ctx context.Context, keyword string, limit int) ([]models.AnimeSummary, error) {
	keyword = strings.TrimSpace(keyword)
	if keyword == "" {
		return nil, invalid("q", "must not be empty")
	}
	limit = min(max(limit, 1), anilistMaxPageSize)
	data, err := anilistQuery[anilistPageData](ctx, a.client, "search", anilistSearchQuery, map[string]any{
		"search":  keyword,
		"perPage": limit,
	})
	if err != nil {
		return nil, err
	}
	return a.normalizeAll(data.Page.Media, limit), nil
}

func (a *AniListAdapter) FetchDetail(ctx context.Context, id string) (models.AnimeSummary, error) {
	native, ok := ownedID(id, KindAniList)
	if !ok {
		return models.AnimeSummary{}, a.client.wrap("detail", 0, ErrNotFound)
	}
	mediaID, err := strconv.Atoi(native)
	if err != nil {
		return models.AnimeSummary{}, a.client.wrap("detail", 0, ErrNotFound)
	}
	data, err := anilistQuery[anilistMediaData](ctx, a.client, "detail", anilistDetailQuery, map[string]any{"id": mediaID})
	if err != nil {
		return models.AnimeSummary{}, err
	}
	if data.Media == nil {
		return models.AnimeSummary{}, a.client.wrap("detail", 0, ErrNotFound)
	}
	summary := normalizeAniList(*data.Media)
	if !summary.Valid() {
		return models.AnimeSummary{}, a.client.wrap("detail", 0, ErrNotFound)
	}
	return summary, nil
}

// FetchSchedule collects airings over the coming seven days and places each
// on the weekly grid in the configured time zone.
func (a *AniListAdapter) FetchSchedule(ctx context.Context, day *int) ([]models.ScheduleEntry, error) {
	from := a.now().In(a.location)
	startOfDay := time.Date(from.Year(), from.Month(), from.Day(), 0, 0, 0, 0, a.location)
	to := startOfDay.AddDate(0, 0, 7)

	var entries []models.ScheduleEntry
	for page := 1; page <= anilistMaxSchedulePages; page++ {
		data, err := anilistQuery[anilistPageData](ctx, a.client, "schedule", anilistScheduleQuery, map[string]any{
			"page": page,
			"from": startOfDay.Unix() - 1,
			"to":   to.Unix(),
		})
		if err != nil {
			return nil, err
		}
		for _, s := range data.Page.AiringSchedules {
			if s.Media.IsAdult || s.Media.ID <= 0 || s.AiringAt <= 0 {
				continue
			}
			title := anilistPrimaryTitle(s.Media.Title)
			if title == "" {
				continue
			}
			at := time.Unix(s.AiringAt, 0).In(a.location)
			entry := models.ScheduleEntry{
				AnimeID:   prefixedID(KindAniList, strconv.Itoa(s.Media.ID)),
				Title:     title,
				DayOfWeek: isoWeekday(at.Weekday()),
				AirTime:   at.Format("15:04"),
				Platform:  anilistPlatform,
				CoverURL:  models.StringPtr(s.Media.CoverImage.Large),
			}
			if s.Episode > 0 {
				entry.Episode = models.StringPtr(strconv.Itoa(s.Episode))
			}
			entries = append(entries, entry)
		}
		if !data.Page.PageInfo.HasNextPage {
			break
		}
	}
	return filterDay(entries, day), nil
}

func (a *AniListAdapter) normalizeAll(media []anilistMedia, limit int) []models.AnimeSummary {
	out := make([]models.AnimeSummary, 0, len(media))
	for _, m := range media {
		if m.IsAdult {
			continue
		}
		out = append(out, normalizeAniList(m))
	}
	out = keepValid(out)
	if len(out) > limit {
		out = out[:limit]
	}
	return out
}

func normalizeAniList(m anilistMedia) models.AnimeSummary {
	if m.ID <= 0 {
		return models.AnimeSummary{}
	}
	title := anilistPrimaryTitle(m.Title)
	alts := append([]string{m.Title.Romaji, m.Title.English, m.Title.Native}, m.Synonyms...)

	year := models.IntPtr(m.SeasonYear)
	if year == nil {
		year = models.IntPtr(m.StartDate.Year)
	}

	summary := models.AnimeSummary{
		ID:        prefixedID(KindAniList, strconv.Itoa(m.ID)),
		Title:     title,
		AltTitles: altTitles(title, alts...),
		CoverURL:  models.StringPtr(m.CoverImage.Large),
		Synopsis:  models.StringPtr(plainText(m.Description)),
		Rating:    ratingPtr(float64(m.AverageScore) / 10),
		Year:      year,
		Episodes:  models.IntPtr(m.Episodes),
		Genres:    models.GenreSet(m.Genres...),
	}
	if m.Status != "" {
		summary.Status = statusPtr(anilistStatus(m.Status))
	}
	return summary
}

func anilistPrimaryTitle(t anilistTitle) string {
	for _, candidate := range []string{t.English, t.Romaji, t.Native} {
		if c := strings.TrimSpace(candidate); c != "" {
			return c
		}
	}
	return ""
}

func anilistStatus(s string) models.Status {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "RELEASING", "HIATUS":
		return models.StatusAiring
	case "FINISHED", "CANCELLED":
		return models.StatusCompleted
	default:
		return models.StatusUpcoming
	}
}

// plainText strips markup from AniList descriptions, keeping line breaks.
func plainText(html string) string {
	html = strings.TrimSpace(html)
	if html == "" {
		return ""
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return html
	}
	doc.Find("br").ReplaceWithHtml("\n")

	lines := strings.Split(doc.Text(), "\n")
	out := make([]string, 0, len(lines))
	for _, line := range lines {
		line = strings.Join(strings.Fields(line), " ")
		if line == "" && (len(out) == 0 || out[len(out)-1] == "") {
			continue
		}
		out = append(out, line)
	}
	return strings.TrimSpace(strings.Join(out, "\n"))
}
