package anime

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/animehub/backend/internal/models"
)

const (
	bilibiliDefaultBaseURL = "https://api.bilibili.com"
	bilibiliPlatform       = "Bilibili"
)

// BilibiliAdapter serves the weekly broadcast timeline only.
type BilibiliAdapter struct {
	client *upstreamClient
}

// NewBilibiliAdapter constructs the adapter.
func NewBilibiliAdapter(cfg ClientConfig) *BilibiliAdapter {
	return &BilibiliAdapter{client: newUpstreamClient(string(KindBilibili), cfg, bilibiliDefaultBaseURL)}
}

func (a *BilibiliAdapter) Name() string { return string(KindBilibili) }

func (a *BilibiliAdapter) Kind() Kind { return KindBilibili }

type bilibiliTimeline struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Result  []struct {
		DayOfWeek int `json:"day_of_week"`
		Episodes  []struct {
			SeasonID int64  `json:"season_id"`
			Title    string `json:"title"`
			Cover    string `json:"cover"`
			PubTime  string `json:"pub_time"`
			PubIndex string `json:"pub_index"`
			Delay    int    `json:"delay"`
		} `json:"episodes"`
	} `json:"result"`
}

// FetchSchedule reads the timeline around today. The timeline spans more than
// one week, so repeated (show, day) slots are collapsed.
func (a *BilibiliAdapter) FetchSchedule(ctx context.Context, day *int) ([]models.ScheduleEntry, error) {
	q := url.Values{}
	q.Set("types", "1")
	q.Set("before", "6")
	q.Set("after", "6")

	var resp bilibiliTimeline
	if err := a.client.getJSON(ctx, "schedule", "/pgc/web/timeline", q, &resp); err != nil {
		return nil, err
	}
	if resp.Code != 0 {
		return nil, a.client.wrap("schedule", 0, fmt.Errorf("%w: code %d: %s", ErrUpstream, resp.Code, resp.Message))
	}

	var entries []models.ScheduleEntry
	for _, d := range resp.Result {
		for _, ep := range d.Episodes {
			title := strings.TrimSpace(ep.Title)
			if ep.SeasonID <= 0 || title == "" || ep.Delay != 0 {
				continue
			}
			entries = append(entries, models.ScheduleEntry{
				AnimeID:   prefixedID(KindBilibili, strconv.FormatInt(ep.SeasonID, 10)),
				Title:     title,
				DayOfWeek: d.DayOfWeek,
				AirTime:   normalizeAirTime(ep.PubTime),
				Platform:  bilibiliPlatform,
				Episode:   models.StringPtr(ep.PubIndex),
				CoverURL:  models.StringPtr(ep.Cover),
			})
		}
	}
	return dedupeSchedule(filterDay(entries, day)), nil
}
