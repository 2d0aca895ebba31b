package anime

import (
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/animehub/backend/internal/models"
)

// ratingPtr clamps a 0-10 score and rounds it to one decimal. Zero scores are
// treated as "unrated" by every supported provider.
func ratingPtr(score float64) *float64 {
	if score <= 0 || math.IsNaN(score) {
		return nil
	}
	if score > 10 {
		score = 10
	}
	score = math.Round(score*10) / 10
	return &score
}

// yearFromDate extracts the year of a YYYY-MM-DD (or YYYY) date string.
func yearFromDate(date string) *int {
	date = strings.TrimSpace(date)
	if len(date) < 4 {
		return nil
	}
	year, err := strconv.Atoi(date[:4])
	if err != nil || year < 1900 {
		return nil
	}
	return &year
}

func statusPtr(s models.Status) *models.Status {
	return &s
}

// isoWeekday converts time.Weekday (Sunday=0) into Monday=1 ... Sunday=7.
func isoWeekday(d time.Weekday) int {
	if d == time.Sunday {
		return 7
	}
	return int(d)
}

// normalizeAirTime accepts "H:MM", "HH:MM" or "HH:MM:SS" and returns "HH:MM".
// It returns "" when the value cannot be parsed.
func normalizeAirTime(v string) string {
	v = strings.TrimSpace(v)
	for _, layout := range []string{"15:04", "15:04:05"} {
		if t, err := time.Parse(layout, v); err == nil {
			return t.Format("15:04")
		}
	}
	return ""
}

func altTitles(primary string, candidates ...string) []string {
	seen := map[string]struct{}{strings.ToLower(strings.TrimSpace(primary)): {}}
	var out []string
	for _, c := range candidates {
		c = strings.TrimSpace(c)
		if c == "" {
			continue
		}
		key := strings.ToLower(c)
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, c)
	}
	return out
}

func keepValid(items []models.AnimeSummary) []models.AnimeSummary {
	out := items[:0]
	for _, item := range items {
		if item.Valid() {
			out = append(out, item)
		}
	}
	return out
}

func filterDay(entries []models.ScheduleEntry, day *int) []models.ScheduleEntry {
	out := make([]models.ScheduleEntry, 0, len(entries))
	for _, e := range entries {
		if !models.ValidDay(e.DayOfWeek) || e.AirTime == "" || e.AnimeID == "" {
			continue
		}
		if day != nil && e.DayOfWeek != *day {
			continue
		}
		out = append(out, e)
	}
	models.SortSchedule(out)
	return out
}

// dedupeSchedule keeps one entry per (animeId, day), preferring the earliest
// air time and, on ties, the entry seen first.
func dedupeSchedule(entries []models.ScheduleEntry) []models.ScheduleEntry {
	type slot struct {
		id  string
		day int
	}
	index := make(map[slot]int, len(entries))
	out := make([]models.ScheduleEntry, 0, len(entries))
	for _, e := range entries {
		k := slot{id: e.AnimeID, day: e.DayOfWeek}
		if i, ok := index[k]; ok {
			if e.AirTime < out[i].AirTime {
				out[i] = e
			}
			continue
		}
		index[k] = len(out)
		out = append(out, e)
	}
	models.SortSchedule(out)
	return out
}
