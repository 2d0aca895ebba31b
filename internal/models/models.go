package models

import (
	"sort"
	"strings"
)

// Status describes where a show is in its broadcast lifecycle.
type Status string

const (
	StatusUpcoming  Status = "upcoming"
	StatusAiring    Status = "airing"
	StatusCompleted Status = "completed"
)

// Valid reports whether s is one of the governed lifecycle values.
func (s Status) Valid() bool {
	switch s {
	case StatusUpcoming, StatusAiring, StatusCompleted:
		return true
	}
	return false
}

// AnimeSummary is the provider-agnostic shape served by the browsing endpoints.
// Optional fields are pointers (or nil slices) so unknown values are omitted
// from JSON instead of being rendered as empty strings.
type AnimeSummary struct {
	ID        string   `json:"id"`
	Title     string   `json:"title"`
	AltTitles []string `json:"altTitles,omitempty"`
	CoverURL  *string  `json:"coverUrl,omitempty"`
	Synopsis  *string  `json:"synopsis,omitempty"`
	Rating    *float64 `json:"rating,omitempty"`
	Status    *Status  `json:"status,omitempty"`
	Year      *int     `json:"year,omitempty"`
	Episodes  *int     `json:"episodes,omitempty"`
	Genres    []string `json:"genres,omitempty"`
}

// Valid reports whether the required identity fields are present.
func (a AnimeSummary) Valid() bool {
	return strings.TrimSpace(a.ID) != "" && strings.TrimSpace(a.Title) != ""
}

// ScheduleEntry places a show on the weekly broadcast grid.
type ScheduleEntry struct {
	AnimeID   string  `json:"animeId"`
	Title     string  `json:"title"`
	DayOfWeek int     `json:"dayOfWeek"`
	AirTime   string  `json:"airTime"`
	Platform  string  `json:"platform"`
	Episode   *string `json:"episode,omitempty"`
	CoverURL  *string `json:"coverUrl,omitempty"`
}

// ValidDay reports whether day is an ISO weekday (Monday=1 ... Sunday=7).
func ValidDay(day int) bool {
	return day >= 1 && day <= 7
}

var dayNames = [...]string{"Monday", "Tuesday", "Wednesday", "Thursday", "Friday", "Saturday", "Sunday"}

// DayName returns the English weekday name for an ISO weekday, or "" when out of range.
func DayName(day int) string {
	if !ValidDay(day) {
		return ""
	}
	return dayNames[day-1]
}

// SortSchedule orders entries by day, then air time, then anime id.
func SortSchedule(entries []ScheduleEntry) {
	sort.SliceStable(entries, func(i, j int) bool {
		a, b := entries[i], entries[j]
		if a.DayOfWeek != b.DayOfWeek {
			return a.DayOfWeek < b.DayOfWeek
		}
		if a.AirTime != b.AirTime {
			return a.AirTime < b.AirTime
		}
		return a.AnimeID < b.AnimeID
	})
}

// StringPtr returns a pointer to the trimmed value, or nil when it is blank.
func StringPtr(v string) *string {
	v = strings.TrimSpace(v)
	if v == "" {
		return nil
	}
	return &v
}

// IntPtr returns a pointer to v, or nil when v is not positive.
func IntPtr(v int) *int {
	if v <= 0 {
		return nil
	}
	return &v
}

// GenreSet trims, de-duplicates and sorts genre tags.
func GenreSet(tags ...string) []string {
	seen := make(map[string]struct{}, len(tags))
	out := make([]string, 0, len(tags))
	for _, tag := range tags {
		tag = strings.TrimSpace(tag)
		if tag == "" {
			continue
		}
		key := strings.ToLower(tag)
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, tag)
	}
	if len(out) == 0 {
		return nil
	}
	sort.Strings(out)
	return out
}
