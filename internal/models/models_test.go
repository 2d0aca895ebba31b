package models

import (
	"reflect"
	"testing"

	json "github.com/goccy/go-json"
)

func TestAnimeSummaryOmitsUnknownFields(t *testing.T) {
	data, err := json.Marshal(AnimeSummary{ID: "tmdb:1", Title: "Frieren"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := string(data); got != `{"id":"tmdb:1","title":"Frieren"}` {
		t.Fatalf("expected optional fields to be omitted, got %s", got)
	}
}

func TestAnimeSummaryValid(t *testing.T) {
	if (AnimeSummary{ID: " ", Title: "x"}).Valid() {
		t.Fatal("expected blank id to be invalid")
	}
	if (AnimeSummary{ID: "x", Title: ""}).Valid() {
		t.Fatal("expected blank title to be invalid")
	}
	if !(AnimeSummary{ID: "x", Title: "y"}).Valid() {
		t.Fatal("expected id and title to be sufficient")
	}
}

func TestStatusValid(t *testing.T) {
	for _, s := range []Status{StatusUpcoming, StatusAiring, StatusCompleted} {
		if !s.Valid() {
			t.Fatalf("expected %s to be valid", s)
		}
	}
	if Status("finished").Valid() {
		t.Fatal("expected provider vocabulary to be rejected")
	}
}

func TestDayName(t *testing.T) {
	if DayName(1) != "Monday" || DayName(7) != "Sunday" {
		t.Fatalf("unexpected day names: %q %q", DayName(1), DayName(7))
	}
	if DayName(0) != "" || DayName(8) != "" {
		t.Fatal("expected out of range days to have no name")
	}
}

func TestSortSchedule(t *testing.T) {
	entries := []ScheduleEntry{
		{AnimeID: "b", DayOfWeek: 2, AirTime: "10:00"},
		{AnimeID: "c", DayOfWeek: 1, AirTime: "23:00"},
		{AnimeID: "a", DayOfWeek: 2, AirTime: "10:00"},
		{AnimeID: "d", DayOfWeek: 1, AirTime: "08:00"},
	}
	SortSchedule(entries)

	var got []string
	for _, e := range entries {
		got = append(got, e.AnimeID)
	}
	if want := []string{"d", "c", "a", "b"}; !reflect.DeepEqual(got, want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
}

func TestGenreSet(t *testing.T) {
	got := GenreSet(" Drama", "action", "drama", "", "Action")
	if want := []string{"Drama", "action"}; !reflect.DeepEqual(got, want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
	if GenreSet(" ") != nil {
		t.Fatal("expected empty genre set to be nil")
	}
}
