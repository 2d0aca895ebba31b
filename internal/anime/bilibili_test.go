package anime

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
)

func newBilibiliTestServer(t *testing.T, payload string) *BilibiliAdapter {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/pgc/web/timeline" || r.URL.Query().Get("types") != "1" {
			t.Errorf("unexpected request %s?%s", r.URL.Path, r.URL.RawQuery)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, payload)
	}))
	t.Cleanup(srv.Close)
	return NewBilibiliAdapter(ClientConfig{BaseURL: srv.URL})
}

const bilibiliTimelineJSON = `{"code":0,"message":"success","result":[
	{"day_of_week":1,"episodes":[
		{"season_id":500,"title":"Monday Show","cover":"https://i0.example/m.png","pub_time":"22:00","pub_index":"第3话","delay":0},
		{"season_id":501,"title":"Delayed Show","pub_time":"23:00","pub_index":"第1话","delay":1}
	]},
	{"day_of_week":3,"episodes":[
		{"season_id":600,"title":"Wednesday Show","pub_time":"9:30","pub_index":"第12话","delay":0},
		{"season_id":601,"title":"","pub_time":"10:00","delay":0}
	]},
	{"day_of_week":1,"episodes":[
		{"season_id":500,"title":"Monday Show","pub_time":"21:30","pub_index":"第4话","delay":0}
	]}
]}`

func TestBilibiliFetchSchedule(t *testing.T) {
	adapter := newBilibiliTestServer(t, bilibiliTimelineJSON)

	entries, err := adapter.FetchSchedule(context.Background(), nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries, got %+v", entries)
	}
	mon := entries[0]
	if mon.AnimeID != "bilibili:500" || mon.DayOfWeek != 1 || mon.AirTime != "21:30" {
		t.Fatalf("expected earliest Monday slot, got %+v", mon)
	}
	if mon.Platform != "Bilibili" {
		t.Fatalf("expected Bilibili platform, got %q", mon.Platform)
	}
	if entries[1].AirTime != "09:30" || entries[1].DayOfWeek != 3 {
		t.Fatalf("expected normalized Wednesday air time, got %+v", entries[1])
	}
}

func TestBilibiliFetchScheduleFiltersDay(t *testing.T) {
	adapter := newBilibiliTestServer(t, bilibiliTimelineJSON)

	day := 3
	entries, err := adapter.FetchSchedule(context.Background(), &day)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(entries) != 1 || entries[0].AnimeID != "bilibili:600" {
		t.Fatalf("expected only Wednesday, got %+v", entries)
	}
}

func TestBilibiliNonZeroCodeIsUpstreamError(t *testing.T) {
	adapter := newBilibiliTestServer(t, `{"code":-412,"message":"request was banned"}`)

	_, err := adapter.FetchSchedule(context.Background(), nil)
	if !errors.Is(err, ErrUpstream) {
		t.Fatalf("expected ErrUpstream, got %v", err)
	}
}
