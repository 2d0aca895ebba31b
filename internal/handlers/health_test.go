package handlers

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestHealthHandlerHandle(t *testing.T) {
	started := time.Date(2024, 4, 1, 0, 0, 0, 0, time.UTC)
	handler := HealthHandler{
		Adapters:  []string{"anilist", "tmdb"},
		StartedAt: started,
		Now:       func() time.Time { return started.Add(90 * time.Second) },
	}

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()

	handler.Handle(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200 got %d", rec.Code)
	}
	if got := rec.Header().Get("Content-Type"); got != "application/json" {
		t.Fatalf("expected json content type got %s", got)
	}
	body := rec.Body.String()
	if !strings.Contains(body, `"uptimeSeconds":90`) || !strings.Contains(body, `"adapters":["anilist","tmdb"]`) {
		t.Fatalf("unexpected health body %s", body)
	}

	req = httptest.NewRequest(http.MethodPost, "/healthz", nil)
	rec = httptest.NewRecorder()

	handler.Handle(rec, req)

	if rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("expected method not allowed got %d", rec.Code)
	}
	if got := rec.Header().Get("Allow"); got != http.MethodGet {
		t.Fatalf("expected Allow header GET got %q", got)
	}
}
