package app

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/animehub/backend/internal/anime"
	"github.com/animehub/backend/internal/cache"
	"github.com/animehub/backend/internal/config"
	"github.com/animehub/backend/internal/db"
	"github.com/animehub/backend/internal/models"
)

type fakePool struct {
	closed bool
}

func (*fakePool) Acquire(context.Context) (*pgxpool.Conn, error) {
	return nil, errors.New("not implemented")
}

func (p *fakePool) Close() { p.closed = true }

func testConfig() config.Config {
	return config.Config{
		Cache: config.CacheConfig{
			Backend:     config.CacheMemory,
			Capacity:    100,
			ListTTL:     time.Minute,
			SearchTTL:   time.Minute,
			ScheduleTTL: time.Minute,
			DetailTTL:   time.Minute,
		},
		Aggregator: config.AggregatorConfig{
			Adapters:        []string{"bilibili", "tmdb", "anilist"},
			AdapterTimeout:  time.Second,
			BreakerFailures: 3,
			BreakerTimeout:  time.Second,
		},
		Providers: config.ProvidersConfig{
			AniList: config.AniListConfig{Timezone: "Asia/Tokyo"},
		},
	}
}

func TestBuildStackMemoryBackend(t *testing.T) {
	var logs bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&logs, nil))

	st, err := buildStack(context.Background(), testConfig(), logger, func(context.Context, string) (db.Pool, error) {
		t.Fatal("memory backend must not connect to a database")
		return nil, nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer st.Close()

	if want := []string{"bilibili", "tmdb", "anilist"}; !slices.Equal(st.adapters, want) {
		t.Fatalf("expected adapters in configured order %v got %v", want, st.adapters)
	}
	if st.memory == nil || st.persistent != nil {
		t.Fatal("expected a memory-only cache")
	}
	if st.snapshots != nil {
		t.Fatal("expected snapshots to be disabled without a bucket")
	}
	if st.verifier() != nil {
		t.Fatal("expected no token verifier without a jwt secret")
	}
	if !strings.Contains(logs.String(), "no api token") {
		t.Fatalf("expected a warning about the missing tmdb token, got %s", logs.String())
	}

	deps := st.handlerDependencies(testConfig(), time.Now())
	if deps.Anime == nil || deps.Validator == nil {
		t.Fatal("expected aggregator and validator to be configured")
	}
	if deps.Limiter != nil {
		t.Fatal("expected rate limiting to be disabled when no request budget is set")
	}
}

func TestBuildStackTieredBackend(t *testing.T) {
	cfg := testConfig()
	cfg.Cache.Backend = config.CacheTiered
	cfg.Database.URL = "postgres://example"
	cfg.Auth.JWTSecret = "s3cret"
	cfg.Server.RateLimitRequests = 10
	cfg.Server.RateLimitWindow = time.Minute

	pool := &fakePool{}
	var gotURL string
	st, err := buildStack(context.Background(), cfg, slog.Default(), func(_ context.Context, url string) (db.Pool, error) {
		gotURL = url
		return pool, nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if gotURL != "postgres://example" {
		t.Fatalf("expected database url to be passed through got %q", gotURL)
	}
	if st.memory == nil || st.persistent == nil {
		t.Fatal("expected memory and postgres tiers")
	}
	if st.verifier() == nil {
		t.Fatal("expected a token verifier when a secret is set")
	}
	if st.handlerDependencies(cfg, time.Now()).Limiter == nil {
		t.Fatal("expected a rate limiter")
	}

	st.Close()
	if !pool.closed {
		t.Fatal("expected Close to release the pool")
	}
}

func TestBuildStackPropagatesConnectErrors(t *testing.T) {
	cfg := testConfig()
	cfg.Cache.Backend = config.CachePostgres
	boom := errors.New("connection refused")

	_, err := buildStack(context.Background(), cfg, slog.Default(), func(context.Context, string) (db.Pool, error) {
		return nil, boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected connect error got %v", err)
	}
}

func TestBuildRegistryRejectsUnknownAdapter(t *testing.T) {
	cfg := testConfig()
	cfg.Aggregator.Adapters = []string{"anilist", "crunchyroll"}
	if _, err := buildRegistry(cfg, slog.Default()); err == nil {
		t.Fatal("expected an error for an unknown adapter")
	}
}

type memorySnapshots struct {
	data  []byte
	saved bool
}

func (m *memorySnapshots) Save(_ context.Context, r io.Reader) error {
	data, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	m.data, m.saved = data, true
	return nil
}

func (m *memorySnapshots) Open(context.Context) (io.ReadCloser, bool, error) {
	if !m.saved {
		return nil, false, nil
	}
	return io.NopCloser(bytes.NewReader(m.data)), true, nil
}

func (m *memorySnapshots) Location() string { return "memory://snapshot" }

func TestSnapshotSaveAndRestore(t *testing.T) {
	ctx := context.Background()
	snapshots := &memorySnapshots{}

	source := &stack{memory: cache.NewMemoryStore(10), snapshots: snapshots}
	for _, key := range []string{"list:page=1:size=20", "schedule:day=all"} {
		if err := source.memory.Save(ctx, cache.Entry{Key: key, Payload: []byte(`[]`), FetchedAt: time.Now().UTC()}); err != nil {
			t.Fatalf("seed %s: %v", key, err)
		}
	}
	if err := source.saveSnapshot(ctx, slog.Default()); err != nil {
		t.Fatalf("save snapshot: %v", err)
	}

	target := &stack{memory: cache.NewMemoryStore(10), snapshots: snapshots}
	target.restoreSnapshot(ctx, slog.Default())
	if target.memory.Len() != 2 {
		t.Fatalf("expected 2 restored entries got %d", target.memory.Len())
	}
	if _, ok, _ := target.memory.Load(ctx, "schedule:day=all"); !ok {
		t.Fatal("expected schedule entry to be restored")
	}
}

type warmAdapter struct{}

func (warmAdapter) Name() string     { return "anilist" }
func (warmAdapter) Kind() anime.Kind { return anime.KindAniList }
func (warmAdapter) MaxPageSize() int { return 50 }
func (warmAdapter) FetchList(context.Context, int, int) ([]models.AnimeSummary, error) {
	return []models.AnimeSummary{{ID: "anilist:1", Title: "Frieren"}}, nil
}
func (warmAdapter) FetchSchedule(context.Context, *int) ([]models.ScheduleEntry, error) {
	return nil, errors.New("upstream down")
}

func TestWarmCacheReportsEachKey(t *testing.T) {
	registry, err := anime.NewRegistry(warmAdapter{})
	if err != nil {
		t.Fatalf("registry: %v", err)
	}
	agg, err := anime.NewAggregator(registry, cache.NewLayer(cache.NewMemoryStore(10)), anime.Options{})
	if err != nil {
		t.Fatalf("aggregator: %v", err)
	}

	var out bytes.Buffer
	err = warmCache(context.Background(), &out, &stack{aggregator: agg})
	if !errors.Is(err, anime.ErrAllProvidersFailed) {
		t.Fatalf("expected the schedule failure to surface, got %v", err)
	}
	if !strings.Contains(out.String(), "warmed list:page=1:size=20 (1 items)") {
		t.Fatalf("unexpected warm output %q", out.String())
	}
}

func TestWriteToken(t *testing.T) {
	var out bytes.Buffer
	if err := writeToken(context.Background(), &out, config.AuthConfig{JWTSecret: "s3cret"}, "ops", time.Minute); err != nil {
		t.Fatalf("write token: %v", err)
	}
	if parts := strings.Split(strings.TrimSpace(out.String()), "."); len(parts) != 3 {
		t.Fatalf("expected a compact JWT got %q", out.String())
	}

	if err := writeToken(context.Background(), &out, config.AuthConfig{}, "ops", time.Minute); err == nil {
		t.Fatal("expected an error without a secret")
	}
}

func TestListMigrations(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"0002_b.sql", "0001_a.sql", "README.md"} {
		if err := os.WriteFile(filepath.Join(dir, name), []byte("SELECT 1;"), 0o600); err != nil {
			t.Fatalf("write %s: %v", name, err)
		}
	}
	if err := os.Mkdir(filepath.Join(dir, "archive.sql"), 0o700); err != nil {
		t.Fatalf("mkdir: %v", err)
	}

	gotDir, names, err := listMigrations(dir)
	if err != nil {
		t.Fatalf("list migrations: %v", err)
	}
	if gotDir != dir {
		t.Fatalf("expected absolute dir to be kept, got %s", gotDir)
	}
	if want := []string{"0001_a.sql", "0002_b.sql"}; !slices.Equal(names, want) {
		t.Fatalf("expected %v got %v", want, names)
	}
}

func TestShouldRetryMigration(t *testing.T) {
	cases := []struct {
		err  error
		want bool
	}{
		{nil, false},
		{&pgconn.PgError{Code: "40001"}, true},
		{&pgconn.PgError{Code: "42P01"}, false},
		{pgx.ErrTxClosed, true},
		{context.DeadlineExceeded, true},
		{errors.New("syntax error"), false},
	}
	for _, tc := range cases {
		if got := shouldRetryMigration(tc.err); got != tc.want {
			t.Fatalf("shouldRetryMigration(%v) = %v, want %v", tc.err, got, tc.want)
		}
	}
	if migrationBackoff(1) != migrationBaseBackoff || migrationBackoff(10) != migrationMaxBackoff {
		t.Fatal("unexpected migration backoff bounds")
	}
}
