package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/animehub/backend/internal/anime"
	"github.com/animehub/backend/internal/auth"
	"github.com/animehub/backend/internal/cache"
	"github.com/animehub/backend/internal/config"
	"github.com/animehub/backend/internal/db"
	"github.com/animehub/backend/internal/handlers"
	"github.com/animehub/backend/internal/middleware"
	"github.com/animehub/backend/internal/repositories"
	"github.com/animehub/backend/internal/storage"
	"github.com/animehub/backend/internal/validation"
)

// snapshotStore persists the memory cache between runs.
type snapshotStore interface {
	Save(ctx context.Context, r io.Reader) error
	Open(ctx context.Context) (io.ReadCloser, bool, error)
	Location() string
}

// connectFunc opens the database; tests substitute a fake pool.
type connectFunc func(ctx context.Context, url string) (db.Pool, error)

func connectDatabase(ctx context.Context, url string) (db.Pool, error) {
	return db.Connect(ctx, url)
}

// stack holds everything a command needs once configuration is loaded.
type stack struct {
	aggregator *anime.Aggregator
	adapters   []string
	// memory is the in-process tier; nil for the postgres-only backend.
	memory     *cache.MemoryStore
	persistent *repositories.PostgresCacheRepository
	snapshots  snapshotStore
	tokens     *auth.Manager
	closers    []func()
}

func (s *stack) Close() {
	for i := len(s.closers) - 1; i >= 0; i-- {
		s.closers[i]()
	}
}

// buildStack wires the cache, adapters and aggregator described by cfg.
func buildStack(ctx context.Context, cfg config.Config, logger *slog.Logger, connect connectFunc) (*stack, error) {
	st := &stack{}

	store, err := st.cacheStore(ctx, cfg, logger, connect)
	if err != nil {
		st.Close()
		return nil, err
	}

	registry, err := buildRegistry(cfg, logger)
	if err != nil {
		st.Close()
		return nil, err
	}
	for _, a := range registry.Adapters() {
		st.adapters = append(st.adapters, a.Name())
	}

	retries := cfg.Aggregator.RateLimitRetries
	if retries == 0 {
		retries = -1
	}
	opts := anime.Options{
		ListTTL:          cfg.Cache.ListTTL,
		SearchTTL:        cfg.Cache.SearchTTL,
		ScheduleTTL:      cfg.Cache.ScheduleTTL,
		DetailTTL:        cfg.Cache.DetailTTL,
		AdapterTimeout:   cfg.Aggregator.AdapterTimeout,
		RateLimitRetries: retries,
		Logger:           logger,
	}
	if cfg.Aggregator.BreakerFailures > 0 {
		opts.Breaker = &anime.BreakerConfig{
			ConsecutiveFailures: cfg.Aggregator.BreakerFailures,
			OpenTimeout:         cfg.Aggregator.BreakerTimeout,
		}
	}
	st.aggregator, err = anime.NewAggregator(registry, cache.NewLayer(store), opts)
	if err != nil {
		st.Close()
		return nil, err
	}

	if cfg.Snapshot.Enabled() {
		snapshots, err := storage.NewS3SnapshotStore(ctx, cfg.Snapshot)
		if err != nil {
			st.Close()
			return nil, err
		}
		st.snapshots = snapshots
	}

	if cfg.Auth.JWTSecret != "" {
		tokens, err := auth.NewManager(cfg.Auth.JWTSecret, cfg.Auth.Issuer)
		if err != nil {
			st.Close()
			return nil, err
		}
		st.tokens = tokens
	}

	return st, nil
}

func (st *stack) cacheStore(ctx context.Context, cfg config.Config, logger *slog.Logger, connect connectFunc) (cache.Store, error) {
	if cfg.Cache.Backend == config.CacheMemory {
		st.memory = cache.NewMemoryStore(cfg.Cache.Capacity)
		return st.memory, nil
	}

	pool, err := connect(ctx, cfg.Database.URL)
	if err != nil {
		return nil, fmt.Errorf("connect cache database: %w", err)
	}
	st.closers = append(st.closers, pool.Close)
	st.persistent = repositories.NewPostgresCacheRepository(pool)

	if cfg.Cache.Backend == config.CachePostgres {
		return st.persistent, nil
	}
	st.memory = cache.NewMemoryStore(cfg.Cache.Capacity)
	tiered, err := cache.NewTieredStore(st.memory, st.persistent, logger)
	if err != nil {
		return nil, err
	}
	return tiered, nil
}

// buildRegistry creates adapters in the configured priority order. An adapter
// whose credential is missing stays registered and fails every call.
func buildRegistry(cfg config.Config, logger *slog.Logger) (anime.Registry, error) {
	timeout := cfg.Aggregator.AdapterTimeout
	client := func(p config.ProviderConfig) anime.ClientConfig {
		return anime.ClientConfig{
			BaseURL:           p.BaseURL,
			Token:             p.Token,
			RequestsPerSecond: p.RequestsPerSecond,
			Burst:             p.Burst,
			Timeout:           timeout,
		}
	}

	adapters := make([]anime.Adapter, 0, len(cfg.Aggregator.Adapters))
	for _, name := range cfg.Aggregator.Adapters {
		kind, err := anime.ParseKind(name)
		if err != nil {
			return anime.Registry{}, err
		}
		switch kind {
		case anime.KindTMDB:
			tmdb := anime.NewTMDBAdapter(anime.TMDBConfig{
				ClientConfig: client(cfg.Providers.TMDB.Provider),
				ImageBaseURL: cfg.Providers.TMDB.ImageBaseURL,
				Language:     cfg.Providers.TMDB.Language,
			})
			if !tmdb.HasCredentials() {
				logger.Warn("tmdb adapter has no api token; its calls will fail", slog.String("adapter", tmdb.Name()))
			}
			adapters = append(adapters, tmdb)
		case anime.KindAniList:
			adapters = append(adapters, anime.NewAniListAdapter(anime.AniListConfig{
				ClientConfig: client(cfg.Providers.AniList.Provider),
				Location:     cfg.Providers.AniList.Location(),
			}))
		case anime.KindBilibili:
			adapters = append(adapters, anime.NewBilibiliAdapter(client(cfg.Providers.Bilibili)))
		}
	}
	return anime.NewRegistry(adapters...)
}

// handlerDependencies exposes the stack to the HTTP layer.
func (st *stack) handlerDependencies(cfg config.Config, startedAt time.Time) handlers.Dependencies {
	deps := handlers.Dependencies{
		Anime:     st.aggregator,
		Validator: validation.New(),
		Adapters:  st.adapters,
		StartedAt: startedAt,
	}
	if cfg.Server.RateLimitRequests > 0 {
		deps.Limiter = middleware.NewIPRateLimiter(
			cfg.Server.RateLimitRequests,
			cfg.Server.RateLimitWindow,
			cfg.Server.RateLimitBurst,
			10*time.Minute,
		)
	}
	return deps
}

// verifier returns nil when no JWT secret is configured so the auth
// middleware treats every caller as anonymous.
func (st *stack) verifier() middleware.TokenVerifier {
	if st.tokens == nil {
		return nil
	}
	return st.tokens
}

// restoreSnapshot loads the last snapshot into the memory tier.
func (st *stack) restoreSnapshot(ctx context.Context, logger *slog.Logger) {
	if st.snapshots == nil || st.memory == nil {
		return
	}
	body, ok, err := st.snapshots.Open(ctx)
	if err != nil {
		logger.Warn("open cache snapshot", slog.String("location", st.snapshots.Location()), slog.String("error", err.Error()))
		return
	}
	if !ok {
		logger.Info("no cache snapshot found", slog.String("location", st.snapshots.Location()))
		return
	}
	defer body.Close()

	n, err := cache.RestoreSnapshot(ctx, body, st.memory)
	if err != nil {
		logger.Warn("restore cache snapshot", slog.Int("restored", n), slog.String("error", err.Error()))
		return
	}
	logger.Info("restored cache snapshot", slog.Int("entries", n), slog.String("location", st.snapshots.Location()))
}

// saveSnapshot writes the memory tier to the snapshot store.
func (st *stack) saveSnapshot(ctx context.Context, logger *slog.Logger) error {
	if st.snapshots == nil || st.memory == nil {
		return nil
	}
	pr, pw := io.Pipe()
	written := make(chan int, 1)
	go func() {
		n, err := cache.WriteSnapshot(pw, st.memory)
		written <- n
		pw.CloseWithError(err)
	}()

	err := st.snapshots.Save(ctx, pr)
	pr.CloseWithError(errors.New("snapshot upload finished"))
	n := <-written
	if err != nil {
		return fmt.Errorf("save cache snapshot: %w", err)
	}
	logger.Info("saved cache snapshot", slog.Int("entries", n), slog.String("location", st.snapshots.Location()))
	return nil
}

func writeToken(ctx context.Context, out io.Writer, cfg config.AuthConfig, subject string, ttl time.Duration) error {
	tokens, err := auth.NewManager(cfg.JWTSecret, cfg.Issuer)
	if err != nil {
		return err
	}
	token, err := tokens.Issue(ctx, subject, ttl)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(out, token)
	return err
}
