package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/cors"

	"github.com/animehub/backend/internal/anime"
	"github.com/animehub/backend/internal/config"
	"github.com/animehub/backend/internal/handlers"
	"github.com/animehub/backend/internal/httpserver"
	"github.com/animehub/backend/internal/middleware"
)

const (
	defaultTokenTTL = time.Hour
	pruneAge        = 7 * 24 * time.Hour
	snapshotTimeout = 30 * time.Second
)

// Run bootstraps the animehub backend.
func Run(ctx context.Context, args []string) error {
	if len(args) == 0 {
		return errors.New("expected command: serve, migrate, warm, or token")
	}

	switch args[0] {
	case "serve":
		return serve(ctx)
	case "migrate":
		return runMigrations(ctx, os.Stdout, args[1:])
	case "warm":
		return warm(ctx, os.Stdout)
	case "token":
		return issueToken(ctx, os.Stdout, args[1:])
	default:
		return fmt.Errorf("unknown command %q", args[0])
	}
}

func newLogger(w io.Writer, level string) *slog.Logger {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{AddSource: true, Level: lvl}))
}

func serve(ctx context.Context) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	logger := newLogger(os.Stdout, cfg.Server.LogLevel)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	st, err := buildStack(ctx, cfg, logger, connectDatabase)
	if err != nil {
		return err
	}
	defer st.Close()

	st.restoreSnapshot(ctx, logger)

	mux := http.NewServeMux()
	handlers.RegisterRoutes(mux, st.handlerDependencies(cfg, time.Now()))

	handler := middleware.RequestLogger(logger)(
		corsHandler(cfg.Server.CORSOrigins)(
			middleware.Authenticate(st.verifier())(mux),
		),
	)

	writeTimeout := cfg.Aggregator.AdapterTimeout + 10*time.Second
	srv := httpserver.New(cfg.Server.Port, handler, writeTimeout)

	logger.Info("starting http server",
		slog.Int("port", cfg.Server.Port),
		slog.String("cache_backend", cfg.Cache.Backend),
		slog.String("adapters", strings.Join(st.adapters, ",")),
	)

	serveErr := srv.Run(ctx)
	logger.Info("http server stopped")

	snapCtx, cancel := context.WithTimeout(context.Background(), snapshotTimeout)
	defer cancel()
	if err := st.saveSnapshot(snapCtx, logger); err != nil {
		logger.Error("persist cache snapshot", slog.String("error", err.Error()))
	}
	return serveErr
}

// corsHandler answers preflight requests before they reach the mux.
func corsHandler(origins []string) func(http.Handler) http.Handler {
	return cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type", middleware.RequestIDHeader},
		ExposedHeaders: []string{middleware.RequestIDHeader, "Retry-After"},
		MaxAge:         300,
	})
}

// warm force-refreshes the hottest keys so a fresh deployment starts with a
// populated stale-fallback set, then persists it.
func warm(ctx context.Context, out io.Writer) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	logger := newLogger(os.Stderr, cfg.Server.LogLevel)

	st, err := buildStack(ctx, cfg, logger, connectDatabase)
	if err != nil {
		return err
	}
	defer st.Close()

	st.restoreSnapshot(ctx, logger)

	if err := warmCache(ctx, out, st); err != nil {
		return err
	}

	if st.persistent != nil {
		removed, err := st.persistent.PruneBefore(ctx, time.Now().Add(-pruneAge))
		if err != nil {
			logger.Warn("prune cache entries", slog.String("error", err.Error()))
		} else {
			fmt.Fprintf(out, "pruned %d cache entries older than %s\n", removed, pruneAge)
		}
	}
	return st.saveSnapshot(ctx, logger)
}

func warmCache(ctx context.Context, out io.Writer, st *stack) error {
	var errs []error

	list, err := st.aggregator.AnimeList(ctx, 1, anime.DefaultPageSize, true)
	if err != nil {
		errs = append(errs, fmt.Errorf("warm list: %w", err))
	} else {
		fmt.Fprintf(out, "warmed %s (%d items)\n", anime.ListKey(1, anime.DefaultPageSize), len(list.Data))
	}

	schedule, err := st.aggregator.Schedule(ctx, nil, true)
	if err != nil {
		errs = append(errs, fmt.Errorf("warm schedule: %w", err))
	} else {
		fmt.Fprintf(out, "warmed %s (%d entries)\n", anime.ScheduleKey(nil), len(schedule.Data))
	}

	return errors.Join(errs...)
}

// issueToken prints an operator token: token <subject> [ttl].
func issueToken(ctx context.Context, out io.Writer, args []string) error {
	if len(args) == 0 {
		return errors.New("expected token subject")
	}
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	ttl := defaultTokenTTL
	if len(args) > 1 {
		if ttl, err = time.ParseDuration(args[1]); err != nil {
			return fmt.Errorf("parse token ttl: %w", err)
		}
	}
	return writeToken(ctx, out, cfg.Auth, args[0], ttl)
}
