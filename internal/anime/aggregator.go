package anime

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	json "github.com/goccy/go-json"
	"golang.org/x/sync/singleflight"

	"github.com/animehub/backend/internal/cache"
	"github.com/animehub/backend/internal/logging"
	"github.com/animehub/backend/internal/metrics"
	"github.com/animehub/backend/internal/models"
)

const (
	// DefaultPageSize is used by callers that do not pick a page size.
	DefaultPageSize = 20
	// MaxPageSize bounds list page sizes and search limits.
	MaxPageSize = 50
	// MaxPage bounds catalogue pages so window offsets stay far from overflow.
	MaxPage = 10000

	defaultAdapterTimeout = 8 * time.Second
	defaultRateLimitRetry = 2
	baseRetryDelay        = 250 * time.Millisecond
	maxRetryDelay         = 5 * time.Second
	cacheWriteTimeout     = 5 * time.Second
)

// Options tunes an Aggregator. Zero values pick defaults.
type Options struct {
	ListTTL     time.Duration
	SearchTTL   time.Duration
	ScheduleTTL time.Duration
	DetailTTL   time.Duration

	// AdapterTimeout bounds every individual adapter call, retries included.
	AdapterTimeout time.Duration
	// RateLimitRetries is the number of extra attempts after a 429.
	RateLimitRetries int
	// Breaker enables a circuit breaker per adapter when set.
	Breaker *BreakerConfig
	// Logger receives events that happen outside a request, such as breaker transitions.
	Logger *slog.Logger
}

func (o Options) withDefaults() Options {
	if o.ListTTL <= 0 {
		o.ListTTL = 10 * time.Minute
	}
	if o.SearchTTL <= 0 {
		o.SearchTTL = 5 * time.Minute
	}
	if o.ScheduleTTL <= 0 {
		o.ScheduleTTL = 30 * time.Minute
	}
	if o.DetailTTL <= 0 {
		o.DetailTTL = time.Hour
	}
	if o.AdapterTimeout <= 0 {
		o.AdapterTimeout = defaultAdapterTimeout
	}
	if o.RateLimitRetries < 0 {
		o.RateLimitRetries = 0
	} else if o.RateLimitRetries == 0 {
		o.RateLimitRetries = defaultRateLimitRetry
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	return o
}

// Result wraps an aggregated value with its cache provenance.
type Result[T any] struct {
	Data      T
	FromCache bool
	// Stale is set when every adapter failed and an expired entry was served.
	Stale     bool
	FetchedAt time.Time
}

// Aggregator fans requests out to the configured adapters, merges their
// answers and serves them through the cache layer.
type Aggregator struct {
	members []member
	cache   *cache.Layer
	opts    Options
	flights singleflight.Group
}

type member struct {
	adapter Adapter
	breaker *breaker
}

type outcome[T any] struct {
	adapter string
	value   T
	err     error
}

// NewAggregator builds an aggregator over the registry. The registry order is
// the merge priority.
func NewAggregator(registry Registry, layer *cache.Layer, opts Options) (*Aggregator, error) {
	if registry.Len() == 0 {
		return nil, errors.New("aggregator requires at least one adapter")
	}
	if layer == nil {
		return nil, errors.New("aggregator requires a cache layer")
	}
	opts = opts.withDefaults()

	members := make([]member, 0, registry.Len())
	for _, a := range registry.Adapters() {
		m := member{adapter: a}
		if opts.Breaker != nil {
			m.breaker = newBreaker(a.Name(), *opts.Breaker, opts.Logger)
		}
		members = append(members, m)
	}
	return &Aggregator{members: members, cache: layer, opts: opts}, nil
}

// ListKey is the cache key of one catalogue page.
func ListKey(page, pageSize int) string {
	return fmt.Sprintf("list:page=%d:size=%d", page, pageSize)
}

// SearchKey is the cache key of one search; the keyword is trimmed and lowercased.
func SearchKey(keyword string, limit int) string {
	return fmt.Sprintf("search:q=%s:limit=%d", strings.ToLower(strings.TrimSpace(keyword)), limit)
}

// ScheduleKey is the cache key of the weekly schedule or one of its days.
func ScheduleKey(day *int) string {
	if day == nil {
		return "schedule:day=all"
	}
	return "schedule:day=" + strconv.Itoa(*day)
}

// DetailKey is the cache key of one show.
func DetailKey(id string) string {
	return "detail:id=" + strings.TrimSpace(id)
}

// AnimeList returns one page of the merged catalogue. Every lister is asked
// for the same window; the merge is truncated to pageSize.
func (a *Aggregator) AnimeList(ctx context.Context, page, pageSize int, forceRefresh bool) (Result[[]models.AnimeSummary], error) {
	if page < 1 || page > MaxPage {
		return Result[[]models.AnimeSummary]{}, invalid("page", fmt.Sprintf("must be between 1 and %d", MaxPage))
	}
	if pageSize < 1 || pageSize > MaxPageSize {
		return Result[[]models.AnimeSummary]{}, invalid("pageSize", fmt.Sprintf("must be between 1 and %d", MaxPageSize))
	}
	return resolve(ctx, a, plan[[]models.AnimeSummary]{
		op:    "list",
		key:   ListKey(page, pageSize),
		ttl:   a.opts.ListTTL,
		force: forceRefresh,
		fetch: func(ctx context.Context) []outcome[[]models.AnimeSummary] {
			return fanOut(ctx, a, "list", func(ctx context.Context, l Lister) ([]models.AnimeSummary, error) {
				size := pageSize
				if limit := l.MaxPageSize(); limit > 0 && size > limit {
					size = limit
				}
				return l.FetchList(ctx, page, size)
			})
		},
		merge: func(results []outcome[[]models.AnimeSummary]) []models.AnimeSummary {
			return mergeSummaries(results, pageSize)
		},
	})
}

// SearchAnime runs keyword against every searcher and merges the answers.
func (a *Aggregator) SearchAnime(ctx context.Context, keyword string, limit int, forceRefresh bool) (Result[[]models.AnimeSummary], error) {
	keyword = strings.TrimSpace(keyword)
	if keyword == "" {
		return Result[[]models.AnimeSummary]{}, invalid("q", "must not be empty")
	}
	if limit < 1 || limit > MaxPageSize {
		return Result[[]models.AnimeSummary]{}, invalid("limit", fmt.Sprintf("must be between 1 and %d", MaxPageSize))
	}
	return resolve(ctx, a, plan[[]models.AnimeSummary]{
		op:    "search",
		key:   SearchKey(keyword, limit),
		ttl:   a.opts.SearchTTL,
		force: forceRefresh,
		fetch: func(ctx context.Context) []outcome[[]models.AnimeSummary] {
			return fanOut(ctx, a, "search", func(ctx context.Context, s Searcher) ([]models.AnimeSummary, error) {
				return s.Search(ctx, keyword, limit)
			})
		},
		merge: func(results []outcome[[]models.AnimeSummary]) []models.AnimeSummary {
			return mergeSummaries(results, limit)
		},
	})
}

// Schedule returns the merged weekly grid, or one day of it when day is set.
func (a *Aggregator) Schedule(ctx context.Context, day *int, forceRefresh bool) (Result[[]models.ScheduleEntry], error) {
	if day != nil && !models.ValidDay(*day) {
		return Result[[]models.ScheduleEntry]{}, invalid("day", "must be between 1 and 7")
	}
	return resolve(ctx, a, plan[[]models.ScheduleEntry]{
		op:    "schedule",
		key:   ScheduleKey(day),
		ttl:   a.opts.ScheduleTTL,
		force: forceRefresh,
		fetch: func(ctx context.Context) []outcome[[]models.ScheduleEntry] {
			return fanOut(ctx, a, "schedule", func(ctx context.Context, s ScheduleFetcher) ([]models.ScheduleEntry, error) {
				return s.FetchSchedule(ctx, day)
			})
		},
		merge: mergeSchedule,
	})
}

// AnimeDetail resolves one show. The first configured adapter that knows the
// id wins.
func (a *Aggregator) AnimeDetail(ctx context.Context, id string, forceRefresh bool) (Result[models.AnimeSummary], error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return Result[models.AnimeSummary]{}, invalid("id", "must not be empty")
	}
	return resolve(ctx, a, plan[models.AnimeSummary]{
		op:            "detail",
		key:           DetailKey(id),
		ttl:           a.opts.DetailTTL,
		force:         forceRefresh,
		notFoundFinal: true,
		fetch: func(ctx context.Context) []outcome[models.AnimeSummary] {
			return fanOut(ctx, a, "detail", func(ctx context.Context, d DetailFetcher) (models.AnimeSummary, error) {
				return d.FetchDetail(ctx, id)
			})
		},
		merge: func(results []outcome[models.AnimeSummary]) models.AnimeSummary {
			for _, r := range results {
				if r.err == nil {
					return r.value
				}
			}
			return models.AnimeSummary{}
		},
	})
}

// Invalidate drops one cache entry.
func (a *Aggregator) Invalidate(ctx context.Context, key string) error {
	if strings.TrimSpace(key) == "" {
		return invalid("key", "must not be empty")
	}
	return a.cache.Invalidate(ctx, key)
}

type plan[T any] struct {
	op    string
	key   string
	ttl   time.Duration
	force bool

	// notFoundFinal turns a unanimous ErrNotFound into ErrNotFound rather
	// than ErrAllProvidersFailed.
	notFoundFinal bool
	fetch         func(context.Context) []outcome[T]
	merge         func([]outcome[T]) T
}

func resolve[T any](ctx context.Context, a *Aggregator, p plan[T]) (Result[T], error) {
	ctx, span := logging.StartSpan(ctx, "aggregator."+p.op)
	defer span.End()
	logger := logging.FromContext(ctx).With(slog.String("cache_key", p.key))

	if !p.force {
		if res, ok := cached[T](ctx, a, p.key); ok && !a.cache.Stale(cache.Entry{FetchedAt: res.FetchedAt}, p.ttl) {
			metrics.CacheLookups.WithLabelValues(p.op, "hit").Inc()
			return res, nil
		} else if ok {
			metrics.CacheLookups.WithLabelValues(p.op, "stale").Inc()
		} else {
			metrics.CacheLookups.WithLabelValues(p.op, "miss").Inc()
		}
	}

	v, err, shared := a.flights.Do(p.key, func() (any, error) {
		// Every waiter shares this fetch; it outlives the first caller.
		fetchCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), a.opts.AdapterTimeout+cacheWriteTimeout)
		defer cancel()
		return fetchAndStore(fetchCtx, a, p, logger)
	})
	if shared {
		logger.Debug("joined in-flight fetch")
	}
	if err != nil {
		span.Fail(err)
		return Result[T]{}, err
	}
	res := v.(Result[T])
	span.Annotate(slog.Bool("stale", res.Stale), slog.Bool("shared", shared))
	return res, nil
}

func fetchAndStore[T any](ctx context.Context, a *Aggregator, p plan[T], logger *slog.Logger) (Result[T], error) {
	results := p.fetch(ctx)

	succeeded, notFound := 0, 0
	for _, r := range results {
		switch {
		case r.err == nil:
			succeeded++
		case errors.Is(r.err, ErrNotFound):
			notFound++
		default:
			logger.Warn("adapter call failed",
				slog.String("adapter", r.adapter),
				slog.String("operation", p.op),
				slog.String("error", r.err.Error()),
			)
		}
	}

	if succeeded > 0 {
		data := p.merge(results)
		fetchedAt := a.cache.Now()
		payload, err := json.Marshal(data)
		if err != nil {
			logger.Error("encode aggregated result", slog.String("error", err.Error()))
		} else if err := a.cache.Set(ctx, p.key, payload, p.ttl); err != nil {
			logger.Warn("cache write failed", slog.String("error", err.Error()))
		}
		return Result[T]{Data: data, FetchedAt: fetchedAt}, nil
	}

	if res, ok := cached[T](ctx, a, p.key); ok {
		metrics.StaleServed.WithLabelValues(p.op).Inc()
		logger.Warn("all adapters failed; serving cached result",
			slog.String("operation", p.op),
			slog.Time("fetched_at", res.FetchedAt),
		)
		res.Stale = true
		return res, nil
	}

	if p.notFoundFinal && len(results) > 0 && notFound == len(results) {
		return Result[T]{}, ErrNotFound
	}

	logger.Error("all adapters failed",
		slog.String("operation", p.op),
		slog.Int("adapters", len(results)),
	)
	return Result[T]{}, fmt.Errorf("%s: %w", p.op, ErrAllProvidersFailed)
}

// cached decodes the entry stored under key, whatever its age.
func cached[T any](ctx context.Context, a *Aggregator, key string) (Result[T], bool) {
	entry, ok, err := a.cache.Get(ctx, key)
	if err != nil {
		logging.FromContext(ctx).Warn("cache read failed", slog.String("cache_key", key), slog.String("error", err.Error()))
		return Result[T]{}, false
	}
	if !ok {
		return Result[T]{}, false
	}
	var data T
	if err := json.Unmarshal(entry.Payload, &data); err != nil {
		logging.FromContext(ctx).Warn("discarding undecodable cache entry", slog.String("cache_key", key), slog.String("error", err.Error()))
		return Result[T]{}, false
	}
	return Result[T]{Data: data, FromCache: true, FetchedAt: entry.FetchedAt}, true
}

// fanOut calls every adapter that implements C concurrently and returns the
// outcomes in registry order. Calls are detached from the caller's
// cancellation and bounded by the adapter timeout instead.
func fanOut[C Adapter, T any](ctx context.Context, a *Aggregator, op string, call func(context.Context, C) (T, error)) []outcome[T] {
	type target struct {
		member     member
		capability C
	}
	var targets []target
	for _, m := range a.members {
		if c, ok := m.adapter.(C); ok {
			targets = append(targets, target{member: m, capability: c})
		}
	}

	results := make([]outcome[T], len(targets))
	detached := context.WithoutCancel(ctx)

	var wg sync.WaitGroup
	for i, t := range targets {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results[i] = invoke(detached, a, op, t.member, func(ctx context.Context) (T, error) {
				return call(ctx, t.capability)
			})
		}()
	}
	wg.Wait()
	return results
}

func invoke[T any](ctx context.Context, a *Aggregator, op string, m member, fn func(context.Context) (T, error)) (res outcome[T]) {
	name := m.adapter.Name()
	res.adapter = name

	defer func() {
		if r := recover(); r != nil {
			res.err = fmt.Errorf("%w: %s %s panicked: %v", ErrUpstream, name, op, r)
			metrics.AdapterRequests.WithLabelValues(name, op, "error").Inc()
		}
	}()

	ctx, cancel := context.WithTimeout(ctx, a.opts.AdapterTimeout)
	defer cancel()
	ctx, span := logging.StartSpan(ctx, "adapter."+name+"."+op)
	defer span.End()

	start := time.Now()
	res.err = m.breaker.run(op, func() error {
		for attempt := 0; ; attempt++ {
			value, err := fn(ctx)
			if err == nil {
				res.value = value
				return nil
			}
			if !errors.Is(err, ErrRateLimited) || attempt >= a.opts.RateLimitRetries {
				return err
			}
			wait := retryDelay(attempt, retryAfter(err))
			if deadline, ok := ctx.Deadline(); ok && time.Until(deadline) < wait {
				return err
			}
			logging.FromContext(ctx).Debug("adapter rate limited; retrying",
				slog.Int("attempt", attempt+1),
				slog.Duration("wait", wait),
			)
			if !sleep(ctx, wait) {
				return err
			}
		}
	})

	span.Fail(res.err)
	metrics.AdapterDuration.WithLabelValues(name, op).Observe(time.Since(start).Seconds())
	metrics.AdapterRequests.WithLabelValues(name, op, outcomeLabel(res.err)).Inc()
	return res
}

func retryDelay(attempt int, hint time.Duration) time.Duration {
	if hint > 0 {
		return min(hint, maxRetryDelay)
	}
	return min(baseRetryDelay<<attempt, maxRetryDelay)
}

func sleep(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

func outcomeLabel(err error) string {
	switch {
	case err == nil:
		return "success"
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrRateLimited):
		return "rate_limited"
	case errors.Is(err, ErrCredentialsMissing):
		return "rejected"
	default:
		return "error"
	}
}

// mergeSummaries concatenates successful results in registry order, keeping
// the first summary seen for each id.
func mergeSummaries(results []outcome[[]models.AnimeSummary], limit int) []models.AnimeSummary {
	seen := make(map[string]struct{})
	out := make([]models.AnimeSummary, 0, limit)
	for _, r := range results {
		if r.err != nil {
			continue
		}
		for _, item := range r.value {
			if !item.Valid() {
				continue
			}
			if _, ok := seen[item.ID]; ok {
				continue
			}
			seen[item.ID] = struct{}{}
			out = append(out, item)
			if len(out) == limit {
				return out
			}
		}
	}
	return out
}

// mergeSchedule dedupes on (animeId, day): a show airing on several weekdays
// keeps one entry per day, the earliest slot on that day.
func mergeSchedule(results []outcome[[]models.ScheduleEntry]) []models.ScheduleEntry {
	var all []models.ScheduleEntry
	for _, r := range results {
		if r.err == nil {
			all = append(all, r.value...)
		}
	}
	return dedupeSchedule(filterDay(all, nil))
}
