// Package cache implements the refresh-aware key/value layer that backs the
// anime aggregator. Staleness is answered separately from lookup so callers
// can serve an expired entry while a refresh runs or after it fails.
package cache

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrEmptyKey is returned when an operation is attempted without a key.
var ErrEmptyKey = errors.New("cache: empty key")

// Entry is one stored result. Entries are immutable once stored; a refresh
// replaces the whole value.
type Entry struct {
	Key       string        `json:"key"`
	Payload   []byte        `json:"payload"`
	FetchedAt time.Time     `json:"fetchedAt"`
	TTL       time.Duration `json:"ttl"`
}

// Age reports how old the entry is relative to now.
func (e Entry) Age(now time.Time) time.Duration {
	return now.Sub(e.FetchedAt)
}

// Expired reports whether the entry has outlived its own TTL.
func (e Entry) Expired(now time.Time) bool {
	return e.TTL > 0 && e.Age(now) > e.TTL
}

// Store persists entries. Implementations must be safe for concurrent use and
// must never expose a partially written entry.
type Store interface {
	Load(ctx context.Context, key string) (Entry, bool, error)
	Save(ctx context.Context, entry Entry) error
	Delete(ctx context.Context, key string) error
}

// Layer is the cache contract used by the aggregator.
type Layer struct {
	store Store
	now   func() time.Time
}

// Option customises a Layer.
type Option func(*Layer)

// WithClock overrides the wall clock used for fetchedAt and staleness checks.
func WithClock(now func() time.Time) Option {
	return func(l *Layer) {
		if now != nil {
			l.now = now
		}
	}
}

// NewLayer wraps store. A nil store falls back to an unbounded memory store.
func NewLayer(store Store, opts ...Option) *Layer {
	if store == nil {
		store = NewMemoryStore(0)
	}
	l := &Layer{store: store, now: time.Now}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Get returns whatever was last stored under key, expired or not. It never
// triggers a fetch.
func (l *Layer) Get(ctx context.Context, key string) (Entry, bool, error) {
	key, err := normalizeKey(key)
	if err != nil {
		return Entry{}, false, err
	}
	entry, ok, err := l.store.Load(ctx, key)
	if err != nil {
		return Entry{}, false, fmt.Errorf("cache get %s: %w", key, err)
	}
	return entry, ok, nil
}

// Set replaces the entry for key with a fresh copy of payload.
func (l *Layer) Set(ctx context.Context, key string, payload []byte, ttl time.Duration) error {
	key, err := normalizeKey(key)
	if err != nil {
		return err
	}
	entry := Entry{
		Key:       key,
		Payload:   append([]byte(nil), payload...),
		FetchedAt: l.now().UTC(),
		TTL:       ttl,
	}
	if err := l.store.Save(ctx, entry); err != nil {
		return fmt.Errorf("cache set %s: %w", key, err)
	}
	return nil
}

// IsStale reports true when no entry exists for key or when it is older than
// maxAge. Lookup errors count as stale.
func (l *Layer) IsStale(ctx context.Context, key string, maxAge time.Duration) bool {
	entry, ok, err := l.Get(ctx, key)
	if err != nil || !ok {
		return true
	}
	return l.Stale(entry, maxAge)
}

// Stale applies the staleness rule to an entry already in hand.
func (l *Layer) Stale(entry Entry, maxAge time.Duration) bool {
	return entry.Age(l.now()) > maxAge
}

// Invalidate removes the entry for key.
func (l *Layer) Invalidate(ctx context.Context, key string) error {
	key, err := normalizeKey(key)
	if err != nil {
		return err
	}
	if err := l.store.Delete(ctx, key); err != nil {
		return fmt.Errorf("cache invalidate %s: %w", key, err)
	}
	return nil
}

// Now exposes the layer clock so callers agree on "now" with staleness checks.
func (l *Layer) Now() time.Time {
	return l.now()
}

func normalizeKey(key string) (string, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return "", ErrEmptyKey
	}
	return key, nil
}
