// Package repositories holds the PostgreSQL persistence used behind the cache layer.
package repositories

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/animehub/backend/internal/cache"
	"github.com/animehub/backend/internal/db"
)

// PostgresCacheRepository persists cache entries to the cache_entries table so
// stale fallbacks survive restarts and are shared between instances.
type PostgresCacheRepository struct {
	pool db.Pool
}

// NewPostgresCacheRepository constructs a cache store backed by PostgreSQL.
func NewPostgresCacheRepository(pool db.Pool) *PostgresCacheRepository {
	return &PostgresCacheRepository{pool: pool}
}

// Load fetches the entry stored under key.
func (r *PostgresCacheRepository) Load(ctx context.Context, key string) (cache.Entry, bool, error) {
	conn, err := r.pool.Acquire(ctx)
	if err != nil {
		return cache.Entry{}, false, fmt.Errorf("acquire connection: %w", err)
	}
	defer conn.Release()

	row := conn.QueryRow(ctx, `
        SELECT key, payload, fetched_at, ttl_ms
        FROM cache_entries
        WHERE key = $1
    `, key)

	var (
		entry cache.Entry
		ttlMS int64
	)
	if err := row.Scan(&entry.Key, &entry.Payload, &entry.FetchedAt, &ttlMS); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return cache.Entry{}, false, nil
		}
		return cache.Entry{}, false, fmt.Errorf("select cache entry: %w", err)
	}
	entry.FetchedAt = entry.FetchedAt.UTC()
	entry.TTL = time.Duration(ttlMS) * time.Millisecond
	return entry, true, nil
}

// Save upserts entry. A row written by another instance with a newer
// fetched_at is left in place.
func (r *PostgresCacheRepository) Save(ctx context.Context, entry cache.Entry) error {
	if strings.TrimSpace(entry.Key) == "" {
		return ErrInvalidEntry
	}
	conn, err := r.pool.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("acquire connection: %w", err)
	}
	defer conn.Release()

	_, err = conn.Exec(ctx, `
        INSERT INTO cache_entries (key, payload, fetched_at, ttl_ms, updated_at)
        VALUES ($1, $2, $3, $4, now())
        ON CONFLICT (key)
        DO UPDATE SET payload = EXCLUDED.payload,
                      fetched_at = EXCLUDED.fetched_at,
                      ttl_ms = EXCLUDED.ttl_ms,
                      updated_at = now()
        WHERE cache_entries.fetched_at <= EXCLUDED.fetched_at
    `, entry.Key, entry.Payload, entry.FetchedAt.UTC(), entry.TTL.Milliseconds())
	if err != nil {
		return fmt.Errorf("upsert cache entry: %w", err)
	}
	return nil
}

// Delete removes key. Deleting a missing key is not an error.
func (r *PostgresCacheRepository) Delete(ctx context.Context, key string) error {
	conn, err := r.pool.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("acquire connection: %w", err)
	}
	defer conn.Release()

	if _, err := conn.Exec(ctx, `DELETE FROM cache_entries WHERE key = $1`, key); err != nil {
		return fmt.Errorf("delete cache entry: %w", err)
	}
	return nil
}

// PruneBefore deletes entries fetched before cutoff and reports how many went.
func (r *PostgresCacheRepository) PruneBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	conn, err := r.pool.Acquire(ctx)
	if err != nil {
		return 0, fmt.Errorf("acquire connection: %w", err)
	}
	defer conn.Release()

	tag, err := conn.Exec(ctx, `DELETE FROM cache_entries WHERE fetched_at < $1`, cutoff.UTC())
	if err != nil {
		return 0, fmt.Errorf("prune cache entries: %w", err)
	}
	return tag.RowsAffected(), nil
}

var _ cache.Store = (*PostgresCacheRepository)(nil)
