package cache

import (
	"context"
	"errors"
	"log/slog"
)

// TieredStore keeps a fast front store (usually memory) in front of a durable
// back store. Reads fall through to the back store on a front miss and
// repopulate the front. Writes go to the back store first so the front never
// holds a value the durable tier rejected.
type TieredStore struct {
	front  Store
	back   Store
	logger *slog.Logger
}

// NewTieredStore combines front and back. Both must be non-nil.
func NewTieredStore(front, back Store, logger *slog.Logger) (*TieredStore, error) {
	if front == nil || back == nil {
		return nil, errors.New("cache: tiered store requires front and back stores")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &TieredStore{front: front, back: back, logger: logger}, nil
}

func (t *TieredStore) Load(ctx context.Context, key string) (Entry, bool, error) {
	entry, ok, err := t.front.Load(ctx, key)
	if err == nil && ok {
		return entry, true, nil
	}

	entry, ok, err = t.back.Load(ctx, key)
	if err != nil || !ok {
		return Entry{}, false, err
	}
	if err := t.front.Save(ctx, entry); err != nil {
		t.logger.Warn("populate front cache", "key", key, "error", err)
	}
	return entry, true, nil
}

func (t *TieredStore) Save(ctx context.Context, entry Entry) error {
	if err := t.back.Save(ctx, entry); err != nil {
		return err
	}
	return t.front.Save(ctx, entry)
}

func (t *TieredStore) Delete(ctx context.Context, key string) error {
	return errors.Join(t.back.Delete(ctx, key), t.front.Delete(ctx, key))
}
