package cache

import (
	"bufio"
	"context"
	"fmt"
	"io"

	json "github.com/goccy/go-json"
)

// Snapshotter is implemented by stores that can enumerate their contents.
type Snapshotter interface {
	Entries() []Entry
}

// WriteSnapshot streams every entry of src as newline-delimited JSON.
func WriteSnapshot(w io.Writer, src Snapshotter) (int, error) {
	entries := src.Entries()
	enc := json.NewEncoder(w)
	for _, entry := range entries {
		if err := enc.Encode(entry); err != nil {
			return 0, fmt.Errorf("encode snapshot entry %s: %w", entry.Key, err)
		}
	}
	return len(entries), nil
}

// RestoreSnapshot reads newline-delimited entries from r into dst. Entries with
// an empty key are skipped. An existing entry with a newer fetchedAt wins.
func RestoreSnapshot(ctx context.Context, r io.Reader, dst Store) (int, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)

	restored := 0
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var entry Entry
		if err := json.Unmarshal(line, &entry); err != nil {
			return restored, fmt.Errorf("decode snapshot entry: %w", err)
		}
		if entry.Key == "" {
			continue
		}
		current, ok, err := dst.Load(ctx, entry.Key)
		if err != nil {
			return restored, err
		}
		if ok && current.FetchedAt.After(entry.FetchedAt) {
			continue
		}
		if err := dst.Save(ctx, entry); err != nil {
			return restored, err
		}
		restored++
	}
	if err := scanner.Err(); err != nil {
		return restored, fmt.Errorf("read snapshot: %w", err)
	}
	return restored, nil
}
