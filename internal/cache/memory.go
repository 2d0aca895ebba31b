package cache

import (
	"container/list"
	"context"
	"sync"

	"github.com/cespare/xxhash/v2"
)

const shardCount = 16

// MemoryStore is a sharded in-process store. Each shard has its own lock so
// operations on different keys rarely contend. When capacity is positive each
// shard evicts its least recently used entry once full.
type MemoryStore struct {
	shards [shardCount]*shard
}

type shard struct {
	mu       sync.Mutex
	capacity int
	order    *list.List
	items    map[string]*list.Element
}

// NewMemoryStore returns a store holding at most capacity entries in total;
// capacity <= 0 means unbounded.
func NewMemoryStore(capacity int) *MemoryStore {
	perShard := 0
	if capacity > 0 {
		perShard = (capacity + shardCount - 1) / shardCount
	}
	s := &MemoryStore{}
	for i := range s.shards {
		s.shards[i] = &shard{
			capacity: perShard,
			order:    list.New(),
			items:    make(map[string]*list.Element),
		}
	}
	return s
}

func (s *MemoryStore) shardFor(key string) *shard {
	return s.shards[xxhash.Sum64String(key)%shardCount]
}

// Load returns a copy of the stored entry.
func (s *MemoryStore) Load(_ context.Context, key string) (Entry, bool, error) {
	sh := s.shardFor(key)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	el, ok := sh.items[key]
	if !ok {
		return Entry{}, false, nil
	}
	sh.order.MoveToFront(el)
	return cloneEntry(el.Value.(Entry)), true, nil
}

// Save replaces the entry for entry.Key.
func (s *MemoryStore) Save(_ context.Context, entry Entry) error {
	entry = cloneEntry(entry)
	sh := s.shardFor(entry.Key)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	if el, ok := sh.items[entry.Key]; ok {
		el.Value = entry
		sh.order.MoveToFront(el)
		return nil
	}
	sh.items[entry.Key] = sh.order.PushFront(entry)
	if sh.capacity > 0 {
		for sh.order.Len() > sh.capacity {
			oldest := sh.order.Back()
			sh.order.Remove(oldest)
			delete(sh.items, oldest.Value.(Entry).Key)
		}
	}
	return nil
}

// Delete removes key if present.
func (s *MemoryStore) Delete(_ context.Context, key string) error {
	sh := s.shardFor(key)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	if el, ok := sh.items[key]; ok {
		sh.order.Remove(el)
		delete(sh.items, key)
	}
	return nil
}

// Len reports the number of stored entries.
func (s *MemoryStore) Len() int {
	n := 0
	for _, sh := range s.shards {
		sh.mu.Lock()
		n += len(sh.items)
		sh.mu.Unlock()
	}
	return n
}

// Entries returns a copy of every stored entry in no particular order.
func (s *MemoryStore) Entries() []Entry {
	var out []Entry
	for _, sh := range s.shards {
		sh.mu.Lock()
		for el := sh.order.Front(); el != nil; el = el.Next() {
			out = append(out, cloneEntry(el.Value.(Entry)))
		}
		sh.mu.Unlock()
	}
	return out
}

func cloneEntry(e Entry) Entry {
	e.Payload = append([]byte(nil), e.Payload...)
	return e
}
