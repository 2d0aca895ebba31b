package anime

import (
	"context"
	"fmt"
	"strings"

	"github.com/animehub/backend/internal/models"
)

// Kind enumerates the supported upstream adapters.
type Kind string

const (
	KindTMDB     Kind = "tmdb"
	KindAniList  Kind = "anilist"
	KindBilibili Kind = "bilibili"
)

// ParseKind maps a configured adapter name onto a Kind.
func ParseKind(name string) (Kind, error) {
	switch k := Kind(strings.ToLower(strings.TrimSpace(name))); k {
	case KindTMDB, KindAniList, KindBilibili:
		return k, nil
	default:
		return "", fmt.Errorf("unknown adapter %q", name)
	}
}

// Adapter is one upstream content source. Concrete adapters additionally
// implement the capability interfaces that their upstream supports; the
// aggregator discovers them with type assertions.
//
// Every value an adapter returns is already normalized to the models package.
type Adapter interface {
	Name() string
	Kind() Kind
}

// Lister pages through a provider's catalogue.
type Lister interface {
	Adapter
	MaxPageSize() int
	FetchList(ctx context.Context, page, pageSize int) ([]models.AnimeSummary, error)
}

// Searcher runs keyword searches. No results is an empty slice, not an error.
type Searcher interface {
	Adapter
	Search(ctx context.Context, keyword string, limit int) ([]models.AnimeSummary, error)
}

// DetailFetcher resolves a single id. Ids owned by another provider yield ErrNotFound.
type DetailFetcher interface {
	Adapter
	FetchDetail(ctx context.Context, id string) (models.AnimeSummary, error)
}

// ScheduleFetcher returns weekly broadcast entries sorted by day then air time.
// A nil day means all seven days.
type ScheduleFetcher interface {
	Adapter
	FetchSchedule(ctx context.Context, day *int) ([]models.ScheduleEntry, error)
}

// Registry is the ordered set of configured adapters. Order is the merge
// priority: earlier adapters win identifier collisions.
type Registry struct {
	adapters []Adapter
}

// NewRegistry validates adapters and keeps them in the given order.
func NewRegistry(adapters ...Adapter) (Registry, error) {
	seen := make(map[string]struct{}, len(adapters))
	out := make([]Adapter, 0, len(adapters))
	for _, a := range adapters {
		if a == nil {
			return Registry{}, fmt.Errorf("adapter must not be nil")
		}
		name := strings.ToLower(strings.TrimSpace(a.Name()))
		if name == "" {
			return Registry{}, fmt.Errorf("adapter name must not be empty")
		}
		if _, ok := seen[name]; ok {
			return Registry{}, fmt.Errorf("duplicate adapter %q", name)
		}
		seen[name] = struct{}{}
		out = append(out, a)
	}
	return Registry{adapters: out}, nil
}

// Adapters returns the configured adapters in priority order.
func (r Registry) Adapters() []Adapter {
	return append([]Adapter(nil), r.adapters...)
}

// Len reports the number of configured adapters.
func (r Registry) Len() int { return len(r.adapters) }

// ownedID strips prefix from id, reporting whether id belongs to that provider.
func ownedID(id string, kind Kind) (string, bool) {
	prefix := string(kind) + ":"
	if !strings.HasPrefix(id, prefix) {
		return "", false
	}
	rest := strings.TrimSpace(strings.TrimPrefix(id, prefix))
	return rest, rest != ""
}

func prefixedID(kind Kind, native string) string {
	return string(kind) + ":" + native
}
