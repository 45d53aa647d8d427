package adapter

import (
	"fmt"
	"log/slog"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/alanyoungcy/oddsbot/internal/domain"
)

// Adapter kinds shipped with the service.
const (
	KindFile     = "file"
	KindHTTPJSON = "http_json"
)

// Spec is the configuration of one bookmaker's adapter.
type Spec struct {
	Code     string
	Kind     string
	URL      string
	Path     string
	Timezone string
	PageSize int
	// ProviderEventIDs treats numeric event ids as SportRadar match numbers.
	ProviderEventIDs bool
}

func (s Spec) format(loc *time.Location) FeedFormat {
	return FeedFormat{Location: loc, ProviderEventIDs: s.ProviderEventIDs}
}

// Deps are the shared collaborators handed to adapter factories.
type Deps struct {
	HTTPClient *http.Client
	Limiter    domain.RateLimiter
	Logger     *slog.Logger
}

// Factory builds an adapter from its spec.
type Factory func(spec Spec, deps Deps) (domain.BookmakerAdapter, error)

// Registry maps adapter kinds to factories so adapters are chosen by
// configuration.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
}

// NewRegistry returns a Registry with the built-in kinds registered.
func NewRegistry() *Registry {
	r := &Registry{factories: make(map[string]Factory)}
	r.Register(KindFile, newFileFromSpec)
	r.Register(KindHTTPJSON, newHTTPFromSpec)
	return r
}

// Register adds or replaces the factory for kind.
func (r *Registry) Register(kind string, f Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[kind] = f
}

// Kinds lists the registered kinds in order.
func (r *Registry) Kinds() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	kinds := make([]string, 0, len(r.factories))
	for k := range r.factories {
		kinds = append(kinds, k)
	}
	sort.Strings(kinds)
	return kinds
}

// Build creates the adapter for spec.
func (r *Registry) Build(spec Spec, deps Deps) (domain.BookmakerAdapter, error) {
	r.mu.RLock()
	f, ok := r.factories[spec.Kind]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("adapter: unknown kind %q for bookmaker %s", spec.Kind, spec.Code)
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.HTTPClient == nil {
		deps.HTTPClient = &http.Client{Timeout: 30 * time.Second}
	}
	a, err := f(spec, deps)
	if err != nil {
		return nil, fmt.Errorf("adapter: build %s (%s): %w", spec.Code, spec.Kind, err)
	}
	return a, nil
}

func loadLocation(name string) (*time.Location, error) {
	if name == "" {
		return time.UTC, nil
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return nil, fmt.Errorf("timezone %q: %w", name, err)
	}
	return loc, nil
}
