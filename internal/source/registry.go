// Package source maps source ids to their adapters and ranking policies.
package source

import (
	"fmt"
	"sort"
	"strings"

	"github.com/JakeFAU/news-engagement-crawler/internal/crawler"
)

// Entry is a registered source.
type Entry struct {
	Adapter crawler.SourceAdapter
	Policy  crawler.RankPolicy
}

// Registry resolves source ids. It is read-only after construction.
type Registry struct {
	entries map[string]Entry
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{entries: make(map[string]Entry)}
}

// Register adds adapter under its Name with the given ranking policy.
func (r *Registry) Register(adapter crawler.SourceAdapter, policy crawler.RankPolicy) error {
	if adapter == nil {
		return fmt.Errorf("adapter is required")
	}
	if !policy.Valid() {
		return fmt.Errorf("source %q: unsupported rank policy %q", adapter.Name(), policy)
	}
	name := adapter.Name()
	if _, dup := r.entries[name]; dup {
		return fmt.Errorf("source %q already registered", name)
	}
	r.entries[name] = Entry{Adapter: adapter, Policy: policy}
	return nil
}

// Resolve returns the entry for name or crawler.ErrUnknownSource.
func (r *Registry) Resolve(name string) (Entry, error) {
	e, ok := r.entries[strings.ToLower(strings.TrimSpace(name))]
	if !ok {
		return Entry{}, fmt.Errorf("%w: %q", crawler.ErrUnknownSource, name)
	}
	return e, nil
}

// Names lists registered sources in sorted order.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.entries))
	for n := range r.entries {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}
