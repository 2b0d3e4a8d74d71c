// Package source resolves configured news sources to fetcher strategies.
package source

import (
	"fmt"

	"NewsBot/internal/ports"
)

// Registry keeps a mapping from fetcher names (rss, html, ...) to their
// implementations.
type Registry struct {
	fetchers map[string]ports.Fetcher
}

// NewRegistry builds an empty registry.
func NewRegistry() *Registry {
	return &Registry{fetchers: map[string]ports.Fetcher{}}
}

// Register adds or replaces a fetcher implementation.
func (r *Registry) Register(f ports.Fetcher) {
	if r.fetchers == nil {
		r.fetchers = map[string]ports.Fetcher{}
	}
	r.fetchers[f.Name()] = f
}

// Resolve returns a fetcher by name or an error if it is absent.
func (r *Registry) Resolve(name string) (ports.Fetcher, error) {
	if f, ok := r.fetchers[name]; ok {
		return f, nil
	}
	return nil, fmt.Errorf("fetcher %s is not registered", name)
}
