// Package search defines the retrieval capability consumed by the research
// worker: pluggable source adapters selected by the planner's source-type
// hint.
package search

import (
	"context"
	"time"
)

// Result is a single hit returned by an adapter.
type Result struct {
	Title       string    `json:"title"`
	Link        string    `json:"link"`
	Snippet     string    `json:"snippet,omitempty"`
	Content     string    `json:"content,omitempty"`
	PublishedAt time.Time `json:"published_at,omitzero"`
}

// Provider is one external search source. Implementations must honor the
// context deadline and must not block indefinitely.
type Provider interface {
	Search(ctx context.Context, query string, k int) ([]Result, error)
}

// Registry maps source-type hints to an ordered adapter chain: the first
// entry is the primary, later entries are fallbacks tried when the primary
// fails or returns nothing.
type Registry struct {
	chains   map[string][]Provider
	fallback []Provider
}

// NewRegistry creates an empty registry. fallback is used for unknown hints.
func NewRegistry(fallback ...Provider) *Registry {
	return &Registry{chains: make(map[string][]Provider), fallback: fallback}
}

// Register sets the adapter chain for a source type.
func (r *Registry) Register(sourceType string, providers ...Provider) {
	r.chains[sourceType] = providers
}

// Lookup returns the adapter chain for a source type, or the registry
// fallback when the hint is unknown.
func (r *Registry) Lookup(sourceType string) []Provider {
	if chain, ok := r.chains[sourceType]; ok && len(chain) > 0 {
		return chain
	}
	return r.fallback
}

// SourceTypes lists the registered hints.
func (r *Registry) SourceTypes() []string {
	out := make([]string, 0, len(r.chains))
	for st := range r.chains {
		out = append(out, st)
	}
	return out
}
