// Package search provides the web search tool available to the router.
//
// Each backend implements [Provider] and is registered by name. The
// [Manager] sends queries to the primary provider and falls back to the
// others, in registration order, when it fails.
package search

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
)

// Result is a single search result.
type Result struct {
	Title   string `json:"title"`
	URL     string `json:"url,omitempty"`
	Snippet string `json:"snippet,omitempty"`
}

// Options are optional parameters for a search query.
type Options struct {
	// Count is the maximum number of results. Zero means provider default.
	Count int `json:"count,omitempty"`

	// Language is an ISO 639-1 code, e.g. "ko".
	Language string `json:"language,omitempty"`
}

// Provider is implemented by search backends.
type Provider interface {
	Name() string
	Search(ctx context.Context, query string, opts Options) ([]Result, error)
}

// Manager holds configured providers and routes searches.
type Manager struct {
	providers map[string]Provider
	order     []string
	primary   string
	logger    *slog.Logger
}

// NewManager creates a search manager with the given primary provider.
func NewManager(primary string, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		providers: make(map[string]Provider),
		primary:   primary,
		logger:    logger,
	}
}

// Register adds a provider.
func (m *Manager) Register(p Provider) {
	if _, ok := m.providers[p.Name()]; !ok {
		m.order = append(m.order, p.Name())
	}
	m.providers[p.Name()] = p
}

// Configured reports whether at least one provider is registered.
func (m *Manager) Configured() bool {
	return len(m.providers) > 0
}

// Providers returns the registered provider names in registration order.
func (m *Manager) Providers() []string {
	return append([]string(nil), m.order...)
}

// Search runs query on the primary provider, then on each other
// provider until one succeeds.
func (m *Manager) Search(ctx context.Context, query string, opts Options) ([]Result, error) {
	if !m.Configured() {
		return nil, errors.New("no search provider configured")
	}

	candidates := make([]string, 0, len(m.order))
	if _, ok := m.providers[m.primary]; ok {
		candidates = append(candidates, m.primary)
	}
	for _, name := range m.order {
		if name != m.primary {
			candidates = append(candidates, name)
		}
	}

	var errs []error
	for _, name := range candidates {
		results, err := m.providers[name].Search(ctx, query, opts)
		if err == nil {
			return results, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		m.logger.Warn("search provider failed", "provider", name, "error", err)
		errs = append(errs, fmt.Errorf("%s: %w", name, err))
	}
	return nil, errors.Join(errs...)
}
