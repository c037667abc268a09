// Package search provides web-search providers and the fallback chain that
// feeds the research agent. Every query surfaces at most MaxResults sources.
package search

import (
	"context"
	"errors"
	"log"

	"github.com/srgchrksv/newscaster/models"
)

// MaxResults is the hard cap on sources per query. The chain tops up from
// backup providers when the primary returns fewer, and trims when a provider
// returns more.
const MaxResults = 5

// Provider executes a query against one search backend.
type Provider interface {
	Name() string
	Search(ctx context.Context, query string) ([]models.SearchResult, error)
}

// Chain tries providers in priority order until MaxResults sources are
// collected. A provider error moves straight to the next provider.
type Chain struct {
	providers []Provider
}

// NewChain builds a chain from the given providers, in priority order.
func NewChain(providers ...Provider) *Chain {
	return &Chain{providers: providers}
}

// Providers returns the configured provider names, in order.
func (c *Chain) Providers() []string {
	names := make([]string, 0, len(c.providers))
	for _, p := range c.providers {
		names = append(names, p.Name())
	}
	return names
}

// Search runs the query through the chain. Results are deduplicated by URL
// and capped at exactly MaxResults. An error is returned only when every
// provider failed and nothing was collected.
func (c *Chain) Search(ctx context.Context, query string) ([]models.SearchResult, error) {
	if len(c.providers) == 0 {
		return nil, errors.New("no search providers configured")
	}

	seen := make(map[string]bool)
	var collected []models.SearchResult
	var lastErr error

	for _, p := range c.providers {
		if len(collected) >= MaxResults {
			break
		}
		results, err := p.Search(ctx, query)
		if err != nil {
			lastErr = err
			log.Printf("search: %s failed, trying next provider: %v", p.Name(), err)
			continue
		}
		for _, r := range results {
			if r.URL == "" || seen[r.URL] {
				continue
			}
			seen[r.URL] = true
			collected = append(collected, r)
			if len(collected) >= MaxResults {
				break
			}
		}
	}

	if len(collected) == 0 {
		if lastErr != nil {
			return nil, lastErr
		}
		return nil, errors.New("no search results found")
	}
	if len(collected) > MaxResults {
		collected = collected[:MaxResults]
	}
	return collected, nil
}
