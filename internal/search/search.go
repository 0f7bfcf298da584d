// Package search answers live questions from the web.
package search

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"
)

var (
	// ErrNotConfigured is returned by a searcher that lacks credentials.
	ErrNotConfigured = errors.New("search provider not configured")
	// ErrNoResults means the provider answered but found nothing.
	ErrNoResults = errors.New("no search results")
)

// Result is one hit.
type Result struct {
	Title   string `json:"title"`
	URL     string `json:"url"`
	Snippet string `json:"snippet"`
}

// Response is a provider's answer to a query.
type Response struct {
	Query string `json:"query"`
	// Answer is a provider-written summary, when the provider offers one
	Answer   string   `json:"answer,omitempty"`
	Results  []Result `json:"results"`
	Provider string   `json:"provider"`
}

// Searcher runs a web query.
type Searcher interface {
	Name() string
	Search(ctx context.Context, query string) (*Response, error)
}

// Fallback tries searchers in order until one returns results.
type Fallback struct {
	searchers []Searcher
	logger    zerolog.Logger
}

// NewFallback skips nil searchers.
func NewFallback(logger zerolog.Logger, searchers ...Searcher) *Fallback {
	f := &Fallback{logger: logger.With().Str("component", "search").Logger()}
	for _, s := range searchers {
		if s != nil {
			f.searchers = append(f.searchers, s)
		}
	}
	return f
}

func (f *Fallback) Name() string { return "fallback" }

// Search returns the first non-empty response. A cancelled context stops
// the chain.
func (f *Fallback) Search(ctx context.Context, query string) (*Response, error) {
	if len(f.searchers) == 0 {
		return nil, ErrNotConfigured
	}
	var errs []error
	for _, s := range f.searchers {
		resp, err := s.Search(ctx, query)
		if err == nil && (resp.Answer != "" || len(resp.Results) > 0) {
			return resp, nil
		}
		if err == nil {
			err = ErrNoResults
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		f.logger.Warn().Err(err).Str("provider", s.Name()).Msg("search failed, trying next")
		errs = append(errs, fmt.Errorf("%s: %w", s.Name(), err))
	}
	return nil, errors.Join(errs...)
}
