package tts

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"
)

// Router tries providers in order, moving on only when one reports
// ErrProviderUnavailable.
type Router struct {
	providers []Provider
	logger    zerolog.Logger
}

// NewRouter creates a router over the given providers. Nil entries are
// skipped.
func NewRouter(logger zerolog.Logger, providers ...Provider) *Router {
	r := &Router{logger: logger.With().Str("component", "tts").Logger()}
	for _, p := range providers {
		if p != nil {
			r.providers = append(r.providers, p)
		}
	}
	return r
}

// Name returns the router identifier
func (r *Router) Name() string {
	return "tts-router"
}

// Health succeeds if any provider is usable.
func (r *Router) Health(ctx context.Context) error {
	for _, p := range r.providers {
		if p.Health(ctx) == nil {
			return nil
		}
	}
	return ErrProviderUnavailable
}

// Providers lists the provider names in order.
func (r *Router) Providers() []string {
	names := make([]string, len(r.providers))
	for i, p := range r.providers {
		names[i] = p.Name()
	}
	return names
}

// Synthesize runs the request against the pinned provider first, if any,
// then the rest in order.
func (r *Router) Synthesize(ctx context.Context, req *SynthesizeRequest) (*SynthesizeResponse, error) {
	if len(r.providers) == 0 {
		return nil, ErrNoProviders
	}

	var lastErr error
	for _, p := range r.ordered(req.Provider) {
		resp, err := p.Synthesize(ctx, req)
		if err == nil {
			return resp, nil
		}
		if !errors.Is(err, ErrProviderUnavailable) || ctx.Err() != nil {
			return nil, err
		}
		r.logger.Warn().Err(err).Str("provider", p.Name()).Msg("TTS provider unavailable, trying next")
		lastErr = err
	}
	return nil, fmt.Errorf("all TTS providers failed: %w", lastErr)
}

func (r *Router) ordered(pinned string) []Provider {
	if pinned == "" {
		return r.providers
	}
	out := make([]Provider, 0, len(r.providers))
	for _, p := range r.providers {
		if p.Name() == pinned {
			out = append(out, p)
		}
	}
	for _, p := range r.providers {
		if p.Name() != pinned {
			out = append(out, p)
		}
	}
	return out
}
