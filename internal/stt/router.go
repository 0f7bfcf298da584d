package stt

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog"
)

// Router sends requests to the primary provider and falls back to the
// secondary when the primary is unavailable.
type Router struct {
	primary  Provider
	fallback Provider
	logger   zerolog.Logger

	mu        sync.RWMutex
	available map[string]bool
}

// NewRouter creates a router. fallback may be nil.
func NewRouter(logger zerolog.Logger, primary, fallback Provider) *Router {
	return &Router{
		primary:   primary,
		fallback:  fallback,
		logger:    logger.With().Str("component", "stt").Logger(),
		available: make(map[string]bool),
	}
}

// Name returns the router identifier
func (r *Router) Name() string {
	return "stt-router"
}

// Refresh runs each provider's health check and caches the result.
func (r *Router) Refresh(ctx context.Context) {
	status := make(map[string]bool)
	for _, p := range r.providers() {
		err := p.Health(ctx)
		status[p.Name()] = err == nil
		if err != nil {
			r.logger.Debug().Err(err).Str("provider", p.Name()).Msg("STT provider unhealthy")
		}
	}

	r.mu.Lock()
	r.available = status
	r.mu.Unlock()
}

// Status returns the cached availability per provider.
func (r *Router) Status() map[string]bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]bool, len(r.available))
	for k, v := range r.available {
		out[k] = v
	}
	return out
}

// Health succeeds if any provider is usable.
func (r *Router) Health(ctx context.Context) error {
	for _, p := range r.providers() {
		if p.Health(ctx) == nil {
			return nil
		}
	}
	return ErrProviderUnavailable
}

// Transcribe tries providers in order, skipping ones the last refresh
// marked unavailable. Only ErrProviderUnavailable moves on to the next
// provider; other errors are returned as-is.
func (r *Router) Transcribe(ctx context.Context, req *TranscribeRequest) (*TranscribeResponse, error) {
	providers := r.providers()
	if len(providers) == 0 {
		return nil, ErrNoProviders
	}

	var lastErr error
	for _, p := range providers {
		if !r.usable(p.Name()) {
			lastErr = fmt.Errorf("%s: %w", p.Name(), ErrProviderUnavailable)
			continue
		}
		resp, err := p.Transcribe(ctx, req)
		if err == nil {
			return resp, nil
		}
		if !errors.Is(err, ErrProviderUnavailable) || ctx.Err() != nil {
			return nil, err
		}
		r.logger.Warn().Err(err).Str("provider", p.Name()).Msg("STT provider unavailable, trying next")
		lastErr = err
	}
	return nil, lastErr
}

// usable treats providers missing from the cache as available.
func (r *Router) usable(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ok, checked := r.available[name]
	return !checked || ok
}

func (r *Router) providers() []Provider {
	var out []Provider
	if r.primary != nil {
		out = append(out, r.primary)
	}
	if r.fallback != nil {
		out = append(out, r.fallback)
	}
	return out
}
