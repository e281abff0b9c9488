package provider

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"
)

// Router holds the configured providers and opens streams on the primary,
// falling back down the chain when the primary cannot open a stream.
// Once a stream is open it is never switched mid-response.
type Router struct {
	providers map[string]Provider
	order     []string
	mu        sync.RWMutex
	logger    *zap.Logger
}

// NewRouter creates an empty provider router.
func NewRouter(logger *zap.Logger) *Router {
	return &Router{
		providers: make(map[string]Provider),
		logger:    logger,
	}
}

// Register appends a provider to the fallback chain. The first registered
// provider is the primary.
func (r *Router) Register(p Provider) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.providers[p.ID()]; !ok {
		r.order = append(r.order, p.ID())
	}
	r.providers[p.ID()] = p
	r.logger.Info("registered provider", zap.String("id", p.ID()), zap.String("name", p.Name()))
}

func (r *Router) ID() string { return "router" }

func (r *Router) Name() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if len(r.order) == 0 {
		return "router"
	}
	return r.providers[r.order[0]].Name()
}

// ChatStream opens a stream on the first provider that accepts the request.
// Only transport failures and retryable API errors move on to the next
// provider; a 4xx from the primary is returned as is.
func (r *Router) ChatStream(ctx context.Context, req *ChatRequest) (<-chan *StreamChunk, error) {
	r.mu.RLock()
	chain := make([]Provider, 0, len(r.order))
	for _, id := range r.order {
		chain = append(chain, r.providers[id])
	}
	r.mu.RUnlock()

	if len(chain) == 0 {
		return nil, ErrNoProvider
	}

	var lastErr error
	for i, p := range chain {
		ch, err := p.ChatStream(ctx, req)
		if err == nil {
			return ch, nil
		}
		lastErr = err

		var apiErr *APIError
		if errors.As(err, &apiErr) && !apiErr.Retryable() {
			return nil, err
		}
		if ctx.Err() != nil {
			return nil, err
		}
		if i < len(chain)-1 {
			r.logger.Warn("provider failed, trying fallback",
				zap.String("provider", p.ID()), zap.Error(err))
		}
	}
	return nil, fmt.Errorf("all providers failed: %w", lastErr)
}

// HealthCheck checks the primary provider.
func (r *Router) HealthCheck(ctx context.Context) error {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if len(r.order) == 0 {
		return ErrNoProvider
	}
	return r.providers[r.order[0]].HealthCheck(ctx)
}

// GetProvider returns a provider by ID.
func (r *Router) GetProvider(id string) (Provider, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.providers[id]
	return p, ok
}

// ListProviders returns all registered providers in fallback order.
func (r *Router) ListProviders() []Provider {
	r.mu.RLock()
	defer r.mu.RUnlock()
	result := make([]Provider, 0, len(r.order))
	for _, id := range r.order {
		result = append(result, r.providers[id])
	}
	return result
}
