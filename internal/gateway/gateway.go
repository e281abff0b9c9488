package gateway

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"go.uber.org/zap"
)

// Gateway manages all platform adapters and routes messages.
type Gateway struct {
	adapters map[string]GatewayAdapter
	handler  MessageHandler
	mu       sync.RWMutex
	logger   *zap.Logger
}

// NewGateway creates a gateway manager.
func NewGateway(logger *zap.Logger) *Gateway {
	return &Gateway{
		adapters: make(map[string]GatewayAdapter),
		logger:   logger,
	}
}

// SetHandler sets the callback for all inbound messages.
func (g *Gateway) SetHandler(h MessageHandler) {
	g.mu.Lock()
	g.handler = h
	g.mu.Unlock()
}

// Register adds an adapter and wires its message handler.
func (g *Gateway) Register(adapter GatewayAdapter) {
	g.mu.Lock()
	defer g.mu.Unlock()

	platform := adapter.Platform()
	g.adapters[platform] = adapter
	adapter.OnMessage(g.dispatch)
	g.logger.Info("registered gateway adapter", zap.String("platform", platform))
}

func (g *Gateway) dispatch(msg *InboundMessage) {
	g.mu.RLock()
	h := g.handler
	g.mu.RUnlock()
	if h != nil {
		h(msg)
	}
}

// ConnectAll starts all registered adapters. A failing adapter is logged
// and skipped so one platform cannot keep the others offline; the joined
// errors are returned.
func (g *Gateway) ConnectAll(ctx context.Context) error {
	g.mu.RLock()
	defer g.mu.RUnlock()

	var errs []error
	for platform, adapter := range g.adapters {
		if err := adapter.Connect(ctx); err != nil {
			g.logger.Error("adapter connect failed",
				zap.String("platform", platform), zap.Error(err))
			errs = append(errs, fmt.Errorf("connect %s: %w", platform, err))
			continue
		}
		g.logger.Info("adapter connected", zap.String("platform", platform))
	}
	return errors.Join(errs...)
}

// Send sends a message to a specific platform channel.
func (g *Gateway) Send(ctx context.Context, msg *OutboundMessage) error {
	g.mu.RLock()
	adapter, ok := g.adapters[msg.Platform]
	g.mu.RUnlock()

	if !ok {
		return fmt.Errorf("no adapter for platform: %s", msg.Platform)
	}
	return adapter.Send(ctx, msg)
}

// Close shuts down all adapters.
func (g *Gateway) Close() error {
	g.mu.RLock()
	defer g.mu.RUnlock()

	for platform, adapter := range g.adapters {
		if err := adapter.Close(); err != nil {
			g.logger.Error("adapter close failed",
				zap.String("platform", platform), zap.Error(err))
		}
	}
	return nil
}

// Adapters returns the sorted list of registered platform names.
func (g *Gateway) Adapters() []string {
	g.mu.RLock()
	defer g.mu.RUnlock()
	names := make([]string, 0, len(g.adapters))
	for p := range g.adapters {
		names = append(names, p)
	}
	sort.Strings(names)
	return names
}

// StatusAll reports every adapter's connection state, sorted by platform.
func (g *Gateway) StatusAll() []AdapterStatus {
	g.mu.RLock()
	out := make([]AdapterStatus, 0, len(g.adapters))
	for _, a := range g.adapters {
		out = append(out, a.Status())
	}
	g.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Platform < out[j].Platform })
	return out
}
