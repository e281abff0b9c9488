package provider

import (
	"context"
	"time"
)

// DefaultMaxTokens is the generation ceiling sent with every completion request.
const DefaultMaxTokens = 8192

// Provider defines the interface for LLM completion backends.
type Provider interface {
	ID() string
	Name() string
	ChatStream(ctx context.Context, req *ChatRequest) (<-chan *StreamChunk, error)
	HealthCheck(ctx context.Context) error
}

// ChatRequest represents a request to an LLM provider.
type ChatRequest struct {
	Model       string    `json:"model"`
	Messages    []Message `json:"messages"`
	Temperature float64   `json:"temperature"`
	MaxTokens   int       `json:"max_tokens,omitempty"`
	Stream      bool      `json:"stream"`
}

// Message is a role/content pair on the wire.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// StreamChunk is one element of a completion stream. A chunk with Err set
// is always the last one sent before the channel closes.
type StreamChunk struct {
	Content      string `json:"content,omitempty"`
	FinishReason string `json:"finish_reason,omitempty"`
	Done         bool   `json:"done"`
	Err          error  `json:"-"`
}

// ProviderConfig holds configuration for a provider instance.
type ProviderConfig struct {
	ID       string            `json:"id"`
	Type     string            `json:"type"`
	Name     string            `json:"name"`
	Endpoint string            `json:"endpoint"`
	APIKey   string            `json:"api_key"`
	Model    string            `json:"model"`
	Extra    map[string]string `json:"extra,omitempty"`
	Timeout  time.Duration     `json:"timeout,omitempty"`
}
