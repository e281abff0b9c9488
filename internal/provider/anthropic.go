package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"go.uber.org/zap"
)

// AnthropicProvider implements Provider for the Claude Messages API.
type AnthropicProvider struct {
	config ProviderConfig
	client *http.Client
	logger *zap.Logger
}

// NewAnthropicProvider creates a new Anthropic provider.
func NewAnthropicProvider(cfg ProviderConfig, logger *zap.Logger) *AnthropicProvider {
	if cfg.Endpoint == "" {
		cfg.Endpoint = "https://api.anthropic.com/v1"
	}
	return &AnthropicProvider{
		config: cfg,
		client: streamingClient(cfg.Timeout),
		logger: logger,
	}
}

func (p *AnthropicProvider) ID() string   { return p.config.ID }
func (p *AnthropicProvider) Name() string { return p.config.Name }

type anthropicRequest struct {
	Model       string         `json:"model"`
	Messages    []anthropicMsg `json:"messages"`
	System      string         `json:"system,omitempty"`
	MaxTokens   int            `json:"max_tokens"`
	Temperature float64        `json:"temperature"`
	Stream      bool           `json:"stream"`
}

type anthropicMsg struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// convertRequest lifts the leading system message into the top-level
// system field; the Messages API does not accept a system role.
func (p *AnthropicProvider) convertRequest(req *ChatRequest) *anthropicRequest {
	ar := &anthropicRequest{
		Model:       req.Model,
		MaxTokens:   req.MaxTokens,
		Temperature: req.Temperature,
		Stream:      true,
	}
	if ar.Model == "" {
		ar.Model = p.config.Model
	}
	if ar.MaxTokens == 0 {
		ar.MaxTokens = DefaultMaxTokens
	}
	for _, m := range req.Messages {
		if m.Role == "system" {
			ar.System = m.Content
			continue
		}
		ar.Messages = append(ar.Messages, anthropicMsg{Role: m.Role, Content: m.Content})
	}
	return ar
}

// ChatStream sends a streaming request to Claude.
func (p *AnthropicProvider) ChatStream(ctx context.Context, req *ChatRequest) (<-chan *StreamChunk, error) {
	body, err := json.Marshal(p.convertRequest(req))
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost,
		p.config.Endpoint+"/messages", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	p.setHeaders(httpReq)

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("send request: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		respBody, _ := io.ReadAll(resp.Body)
		return nil, &APIError{StatusCode: resp.StatusCode, Body: string(respBody)}
	}

	ch := make(chan *StreamChunk, 64)
	go p.readStream(ctx, resp.Body, ch)
	return ch, nil
}

type anthropicEvent struct {
	Type  string `json:"type"`
	Delta struct {
		Type       string `json:"type"`
		Text       string `json:"text"`
		StopReason string `json:"stop_reason"`
	} `json:"delta"`
	Error struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
}

func (p *AnthropicProvider) readStream(ctx context.Context, body io.ReadCloser, ch chan<- *StreamChunk) {
	defer close(ch)
	defer body.Close()

	scanner := NewSSEScanner(body)
	for scanner.Next() {
		var event anthropicEvent
		if err := json.Unmarshal([]byte(scanner.Event().Data), &event); err != nil {
			send(ctx, ch, &StreamChunk{Err: fmt.Errorf("decode stream event: %w", err)})
			return
		}
		switch event.Type {
		case "content_block_delta":
			if event.Delta.Text == "" {
				continue
			}
			if !send(ctx, ch, &StreamChunk{Content: event.Delta.Text}) {
				return
			}
		case "message_delta":
			if event.Delta.StopReason != "" {
				if !send(ctx, ch, &StreamChunk{FinishReason: event.Delta.StopReason}) {
					return
				}
			}
		case "message_stop":
			send(ctx, ch, &StreamChunk{Done: true})
			return
		case "error":
			send(ctx, ch, &StreamChunk{Err: fmt.Errorf("stream error %s: %s", event.Error.Type, event.Error.Message)})
			return
		}
	}
	if err := scanner.Err(); err != nil {
		send(ctx, ch, &StreamChunk{Err: fmt.Errorf("read stream: %w", err)})
		return
	}
	send(ctx, ch, &StreamChunk{Err: ErrStreamTruncated})
}

// HealthCheck verifies the API key is accepted by listing models.
func (p *AnthropicProvider) HealthCheck(ctx context.Context) error {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, p.config.Endpoint+"/models", nil)
	if err != nil {
		return err
	}
	p.setHeaders(httpReq)

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		return &APIError{StatusCode: resp.StatusCode, Body: string(respBody)}
	}
	return nil
}

func (p *AnthropicProvider) setHeaders(r *http.Request) {
	r.Header.Set("Content-Type", "application/json")
	r.Header.Set("x-api-key", p.config.APIKey)
	r.Header.Set("anthropic-version", "2023-06-01")
}
