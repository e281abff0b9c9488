package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"
)

// DefaultOpenAIEndpoint points at Groq's OpenAI-compatible API.
const DefaultOpenAIEndpoint = "https://api.groq.com/openai/v1"

// OpenAIProvider implements Provider for OpenAI-compatible APIs (Groq,
// OpenAI, LM Studio, vLLM, ...).
type OpenAIProvider struct {
	config ProviderConfig
	client *http.Client
	logger *zap.Logger
}

// NewOpenAIProvider creates a new OpenAI-compatible provider.
func NewOpenAIProvider(cfg ProviderConfig, logger *zap.Logger) *OpenAIProvider {
	if cfg.Endpoint == "" {
		cfg.Endpoint = DefaultOpenAIEndpoint
	}
	return &OpenAIProvider{
		config: cfg,
		client: streamingClient(cfg.Timeout),
		logger: logger,
	}
}

func (p *OpenAIProvider) ID() string   { return p.config.ID }
func (p *OpenAIProvider) Name() string { return p.config.Name }

// chatURL builds the chat completions URL. If Extra["path_model"] is "true",
// the model name is inserted into the URL path.
func (p *OpenAIProvider) chatURL(model string) string {
	if p.config.Extra["path_model"] == "true" && model != "" {
		return p.config.Endpoint + "/" + model + "/chat/completions"
	}
	return p.config.Endpoint + "/chat/completions"
}

// ChatStream sends a streaming chat request. Non-2xx responses are returned
// as errors before any chunk is produced.
func (p *OpenAIProvider) ChatStream(ctx context.Context, req *ChatRequest) (<-chan *StreamChunk, error) {
	streamReq := *req
	streamReq.Stream = true
	if streamReq.Model == "" {
		streamReq.Model = p.config.Model
	}

	body, err := json.Marshal(&streamReq)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost,
		p.chatURL(streamReq.Model), bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "text/event-stream")
	httpReq.Header.Set("Authorization", "Bearer "+p.config.APIKey)

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("send request: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		respBody, _ := io.ReadAll(resp.Body)
		return nil, &APIError{StatusCode: resp.StatusCode, Body: string(respBody)}
	}

	p.logger.Debug("completion stream opened",
		zap.String("provider", p.config.ID),
		zap.String("model", streamReq.Model),
		zap.Int("messages", len(streamReq.Messages)))

	ch := make(chan *StreamChunk, 64)
	go p.readSSEStream(ctx, resp.Body, ch)
	return ch, nil
}

type openAIStreamChunk struct {
	Choices []struct {
		Delta struct {
			Content *string `json:"content"`
		} `json:"delta"`
		FinishReason *string `json:"finish_reason"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error,omitempty"`
}

func (p *OpenAIProvider) readSSEStream(ctx context.Context, body io.ReadCloser, ch chan<- *StreamChunk) {
	defer close(ch)
	defer body.Close()

	finished := false
	scanner := NewSSEScanner(body)
	for scanner.Next() {
		data := scanner.Event().Data
		if data == "[DONE]" {
			send(ctx, ch, &StreamChunk{Done: true})
			return
		}

		var chunk openAIStreamChunk
		if err := json.Unmarshal([]byte(data), &chunk); err != nil {
			send(ctx, ch, &StreamChunk{Err: fmt.Errorf("decode stream chunk: %w", err)})
			return
		}
		if chunk.Error != nil {
			send(ctx, ch, &StreamChunk{Err: fmt.Errorf("stream error %s: %s", chunk.Error.Type, chunk.Error.Message)})
			return
		}
		if len(chunk.Choices) == 0 {
			continue
		}

		out := &StreamChunk{}
		if c := chunk.Choices[0].Delta.Content; c != nil {
			out.Content = *c
		}
		if fr := chunk.Choices[0].FinishReason; fr != nil {
			out.FinishReason = *fr
			finished = true
		}
		if out.Content == "" && out.FinishReason == "" {
			continue
		}
		if !send(ctx, ch, out) {
			return
		}
	}
	if err := scanner.Err(); err != nil {
		send(ctx, ch, &StreamChunk{Err: fmt.Errorf("read stream: %w", err)})
		return
	}
	if finished {
		send(ctx, ch, &StreamChunk{Done: true})
		return
	}
	send(ctx, ch, &StreamChunk{Err: ErrStreamTruncated})
}

// HealthCheck verifies the provider is reachable by listing models.
func (p *OpenAIProvider) HealthCheck(ctx context.Context) error {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet,
		p.config.Endpoint+"/models", nil)
	if err != nil {
		return err
	}
	httpReq.Header.Set("Authorization", "Bearer "+p.config.APIKey)

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

// streamingClient returns an http.Client whose timeout bounds only the wait
// for response headers, so long streams are not cut off mid-body.
func streamingClient(timeout time.Duration) *http.Client {
	if timeout == 0 {
		timeout = 120 * time.Second
	}
	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.ResponseHeaderTimeout = timeout
	return &http.Client{Transport: transport}
}

// send delivers a chunk unless the consumer has gone away.
func send(ctx context.Context, ch chan<- *StreamChunk, c *StreamChunk) bool {
	select {
	case ch <- c:
		return true
	case <-ctx.Done():
		return false
	}
}
