package provider

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"go.uber.org/zap"
)

// collect drains a stream and returns the concatenated content and the
// terminal error, if any.
func collect(t *testing.T, ch <-chan *StreamChunk) (string, []string, error) {
	t.Helper()
	var sb strings.Builder
	var parts []string
	for c := range ch {
		if c.Err != nil {
			return sb.String(), parts, c.Err
		}
		if c.Content != "" {
			sb.WriteString(c.Content)
			parts = append(parts, c.Content)
		}
	}
	return sb.String(), parts, nil
}

func sseServer(t *testing.T, check func(r *http.Request), events ...string) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/chat/completions", func(w http.ResponseWriter, r *http.Request) {
		if check != nil {
			check(r)
		}
		w.Header().Set("Content-Type", "text/event-stream")
		for _, e := range events {
			fmt.Fprintf(w, "data: %s\n\n", e)
			w.(http.Flusher).Flush()
		}
	})
	return httptest.NewServer(mux)
}

func TestOpenAIChatStream(t *testing.T) {
	bodies := make(chan map[string]interface{}, 1)
	srv := sseServer(t, func(r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer sk-test" {
			t.Errorf("unexpected auth header %q", r.Header.Get("Authorization"))
		}
		var body map[string]interface{}
		json.NewDecoder(r.Body).Decode(&body)
		bodies <- body
	},
		`{"choices":[{"delta":{"role":"assistant"}}]}`,
		`{"choices":[{"delta":{"content":"Hel"}}]}`,
		`{"choices":[{"delta":{"content":"lo, "}}]}`,
		`{"choices":[{"delta":{"content":"world!"}}]}`,
		`{"choices":[{"delta":{},"finish_reason":"stop"}]}`,
		`[DONE]`,
	)
	defer srv.Close()

	p := NewOpenAIProvider(ProviderConfig{ID: "groq", Endpoint: srv.URL, APIKey: "sk-test", Model: "llama3-8b-8192"}, zap.NewNop())
	ch, err := p.ChatStream(context.Background(), &ChatRequest{
		Messages:    []Message{{Role: "system", Content: "sys"}, {Role: "user", Content: "hi"}},
		Temperature: 0,
		MaxTokens:   DefaultMaxTokens,
	})
	if err != nil {
		t.Fatalf("ChatStream: %v", err)
	}
	text, parts, err := collect(t, ch)
	if err != nil {
		t.Fatalf("stream error: %v", err)
	}
	if text != "Hello, world!" {
		t.Errorf("got %q, want %q", text, "Hello, world!")
	}
	if len(parts) != 3 || parts[0] != "Hel" || parts[2] != "world!" {
		t.Errorf("unexpected fragments %q", parts)
	}

	got := <-bodies
	if got["model"] != "llama3-8b-8192" {
		t.Errorf("model = %v", got["model"])
	}
	if got["stream"] != true {
		t.Errorf("stream = %v, want true", got["stream"])
	}
	if _, ok := got["temperature"]; !ok {
		t.Error("temperature 0 must still be sent")
	}
	if got["max_tokens"] != float64(DefaultMaxTokens) {
		t.Errorf("max_tokens = %v", got["max_tokens"])
	}
}

func TestOpenAIChatStream_APIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":"rate limited"}`, http.StatusTooManyRequests)
	}))
	defer srv.Close()

	p := NewOpenAIProvider(ProviderConfig{ID: "groq", Endpoint: srv.URL}, zap.NewNop())
	_, err := p.ChatStream(context.Background(), &ChatRequest{})
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected APIError, got %v", err)
	}
	if apiErr.StatusCode != http.StatusTooManyRequests || !apiErr.Retryable() {
		t.Errorf("unexpected api error %+v", apiErr)
	}
}

func TestOpenAIChatStream_MidStreamError(t *testing.T) {
	srv := sseServer(t, nil,
		`{"choices":[{"delta":{"content":"partial"}}]}`,
		`{"error":{"type":"server_error","message":"boom"}}`,
	)
	defer srv.Close()

	p := NewOpenAIProvider(ProviderConfig{ID: "groq", Endpoint: srv.URL}, zap.NewNop())
	ch, err := p.ChatStream(context.Background(), &ChatRequest{})
	if err != nil {
		t.Fatalf("ChatStream: %v", err)
	}
	text, _, err := collect(t, ch)
	if err == nil {
		t.Fatal("expected stream error")
	}
	if text != "partial" {
		t.Errorf("got %q before error", text)
	}
}

func TestOpenAIChatStream_Truncated(t *testing.T) {
	srv := sseServer(t, nil, `{"choices":[{"delta":{"content":"cut"}}]}`)
	defer srv.Close()

	p := NewOpenAIProvider(ProviderConfig{ID: "groq", Endpoint: srv.URL}, zap.NewNop())
	ch, err := p.ChatStream(context.Background(), &ChatRequest{})
	if err != nil {
		t.Fatalf("ChatStream: %v", err)
	}
	if _, _, err := collect(t, ch); !errors.Is(err, ErrStreamTruncated) {
		t.Errorf("got %v, want ErrStreamTruncated", err)
	}
}

func TestOpenAIChatStream_FinishWithoutDone(t *testing.T) {
	srv := sseServer(t, nil,
		`{"choices":[{"delta":{"content":"ok"}}]}`,
		`{"choices":[{"delta":{},"finish_reason":"stop"}]}`,
	)
	defer srv.Close()

	p := NewOpenAIProvider(ProviderConfig{ID: "groq", Endpoint: srv.URL}, zap.NewNop())
	ch, err := p.ChatStream(context.Background(), &ChatRequest{})
	if err != nil {
		t.Fatalf("ChatStream: %v", err)
	}
	text, _, err := collect(t, ch)
	if err != nil || text != "ok" {
		t.Errorf("got %q, %v", text, err)
	}
}

func TestOpenAIChatURL_PathModel(t *testing.T) {
	p := NewOpenAIProvider(ProviderConfig{
		Endpoint: "http://x/v1",
		Extra:    map[string]string{"path_model": "true"},
	}, zap.NewNop())
	if got := p.chatURL("m1"); got != "http://x/v1/m1/chat/completions" {
		t.Errorf("got %q", got)
	}
}
