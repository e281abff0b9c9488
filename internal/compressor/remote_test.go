package compressor

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"go.uber.org/zap"
)

func TestRemoteBackend(t *testing.T) {
	requests := make(chan map[string]interface{}, 1)
	mux := http.NewServeMux()
	mux.HandleFunc("/compress", func(w http.ResponseWriter, r *http.Request) {
		var body map[string]interface{}
		json.NewDecoder(r.Body).Decode(&body)
		requests <- body
		json.NewEncoder(w).Encode(map[string]string{"compressed_prompt": "fox jumps dog."})
	})
	mux.HandleFunc("/tokenize", func(w http.ResponseWriter, r *http.Request) {
		var body tokenizeRequest
		json.NewDecoder(r.Body).Decode(&body)
		ids := make([]int, len(strings.Fields(body.Text)))
		json.NewEncoder(w).Encode(tokenizeResponse{InputIDs: ids})
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	a, err := New(Config{Backend: "remote", Tokenizer: "remote", Endpoint: srv.URL, Model: "llmlingua-2"}, nil, zap.NewNop())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	r, err := a.Compress(context.Background(), "the quick brown fox jumps over the lazy dog.", 30)
	if err != nil {
		t.Fatalf("Compress: %v", err)
	}
	if r.Text != "fox jumps dog." || r.OriginalTokens != 9 || r.CompressedTokens != 3 {
		t.Errorf("got %+v", r)
	}

	got := <-requests
	if got["rate"] != 0.3 {
		t.Errorf("rate = %v", got["rate"])
	}
	if got["drop_consecutive"] != true {
		t.Errorf("drop_consecutive = %v", got["drop_consecutive"])
	}
	force, _ := got["force_tokens"].([]interface{})
	if len(force) != 4 {
		t.Errorf("force_tokens = %v", got["force_tokens"])
	}
}

func TestRemoteBackendUnavailable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model loading", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	b := NewRemoteBackend(srv.URL, "m", 0)
	if _, err := b.Compress(context.Background(), Request{Text: "x", Rate: 0.5}); !errors.Is(err, ErrModelUnavailable) {
		t.Errorf("got %v, want ErrModelUnavailable", err)
	}

	srv.Close()
	if _, err := b.Tokenizer().Count(context.Background(), "x"); !errors.Is(err, ErrModelUnavailable) {
		t.Errorf("closed server: got %v, want ErrModelUnavailable", err)
	}
}

func TestRemoteBackendClientError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "bad rate", http.StatusBadRequest)
	}))
	defer srv.Close()

	b := NewRemoteBackend(srv.URL, "m", 0)
	_, err := b.Compress(context.Background(), Request{Text: "x", Rate: 2})
	if err == nil || errors.Is(err, ErrModelUnavailable) {
		t.Errorf("got %v, want plain error", err)
	}
}
