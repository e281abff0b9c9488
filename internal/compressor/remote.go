package compressor

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// RemoteBackend calls an LLMLingua-2 sidecar over HTTP. The sidecar exposes
// POST /compress and POST /tokenize.
//
// Transport failures and 5xx responses are reported as ErrModelUnavailable.
type RemoteBackend struct {
	endpoint string
	model    string
	client   *http.Client
}

// NewRemoteBackend creates a sidecar client.
func NewRemoteBackend(endpoint, model string, timeout time.Duration) *RemoteBackend {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &RemoteBackend{
		endpoint: strings.TrimRight(endpoint, "/"),
		model:    model,
		client:   &http.Client{Timeout: timeout},
	}
}

// Name implements Backend.
func (b *RemoteBackend) Name() string { return "remote:" + b.model }

type remoteCompressRequest struct {
	Request
	Model string `json:"model,omitempty"`
}

type remoteCompressResponse struct {
	CompressedPrompt string `json:"compressed_prompt"`
}

// Compress implements Backend.
func (b *RemoteBackend) Compress(ctx context.Context, req Request) (string, error) {
	var resp remoteCompressResponse
	if err := b.post(ctx, "/compress", remoteCompressRequest{Request: req, Model: b.model}, &resp); err != nil {
		return "", err
	}
	return resp.CompressedPrompt, nil
}

type tokenizeRequest struct {
	Text  string `json:"text"`
	Model string `json:"model,omitempty"`
}

type tokenizeResponse struct {
	InputIDs []int `json:"input_ids"`
}

// Tokenizer returns a Tokenizer that counts with the sidecar's model.
func (b *RemoteBackend) Tokenizer() Tokenizer { return remoteTokenizer{b} }

type remoteTokenizer struct{ b *RemoteBackend }

func (t remoteTokenizer) Name() string { return t.b.Name() }

func (t remoteTokenizer) Count(ctx context.Context, text string) (int, error) {
	var resp tokenizeResponse
	if err := t.b.post(ctx, "/tokenize", tokenizeRequest{Text: text, Model: t.b.model}, &resp); err != nil {
		return 0, err
	}
	return len(resp.InputIDs), nil
}

func (b *RemoteBackend) post(ctx context.Context, path string, in, out interface{}) error {
	body, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, b.endpoint+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := b.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("%w: %w", ErrModelUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		err := fmt.Errorf("sidecar %s returned status %d: %s", path, resp.StatusCode, strings.TrimSpace(string(respBody)))
		if resp.StatusCode >= 500 {
			return errors.Join(ErrModelUnavailable, err)
		}
		return err
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s response: %w", path, err)
	}
	return nil
}
