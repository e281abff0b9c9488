package compressor

import (
	"fmt"
	"time"

	"go.uber.org/zap"
)

// Config holds compressor configuration.
type Config struct {
	Backend           string        `json:"backend"`   // "local" or "remote"
	Tokenizer         string        `json:"tokenizer"` // "word", "remote" or a tiktoken encoding
	Endpoint          string        `json:"endpoint"`
	Model             string        `json:"model"`
	Timeout           time.Duration `json:"-"`
	ForceTokens       []string      `json:"force_tokens,omitempty"`
	PassthroughAtZero bool          `json:"passthrough_at_zero"`
}

// New builds an Adapter from cfg. cache may be nil.
func New(cfg Config, cache Cache, logger *zap.Logger) (*Adapter, error) {
	var (
		backend Backend
		remote  *RemoteBackend
	)
	switch cfg.Backend {
	case "", "local":
		backend = NewLocalBackend()
	case "remote":
		if cfg.Endpoint == "" {
			return nil, fmt.Errorf("remote compressor requires an endpoint")
		}
		remote = NewRemoteBackend(cfg.Endpoint, cfg.Model, cfg.Timeout)
		backend = remote
	default:
		return nil, fmt.Errorf("unknown compressor backend %q", cfg.Backend)
	}

	var tok Tokenizer
	switch cfg.Tokenizer {
	case "", "word":
		tok = WordTokenizer{}
	case "remote":
		if remote == nil {
			return nil, fmt.Errorf("remote tokenizer requires the remote backend")
		}
		tok = remote.Tokenizer()
	default:
		tok = NewTiktokenTokenizer(cfg.Tokenizer)
	}

	logger.Info("compressor configured",
		zap.String("backend", backend.Name()),
		zap.String("tokenizer", tok.Name()))

	return NewAdapter(backend, tok, Options{
		ForceTokens:       cfg.ForceTokens,
		PassthroughAtZero: cfg.PassthroughAtZero,
		Cache:             cache,
	}, logger), nil
}
