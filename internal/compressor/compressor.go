package compressor

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"

	"go.uber.org/zap"
)

// ErrModelUnavailable is returned when the compression backend or its
// tokenizer cannot be loaded or reached.
var ErrModelUnavailable = errors.New("compression model unavailable")

// ErrInvalidStrength is returned for a NaN strength.
var ErrInvalidStrength = errors.New("invalid compression strength")

// DefaultForceTokens are never dropped by the backend.
var DefaultForceTokens = []string{"!", ".", "?", "\n"}

// emptyPayloadTokens is the token count reported for a zero-strength
// compression, which always yields an empty payload.
const emptyPayloadTokens = 2

// Result is the outcome of compressing one message.
type Result struct {
	Text             string `json:"compressed_text"`
	OriginalTokens   int    `json:"original_tokens"`
	CompressedTokens int    `json:"compressed_tokens"`
}

// Request is what the adapter hands to a Backend.
type Request struct {
	Text            string   `json:"text"`
	Rate            float64  `json:"rate"`
	ForceTokens     []string `json:"force_tokens"`
	DropConsecutive bool     `json:"drop_consecutive"`
}

// Backend is a token-importance compressor. Rate is the share of tokens to
// keep, in (0,1).
type Backend interface {
	Name() string
	Compress(ctx context.Context, req Request) (string, error)
}

// Tokenizer counts tokens the way the backend's model sees them.
type Tokenizer interface {
	Name() string
	Count(ctx context.Context, text string) (int, error)
}

// Cache memoizes compression results. Implementations must be safe for
// concurrent use; misses and errors are both reported as a miss.
type Cache interface {
	Get(ctx context.Context, key string) (Result, bool)
	Set(ctx context.Context, key string, r Result)
}

// Options tune the adapter.
type Options struct {
	ForceTokens []string
	// PassthroughAtZero makes strength 0 return the original text instead
	// of an empty payload.
	PassthroughAtZero bool
	Cache             Cache
}

// Adapter applies the strength policy on top of a Backend and Tokenizer.
type Adapter struct {
	backend   Backend
	tokenizer Tokenizer
	opts      Options
	logger    *zap.Logger
}

// NewAdapter creates a compressor adapter.
func NewAdapter(backend Backend, tokenizer Tokenizer, opts Options, logger *zap.Logger) *Adapter {
	if len(opts.ForceTokens) == 0 {
		opts.ForceTokens = DefaultForceTokens
	}
	return &Adapter{
		backend:   backend,
		tokenizer: tokenizer,
		opts:      opts,
		logger:    logger,
	}
}

// Backend returns the backend name.
func (a *Adapter) Backend() string { return a.backend.Name() }

// Compress shortens text according to strength in [0,100]:
//
//	strength <= 0    -> "" with 2 compressed tokens (or the original text with PassthroughAtZero)
//	strength >= 100  -> original text
//	otherwise        -> backend compression at rate strength/100
func (a *Adapter) Compress(ctx context.Context, text string, strength float64) (Result, error) {
	if math.IsNaN(strength) {
		return Result{}, ErrInvalidStrength
	}

	original, err := a.Count(ctx, text)
	if err != nil {
		return Result{}, err
	}

	switch {
	case strength <= 0 && a.opts.PassthroughAtZero:
		return Result{Text: text, OriginalTokens: original, CompressedTokens: original}, nil
	case strength <= 0:
		return Result{Text: "", OriginalTokens: original, CompressedTokens: emptyPayloadTokens}, nil
	case strength >= 100:
		return Result{Text: text, OriginalTokens: original, CompressedTokens: original}, nil
	}

	key := a.cacheKey(text, strength)
	if a.opts.Cache != nil {
		if r, ok := a.opts.Cache.Get(ctx, key); ok {
			return r, nil
		}
	}

	compressed, err := a.backend.Compress(ctx, Request{
		Text:            text,
		Rate:            strength / 100,
		ForceTokens:     a.opts.ForceTokens,
		DropConsecutive: true,
	})
	if err != nil {
		return Result{}, fmt.Errorf("compress with %s: %w", a.backend.Name(), err)
	}

	count, err := a.Count(ctx, compressed)
	if err != nil {
		return Result{}, err
	}

	r := Result{Text: compressed, OriginalTokens: original, CompressedTokens: count}
	if count > original {
		a.logger.Debug("compression grew the message, keeping original",
			zap.String("backend", a.backend.Name()),
			zap.Int("original", original),
			zap.Int("compressed", count))
		r = Result{Text: text, OriginalTokens: original, CompressedTokens: original}
	}

	a.logger.Debug("message compressed",
		zap.Float64("strength", strength),
		zap.Int("original_tokens", r.OriginalTokens),
		zap.Int("compressed_tokens", r.CompressedTokens))

	if a.opts.Cache != nil {
		a.opts.Cache.Set(ctx, key, r)
	}
	return r, nil
}

// Count returns the token count of text with the adapter's tokenizer.
// Tokenizers report a missing model as ErrModelUnavailable themselves;
// cancellation and request errors pass through as they are.
func (a *Adapter) Count(ctx context.Context, text string) (int, error) {
	n, err := a.tokenizer.Count(ctx, text)
	if err != nil {
		return 0, fmt.Errorf("tokenize with %s: %w", a.tokenizer.Name(), err)
	}
	return n, nil
}

func (a *Adapter) cacheKey(text string, strength float64) string {
	h := sha256.New()
	h.Write([]byte(a.backend.Name()))
	h.Write([]byte{0})
	h.Write([]byte(a.tokenizer.Name()))
	h.Write([]byte{0})
	h.Write([]byte(strconv.FormatFloat(strength, 'f', -1, 64)))
	h.Write([]byte{0})
	h.Write([]byte(strings.Join(a.opts.ForceTokens, "\x1f")))
	h.Write([]byte{0})
	h.Write([]byte(text))
	return hex.EncodeToString(h.Sum(nil))
}
