package chat

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/nidhogg/lingochat/internal/compressor"
	"github.com/nidhogg/lingochat/internal/conversation"
	"github.com/nidhogg/lingochat/internal/provider"
	"go.uber.org/zap"
)

var (
	// ErrRequestFailed wraps completion failures. The user turn stays in
	// the history.
	ErrRequestFailed = errors.New("completion request failed")
	// ErrTurnInProgress is returned when a turn is started or the
	// conversation reset while another turn is still streaming.
	ErrTurnInProgress = errors.New("turn already in progress")
)

// Compressor shortens outbound user text.
type Compressor interface {
	Compress(ctx context.Context, text string, strength float64) (compressor.Result, error)
}

// Completer streams a completion for a message history.
type Completer interface {
	ChatStream(ctx context.Context, req *provider.ChatRequest) (<-chan *provider.StreamChunk, error)
}

// Observer is told about turn lifecycle. Calls are made synchronously from
// the turn's goroutine and must not block for long.
type Observer interface {
	TurnStarted(ctx context.Context, info TurnInfo)
	TurnFinished(ctx context.Context, info TurnInfo, err error)
}

// Turn status values reported in TurnInfo.
const (
	StatusStreaming = "streaming"
	StatusCompleted = "completed"
	StatusFailed    = "failed"
	StatusCancelled = "cancelled"
)

// TurnInfo summarizes a turn for observers.
type TurnInfo struct {
	ID            string
	Settings      Settings
	Compression   compressor.Result
	Uncompressed  bool
	Status        string
	ResponseChars int
	StartedAt     time.Time
	Duration      time.Duration
}

// Options configure a Service.
type Options struct {
	Model     string
	MaxTokens int
	Observer  Observer
}

// Service runs chat turns against one conversation. At most one turn is
// active at a time.
type Service struct {
	compressor Compressor
	completer  Completer
	model      string
	maxTokens  int
	observer   Observer
	logger     *zap.Logger

	mu    sync.Mutex // guards store
	store *conversation.Store
	busy  atomic.Bool
}

// NewService creates a chat service over store.
func NewService(comp Compressor, completer Completer, store *conversation.Store, opts Options, logger *zap.Logger) *Service {
	if opts.MaxTokens <= 0 {
		opts.MaxTokens = provider.DefaultMaxTokens
	}
	return &Service{
		compressor: comp,
		completer:  completer,
		model:      opts.Model,
		maxTokens:  opts.MaxTokens,
		observer:   opts.Observer,
		logger:     logger,
		store:      store,
	}
}

// SendTurn compresses userText, appends it to the history and starts
// streaming the assistant reply. The returned Turn forwards fragments as
// they arrive; the assistant message is appended once the stream ends.
func (s *Service) SendTurn(ctx context.Context, userText string, settings Settings) (*Turn, error) {
	if err := settings.Validate(); err != nil {
		return nil, err
	}
	if !s.busy.CompareAndSwap(false, true) {
		return nil, ErrTurnInProgress
	}

	turn, err := s.startTurn(ctx, userText, settings)
	if err != nil {
		s.busy.Store(false)
		return nil, err
	}
	return turn, nil
}

func (s *Service) startTurn(ctx context.Context, userText string, settings Settings) (*Turn, error) {
	info := TurnInfo{
		ID:        uuid.New().String(),
		Settings:  settings,
		Status:    StatusStreaming,
		StartedAt: time.Now(),
	}

	if settings.SystemMessage != "" {
		s.mu.Lock()
		if s.store.SystemMessage() != settings.SystemMessage {
			s.store.UpdateSystemMessage(settings.SystemMessage)
		}
		s.mu.Unlock()
	}

	result, err := s.compressor.Compress(ctx, userText, settings.CompressionStrength)
	if err != nil {
		if !errors.Is(err, compressor.ErrModelUnavailable) || !settings.AllowUncompressed {
			return nil, fmt.Errorf("compress message: %w", err)
		}
		s.logger.Warn("compression model unavailable, sending original text",
			zap.String("turn", info.ID), zap.Error(err))
		n := estimateTokens(userText)
		result = compressor.Result{Text: userText, OriginalTokens: n, CompressedTokens: n}
		info.Uncompressed = true
	}
	info.Compression = result

	s.mu.Lock()
	if err := s.store.Append(conversation.RoleUser, result.Text); err != nil {
		s.mu.Unlock()
		return nil, err
	}
	history := toProviderMessages(s.store.Messages())
	s.mu.Unlock()

	s.logger.Debug("turn started",
		zap.String("turn", info.ID),
		zap.Int("history", len(history)),
		zap.Int("original_tokens", result.OriginalTokens),
		zap.Int("compressed_tokens", result.CompressedTokens))
	if s.observer != nil {
		s.observer.TurnStarted(ctx, info)
	}

	stream, err := s.completer.ChatStream(ctx, &provider.ChatRequest{
		Model:       s.model,
		Messages:    history,
		Temperature: settings.Temperature,
		MaxTokens:   s.maxTokens,
		Stream:      true,
	})
	if err != nil {
		err = fmt.Errorf("%w: %w", ErrRequestFailed, err)
		s.finish(ctx, &info, err)
		return nil, err
	}

	t := &Turn{
		ID:           info.ID,
		Compression:  result,
		Uncompressed: info.Uncompressed,
		fragments:    make(chan string),
		done:         make(chan struct{}),
	}
	go s.run(ctx, t, info, stream)
	return t, nil
}

// run forwards the provider stream to the turn and records the reply.
func (s *Service) run(ctx context.Context, t *Turn, info TurnInfo, stream <-chan *provider.StreamChunk) {
	defer close(t.done)
	defer close(t.fragments)
	defer s.busy.Store(false)

	var sb strings.Builder
	err := func() error {
		for {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case c, ok := <-stream:
				if !ok {
					return fmt.Errorf("%w: %w", ErrRequestFailed, provider.ErrStreamTruncated)
				}
				if c.Err != nil {
					return fmt.Errorf("%w: %w", ErrRequestFailed, c.Err)
				}
				if c.Content != "" {
					sb.WriteString(c.Content)
					select {
					case t.fragments <- c.Content:
					case <-ctx.Done():
						return ctx.Err()
					}
				}
				if c.Done {
					return nil
				}
			}
		}
	}()

	t.text = sb.String()
	info.ResponseChars = utf8.RuneCountInString(t.text)
	if err != nil {
		t.err = err
		s.finish(ctx, &info, err)
		return
	}

	s.mu.Lock()
	appendErr := s.store.Append(conversation.RoleAssistant, t.text)
	s.mu.Unlock()
	if appendErr != nil {
		t.err = appendErr
	}
	s.finish(ctx, &info, appendErr)
}

func (s *Service) finish(ctx context.Context, info *TurnInfo, err error) {
	info.Duration = time.Since(info.StartedAt)
	switch {
	case err == nil:
		info.Status = StatusCompleted
	case errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded):
		info.Status = StatusCancelled
	default:
		info.Status = StatusFailed
	}

	if err != nil {
		s.logger.Warn("turn ended without reply",
			zap.String("turn", info.ID),
			zap.String("status", info.Status),
			zap.Error(err))
	} else {
		s.logger.Debug("turn completed",
			zap.String("turn", info.ID),
			zap.Int("response_chars", info.ResponseChars),
			zap.Duration("duration", info.Duration))
	}
	if s.observer != nil {
		s.observer.TurnFinished(context.WithoutCancel(ctx), *info, err)
	}
}

// TurnResult is the outcome of a blocking Send.
type TurnResult struct {
	TurnID       string            `json:"turn_id"`
	Reply        string            `json:"reply"`
	Compression  compressor.Result `json:"compression"`
	Uncompressed bool              `json:"uncompressed,omitempty"`
}

// Send runs a turn to completion, calling onFragment for each fragment in
// order. onFragment may be nil.
func (s *Service) Send(ctx context.Context, userText string, settings Settings, onFragment func(string)) (*TurnResult, error) {
	turn, err := s.SendTurn(ctx, userText, settings)
	if err != nil {
		return nil, err
	}
	for f := range turn.Fragments() {
		if onFragment != nil {
			onFragment(f)
		}
	}
	reply, err := turn.Wait()
	if err != nil {
		return nil, err
	}
	return &TurnResult{
		TurnID:       turn.ID,
		Reply:        reply,
		Compression:  turn.Compression,
		Uncompressed: turn.Uncompressed,
	}, nil
}

// Reset clears the conversation down to its system message. An empty
// system keeps the current one.
func (s *Service) Reset(system string) error {
	if !s.busy.CompareAndSwap(false, true) {
		return ErrTurnInProgress
	}
	defer s.busy.Store(false)

	s.mu.Lock()
	s.store.Reset(system)
	s.mu.Unlock()
	return nil
}

// UpdateSystemMessage replaces the system message in place.
func (s *Service) UpdateSystemMessage(msg string) {
	s.mu.Lock()
	s.store.UpdateSystemMessage(msg)
	s.mu.Unlock()
}

// History returns a copy of the conversation.
func (s *Service) History() []conversation.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.store.Messages()
}

// SystemMessage returns the current system message.
func (s *Service) SystemMessage() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.store.SystemMessage()
}

// Busy reports whether a turn is streaming.
func (s *Service) Busy() bool { return s.busy.Load() }

func toProviderMessages(msgs []conversation.Message) []provider.Message {
	out := make([]provider.Message, len(msgs))
	for i, m := range msgs {
		out[i] = provider.Message{Role: string(m.Role), Content: m.Content}
	}
	return out
}

// estimateTokens approximates a token count at four characters per token.
func estimateTokens(text string) int {
	return (utf8.RuneCountInString(text) + 3) / 4
}
