package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Event types published for every chat turn.
const (
	TurnStarted   = "turn.started"
	TurnCompleted = "turn.completed"
	TurnFailed    = "turn.failed"
)

// Event is one turn lifecycle notification.
type Event struct {
	ID               string    `json:"id"`
	Type             string    `json:"type"`
	SessionID        string    `json:"session_id"`
	TurnID           string    `json:"turn_id"`
	Strength         float64   `json:"strength"`
	Temperature      float64   `json:"temperature"`
	OriginalTokens   int       `json:"original_tokens"`
	CompressedTokens int       `json:"compressed_tokens"`
	ResponseChars    int       `json:"response_chars,omitempty"`
	Status           string    `json:"status,omitempty"`
	Error            string    `json:"error,omitempty"`
	DurationMS       int64     `json:"duration_ms,omitempty"`
	Timestamp        time.Time `json:"timestamp"`
}

// Publisher publishes turn events.
type Publisher interface {
	Publish(ctx context.Context, ev *Event) error
}

// Nop discards every event. It is used when Redis is not configured.
type Nop struct{}

// Publish implements Publisher.
func (Nop) Publish(context.Context, *Event) error { return nil }

const streamPrefix = "lingochat:session:"

// StreamKey returns the Redis stream a session's events go to.
func StreamKey(sessionID string) string { return streamPrefix + sessionID }

// Bus publishes turn events to per-session Redis Streams.
type Bus struct {
	rdb    *redis.Client
	maxLen int64
	logger *zap.Logger
}

// NewBus creates a Redis Streams event bus. Each stream is trimmed to
// roughly maxLen entries; zero means untrimmed.
func NewBus(rdb *redis.Client, maxLen int64, logger *zap.Logger) *Bus {
	return &Bus{rdb: rdb, maxLen: maxLen, logger: logger}
}

// Publish appends ev to its session stream.
func (b *Bus) Publish(ctx context.Context, ev *Event) error {
	if ev.ID == "" {
		ev.ID = uuid.New().String()
	}
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now().UTC()
	}
	data, err := json.Marshal(ev)
	if err != nil {
		return err
	}

	stream := StreamKey(ev.SessionID)
	args := &redis.XAddArgs{
		Stream: stream,
		Values: map[string]interface{}{
			"type": ev.Type,
			"data": string(data),
		},
	}
	if b.maxLen > 0 {
		args.MaxLen = b.maxLen
		args.Approx = true
	}
	if _, err := b.rdb.XAdd(ctx, args).Result(); err != nil {
		return fmt.Errorf("publish to %s: %w", stream, err)
	}

	b.logger.Debug("published event",
		zap.String("stream", stream),
		zap.String("type", ev.Type),
		zap.String("turn", ev.TurnID))
	return nil
}

// Subscribe listens for new events on a session stream. The channel is
// closed when ctx is done.
func (b *Bus) Subscribe(ctx context.Context, sessionID string) <-chan *Event {
	ch := make(chan *Event, 16)
	stream := StreamKey(sessionID)

	go func() {
		defer close(ch)
		lastID := "$"

		for {
			if ctx.Err() != nil {
				return
			}

			results, err := b.rdb.XRead(ctx, &redis.XReadArgs{
				Streams: []string{stream, lastID},
				Count:   10,
				Block:   2 * time.Second,
			}).Result()
			if err != nil {
				if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
					return
				}
				if !errors.Is(err, redis.Nil) {
					b.logger.Warn("read events", zap.String("stream", stream), zap.Error(err))
				}
				continue
			}

			for _, r := range results {
				for _, msg := range r.Messages {
					lastID = msg.ID
					data, ok := msg.Values["data"].(string)
					if !ok {
						continue
					}
					var ev Event
					if json.Unmarshal([]byte(data), &ev) != nil {
						continue
					}
					select {
					case ch <- &ev:
					case <-ctx.Done():
						return
					}
				}
			}
		}
	}()

	return ch
}

// History returns up to count of the most recent events of a session,
// oldest first.
func (b *Bus) History(ctx context.Context, sessionID string, count int64) ([]*Event, error) {
	msgs, err := b.rdb.XRevRangeN(ctx, StreamKey(sessionID), "+", "-", count).Result()
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", StreamKey(sessionID), err)
	}
	out := make([]*Event, 0, len(msgs))
	for i := len(msgs) - 1; i >= 0; i-- {
		data, ok := msgs[i].Values["data"].(string)
		if !ok {
			continue
		}
		var ev Event
		if json.Unmarshal([]byte(data), &ev) == nil {
			out = append(out, &ev)
		}
	}
	return out, nil
}

// Delete removes a session's stream.
func (b *Bus) Delete(ctx context.Context, sessionID string) error {
	return b.rdb.Del(ctx, StreamKey(sessionID)).Err()
}
