package session

import (
	"context"
	"time"

	"github.com/nidhogg/lingochat/internal/chat"
	"github.com/nidhogg/lingochat/internal/events"
	"github.com/nidhogg/lingochat/internal/store"
	"go.uber.org/zap"
)

// Ledger persists per-turn statistics.
type Ledger interface {
	RecordTurn(ctx context.Context, r *store.TurnRecord) error
}

const sinkTimeout = 2 * time.Second

// turnSink forwards a session's turn lifecycle to the event bus and the
// ledger. Failures are logged and never affect the turn.
type turnSink struct {
	sessionID string
	events    events.Publisher
	ledger    Ledger
	logger    *zap.Logger
}

func (o *turnSink) TurnStarted(ctx context.Context, info chat.TurnInfo) {
	o.emit(ctx, events.TurnStarted, info, nil)
}

func (o *turnSink) TurnFinished(ctx context.Context, info chat.TurnInfo, err error) {
	typ := events.TurnCompleted
	if err != nil {
		typ = events.TurnFailed
	}
	o.emit(ctx, typ, info, err)
}

func (o *turnSink) emit(ctx context.Context, typ string, info chat.TurnInfo, turnErr error) {
	ctx, cancel := context.WithTimeout(ctx, sinkTimeout)
	defer cancel()

	ev := &events.Event{
		Type:             typ,
		SessionID:        o.sessionID,
		TurnID:           info.ID,
		Strength:         info.Settings.CompressionStrength,
		Temperature:      info.Settings.Temperature,
		OriginalTokens:   info.Compression.OriginalTokens,
		CompressedTokens: info.Compression.CompressedTokens,
		ResponseChars:    info.ResponseChars,
		Status:           info.Status,
		DurationMS:       info.Duration.Milliseconds(),
	}
	if turnErr != nil {
		ev.Error = turnErr.Error()
	}
	if o.events != nil {
		if err := o.events.Publish(ctx, ev); err != nil {
			o.logger.Warn("publish turn event", zap.String("type", typ), zap.Error(err))
		}
	}

	if o.ledger != nil {
		err := o.ledger.RecordTurn(ctx, &store.TurnRecord{
			TurnID:           info.ID,
			SessionID:        o.sessionID,
			Strength:         info.Settings.CompressionStrength,
			Temperature:      info.Settings.Temperature,
			OriginalTokens:   info.Compression.OriginalTokens,
			CompressedTokens: info.Compression.CompressedTokens,
			Uncompressed:     info.Uncompressed,
			ResponseChars:    info.ResponseChars,
			Status:           info.Status,
			DurationMS:       info.Duration.Milliseconds(),
		})
		if err != nil {
			o.logger.Warn("record turn", zap.String("turn", info.ID), zap.Error(err))
		}
	}
}
