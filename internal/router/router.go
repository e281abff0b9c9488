package router

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/nidhogg/lingochat/internal/chat"
	"github.com/nidhogg/lingochat/internal/command"
	"github.com/nidhogg/lingochat/internal/compressor"
	"github.com/nidhogg/lingochat/internal/gateway"
	"github.com/nidhogg/lingochat/internal/session"
	"go.uber.org/zap"
)

// DefaultTurnTimeout bounds a single chat turn started from a platform.
const DefaultTurnTimeout = 2 * time.Minute

// Sender delivers replies back to a platform. It is satisfied by
// *gateway.Gateway.
type Sender interface {
	Send(ctx context.Context, msg *gateway.OutboundMessage) error
}

// MessageRouter routes inbound platform messages to the conversation bound
// to their channel.
type MessageRouter struct {
	sessions *session.Manager
	out      Sender
	commands *command.Registry
	timeout  time.Duration
	logger   *zap.Logger
}

// New creates a new MessageRouter.
func New(sessions *session.Manager, out Sender, commands *command.Registry, logger *zap.Logger) *MessageRouter {
	return &MessageRouter{
		sessions: sessions,
		out:      out,
		commands: commands,
		timeout:  DefaultTurnTimeout,
		logger:   logger,
	}
}

// Handle routes an inbound message. Signature matches
// gateway.MessageHandler.
func (mr *MessageRouter) Handle(msg *gateway.InboundMessage) {
	ctx, cancel := context.WithTimeout(context.Background(), mr.timeout)
	defer cancel()

	content := strings.TrimSpace(msg.Content)
	if content == "" {
		return
	}
	mr.logger.Info("routing message",
		zap.String("platform", msg.Platform),
		zap.String("channel", msg.ChannelID),
		zap.String("user", msg.UserName),
	)

	sess := mr.sessions.ForKey(msg.SessionKey())

	// Intercept slash commands before the chat turn
	if command.IsCommand(content) && mr.commands != nil {
		cc := &command.CommandContext{
			Platform:  msg.Platform,
			ChannelID: msg.ChannelID,
			UserID:    msg.UserID,
			UserName:  msg.UserName,
			Session:   sess,
		}
		result, err := mr.commands.Dispatch(ctx, content, cc)
		if err != nil {
			mr.logger.Error("command dispatch error", zap.Error(err))
			mr.sendReply(ctx, msg, "Command error: "+err.Error())
			return
		}
		if result.Rejected != nil {
			mr.logger.Debug("command input rejected",
				zap.String("session", sess.ID), zap.Error(result.Rejected))
		}
		mr.sendReply(ctx, msg, result.Content)
		return
	}

	res, err := sess.Send(ctx, content, nil)
	if err != nil {
		mr.logger.Warn("chat turn failed",
			zap.String("session", sess.ID), zap.Error(err))
		mr.sendReply(ctx, msg, describeError(err))
		return
	}
	mr.sendReply(ctx, msg, res.Reply)
}

// describeError turns a turn failure into a chat-friendly message.
func describeError(err error) string {
	switch {
	case errors.Is(err, chat.ErrTurnInProgress):
		return "Still answering your previous message. Please wait for it to finish."
	case errors.Is(err, compressor.ErrModelUnavailable):
		return "The compression model is unavailable. Try /strength 100 to send messages as typed."
	case errors.Is(err, chat.ErrInvalidSettings):
		return fmt.Sprintf("Invalid settings: %v", err)
	case errors.Is(err, context.DeadlineExceeded):
		return "The model took too long to answer."
	default:
		return fmt.Sprintf("Request failed: %v", err)
	}
}

// sendReply sends a text reply back to the originating platform/channel.
func (mr *MessageRouter) sendReply(ctx context.Context, orig *gateway.InboundMessage, text string) {
	if text == "" {
		text = "(empty reply)"
	}
	// Reply even if the turn used up the deadline.
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	err := mr.out.Send(ctx, &gateway.OutboundMessage{
		Platform:  orig.Platform,
		ChannelID: orig.ChannelID,
		Content:   text,
		ReplyTo:   orig.ReplyTo,
	})
	if err != nil {
		mr.logger.Error("send reply failed", zap.Error(err))
	}
}
