package gateway

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/slack-go/slack"
	"github.com/slack-go/slack/slackevents"
	"github.com/slack-go/slack/socketmode"
	"go.uber.org/zap"
)

// slackMaxMessage is the text limit Slack enforces on chat.postMessage.
const slackMaxMessage = 40000

// SlackAdapter implements GatewayAdapter for Slack using Socket Mode.
type SlackAdapter struct {
	client  *slack.Client
	socket  *socketmode.Client
	handler MessageHandler
	botUser string

	mu          sync.RWMutex
	connected   bool
	connectedAt time.Time
	lastError   string

	logger *zap.Logger
}

// NewSlackAdapter creates a Slack gateway adapter.
// botToken is the Bot User OAuth Token (xoxb-...).
// appToken is the App-Level Token (xapp-...) for Socket Mode.
func NewSlackAdapter(botToken, appToken string, logger *zap.Logger) *SlackAdapter {
	client := slack.New(botToken,
		slack.OptionAppLevelToken(appToken),
	)

	socket := socketmode.New(client,
		socketmode.OptionLog(zap.NewStdLog(logger)),
	)

	return &SlackAdapter{
		client: client,
		socket: socket,
		logger: logger,
	}
}

func (a *SlackAdapter) Platform() string { return "slack" }

func (a *SlackAdapter) OnMessage(h MessageHandler) { a.handler = h }

// Connect verifies the bot token and starts the Socket Mode event loop in
// a background goroutine.
func (a *SlackAdapter) Connect(ctx context.Context) error {
	auth, err := a.client.AuthTestContext(ctx)
	if err != nil {
		a.setError(fmt.Sprintf("auth test: %v", err))
		return fmt.Errorf("slack auth: %w", err)
	}
	a.botUser = auth.UserID

	go a.handleEvents(ctx)
	go func() {
		if err := a.socket.RunContext(ctx); err != nil && ctx.Err() == nil {
			a.logger.Error("slack socket mode error", zap.Error(err))
			a.setError(err.Error())
		}
	}()

	a.mu.Lock()
	a.connected = true
	a.connectedAt = time.Now()
	a.lastError = ""
	a.mu.Unlock()
	a.logger.Info("slack adapter connected via socket mode", zap.String("bot", auth.User))
	return nil
}

func (a *SlackAdapter) setError(msg string) {
	a.mu.Lock()
	a.connected = false
	a.lastError = msg
	a.mu.Unlock()
}

// handleEvents processes incoming Socket Mode events.
func (a *SlackAdapter) handleEvents(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case evt, ok := <-a.socket.Events:
			if !ok {
				return
			}
			a.processEvent(evt)
		}
	}
}

func (a *SlackAdapter) processEvent(evt socketmode.Event) {
	switch evt.Type {
	case socketmode.EventTypeEventsAPI:
		eventsAPI, ok := evt.Data.(slackevents.EventsAPIEvent)
		if !ok {
			return
		}
		a.socket.Ack(*evt.Request)

		if eventsAPI.Type == slackevents.CallbackEvent {
			switch inner := eventsAPI.InnerEvent.Data.(type) {
			case *slackevents.MessageEvent:
				// Ignore bot messages and edits to avoid loops
				if inner.BotID != "" || inner.SubType != "" || inner.User == a.botUser {
					return
				}
				a.handleSlackMessage(inner)
			}
		}
	case socketmode.EventTypeConnectionError:
		a.setError("socket mode connection error")
	case socketmode.EventTypeConnected:
		a.mu.Lock()
		a.connected = true
		a.lastError = ""
		a.mu.Unlock()
	}
}

func (a *SlackAdapter) handleSlackMessage(ev *slackevents.MessageEvent) {
	if a.handler == nil {
		return
	}

	threadTS := ev.ThreadTimeStamp
	if threadTS == "" {
		threadTS = ev.TimeStamp
	}

	a.handler(&InboundMessage{
		Platform:  "slack",
		ChannelID: ev.Channel,
		UserID:    ev.User,
		UserName:  ev.User,
		Content:   ev.Text,
		Timestamp: time.Now(),
		ReplyTo:   threadTS,
	})
}

// Send posts a message to a Slack channel, threaded under ReplyTo when
// set. Oversized replies are split across several posts.
func (a *SlackAdapter) Send(ctx context.Context, msg *OutboundMessage) error {
	for _, part := range SplitMessage(msg.Content, slackMaxMessage) {
		opts := []slack.MsgOption{
			slack.MsgOptionText(part, false),
		}
		if msg.ReplyTo != "" {
			opts = append(opts, slack.MsgOptionTS(msg.ReplyTo))
		}

		if _, _, err := a.client.PostMessageContext(ctx, msg.ChannelID, opts...); err != nil {
			a.logger.Error("slack send failed",
				zap.String("channel", msg.ChannelID), zap.Error(err))
			return fmt.Errorf("slack send: %w", err)
		}
	}
	return nil
}

// Close is a no-op; the socket context cancellation handles shutdown.
func (a *SlackAdapter) Close() error {
	a.mu.Lock()
	a.connected = false
	a.mu.Unlock()
	return nil
}

func (a *SlackAdapter) Status() AdapterStatus {
	a.mu.RLock()
	defer a.mu.RUnlock()
	s := AdapterStatus{
		Platform:  "slack",
		Connected: a.connected,
		Error:     a.lastError,
	}
	if a.connected {
		t := a.connectedAt
		s.ConnectedAt = &t
		s.Details = "bot=" + a.botUser
	}
	return s
}
