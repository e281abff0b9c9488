package gateway

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"go.uber.org/zap"
)

type fakeAdapter struct {
	platform   string
	connectErr error
	handler    MessageHandler

	mu   sync.Mutex
	sent []*OutboundMessage
}

func (f *fakeAdapter) Platform() string { return f.platform }
func (f *fakeAdapter) Connect(context.Context) error { return f.connectErr }
func (f *fakeAdapter) OnMessage(h MessageHandler) { f.handler = h }
func (f *fakeAdapter) Close() error { return nil }
func (f *fakeAdapter) Status() AdapterStatus {
	return AdapterStatus{Platform: f.platform, Connected: f.connectErr == nil}
}

func (f *fakeAdapter) Send(_ context.Context, msg *OutboundMessage) error {
	f.mu.Lock()
	f.sent = append(f.sent, msg)
	f.mu.Unlock()
	return nil
}

func TestGatewayRoutesInboundAndOutbound(t *testing.T) {
	g := NewGateway(zap.NewNop())
	slack := &fakeAdapter{platform: "slack"}
	g.Register(slack)

	var got *InboundMessage
	g.SetHandler(func(m *InboundMessage) { got = m })
	slack.handler(&InboundMessage{Platform: "slack", ChannelID: "C1", Content: "hi"})
	if got == nil || got.SessionKey() != "slack:C1" {
		t.Fatalf("inbound = %+v", got)
	}

	if err := g.Send(context.Background(), &OutboundMessage{Platform: "slack", ChannelID: "C1", Content: "yo"}); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if len(slack.sent) != 1 {
		t.Errorf("sent = %+v", slack.sent)
	}
	if err := g.Send(context.Background(), &OutboundMessage{Platform: "irc"}); err == nil {
		t.Error("expected error for unknown platform")
	}
}

func TestConnectAllContinuesPastFailure(t *testing.T) {
	g := NewGateway(zap.NewNop())
	boom := errors.New("bad token")
	g.Register(&fakeAdapter{platform: "discord", connectErr: boom})
	g.Register(&fakeAdapter{platform: "slack"})

	err := g.ConnectAll(context.Background())
	if !errors.Is(err, boom) {
		t.Fatalf("ConnectAll = %v", err)
	}
	st := g.StatusAll()
	if len(st) != 2 || st[0].Platform != "discord" || st[0].Connected || !st[1].Connected {
		t.Errorf("status = %+v", st)
	}
	if names := g.Adapters(); len(names) != 2 || names[0] != "discord" {
		t.Errorf("adapters = %v", names)
	}
}

func TestSplitMessage(t *testing.T) {
	if parts := SplitMessage("short", 10); len(parts) != 1 || parts[0] != "short" {
		t.Errorf("short = %q", parts)
	}
	if parts := SplitMessage("", 10); len(parts) != 1 {
		t.Errorf("empty = %q", parts)
	}

	parts := SplitMessage("first line\nsecond line here", 12)
	if len(parts) != 3 || parts[0] != "first line" || parts[1] != "second line" || parts[2] != "here" {
		t.Errorf("split = %q", parts)
	}

	long := strings.Repeat("x", 25)
	parts = SplitMessage(long, 10)
	if len(parts) != 3 || strings.Join(parts, "") != long {
		t.Errorf("hard split = %q", parts)
	}

	for _, p := range SplitMessage(strings.Repeat("héllo wörld ", 50), 40) {
		if n := len([]rune(p)); n > 40 {
			t.Errorf("part has %d runes", n)
		}
	}
}
