package session

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/nidhogg/lingochat/internal/chat"
	"github.com/nidhogg/lingochat/internal/compressor"
	"github.com/nidhogg/lingochat/internal/conversation"
	"github.com/nidhogg/lingochat/internal/events"
	"github.com/nidhogg/lingochat/internal/provider"
	"github.com/nidhogg/lingochat/internal/store"
	"go.uber.org/zap"
)

type echoCompleter struct{}

func (echoCompleter) ChatStream(ctx context.Context, req *provider.ChatRequest) (<-chan *provider.StreamChunk, error) {
	ch := make(chan *provider.StreamChunk, 3)
	last := req.Messages[len(req.Messages)-1].Content
	ch <- &provider.StreamChunk{Content: "echo: "}
	ch <- &provider.StreamChunk{Content: last}
	ch <- &provider.StreamChunk{Done: true}
	close(ch)
	return ch, nil
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []*events.Event
}

func (p *recordingPublisher) Publish(_ context.Context, ev *events.Event) error {
	p.mu.Lock()
	p.events = append(p.events, ev)
	p.mu.Unlock()
	return nil
}

type recordingLedger struct {
	mu      sync.Mutex
	records []store.TurnRecord
}

func (l *recordingLedger) RecordTurn(_ context.Context, r *store.TurnRecord) error {
	l.mu.Lock()
	l.records = append(l.records, *r)
	l.mu.Unlock()
	return nil
}

func newTestManager(pub events.Publisher, ledger Ledger) *Manager {
	comp := compressor.NewAdapter(compressor.NewLocalBackend(), compressor.WordTokenizer{}, compressor.Options{}, zap.NewNop())
	return NewManager(Config{
		Compressor: comp,
		Completer:  echoCompleter{},
		Events:     pub,
		Ledger:     ledger,
	}, zap.NewNop())
}

func TestManagerLifecycle(t *testing.T) {
	m := newTestManager(nil, nil)

	sess, err := m.Create(nil)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if sess.Settings() != chat.DefaultSettings() {
		t.Errorf("settings = %+v", sess.Settings())
	}
	if got, err := m.Get(sess.ID); err != nil || got != sess {
		t.Errorf("Get = %v, %v", got, err)
	}
	if len(m.List()) != 1 {
		t.Errorf("List = %+v", m.List())
	}
	if err := m.Delete(sess.ID); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := m.Get(sess.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("Get after delete = %v", err)
	}
	if err := m.Delete(sess.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("double delete = %v", err)
	}
}

func TestCreateRejectsInvalidSettings(t *testing.T) {
	m := newTestManager(nil, nil)
	bad := chat.DefaultSettings()
	bad.Temperature = 3
	if _, err := m.Create(&bad); !errors.Is(err, chat.ErrInvalidSettings) {
		t.Errorf("got %v", err)
	}
}

func TestForKeyReusesSession(t *testing.T) {
	m := newTestManager(nil, nil)
	a := m.ForKey("slack:C1")
	b := m.ForKey("slack:C1")
	c := m.ForKey("discord:C1")
	if a != b || a == c {
		t.Error("ForKey should bind one session per key")
	}
	m.Delete(a.ID)
	if d := m.ForKey("slack:C1"); d == a {
		t.Error("deleted session returned for key")
	}
}

func TestSessionSendRecordsTranscript(t *testing.T) {
	pub := &recordingPublisher{}
	ledger := &recordingLedger{}
	m := newTestManager(pub, ledger)
	sess, _ := m.Create(nil)

	var frags []string
	res, err := sess.Send(context.Background(), "Hello, how are you?", func(f string) { frags = append(frags, f) })
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if res.Reply != "echo: Hello, how are you?" || len(frags) != 2 {
		t.Errorf("reply = %q, fragments = %q", res.Reply, frags)
	}

	tr := sess.Transcript()
	if len(tr) != 2 {
		t.Fatalf("transcript = %+v", tr)
	}
	if tr[0].Role != conversation.RoleUser || tr[0].Content != "Hello, how are you?" || tr[0].Compressed == nil || tr[0].Stats == nil {
		t.Errorf("user entry = %+v", tr[0])
	}
	if tr[1].Role != conversation.RoleAssistant || tr[1].Failed {
		t.Errorf("assistant entry = %+v", tr[1])
	}
	if len(sess.History()) != 3 {
		t.Errorf("history = %+v", sess.History())
	}

	if len(pub.events) != 2 || pub.events[0].Type != events.TurnStarted || pub.events[1].Type != events.TurnCompleted {
		t.Fatalf("events = %+v", pub.events)
	}
	if pub.events[0].SessionID != sess.ID || pub.events[1].TurnID != res.TurnID {
		t.Errorf("event ids = %+v", pub.events[1])
	}
	if len(ledger.records) != 2 || ledger.records[1].Status != chat.StatusCompleted || ledger.records[1].ResponseChars == 0 {
		t.Errorf("ledger = %+v", ledger.records)
	}
}

func TestApplySettingsKeepsPreviousOnFailure(t *testing.T) {
	m := newTestManager(nil, nil)
	sess, _ := m.Create(nil)

	got, err := sess.ApplySettings("25", "0.4", "Reply in haiku.")
	if err != nil {
		t.Fatalf("ApplySettings: %v", err)
	}
	if got.CompressionStrength != 25 || sess.History()[0].Content != "Reply in haiku." {
		t.Errorf("settings = %+v, system = %q", got, sess.History()[0].Content)
	}

	before := sess.Settings()
	if _, err := sess.ApplySettings("x", "0.9", "ignored"); !errors.Is(err, chat.ErrInvalidSettings) {
		t.Fatalf("got %v", err)
	}
	if sess.Settings() != before {
		t.Errorf("settings changed on failure: %+v", sess.Settings())
	}
	if sess.History()[0].Content != "Reply in haiku." {
		t.Errorf("system changed on failure")
	}
}

func TestSessionReset(t *testing.T) {
	m := newTestManager(nil, nil)
	sess, _ := m.Create(nil)
	sess.Send(context.Background(), "one", nil)

	if err := sess.Reset("New persona."); err != nil {
		t.Fatalf("Reset: %v", err)
	}
	if len(sess.Transcript()) != 0 || len(sess.History()) != 1 {
		t.Errorf("after reset: transcript %d, history %d", len(sess.Transcript()), len(sess.History()))
	}
	if sess.Settings().SystemMessage != "New persona." {
		t.Errorf("settings system = %q", sess.Settings().SystemMessage)
	}
}

func TestSweepEvictsIdleSessions(t *testing.T) {
	m := newTestManager(nil, nil)
	old, _ := m.Create(nil)
	fresh := m.ForKey("slack:C9")

	old.mu.Lock()
	old.lastUsed = time.Now().Add(-2 * time.Hour)
	old.mu.Unlock()

	if n := m.Sweep(time.Hour); n != 1 {
		t.Errorf("Sweep = %d, want 1", n)
	}
	if _, err := m.Get(old.ID); !errors.Is(err, ErrNotFound) {
		t.Error("idle session not evicted")
	}
	if _, err := m.Get(fresh.ID); err != nil {
		t.Error("fresh session evicted")
	}
}
