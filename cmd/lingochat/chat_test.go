package main

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/nidhogg/lingochat/internal/api"
	"github.com/nidhogg/lingochat/internal/compressor"
	"github.com/nidhogg/lingochat/internal/provider"
	"github.com/nidhogg/lingochat/internal/session"
	"go.uber.org/zap"
)

type replyCompleter struct{}

func (replyCompleter) ChatStream(_ context.Context, _ *provider.ChatRequest) (<-chan *provider.StreamChunk, error) {
	ch := make(chan *provider.StreamChunk, 3)
	ch <- &provider.StreamChunk{Content: "Hel"}
	ch <- &provider.StreamChunk{Content: "lo"}
	ch <- &provider.StreamChunk{Done: true}
	close(ch)
	return ch, nil
}

func newTestServer(t *testing.T) (*session.Manager, *httptest.Server) {
	t.Helper()
	logger := zap.NewNop()
	comp := compressor.NewAdapter(compressor.NewLocalBackend(), compressor.WordTokenizer{}, compressor.Options{}, logger)
	mgr := session.NewManager(session.Config{Compressor: comp, Completer: replyCompleter{}}, logger)
	ts := httptest.NewServer(api.NewHandler(mgr, comp, nil, nil, nil, logger).Router())
	t.Cleanup(ts.Close)
	return mgr, ts
}

func TestChatClientSession(t *testing.T) {
	mgr, ts := newTestServer(t)
	var out, errOut bytes.Buffer
	c := &chatClient{server: ts.URL, http: http.DefaultClient, out: &out, errOut: &errOut}

	id, err := c.createSession("40", "", "Be brief.")
	if err != nil {
		t.Fatalf("createSession: %v", err)
	}
	c.session = id

	input := strings.Join([]string{
		"/strength 250",
		"/temperature 0.4",
		"Hello there, how are you today?",
		"/settings",
		"exit",
	}, "\n")
	if err := c.repl(strings.NewReader(input)); err != nil {
		t.Fatalf("repl: %v", err)
	}

	got := out.String()
	for _, want := range []string{"Keeping current settings.", "Temperature: 0.4", "Hello\n", "Compression strength: 40%", "Messages: 3", "Bye!"} {
		if !strings.Contains(got, want) {
			t.Errorf("output missing %q:\n%s", want, got)
		}
	}
	if errOut.Len() != 0 || strings.Contains(got, "invalid settings") {
		t.Errorf("parse error shown to the user: stdout %q, stderr %q", got, errOut.String())
	}

	sess, err := mgr.Get(id)
	if err != nil {
		t.Fatal(err)
	}
	if s := sess.Settings(); s.CompressionStrength != 40 || s.Temperature != 0.4 || s.SystemMessage != "Be brief." {
		t.Errorf("server settings = %+v", s)
	}
}

func TestChatClientReportsServerErrors(t *testing.T) {
	_, ts := newTestServer(t)
	var out, errOut bytes.Buffer
	c := &chatClient{server: ts.URL, session: "missing", http: http.DefaultClient, out: &out, errOut: &errOut}

	c.stream("hi")
	if !strings.Contains(errOut.String(), "Server error (404): session not found") {
		t.Errorf("stderr = %q", errOut.String())
	}
}
