package session

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/nidhogg/lingochat/internal/chat"
	"github.com/nidhogg/lingochat/internal/compressor"
	"github.com/nidhogg/lingochat/internal/conversation"
)

// Entry is one line of the display transcript. User entries carry the
// text as typed plus what was actually sent.
type Entry struct {
	Role       conversation.Role  `json:"role"`
	Content    string             `json:"content"`
	Compressed *string            `json:"compressed,omitempty"`
	Stats      *compressor.Result `json:"stats,omitempty"`
	Failed     bool               `json:"failed,omitempty"`
}

// Session is one conversation with its current settings and transcript.
type Session struct {
	ID        string    `json:"id"`
	Key       string    `json:"key,omitempty"`
	CreatedAt time.Time `json:"created_at"`

	chat *chat.Service

	mu         sync.Mutex
	settings   chat.Settings
	transcript []Entry
	lastUsed   time.Time
}

// Info is a JSON-friendly snapshot of a session.
type Info struct {
	ID        string        `json:"id"`
	Key       string        `json:"key,omitempty"`
	CreatedAt time.Time     `json:"created_at"`
	LastUsed  time.Time     `json:"last_used"`
	Settings  chat.Settings `json:"settings"`
	Messages  int           `json:"messages"`
	Busy      bool          `json:"busy"`
}

// Info returns a snapshot of the session.
func (s *Session) Info() Info {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Info{
		ID:        s.ID,
		Key:       s.Key,
		CreatedAt: s.CreatedAt,
		LastUsed:  s.lastUsed,
		Settings:  s.settings,
		Messages:  len(s.chat.History()),
		Busy:      s.chat.Busy(),
	}
}

// Settings returns the settings the next turn will use.
func (s *Session) Settings() chat.Settings {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.settings
}

// SetSettings replaces the settings after validating them. The system
// message is applied to the conversation immediately.
func (s *Session) SetSettings(next chat.Settings) error {
	if err := next.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	s.settings = next
	s.touch()
	s.mu.Unlock()
	if next.SystemMessage != "" {
		s.chat.UpdateSystemMessage(next.SystemMessage)
	}
	return nil
}

// ApplySettings parses textual settings on top of the current ones. On
// failure every previous value is kept and the error is returned for
// display.
func (s *Session) ApplySettings(strength, temperature, system string) (chat.Settings, error) {
	s.mu.Lock()
	next, err := chat.ParseSettings(s.settings, strength, temperature, system)
	if err == nil {
		s.settings = next
	}
	s.touch()
	s.mu.Unlock()
	if err == nil && system != "" {
		s.chat.UpdateSystemMessage(next.SystemMessage)
	}
	return next, err
}

// Turn is a chat turn whose Wait also waits for the transcript update.
type Turn struct {
	*chat.Turn
	recorded chan struct{}
}

// Wait blocks until the turn has ended and is in the transcript.
func (t *Turn) Wait() (string, error) {
	reply, err := t.Turn.Wait()
	<-t.recorded
	return reply, err
}

// SendTurn starts a turn with the current settings. The transcript gets
// the user entry now and the assistant entry when the turn ends.
func (s *Session) SendTurn(ctx context.Context, text string) (*Turn, error) {
	settings := s.Settings()
	ct, err := s.chat.SendTurn(ctx, text, settings)
	if err != nil {
		// The user message stays in history when the request fails.
		if errors.Is(err, chat.ErrRequestFailed) {
			s.mu.Lock()
			s.transcript = append(s.transcript, Entry{Role: conversation.RoleUser, Content: text, Failed: true})
			s.touch()
			s.mu.Unlock()
		}
		return nil, err
	}

	compressed := ct.Compression.Text
	stats := ct.Compression
	s.mu.Lock()
	s.transcript = append(s.transcript, Entry{
		Role:       conversation.RoleUser,
		Content:    text,
		Compressed: &compressed,
		Stats:      &stats,
	})
	s.touch()
	s.mu.Unlock()

	t := &Turn{Turn: ct, recorded: make(chan struct{})}
	go func() {
		defer close(t.recorded)
		// Done closes after Fragments, so this Wait drains nothing.
		<-ct.Done()
		reply, err := ct.Wait()
		s.mu.Lock()
		defer s.mu.Unlock()
		s.transcript = append(s.transcript, Entry{Role: conversation.RoleAssistant, Content: reply, Failed: err != nil})
		s.touch()
	}()
	return t, nil
}

// Send runs a turn to completion with the current settings.
func (s *Session) Send(ctx context.Context, text string, onFragment func(string)) (*chat.TurnResult, error) {
	turn, err := s.SendTurn(ctx, text)
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
	return &chat.TurnResult{
		TurnID:       turn.ID,
		Reply:        reply,
		Compression:  turn.Compression,
		Uncompressed: turn.Uncompressed,
	}, nil
}

// Reset clears the conversation and transcript. An empty system keeps
// the current system message.
func (s *Session) Reset(system string) error {
	if err := s.chat.Reset(system); err != nil {
		return err
	}
	s.mu.Lock()
	s.transcript = nil
	if system != "" {
		s.settings.SystemMessage = system
	}
	s.touch()
	s.mu.Unlock()
	return nil
}

// Transcript returns a copy of the display transcript.
func (s *Session) Transcript() []Entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Entry, len(s.transcript))
	copy(out, s.transcript)
	return out
}

// History returns the conversation as sent to the model.
func (s *Session) History() []conversation.Message {
	return s.chat.History()
}

// Busy reports whether a turn is streaming.
func (s *Session) Busy() bool { return s.chat.Busy() }

func (s *Session) idleSince() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastUsed
}

// touch must be called with mu held.
func (s *Session) touch() { s.lastUsed = time.Now() }
