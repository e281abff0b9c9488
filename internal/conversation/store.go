package conversation

import (
	"errors"
	"fmt"
)

// DefaultSystemMessage seeds a new conversation when none is given.
const DefaultSystemMessage = "You are a helpful and accurate assistant."

// Role tags who authored a message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Valid reports whether r is a known role.
func (r Role) Valid() bool {
	switch r {
	case RoleSystem, RoleUser, RoleAssistant:
		return true
	}
	return false
}

// ErrInvalidRole is returned when Append is given the system role or an
// unknown role.
var ErrInvalidRole = errors.New("invalid message role")

// Message is one turn in the conversation.
type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// Store holds the ordered message list of one conversation. The first
// message is always the single system message.
//
// Store is not safe for concurrent use; callers serialize access.
type Store struct {
	messages []Message
}

// NewStore creates a conversation seeded with system, or with
// DefaultSystemMessage if system is empty.
func NewStore(system string) *Store {
	s := &Store{}
	if system == "" {
		system = DefaultSystemMessage
	}
	s.Initialize(system)
	return s
}

// Initialize discards all messages and starts over with system.
func (s *Store) Initialize(system string) {
	s.messages = []Message{{Role: RoleSystem, Content: system}}
}

// UpdateSystemMessage replaces the system message in place. All other
// messages are untouched.
func (s *Store) UpdateSystemMessage(msg string) {
	if len(s.messages) > 0 && s.messages[0].Role == RoleSystem {
		s.messages[0].Content = msg
		return
	}
	s.messages = append([]Message{{Role: RoleSystem, Content: msg}}, s.messages...)
}

// Append adds a user or assistant message to the end of the conversation.
func (s *Store) Append(role Role, content string) error {
	if role == RoleSystem || !role.Valid() {
		return fmt.Errorf("append %q: %w", role, ErrInvalidRole)
	}
	s.messages = append(s.messages, Message{Role: role, Content: content})
	return nil
}

// Reset clears the conversation down to the system message. An empty
// system keeps the current one.
func (s *Store) Reset(system string) {
	if system == "" {
		system = s.SystemMessage()
	}
	s.Initialize(system)
}

// SystemMessage returns the current system message.
func (s *Store) SystemMessage() string {
	if len(s.messages) > 0 && s.messages[0].Role == RoleSystem {
		return s.messages[0].Content
	}
	return ""
}

// Messages returns a copy of the conversation.
func (s *Store) Messages() []Message {
	out := make([]Message, len(s.messages))
	copy(out, s.messages)
	return out
}

// Len returns the number of messages including the system message.
func (s *Store) Len() int { return len(s.messages) }

// Last returns the final message, if any.
func (s *Store) Last() (Message, bool) {
	if len(s.messages) == 0 {
		return Message{}, false
	}
	return s.messages[len(s.messages)-1], true
}
