package conversation

import (
	"errors"
	"math/rand"
	"testing"
)

func checkInvariant(t *testing.T, s *Store) {
	t.Helper()
	msgs := s.Messages()
	if len(msgs) == 0 || msgs[0].Role != RoleSystem {
		t.Fatalf("first message is not the system message: %+v", msgs)
	}
	for i, m := range msgs[1:] {
		if m.Role == RoleSystem {
			t.Fatalf("extra system message at index %d", i+1)
		}
	}
}

func TestNewStoreDefault(t *testing.T) {
	s := NewStore("")
	if s.SystemMessage() != DefaultSystemMessage || s.Len() != 1 {
		t.Errorf("got %+v", s.Messages())
	}
}

func TestAppendRejectsSystemAndUnknownRoles(t *testing.T) {
	s := NewStore("sys")
	for _, r := range []Role{RoleSystem, "tool", ""} {
		if err := s.Append(r, "x"); !errors.Is(err, ErrInvalidRole) {
			t.Errorf("Append(%q) = %v, want ErrInvalidRole", r, err)
		}
	}
	if s.Len() != 1 {
		t.Errorf("rejected appends changed the store: %+v", s.Messages())
	}
}

func TestUpdateSystemMessageInPlace(t *testing.T) {
	s := NewStore("a")
	s.Append(RoleUser, "hi")
	s.Append(RoleAssistant, "hello")
	s.UpdateSystemMessage("b")

	msgs := s.Messages()
	if len(msgs) != 3 || msgs[0].Content != "b" || msgs[1].Content != "hi" || msgs[2].Content != "hello" {
		t.Errorf("got %+v", msgs)
	}
}

func TestReset(t *testing.T) {
	s := NewStore("first")
	s.Append(RoleUser, "u1")
	s.Append(RoleAssistant, "a1")

	s.Reset("")
	if s.Len() != 1 || s.SystemMessage() != "first" {
		t.Errorf("Reset(\"\") = %+v", s.Messages())
	}

	s.Append(RoleUser, "u2")
	s.Reset("second")
	if s.Len() != 1 || s.SystemMessage() != "second" {
		t.Errorf("Reset(second) = %+v", s.Messages())
	}
}

func TestMessagesReturnsCopy(t *testing.T) {
	s := NewStore("sys")
	msgs := s.Messages()
	msgs[0].Content = "mutated"
	if s.SystemMessage() != "sys" {
		t.Error("Messages must not alias internal state")
	}
}

func TestSystemInvariantUnderRandomCalls(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	roles := []Role{RoleSystem, RoleUser, RoleAssistant, "bogus"}
	s := NewStore("")
	for i := 0; i < 2000; i++ {
		switch rng.Intn(5) {
		case 0:
			s.Initialize("init")
		case 1:
			s.UpdateSystemMessage("updated")
		case 2:
			s.Reset("")
		case 3:
			s.Reset("reset")
		default:
			s.Append(roles[rng.Intn(len(roles))], "content")
		}
		checkInvariant(t, s)
	}
}

func TestLast(t *testing.T) {
	s := NewStore("sys")
	s.Append(RoleUser, "q")
	m, ok := s.Last()
	if !ok || m.Role != RoleUser || m.Content != "q" {
		t.Errorf("Last = %+v, %v", m, ok)
	}
}
