package session

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/nidhogg/lingochat/internal/chat"
	"github.com/nidhogg/lingochat/internal/conversation"
	"github.com/nidhogg/lingochat/internal/events"
	"go.uber.org/zap"
)

// ErrNotFound is returned for an unknown session ID.
var ErrNotFound = errors.New("session not found")

// Config wires the collaborators every session shares.
type Config struct {
	Compressor chat.Compressor
	Completer  chat.Completer
	Chat       chat.Options
	Defaults   chat.Settings
	Events     events.Publisher
	Ledger     Ledger
}

// Manager owns the live sessions. Each session has its own conversation
// and chat service so turns in different sessions never contend.
type Manager struct {
	cfg    Config
	logger *zap.Logger

	mu       sync.RWMutex
	sessions map[string]*Session
	byKey    map[string]string
}

// NewManager creates a session manager.
func NewManager(cfg Config, logger *zap.Logger) *Manager {
	if cfg.Defaults == (chat.Settings{}) {
		cfg.Defaults = chat.DefaultSettings()
	}
	if cfg.Events == nil {
		cfg.Events = events.Nop{}
	}
	return &Manager{
		cfg:      cfg,
		logger:   logger,
		sessions: make(map[string]*Session),
		byKey:    make(map[string]string),
	}
}

// Defaults returns the settings new sessions start with.
func (m *Manager) Defaults() chat.Settings { return m.cfg.Defaults }

// Create starts a new session. A nil settings uses the defaults.
func (m *Manager) Create(settings *chat.Settings) (*Session, error) {
	s := m.cfg.Defaults
	if settings != nil {
		s = *settings
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}

	sess := m.newSession(s, "")
	m.mu.Lock()
	m.sessions[sess.ID] = sess
	m.mu.Unlock()
	m.logger.Info("session created", zap.String("session", sess.ID))
	return sess, nil
}

// ForKey returns the session bound to key, creating it on first use.
// Chat platforms key sessions by platform and channel.
func (m *Manager) ForKey(key string) *Session {
	m.mu.RLock()
	if id, ok := m.byKey[key]; ok {
		if sess, ok := m.sessions[id]; ok {
			m.mu.RUnlock()
			return sess
		}
	}
	m.mu.RUnlock()

	m.mu.Lock()
	defer m.mu.Unlock()
	if id, ok := m.byKey[key]; ok {
		if sess, ok := m.sessions[id]; ok {
			return sess
		}
	}
	sess := m.newSession(m.cfg.Defaults, key)
	m.sessions[sess.ID] = sess
	m.byKey[key] = sess.ID
	m.logger.Info("session created", zap.String("session", sess.ID), zap.String("key", key))
	return sess
}

func (m *Manager) newSession(settings chat.Settings, key string) *Session {
	id := uuid.New().String()
	sink := &turnSink{
		sessionID: id,
		events:    m.cfg.Events,
		ledger:    m.cfg.Ledger,
		logger:    m.logger,
	}
	opts := m.cfg.Chat
	opts.Observer = sink

	store := conversation.NewStore(settings.SystemMessage)
	now := time.Now()
	return &Session{
		ID:        id,
		Key:       key,
		CreatedAt: now,
		chat:      chat.NewService(m.cfg.Compressor, m.cfg.Completer, store, opts, m.logger.With(zap.String("session", id))),
		settings:  settings,
		lastUsed:  now,
	}
}

// Get returns a session by ID.
func (m *Manager) Get(id string) (*Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	sess, ok := m.sessions[id]
	if !ok {
		return nil, ErrNotFound
	}
	return sess, nil
}

// Delete removes a session. A streaming turn runs to completion but its
// result is discarded with the session.
func (m *Manager) Delete(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	sess, ok := m.sessions[id]
	if !ok {
		return ErrNotFound
	}
	delete(m.sessions, id)
	if sess.Key != "" {
		delete(m.byKey, sess.Key)
	}
	m.logger.Info("session deleted", zap.String("session", id))
	return nil
}

// List returns snapshots of all sessions, oldest first.
func (m *Manager) List() []Info {
	m.mu.RLock()
	out := make([]Info, 0, len(m.sessions))
	for _, s := range m.sessions {
		out = append(out, s.Info())
	}
	m.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

// Sweep deletes sessions idle for longer than maxIdle and returns how
// many were removed. Sessions with a streaming turn are kept.
func (m *Manager) Sweep(maxIdle time.Duration) int {
	cutoff := time.Now().Add(-maxIdle)
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for id, s := range m.sessions {
		if s.Busy() || s.idleSince().After(cutoff) {
			continue
		}
		delete(m.sessions, id)
		if s.Key != "" {
			delete(m.byKey, s.Key)
		}
		n++
	}
	if n > 0 {
		m.logger.Info("idle sessions evicted", zap.Int("count", n))
	}
	return n
}

// Run sweeps idle sessions every interval until ctx is done. A
// non-positive maxIdle disables eviction.
func (m *Manager) Run(ctx context.Context, interval, maxIdle time.Duration) {
	if maxIdle <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.Sweep(maxIdle)
		}
	}
}
