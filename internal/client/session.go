package client

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// Tokens held by the client between requests
type Tokens struct {
	Access           string
	AccessExpiresAt  time.Time
	Refresh          string
	RefreshExpiresAt time.Time
}

func (t Tokens) IsZero() bool {
	return t.Access == "" && t.Refresh == ""
}

// Persistence for Session. Load returns zero Tokens if nothing saved
type SessionStore interface {
	Load(ctx context.Context) (Tokens, error)
	Save(ctx context.Context, t Tokens) error
	Clear(ctx context.Context) error
}

// Session holds current token pair. Safe for concurrent use
type Session struct {
	mu     sync.RWMutex
	tokens Tokens
	store  SessionStore // optional
}

func NewSession(store SessionStore) *Session {
	return &Session{store: store}
}

// Restore tokens from the store
func (s *Session) Load(ctx context.Context) error {
	if s.store == nil {
		return nil
	}

	t, err := s.store.Load(ctx)
	if err != nil {
		return fmt.Errorf("load session: %w", err)
	}

	s.mu.Lock()
	s.tokens = t
	s.mu.Unlock()
	return nil
}

func (s *Session) Tokens() Tokens {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.tokens
}

// Replace tokens. In-memory state is updated even if the store fails
func (s *Session) Set(ctx context.Context, t Tokens) error {
	s.mu.Lock()
	s.tokens = t
	s.mu.Unlock()

	if s.store == nil {
		return nil
	}
	if err := s.store.Save(ctx, t); err != nil {
		return fmt.Errorf("save session: %w", err)
	}
	return nil
}

func (s *Session) Clear(ctx context.Context) error {
	s.mu.Lock()
	s.tokens = Tokens{}
	s.mu.Unlock()

	if s.store == nil {
		return nil
	}
	if err := s.store.Clear(ctx); err != nil {
		return fmt.Errorf("clear session: %w", err)
	}
	return nil
}
