package memory

import (
	"context"
	"sync"

	"eartune-trainer/internal/credentials"
	"eartune-trainer/internal/domain"
)

// TokenStore holds credentials for the lifetime of the process.
type TokenStore struct {
	mu     sync.RWMutex
	tokens credentials.Tokens
}

func NewTokenStore(initial credentials.Tokens) *TokenStore {
	return &TokenStore{tokens: initial}
}

func (s *TokenStore) Load(_ context.Context) (credentials.Tokens, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.tokens.Empty() {
		return credentials.Tokens{}, domain.ErrNoCredentials
	}
	return s.tokens, nil
}

func (s *TokenStore) Save(_ context.Context, tokens credentials.Tokens) error {
	s.mu.Lock()
	s.tokens = tokens
	s.mu.Unlock()
	return nil
}
