package gmail

import (
	"strings"
	"sync"
)

// TokenStore holds the bearer token from the sign-in handoff. Only the mail
// sender reads it.
type TokenStore struct {
	mu    sync.RWMutex
	token string
}

func NewTokenStore() *TokenStore {
	return &TokenStore{}
}

func (s *TokenStore) Set(token string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.token = strings.TrimSpace(token)
}

func (s *TokenStore) Clear() {
	s.Set("")
}

// Token returns the stored token and whether one is present.
func (s *TokenStore) Token() (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.token, s.token != ""
}
