package services

import (
	"net/http"
	"sync"

	"github.com/desertthunder/spotauth/internal/shared"
	"golang.org/x/oauth2"
)

// TokenSlot holds the bearer credential attached to every outbound Spotify call.
//
// An empty slot is the unauthenticated state: [TokenSlot.Token] fails with [shared.ErrNotAuthenticated]
// so requests never go out without a credential.
type TokenSlot struct {
	mu    sync.RWMutex
	token string
}

// NewTokenSlot returns an empty slot.
func NewTokenSlot() *TokenSlot {
	return &TokenSlot{}
}

// Set installs token. Set("") empties the slot.
func (s *TokenSlot) Set(token string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.token = token
}

// Current returns the raw token, "" when empty.
func (s *TokenSlot) Current() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.token
}

// Token implements [oauth2.TokenSource].
func (s *TokenSlot) Token() (*oauth2.Token, error) {
	tok := s.Current()
	if tok == "" {
		return nil, shared.ErrNotAuthenticated
	}
	return &oauth2.Token{AccessToken: tok, TokenType: "Bearer"}, nil
}

// Client returns an HTTP client that reads the slot at send time, so later Set calls apply to it.
func (s *TokenSlot) Client(base *http.Client) *http.Client {
	return withSource(base, s)
}

func withSource(base *http.Client, src oauth2.TokenSource) *http.Client {
	if base == nil {
		base = http.DefaultClient
	}
	return &http.Client{
		Transport: &oauth2.Transport{Source: src, Base: base.Transport},
		Timeout:   base.Timeout,
	}
}
