// Package credentials keeps the player's bearer tokens fresh for the remote API.
package credentials

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/oauth2"

	"eartune-trainer/internal/domain"
)

const defaultLeeway = 30 * time.Second

// Tokens is the access/refresh pair issued by the backend.
type Tokens struct {
	Access  string `json:"access"`
	Refresh string `json:"refresh"`
}

func (t Tokens) Empty() bool { return t.Access == "" && t.Refresh == "" }

// Store persists tokens between runs. Load returns domain.ErrNoCredentials when
// nothing has been saved.
type Store interface {
	Load(ctx context.Context) (Tokens, error)
	Save(ctx context.Context, tokens Tokens) error
}

type Refresher interface {
	Refresh(ctx context.Context, refresh string) (Tokens, error)
}

type SourceOption func(*Source)

// WithLeeway refreshes tokens this long before they expire.
func WithLeeway(d time.Duration) SourceOption {
	return func(s *Source) { s.leeway = d }
}

func WithNow(now func() time.Time) SourceOption {
	return func(s *Source) { s.now = now }
}

// Source hands out a valid access token, refreshing it through the Refresher when
// it is about to expire or was rejected.
type Source struct {
	store     Store
	refresher Refresher
	leeway    time.Duration
	now       func() time.Time

	mu      sync.Mutex
	loaded  bool
	current *oauth2.Token
	refresh string
}

var _ oauth2.TokenSource = (*Source)(nil)

func NewSource(store Store, refresher Refresher, opts ...SourceOption) *Source {
	s := &Source{store: store, refresher: refresher, leeway: defaultLeeway, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Token implements oauth2.TokenSource.
func (s *Source) Token() (*oauth2.Token, error) {
	return s.TokenContext(context.Background())
}

func (s *Source) TokenContext(ctx context.Context) (*oauth2.Token, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.loaded {
		tokens, err := s.store.Load(ctx)
		if err != nil {
			return nil, err
		}
		if tokens.Empty() {
			return nil, domain.ErrNoCredentials
		}
		s.install(tokens)
		s.loaded = true
	}
	if s.valid() {
		return cloneToken(s.current), nil
	}
	if s.refresh == "" || s.refresher == nil {
		return nil, fmt.Errorf("%w: access token expired", domain.ErrNoCredentials)
	}

	tokens, err := s.refresher.Refresh(ctx, s.refresh)
	if err != nil {
		return nil, fmt.Errorf("refresh access token: %w", err)
	}
	if tokens.Refresh == "" {
		tokens.Refresh = s.refresh
	}
	s.install(tokens)
	if err := s.store.Save(ctx, tokens); err != nil {
		return nil, fmt.Errorf("save refreshed tokens: %w", err)
	}
	return cloneToken(s.current), nil
}

// Invalidate drops access if it is still the current token, so the next call
// refreshes. Tokens refreshed meanwhile by another request are kept.
func (s *Source) Invalidate(access string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current != nil && s.current.AccessToken == access {
		s.current = nil
	}
}

// Reset forgets cached tokens; the next call reloads them from the store.
func (s *Source) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.loaded = false
	s.current = nil
	s.refresh = ""
}

func (s *Source) install(tokens Tokens) {
	s.refresh = tokens.Refresh
	if tokens.Access == "" {
		s.current = nil
		return
	}
	s.current = &oauth2.Token{
		AccessToken:  tokens.Access,
		TokenType:    "Bearer",
		RefreshToken: tokens.Refresh,
		Expiry:       Expiry(tokens.Access),
	}
}

func (s *Source) valid() bool {
	if s.current == nil {
		return false
	}
	if s.current.Expiry.IsZero() {
		return true
	}
	return s.now().Add(s.leeway).Before(s.current.Expiry)
}

// Expiry reads the exp claim of a JWT without verifying it. Opaque tokens and
// tokens without exp report the zero time and are used until rejected.
func Expiry(access string) time.Time {
	claims := &jwt.RegisteredClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(access, claims); err != nil {
		return time.Time{}
	}
	if claims.ExpiresAt == nil {
		return time.Time{}
	}
	return claims.ExpiresAt.Time
}

func cloneToken(t *oauth2.Token) *oauth2.Token {
	c := *t
	return &c
}

// IsMissing reports whether err means the player has to log in again.
func IsMissing(err error) bool {
	return errors.Is(err, domain.ErrNoCredentials)
}
