package remote

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"eartune-trainer/internal/credentials"
	"eartune-trainer/internal/domain"
	"eartune-trainer/internal/wire"
)

// AuthClient exchanges credentials for token pairs. It never goes through the
// authorizing transport, so refreshing cannot recurse.
type AuthClient struct {
	baseURL    *url.URL
	httpClient *http.Client
}

func NewAuthClient(cfg Config) (*AuthClient, error) {
	base, err := parseBaseURL(cfg.BaseURL)
	if err != nil {
		return nil, err
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	return &AuthClient{baseURL: base, httpClient: &http.Client{Timeout: cfg.Timeout}}, nil
}

// Login obtains a fresh token pair for username.
func (a *AuthClient) Login(ctx context.Context, username, password string) (credentials.Tokens, error) {
	if strings.TrimSpace(username) == "" || password == "" {
		return credentials.Tokens{}, fmt.Errorf("%w: username and password are required", domain.ErrValidation)
	}
	var pair wire.TokenPair
	body := wire.LoginRequest{Username: username, Password: password}
	if err := doJSON(ctx, a.httpClient, a.baseURL, http.MethodPost, pathToken, nil, body, &pair); err != nil {
		return credentials.Tokens{}, err
	}
	if pair.Access == "" {
		return credentials.Tokens{}, fmt.Errorf("%w: login returned no access token", domain.ErrMalformedResponse)
	}
	return credentials.Tokens{Access: pair.Access, Refresh: pair.Refresh}, nil
}

// Register creates an account. It does not sign in; call Login afterwards.
func (a *AuthClient) Register(ctx context.Context, username, password string) error {
	if strings.TrimSpace(username) == "" || password == "" {
		return fmt.Errorf("%w: username and password are required", domain.ErrValidation)
	}
	body := wire.RegisterRequest{Username: username, Password1: password, Password2: password}
	return doJSON(ctx, a.httpClient, a.baseURL, http.MethodPost, pathRegister, nil, body, nil)
}

// Refresh trades a refresh token for a new access token. A backend that rotates
// refresh tokens returns a new one; otherwise the old one is kept.
func (a *AuthClient) Refresh(ctx context.Context, refresh string) (credentials.Tokens, error) {
	if refresh == "" {
		return credentials.Tokens{}, domain.ErrNoCredentials
	}
	var pair wire.TokenPair
	err := doJSON(ctx, a.httpClient, a.baseURL, http.MethodPost, pathRefresh, nil, wire.RefreshRequest{Refresh: refresh}, &pair)
	if err != nil {
		if errors.Is(err, domain.ErrUnauthorized) {
			return credentials.Tokens{}, fmt.Errorf("%w: refresh token rejected: %w", domain.ErrNoCredentials, err)
		}
		return credentials.Tokens{}, err
	}
	if pair.Access == "" {
		return credentials.Tokens{}, fmt.Errorf("%w: refresh returned no access token", domain.ErrMalformedResponse)
	}
	if pair.Refresh == "" {
		pair.Refresh = refresh
	}
	return credentials.Tokens{Access: pair.Access, Refresh: pair.Refresh}, nil
}
