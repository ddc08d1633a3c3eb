package credentials

import (
	"context"
	"fmt"
	"io"
	"net/http"

	"golang.org/x/oauth2"

	"eartune-trainer/internal/domain"
)

// Transport authorizes requests with tokens from Source. A 401 invalidates the
// token and the request is replayed once with a refreshed one; a second 401 is
// returned to the caller as is.
type Transport struct {
	Source *Source
	Base   http.RoundTripper
}

func NewTransport(source *Source, base http.RoundTripper) *Transport {
	return &Transport{Source: source, Base: base}
}

type bearerKey struct{}

// WithBearer makes requests issued under ctx carry token instead of the stored
// credential. Such requests are never refreshed.
func WithBearer(ctx context.Context, token string) context.Context {
	return context.WithValue(ctx, bearerKey{}, token)
}

// BearerFrom returns the token set by WithBearer.
func BearerFrom(ctx context.Context) (string, bool) {
	token, ok := ctx.Value(bearerKey{}).(string)
	return token, ok && token != ""
}

func (t *Transport) RoundTrip(req *http.Request) (*http.Response, error) {
	if access, ok := BearerFrom(req.Context()); ok {
		return t.base().RoundTrip(authorized(req, req.Body, &oauth2.Token{AccessToken: access, TokenType: "Bearer"}))
	}
	tok, err := t.Source.TokenContext(req.Context())
	if err != nil {
		return nil, err
	}
	resp, err := t.base().RoundTrip(authorized(req, req.Body, tok))
	if err != nil || resp.StatusCode != http.StatusUnauthorized {
		return resp, err
	}
	if req.Body != nil && req.Body != http.NoBody && req.GetBody == nil {
		return resp, nil
	}

	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4<<10))
	resp.Body.Close()

	t.Source.Invalidate(tok.AccessToken)
	tok, err = t.Source.TokenContext(req.Context())
	if err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrUnauthorized, err)
	}
	body := req.Body
	if req.GetBody != nil {
		if body, err = req.GetBody(); err != nil {
			return nil, fmt.Errorf("replay request body: %w", err)
		}
	}
	return t.base().RoundTrip(authorized(req, body, tok))
}

func (t *Transport) base() http.RoundTripper {
	if t.Base != nil {
		return t.Base
	}
	return http.DefaultTransport
}

func authorized(req *http.Request, body io.ReadCloser, tok *oauth2.Token) *http.Request {
	r := req.Clone(req.Context())
	r.Body = body
	tok.SetAuthHeader(r)
	return r
}
