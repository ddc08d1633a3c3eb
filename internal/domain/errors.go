package domain

import "errors"

var (
	// ErrValidation is returned for bad local input; no network call is made.
	ErrValidation = errors.New("invalid input")
	// ErrNetwork indicates a transport or backend failure. Nothing was mutated.
	ErrNetwork = errors.New("network error")
	// ErrMalformedResponse indicates the backend answered with an unexpected payload.
	ErrMalformedResponse = errors.New("malformed response")
	// ErrSessionStart is returned when a session could not be initialized.
	ErrSessionStart = errors.New("session could not be started")
	// ErrSessionOver is returned when a submission reaches a finished session.
	ErrSessionOver = errors.New("session is over")
	// ErrNoSession is returned when an operation needs a session that was never started.
	ErrNoSession = errors.New("no active session")
	// ErrNoChallenge is returned when answering before a challenge has been loaded.
	ErrNoChallenge = errors.New("no challenge loaded")
	// ErrStaleResponse marks a response that arrived for a superseded session or challenge.
	ErrStaleResponse = errors.New("stale response discarded")
	// ErrUnauthorized indicates the backend rejected the credentials even after a refresh.
	ErrUnauthorized = errors.New("unauthorized")
	// ErrNoCredentials indicates no tokens have been stored yet.
	ErrNoCredentials = errors.New("no stored credentials")
	// ErrGameNotFound indicates a requested game id is unknown.
	ErrGameNotFound = errors.New("game not found")
	// ErrEventNotOpen is returned when dismissing an event that is not displayed.
	ErrEventNotOpen = errors.New("event not open")
)

// IsBlocking reports whether err should be surfaced with a blocking message and a retry
// affordance rather than an inline notice.
func IsBlocking(err error) bool {
	if err == nil {
		return false
	}
	return errors.Is(err, ErrSessionStart) || errors.Is(err, ErrMalformedResponse)
}

// Kind returns a short machine-readable name for the error class of err.
func Kind(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrValidation):
		return "validation"
	case errors.Is(err, ErrSessionStart):
		return "session_start"
	case errors.Is(err, ErrMalformedResponse):
		return "malformed_response"
	case errors.Is(err, ErrNoCredentials):
		return "no_credentials"
	case errors.Is(err, ErrUnauthorized):
		return "unauthorized"
	case errors.Is(err, ErrNetwork):
		return "network"
	case errors.Is(err, ErrSessionOver):
		return "session_over"
	case errors.Is(err, ErrNoSession):
		return "no_session"
	case errors.Is(err, ErrNoChallenge):
		return "no_challenge"
	case errors.Is(err, ErrStaleResponse):
		return "stale"
	case errors.Is(err, ErrEventNotOpen):
		return "event_not_open"
	case errors.Is(err, ErrGameNotFound):
		return "game_not_found"
	default:
		return "internal"
	}
}
