package cube

import (
	"errors"
	"fmt"
)

var (
	// ErrValidation marks bad caller input. Not retried.
	ErrValidation = errors.New("validation failed")

	// ErrNotConfigured means a required setting (API key, URL, secret) is missing.
	ErrNotConfigured = errors.New("cube: not configured")

	// ErrTimeout means an upstream call exceeded its per-call timeout.
	ErrTimeout = errors.New("cube: upstream timeout")

	// ErrUpstream is a network level failure talking to Cube.
	ErrUpstream = errors.New("cube: upstream request failed")

	// ErrStreamAborted means the downstream consumer went away mid-stream.
	ErrStreamAborted = errors.New("cube: stream aborted by client")

	// ErrMissingSessionID is a 2xx session reply without a sessionId.
	ErrMissingSessionID = errors.New("missing sessionId")

	// ErrMissingToken is a 2xx token reply without a token.
	ErrMissingToken = errors.New("missing token")
)

// SessionError is a failed generate-session call. Status and Body are set
// when the upstream answered; Err is set for transport failures and absent
// fields.
type SessionError struct {
	Status int
	Body   string
	Err    error
}

func (e *SessionError) Error() string {
	if e.Err != nil {
		return "generate-session: " + e.Err.Error()
	}
	return fmt.Sprintf("generate-session %d: %s", e.Status, e.Body)
}

func (e *SessionError) Unwrap() error { return e.Err }

// TokenError is a failed session/token call.
type TokenError struct {
	Status int
	Body   string
	Err    error
}

func (e *TokenError) Error() string {
	if e.Err != nil {
		return "session/token: " + e.Err.Error()
	}
	return fmt.Sprintf("session/token %d: %s", e.Status, e.Body)
}

func (e *TokenError) Unwrap() error { return e.Err }

// ChatUpstreamError is a non-2xx reply from the chat endpoint. Body is the
// raw reply, relayed to the caller as is.
type ChatUpstreamError struct {
	Status int
	Body   string
}

func (e *ChatUpstreamError) Error() string {
	return fmt.Sprintf("chat %d: %s", e.Status, e.Body)
}

// LoadError is a transport failure of the REST /load call.
type LoadError struct {
	Err error
}

func (e *LoadError) Error() string { return "cube load: " + e.Err.Error() }

func (e *LoadError) Unwrap() error { return e.Err }

// UpstreamStatus returns the HTTP status an upstream error carries, or 0.
func UpstreamStatus(err error) int {
	var se *SessionError
	var te *TokenError
	var ce *ChatUpstreamError
	switch {
	case errors.As(err, &se):
		return se.Status
	case errors.As(err, &te):
		return te.Status
	case errors.As(err, &ce):
		return ce.Status
	}
	return 0
}
