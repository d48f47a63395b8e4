package cube

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"go.uber.org/zap"

	"github.com/bunlongheng/cube-ai-be/internal/model"
	"github.com/bunlongheng/cube-ai-be/pkg/logger"
)

// Session is an embed session id. Sessions are created per chat call and
// not tracked afterwards.
type Session struct {
	ID string
}

// Token is a bearer credential good for one chat call.
type Token struct {
	Bearer string
}

// String keeps the bearer out of logs and fmt output.
func (t Token) String() string {
	if t.Bearer == "" {
		return "Token()"
	}
	return "Token(" + logger.Redact(t.Bearer) + ")"
}

// GoString implements fmt.GoStringer.
func (t Token) GoString() string { return t.String() }

// Broker turns the long-lived API key into a per-call bearer token through
// the two-step embed handshake. It holds no per-call state and is safe for
// concurrent use.
type Broker struct {
	cfg Config
	t   *transport
	log *logger.Logger
}

// NewBroker creates a broker. A nil client uses http.DefaultClient.
func NewBroker(cfg Config, client *http.Client, log *logger.Logger) *Broker {
	cfg = cfg.WithDefaults()
	t := newTransport(cfg, client, log)
	return &Broker{cfg: cfg, t: t, log: t.log}
}

func (b *Broker) header() http.Header {
	h := http.Header{}
	h.Set("Content-Type", "application/json")
	h.Set("Authorization", "Api-Key "+b.cfg.APIKey)
	return h
}

func (b *Broker) configured() error {
	if b.cfg.APIKey == "" {
		return fmt.Errorf("%w: API key is required", ErrNotConfigured)
	}
	if b.cfg.SessionBase == "" {
		return fmt.Errorf("%w: session base is required", ErrNotConfigured)
	}
	return nil
}

// CreateSession calls generate-session. attrs nil is sent as [].
func (b *Broker) CreateSession(ctx context.Context, externalID string, attrs []json.RawMessage) (Session, error) {
	if err := b.configured(); err != nil {
		return Session{}, err
	}
	if attrs == nil {
		attrs = []json.RawMessage{}
	}

	payload, err := json.Marshal(model.SessionRequest{ExternalID: externalID, UserAttributes: attrs})
	if err != nil {
		return Session{}, &SessionError{Err: fmt.Errorf("%w: %v", ErrValidation, err)}
	}

	r, err := b.t.post(ctx, stepSession, b.cfg.SessionBase+"/api/v1/embed/generate-session", b.header(), payload)
	if err != nil {
		return Session{}, &SessionError{Err: err}
	}
	if !r.ok() {
		return Session{}, &SessionError{Status: r.Status, Body: string(r.Body)}
	}

	var out struct {
		SessionID string `json:"sessionId"`
	}
	if json.Unmarshal(r.Body, &out) != nil || out.SessionID == "" {
		return Session{}, &SessionError{Status: r.Status, Body: string(r.Body), Err: ErrMissingSessionID}
	}

	b.log.Debug("cube session created", zap.String("external_id", externalID))
	return Session{ID: out.SessionID}, nil
}

// ExchangeToken calls session/token.
func (b *Broker) ExchangeToken(ctx context.Context, s Session) (Token, error) {
	if err := b.configured(); err != nil {
		return Token{}, err
	}

	payload, err := json.Marshal(model.TokenRequest{SessionID: s.ID})
	if err != nil {
		return Token{}, &TokenError{Err: fmt.Errorf("%w: %v", ErrValidation, err)}
	}

	r, err := b.t.post(ctx, stepToken, b.cfg.SessionBase+"/api/v1/embed/session/token", b.header(), payload)
	if err != nil {
		return Token{}, &TokenError{Err: err}
	}
	if !r.ok() {
		return Token{}, &TokenError{Status: r.Status, Body: string(r.Body)}
	}

	var out struct {
		Token string `json:"token"`
	}
	if json.Unmarshal(r.Body, &out) != nil || out.Token == "" {
		return Token{}, &TokenError{Status: r.Status, Body: string(r.Body), Err: ErrMissingToken}
	}
	return Token{Bearer: out.Token}, nil
}

// AcquireToken runs the full handshake. The token exchange is never
// attempted when session creation fails.
func (b *Broker) AcquireToken(ctx context.Context, externalID string, attrs []json.RawMessage) (Token, error) {
	s, err := b.CreateSession(ctx, externalID, attrs)
	if err != nil {
		return Token{}, err
	}
	return b.ExchangeToken(ctx, s)
}
