package cube

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/bunlongheng/cube-ai-be/internal/model"
	"github.com/bunlongheng/cube-ai-be/pkg/logger"
)

// LoadResult is the REST /load reply. Exactly one of JSON or Raw is set.
type LoadResult struct {
	Status      int
	ContentType string
	JSON        json.RawMessage
	Raw         string
}

// OK reports a 2xx upstream status.
func (r *LoadResult) OK() bool { return r.Status >= 200 && r.Status < 300 }

// RESTClient calls the Cube REST API with a short-lived HS256 token.
type RESTClient struct {
	cfg Config
	t   *transport
	log *logger.Logger
	now func() time.Time
}

// NewRESTClient creates a REST client. A nil client uses http.DefaultClient.
func NewRESTClient(cfg Config, client *http.Client, log *logger.Logger) *RESTClient {
	cfg = cfg.WithDefaults()
	t := newTransport(cfg, client, log)
	return &RESTClient{cfg: cfg, t: t, log: t.log, now: time.Now}
}

func (c *RESTClient) configured() error {
	u, err := url.Parse(c.cfg.RESTURL)
	if c.cfg.RESTURL == "" || err != nil || !u.IsAbs() {
		return fmt.Errorf("%w: REST URL missing or not absolute", ErrNotConfigured)
	}
	if c.cfg.APISecret == "" {
		return fmt.Errorf("%w: API secret missing", ErrNotConfigured)
	}
	return nil
}

// SignToken returns a raw HS256 JWT that expires after RESTTokenTTL.
func (c *RESTClient) SignToken() (string, error) {
	claims := jwt.RegisteredClaims{
		ExpiresAt: jwt.NewNumericDate(c.now().Add(c.cfg.RESTTokenTTL)),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(c.cfg.APISecret))
}

// Load posts a normalized query payload to {RESTURL}/load. A JSON reply is
// returned parsed; anything else as truncated raw text.
func (c *RESTClient) Load(ctx context.Context, requestID string, payload json.RawMessage) (*LoadResult, error) {
	if err := c.configured(); err != nil {
		return nil, err
	}
	if requestID == "" {
		requestID = uuid.NewString()
	}

	token, err := c.SignToken()
	if err != nil {
		return nil, fmt.Errorf("%w: signing token: %v", ErrNotConfigured, err)
	}

	h := http.Header{}
	h.Set("Authorization", token)
	h.Set("Content-Type", "application/json")
	h.Set("Accept", "application/json")
	h.Set("X-Request-Id", requestID)

	endpoint := c.cfg.RESTURL + "/load"
	c.log.Info("cube load request",
		zap.String("request_id", requestID),
		zap.String("url", endpoint),
		zap.String("body", logger.Preview(string(payload), c.cfg.LogBodyLimit)))

	r, err := c.t.post(ctx, stepLoad, endpoint, h, payload)
	if err != nil {
		return nil, &LoadError{Err: err}
	}

	res := &LoadResult{Status: r.Status, ContentType: r.Header.Get("Content-Type")}
	if json.Valid(r.Body) {
		res.JSON = json.RawMessage(r.Body)
	} else {
		res.Raw = logger.Truncate(string(r.Body), c.cfg.LogBodyLimit)
	}

	c.log.Info("cube load response",
		zap.String("request_id", requestID),
		zap.Int("status", r.Status),
		zap.String("content_type", res.ContentType),
		zap.String("body", logger.Preview(string(r.Body), c.cfg.LogBodyLimit)))

	return res, nil
}

// NormalizeLoadPayload accepts {query: {...}}, a bare query object, or an
// array of queries, and returns the body to send to /load.
func NormalizeLoadPayload(body []byte) (json.RawMessage, error) {
	v, err := model.DecodeValue(body)
	if err != nil {
		return nil, fmt.Errorf("%w: body must be JSON", ErrValidation)
	}

	var out any
	switch t := v.(type) {
	case []any:
		out = t
	case *model.Object:
		wrapped := model.NewObject()
		if q, ok := t.Get("query"); ok && q != nil {
			wrapped.Set("query", q)
		} else {
			wrapped.Set("query", t)
		}
		out = wrapped
	default:
		return nil, fmt.Errorf("%w: body must be a Cube query: { query: {...} } or an array", ErrValidation)
	}

	b, err := json.Marshal(out)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrValidation, err)
	}
	return b, nil
}
