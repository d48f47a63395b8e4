// Package cube talks to Cube Cloud: the embed credential handshake, the chat
// agent endpoint, and the REST /load API.
package cube

import (
	"net/url"
	"strings"
	"time"
)

// DefaultSessionBase is used when neither an explicit session base nor a
// REST URL is configured.
const DefaultSessionBase = "https://thryv.cubecloud.dev"

// Config is everything the Cube clients need. It is passed in explicitly;
// nothing in this package reads the environment.
type Config struct {
	// APIKey authenticates the embed session calls.
	APIKey string
	// SessionBase is the origin hosting /api/v1/embed/*.
	SessionBase string
	// ChatURL is the full chat agent endpoint.
	ChatURL string
	// RESTURL is the REST API base; /load is appended.
	RESTURL string
	// APISecret signs the short-lived REST JWT.
	APISecret string

	// Timeout bounds each session, token and load call.
	Timeout time.Duration
	// ChatTimeout bounds a buffered chat call end to end, and a streamed
	// chat call until its response headers arrive.
	ChatTimeout time.Duration

	// MaxRetries is how many extra attempts a credential or load call gets
	// after a 5xx or network failure. Zero disables retry.
	MaxRetries           int
	RetryInitialInterval time.Duration

	// RESTTokenTTL is the lifetime of the signed REST JWT.
	RESTTokenTTL time.Duration

	// LogBodyLimit caps upstream bodies in logs.
	LogBodyLimit int
}

// WithDefaults fills zero durations and limits.
func (c Config) WithDefaults() Config {
	if c.Timeout <= 0 {
		c.Timeout = 30 * time.Second
	}
	if c.ChatTimeout <= 0 {
		c.ChatTimeout = 120 * time.Second
	}
	if c.MaxRetries < 0 {
		c.MaxRetries = 0
	}
	if c.RetryInitialInterval <= 0 {
		c.RetryInitialInterval = 250 * time.Millisecond
	}
	if c.RESTTokenTTL <= 0 {
		c.RESTTokenTTL = 5 * time.Minute
	}
	if c.LogBodyLimit <= 0 {
		c.LogBodyLimit = 4000
	}
	c.SessionBase = strings.TrimRight(c.SessionBase, "/")
	c.RESTURL = strings.TrimRight(strings.TrimSpace(c.RESTURL), "/")
	return c
}

// ResolveSessionBase picks the embed API origin: the explicit value without
// trailing slashes, else the origin of restURL, else DefaultSessionBase.
func ResolveSessionBase(explicit, restURL string) string {
	if explicit = strings.TrimSpace(explicit); explicit != "" {
		return strings.TrimRight(explicit, "/")
	}
	if restURL != "" {
		if u, err := url.Parse(restURL); err == nil && u.Scheme != "" && u.Host != "" {
			return u.Scheme + "://" + u.Host
		}
	}
	return DefaultSessionBase
}
