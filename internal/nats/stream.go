package nats

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/nats-io/nats.go/jetstream"

	"github.com/bunlongheng/cube-ai-be/internal/model"
)

const (
	// StreamName is the JetStream stream holding exchange summaries.
	StreamName = "CUBE_EXCHANGES"

	// SubjectPrefix is the prefix for all exchange subjects.
	SubjectPrefix = "cube"
)

// Journal records one summary per chat exchange.
type Journal struct {
	client   *Client
	maxAge   time.Duration
	maxBytes int64
}

// NewJournal creates a journal on an open client.
func NewJournal(client *Client) *Journal {
	return &Journal{client: client, maxAge: 30 * 24 * time.Hour, maxBytes: 1024 * 1024 * 1024}
}

// EnsureStream creates the exchanges stream if it does not exist.
func (j *Journal) EnsureStream(ctx context.Context) error {
	js := j.client.JetStream()

	if _, err := js.Stream(ctx, StreamName); err == nil {
		return nil
	}

	_, err := js.CreateStream(ctx, streamConfig(j.maxAge, j.maxBytes))
	if err != nil {
		return fmt.Errorf("failed to create stream: %w", err)
	}
	return nil
}

func streamConfig(maxAge time.Duration, maxBytes int64) jetstream.StreamConfig {
	return jetstream.StreamConfig{
		Name:        StreamName,
		Subjects:    []string{SubjectPrefix + ".>"},
		Retention:   jetstream.LimitsPolicy,
		MaxAge:      maxAge,
		MaxBytes:    maxBytes,
		Storage:     jetstream.FileStorage,
		Replicas:    1,
		Compression: jetstream.S2Compression,
		Description: "Cube chat exchange summaries",
	}
}

// ExchangeSubject returns the subject an exchange is published on:
// cube.exchange.<mode>.<outcome>.
func ExchangeSubject(ex *model.Exchange) string {
	return fmt.Sprintf("%s.exchange.%s.%s", SubjectPrefix, token(string(ex.Mode)), token(string(ex.Outcome)))
}

// token makes s safe as a single subject token.
func token(s string) string {
	if s == "" {
		return "none"
	}
	return strings.NewReplacer(".", "_", "*", "_", ">", "_", " ", "_").Replace(s)
}

// PublishExchange publishes an exchange summary and returns its stream
// sequence. The exchange id is used as the message id so a retried publish
// is deduplicated by the server.
func (j *Journal) PublishExchange(ctx context.Context, ex *model.Exchange) (uint64, error) {
	data, err := json.Marshal(ex)
	if err != nil {
		return 0, fmt.Errorf("failed to marshal exchange: %w", err)
	}

	ack, err := j.client.JetStream().Publish(ctx, ExchangeSubject(ex), data, jetstream.WithMsgID(ex.ID))
	if err != nil {
		return 0, fmt.Errorf("failed to publish exchange: %w", err)
	}
	return ack.Sequence, nil
}
