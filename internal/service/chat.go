// Package service orchestrates the credential handshake, the chat call and
// the exchange journal.
package service

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/bunlongheng/cube-ai-be/internal/chart"
	"github.com/bunlongheng/cube-ai-be/internal/cube"
	"github.com/bunlongheng/cube-ai-be/internal/event"
	"github.com/bunlongheng/cube-ai-be/internal/model"
	"github.com/bunlongheng/cube-ai-be/pkg/logger"
	"github.com/bunlongheng/cube-ai-be/pkg/metrics"
)

// DefaultExternalID is used when a caller gives no identity.
const DefaultExternalID = "user@example.com"

// journalTimeout bounds publishing one exchange summary.
const journalTimeout = 5 * time.Second

// Credentials acquires per-call chat tokens.
type Credentials interface {
	CreateSession(ctx context.Context, externalID string, attrs []json.RawMessage) (cube.Session, error)
	AcquireToken(ctx context.Context, externalID string, attrs []json.RawMessage) (cube.Token, error)
}

// Chats issues chat calls.
type Chats interface {
	Stream(ctx context.Context, token cube.Token, req model.ChatRequest) (*cube.ChatStream, error)
	Collect(ctx context.Context, token cube.Token, req model.ChatRequest, opts event.Options) (*model.ChatResult, error)
}

// Journal records exchange summaries.
type Journal interface {
	PublishExchange(ctx context.Context, ex *model.Exchange) (uint64, error)
}

// ChatInput is one chat call as requested by a client.
type ChatInput struct {
	Message        string
	ChatID         string
	ExternalID     string
	UserAttributes []json.RawMessage
	// CorrelationID ties the exchange to the request log line.
	CorrelationID  string
}

// Options configures a ChatService.
type Options struct {
	// DeepSearch enables the sqlQuery/query fallback for every buffered call.
	DeepSearch bool
	// DefaultExternalID replaces an empty ExternalID.
	DefaultExternalID string
}

// ChatService runs chat exchanges: a fresh session and token per call,
// then one chat call. It holds no per-call state.
type ChatService struct {
	creds   Credentials
	chats   Chats
	journal Journal
	logger  *logger.Logger
	opts    Options
}

// NewChatService creates a chat service. journal may be nil.
func NewChatService(creds Credentials, chats Chats, journal Journal, log *logger.Logger, opts Options) *ChatService {
	if opts.DefaultExternalID == "" {
		opts.DefaultExternalID = DefaultExternalID
	}
	return &ChatService{
		creds:   creds,
		chats:   chats,
		journal: journal,
		logger:  log,
		opts:    opts,
	}
}

// OpenStream is a chat stream ready to be relayed.
type OpenStream struct {
	*cube.ChatStream
	ChatID   string
	exchange *model.Exchange
}

func (s *ChatService) begin(in *ChatInput, mode model.ExchangeMode) (model.ChatRequest, *model.Exchange) {
	if in.ExternalID == "" {
		in.ExternalID = s.opts.DefaultExternalID
	}
	if in.UserAttributes == nil {
		in.UserAttributes = []json.RawMessage{}
	}
	req := model.NewChatRequest(in.ChatID, in.Message)
	return req, &model.Exchange{
		ID:            uuid.NewString(),
		CorrelationID: in.CorrelationID,
		ChatID:        req.ChatID,
		ExternalID:    in.ExternalID,
		Mode:          mode,
		StartedAt:     time.Now(),
	}
}

// OpenStream acquires a token and opens the upstream chat stream. Failures
// before the first byte, including a non-2xx chat reply, are returned here.
func (s *ChatService) OpenStream(ctx context.Context, in ChatInput) (*OpenStream, error) {
	req, ex := s.begin(&in, model.ExchangeModeStream)

	token, err := s.creds.AcquireToken(ctx, in.ExternalID, in.UserAttributes)
	if err != nil {
		s.finish(ctx, ex, err)
		return nil, err
	}

	stream, err := s.chats.Stream(ctx, token, req)
	if err != nil {
		s.finish(ctx, ex, err)
		return nil, err
	}

	metrics.IncrementStreams()
	return &OpenStream{ChatStream: stream, ChatID: req.ChatID, exchange: ex}, nil
}

// Relay pumps an open stream to dst. A client disconnect is logged and
// counted as aborted, and is not returned as an error.
func (s *ChatService) Relay(ctx context.Context, st *OpenStream, dst io.Writer, flush func()) error {
	defer metrics.DecrementStreams()

	n, err := cube.Pump(ctx, st.ChatStream, dst, flush)
	st.exchange.Bytes = n

	if errors.Is(err, cube.ErrStreamAborted) {
		s.exchangeLogger(st.exchange).Info("chat stream aborted by client", zap.Int64("bytes", n))
		st.exchange.Outcome = model.OutcomeAborted
		st.exchange.Reason = err.Error()
		s.publish(ctx, st.exchange)
		metrics.RecordStreamEnd(string(model.OutcomeAborted), n)
		metrics.RecordChat(string(model.ExchangeModeStream), string(model.OutcomeAborted))
		return nil
	}

	s.finish(ctx, st.exchange, err)
	metrics.RecordStreamEnd(string(st.exchange.Outcome), n)
	return err
}

// Ask runs a buffered chat call and returns the reduced result.
func (s *ChatService) Ask(ctx context.Context, in ChatInput, opts event.Options) (*model.ChatResult, error) {
	req, ex := s.begin(&in, model.ExchangeModeBuffered)
	opts.DeepSearch = opts.DeepSearch || s.opts.DeepSearch

	token, err := s.creds.AcquireToken(ctx, in.ExternalID, in.UserAttributes)
	if err != nil {
		s.finish(ctx, ex, err)
		return nil, err
	}

	res, err := s.chats.Collect(ctx, token, req, opts)
	if err != nil {
		s.finish(ctx, ex, err)
		return nil, err
	}

	metrics.RecordEvents(res.EventCounts)
	metrics.ChatSkippedLinesTotal.Add(float64(res.SkippedLines))

	ex.EventCounts = res.EventCounts
	ex.RowCount = len(res.Rows)
	ex.HasSQL = res.SQLQuery != nil
	ex.Bytes = int64(len(res.RawBody))
	s.finish(ctx, ex, nil)

	return res, nil
}

// Chart runs a buffered chat call and adapts its rows for charting.
func (s *ChatService) Chart(ctx context.Context, in ChatInput, overrides model.ChartOverrides) (*model.ChartPayload, error) {
	res, err := s.Ask(ctx, in, event.Options{})
	if err != nil {
		return nil, err
	}
	return chart.ToRecords(res.Rows, res.Annotation, overrides), nil
}

// CreateSession creates an embed session without exchanging it.
func (s *ChatService) CreateSession(ctx context.Context, externalID string, attrs []json.RawMessage) (cube.Session, error) {
	if externalID == "" {
		externalID = s.opts.DefaultExternalID
	}
	return s.creds.CreateSession(ctx, externalID, attrs)
}

// finish sets the exchange outcome from err, records metrics and publishes
// the summary.
func (s *ChatService) finish(ctx context.Context, ex *model.Exchange, err error) {
	ex.Outcome = outcomeOf(err)
	ex.Status = cube.UpstreamStatus(err)
	if err != nil {
		ex.Reason = err.Error()
		s.exchangeLogger(ex).Warn("chat exchange failed",
			zap.String("mode", string(ex.Mode)),
			zap.String("outcome", string(ex.Outcome)),
			zap.Error(err))
	}
	metrics.RecordChat(string(ex.Mode), string(ex.Outcome))
	s.publish(ctx, ex)
}

func (s *ChatService) publish(ctx context.Context, ex *model.Exchange) {
	ex.Duration = time.Since(ex.StartedAt)
	if s.journal == nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), journalTimeout)
	defer cancel()

	if _, err := s.journal.PublishExchange(ctx, ex); err != nil {
		metrics.JournalFailuresTotal.Inc()
		s.exchangeLogger(ex).Warn("failed to journal exchange", zap.String("exchange_id", ex.ID), zap.Error(err))
	}
}

func (s *ChatService) exchangeLogger(ex *model.Exchange) *logger.Logger {
	return s.logger.WithRequest(ex.CorrelationID, ex.ChatID, ex.ExternalID)
}

func outcomeOf(err error) model.ExchangeOutcome {
	switch {
	case err == nil:
		return model.OutcomeOK
	case errors.Is(err, cube.ErrStreamAborted):
		return model.OutcomeAborted
	case errors.Is(err, cube.ErrTimeout), errors.Is(err, context.DeadlineExceeded):
		return model.OutcomeTimeout
	default:
		return model.OutcomeUpstream
	}
}
