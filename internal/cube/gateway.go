package cube

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/bunlongheng/cube-ai-be/internal/event"
	"github.com/bunlongheng/cube-ai-be/internal/model"
	"github.com/bunlongheng/cube-ai-be/internal/ndjson"
	"github.com/bunlongheng/cube-ai-be/pkg/logger"
	"github.com/bunlongheng/cube-ai-be/pkg/metrics"
	"github.com/bunlongheng/cube-ai-be/pkg/tracing"
)

// maxErrorBody caps how much of a failed chat reply is read.
const maxErrorBody = 1 << 20

// Gateway issues chat calls with a bearer token, either as a passthrough
// byte stream or buffered and reduced to a ChatResult. It holds no mutable
// state.
type Gateway struct {
	cfg    Config
	client *http.Client
	log    *logger.Logger
}

// NewGateway creates a gateway. A nil client uses http.DefaultClient.
func NewGateway(cfg Config, client *http.Client, log *logger.Logger) *Gateway {
	if client == nil {
		client = http.DefaultClient
	}
	if log == nil {
		log = logger.NewNop()
	}
	return &Gateway{cfg: cfg.WithDefaults(), client: client, log: log}
}

func (g *Gateway) request(ctx context.Context, token Token, req model.ChatRequest, stream bool) (*http.Request, error) {
	if g.cfg.ChatURL == "" {
		return nil, fmt.Errorf("%w: chat URL is required", ErrNotConfigured)
	}
	if req.Input == "" {
		return nil, fmt.Errorf("%w: input is required", ErrValidation)
	}

	payload, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrValidation, err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, g.cfg.ChatURL, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNotConfigured, err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+token.Bearer)
	if stream {
		httpReq.Header.Set("Accept", "text/event-stream")
	}
	tracing.Inject(ctx, httpReq.Header)
	return httpReq, nil
}

func (g *Gateway) startSpan(ctx context.Context, req model.ChatRequest, mode string) (context.Context, trace.Span) {
	return tracing.Tracer(tracerName).Start(ctx, "cube."+stepChat,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("cube.chat_id", req.ChatID),
			attribute.String("cube.mode", mode),
		))
}

func endSpan(span trace.Span, status int, err error) {
	if status != 0 {
		span.SetAttributes(attribute.Int("http.status_code", status))
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

// Stream opens the chat call for passthrough. ChatTimeout bounds the wait
// for response headers only; once the stream is returned it lives until the
// caller closes it or ctx ends. A non-2xx reply is read and returned as a
// *ChatUpstreamError before any byte is handed out.
func (g *Gateway) Stream(ctx context.Context, token Token, req model.ChatRequest) (*ChatStream, error) {
	ctx, span := g.startSpan(ctx, req, "stream")
	start := time.Now()

	callCtx, cancel := context.WithCancel(ctx)
	var timedOut atomic.Bool
	timer := time.AfterFunc(g.cfg.ChatTimeout, func() {
		timedOut.Store(true)
		cancel()
	})

	httpReq, err := g.request(callCtx, token, req, true)
	if err != nil {
		timer.Stop()
		cancel()
		endSpan(span, 0, err)
		return nil, err
	}

	resp, err := g.client.Do(httpReq)
	if !timer.Stop() && err == nil {
		// The deadline fired as the headers arrived.
		resp.Body.Close()
		err = context.DeadlineExceeded
	}
	if err != nil {
		cancel()
		err = g.classify(ctx, timedOut.Load(), err)
		g.record("stream", start, 0, err)
		endSpan(span, 0, err)
		return nil, err
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		resp.Body.Close()
		cancel()
		err := &ChatUpstreamError{Status: resp.StatusCode, Body: string(body)}
		g.record("stream", start, resp.StatusCode, err)
		endSpan(span, resp.StatusCode, err)
		return nil, err
	}

	g.record("stream", start, resp.StatusCode, nil)
	endSpan(span, resp.StatusCode, nil)
	return newChatStream(resp, cancel), nil
}

// Collect runs the chat call to completion and reduces its body. The body
// may be plain NDJSON or SSE framed.
func (g *Gateway) Collect(ctx context.Context, token Token, req model.ChatRequest, opts event.Options) (*model.ChatResult, error) {
	ctx, span := g.startSpan(ctx, req, "buffered")
	start := time.Now()

	callCtx, cancel := context.WithTimeout(ctx, g.cfg.ChatTimeout)
	defer cancel()

	httpReq, err := g.request(callCtx, token, req, false)
	if err != nil {
		endSpan(span, 0, err)
		return nil, err
	}

	resp, err := g.client.Do(httpReq)
	if err != nil {
		err = g.classify(ctx, callCtx.Err() != nil, err)
		g.record("buffered", start, 0, err)
		endSpan(span, 0, err)
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		err = g.classify(ctx, callCtx.Err() != nil, err)
		g.record("buffered", start, resp.StatusCode, err)
		endSpan(span, resp.StatusCode, err)
		return nil, err
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		err := &ChatUpstreamError{Status: resp.StatusCode, Body: string(body)}
		g.record("buffered", start, resp.StatusCode, err)
		endSpan(span, resp.StatusCode, err)
		return nil, err
	}

	res := Reduce(body, opts)
	g.record("buffered", start, resp.StatusCode, nil)
	span.SetAttributes(attribute.Int("cube.body_bytes", len(body)), attribute.Int("cube.skipped_lines", res.SkippedLines))
	endSpan(span, resp.StatusCode, nil)

	g.log.Debug("chat collected",
		zap.String("chat_id", req.ChatID),
		zap.Any("event_counts", res.EventCounts),
		zap.Int("rows", len(res.Rows)),
		zap.Int("skipped_lines", res.SkippedLines),
		zap.String("body", logger.Preview(string(body), g.cfg.LogBodyLimit)))

	return res, nil
}

// Reduce decodes a complete chat body and reduces its events.
func Reduce(body []byte, opts event.Options) *model.ChatResult {
	dec := ndjson.NewDecoder(ndjson.WithSSEData())
	red := event.NewReducer(opts)
	for _, v := range dec.Feed(body) {
		red.Add(event.Classify(v))
	}
	for _, v := range dec.Flush() {
		red.Add(event.Classify(v))
	}

	res := red.Result()
	res.SkippedLines = dec.Skipped()
	res.RawBody = body
	return res
}

func (g *Gateway) classify(parent context.Context, deadlineHit bool, err error) error {
	if perr := parent.Err(); perr != nil {
		return perr
	}
	if deadlineHit {
		return fmt.Errorf("%w: %v", ErrTimeout, err)
	}
	return fmt.Errorf("%w: %v", ErrUpstream, err)
}

func (g *Gateway) record(mode string, start time.Time, status int, err error) {
	outcome := "ok"
	switch {
	case err == nil:
	case errors.Is(err, ErrTimeout):
		outcome = "timeout"
	case status != 0:
		outcome = fmt.Sprintf("%dxx", status/100)
	default:
		outcome = "error"
	}
	metrics.RecordUpstream(stepChat, outcome, time.Since(start).Seconds())
	if err != nil {
		g.log.Warn("chat call failed", zap.String("mode", mode), zap.Int("status", status), zap.Error(err))
	}
}
