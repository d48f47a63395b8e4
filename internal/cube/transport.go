package cube

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/bunlongheng/cube-ai-be/pkg/logger"
	"github.com/bunlongheng/cube-ai-be/pkg/metrics"
	"github.com/bunlongheng/cube-ai-be/pkg/tracing"
)

const tracerName = "github.com/bunlongheng/cube-ai-be/internal/cube"

// Upstream call steps, used as span names and metric labels.
const (
	stepSession = "session"
	stepToken   = "token"
	stepChat    = "chat"
	stepLoad    = "load"
)

// errServerStatus marks a 5xx reply so backoff retries it.
var errServerStatus = errors.New("upstream 5xx")

// reply is a fully read upstream response.
type reply struct {
	Status int
	Header http.Header
	Body   []byte
}

func (r *reply) ok() bool { return r.Status >= 200 && r.Status < 300 }

// transport issues small request/response calls with a per-attempt
// timeout, trace propagation, and bounded retry on 5xx and network errors.
type transport struct {
	client    *http.Client
	log       *logger.Logger
	timeout   time.Duration
	retries   int
	interval  time.Duration
	bodyLimit int
}

func newTransport(cfg Config, client *http.Client, log *logger.Logger) *transport {
	if client == nil {
		client = http.DefaultClient
	}
	if log == nil {
		log = logger.NewNop()
	}
	return &transport{
		client:    client,
		log:       log,
		timeout:   cfg.Timeout,
		retries:   cfg.MaxRetries,
		interval:  cfg.RetryInitialInterval,
		bodyLimit: cfg.LogBodyLimit,
	}
}

func (t *transport) policy(ctx context.Context) backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = t.interval
	return backoff.WithContext(backoff.WithMaxRetries(b, uint64(t.retries)), ctx)
}

// post sends payload to url. A 4xx reply is returned as is without retry; a
// 5xx reply is retried and, if retries run out, the last one is returned.
// The error is non-nil only when no reply was obtained.
func (t *transport) post(ctx context.Context, step, url string, header http.Header, payload []byte) (*reply, error) {
	ctx, span := tracing.Tracer(tracerName).Start(ctx, "cube."+step,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(attribute.String("http.url", url)))
	defer span.End()

	start := time.Now()
	attempts := 0
	var last *reply

	op := func() error {
		attempts++
		last = nil
		r, err := t.once(ctx, url, header, payload)
		if err != nil {
			if ctx.Err() != nil {
				return backoff.Permanent(err)
			}
			t.log.Debug("cube call failed",
				zap.String("step", step),
				zap.Int("attempt", attempts),
				zap.Error(err))
			return err
		}
		last = r
		if r.Status >= 500 {
			t.log.Debug("cube call returned server error",
				zap.String("step", step),
				zap.Int("attempt", attempts),
				zap.Int("status", r.Status))
			return errServerStatus
		}
		return nil
	}

	err := backoff.Retry(op, t.policy(ctx))
	if last != nil && (err == nil || errors.Is(err, errServerStatus)) {
		err = nil
	}

	outcome := "ok"
	switch {
	case err != nil && errors.Is(err, ErrTimeout):
		outcome = "timeout"
	case err != nil:
		outcome = "error"
	case !last.ok():
		outcome = fmt.Sprintf("%dxx", last.Status/100)
	}
	metrics.RecordUpstream(step, outcome, time.Since(start).Seconds())

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		t.log.Warn("cube call failed",
			zap.String("step", step),
			zap.Int("attempts", attempts),
			zap.Duration("duration", time.Since(start)),
			zap.Error(err))
		return nil, err
	}

	span.SetAttributes(attribute.Int("http.status_code", last.Status), attribute.Int("cube.attempts", attempts))
	if !last.ok() {
		span.SetStatus(codes.Error, http.StatusText(last.Status))
	}
	t.log.Debug("cube call completed",
		zap.String("step", step),
		zap.Int("status", last.Status),
		zap.Int("attempts", attempts),
		zap.Duration("duration", time.Since(start)),
		zap.String("body", logger.Preview(string(last.Body), t.bodyLimit)))

	return last, nil
}

func (t *transport) once(ctx context.Context, url string, header http.Header, payload []byte) (*reply, error) {
	callCtx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(callCtx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return nil, backoff.Permanent(fmt.Errorf("%w: %v", ErrUpstream, err))
	}
	req.Header = header.Clone()
	tracing.Inject(callCtx, req.Header)

	resp, err := t.client.Do(req)
	if err != nil {
		return nil, transportError(ctx, callCtx, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, transportError(ctx, callCtx, err)
	}

	return &reply{Status: resp.StatusCode, Header: resp.Header, Body: body}, nil
}

// transportError classifies a failed call: the caller's own cancellation is
// returned as is, our per-call deadline becomes ErrTimeout, anything else
// ErrUpstream.
func transportError(parent, call context.Context, err error) error {
	if perr := parent.Err(); perr != nil {
		if errors.Is(perr, context.DeadlineExceeded) {
			return fmt.Errorf("%w: %v", ErrTimeout, err)
		}
		return perr
	}
	if errors.Is(call.Err(), context.DeadlineExceeded) {
		return fmt.Errorf("%w: %v", ErrTimeout, err)
	}
	return fmt.Errorf("%w: %v", ErrUpstream, err)
}
