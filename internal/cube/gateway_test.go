package cube

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bunlongheng/cube-ai-be/internal/event"
	"github.com/bunlongheng/cube-ai-be/internal/model"
)

const chatBody = `{"type":"data","rows":[{"m":1}],"annotation":{"measures":{"m":{}}}}
{"role":"assistant","content":"done"}
`

func chatServer(t *testing.T, h http.HandlerFunc) (*httptest.Server, Config) {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	cfg := testConfig(srv.URL)
	cfg.ChatURL = srv.URL + "/chat"
	return srv, cfg
}

func TestCollect(t *testing.T) {
	var got model.ChatRequest
	srv, cfg := chatServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat", r.URL.Path)
		assert.Equal(t, "Bearer tok-1", r.Header.Get("Authorization"))
		assert.NotEqual(t, "text/event-stream", r.Header.Get("Accept"))
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.Header().Set("Content-Type", "application/x-ndjson")
		_, _ = io.WriteString(w, chatBody)
	})

	gw := NewGateway(cfg, srv.Client(), nil)
	res, err := gw.Collect(context.Background(), Token{Bearer: "tok-1"}, model.NewChatRequest("", "how many?"), event.Options{})
	require.NoError(t, err)

	assert.Equal(t, "how many?", got.Input)
	assert.NotEmpty(t, got.ChatID)

	assert.Equal(t, "done", res.Text())
	require.Len(t, res.Rows, 1)
	assert.Equal(t, map[string]int{"data": 1, "assistant": 1}, res.EventCounts)
	assert.Equal(t, chatBody, string(res.RawBody))
}

func TestCollectSSEFramedBody(t *testing.T) {
	srv, cfg := chatServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		_, _ = io.WriteString(w, "event: message\ndata: {\"role\":\"assistant\",\"content\":\"hi\"}\n\ndata: not-json\n\n")
	})

	res, err := NewGateway(cfg, srv.Client(), nil).Collect(context.Background(), Token{Bearer: "t"}, model.NewChatRequest("", "q"), event.Options{})
	require.NoError(t, err)
	assert.Equal(t, "hi", res.Text())
	assert.Equal(t, 1, res.SkippedLines)
}

func TestCollectUpstreamError(t *testing.T) {
	srv, cfg := chatServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = io.WriteString(w, `{"type":"data","rows":[{"a":1}]}`)
	})

	res, err := NewGateway(cfg, srv.Client(), nil).Collect(context.Background(), Token{Bearer: "t"}, model.NewChatRequest("", "q"), event.Options{})
	assert.Nil(t, res)

	var ce *ChatUpstreamError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, http.StatusBadRequest, ce.Status)
	assert.Equal(t, `{"type":"data","rows":[{"a":1}]}`, ce.Body)
}

func TestCollectTimeout(t *testing.T) {
	srv, cfg := chatServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.(http.Flusher).Flush()
		awaitClientGone(r, 2*time.Second)
	})
	cfg.ChatTimeout = 50 * time.Millisecond

	_, err := NewGateway(cfg, srv.Client(), nil).Collect(context.Background(), Token{Bearer: "t"}, model.NewChatRequest("", "q"), event.Options{})
	assert.ErrorIs(t, err, ErrTimeout)
}

func TestCollectValidation(t *testing.T) {
	gw := NewGateway(testConfig("http://unused"), nil, nil)
	_, err := gw.Collect(context.Background(), Token{}, model.ChatRequest{ChatID: "x"}, event.Options{})
	assert.ErrorIs(t, err, ErrValidation)

	gw = NewGateway(Config{}, nil, nil)
	_, err = gw.Collect(context.Background(), Token{}, model.NewChatRequest("", "q"), event.Options{})
	assert.ErrorIs(t, err, ErrNotConfigured)
}

func TestStreamPassthrough(t *testing.T) {
	srv, cfg := chatServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "text/event-stream", r.Header.Get("Accept"))
		assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
		w.Header().Set("Content-Type", "application/x-ndjson")
		for _, line := range strings.SplitAfter(chatBody, "\n") {
			_, _ = io.WriteString(w, line)
			w.(http.Flusher).Flush()
		}
	})

	s, err := NewGateway(cfg, srv.Client(), nil).Stream(context.Background(), Token{Bearer: "tok"}, model.NewChatRequest("", "q"))
	require.NoError(t, err)
	assert.Equal(t, "application/x-ndjson", s.ContentType())

	var out bytes.Buffer
	flushes := 0
	n, err := Pump(context.Background(), s, &out, func() { flushes++ })
	require.NoError(t, err)
	assert.Equal(t, chatBody, out.String())
	assert.Equal(t, int64(len(chatBody)), n)
	assert.Positive(t, flushes)
}

func TestStreamDefaultContentType(t *testing.T) {
	srv, cfg := chatServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header()["Content-Type"] = nil
		_, _ = io.WriteString(w, "data: {}\n\n")
	})

	s, err := NewGateway(cfg, srv.Client(), nil).Stream(context.Background(), Token{Bearer: "t"}, model.NewChatRequest("", "q"))
	require.NoError(t, err)
	defer s.Close()
	assert.Equal(t, "text/event-stream", s.ContentType())
}

func TestStreamUpstreamErrorBeforePump(t *testing.T) {
	srv, cfg := chatServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = io.WriteString(w, "token expired")
	})

	s, err := NewGateway(cfg, srv.Client(), nil).Stream(context.Background(), Token{Bearer: "t"}, model.NewChatRequest("", "q"))
	assert.Nil(t, s)

	var ce *ChatUpstreamError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, http.StatusUnauthorized, ce.Status)
	assert.Equal(t, "token expired", ce.Body)
}

func TestStreamHeaderTimeout(t *testing.T) {
	srv, cfg := chatServer(t, func(w http.ResponseWriter, r *http.Request) {
		awaitClientGone(r, 2*time.Second)
	})
	cfg.ChatTimeout = 30 * time.Millisecond

	_, err := NewGateway(cfg, srv.Client(), nil).Stream(context.Background(), Token{Bearer: "t"}, model.NewChatRequest("", "q"))
	assert.ErrorIs(t, err, ErrTimeout)
}

func TestStreamBodyOutlivesHeaderTimeout(t *testing.T) {
	srv, cfg := chatServer(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, "a\n")
		w.(http.Flusher).Flush()
		time.Sleep(120 * time.Millisecond)
		_, _ = io.WriteString(w, "b\n")
	})
	cfg.ChatTimeout = 30 * time.Millisecond

	s, err := NewGateway(cfg, srv.Client(), nil).Stream(context.Background(), Token{Bearer: "t"}, model.NewChatRequest("", "q"))
	require.NoError(t, err)

	var out bytes.Buffer
	_, err = Pump(context.Background(), s, &out, nil)
	require.NoError(t, err)
	assert.Equal(t, "a\nb\n", out.String())
}

func TestStreamClientCancelClosesUpstream(t *testing.T) {
	upstreamGone := make(chan struct{})
	srv, cfg := chatServer(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, "first\n")
		w.(http.Flusher).Flush()
		awaitClientGone(r, 5*time.Second)
		close(upstreamGone)
	})

	ctx, cancel := context.WithCancel(context.Background())
	s, err := NewGateway(cfg, srv.Client(), nil).Stream(ctx, Token{Bearer: "t"}, model.NewChatRequest("", "q"))
	require.NoError(t, err)

	w := &cancelOnWrite{cancel: cancel}
	_, err = Pump(ctx, s, w, nil)
	assert.ErrorIs(t, err, ErrStreamAborted)
	assert.False(t, errors.Is(err, ErrUpstream))

	select {
	case <-upstreamGone:
	case <-time.After(2 * time.Second):
		t.Fatal("upstream connection was not closed")
	}
}

func TestStreamWriteFailureAborts(t *testing.T) {
	upstreamGone := make(chan struct{})
	srv, cfg := chatServer(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, "first\n")
		w.(http.Flusher).Flush()
		awaitClientGone(r, 5*time.Second)
		close(upstreamGone)
	})

	s, err := NewGateway(cfg, srv.Client(), nil).Stream(context.Background(), Token{Bearer: "t"}, model.NewChatRequest("", "q"))
	require.NoError(t, err)

	_, err = Pump(context.Background(), s, failingWriter{}, nil)
	assert.ErrorIs(t, err, ErrStreamAborted)

	select {
	case <-upstreamGone:
	case <-time.After(2 * time.Second):
		t.Fatal("upstream connection was not closed")
	}
}

// cancelOnWrite accepts the first write and then cancels the pump context.
type cancelOnWrite struct {
	cancel context.CancelFunc
	buf    bytes.Buffer
}

func (w *cancelOnWrite) Write(p []byte) (int, error) {
	n, err := w.buf.Write(p)
	w.cancel()
	return n, err
}

type failingWriter struct{}

func (failingWriter) Write([]byte) (int, error) { return 0, errors.New("broken pipe") }
