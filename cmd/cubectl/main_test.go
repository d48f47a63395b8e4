package main

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bunlongheng/cube-ai-be/internal/config"
	"github.com/bunlongheng/cube-ai-be/internal/cube"
)

const replyBody = `{"type":"data","rows":[{"visits.status":"booked","visits.count":2}],"annotation":{"dimensions":{"visits.status":{}},"measures":{"visits.count":{}}},"sqlQuery":"SELECT status, count(*) FROM visits GROUP BY 1"}
{"role":"assistant","content":"Two booked visits."}
`

func fakeUpstream(t *testing.T) (*httptest.Server, *[]string) {
	t.Helper()
	var inputs []string

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/v1/embed/generate-session":
			_, _ = io.WriteString(w, `{"sessionId":"sess-42"}`)
		case "/api/v1/embed/session/token":
			_, _ = io.WriteString(w, `{"token":"abcdefghijklmnop"}`)
		case "/chat":
			b, _ := io.ReadAll(r.Body)
			inputs = append(inputs, string(b))
			w.Header().Set("Content-Type", "application/x-ndjson")
			_, _ = io.WriteString(w, replyBody)
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(srv.Close)
	return srv, &inputs
}

func run(t *testing.T, args ...string) (string, *[]string) {
	t.Helper()
	srv, inputs := fakeUpstream(t)

	load := func() *config.Config {
		return &config.Config{
			Cube: cube.Config{
				APIKey:      "key-0123456789",
				SessionBase: srv.URL,
				ChatURL:     srv.URL + "/chat",
				Timeout:     2 * time.Second,
				ChatTimeout: 2 * time.Second,
			},
			DefaultExternalID: "user@example.com",
		}
	}

	var out bytes.Buffer
	cmd := newRootCmd(load)
	cmd.SetOut(&out)
	cmd.SetErr(io.Discard)
	cmd.SetArgs(args)
	require.NoError(t, cmd.ExecuteContext(context.Background()))
	return out.String(), inputs
}

func TestSessionCommand(t *testing.T) {
	out, _ := run(t, "session")
	assert.JSONEq(t, `{"sessionId":"sess-42"}`, out)
}

func TestTokenCommandRedacts(t *testing.T) {
	out, _ := run(t, "token")
	assert.NotContains(t, out, "abcdefghijklmnop")

	out, _ = run(t, "token", "--show")
	assert.Contains(t, out, "abcdefghijklmnop")
}

func TestChatCommand(t *testing.T) {
	out, inputs := run(t, "chat")
	assert.JSONEq(t, `{"content":"Two booked visits."}`, out)
	require.Len(t, *inputs, 1)
	assert.Contains(t, (*inputs)[0], defaultMessage)

	_, inputs = run(t, "chat", "how", "many?")
	assert.Contains(t, (*inputs)[0], `"input":"how many?"`)

	out, _ = run(t, "chat", "--raw")
	assert.Equal(t, replyBody, out)
}

func TestChatCommandStreamSave(t *testing.T) {
	path := filepath.Join(t.TempDir(), "reply.ndjson")

	out, _ := run(t, "chat", "--stream", "--save", path)
	assert.Equal(t, replyBody, out)

	saved, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, replyBody, string(saved))
}

func TestChatCommandStreamSaveFailure(t *testing.T) {
	if _, err := os.Stat("/dev/full"); err != nil {
		t.Skip("no /dev/full on this platform")
	}
	srv, _ := fakeUpstream(t)

	cmd := newRootCmd(func() *config.Config {
		return &config.Config{Cube: cube.Config{
			APIKey:      "key-0123456789",
			SessionBase: srv.URL,
			ChatURL:     srv.URL + "/chat",
			Timeout:     2 * time.Second,
			ChatTimeout: 2 * time.Second,
		}}
	})
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(io.Discard)
	cmd.SetArgs([]string{"chat", "--stream", "--save", "/dev/full"})

	err := cmd.ExecuteContext(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "save /dev/full")
	assert.Equal(t, replyBody, out.String())
}

func TestSaveWriter(t *testing.T) {
	var out bytes.Buffer
	sw := &saveWriter{out: &out, file: &failAfter{n: 1}}

	for _, chunk := range []string{"a\n", "b\n", "c\n"} {
		n, err := sw.Write([]byte(chunk))
		require.NoError(t, err)
		assert.Equal(t, len(chunk), n)
	}

	assert.Equal(t, "a\nb\nc\n", out.String())
	assert.EqualError(t, sw.err, "disk full")
}

// failAfter accepts n writes and fails every one after.
type failAfter struct{ n int }

func (f *failAfter) Write(p []byte) (int, error) {
	if f.n > 0 {
		f.n--
		return len(p), nil
	}
	return 0, errors.New("disk full")
}

func TestSQLCommand(t *testing.T) {
	out, _ := run(t, "sql")
	assert.Contains(t, out, `"sqlQuery": "SELECT status, count(*) FROM visits GROUP BY 1"`)
}

func TestChartCommand(t *testing.T) {
	out, _ := run(t, "chart", "--value-key", "visits.count")
	assert.Contains(t, out, `"xKey": "visits.status"`)
	assert.Contains(t, out, `"value": 2`)
}
