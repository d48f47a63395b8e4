package handler

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bunlongheng/cube-ai-be/internal/cube"
	"github.com/bunlongheng/cube-ai-be/internal/middleware"
	"github.com/bunlongheng/cube-ai-be/internal/service"
	"github.com/bunlongheng/cube-ai-be/pkg/logger"
)

const chatBody = `{"type":"data","rows":[{"orders.created_at.month":"2024-01","orders.status":"open","orders.count":"4"}],"annotation":{"dimensions":{"orders.status":{},"orders.created_at.month":{}},"measures":{"orders.count":{}}}}
{"type":"chartSpec","spec":{"query":{"measures":["orders.count"]}}}
{"role":"assistant","content":"There are 4 open orders."}
`

// fakeCube stands in for the Cube Cloud embed, chat and REST endpoints.
type fakeCube struct {
	mu          sync.Mutex
	externalIDs []string
	sessionCode int
	chatCode    int
	chatReply   string
	loadAuth    string
	loadBody    string
}

func (f *fakeCube) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	body, _ := io.ReadAll(r.Body)

	switch r.URL.Path {
	case "/api/v1/embed/generate-session":
		var req struct {
			ExternalID string `json:"externalId"`
		}
		_ = json.Unmarshal(body, &req)
		f.externalIDs = append(f.externalIDs, req.ExternalID)
		if f.sessionCode != 0 {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(f.sessionCode)
			_, _ = io.WriteString(w, `{"error":"bad key"}`)
			return
		}
		_, _ = io.WriteString(w, `{"sessionId":"s-1"}`)
	case "/api/v1/embed/session/token":
		_, _ = io.WriteString(w, `{"token":"t-1"}`)
	case "/agent/chat":
		if f.chatCode != 0 {
			w.WriteHeader(f.chatCode)
			_, _ = io.WriteString(w, f.chatReply)
			return
		}
		w.Header().Set("Content-Type", "application/x-ndjson")
		_, _ = io.WriteString(w, chatBody)
	case "/cubejs-api/v1/load":
		f.loadAuth = r.Header.Get("Authorization")
		f.loadBody = string(body)
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"data":[{"orders.count":"4"}]}`)
	default:
		http.NotFound(w, r)
	}
}

type testEnv struct {
	cube   *fakeCube
	router http.Handler
}

func newTestEnv(t *testing.T, authSecret string) *testEnv {
	t.Helper()

	fc := &fakeCube{}
	upstream := httptest.NewServer(fc)
	t.Cleanup(upstream.Close)

	cfg := cube.Config{
		APIKey:      "key-123456789",
		SessionBase: upstream.URL,
		ChatURL:     upstream.URL + "/agent/chat",
		RESTURL:     upstream.URL + "/cubejs-api/v1",
		APISecret:   "rest-secret",
		Timeout:     2 * time.Second,
		ChatTimeout: 2 * time.Second,
	}
	log := logger.NewNop()
	client := upstream.Client()

	svc := service.NewChatService(
		cube.NewBroker(cfg, client, log),
		cube.NewGateway(cfg, client, log),
		nil, log, service.Options{})

	router := NewRouter(RouterConfig{
		Chat:               NewChatHandler(svc, log),
		Load:               NewLoadHandler(cube.NewRESTClient(cfg, client, log), log),
		Health:             NewHealthHandler(nil),
		Logger:             log,
		AuthJWTSecret:      authSecret,
		CORSAllowedOrigins: []string{"http://localhost:5173"},
	})

	return &testEnv{cube: fc, router: router}
}

func (e *testEnv) do(method, path, body string, header map[string]string) *httptest.ResponseRecorder {
	var rd io.Reader
	if body != "" {
		rd = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, rd)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range header {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)
	return rec
}

func TestHealth(t *testing.T) {
	env := newTestEnv(t, "")

	rec := env.do(http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"ok":true}`, rec.Body.String())

	rec = env.do(http.MethodGet, "/ready", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestChatBuffered(t *testing.T) {
	env := newTestEnv(t, "")

	rec := env.do(http.MethodPost, "/chat", `{"message":"how many open orders?"}`, nil)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"content":"There are 4 open orders."}`, rec.Body.String())
	assert.Equal(t, []string{service.DefaultExternalID}, env.cube.externalIDs)
}

func TestChatBufferedWithoutAssistantText(t *testing.T) {
	env := newTestEnv(t, "")
	env.cube.chatCode = http.StatusOK
	env.cube.chatReply = `{"type":"thinking"}` + "\n"

	rec := env.do(http.MethodPost, "/chat", `{"message":"q"}`, nil)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"stream":"{\"type\":\"thinking\"}\n"}`, rec.Body.String())
}

func TestChatStream(t *testing.T) {
	env := newTestEnv(t, "")

	for _, flag := range []string{`true`, `"true"`} {
		rec := env.do(http.MethodPost, "/chat", `{"message":"q","stream":`+flag+`}`, nil)

		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, chatBody, rec.Body.String())
		assert.Equal(t, "application/x-ndjson", rec.Header().Get("Content-Type"))
		assert.Equal(t, "no-cache", rec.Header().Get("Cache-Control"))
		assert.Equal(t, "no", rec.Header().Get("X-Accel-Buffering"))
		assert.NotEmpty(t, rec.Header().Get("X-Chat-Id"))
	}
}

func TestChatExternalIDResolution(t *testing.T) {
	env := newTestEnv(t, "")

	env.do(http.MethodPost, "/chat", `{"message":"q","externalId":"body@x"}`, map[string]string{"X-User-Email": "hdr@x"})
	env.do(http.MethodPost, "/chat", `{"message":"q"}`, map[string]string{"X-User-Email": "hdr@x"})

	assert.Equal(t, []string{"body@x", "hdr@x"}, env.cube.externalIDs)
}

func TestChatValidation(t *testing.T) {
	env := newTestEnv(t, "")

	tests := []struct {
		name string
		body string
		msg  string
	}{
		{"missing message", `{}`, "message is required"},
		{"message not a string", `{"message":42}`, "invalid request body"},
		{"bad chat id", `{"message":"q","chatId":"abc"}`, "chatId must be a UUID"},
		{"not json", `nope`, "invalid request body"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := env.do(http.MethodPost, "/chat", tt.body, nil)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
			assert.Contains(t, rec.Body.String(), tt.msg)
		})
	}
	assert.Empty(t, env.cube.externalIDs)
}

func TestChatUpstreamErrors(t *testing.T) {
	t.Run("session rejected", func(t *testing.T) {
		env := newTestEnv(t, "")
		env.cube.sessionCode = http.StatusUnauthorized

		rec := env.do(http.MethodPost, "/chat", `{"message":"q"}`, nil)

		assert.Equal(t, http.StatusBadGateway, rec.Code)
		var body map[string]any
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
		assert.EqualValues(t, 401, body["upstreamStatus"])
		assert.Contains(t, body["error"], "generate-session 401")
	})

	t.Run("chat status relayed", func(t *testing.T) {
		env := newTestEnv(t, "")
		env.cube.chatCode = http.StatusForbidden
		env.cube.chatReply = "forbidden agent"

		rec := env.do(http.MethodPost, "/chat", `{"message":"q","stream":true}`, nil)

		assert.Equal(t, http.StatusForbidden, rec.Code)
		assert.JSONEq(t, `{"error":"forbidden agent"}`, rec.Body.String())
	})

	t.Run("empty chat error body", func(t *testing.T) {
		env := newTestEnv(t, "")
		env.cube.chatCode = http.StatusInternalServerError

		rec := env.do(http.MethodPost, "/chat", `{"message":"q"}`, nil)

		assert.Equal(t, http.StatusInternalServerError, rec.Code)
		assert.JSONEq(t, `{"error":"Chat upstream error"}`, rec.Body.String())
	})
}

func TestChatResult(t *testing.T) {
	env := newTestEnv(t, "")

	rec := env.do(http.MethodPost, "/chat/result", `{"message":"q"}`, nil)

	require.Equal(t, http.StatusOK, rec.Code)
	var res struct {
		AssistantText string           `json:"assistantText"`
		Rows          []map[string]any `json:"rows"`
		EventCounts   map[string]int   `json:"eventCounts"`
		Query         map[string]any   `json:"query"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))
	assert.Equal(t, "There are 4 open orders.", res.AssistantText)
	assert.Len(t, res.Rows, 1)
	assert.Equal(t, map[string]int{"data": 1, "chartSpec": 1, "assistant": 1}, res.EventCounts)
	assert.NotNil(t, res.Query)
}

func TestChatSQL(t *testing.T) {
	env := newTestEnv(t, "")

	rec := env.do(http.MethodPost, "/chat/sql", `{"message":"q"}`, nil)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{
		"eventCounts": {"data":1,"chartSpec":1,"assistant":1},
		"sqlQuery": null,
		"query": {"measures":["orders.count"]}
	}`, rec.Body.String())
}

func TestChatChart(t *testing.T) {
	env := newTestEnv(t, "")

	t.Run("inferred", func(t *testing.T) {
		rec := env.do(http.MethodPost, "/chat/chart", `{"message":"q"}`, nil)
		require.Equal(t, http.StatusOK, rec.Code)

		var out struct {
			Data []struct {
				X      string  `json:"x"`
				Series string  `json:"series"`
				Value  float64 `json:"value"`
			} `json:"data"`
			Meta struct {
				XKey      string `json:"xKey"`
				SeriesKey string `json:"seriesKey"`
				ValueKey  string `json:"valueKey"`
				Count     int    `json:"count"`
			} `json:"meta"`
		}
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
		assert.Equal(t, "orders.created_at.month", out.Meta.XKey)
		assert.Equal(t, "orders.status", out.Meta.SeriesKey)
		assert.Equal(t, "orders.count", out.Meta.ValueKey)
		assert.Equal(t, 1, out.Meta.Count)
		require.Len(t, out.Data, 1)
		assert.Equal(t, 4.0, out.Data[0].Value)
	})

	t.Run("overrides", func(t *testing.T) {
		rec := env.do(http.MethodPost, "/chat/chart?xKey=orders.status", `{"message":"q"}`, nil)
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Contains(t, rec.Body.String(), `"xKey":"orders.status"`)
	})
}

func TestUnknownChatPath(t *testing.T) {
	env := newTestEnv(t, "")

	for _, tc := range []struct{ method, path string }{
		{http.MethodPost, "/chat/nope"},
		{http.MethodGet, "/chat"},
	} {
		rec := env.do(tc.method, tc.path, "", nil)
		assert.Equal(t, http.StatusNotFound, rec.Code, tc.path)
		assert.JSONEq(t, `{"error":"Not found"}`, rec.Body.String())
	}
}

func TestSession(t *testing.T) {
	t.Run("ok", func(t *testing.T) {
		env := newTestEnv(t, "")
		rec := env.do(http.MethodGet, "/session?externalId=q@x", "", nil)

		require.Equal(t, http.StatusOK, rec.Code)
		assert.JSONEq(t, `{"sessionId":"s-1"}`, rec.Body.String())
		assert.Equal(t, []string{"q@x"}, env.cube.externalIDs)
	})

	t.Run("upstream rejection relayed", func(t *testing.T) {
		env := newTestEnv(t, "")
		env.cube.sessionCode = http.StatusForbidden

		rec := env.do(http.MethodGet, "/session", "", nil)

		assert.Equal(t, http.StatusForbidden, rec.Code)
		assert.JSONEq(t, `{"error":"bad key"}`, rec.Body.String())
	})
}

func TestLoad(t *testing.T) {
	env := newTestEnv(t, "")

	rec := env.do(http.MethodPost, "/cube/load", `{"measures":["orders.count"]}`, nil)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"data":[{"orders.count":"4"}]}`, rec.Body.String())
	assert.JSONEq(t, `{"query":{"measures":["orders.count"]}}`, env.cube.loadBody)
	assert.NotContains(t, env.cube.loadAuth, "Bearer")

	rec = env.do(http.MethodPost, "/cube/load", `"select"`, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAuthEnabled(t *testing.T) {
	env := newTestEnv(t, "inbound-secret")

	rec := env.do(http.MethodPost, "/chat", `{"message":"q"}`, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, middleware.Claims{
		RegisteredClaims: jwt.RegisteredClaims{Subject: "sub@x"},
	}).SignedString([]byte("inbound-secret"))
	require.NoError(t, err)

	rec = env.do(http.MethodPost, "/chat", `{"message":"q"}`, map[string]string{
		"Authorization": "Bearer " + token,
		"X-User-Email":  "hdr@x",
	})
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []string{"sub@x"}, env.cube.externalIDs)

	rec = env.do(http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestAuthEmailClaimIsExternalID(t *testing.T) {
	env := newTestEnv(t, "inbound-secret")

	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, middleware.Claims{
		RegisteredClaims: jwt.RegisteredClaims{Subject: "u-42"},
		Email:            "mail@x",
	}).SignedString([]byte("inbound-secret"))
	require.NoError(t, err)

	auth := map[string]string{"Authorization": "Bearer " + token, "X-User-Email": "hdr@x"}
	env.do(http.MethodPost, "/chat", `{"message":"q"}`, auth)
	env.do(http.MethodPost, "/chat", `{"message":"q","externalId":"body@x"}`, auth)

	assert.Equal(t, []string{"mail@x", "body@x"}, env.cube.externalIDs)
}
