// Package handler provides HTTP handlers for the API.
package handler

import (
	"encoding/json"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/bunlongheng/cube-ai-be/internal/cube"
	"github.com/bunlongheng/cube-ai-be/internal/event"
	"github.com/bunlongheng/cube-ai-be/internal/middleware"
	"github.com/bunlongheng/cube-ai-be/internal/model"
	"github.com/bunlongheng/cube-ai-be/internal/service"
	"github.com/bunlongheng/cube-ai-be/pkg/logger"
)

// ChatHandler handles the /chat endpoints and /session.
type ChatHandler struct {
	service *service.ChatService
	logger  *logger.Logger
}

// NewChatHandler creates a new chat handler.
func NewChatHandler(svc *service.ChatService, log *logger.Logger) *ChatHandler {
	return &ChatHandler{
		service: svc,
		logger:  log,
	}
}

// externalID resolves the caller identity: explicit value, then the JWT
// email claim, then the JWT subject, then X-User-Email. Empty leaves the
// service default.
func externalID(r *http.Request, explicit string) string {
	if explicit != "" {
		return explicit
	}
	if email := middleware.GetEmail(r.Context()); email != "" {
		return email
	}
	if sub := middleware.GetUserID(r.Context()); sub != "" {
		return sub
	}
	return r.Header.Get("X-User-Email")
}

func (h *ChatHandler) input(w http.ResponseWriter, r *http.Request) (*model.ChatMessageRequest, service.ChatInput, bool) {
	var req model.ChatMessageRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return nil, service.ChatInput{}, false
	}
	if err := middleware.Validate(&req); err != nil {
		writeError(w, http.StatusBadRequest, validationMessage(err))
		return nil, service.ChatInput{}, false
	}

	return &req, service.ChatInput{
		Message:        req.Message,
		ChatID:         req.ChatID,
		ExternalID:     externalID(r, req.ExternalID),
		UserAttributes: req.Attributes(),
		CorrelationID:  middleware.GetCorrelationID(r.Context()),
	}, true
}

// Chat handles POST /chat. With stream set the upstream bytes are relayed
// as they arrive; otherwise the last assistant text is returned, or the raw
// body when there is none.
func (h *ChatHandler) Chat(w http.ResponseWriter, r *http.Request) {
	req, in, ok := h.input(w, r)
	if !ok {
		return
	}

	if req.Stream {
		h.stream(w, r, in)
		return
	}

	res, err := h.service.Ask(r.Context(), in, event.Options{})
	if err != nil {
		writeUpstreamError(w, h.logger, err)
		return
	}

	if res.AssistantText != nil {
		writeJSON(w, http.StatusOK, model.ChatContentResponse{Content: res.Text()})
		return
	}
	writeJSON(w, http.StatusOK, model.ChatRawResponse{Stream: string(res.RawBody)})
}

func (h *ChatHandler) stream(w http.ResponseWriter, r *http.Request, in service.ChatInput) {
	ctx := r.Context()

	st, err := h.service.OpenStream(ctx, in)
	if err != nil {
		writeUpstreamError(w, h.logger, err)
		return
	}

	w.Header().Set("Content-Type", st.ContentType())
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.Header().Set("X-Chat-Id", st.ChatID)
	w.WriteHeader(http.StatusOK)

	rc := http.NewResponseController(w)
	flush := func() { _ = rc.Flush() }

	if err := h.service.Relay(ctx, st, w, flush); err != nil {
		// Headers are gone; the client sees a truncated body.
		h.logger.Warn("chat stream ended with error",
			zap.String("chat_id", st.ChatID),
			zap.Error(err))
	}
}

// Result handles POST /chat/result and returns the full reduced result.
func (h *ChatHandler) Result(w http.ResponseWriter, r *http.Request) {
	_, in, ok := h.input(w, r)
	if !ok {
		return
	}

	res, err := h.service.Ask(r.Context(), in, event.Options{})
	if err != nil {
		writeUpstreamError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// SQL handles POST /chat/sql. The deep search fallback is on for this call.
func (h *ChatHandler) SQL(w http.ResponseWriter, r *http.Request) {
	_, in, ok := h.input(w, r)
	if !ok {
		return
	}

	res, err := h.service.Ask(r.Context(), in, event.Options{DeepSearch: true})
	if err != nil {
		writeUpstreamError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, model.SQLResponse{
		EventCounts: res.EventCounts,
		SQLQuery:    res.SQLQuery,
		Query:       res.Query,
	})
}

// Chart handles POST /chat/chart?xKey=&seriesKey=&valueKey=.
func (h *ChatHandler) Chart(w http.ResponseWriter, r *http.Request) {
	_, in, ok := h.input(w, r)
	if !ok {
		return
	}

	q := r.URL.Query()
	out, err := h.service.Chart(r.Context(), in, model.ChartOverrides{
		XKey:      q.Get("xKey"),
		SeriesKey: q.Get("seriesKey"),
		ValueKey:  q.Get("valueKey"),
	})
	if err != nil {
		writeUpstreamError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

// Session handles GET /session?externalId=. An upstream rejection is
// relayed with its own status and body.
func (h *ChatHandler) Session(w http.ResponseWriter, r *http.Request) {
	s, err := h.service.CreateSession(r.Context(), externalID(r, r.URL.Query().Get("externalId")), nil)
	if err != nil {
		if relaySessionError(w, err) {
			return
		}
		writeUpstreamError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, model.SessionResponse{SessionID: s.ID})
}

// relaySessionError writes an upstream session rejection through unchanged.
// It reports false for errors that carry no upstream reply.
func relaySessionError(w http.ResponseWriter, err error) bool {
	var se *cube.SessionError
	if !errors.As(err, &se) || se.Status < 400 {
		return false
	}
	if json.Valid([]byte(se.Body)) {
		w.Header().Set("Content-Type", "application/json")
	} else {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	}
	w.WriteHeader(se.Status)
	_, _ = w.Write([]byte(se.Body))
	return true
}
