package handler

import (
	"io"
	"net/http"

	"github.com/bunlongheng/cube-ai-be/internal/cube"
	"github.com/bunlongheng/cube-ai-be/internal/middleware"
	"github.com/bunlongheng/cube-ai-be/pkg/logger"
)

// LoadHandler proxies Cube REST /load queries.
type LoadHandler struct {
	client *cube.RESTClient
	logger *logger.Logger
}

// NewLoadHandler creates a new load handler.
func NewLoadHandler(client *cube.RESTClient, log *logger.Logger) *LoadHandler {
	return &LoadHandler{client: client, logger: log}
}

type rawLoadResponse struct {
	Raw         string `json:"raw"`
	ContentType string `json:"contentType"`
}

// Load handles POST /cube/load. The upstream status is passed through on
// failure.
func (h *LoadHandler) Load(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	payload, err := cube.NormalizeLoadPayload(body)
	if err != nil {
		writeUpstreamError(w, h.logger, err)
		return
	}

	requestID := r.Header.Get("X-Request-Id")
	if requestID == "" {
		requestID = middleware.GetCorrelationID(r.Context())
	}

	res, err := h.client.Load(r.Context(), requestID, payload)
	if err != nil {
		writeUpstreamError(w, h.logger, err)
		return
	}

	status := http.StatusOK
	if !res.OK() {
		status = res.Status
	}

	if res.JSON != nil {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = w.Write(res.JSON)
		return
	}
	writeJSON(w, status, rawLoadResponse{Raw: res.Raw, ContentType: res.ContentType})
}
