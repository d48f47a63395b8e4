package handler

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/bunlongheng/cube-ai-be/internal/cube"
	"github.com/bunlongheng/cube-ai-be/internal/model"
	"github.com/bunlongheng/cube-ai-be/pkg/logger"
)

// maxBodyBytes caps inbound request bodies.
const maxBodyBytes = 1 << 20

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, model.ErrorResponse{Error: message})
}

// decodeJSON reads a size-limited JSON body into v.
func decodeJSON(r *http.Request, v interface{}) error {
	if err := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes)).Decode(v); err != nil {
		return errors.Join(cube.ErrValidation, err)
	}
	return nil
}

// writeUpstreamError maps a service error to a status and JSON body.
func writeUpstreamError(w http.ResponseWriter, log *logger.Logger, err error) {
	var (
		sessionErr *cube.SessionError
		tokenErr   *cube.TokenError
		chatErr    *cube.ChatUpstreamError
	)
	isSession := errors.As(err, &sessionErr)
	isToken := errors.As(err, &tokenErr)

	switch {
	case errors.Is(err, cube.ErrValidation):
		writeError(w, http.StatusBadRequest, validationMessage(err))
	case errors.Is(err, cube.ErrNotConfigured):
		log.Error("cube client not configured", zap.Error(err))
		writeError(w, http.StatusInternalServerError, err.Error())
	case errors.Is(err, cube.ErrTimeout), errors.Is(err, context.DeadlineExceeded):
		writeError(w, http.StatusGatewayTimeout, "upstream timeout")
	case errors.As(err, &chatErr):
		msg := chatErr.Body
		if msg == "" {
			msg = "Chat upstream error"
		}
		writeError(w, chatErr.Status, msg)
	case isSession && sessionErr.Status >= 400:
		writeJSON(w, http.StatusBadGateway, model.ErrorResponse{Error: err.Error(), UpstreamStatus: sessionErr.Status})
	case isToken && tokenErr.Status >= 400:
		writeJSON(w, http.StatusBadGateway, model.ErrorResponse{Error: err.Error(), UpstreamStatus: tokenErr.Status})
	case isSession, isToken:
		// Reached the upstream but the reply lacked a field, or the call failed.
		writeError(w, http.StatusBadGateway, err.Error())
	default:
		log.Warn("upstream request failed", zap.Error(err))
		writeError(w, http.StatusBadGateway, "upstream request failed")
	}
}

func validationMessage(err error) string {
	msg := err.Error()
	msg = strings.TrimPrefix(msg, cube.ErrValidation.Error()+"\n")
	msg = strings.TrimPrefix(msg, cube.ErrValidation.Error()+": ")
	return msg
}
