// Package model defines the data structures shared across the gateway.
package model

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
)

// FlexBool accepts a JSON boolean or the string "true"/"false".
// Any other string decodes as false.
type FlexBool bool

// UnmarshalJSON implements json.Unmarshaler.
func (b *FlexBool) UnmarshalJSON(data []byte) error {
	switch string(bytes.TrimSpace(data)) {
	case "true", `"true"`:
		*b = true
		return nil
	case "false", "null":
		*b = false
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("stream must be a boolean: %w", err)
	}
	*b = false
	return nil
}

// ChatMessageRequest is the inbound body of POST /chat and its variants.
type ChatMessageRequest struct {
	Message        string          `json:"message" validate:"required,max=100000"`
	Stream         FlexBool        `json:"stream"`
	ExternalID     string          `json:"externalId" validate:"omitempty,max=320"`
	UserAttributes json.RawMessage `json:"userAttributes,omitempty"`
	ChatID         string          `json:"chatId" validate:"omitempty,uuid"`
}

// Attributes returns the user attributes as an array. Anything that is not
// a JSON array yields an empty one.
func (r *ChatMessageRequest) Attributes() []json.RawMessage {
	out := []json.RawMessage{}
	if len(r.UserAttributes) == 0 {
		return out
	}
	var arr []json.RawMessage
	if err := json.Unmarshal(r.UserAttributes, &arr); err != nil || arr == nil {
		return out
	}
	return arr
}

// ChatRequest is the upstream chat call body.
type ChatRequest struct {
	ChatID string `json:"chatId"`
	Input  string `json:"input"`
}

// NewChatRequest builds a chat request, generating a chat id when none is given.
func NewChatRequest(chatID, input string) ChatRequest {
	if chatID == "" {
		chatID = uuid.NewString()
	}
	return ChatRequest{ChatID: chatID, Input: input}
}

// SessionRequest is the body of the generate-session call.
type SessionRequest struct {
	ExternalID     string            `json:"externalId"`
	UserAttributes []json.RawMessage `json:"userAttributes"`
}

// TokenRequest is the body of the session/token call.
type TokenRequest struct {
	SessionID string `json:"sessionId"`
}

// ChatContentResponse is the buffered /chat reply when assistant text exists.
type ChatContentResponse struct {
	Content string `json:"content"`
}

// ChatRawResponse is the buffered /chat reply when no assistant text was found.
type ChatRawResponse struct {
	Stream string `json:"stream"`
}

// SQLResponse is the reply of POST /chat/sql.
type SQLResponse struct {
	EventCounts map[string]int `json:"eventCounts"`
	SQLQuery    *string        `json:"sqlQuery"`
	Query       *Object        `json:"query"`
}

// SessionResponse is the reply of GET /session.
type SessionResponse struct {
	SessionID string `json:"sessionId"`
}

// ErrorResponse is the JSON error body.
type ErrorResponse struct {
	Error          string `json:"error"`
	UpstreamStatus int    `json:"upstreamStatus,omitempty"`
}
