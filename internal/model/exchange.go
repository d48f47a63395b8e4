package model

import (
	"time"
)

// ExchangeMode is how a chat exchange was delivered.
type ExchangeMode string

const (
	ExchangeModeStream   ExchangeMode = "stream"
	ExchangeModeBuffered ExchangeMode = "buffered"
)

// ExchangeOutcome is how a chat exchange ended.
type ExchangeOutcome string

const (
	OutcomeOK       ExchangeOutcome = "ok"
	OutcomeAborted  ExchangeOutcome = "aborted"
	OutcomeUpstream ExchangeOutcome = "upstream_error"
	OutcomeTimeout  ExchangeOutcome = "timeout"
)

// Exchange is the journal record published once per chat exchange.
// It never carries credentials or the full upstream body.
type Exchange struct {
	ID            string          `json:"id"`
	CorrelationID string          `json:"correlation_id,omitempty"`
	ChatID        string          `json:"chat_id"`
	ExternalID    string          `json:"external_id"`
	Mode          ExchangeMode    `json:"mode"`
	Outcome       ExchangeOutcome `json:"outcome"`
	Status        int             `json:"status,omitempty"`
	Reason        string          `json:"reason,omitempty"`
	Bytes         int64           `json:"bytes,omitempty"`
	EventCounts   map[string]int  `json:"event_counts,omitempty"`
	RowCount      int             `json:"row_count,omitempty"`
	HasSQL        bool            `json:"has_sql,omitempty"`
	StartedAt     time.Time       `json:"started_at"`
	Duration      time.Duration   `json:"duration_ns"`
}
