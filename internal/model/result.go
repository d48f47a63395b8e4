package model

// ChatResult is the snapshot reduced from one chat exchange's events.
type ChatResult struct {
	AssistantText *string        `json:"assistantText"`
	Rows          []*Object      `json:"rows"`
	Annotation    *Object        `json:"annotation"`
	SQLQuery      *string        `json:"sqlQuery"`
	Query         *Object        `json:"query"`
	ChartSpec     *Object        `json:"chartSpec"`
	EventCounts   map[string]int `json:"eventCounts"`

	// SkippedLines counts lines that were not valid JSON.
	SkippedLines int `json:"skippedLines"`

	// RawBody is the undecoded upstream body, kept for diagnostics.
	RawBody []byte `json:"-"`
}

// Text returns the assistant text or "".
func (r *ChatResult) Text() string {
	if r == nil || r.AssistantText == nil {
		return ""
	}
	return *r.AssistantText
}
