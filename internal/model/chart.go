package model

// ChartRecord is one chart-ready point.
type ChartRecord struct {
	X      any      `json:"x"`
	Series any      `json:"series"`
	Value  *float64 `json:"value"`
	Raw    *Object  `json:"raw"`
}

// ChartMeta describes how records were derived.
type ChartMeta struct {
	XKey       string  `json:"xKey,omitempty"`
	SeriesKey  string  `json:"seriesKey,omitempty"`
	ValueKey   string  `json:"valueKey,omitempty"`
	Count      int     `json:"count"`
	Annotation *Object `json:"annotation"`
	Reason     string  `json:"reason,omitempty"`
}

// ChartPayload is the adapter output.
type ChartPayload struct {
	Data []ChartRecord `json:"data"`
	Meta ChartMeta     `json:"meta"`
}

// ChartOverrides pins any of the inferred keys. Empty fields are inferred.
type ChartOverrides struct {
	XKey      string
	SeriesKey string
	ValueKey  string
}

// ChartKeys is the result of key inference.
type ChartKeys struct {
	XKey      string
	SeriesKey string
	ValueKey  string
}
