// Package metrics provides Prometheus metrics instrumentation.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// RequestDuration tracks HTTP request duration.
	RequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "api_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60, 120},
		},
		[]string{"method", "path", "status"},
	)

	// RequestsTotal tracks total HTTP requests.
	RequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "api_requests_total",
			Help: "Total HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	// UpstreamDuration tracks latency of each Cube Cloud call.
	// step is one of session, token, chat, load.
	UpstreamDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "cube_upstream_duration_seconds",
			Help:    "Cube Cloud upstream call duration",
			Buckets: []float64{.05, .1, .25, .5, 1, 2, 5, 10, 20, 30, 60, 120},
		},
		[]string{"step", "outcome"},
	)

	// ChatEventsTotal counts classified chat events by count key.
	ChatEventsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cube_chat_events_total",
			Help: "Chat events decoded from upstream bodies",
		},
		[]string{"kind"},
	)

	// ChatSkippedLinesTotal counts malformed NDJSON lines dropped by the decoder.
	ChatSkippedLinesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "cube_chat_skipped_lines_total",
			Help: "Malformed NDJSON lines skipped while decoding chat bodies",
		},
	)

	// ChatCallsTotal counts chat exchanges by mode and outcome.
	ChatCallsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cube_chat_calls_total",
			Help: "Chat exchanges by mode and outcome",
		},
		[]string{"mode", "outcome"},
	)

	// StreamsActive tracks chat streams currently being relayed.
	StreamsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "cube_streams_active",
			Help: "Number of chat streams currently relayed",
		},
	)

	// StreamBytesTotal counts bytes relayed to clients.
	StreamBytesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "cube_stream_bytes_total",
			Help: "Bytes relayed from upstream chat streams",
		},
	)

	// StreamOutcomesTotal counts how relayed streams ended.
	StreamOutcomesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cube_stream_outcomes_total",
			Help: "Relayed stream terminations by outcome",
		},
		[]string{"outcome"},
	)

	// JournalFailuresTotal counts exchange summaries that failed to publish.
	JournalFailuresTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "cube_journal_failures_total",
			Help: "Exchange summaries that could not be published",
		},
	)
)

// RecordRequest records metrics for an HTTP request.
func RecordRequest(method, path, status string, duration float64) {
	RequestDuration.WithLabelValues(method, path, status).Observe(duration)
	RequestsTotal.WithLabelValues(method, path, status).Inc()
}

// RecordUpstream records one upstream call.
func RecordUpstream(step, outcome string, duration float64) {
	UpstreamDuration.WithLabelValues(step, outcome).Observe(duration)
}

// RecordEvents adds per-kind event counts from one exchange.
func RecordEvents(counts map[string]int) {
	for kind, n := range counts {
		ChatEventsTotal.WithLabelValues(kind).Add(float64(n))
	}
}

// RecordChat records the outcome of one chat exchange.
func RecordChat(mode, outcome string) {
	ChatCallsTotal.WithLabelValues(mode, outcome).Inc()
}

// RecordStreamEnd records how a relayed stream terminated.
func RecordStreamEnd(outcome string, bytes int64) {
	StreamOutcomesTotal.WithLabelValues(outcome).Inc()
	StreamBytesTotal.Add(float64(bytes))
}

// IncrementStreams increments the active stream count.
func IncrementStreams() {
	StreamsActive.Inc()
}

// DecrementStreams decrements the active stream count.
func DecrementStreams() {
	StreamsActive.Dec()
}
