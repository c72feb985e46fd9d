// Package metrics exposes Prometheus instruments for chats, tools and storage.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Chat outcomes.
const (
	OutcomeCompleted = "completed"
	OutcomeFailed    = "failed"
	OutcomeCancelled = "cancelled"
	OutcomeStoreErr  = "store_error"
)

var (
	chatsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "parley_chats_total",
		Help: "Chat invocations by how they ended.",
	}, []string{"outcome"})
	chatDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "parley_chat_duration_seconds",
		Help:    "Wall time of a chat invocation from receive to terminal event.",
		Buckets: []float64{0.5, 1, 2.5, 5, 10, 30, 60, 120, 300},
	}, []string{"outcome"})
	toolCallsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "parley_tool_calls_total",
		Help: "Tool invocations by tool name and result.",
	}, []string{"tool", "outcome"})
	backendEventsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "parley_backend_events_total",
		Help: "Events received from the AI backend by kind.",
	}, []string{"kind"})
	storeErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "parley_store_errors_total",
		Help: "Conversation store failures by operation.",
	}, []string{"op"})
	inboundTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "parley_inbound_messages_total",
		Help: "Messages received from chat channels, by channel and disposition.",
	}, []string{"channel", "disposition"})
)

// ChatFinished records one chat invocation.
func ChatFinished(outcome string, elapsed time.Duration) {
	chatsTotal.WithLabelValues(outcome).Inc()
	chatDuration.WithLabelValues(outcome).Observe(elapsed.Seconds())
}

// ToolCalled records one tool invocation.
func ToolCalled(tool string, isError bool) {
	outcome := "ok"
	if isError {
		outcome = "error"
	}
	toolCallsTotal.WithLabelValues(tool, outcome).Inc()
}

// BackendEvent counts an event from the AI backend.
func BackendEvent(kind string) {
	backendEventsTotal.WithLabelValues(kind).Inc()
}

// StoreError counts a failed store operation.
func StoreError(op string) {
	storeErrorsTotal.WithLabelValues(op).Inc()
}

// Inbound counts a channel message and what was done with it
// ("chat", "command", "duplicate", "ignored").
func Inbound(channel, disposition string) {
	inboundTotal.WithLabelValues(channel, disposition).Inc()
}

// Handler serves the default registry in the Prometheus text format.
func Handler() http.Handler {
	return promhttp.Handler()
}
