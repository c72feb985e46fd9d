package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCounters(t *testing.T) {
	before := testutil.ToFloat64(chatsTotal.WithLabelValues(OutcomeCompleted))
	ChatFinished(OutcomeCompleted, 2*time.Second)
	assert.Equal(t, before+1, testutil.ToFloat64(chatsTotal.WithLabelValues(OutcomeCompleted)))

	ToolCalled("echo", false)
	ToolCalled("echo", true)
	assert.GreaterOrEqual(t, testutil.ToFloat64(toolCallsTotal.WithLabelValues("echo", "ok")), 1.0)
	assert.GreaterOrEqual(t, testutil.ToFloat64(toolCallsTotal.WithLabelValues("echo", "error")), 1.0)

	BackendEvent("text")
	StoreError("save")
	Inbound("irc", "chat")
	assert.GreaterOrEqual(t, testutil.ToFloat64(storeErrorsTotal.WithLabelValues("save")), 1.0)
}

func TestHandler(t *testing.T) {
	ChatFinished(OutcomeFailed, time.Second)

	rec := httptest.NewRecorder()
	Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "parley_chats_total")
	assert.Contains(t, rec.Body.String(), "parley_chat_duration_seconds")
}
