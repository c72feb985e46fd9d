package llm

import (
	"testing"

	"github.com/soyeahso/parley/internal/config"
	"github.com/stretchr/testify/assert"
)

func TestBuildExternalArgs(t *testing.T) {
	ecfg := ExternalConfigFromEntry("gemini", config.ProviderEntry{
		Command:    "gemini",
		BaseArgs:   []string{"chat"},
		ModelFlag:  "--model",
		SystemFlag: "--system",
		StreamFlag: []string{"--format", "stream-json"},
	})

	args := buildExternalArgs(ecfg, Request{Model: "pro", System: "sys"})
	assert.Equal(t, []string{"chat", "--model", "pro", "--system", "sys", "--format", "stream-json"}, args)
	assert.Equal(t, []string{"chat"}, ecfg.BaseArgs, "base args must not be mutated")

	args = buildExternalArgs(ecfg, Request{})
	assert.Equal(t, []string{"chat", "--format", "stream-json"}, args)
}

func TestParseExternalStreamLine(t *testing.T) {
	ecfg := ExternalCLIConfig{Name: "ext", ResultField: "result", StreamTextField: "content"}

	tests := []struct {
		name string
		line string
		want []Event
	}{
		{"delta", `{"content":"hi"}`, []Event{TextEvent{Text: "hi"}}},
		{"plain text", `hello there`, []Event{TextEvent{Text: "hello there\n"}}},
		{"done", `{"type":"done","result":"full"}`, []Event{DoneEvent{Result: "full"}}},
		{"end", `{"type":"end"}`, []Event{DoneEvent{}}},
		{"error", `{"type":"error","error":"quota"}`, []Event{ErrorEvent{Message: "quota"}}},
		{"error message field", `{"type":"error","message":"bad"}`, []Event{ErrorEvent{Message: "bad"}}},
		{"error without text", `{"type":"error"}`, []Event{ErrorEvent{Message: "ext: unknown error"}}},
		{"empty delta", `{"content":""}`, nil},
		{"unrelated", `{"progress":0.5}`, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, parseExternalStreamLine(ecfg, []byte(tt.line)))
		})
	}
}
