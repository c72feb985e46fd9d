package agent

import (
	"context"
	"errors"
	"testing"

	"github.com/soyeahso/parley/internal/llm"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newFailoverRegistry(backends map[string]llm.Backend) *llm.Registry {
	r := llm.NewRegistry(silentLog())
	for name, b := range backends {
		r.Register(name, b)
	}
	return r
}

func TestFailoverUsesPrimary(t *testing.T) {
	primary := &llm.MockBackend{ProviderName: "claude", Events: []llm.Event{llm.DoneEvent{}}}
	fallback := &llm.MockBackend{ProviderName: "gemini"}
	f := NewFailoverBackend(newFailoverRegistry(map[string]llm.Backend{
		"claude": primary, "gemini": fallback,
	}), "claude", []string{"gemini"}, silentLog())

	assert.Equal(t, "claude", f.Name())
	ch, err := f.Stream(context.Background(), llm.Request{ContinuityToken: "tok"})
	require.NoError(t, err)
	for range ch {
	}
	require.Len(t, primary.Requests(), 1)
	assert.Equal(t, "tok", primary.Requests()[0].ContinuityToken)
	assert.Empty(t, fallback.Requests())
}

func TestFailoverOnRetryableError(t *testing.T) {
	primary := &llm.MockBackend{OpenErr: &llm.ProviderError{Provider: "claude", Message: "overloaded", Code: 529}}
	fallback := &llm.MockBackend{ProviderName: "gemini", Events: []llm.Event{llm.DoneEvent{}}}
	f := NewFailoverBackend(newFailoverRegistry(map[string]llm.Backend{
		"claude": primary, "gemini": fallback,
	}), "claude", []string{"gemini"}, silentLog())

	ch, err := f.Stream(context.Background(), llm.Request{ContinuityToken: "tok"})
	require.NoError(t, err)
	for range ch {
	}
	require.Len(t, fallback.Requests(), 1)
	assert.Empty(t, fallback.Requests()[0].ContinuityToken, "token is not carried across providers")
}

func TestFailoverStopsOnPermanentError(t *testing.T) {
	bad := errors.New("invalid model name")
	primary := &llm.MockBackend{OpenErr: bad}
	fallback := &llm.MockBackend{ProviderName: "gemini"}
	f := NewFailoverBackend(newFailoverRegistry(map[string]llm.Backend{
		"claude": primary, "gemini": fallback,
	}), "claude", []string{"gemini"}, silentLog())

	_, err := f.Stream(context.Background(), llm.Request{})
	assert.ErrorIs(t, err, bad)
	assert.Empty(t, fallback.Requests())
}

func TestFailoverAllProvidersFail(t *testing.T) {
	primary := &llm.MockBackend{OpenErr: errors.New("rate limit exceeded")}
	f := NewFailoverBackend(newFailoverRegistry(map[string]llm.Backend{
		"claude": primary,
	}), "claude", []string{"missing"}, silentLog())

	_, err := f.Stream(context.Background(), llm.Request{})
	require.Error(t, err)
}

func TestIsRetryable(t *testing.T) {
	tests := []struct {
		err  error
		want bool
	}{
		{nil, false},
		{&llm.ProviderError{Provider: "p", Code: 429}, true},
		{&llm.ProviderError{Provider: "p", Code: 400, Message: "bad request"}, false},
		{errors.New("server at capacity"), true},
		{errors.New(`exec: "gemini": executable file not found in $PATH`), true},
		{errors.New("syntax error"), false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, isRetryable(tt.err), "%v", tt.err)
	}
}
