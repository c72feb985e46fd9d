package gateway

import (
	"encoding/json"
	"testing"

	"github.com/soyeahso/parley/internal/agent"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRequest(t *testing.T) {
	f, err := NewRequest("r1", "chat.send", ChatParams{Message: "hi"})
	require.NoError(t, err)
	assert.Equal(t, FrameTypeRequest, f.Type)
	assert.Equal(t, "chat.send", f.Method)
	assert.JSONEq(t, `{"message":"hi"}`, string(f.Params))
}

func TestNewResponse(t *testing.T) {
	f, err := NewResponse("r1", map[string]int{"n": 1})
	require.NoError(t, err)
	assert.Equal(t, FrameTypeResponse, f.Type)
	require.NotNil(t, f.OK)
	assert.True(t, *f.OK)
	assert.Nil(t, f.Error)
}

func TestNewErrorResponse(t *testing.T) {
	f := NewErrorResponse("r1", ErrorShape{Code: CodeForbidden, Message: "no"})
	require.NotNil(t, f.OK)
	assert.False(t, *f.OK)
	assert.Equal(t, CodeForbidden, f.Error.Code)

	data, err := json.Marshal(f)
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"res","id":"r1","ok":false,"error":{"code":"forbidden","message":"no"}}`, string(data))
}

func TestNewEvent_ChatEvent(t *testing.T) {
	f, err := NewEvent(EventChat, ChatEvent{
		RequestID: "r1",
		Key:       "u:gateway:c",
		Kind:      agent.KindTextChunk,
		Event:     agent.TextChunk{Text: "hel"},
	}, 7)
	require.NoError(t, err)
	assert.Equal(t, FrameTypeEvent, f.Type)
	assert.Equal(t, int64(7), f.Seq)
	assert.JSONEq(t, `{"requestId":"r1","key":"u:gateway:c","kind":"text_chunk","event":{"text":"hel"}}`, string(f.Payload))
}
