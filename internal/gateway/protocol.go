package gateway

import (
	"encoding/json"

	"github.com/soyeahso/parley/internal/agent"
)

// Protocol version supported by this server.
const ProtocolVersion = 1

// Frame types for the WebSocket protocol.
const (
	FrameTypeRequest  = "req"
	FrameTypeResponse = "res"
	FrameTypeEvent    = "event"
)

// Event names sent by the server.
const (
	EventConnectChallenge = "connect.challenge"
	EventChat             = "chat.event"
	EventConfigChanged    = "config.changed"
)

// Error codes carried in ErrorShape.Code.
const (
	CodeProtocolError  = "protocol_error"
	CodeInvalidParams  = "invalid_params"
	CodeUnauthorized   = "unauthorized"
	CodeMethodNotFound = "method_not_found"
	CodeForbidden      = "forbidden"
	CodeNotFound       = "not_found"
	CodeUnavailable    = "unavailable"
	CodeTimeout        = "timeout"
	CodeInternal       = "internal_error"
)

// Frame is the single JSON envelope on the socket. Requests carry
// ID, Method and Params; responses echo ID and set OK with either Payload
// or Error; events carry Event, Payload and Seq.
type Frame struct {
	Type    string          `json:"type"`
	ID      string          `json:"id,omitempty"`
	Method  string          `json:"method,omitempty"`
	Params  json.RawMessage `json:"params,omitempty"`
	OK      *bool           `json:"ok,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
	Event   string          `json:"event,omitempty"`
	Seq     int64           `json:"seq,omitempty"`
	Error   *ErrorShape     `json:"error,omitempty"`
}

// ErrorShape is the error format in response frames.
type ErrorShape struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// ConnectParams are sent by the client in the initial "connect" request.
type ConnectParams struct {
	MinProtocol int          `json:"minProtocol"`
	MaxProtocol int          `json:"maxProtocol"`
	Client      ClientInfo   `json:"client"`
	Auth        *ConnectAuth `json:"auth,omitempty"`
}

// ClientInfo identifies the connecting client, typically an IDE extension.
type ClientInfo struct {
	ID       string `json:"id"`
	Version  string `json:"version"`
	Platform string `json:"platform,omitempty"`
}

// ConnectAuth carries credentials in the connect request.
type ConnectAuth struct {
	Token    string `json:"token,omitempty"`
	Password string `json:"password,omitempty"`
}

// HelloOK is the server's response payload after successful authentication.
type HelloOK struct {
	Protocol int          `json:"protocol"`
	Server   ServerInfo   `json:"server"`
	Features Features     `json:"features"`
	Policy   ServerPolicy `json:"policy"`
}

// ServerInfo identifies the gateway server.
type ServerInfo struct {
	Version string `json:"version"`
	Commit  string `json:"commit,omitempty"`
	ConnID  string `json:"connId"`
}

// Features advertises available RPC methods and events.
type Features struct {
	Methods []string `json:"methods"`
	Events  []string `json:"events"`
}

// ServerPolicy communicates protocol limits to the client.
type ServerPolicy struct {
	MaxPayload     int `json:"maxPayload"`
	ChatTimeoutMs  int `json:"chatTimeoutMs"`
	TickIntervalMs int `json:"tickIntervalMs"`
}

// ChatParams address a conversation from a gateway client. User defaults
// to the client id and ChatID to the connection id.
type ChatParams struct {
	Message string `json:"message,omitempty"`
	ChatID  string `json:"chatId,omitempty"`
	User    string `json:"user,omitempty"`
}

// ChatEvent is the payload of a chat.event frame: one output event of a
// running chat.send request.
type ChatEvent struct {
	RequestID string            `json:"requestId"`
	Key       string            `json:"key"`
	Kind      string            `json:"kind"`
	Event     agent.OutputEvent `json:"event"`
}

// ChatResult is the chat.send response. It repeats the terminal event.
type ChatResult struct {
	Key   string `json:"key"`
	Kind  string `json:"kind"`
	Text  string `json:"text,omitempty"`
	Error string `json:"error,omitempty"`
}

// framed marshals payload into a frame built by f.
func framed(payload any, f func(json.RawMessage) Frame) (Frame, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return Frame{}, err
	}
	return f(raw), nil
}

func NewRequest(id, method string, params any) (Frame, error) {
	return framed(params, func(raw json.RawMessage) Frame {
		return Frame{Type: FrameTypeRequest, ID: id, Method: method, Params: raw}
	})
}

func NewResponse(id string, payload any) (Frame, error) {
	return framed(payload, func(raw json.RawMessage) Frame {
		return Frame{Type: FrameTypeResponse, ID: id, OK: ptr(true), Payload: raw}
	})
}

func NewErrorResponse(id string, shape ErrorShape) Frame {
	return Frame{Type: FrameTypeResponse, ID: id, OK: ptr(false), Error: &shape}
}

// NewEvent builds a server event. Seq orders events across a connection;
// the connect challenge is sent with seq 0.
func NewEvent(event string, payload any, seq int64) (Frame, error) {
	return framed(payload, func(raw json.RawMessage) Frame {
		return Frame{Type: FrameTypeEvent, Event: event, Payload: raw, Seq: seq}
	})
}

func ptr[T any](v T) *T { return &v }
