package gateway

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/soyeahso/parley/internal/agent"
	"github.com/soyeahso/parley/internal/config"
	"github.com/soyeahso/parley/internal/conversation"
	"github.com/soyeahso/parley/internal/hooks"
	"github.com/soyeahso/parley/internal/metrics"
)

// safeConfigPrefixes lists config path prefixes that can be read and
// written via RPC. All other paths are denied.
var safeConfigPrefixes = []string{
	"gateway.port",
	"gateway.bind",
	"gateway.customBindHost",
	"gateway.allowedOrigins",
	"backend.model",
	"backend.systemPrompt",
	"channels.commandPrefix",
	"logging",
	"session",
	"tools",
}

func isAllowedConfigPath(key string) bool {
	if config.IsSecretPath(key) {
		return false
	}
	for _, prefix := range safeConfigPrefixes {
		if key == prefix || strings.HasPrefix(key, prefix+".") {
			return true
		}
	}
	return false
}

// gatewayChannel prefixes the channel part of gateway conversation keys.
const gatewayChannel = "gateway"

func (s *Server) registerHTTPRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /ws", s.handleWebSocket)
	if s.cfg.Gateway.MetricsEnabled() {
		mux.Handle("GET /metrics", metrics.Handler())
	}
	mux.HandleFunc("/", handleNotFound)
}

func (s *Server) registerRPCHandlers() {
	s.Handle("health", s.rpcHealth)
	s.Handle("config.get", s.rpcConfigGet)
	s.Handle("config.set", s.rpcConfigSet)
	s.Handle("channels.status", s.rpcChannelsStatus)
	s.Handle("chat.send", s.rpcChatSend)
	s.Handle("chat.clear", s.rpcChatClear)
	s.Handle("chat.status", s.rpcChatStatus)
}

func (s *Server) rpcHealth(rc *RequestContext) {
	h := HealthResponse{
		Status:        "ok",
		Version:       s.version,
		Clients:       s.clients.Count(),
		UptimeSeconds: int64(s.uptime().Seconds()),
		Chat:          s.assistant != nil,
	}
	if s.channels != nil {
		h.Channels = s.channels.Count()
	}
	rc.Respond(h)
}

type configGetParams struct {
	Key string `json:"key"`
}

// configPath validates an RPC config key and splits it into segments.
func configPath(rc *RequestContext, key string) ([]string, bool) {
	if key == "" {
		rc.RespondError(CodeInvalidParams, "key is required")
		return nil, false
	}
	if !isAllowedConfigPath(key) {
		rc.RespondError(CodeForbidden, "access denied for config path: "+key)
		return nil, false
	}
	path, err := config.ParseConfigPath(key)
	if err != nil {
		rc.RespondError(CodeInvalidParams, err.Error())
		return nil, false
	}
	return path, true
}

func (s *Server) rpcConfigGet(rc *RequestContext) {
	var p configGetParams
	if err := rc.Params(&p); err != nil {
		rc.RespondError(CodeInvalidParams, err.Error())
		return
	}
	path, ok := configPath(rc, p.Key)
	if !ok {
		return
	}

	s.mu.RLock()
	val, found := config.GetValueAtPath(s.configRaw, path)
	s.mu.RUnlock()

	if !found {
		rc.RespondError(CodeNotFound, "key not found: "+p.Key)
		return
	}
	rc.Respond(map[string]any{"key": p.Key, "value": val})
}

type configSetParams struct {
	Key   string `json:"key"`
	Value any    `json:"value"`
}

// rpcConfigSet edits the raw config and, when a config file is configured,
// saves it. Running components keep their settings until restart.
func (s *Server) rpcConfigSet(rc *RequestContext) {
	var p configSetParams
	if err := rc.Params(&p); err != nil {
		rc.RespondError(CodeInvalidParams, err.Error())
		return
	}
	path, ok := configPath(rc, p.Key)
	if !ok {
		return
	}

	s.mu.Lock()
	config.SetValueAtPath(s.configRaw, path, p.Value)
	var err error
	if s.configPath != "" {
		err = config.SaveRaw(s.configPath, s.configRaw)
	}
	s.mu.Unlock()

	if err != nil {
		s.log.Error().Err(err).Str("key", p.Key).Msg("saving config")
		rc.RespondError(CodeInternal, "saving config: "+err.Error())
		return
	}

	s.log.Info().Str("key", p.Key).Str("connId", rc.Client.ConnID).Msg("config updated")
	change := map[string]any{"key": p.Key, "value": p.Value}
	s.clients.Broadcast(EventConfigChanged, change, s.eventSeq.Add(1), rc.Client.ConnID)
	rc.Respond(change)
}

func (s *Server) rpcChannelsStatus(rc *RequestContext) {
	if s.channels != nil {
		rc.Respond(map[string]any{"channels": s.channels.Status()})
		return
	}
	rc.Respond(map[string]any{"channels": []any{}})
}

// chatKey resolves the conversation a gateway request addresses.
func chatKey(client *Client, p ChatParams) conversation.Key {
	user := p.User
	if user == "" {
		user = client.UserID()
	}
	chatID := p.ChatID
	if chatID == "" {
		chatID = client.ConnID
	}
	return conversation.NewKey(conversation.UserID(user), conversation.ChannelID(gatewayChannel+":"+chatID))
}

func (s *Server) chatParams(rc *RequestContext) (ChatParams, bool) {
	if s.assistant == nil {
		rc.RespondError(CodeUnavailable, "no AI backend configured")
		return ChatParams{}, false
	}
	var p ChatParams
	if err := rc.Params(&p); err != nil {
		rc.RespondError(CodeInvalidParams, err.Error())
		return ChatParams{}, false
	}
	return p, true
}

// rpcChatSend streams each output event as a chat.event frame and then
// responds with the terminal event. The chat runs off the read loop so the
// client can issue other requests meanwhile; it ends early if the client
// disconnects.
func (s *Server) rpcChatSend(rc *RequestContext) {
	p, ok := s.chatParams(rc)
	if !ok {
		return
	}
	if strings.TrimSpace(p.Message) == "" {
		rc.RespondError(CodeInvalidParams, "message is required")
		return
	}

	key := chatKey(rc.Client, p)
	s.chats.Add(1)
	go func() {
		defer s.chats.Done()
		s.runChat(rc, key, p)
	}()
}

func (s *Server) runChat(rc *RequestContext, key conversation.Key, p ChatParams) {
	ctx, cancel := context.WithTimeout(rc.Context(), s.chatTimeout)
	defer cancel()

	data := map[string]any{"channel": gatewayChannel, "from": rc.Client.UserID(), "key": string(key)}
	s.emit(ctx, hooks.EventChatStarted, data)

	user := conversation.UserID(rc.Client.UserID())
	if p.User != "" {
		user = conversation.UserID(p.User)
	}

	for ev, err := range s.assistant.Chat(ctx, key, user, p.Message) {
		if err != nil {
			s.log.Warn().Err(err).Str("key", string(key)).Msg("chat aborted")
			switch {
			case rc.Context().Err() != nil:
			case errors.Is(err, context.DeadlineExceeded):
				// The turn stays open in the store until the next message
				// replaces it.
				rc.RespondError(CodeTimeout, fmt.Sprintf("chat timed out after %s", s.chatTimeout))
			default:
				rc.RespondError(CodeInternal, err.Error())
			}
			return
		}

		if err := rc.Client.SendEvent(EventChat, ChatEvent{
			RequestID: rc.Frame.ID,
			Key:       string(key),
			Kind:      ev.Kind(),
			Event:     ev,
		}, s.eventSeq.Add(1)); err != nil {
			s.log.Debug().Err(err).Str("key", string(key)).Msg("chat event not delivered")
		}

		switch e := ev.(type) {
		case agent.Completed:
			s.emit(ctx, hooks.EventChatCompleted, data)
			rc.Respond(ChatResult{Key: string(key), Kind: e.Kind(), Text: e.Text})
		case agent.Failed:
			s.emit(ctx, hooks.EventChatFailed, data)
			rc.Respond(ChatResult{Key: string(key), Kind: e.Kind(), Error: e.Error})
		}
	}
}

func (s *Server) rpcChatClear(rc *RequestContext) {
	p, ok := s.chatParams(rc)
	if !ok {
		return
	}
	key := chatKey(rc.Client, p)
	if err := s.assistant.Clear(rc.Context(), key); err != nil {
		rc.RespondError(CodeInternal, err.Error())
		return
	}
	s.emit(rc.Context(), hooks.EventConversationCleared, map[string]any{
		"channel": gatewayChannel,
		"from":    rc.Client.UserID(),
		"key":     string(key),
	})
	rc.Respond(map[string]any{"key": string(key), "cleared": true})
}

func (s *Server) rpcChatStatus(rc *RequestContext) {
	p, ok := s.chatParams(rc)
	if !ok {
		return
	}
	key := chatKey(rc.Client, p)
	st, found, err := s.assistant.Status(rc.Context(), key)
	if err != nil {
		rc.RespondError(CodeInternal, err.Error())
		return
	}
	resp := map[string]any{"key": string(key), "found": found}
	if found {
		resp["status"] = st
	}
	rc.Respond(resp)
}

func (s *Server) emit(ctx context.Context, event string, data map[string]any) {
	if s.hooks != nil {
		s.hooks.EmitAsync(context.WithoutCancel(ctx), event, data)
	}
}
