// Package gateway serves the WebSocket protocol IDE integrations use to
// chat with parley, plus health and metrics endpoints.
package gateway

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/soyeahso/parley/internal/channel"
	"github.com/soyeahso/parley/internal/config"
	"github.com/soyeahso/parley/internal/hooks"
	"github.com/soyeahso/parley/internal/logging"
	"github.com/soyeahso/parley/internal/routing"
	"github.com/soyeahso/parley/internal/version"
)

const (
	maxPayloadBytes  = 4 * 1024 * 1024
	handshakeTimeout = 10 * time.Second
	tickInterval     = 30 * time.Second
	shutdownTimeout  = 10 * time.Second
)

// Server is the parley gateway HTTP + WebSocket server.
type Server struct {
	cfg      config.Config
	auth     ResolvedAuth
	log      *logging.Logger
	clients  *ClientRegistry
	handlers map[string]RequestHandler
	version  string
	eventSeq atomic.Int64

	mu         sync.RWMutex
	configRaw  map[string]any
	configPath string
	addr       string

	assistant routing.Assistant
	channels  *channel.Registry
	hooks     *hooks.Manager

	chatTimeout time.Duration
	chats       sync.WaitGroup

	startedAt   time.Time
	httpServer  *http.Server
	upgrader    websocket.Upgrader
	authLimiter *authRateLimiter
}

// ServerOption configures the gateway server.
type ServerOption func(*Server)

// WithConfigRaw sets the raw config map served by config.get and config.set.
func WithConfigRaw(raw map[string]any) ServerOption {
	return func(s *Server) {
		s.configRaw = raw
	}
}

// WithConfigFile makes config.set persist the raw config to path.
func WithConfigFile(path string) ServerOption {
	return func(s *Server) {
		s.configPath = path
	}
}

// WithChannels sets the channel registry for channel status reporting.
func WithChannels(ch *channel.Registry) ServerOption {
	return func(s *Server) {
		s.channels = ch
	}
}

// WithHooks sets the hook manager for lifecycle events.
func WithHooks(hm *hooks.Manager) ServerOption {
	return func(s *Server) {
		s.hooks = hm
	}
}

// WithAssistant sets the orchestrator behind the chat.* methods.
func WithAssistant(a routing.Assistant) ServerOption {
	return func(s *Server) {
		s.assistant = a
	}
}

// WithChatTimeout bounds a single chat.send. The default is five minutes.
func WithChatTimeout(d time.Duration) ServerOption {
	return func(s *Server) {
		s.chatTimeout = d
	}
}

// New creates a new gateway server.
func New(cfg config.Config, log *logging.Logger, opts ...ServerOption) *Server {
	s := &Server{
		cfg:         cfg,
		auth:        ResolveAuth(cfg.Gateway.Auth),
		log:         log.Sub("gateway"),
		clients:     NewClientRegistry(log.Sub("clients")),
		handlers:    make(map[string]RequestHandler),
		version:     version.Version,
		configRaw:   make(map[string]any),
		chatTimeout: 5 * time.Minute,
		authLimiter: newAuthRateLimiter(),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     checkWebSocketOrigin(cfg.Gateway.AllowedOrigins),
		},
	}

	for _, opt := range opts {
		opt(s)
	}

	s.registerRPCHandlers()
	return s
}

// checkWebSocketOrigin validates the Origin header of an upgrade request.
// Requests without one (non-browser clients) are always allowed; otherwise
// the origin must be listed, or the list must contain "*".
func checkWebSocketOrigin(allowed []string) func(*http.Request) bool {
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		return isOriginAllowed(origin, allowed)
	}
}

// Handle registers an RPC method handler.
func (s *Server) Handle(method string, handler RequestHandler) {
	s.handlers[method] = handler
}

// Methods returns the registered RPC method names, sorted.
func (s *Server) Methods() []string {
	methods := make([]string, 0, len(s.handlers))
	for m := range s.handlers {
		methods = append(methods, m)
	}
	slices.Sort(methods)
	return methods
}

// resolveBindAddr computes the listen address from config.
func resolveBindAddr(cfg config.GatewayConfig) string {
	switch cfg.Bind {
	case "lan":
		return fmt.Sprintf("0.0.0.0:%d", cfg.Port)
	case "custom":
		host := cfg.CustomBindHost
		if host == "" {
			host = "0.0.0.0"
		}
		return net.JoinHostPort(host, fmt.Sprint(cfg.Port))
	default:
		return fmt.Sprintf("127.0.0.1:%d", cfg.Port)
	}
}

// Handler returns the HTTP handler with all routes and middleware.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	s.registerHTTPRoutes(mux)
	return withMiddleware(mux, s.log, s.cfg.Gateway.AllowedOrigins)
}

func (s *Server) listen(addr string) (net.Listener, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("listening on %s: %w", addr, err)
	}

	tlsCfg := s.cfg.Gateway.TLS
	if !tlsCfg.Enabled {
		if s.cfg.Gateway.Bind != "loopback" {
			s.log.Warn().Msg("TLS is not enabled, credentials travel in cleartext")
		}
		return ln, nil
	}
	cert, err := tls.LoadX509KeyPair(tlsCfg.CertPath, tlsCfg.KeyPath)
	if err != nil {
		ln.Close()
		return nil, fmt.Errorf("loading TLS certificate: %w", err)
	}
	s.log.Info().Msg("TLS enabled")
	return tls.NewListener(ln, &tls.Config{
		Certificates: []tls.Certificate{cert},
		MinVersion:   tls.VersionTLS12,
	}), nil
}

// Start listens for HTTP and WebSocket connections. It blocks until ctx is
// cancelled and the server has shut down, or until it fails.
func (s *Server) Start(ctx context.Context) error {
	ln, err := s.listen(resolveBindAddr(s.cfg.Gateway))
	if err != nil {
		return err
	}

	s.httpServer = &http.Server{
		Handler:      s.Handler(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
		BaseContext:  func(net.Listener) context.Context { return ctx },
	}

	s.mu.Lock()
	s.addr = ln.Addr().String()
	s.startedAt = time.Now()
	s.mu.Unlock()

	s.log.Info().
		Str("addr", ln.Addr().String()).
		Str("bind", s.cfg.Gateway.Bind).
		Str("auth", s.auth.Mode).
		Int("methods", len(s.handlers)).
		Msg("gateway server ready")

	if s.hooks != nil {
		s.hooks.Emit(ctx, hooks.EventGatewayStart, map[string]any{
			"addr": ln.Addr().String(),
		})
	}

	stopped := make(chan struct{})
	go func() {
		defer close(stopped)
		<-ctx.Done()
		s.log.Info().Msg("shutting down gateway server")
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
		defer cancel()
		s.clients.CloseAll()
		if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
			s.log.Warn().Err(err).Msg("gateway shutdown")
		}
	}()

	err = s.httpServer.Serve(ln)
	if errors.Is(err, http.ErrServerClosed) {
		<-stopped
		err = nil
	}
	s.chats.Wait()
	if s.hooks != nil {
		s.hooks.Emit(context.WithoutCancel(ctx), hooks.EventGatewayStop, nil)
	}
	return err
}

// Addr returns the address the server listens on, or "" before Start.
func (s *Server) Addr() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.addr
}

func (s *Server) uptime() time.Duration {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.startedAt.IsZero() {
		return 0
	}
	return time.Since(s.startedAt)
}

// handleWebSocket upgrades HTTP to WebSocket and serves the connection
// until either side closes it.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	if !s.authLimiter.allow(r.RemoteAddr) {
		s.log.Warn().Str("remote", r.RemoteAddr).Msg("rate limited after failed auth attempts")
		http.Error(w, "too many requests", http.StatusTooManyRequests)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Error().Err(err).Msg("websocket upgrade failed")
		return
	}
	conn.SetReadLimit(maxPayloadBytes)

	client, err := s.handshake(r.Context(), conn)
	if err != nil {
		var rej *handshakeError
		if errors.As(err, &rej) {
			rej.send(conn)
		}
		s.log.Warn().Err(err).Str("remote", r.RemoteAddr).Msg("handshake failed")
		s.authLimiter.recordFailure(r.RemoteAddr)
		conn.Close()
		return
	}

	s.clients.Add(client)
	defer func() {
		s.clients.Remove(client.ConnID)
		client.Close()
	}()

	go s.keepalive(client)
	s.readLoop(client)
}

// handshakeError rejects a connect request. The client receives code and
// msg in an error response before the connection closes.
type handshakeError struct {
	reqID string
	code  string
	msg   string
}

func (e *handshakeError) Error() string { return e.code + ": " + e.msg }

func (e *handshakeError) send(conn *websocket.Conn) {
	deadline := time.Now().Add(writeWait)
	conn.SetWriteDeadline(deadline)
	conn.WriteJSON(NewErrorResponse(e.reqID, ErrorShape{Code: e.code, Message: e.msg}))
	conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.ClosePolicyViolation, e.msg), deadline)
}

// handshake authenticates a new connection: the server sends a challenge,
// the client answers with connect, the server replies hello-ok.
func (s *Server) handshake(ctx context.Context, conn *websocket.Conn) (*Client, error) {
	conn.SetReadDeadline(time.Now().Add(handshakeTimeout))
	conn.SetWriteDeadline(time.Now().Add(handshakeTimeout))

	challenge, err := NewEvent(EventConnectChallenge, map[string]any{
		"nonce": uuid.NewString(),
		"ts":    time.Now().UnixMilli(),
	}, 0)
	if err != nil {
		return nil, err
	}
	if err := conn.WriteJSON(challenge); err != nil {
		return nil, fmt.Errorf("sending challenge: %w", err)
	}

	var frame Frame
	if err := conn.ReadJSON(&frame); err != nil {
		return nil, fmt.Errorf("reading connect: %w", err)
	}
	params, authResult, err := s.checkConnect(frame)
	if err != nil {
		return nil, err
	}

	client := NewClient(ctx, conn, params.Client, authResult)
	resp, err := NewResponse(frame.ID, s.hello(client.ConnID))
	if err != nil {
		return nil, err
	}
	if err := conn.WriteJSON(resp); err != nil {
		return nil, fmt.Errorf("sending hello: %w", err)
	}
	conn.SetReadDeadline(time.Time{})
	conn.SetWriteDeadline(time.Time{})

	s.log.Info().
		Str("connId", client.ConnID).
		Str("clientId", params.Client.ID).
		Str("clientVersion", params.Client.Version).
		Str("authMethod", authResult.Method).
		Msg("client authenticated")
	return client, nil
}

// checkConnect validates the connect request that opens every session.
func (s *Server) checkConnect(frame Frame) (ConnectParams, AuthResult, error) {
	var params ConnectParams
	reject := func(code, msg string) (ConnectParams, AuthResult, error) {
		return params, AuthResult{}, &handshakeError{reqID: frame.ID, code: code, msg: msg}
	}

	if frame.Type != FrameTypeRequest || frame.Method != "connect" {
		return reject(CodeProtocolError, "expected connect request")
	}
	if err := json.Unmarshal(frame.Params, &params); err != nil {
		return reject(CodeInvalidParams, "invalid connect params")
	}
	if params.MinProtocol > ProtocolVersion || (params.MaxProtocol != 0 && params.MaxProtocol < ProtocolVersion) {
		return reject(CodeProtocolError, fmt.Sprintf("protocol %d not supported", ProtocolVersion))
	}
	res := Authorize(s.auth, params.Auth)
	if !res.OK {
		return reject(CodeUnauthorized, res.Reason)
	}
	return params, res, nil
}

func (s *Server) hello(connID string) HelloOK {
	return HelloOK{
		Protocol: ProtocolVersion,
		Server: ServerInfo{
			Version: s.version,
			Commit:  version.Commit,
			ConnID:  connID,
		},
		Features: Features{
			Methods: s.Methods(),
			Events:  []string{EventConnectChallenge, EventChat, EventConfigChanged},
		},
		Policy: ServerPolicy{
			MaxPayload:     maxPayloadBytes,
			ChatTimeoutMs:  int(s.chatTimeout.Milliseconds()),
			TickIntervalMs: int(tickInterval.Milliseconds()),
		},
	}
}

// keepalive pings the client every tick until it disconnects. A client
// that misses two ticks of pongs times out in readLoop.
func (s *Server) keepalive(client *Client) {
	t := time.NewTicker(tickInterval)
	defer t.Stop()
	for {
		select {
		case <-client.Context().Done():
			return
		case <-t.C:
			if err := client.Ping(); err != nil {
				s.log.Debug().Err(err).Str("connId", client.ConnID).Msg("ping failed")
				return
			}
		}
	}
}

// readLoop dispatches request frames until the connection fails. Handlers
// run on the loop; long-running ones hand off to their own goroutine.
func (s *Server) readLoop(client *Client) {
	for {
		frame, err := client.ReadFrame(2 * tickInterval)
		switch {
		case errors.Is(err, errMalformedFrame):
			s.log.Debug().Err(err).Str("connId", client.ConnID).Msg("dropping malformed frame")
			continue
		case websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway):
			s.log.Debug().Str("connId", client.ConnID).Msg("client closed connection")
			return
		case err != nil:
			if client.Context().Err() == nil {
				s.log.Warn().Err(err).Str("connId", client.ConnID).Msg("read error")
			}
			return
		}

		if frame.Type != FrameTypeRequest {
			s.log.Debug().Str("type", frame.Type).Msg("ignoring non-request frame")
			continue
		}
		s.dispatch(client, frame)
	}
}

func (s *Server) dispatch(client *Client, frame Frame) {
	rc := &RequestContext{Client: client, Frame: frame, Server: s}
	handler, ok := s.handlers[frame.Method]
	if !ok {
		rc.RespondError(CodeMethodNotFound, "unknown method: "+frame.Method)
		return
	}
	handler(rc)
}
