package realtime

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// tokenFetchTimeout bounds a TokenSource call before a reconnect attempt.
const tokenFetchTimeout = 10 * time.Second

// Client is a realtime connection to the notification server.
type Client interface {
	// Connect opens a connection in the background. No-op if a connection
	// is already open or opening.
	Connect(endpoint, token string)

	// Disconnect closes the connection and cancels any pending reconnect.
	Disconnect()

	// Send transmits a string, []byte or JSON-encodable value.
	// Returns false if not connected or the write failed.
	Send(msg any) bool

	// Subscribe registers h for topic and asks the server for topic delivery.
	Subscribe(topic string, h *Handler)

	// Unsubscribe removes h (or every handler when h is nil) from topic.
	Unsubscribe(topic string, h *Handler)

	// On registers h for a message type.
	On(msgType string, h *Handler)

	// Off removes h (or every handler when h is nil) for a message type.
	Off(msgType string, h *Handler)

	// Lifecycle callbacks, invoked in registration order.
	OnConnect(fn func())
	OnDisconnect(fn func(CloseEvent))
	OnError(fn func(error))
	OnGiveUp(fn func(attempts int))

	// State returns the current connection state.
	State() State

	// IsConnected returns true while the connection is open.
	IsConnected() bool

	// ClientID returns the identity assigned by the server, if any.
	ClientID() string

	// Topics returns the topics with at least one handler, sorted.
	Topics() []string

	// Stats returns current counters.
	Stats() Stats
}

// Option configures a Client.
type Option func(*client)

// WithTokenSource refreshes the auth token before each reconnect attempt.
func WithTokenSource(ts TokenSource) Option {
	return func(c *client) {
		c.tokenSource = ts
	}
}

// WithDialer sets a custom WebSocket dialer.
func WithDialer(d *websocket.Dialer) Option {
	return func(c *client) {
		c.dialer = d
	}
}

// client implements the Client interface.
type client struct {
	cfg         ClientConfig
	logger      *slog.Logger
	dialer      *websocket.Dialer
	tokenSource TokenSource
	afterFunc   timerFunc

	// Write serialization
	writeMu sync.Mutex

	// State
	mu             sync.Mutex
	state          State
	conn           *websocket.Conn
	gen            uint64 // bumped per socket; stale events compare against it
	endpoint       string
	token          string
	clientID       string
	attempts       int
	gaveUp         bool
	reconnectTimer stopper
	heartbeatStop  chan struct{}
	lastPong       time.Time

	types  *registry
	topics *registry

	onConnect    []func()
	onDisconnect []func(CloseEvent)
	onError      []func(error)
	onGiveUp     []func(int)

	// Stats
	received    atomic.Int64
	dispatched  atomic.Int64
	sent        atomic.Int64
	parseErrors atomic.Int64
	panics      atomic.Int64
	scheduled   atomic.Int64
}

// NewClient creates a new realtime client.
func NewClient(cfg ClientConfig, logger *slog.Logger, opts ...Option) Client {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.TokenParam == "" {
		cfg.TokenParam = "token"
	}

	c := &client{
		cfg:    cfg,
		logger: logger,
		dialer: &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: cfg.HandshakeTimeout,
		},
		afterFunc: realAfterFunc,
		types:     newRegistry(),
		topics:    newRegistry(),
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

// Connect opens a connection in the background.
func (c *client) Connect(endpoint, token string) {
	c.mu.Lock()
	if c.state != StateDisconnected {
		state := c.state
		c.mu.Unlock()
		c.logger.Info("websocket already connected", "state", state)
		return
	}
	c.endpoint = endpoint
	c.token = token
	c.gaveUp = false
	c.stopReconnectLocked()
	gen := c.gen
	c.mu.Unlock()

	c.open(gen, token)
}

// Disconnect closes the connection and resets the reconnect state.
func (c *client) Disconnect() {
	c.mu.Lock()
	c.stopReconnectLocked()
	c.stopHeartbeatLocked()

	conn := c.conn
	wasConnected := c.state == StateConnected

	c.conn = nil
	c.gen++
	c.state = StateDisconnected
	c.attempts = 0
	c.gaveUp = false
	c.clientID = ""

	var callbacks []func(CloseEvent)
	if wasConnected {
		callbacks = append(callbacks, c.onDisconnect...)
	}
	c.mu.Unlock()

	c.logger.Info("disconnecting websocket")

	if conn != nil {
		conn.WriteControl(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second),
		)
		conn.Close()
	}

	ev := CloseEvent{Code: CloseNormal, Reason: "client disconnect"}
	for _, fn := range callbacks {
		c.safely("disconnect", func() { fn(ev) })
	}
}

// Send transmits a message if connected.
func (c *client) Send(msg any) bool {
	c.mu.Lock()
	conn := c.conn
	connected := c.state == StateConnected
	c.mu.Unlock()

	if !connected || conn == nil {
		c.logger.Warn("websocket not connected, message not sent", "error", ErrNotConnected)
		return false
	}

	data, err := encode(msg)
	if err != nil {
		c.logger.Error("failed to encode message", "error", err)
		return false
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if c.cfg.WriteTimeout > 0 {
		conn.SetWriteDeadline(time.Now().Add(c.cfg.WriteTimeout))
	}
	if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
		c.logger.Error("failed to send message", "error", err)
		return false
	}

	c.sent.Add(1)
	return true
}

// Subscribe registers h for topic and sends a subscribe request.
func (c *client) Subscribe(topic string, h *Handler) {
	c.mu.Lock()
	c.topics.add(topic, h)
	c.mu.Unlock()

	c.Send(controlMessage{Type: TypeSubscribe, Topic: topic})
	c.logger.Debug("subscribed to topic", "topic", topic)
}

// Unsubscribe removes handlers for topic and sends an unsubscribe request.
func (c *client) Unsubscribe(topic string, h *Handler) {
	c.mu.Lock()
	c.topics.remove(topic, h)
	c.mu.Unlock()

	c.Send(controlMessage{Type: TypeUnsubscribe, Topic: topic})
	c.logger.Debug("unsubscribed from topic", "topic", topic)
}

// On registers h for a message type.
func (c *client) On(msgType string, h *Handler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.types.add(msgType, h)
}

// Off removes handlers for a message type.
func (c *client) Off(msgType string, h *Handler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.types.remove(msgType, h)
}

func (c *client) OnConnect(fn func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onConnect = append(c.onConnect, fn)
}

func (c *client) OnDisconnect(fn func(CloseEvent)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onDisconnect = append(c.onDisconnect, fn)
}

func (c *client) OnError(fn func(error)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onError = append(c.onError, fn)
}

func (c *client) OnGiveUp(fn func(attempts int)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onGiveUp = append(c.onGiveUp, fn)
}

// State returns the current connection state.
func (c *client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// IsConnected returns the current connection state.
func (c *client) IsConnected() bool {
	return c.State() == StateConnected
}

// ClientID returns the server-assigned identity.
func (c *client) ClientID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.clientID
}

// Topics returns subscribed topics.
func (c *client) Topics() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.topics.keys()
}

// Stats returns current counters.
func (c *client) Stats() Stats {
	c.mu.Lock()
	state := c.state
	attempt := c.attempts
	pending := c.reconnectTimer != nil
	gaveUp := c.gaveUp
	topics := len(c.topics.sets)
	c.mu.Unlock()

	return Stats{
		State:               state,
		MessagesReceived:    c.received.Load(),
		MessagesDispatched:  c.dispatched.Load(),
		MessagesSent:        c.sent.Load(),
		ParseErrors:         c.parseErrors.Load(),
		HandlerPanics:       c.panics.Load(),
		ReconnectsScheduled: c.scheduled.Load(),
		ReconnectAttempt:    attempt,
		ReconnectPending:    pending,
		GaveUp:              gaveUp,
		Topics:              topics,
	}
}

// open starts a dial for generation gen. Stale generations are ignored.
func (c *client) open(gen uint64, token string) {
	c.mu.Lock()
	if gen != c.gen || c.state != StateDisconnected {
		c.mu.Unlock()
		return
	}

	target, err := buildURL(c.endpoint, c.cfg.TokenParam, token)
	if err != nil {
		endpoint := c.endpoint
		c.mu.Unlock()
		c.logger.Error("websocket connect failed", "endpoint", endpoint, "error", err)
		c.scheduleReconnect(gen)
		return
	}

	c.gen++
	gen = c.gen
	c.state = StateConnecting
	endpoint := c.endpoint
	c.mu.Unlock()

	logger := c.logger.With("session", uuid.NewString())
	logger.Info("connecting websocket", "endpoint", endpoint)

	go c.dial(gen, target, logger)
}

// dial opens the socket and runs its read loop.
func (c *client) dial(gen uint64, target string, logger *slog.Logger) {
	conn, _, err := c.dialer.Dial(target, nil)
	if err != nil {
		logger.Warn("websocket dial failed", "error", err)
		c.handleError(gen, err)
		c.handleClose(gen, CloseEvent{Code: CloseAbnormal, Reason: err.Error()})
		return
	}

	if !c.handleOpen(gen, conn, logger) {
		conn.Close()
		return
	}

	c.readLoop(gen, conn, logger)
}

// handleOpen marks the connection live. Returns false if gen is stale.
func (c *client) handleOpen(gen uint64, conn *websocket.Conn, logger *slog.Logger) bool {
	c.mu.Lock()
	if gen != c.gen {
		c.mu.Unlock()
		return false
	}

	c.conn = conn
	c.state = StateConnected
	c.attempts = 0
	c.lastPong = time.Now()

	stop := make(chan struct{})
	c.heartbeatStop = stop

	topics := c.topics.keys()
	callbacks := append([]func(){}, c.onConnect...)
	c.mu.Unlock()

	go c.heartbeatLoop(gen, stop, logger)

	logger.Info("websocket connected", "resubscribe", len(topics))

	for _, topic := range topics {
		c.Send(controlMessage{Type: TypeSubscribe, Topic: topic})
	}

	for _, fn := range callbacks {
		c.safely("connect", fn)
	}

	return true
}

// readLoop reads frames until the socket fails or closes.
func (c *client) readLoop(gen uint64, conn *websocket.Conn, logger *slog.Logger) {
	for {
		_, data, err := conn.ReadMessage()
		receivedAt := time.Now()

		if err != nil {
			var closeErr *websocket.CloseError
			if errors.As(err, &closeErr) {
				c.handleClose(gen, CloseEvent{Code: closeErr.Code, Reason: closeErr.Text})
				return
			}
			logger.Debug("websocket read failed", "error", err)
			c.handleError(gen, err)
			c.handleClose(gen, CloseEvent{Code: CloseAbnormal, Reason: err.Error()})
			return
		}

		if !c.current(gen) {
			return
		}

		c.handleMessage(data, receivedAt)
	}
}

// handleMessage decodes a frame and dispatches it.
func (c *client) handleMessage(data []byte, receivedAt time.Time) {
	c.received.Add(1)

	in, err := decode(data, receivedAt)
	if err != nil {
		c.parseErrors.Add(1)
		c.logger.Warn("failed to parse message", "error", err, "size", len(data))
		return
	}

	switch m := in.(type) {
	case welcomeMessage:
		c.mu.Lock()
		c.clientID = m.ClientID
		c.mu.Unlock()
		c.logger.Info("client id assigned", "client_id", m.ClientID)

	case pongMessage:
		c.mu.Lock()
		c.lastPong = m.ReceivedAt
		c.mu.Unlock()

	case Message:
		c.dispatch(m)
	}
}

// dispatch runs type handlers, then topic handlers.
func (c *client) dispatch(m Message) {
	c.mu.Lock()
	var typeHandlers []*Handler
	if m.Type != "" {
		typeHandlers = c.types.handlers(m.Type)
	}
	var topicHandlers []*Handler
	if m.Topic != "" {
		topicHandlers = c.topics.handlers(m.Topic)
	}
	c.mu.Unlock()

	if len(typeHandlers) == 0 && len(topicHandlers) == 0 {
		c.logger.Debug("no handler for message", "type", m.Type, "topic", m.Topic)
		return
	}

	c.dispatched.Add(1)

	for _, h := range typeHandlers {
		c.safely("type:"+m.Type, func() { h.fn(m) })
	}
	for _, h := range topicHandlers {
		c.safely("topic:"+m.Topic, func() { h.fn(m) })
	}
}

// handleClose tears down the socket for gen and applies the reconnect policy.
func (c *client) handleClose(gen uint64, ev CloseEvent) {
	c.mu.Lock()
	if gen != c.gen {
		c.mu.Unlock()
		return
	}

	conn := c.conn
	c.conn = nil
	c.gen++
	next := c.gen
	c.state = StateDisconnected
	c.clientID = ""
	c.stopHeartbeatLocked()
	callbacks := append([]func(CloseEvent){}, c.onDisconnect...)
	c.mu.Unlock()

	if conn != nil {
		conn.Close()
	}

	c.logger.Info("websocket closed", "code", ev.Code, "reason", ev.Reason)

	for _, fn := range callbacks {
		c.safely("disconnect", func() { fn(ev) })
	}

	if !ev.Normal() {
		c.scheduleReconnect(next)
	}
}

// handleError runs the error callbacks. It does not change state.
func (c *client) handleError(gen uint64, err error) {
	c.mu.Lock()
	if gen != c.gen {
		c.mu.Unlock()
		return
	}
	callbacks := append([]func(error){}, c.onError...)
	c.mu.Unlock()

	c.logger.Warn("websocket error", "error", err)

	for _, fn := range callbacks {
		c.safely("error", func() { fn(err) })
	}
}

// scheduleReconnect arms the backoff timer for gen, or gives up at the
// attempt cap. A Disconnect or Connect since gen was observed wins.
func (c *client) scheduleReconnect(gen uint64) {
	c.mu.Lock()
	if gen != c.gen || c.state != StateDisconnected {
		c.mu.Unlock()
		return
	}
	if c.attempts >= c.cfg.MaxReconnectAttempts {
		attempts := c.attempts
		c.gaveUp = true
		callbacks := append([]func(int){}, c.onGiveUp...)
		c.mu.Unlock()

		c.logger.Error("max reconnect attempts reached, giving up", "attempts", attempts)
		for _, fn := range callbacks {
			c.safely("give up", func() { fn(attempts) })
		}
		return
	}

	c.attempts++
	attempt := c.attempts
	delay := reconnectDelay(c.cfg.ReconnectBaseDelay, attempt)

	c.stopReconnectLocked()
	c.reconnectTimer = c.afterFunc(delay, func() { c.reconnect(gen) })
	c.mu.Unlock()

	c.scheduled.Add(1)
	c.logger.Info("scheduling reconnect",
		"attempt", attempt,
		"max_attempts", c.cfg.MaxReconnectAttempts,
		"delay", delay,
	)
}

// reconnect is the backoff timer callback.
func (c *client) reconnect(gen uint64) {
	c.mu.Lock()
	if gen != c.gen || c.state != StateDisconnected {
		c.mu.Unlock()
		return
	}
	c.reconnectTimer = nil
	token := c.token
	attempt := c.attempts
	c.mu.Unlock()

	if c.tokenSource != nil {
		ctx, cancel := context.WithTimeout(context.Background(), tokenFetchTimeout)
		fresh, err := c.tokenSource.AccessToken(ctx)
		cancel()
		if err != nil {
			c.logger.Warn("token refresh failed, reusing previous token", "error", err)
		} else if fresh != "" {
			token = fresh
		}
	}

	c.logger.Info("attempting reconnection", "attempt", attempt)
	c.open(gen, token)
}

// heartbeatLoop pings the server and enforces the pong timeout.
func (c *client) heartbeatLoop(gen uint64, stop <-chan struct{}, logger *slog.Logger) {
	if c.cfg.HeartbeatInterval <= 0 {
		return
	}

	ticker := time.NewTicker(c.cfg.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case now := <-ticker.C:
			if c.cfg.PongTimeout > 0 {
				c.mu.Lock()
				lastPong := c.lastPong
				c.mu.Unlock()

				if now.Sub(lastPong) > c.cfg.PongTimeout {
					logger.Warn("no pong received, connection stale",
						"last_pong", lastPong,
						"timeout", c.cfg.PongTimeout,
					)
					c.handleClose(gen, CloseEvent{Code: ClosePongTimeout, Reason: "pong timeout"})
					return
				}
			}

			c.Send(controlMessage{Type: TypePing})
		}
	}
}

// current reports whether gen is the live generation.
func (c *client) current(gen uint64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return gen == c.gen
}

// stopHeartbeatLocked stops the heartbeat goroutine. Must hold c.mu.
func (c *client) stopHeartbeatLocked() {
	if c.heartbeatStop != nil {
		close(c.heartbeatStop)
		c.heartbeatStop = nil
	}
}

// stopReconnectLocked cancels a pending reconnect. Must hold c.mu.
func (c *client) stopReconnectLocked() {
	if c.reconnectTimer != nil {
		c.reconnectTimer.Stop()
		c.reconnectTimer = nil
	}
}

// safely runs a user callback, recovering and logging panics.
func (c *client) safely(name string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			c.panics.Add(1)
			c.logger.Error("handler panicked", "handler", name, "panic", r)
		}
	}()
	fn()
}

// buildURL validates endpoint and appends the token query parameter.
func buildURL(endpoint, param, token string) (string, error) {
	u, err := url.Parse(endpoint)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidEndpoint, err)
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return "", fmt.Errorf("%w: unsupported scheme %q", ErrInvalidEndpoint, u.Scheme)
	}
	if u.Host == "" {
		return "", fmt.Errorf("%w: missing host", ErrInvalidEndpoint)
	}

	if token != "" {
		q := u.Query()
		q.Set(param, token)
		u.RawQuery = q.Encode()
	}

	return u.String(), nil
}
