package realtime

import (
	"context"
	"errors"
	"time"

	"github.com/gorilla/websocket"
)

// Errors
var (
	ErrNotConnected    = errors.New("not connected")
	ErrInvalidEndpoint = errors.New("invalid endpoint")
)

// Close codes reported in CloseEvent.
const (
	CloseNormal      = websocket.CloseNormalClosure   // 1000, suppresses reconnection
	CloseAbnormal    = websocket.CloseAbnormalClosure // 1006, dial or network failure
	ClosePongTimeout = 4000                           // heartbeat watchdog fired
)

// State is the connection state of a Client.
type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	default:
		return "unknown"
	}
}

// CloseEvent describes how a connection ended.
type CloseEvent struct {
	Code   int
	Reason string
}

// Normal reports whether the closure was intentional (code 1000).
func (e CloseEvent) Normal() bool {
	return e.Code == CloseNormal
}

// TokenSource supplies a fresh auth token before each reconnect attempt.
type TokenSource interface {
	AccessToken(ctx context.Context) (string, error)
}

// ClientConfig configures a realtime Client.
type ClientConfig struct {
	HeartbeatInterval    time.Duration // Interval between {"type":"ping"} messages
	PongTimeout          time.Duration // Max time without pong before forcing a reconnect (0 = disabled)
	ReconnectBaseDelay   time.Duration // Delay before the first reconnect attempt
	MaxReconnectAttempts int           // Attempts before giving up
	HandshakeTimeout     time.Duration // WebSocket handshake timeout
	WriteTimeout         time.Duration // Write deadline for sends
	TokenParam           string        // Query parameter carrying the auth token
}

// DefaultClientConfig returns sensible defaults.
func DefaultClientConfig() ClientConfig {
	return ClientConfig{
		HeartbeatInterval:    30 * time.Second,
		ReconnectBaseDelay:   3 * time.Second,
		MaxReconnectAttempts: 5,
		HandshakeTimeout:     10 * time.Second,
		WriteTimeout:         5 * time.Second,
		TokenParam:           "token",
	}
}

// Stats provides counters about a Client.
type Stats struct {
	State               State
	MessagesReceived    int64
	MessagesDispatched  int64
	MessagesSent        int64
	ParseErrors         int64
	HandlerPanics       int64
	ReconnectsScheduled int64
	ReconnectAttempt    int
	ReconnectPending    bool // backoff timer armed
	GaveUp              bool // attempt cap reached; cleared by Connect or Disconnect
	Topics              int
}
