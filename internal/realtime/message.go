package realtime

import (
	"encoding/json"
	"errors"
	"time"
)

var errNullFrame = errors.New("null frame")

// Message types exchanged with the notification server.
const (
	TypeConnection     = "connection"
	TypePing           = "ping"
	TypePong           = "pong"
	TypeSubscribe      = "subscribe"
	TypeUnsubscribe    = "unsubscribe"
	TypeSubscribed     = "subscribed"
	TypeUnsubscribed   = "unsubscribed"
	TypeNotification   = "notification"
	TypeWalletUpdate   = "wallet_update"
	TypeImportProgress = "import_progress"
	TypeSystemStatus   = "system_status"
	TypeAdminBroadcast = "admin_broadcast"
	TypeStats          = "stats"
	TypeError          = "error"
)

// Topics published by the notification server.
const (
	TopicWalletUpdates = "wallet_updates"
	TopicSystemStatus  = "system_status"
	TopicNotifications = "notifications"
)

// ImportTopic returns the progress topic for an import task.
func ImportTopic(taskID string) string {
	return "import:" + taskID
}

// Message is an inbound message delivered to handlers.
type Message struct {
	Type       string
	Topic      string
	Data       json.RawMessage // Full frame as received
	ReceivedAt time.Time
}

// Decode unmarshals the full frame into v.
func (m Message) Decode(v any) error {
	return json.Unmarshal(m.Data, v)
}

// inbound is the set of decoded frame variants.
type inbound interface {
	isInbound()
}

// welcomeMessage is sent once by the server after the socket opens.
type welcomeMessage struct {
	ClientID string
}

// pongMessage acknowledges a heartbeat ping.
type pongMessage struct {
	ReceivedAt time.Time
}

func (welcomeMessage) isInbound() {}
func (pongMessage) isInbound()    {}
func (Message) isInbound()        {}

// envelope is used for fast type extraction.
type envelope struct {
	Type     string `json:"type"`
	Topic    string `json:"topic"`
	ClientID string `json:"client_id"`
}

// decode parses a text frame into its variant.
func decode(data []byte, receivedAt time.Time) (inbound, error) {
	var env *envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, err
	}
	if env == nil {
		return nil, errNullFrame
	}

	switch env.Type {
	case TypeConnection:
		if env.ClientID != "" {
			return welcomeMessage{ClientID: env.ClientID}, nil
		}
	case TypePong:
		return pongMessage{ReceivedAt: receivedAt}, nil
	}

	return Message{
		Type:       env.Type,
		Topic:      env.Topic,
		Data:       json.RawMessage(data),
		ReceivedAt: receivedAt,
	}, nil
}

// controlMessage is an outbound subscribe/unsubscribe/ping frame.
type controlMessage struct {
	Type  string `json:"type"`
	Topic string `json:"topic,omitempty"`
}

// encode converts an outbound message to a text frame.
func encode(msg any) ([]byte, error) {
	switch v := msg.(type) {
	case string:
		return []byte(v), nil
	case []byte:
		return v, nil
	case json.RawMessage:
		return v, nil
	default:
		return json.Marshal(v)
	}
}

// Payloads pushed by the notification server. Use Message.Decode.

// SubscriptionAck is the payload of "subscribed" and "unsubscribed" messages.
type SubscriptionAck struct {
	Type    string `json:"type"`
	Topic   string `json:"topic"`
	Success bool   `json:"success"`
}

// Notification is the payload of a "notification" message.
type Notification struct {
	Data      map[string]any `json:"data"`
	Timestamp string         `json:"timestamp"`
}

// WalletUpdate is the payload of a "wallet_update" message.
type WalletUpdate struct {
	WalletAddress string          `json:"wallet_address"`
	Data          json.RawMessage `json:"data"`
	Timestamp     string          `json:"timestamp"`
}

// ImportProgress is the payload of an "import_progress" message.
type ImportProgress struct {
	TaskID    string          `json:"task_id"`
	Data      json.RawMessage `json:"data"`
	Timestamp string          `json:"timestamp"`
}

// SystemStatus is the payload of a "system_status" message.
type SystemStatus struct {
	Data      json.RawMessage `json:"data"`
	Timestamp string          `json:"timestamp"`
}

// AdminBroadcast is the payload of an "admin_broadcast" message.
type AdminBroadcast struct {
	Data   json.RawMessage `json:"data"`
	Sender string          `json:"sender"`
}

// ServerError is the payload of an "error" message.
type ServerError struct {
	Message string `json:"message"`
}
