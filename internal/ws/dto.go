package ws

import (
	"encoding/json"

	"github.com/vera-byte/vconnect/internal/registry"
)

// ImMessage is the client-facing envelope on the WebSocket. Data is decoded
// per message type; unknown types are ignored.
type ImMessage struct {
	Type      string          `json:"type"`
	Data      json.RawMessage `json:"data,omitempty"`
	TargetUID string          `json:"target_uid,omitempty"`
}

type WelcomeData struct {
	ClientID           string `json:"client_id"`
	NodeID             string `json:"node_id"`
	ServerTime         int64  `json:"server_time"`
	HeartbeatTimeoutMS int    `json:"heartbeat_timeout_ms"`
}

type PingData struct {
	Timestamp int64 `json:"timestamp"`
}

type PongData struct {
	Timestamp int64  `json:"timestamp"`
	ClientID  string `json:"client_id"`
}

type AuthData struct {
	UID   string `json:"uid"`
	Token string `json:"token"`
}

type AuthResponseData struct {
	Status       string `json:"status"`
	UID          string `json:"uid,omitempty"`
	Message      string `json:"message,omitempty"`
	OfflineCount int    `json:"offline_count,omitempty"`
}

type SendData struct {
	ToUID   string `json:"to_uid,omitempty"`
	RoomID  string `json:"room_id,omitempty"`
	Content string `json:"content"`
	MsgType string `json:"msg_type,omitempty"`
}

// MessageData is a delivered chat message, both live and from the offline
// backlog.
type MessageData struct {
	MessageID string `json:"message_id"`
	FromUID   string `json:"from_uid"`
	ToUID     string `json:"to_uid,omitempty"`
	RoomID    string `json:"room_id,omitempty"`
	Content   string `json:"content"`
	Timestamp int64  `json:"timestamp"`
	MsgType   string `json:"msg_type"`
	Offline   bool   `json:"offline,omitempty"`
}

type RoomData struct {
	RoomID string `json:"room_id"`
}

type RoomResponseData struct {
	Status string `json:"status"`
	RoomID string `json:"room_id"`
	Action string `json:"action"`
}

type OnlineClientsResponseData struct {
	Count   int                         `json:"count"`
	Clients []registry.OnlineClientInfo `json:"clients"`
}

type ErrorData struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// envelope marshals a typed payload into the client envelope. Marshal
// failures cannot happen for the types above, so the frame is returned
// directly.
func envelope(msgType string, data any) []byte {
	raw, err := json.Marshal(data)
	if err != nil {
		raw = []byte("{}")
	}
	out, _ := json.Marshal(&ImMessage{Type: msgType, Data: raw})
	return out
}
