// Package protocol defines the wire messages exchanged between the host and
// plugin processes: the handshake, the event envelope and the typed
// request/response pairs for storage and auth operations. It is pure data
// plus (de)serialization and does no I/O of its own.
package protocol

type (
	// HandshakeRequest is the first message a plugin sends after connecting.
	HandshakeRequest struct {
		Name         string   `msgpack:"name" json:"name"`
		Version      string   `msgpack:"version" json:"version"`
		Capabilities []string `msgpack:"capabilities" json:"capabilities"`
		Priority     int32    `msgpack:"priority" json:"priority"`
		Protocol     string   `msgpack:"protocol" json:"protocol"`
	}

	// HandshakeResponse is the host's reply. Config carries an opaque
	// configuration blob the plugin applies before going Ready.
	HandshakeResponse struct {
		Status   string `msgpack:"status" json:"status"`
		Message  string `msgpack:"message" json:"message"`
		Config   string `msgpack:"config" json:"config"`
		Protocol string `msgpack:"protocol" json:"protocol"`
	}

	HealthCheckRequest struct {
		Timestamp int64 `msgpack:"timestamp" json:"timestamp"`
	}

	HealthCheckResponse struct {
		Status    string `msgpack:"status" json:"status"`
		Timestamp int64  `msgpack:"timestamp" json:"timestamp"`
	}

	// EventMessage is the uniform envelope for host->plugin requests.
	EventMessage struct {
		EventType     string `msgpack:"event_type" json:"event_type"`
		Payload       []byte `msgpack:"payload" json:"payload"`
		Timestamp     int64  `msgpack:"timestamp" json:"timestamp"`
		TraceID       string `msgpack:"trace_id,omitempty" json:"trace_id,omitempty"`
		CorrelationID string `msgpack:"correlation_id" json:"correlation_id"`
	}

	// EventResponse is the envelope for plugin->host replies. CorrelationID
	// echoes the request so concurrent calls on one connection never
	// cross-talk.
	EventResponse struct {
		CorrelationID string `msgpack:"correlation_id" json:"correlation_id"`
		Status        string `msgpack:"status" json:"status"`
		Message       string `msgpack:"message,omitempty" json:"message,omitempty"`
		Data          []byte `msgpack:"data,omitempty" json:"data,omitempty"`
		Flow          string `msgpack:"flow,omitempty" json:"flow,omitempty"`
	}
)

// Storage plugin request/response pairs.
type (
	SaveMessageRequest struct {
		MessageID string `msgpack:"message_id" json:"message_id"`
		FromUID   string `msgpack:"from_uid" json:"from_uid"`
		ToUID     string `msgpack:"to_uid" json:"to_uid"`
		RoomID    string `msgpack:"room_id,omitempty" json:"room_id,omitempty"`
		Content   string `msgpack:"content" json:"content"`
		Timestamp int64  `msgpack:"timestamp" json:"timestamp"`
		MsgType   string `msgpack:"msg_type" json:"msg_type"`
	}

	SaveMessageResponse struct {
		Status  string `msgpack:"status" json:"status"`
		Message string `msgpack:"message,omitempty" json:"message,omitempty"`
	}

	SaveOfflineMessageRequest struct {
		MessageID string `msgpack:"message_id" json:"message_id"`
		FromUID   string `msgpack:"from_uid,omitempty" json:"from_uid,omitempty"`
		ToUID     string `msgpack:"to_uid" json:"to_uid"`
		RoomID    string `msgpack:"room_id,omitempty" json:"room_id,omitempty"`
		Content   string `msgpack:"content" json:"content"`
		Timestamp int64  `msgpack:"timestamp" json:"timestamp"`
		MsgType   string `msgpack:"msg_type" json:"msg_type"`
	}

	SaveOfflineMessageResponse struct {
		Status string `msgpack:"status" json:"status"`
	}

	OfflineMessage struct {
		MessageID string `msgpack:"message_id" json:"message_id"`
		FromUID   string `msgpack:"from_uid,omitempty" json:"from_uid,omitempty"`
		ToUID     string `msgpack:"to_uid" json:"to_uid"`
		RoomID    string `msgpack:"room_id,omitempty" json:"room_id,omitempty"`
		Content   string `msgpack:"content" json:"content"`
		Timestamp int64  `msgpack:"timestamp" json:"timestamp"`
		MsgType   string `msgpack:"msg_type" json:"msg_type"`
	}

	PullOfflineMessagesRequest struct {
		ToUID  string `msgpack:"to_uid" json:"to_uid"`
		Cursor string `msgpack:"cursor,omitempty" json:"cursor,omitempty"`
		Limit  int32  `msgpack:"limit" json:"limit"`
	}

	PullOfflineMessagesResponse struct {
		Status     string           `msgpack:"status" json:"status"`
		Messages   []OfflineMessage `msgpack:"messages" json:"messages"`
		NextCursor string           `msgpack:"next_cursor,omitempty" json:"next_cursor,omitempty"`
	}

	AckOfflineMessagesRequest struct {
		ToUID      string   `msgpack:"to_uid" json:"to_uid"`
		MessageIDs []string `msgpack:"message_ids" json:"message_ids"`
	}

	AckOfflineMessagesResponse struct {
		Status  string `msgpack:"status" json:"status"`
		Removed int32  `msgpack:"removed" json:"removed"`
	}

	CountOfflineMessagesRequest struct {
		ToUID string `msgpack:"to_uid" json:"to_uid"`
	}

	CountOfflineMessagesResponse struct {
		Status string `msgpack:"status" json:"status"`
		Count  int64  `msgpack:"count" json:"count"`
	}

	QueryHistoryRequest struct {
		UID    string `msgpack:"uid,omitempty" json:"uid,omitempty"`
		RoomID string `msgpack:"room_id,omitempty" json:"room_id,omitempty"`
		Before int64  `msgpack:"before,omitempty" json:"before,omitempty"`
		Limit  int32  `msgpack:"limit" json:"limit"`
	}

	QueryHistoryResponse struct {
		Status   string           `msgpack:"status" json:"status"`
		Messages []OfflineMessage `msgpack:"messages" json:"messages"`
	}

	AddRoomMemberRequest struct {
		RoomID string `msgpack:"room_id" json:"room_id"`
		UID    string `msgpack:"uid" json:"uid"`
	}

	AddRoomMemberResponse struct {
		Status string `msgpack:"status" json:"status"`
		Added  bool   `msgpack:"added" json:"added"`
	}

	RemoveRoomMemberRequest struct {
		RoomID string `msgpack:"room_id" json:"room_id"`
		UID    string `msgpack:"uid" json:"uid"`
	}

	RemoveRoomMemberResponse struct {
		Status  string `msgpack:"status" json:"status"`
		Removed bool   `msgpack:"removed" json:"removed"`
	}

	GetRoomMembersRequest struct {
		RoomID string `msgpack:"room_id" json:"room_id"`
	}

	GetRoomMembersResponse struct {
		Status  string   `msgpack:"status" json:"status"`
		Members []string `msgpack:"members" json:"members"`
	}

	ListRoomsRequest struct{}

	ListRoomsResponse struct {
		Status string   `msgpack:"status" json:"status"`
		Rooms  []string `msgpack:"rooms" json:"rooms"`
	}
)

// Auth plugin request/response pairs.
type (
	LoginRequest struct {
		UID      string `msgpack:"uid" json:"uid"`
		Device   string `msgpack:"device,omitempty" json:"device,omitempty"`
		Password string `msgpack:"password,omitempty" json:"password,omitempty"`
	}

	LoginResponse struct {
		Status    string `msgpack:"status" json:"status"`
		Token     string `msgpack:"token,omitempty" json:"token,omitempty"`
		ExpiresAt int64  `msgpack:"expires_at,omitempty" json:"expires_at,omitempty"`
	}

	LogoutRequest struct {
		UID   string `msgpack:"uid" json:"uid"`
		Token string `msgpack:"token" json:"token"`
	}

	LogoutResponse struct {
		Status string `msgpack:"status" json:"status"`
	}

	ValidateTokenRequest struct {
		UID   string `msgpack:"uid" json:"uid"`
		Token string `msgpack:"token" json:"token"`
	}

	ValidateTokenResponse struct {
		Status  string `msgpack:"status" json:"status"`
		Valid   bool   `msgpack:"valid" json:"valid"`
		Message string `msgpack:"message,omitempty" json:"message,omitempty"`
	}

	RenewTokenRequest struct {
		UID   string `msgpack:"uid" json:"uid"`
		Token string `msgpack:"token" json:"token"`
	}

	RenewTokenResponse struct {
		Status    string `msgpack:"status" json:"status"`
		Token     string `msgpack:"token,omitempty" json:"token,omitempty"`
		ExpiresAt int64  `msgpack:"expires_at,omitempty" json:"expires_at,omitempty"`
	}

	KickOutRequest struct {
		UID    string `msgpack:"uid" json:"uid"`
		Reason string `msgpack:"reason,omitempty" json:"reason,omitempty"`
	}

	KickOutResponse struct {
		Status string `msgpack:"status" json:"status"`
	}

	BanUserRequest struct {
		UID    string `msgpack:"uid" json:"uid"`
		Reason string `msgpack:"reason,omitempty" json:"reason,omitempty"`
		Until  int64  `msgpack:"until,omitempty" json:"until,omitempty"`
	}

	BanUserResponse struct {
		Status string `msgpack:"status" json:"status"`
	}

	TokenReplacedRequest struct {
		UID      string `msgpack:"uid" json:"uid"`
		OldToken string `msgpack:"old_token" json:"old_token"`
		NewToken string `msgpack:"new_token" json:"new_token"`
	}

	TokenReplacedResponse struct {
		Status string `msgpack:"status" json:"status"`
	}
)
