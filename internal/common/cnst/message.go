package cnst

// WebSocket domain message types. Unknown types are ignored by the handler.
const (
	MsgTypeWelcome               = "welcome"
	MsgTypePing                  = "ping"
	MsgTypePong                  = "pong"
	MsgTypeAuth                  = "auth"
	MsgTypeAuthResponse          = "auth_response"
	MsgTypeSend                  = "send"
	MsgTypeMessage               = "message"
	MsgTypeJoinRoom              = "join_room"
	MsgTypeLeaveRoom             = "leave_room"
	MsgTypeRoomResponse          = "room_response"
	MsgTypeOnlineClients         = "online_clients"
	MsgTypeOnlineClientsResponse = "online_clients_response"
	MsgTypeError                 = "error"
)
