package cnst

// Plugin event types carried in the envelope. Storage events are handled by
// plugins declaring the "storage" capability, auth events by "auth".
const (
	EventStorageMessageSave    = "storage.message.save"
	EventStorageMessageHistory = "storage.message.history"
	EventStorageOfflineSave    = "storage.offline.save"
	EventStorageOfflinePull    = "storage.offline.pull"
	EventStorageOfflineAck     = "storage.offline.ack"
	EventStorageOfflineCount   = "storage.offline.count"
	EventStorageRoomAddMember  = "storage.room.add_member"
	EventStorageRoomRemove     = "storage.room.remove_member"
	EventStorageRoomMembers    = "storage.room.list_members"
	EventStorageRoomList       = "storage.room.list"

	EventAuthLogin         = "auth.login"
	EventAuthLogout        = "auth.logout"
	EventAuthValidateToken = "auth.validate_token"
	EventAuthRenewToken    = "auth.renew_token"
	EventAuthKickOut       = "auth.kick_out"
	EventAuthBanned        = "auth.banned"
	EventAuthReplaced      = "auth.replaced"

	EventHealthCheck = "health.check"
)

// Plugin capabilities declared during handshake.
const (
	CapabilityStorage = "storage"
	CapabilityAuth    = "auth"
	CapabilityGateway = "gateway"
)

// Response statuses used in EventResponse.Status.
const (
	StatusOK          = "ok"
	StatusError       = "error"
	StatusUnsupported = "unsupported"
)
