// Package storage holds each node's local message log and offline index.
// It backs the quorum replicator and the offline fallback when no storage
// plugin is connected; durable persistence is the storage plugin's job.
package storage

// MessageRecord is an immutable message entry. Once appended it is never
// mutated.
type MessageRecord struct {
	MessageID string `json:"message_id"`
	FromUID   string `json:"from_uid"`
	ToUID     string `json:"to_uid,omitempty"`
	RoomID    string `json:"room_id,omitempty"`
	Content   string `json:"content"`
	Timestamp int64  `json:"timestamp"`
	MsgType   string `json:"msg_type"`
}

// OfflineCursor orders offline records as uid:timestamp:message_id for
// cursor-based pagination.
func (m *MessageRecord) OfflineCursor() string {
	return offlineCursor(m.ToUID, m.Timestamp, m.MessageID)
}

// Store is one node's local message storage.
type Store interface {
	// Append adds a record to the log.
	Append(rec *MessageRecord) error

	// SaveOffline queues a record for a uid that has no live session.
	SaveOffline(rec *MessageRecord) error

	// PullOffline returns up to limit offline records for uid in cursor
	// order, starting after the given cursor ("" for the beginning), plus
	// the cursor for the next page ("" when exhausted).
	PullOffline(uid, cursor string, limit int) ([]*MessageRecord, string, error)

	// AckOffline deletes acknowledged offline records and reports how many
	// were removed.
	AckOffline(uid string, messageIDs []string) (int, error)

	// CountOffline returns the number of pending offline records for uid.
	CountOffline(uid string) (int, error)

	// EnforceOfflineQuota trims a uid's oldest offline records down to
	// maxCount, removing at most batch per call. Returns removed count.
	EnforceOfflineQuota(uid string, maxCount, batch int) (int, error)

	// History returns the most recent records matching uid or room.
	History(uid, roomID string, before int64, limit int) ([]*MessageRecord, error)

	// Len reports the log length.
	Len() int
}
