package main

import "fmt"

// Message is the durable chat log.
type Message struct {
	ID        uint   `gorm:"primaryKey"`
	MessageID string `gorm:"uniqueIndex;size:64"`
	FromUID   string `gorm:"index;size:128"`
	ToUID     string `gorm:"index;size:128"`
	RoomID    string `gorm:"index;size:128"`
	Content   string
	Timestamp int64 `gorm:"index"`
	MsgType   string `gorm:"size:32"`
}

// OfflineMessage is a pending delivery; rows are deleted on ack. CursorKey
// orders the backlog for keyset pagination.
type OfflineMessage struct {
	ID        uint   `gorm:"primaryKey"`
	MessageID string `gorm:"uniqueIndex;size:64"`
	FromUID   string `gorm:"size:128"`
	ToUID     string `gorm:"index:idx_offline_uid_cursor;size:128"`
	RoomID    string `gorm:"size:128"`
	Content   string
	Timestamp int64
	MsgType   string `gorm:"size:32"`
	CursorKey string `gorm:"index:idx_offline_uid_cursor;size:96"`
}

// RoomMember is persisted room membership.
type RoomMember struct {
	ID     uint   `gorm:"primaryKey"`
	RoomID string `gorm:"uniqueIndex:idx_room_uid;size:128"`
	UID    string `gorm:"uniqueIndex:idx_room_uid;size:128"`
}

func cursorKey(timestamp int64, messageID string) string {
	return fmt.Sprintf("%020d-%s", timestamp, messageID)
}
