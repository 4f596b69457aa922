// storage-sqlite is the reference storage plugin: it persists messages,
// offline backlogs and room membership in SQLite and serves every
// storage.* event over the plugin socket.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/glebarez/sqlite"
	"go.uber.org/zap"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/vera-byte/vconnect/internal/common/cnst"
	"github.com/vera-byte/vconnect/internal/plugin/pdk"
	"github.com/vera-byte/vconnect/internal/protocol"
	"github.com/vera-byte/vconnect/pkg/version"
)

var (
	socketPath = flag.String("socket", "/tmp/vconnect/storage-sqlite.sock", "node plugin socket")
	dsn        = flag.String("dsn", "vconnect.db", "sqlite dsn, overridden by pushed config")
)

// pluginConfig is the blob the node pushes in the handshake response.
type pluginConfig struct {
	DSN string `json:"dsn"`
}

func main() {
	flag.Parse()

	logger, err := zap.NewProduction()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	var db *gorm.DB
	open := func(path string) error {
		var err error
		db, err = gorm.Open(sqlite.Open(path), &gorm.Config{
			Logger: gormlogger.Default.LogMode(gormlogger.Silent),
		})
		if err != nil {
			return fmt.Errorf("open sqlite %s: %w", path, err)
		}
		return db.AutoMigrate(&Message{}, &OfflineMessage{}, &RoomMember{})
	}

	plug := pdk.New("storage-sqlite", version.Get(), *socketPath, logger,
		pdk.WithCapabilities(cnst.CapabilityStorage),
		pdk.WithPriority(10),
		pdk.OnConfig(func(raw string) error {
			var cfg pluginConfig
			if err := json.Unmarshal([]byte(raw), &cfg); err != nil {
				return fmt.Errorf("parse pushed config: %w", err)
			}
			if cfg.DSN != "" {
				return open(cfg.DSN)
			}
			return nil
		}))

	if err := open(*dsn); err != nil {
		logger.Fatal("failed to open database", zap.Error(err))
	}
	registerHandlers(plug, func() *gorm.DB { return db })

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger.Info("storage plugin starting",
		zap.String("socket", *socketPath),
		zap.String("version", version.Get()))
	if err := plug.Run(ctx); err != nil {
		logger.Fatal("plugin runtime failed", zap.Error(err))
	}
}

// registerHandlers wires every storage.* event to the database. The db
// accessor is indirect because the pushed config can reopen the database
// after handlers are registered.
func registerHandlers(plug *pdk.Plugin, db func() *gorm.DB) {
	plug.Register(cnst.EventStorageMessageSave, func(_ context.Context, evt *protocol.EventMessage) (*protocol.EventResponse, error) {
		var req protocol.SaveMessageRequest
		if err := plug.Decode(evt, &req); err != nil {
			return nil, err
		}
		row := Message{
			MessageID: req.MessageID,
			FromUID:   req.FromUID,
			ToUID:     req.ToUID,
			RoomID:    req.RoomID,
			Content:   req.Content,
			Timestamp: req.Timestamp,
			MsgType:   req.MsgType,
		}
		if err := db().Create(&row).Error; err != nil {
			return nil, err
		}
		return plug.OK(evt, &protocol.SaveMessageResponse{Status: cnst.StatusOK})
	})

	plug.Register(cnst.EventStorageOfflineSave, func(_ context.Context, evt *protocol.EventMessage) (*protocol.EventResponse, error) {
		var req protocol.SaveOfflineMessageRequest
		if err := plug.Decode(evt, &req); err != nil {
			return nil, err
		}
		row := OfflineMessage{
			MessageID: req.MessageID,
			FromUID:   req.FromUID,
			ToUID:     req.ToUID,
			RoomID:    req.RoomID,
			Content:   req.Content,
			Timestamp: req.Timestamp,
			MsgType:   req.MsgType,
			CursorKey: cursorKey(req.Timestamp, req.MessageID),
		}
		if err := db().Create(&row).Error; err != nil {
			return nil, err
		}
		return plug.OK(evt, &protocol.SaveOfflineMessageResponse{Status: cnst.StatusOK})
	})

	plug.Register(cnst.EventStorageOfflinePull, func(_ context.Context, evt *protocol.EventMessage) (*protocol.EventResponse, error) {
		var req protocol.PullOfflineMessagesRequest
		if err := plug.Decode(evt, &req); err != nil {
			return nil, err
		}
		limit := int(req.Limit)
		if limit <= 0 || limit > 200 {
			limit = 50
		}
		var rows []OfflineMessage
		q := db().Where("to_uid = ?", req.ToUID)
		if req.Cursor != "" {
			q = q.Where("cursor_key > ?", req.Cursor)
		}
		if err := q.Order("cursor_key").Limit(limit).Find(&rows).Error; err != nil {
			return nil, err
		}
		resp := protocol.PullOfflineMessagesResponse{
			Status:   cnst.StatusOK,
			Messages: make([]protocol.OfflineMessage, 0, len(rows)),
		}
		for _, row := range rows {
			resp.Messages = append(resp.Messages, protocol.OfflineMessage{
				MessageID: row.MessageID,
				FromUID:   row.FromUID,
				ToUID:     row.ToUID,
				RoomID:    row.RoomID,
				Content:   row.Content,
				Timestamp: row.Timestamp,
				MsgType:   row.MsgType,
			})
		}
		if len(rows) == limit {
			resp.NextCursor = rows[len(rows)-1].CursorKey
		}
		return plug.OK(evt, &resp)
	})

	plug.Register(cnst.EventStorageOfflineAck, func(_ context.Context, evt *protocol.EventMessage) (*protocol.EventResponse, error) {
		var req protocol.AckOfflineMessagesRequest
		if err := plug.Decode(evt, &req); err != nil {
			return nil, err
		}
		res := db().Where("to_uid = ? AND message_id IN ?", req.ToUID, req.MessageIDs).
			Delete(&OfflineMessage{})
		if res.Error != nil {
			return nil, res.Error
		}
		return plug.OK(evt, &protocol.AckOfflineMessagesResponse{
			Status:  cnst.StatusOK,
			Removed: int32(res.RowsAffected),
		})
	})

	plug.Register(cnst.EventStorageOfflineCount, func(_ context.Context, evt *protocol.EventMessage) (*protocol.EventResponse, error) {
		var req protocol.CountOfflineMessagesRequest
		if err := plug.Decode(evt, &req); err != nil {
			return nil, err
		}
		var count int64
		if err := db().Model(&OfflineMessage{}).Where("to_uid = ?", req.ToUID).Count(&count).Error; err != nil {
			return nil, err
		}
		return plug.OK(evt, &protocol.CountOfflineMessagesResponse{Status: cnst.StatusOK, Count: count})
	})

	plug.Register(cnst.EventStorageMessageHistory, func(_ context.Context, evt *protocol.EventMessage) (*protocol.EventResponse, error) {
		var req protocol.QueryHistoryRequest
		if err := plug.Decode(evt, &req); err != nil {
			return nil, err
		}
		limit := int(req.Limit)
		if limit <= 0 || limit > 500 {
			limit = 100
		}
		q := db().Model(&Message{})
		if req.RoomID != "" {
			q = q.Where("room_id = ?", req.RoomID)
		} else if req.UID != "" {
			q = q.Where("from_uid = ? OR to_uid = ?", req.UID, req.UID)
		}
		if req.Before > 0 {
			q = q.Where("timestamp < ?", req.Before)
		}
		var rows []Message
		if err := q.Order("timestamp DESC").Limit(limit).Find(&rows).Error; err != nil {
			return nil, err
		}
		resp := protocol.QueryHistoryResponse{
			Status:   cnst.StatusOK,
			Messages: make([]protocol.OfflineMessage, 0, len(rows)),
		}
		for _, row := range rows {
			resp.Messages = append(resp.Messages, protocol.OfflineMessage{
				MessageID: row.MessageID,
				FromUID:   row.FromUID,
				ToUID:     row.ToUID,
				RoomID:    row.RoomID,
				Content:   row.Content,
				Timestamp: row.Timestamp,
				MsgType:   row.MsgType,
			})
		}
		return plug.OK(evt, &resp)
	})

	plug.Register(cnst.EventStorageRoomAddMember, func(_ context.Context, evt *protocol.EventMessage) (*protocol.EventResponse, error) {
		var req protocol.AddRoomMemberRequest
		if err := plug.Decode(evt, &req); err != nil {
			return nil, err
		}
		res := db().Where(RoomMember{RoomID: req.RoomID, UID: req.UID}).
			FirstOrCreate(&RoomMember{RoomID: req.RoomID, UID: req.UID})
		if res.Error != nil {
			return nil, res.Error
		}
		return plug.OK(evt, &protocol.AddRoomMemberResponse{
			Status: cnst.StatusOK,
			Added:  res.RowsAffected > 0,
		})
	})

	plug.Register(cnst.EventStorageRoomRemove, func(_ context.Context, evt *protocol.EventMessage) (*protocol.EventResponse, error) {
		var req protocol.RemoveRoomMemberRequest
		if err := plug.Decode(evt, &req); err != nil {
			return nil, err
		}
		res := db().Where("room_id = ? AND uid = ?", req.RoomID, req.UID).Delete(&RoomMember{})
		if res.Error != nil {
			return nil, res.Error
		}
		return plug.OK(evt, &protocol.RemoveRoomMemberResponse{
			Status:  cnst.StatusOK,
			Removed: res.RowsAffected > 0,
		})
	})

	plug.Register(cnst.EventStorageRoomMembers, func(_ context.Context, evt *protocol.EventMessage) (*protocol.EventResponse, error) {
		var req protocol.GetRoomMembersRequest
		if err := plug.Decode(evt, &req); err != nil {
			return nil, err
		}
		var members []string
		if err := db().Model(&RoomMember{}).Where("room_id = ?", req.RoomID).
			Order("uid").Pluck("uid", &members).Error; err != nil {
			return nil, err
		}
		return plug.OK(evt, &protocol.GetRoomMembersResponse{Status: cnst.StatusOK, Members: members})
	})

	plug.Register(cnst.EventStorageRoomList, func(_ context.Context, evt *protocol.EventMessage) (*protocol.EventResponse, error) {
		var rooms []string
		if err := db().Model(&RoomMember{}).Distinct("room_id").
			Order("room_id").Pluck("room_id", &rooms).Error; err != nil {
			return nil, err
		}
		return plug.OK(evt, &protocol.ListRoomsResponse{Status: cnst.StatusOK, Rooms: rooms})
	})
}
