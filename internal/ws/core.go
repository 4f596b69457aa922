package ws

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/vera-byte/vconnect/internal/common/cnst"
	"github.com/vera-byte/vconnect/internal/protocol"
	"github.com/vera-byte/vconnect/internal/registry"
	"github.com/vera-byte/vconnect/internal/storage"
)

// Exported entry points for the admin surface. They run the same persist
// and routing paths as client-originated traffic.

// SendDirect delivers a message on behalf of fromUID, persisting it and
// routing to the recipient or their offline backlog.
func (s *Server) SendDirect(ctx context.Context, fromUID, toUID, content, msgType string) (string, error) {
	if toUID == "" {
		return "", cnst.ErrClientNotFound
	}
	if msgType == "" {
		msgType = "text"
	}
	rec := &storage.MessageRecord{
		MessageID: uuid.NewString(),
		FromUID:   fromUID,
		ToUID:     toUID,
		Content:   content,
		Timestamp: time.Now().UnixMilli(),
		MsgType:   msgType,
	}
	s.persist(ctx, rec)
	s.routeToUID(ctx, rec)
	return rec.MessageID, nil
}

// BroadcastText fans a message out to every connected client and returns
// the delivery count.
func (s *Server) BroadcastText(fromUID, content, msgType string) int {
	if msgType == "" {
		msgType = "text"
	}
	rec := &storage.MessageRecord{
		MessageID: uuid.NewString(),
		FromUID:   fromUID,
		Content:   content,
		Timestamp: time.Now().UnixMilli(),
		MsgType:   msgType,
	}
	return s.reg.Broadcast(registry.Frame{
		Type: registry.FrameText,
		Data: envelope(cnst.MsgTypeMessage, recordToMessage(rec, false)),
	})
}

// OfflineCount reports the pending offline backlog for a uid, preferring
// the storage plugin over the node-local store.
func (s *Server) OfflineCount(ctx context.Context, uid string) (int, error) {
	if s.plugins != nil {
		resp, err := s.plugins.StorageCountOffline(ctx, &protocol.CountOfflineMessagesRequest{ToUID: uid})
		if err == nil {
			return int(resp.Count), nil
		}
		if !errors.Is(err, cnst.ErrPluginUnavailable) {
			return 0, err
		}
	}
	if s.store == nil {
		return 0, nil
	}
	return s.store.CountOffline(uid)
}
