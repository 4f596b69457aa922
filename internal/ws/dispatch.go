package ws

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/tidwall/gjson"
	"go.uber.org/zap"

	"github.com/vera-byte/vconnect/internal/cluster"
	"github.com/vera-byte/vconnect/internal/common/cnst"
	"github.com/vera-byte/vconnect/internal/protocol"
	"github.com/vera-byte/vconnect/internal/registry"
	"github.com/vera-byte/vconnect/internal/storage"
)

const offlinePageSize = 50

// dispatch routes one inbound text frame. Malformed JSON gets an error
// envelope and the connection stays open; unknown message types are
// ignored.
func (s *Server) dispatch(ctx context.Context, sess *registry.Session, data []byte) {
	if !gjson.ValidBytes(data) {
		s.sendError(sess.ClientID, "bad_json", "message is not valid JSON")
		return
	}
	msgType := gjson.GetBytes(data, "type").String()

	var msg ImMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		s.sendError(sess.ClientID, "bad_envelope", "message envelope is malformed")
		return
	}

	switch msgType {
	case cnst.MsgTypePing:
		s.handlePing(sess)
	case cnst.MsgTypeOnlineClients:
		s.handleOnlineClients(sess)
	case cnst.MsgTypeAuth:
		s.handleAuth(ctx, sess, msg.Data)
	case cnst.MsgTypeSend:
		s.handleSend(ctx, sess, msg.Data)
	case cnst.MsgTypeJoinRoom:
		s.handleRoom(ctx, sess, msg.Data, true)
	case cnst.MsgTypeLeaveRoom:
		s.handleRoom(ctx, sess, msg.Data, false)
	default:
		s.logger.Debug("ignoring unknown message type",
			zap.String("client_id", sess.ClientID),
			zap.String("type", msgType))
	}
}

func (s *Server) handlePing(sess *registry.Session) {
	_ = s.reg.UpdateHeartbeat(sess.ClientID)
	s.sendTo(sess.ClientID, cnst.MsgTypePong, &PongData{
		Timestamp: time.Now().UnixMilli(),
		ClientID:  sess.ClientID,
	})
}

func (s *Server) handleOnlineClients(sess *registry.Session) {
	clients := s.reg.OnlineClients()
	s.sendTo(sess.ClientID, cnst.MsgTypeOnlineClientsResponse, &OnlineClientsResponseData{
		Count:   len(clients),
		Clients: clients,
	})
}

func (s *Server) handleAuth(ctx context.Context, sess *registry.Session, raw json.RawMessage) {
	var auth AuthData
	if err := json.Unmarshal(raw, &auth); err != nil || auth.UID == "" {
		s.sendTo(sess.ClientID, cnst.MsgTypeAuthResponse, &AuthResponseData{
			Status:  cnst.StatusError,
			Message: "auth requires a uid",
		})
		return
	}
	if s.reg.IsBlocked(auth.UID) {
		s.sendTo(sess.ClientID, cnst.MsgTypeAuthResponse, &AuthResponseData{
			Status:  cnst.StatusError,
			UID:     auth.UID,
			Message: "uid is blocked",
		})
		return
	}

	// Token validation is delegated to the auth plugin. Without one
	// connected, authentication is open; the deployment decides.
	if s.plugins != nil {
		resp, err := s.plugins.AuthValidateToken(ctx, &protocol.ValidateTokenRequest{
			UID:   auth.UID,
			Token: auth.Token,
		})
		switch {
		case errors.Is(err, cnst.ErrPluginUnavailable):
		case err != nil:
			s.logger.Warn("token validation failed",
				zap.String("uid", auth.UID), zap.Error(err))
			s.sendTo(sess.ClientID, cnst.MsgTypeAuthResponse, &AuthResponseData{
				Status:  cnst.StatusError,
				UID:     auth.UID,
				Message: "token validation unavailable",
			})
			return
		case !resp.Valid:
			s.sendTo(sess.ClientID, cnst.MsgTypeAuthResponse, &AuthResponseData{
				Status:  cnst.StatusError,
				UID:     auth.UID,
				Message: "invalid token",
			})
			return
		}
	}

	first, err := s.reg.AttachUID(sess.ClientID, auth.UID)
	if err != nil {
		return
	}
	delivered := s.deliverOffline(ctx, sess.ClientID, auth.UID)
	s.sendTo(sess.ClientID, cnst.MsgTypeAuthResponse, &AuthResponseData{
		Status:       cnst.StatusOK,
		UID:          auth.UID,
		OfflineCount: delivered,
	})
	s.logger.Info("client authenticated",
		zap.String("client_id", sess.ClientID),
		zap.String("uid", auth.UID),
		zap.Bool("first_connection", first))
}

// deliverOffline drains the uid's offline backlog to the fresh connection,
// acknowledging each delivered page. The storage plugin is authoritative
// when connected; the node-local store backs it otherwise.
func (s *Server) deliverOffline(ctx context.Context, clientID, uid string) int {
	if s.plugins != nil {
		if n, err := s.deliverOfflineFromPlugin(ctx, clientID, uid); err == nil {
			return n
		} else if !errors.Is(err, cnst.ErrPluginUnavailable) {
			s.logger.Warn("offline delivery via plugin failed",
				zap.String("uid", uid), zap.Error(err))
			return 0
		}
	}
	return s.deliverOfflineFromStore(clientID, uid)
}

func (s *Server) deliverOfflineFromPlugin(ctx context.Context, clientID, uid string) (int, error) {
	delivered := 0
	cursor := ""
	for {
		page, err := s.plugins.StoragePullOffline(ctx, &protocol.PullOfflineMessagesRequest{
			ToUID:  uid,
			Cursor: cursor,
			Limit:  offlinePageSize,
		})
		if err != nil {
			return delivered, err
		}
		if len(page.Messages) == 0 {
			return delivered, nil
		}
		ids := make([]string, 0, len(page.Messages))
		for _, m := range page.Messages {
			s.sendTo(clientID, cnst.MsgTypeMessage, &MessageData{
				MessageID: m.MessageID,
				FromUID:   m.FromUID,
				ToUID:     m.ToUID,
				RoomID:    m.RoomID,
				Content:   m.Content,
				Timestamp: m.Timestamp,
				MsgType:   m.MsgType,
				Offline:   true,
			})
			ids = append(ids, m.MessageID)
			delivered++
		}
		if _, err := s.plugins.StorageAckOffline(ctx, &protocol.AckOfflineMessagesRequest{
			ToUID:      uid,
			MessageIDs: ids,
		}); err != nil {
			return delivered, err
		}
		if page.NextCursor == "" {
			return delivered, nil
		}
		cursor = page.NextCursor
	}
}

func (s *Server) deliverOfflineFromStore(clientID, uid string) int {
	if s.store == nil {
		return 0
	}
	delivered := 0
	cursor := ""
	for {
		recs, next, err := s.store.PullOffline(uid, cursor, offlinePageSize)
		if err != nil || len(recs) == 0 {
			return delivered
		}
		ids := make([]string, 0, len(recs))
		for _, rec := range recs {
			s.sendTo(clientID, cnst.MsgTypeMessage, recordToMessage(rec, true))
			ids = append(ids, rec.MessageID)
			delivered++
		}
		if _, err := s.store.AckOffline(uid, ids); err != nil {
			return delivered
		}
		if next == "" {
			return delivered
		}
		cursor = next
	}
}

func (s *Server) handleSend(ctx context.Context, sess *registry.Session, raw json.RawMessage) {
	fromUID := sess.UID()
	if fromUID == "" {
		s.sendError(sess.ClientID, "unauthenticated", "authenticate before sending")
		return
	}
	var send SendData
	if err := json.Unmarshal(raw, &send); err != nil || (send.ToUID == "" && send.RoomID == "") {
		s.sendError(sess.ClientID, "bad_send", "send requires to_uid or room_id")
		return
	}
	if err := s.reg.CheckSendAllowed(fromUID); err != nil {
		code := "rate_limited"
		if errors.Is(err, cnst.ErrUIDBlocked) {
			code = "blocked"
		}
		s.sendError(sess.ClientID, code, err.Error())
		return
	}
	if send.MsgType == "" {
		send.MsgType = "text"
	}

	rec := &storage.MessageRecord{
		MessageID: uuid.NewString(),
		FromUID:   fromUID,
		ToUID:     send.ToUID,
		RoomID:    send.RoomID,
		Content:   send.Content,
		Timestamp: time.Now().UnixMilli(),
		MsgType:   send.MsgType,
	}
	s.persist(ctx, rec)

	if rec.RoomID != "" {
		s.routeToRoom(rec)
	} else {
		s.routeToUID(ctx, rec)
	}
}

// persist replicates the record through the quorum log and hands it to the
// storage plugin. Neither failing blocks delivery; persistence problems
// are surfaced in logs and metrics, not to the sender.
func (s *Server) persist(ctx context.Context, rec *storage.MessageRecord) {
	if s.rep != nil {
		if err := s.rep.AppendAs(s.nodeID, rec); err != nil {
			s.logger.Warn("quorum append failed",
				zap.String("message_id", rec.MessageID), zap.Error(err))
		}
	} else if s.store != nil {
		if err := s.store.Append(rec); err != nil {
			s.logger.Warn("local append failed",
				zap.String("message_id", rec.MessageID), zap.Error(err))
		}
	}
	if s.plugins == nil {
		return
	}
	if _, err := s.plugins.StorageSaveMessage(ctx, &protocol.SaveMessageRequest{
		MessageID: rec.MessageID,
		FromUID:   rec.FromUID,
		ToUID:     rec.ToUID,
		RoomID:    rec.RoomID,
		Content:   rec.Content,
		Timestamp: rec.Timestamp,
		MsgType:   rec.MsgType,
	}); err != nil && !errors.Is(err, cnst.ErrPluginUnavailable) {
		s.logger.Warn("storage plugin save failed",
			zap.String("message_id", rec.MessageID), zap.Error(err))
	}
}

func (s *Server) routeToRoom(rec *storage.MessageRecord) {
	frame := registry.Frame{
		Type: registry.FrameText,
		Data: envelope(cnst.MsgTypeMessage, recordToMessage(rec, false)),
	}
	n := s.reg.SendToRoom(rec.RoomID, frame, rec.FromUID)
	s.logger.Debug("room message routed",
		zap.String("room_id", rec.RoomID),
		zap.String("message_id", rec.MessageID),
		zap.Int("delivered", n))
}

// routeToUID delivers to local sessions when the recipient is here,
// otherwise parks the record in the offline store of the node that owns
// the uid under rendezvous hashing, where the recipient's next session
// will drain it.
func (s *Server) routeToUID(ctx context.Context, rec *storage.MessageRecord) {
	if n := s.reg.SendToUID(rec.ToUID, registry.Frame{
		Type: registry.FrameText,
		Data: envelope(cnst.MsgTypeMessage, recordToMessage(rec, false)),
	}); n > 0 {
		return
	}
	s.saveOffline(ctx, rec)
}

func (s *Server) saveOffline(ctx context.Context, rec *storage.MessageRecord) {
	if s.plugins != nil {
		_, err := s.plugins.StorageSaveOffline(ctx, &protocol.SaveOfflineMessageRequest{
			MessageID: rec.MessageID,
			FromUID:   rec.FromUID,
			ToUID:     rec.ToUID,
			RoomID:    rec.RoomID,
			Content:   rec.Content,
			Timestamp: rec.Timestamp,
			MsgType:   rec.MsgType,
		})
		if err == nil {
			return
		}
		if !errors.Is(err, cnst.ErrPluginUnavailable) {
			s.logger.Warn("offline save via plugin failed",
				zap.String("message_id", rec.MessageID), zap.Error(err))
		}
	}

	store := s.ownerStore(rec.ToUID)
	if store == nil {
		s.logger.Warn("no store for offline message",
			zap.String("message_id", rec.MessageID),
			zap.String("to_uid", rec.ToUID))
		return
	}
	if err := store.SaveOffline(rec); err != nil {
		s.logger.Warn("offline save failed",
			zap.String("message_id", rec.MessageID), zap.Error(err))
	}
}

// ownerStore resolves the store holding a uid's offline backlog: the
// rendezvous owner's store when its handle is registered, this node's own
// store otherwise.
func (s *Server) ownerStore(uid string) storage.Store {
	if s.dir != nil {
		if owner, err := cluster.SelectNode(uid, s.dir.AliveNodes()); err == nil && owner.NodeID != s.nodeID {
			if h, ok := s.dir.GetServer(owner.NodeID); ok {
				return h.Store()
			}
		}
	}
	return s.store
}

func (s *Server) handleRoom(ctx context.Context, sess *registry.Session, raw json.RawMessage, join bool) {
	uid := sess.UID()
	if uid == "" {
		s.sendError(sess.ClientID, "unauthenticated", "authenticate before joining rooms")
		return
	}
	var room RoomData
	if err := json.Unmarshal(raw, &room); err != nil || room.RoomID == "" {
		s.sendError(sess.ClientID, "bad_room", "room operations require a room_id")
		return
	}

	action := "leave"
	if join {
		action = "join"
		s.reg.JoinRoom(room.RoomID, uid)
	} else {
		s.reg.LeaveRoom(room.RoomID, uid)
	}

	// Room membership is mirrored to the storage plugin so it survives
	// restarts. Best effort.
	if s.plugins != nil {
		var err error
		if join {
			_, err = s.plugins.StorageAddRoomMember(ctx, &protocol.AddRoomMemberRequest{
				RoomID: room.RoomID, UID: uid,
			})
		} else {
			_, err = s.plugins.StorageRemoveRoomMember(ctx, &protocol.RemoveRoomMemberRequest{
				RoomID: room.RoomID, UID: uid,
			})
		}
		if err != nil && !errors.Is(err, cnst.ErrPluginUnavailable) {
			s.logger.Warn("room membership mirror failed",
				zap.String("room_id", room.RoomID),
				zap.String("uid", uid),
				zap.Error(err))
		}
	}

	s.sendTo(sess.ClientID, cnst.MsgTypeRoomResponse, &RoomResponseData{
		Status: cnst.StatusOK,
		RoomID: room.RoomID,
		Action: action,
	})
}

func (s *Server) sendTo(clientID, msgType string, data any) {
	_ = s.reg.SendToClient(clientID, registry.Frame{
		Type: registry.FrameText,
		Data: envelope(msgType, data),
	})
}

func (s *Server) sendError(clientID, code, msg string) {
	s.sendTo(clientID, cnst.MsgTypeError, &ErrorData{Code: code, Message: msg})
}

func recordToMessage(rec *storage.MessageRecord, offline bool) *MessageData {
	return &MessageData{
		MessageID: rec.MessageID,
		FromUID:   rec.FromUID,
		ToUID:     rec.ToUID,
		RoomID:    rec.RoomID,
		Content:   rec.Content,
		Timestamp: rec.Timestamp,
		MsgType:   rec.MsgType,
		Offline:   offline,
	}
}
