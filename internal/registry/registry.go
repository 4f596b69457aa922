// Package registry holds the in-memory state for one node: live WebSocket
// sessions, the uid index used for fan-out, room membership and the admin
// controls (blocked uids, per-uid rate limits). All maps are sharded so
// operations on different keys never contend.
package registry

import (
	"time"

	"go.uber.org/zap"

	"github.com/vera-byte/vconnect/internal/common/cnst"
)

// OnlineClientInfo is the roster entry returned to online_clients queries.
type OnlineClientInfo struct {
	ClientID      string `json:"client_id"`
	UID           string `json:"uid,omitempty"`
	Addr          string `json:"addr"`
	ConnectedAt   int64  `json:"connected_at"`
	LastHeartbeat int64  `json:"last_heartbeat"`
}

// Registry is the connection registry for one node.
type Registry struct {
	logger     *zap.Logger
	sendBuffer int

	sessions   *shardedMap[*Session]
	uidClients *shardedMap[*stringSet]
	rooms      *shardedMap[*stringSet]

	blocked    *stringSet
	rateLimits *shardedMap[*rateLimitState]
}

// New creates an empty registry.
func New(logger *zap.Logger, sendBuffer int) *Registry {
	if sendBuffer <= 0 {
		sendBuffer = 256
	}
	return &Registry{
		logger:     logger.Named("registry"),
		sendBuffer: sendBuffer,
		sessions:   newShardedMap[*Session](),
		uidClients: newShardedMap[*stringSet](),
		rooms:      newShardedMap[*stringSet](),
		blocked:    newStringSet(),
		rateLimits: newShardedMap[*rateLimitState](),
	}
}

// Add creates and registers a session for a freshly accepted connection.
func (r *Registry) Add(clientID, peerAddr string) *Session {
	s := newSession(clientID, peerAddr, r.sendBuffer)
	r.sessions.Store(clientID, s)
	return s
}

// Get returns the session for clientID.
func (r *Registry) Get(clientID string) (*Session, bool) {
	return r.sessions.Load(clientID)
}

// Remove tears a session down: it is dropped from the session map, its uid
// index entry is removed and its outbound channel is closed. Safe to call
// twice; the second call is a no-op.
func (r *Registry) Remove(clientID string) (*Session, bool) {
	s, ok := r.sessions.Delete(clientID)
	if !ok {
		return nil, false
	}
	if uid := s.UID(); uid != "" {
		if set, ok := r.uidClients.Load(uid); ok {
			set.Remove(clientID)
		}
	}
	s.close()
	return s, true
}

// AttachUID records a successful authentication. The first result reports
// whether this is the first live connection for the uid; concurrent attaches
// for the same uid may both observe "first", which callers treat as
// at-least-once online notification.
func (r *Registry) AttachUID(clientID, uid string) (first bool, err error) {
	s, ok := r.sessions.Load(clientID)
	if !ok {
		return false, cnst.ErrClientNotFound
	}
	// Re-auth under a different uid must not leave the client id behind in
	// the old uid's index entry.
	if prev := s.UID(); prev != "" && prev != uid {
		if prevSet, ok := r.uidClients.Load(prev); ok {
			prevSet.Remove(clientID)
		}
	}
	set, _ := r.uidClients.LoadOrStore(uid, newStringSet())
	first = set.Len() == 0
	set.Add(clientID)
	s.setUID(uid)
	return first, nil
}

// ClientsForUID returns all live client ids for a uid.
func (r *Registry) ClientsForUID(uid string) []string {
	set, ok := r.uidClients.Load(uid)
	if !ok {
		return nil
	}
	return set.Values()
}

// UpdateHeartbeat refreshes the session's liveness timestamp.
func (r *Registry) UpdateHeartbeat(clientID string) error {
	s, ok := r.sessions.Load(clientID)
	if !ok {
		return cnst.ErrClientNotFound
	}
	s.touch()
	return nil
}

// SendToClient queues a frame for one client. ErrClientNotFound means the
// client is already gone; callers treat that as best-effort delivery, not a
// fault.
func (r *Registry) SendToClient(clientID string, f Frame) error {
	s, ok := r.sessions.Load(clientID)
	if !ok {
		return cnst.ErrClientNotFound
	}
	if !s.send(f) {
		// Dead outbound channel: clean up lazily, never block the caller.
		r.logger.Debug("dropping session with dead outbound channel",
			zap.String("client_id", clientID))
		r.Remove(clientID)
		return cnst.ErrClientNotFound
	}
	return nil
}

// SendToUID fans a frame out to every connection of a uid and returns how
// many accepted it.
func (r *Registry) SendToUID(uid string, f Frame) int {
	delivered := 0
	for _, clientID := range r.ClientsForUID(uid) {
		if r.SendToClient(clientID, f) == nil {
			delivered++
		}
	}
	return delivered
}

// Broadcast queues a frame for every session. Sessions whose channel rejects
// the frame are collected and removed after the pass so a dead client never
// stalls the broadcast.
func (r *Registry) Broadcast(f Frame) int {
	var dead []string
	delivered := 0
	r.sessions.Range(func(clientID string, s *Session) bool {
		if s.send(f) {
			delivered++
		} else {
			dead = append(dead, clientID)
		}
		return true
	})
	for _, clientID := range dead {
		r.Remove(clientID)
	}
	return delivered
}

// OnlineClients snapshots the roster.
func (r *Registry) OnlineClients() []OnlineClientInfo {
	out := make([]OnlineClientInfo, 0, r.sessions.Len())
	r.sessions.Range(func(_ string, s *Session) bool {
		out = append(out, OnlineClientInfo{
			ClientID:      s.ClientID,
			UID:           s.UID(),
			Addr:          s.PeerAddr,
			ConnectedAt:   s.ConnectedAt.UnixMilli(),
			LastHeartbeat: s.LastHeartbeat().UnixMilli(),
		})
		return true
	})
	return out
}

// Count returns the number of live sessions.
func (r *Registry) Count() int {
	return r.sessions.Len()
}

// Expired returns client ids whose last heartbeat is older than timeout.
func (r *Registry) Expired(timeout time.Duration) []string {
	var expired []string
	now := time.Now()
	r.sessions.Range(func(clientID string, s *Session) bool {
		if now.Sub(s.LastHeartbeat()) > timeout {
			expired = append(expired, clientID)
		}
		return true
	})
	return expired
}
