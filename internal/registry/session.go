package registry

import (
	"sync"
	"time"
)

// FrameType distinguishes outbound frame kinds. The writer pump translates
// them to the underlying socket message types.
type FrameType int

const (
	FrameText FrameType = iota
	FrameClose
)

// Frame is one outbound unit queued on a session's channel.
type Frame struct {
	Type FrameType
	Data []byte
}

// Session is the server-side state for one live WebSocket connection. The
// outbound channel is owned by exactly one writer task; producers enqueue via
// Send and never touch the socket.
type Session struct {
	ClientID    string
	PeerAddr    string
	ConnectedAt time.Time

	mu            sync.Mutex
	uid           string
	lastHeartbeat time.Time

	outbound  chan Frame
	closeOnce sync.Once
}

func newSession(clientID, peerAddr string, buffer int) *Session {
	now := time.Now()
	return &Session{
		ClientID:      clientID,
		PeerAddr:      peerAddr,
		ConnectedAt:   now,
		lastHeartbeat: now,
		outbound:      make(chan Frame, buffer),
	}
}

// Outbound returns the channel the writer pump drains. It is closed when the
// session is removed from the registry.
func (s *Session) Outbound() <-chan Frame {
	return s.outbound
}

// UID returns the authenticated uid, empty until auth succeeds.
func (s *Session) UID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.uid
}

func (s *Session) setUID(uid string) {
	s.mu.Lock()
	s.uid = uid
	s.mu.Unlock()
}

// LastHeartbeat returns the time of the most recent ping.
func (s *Session) LastHeartbeat() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastHeartbeat
}

func (s *Session) touch() {
	s.mu.Lock()
	s.lastHeartbeat = time.Now()
	s.mu.Unlock()
}

// send enqueues without blocking. A full or closed channel reports failure so
// callers can treat the session as gone.
func (s *Session) send(f Frame) (ok bool) {
	defer func() {
		if recover() != nil {
			ok = false
		}
	}()
	select {
	case s.outbound <- f:
		return true
	default:
		return false
	}
}

func (s *Session) close() {
	s.closeOnce.Do(func() { close(s.outbound) })
}
