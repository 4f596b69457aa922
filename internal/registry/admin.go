package registry

import (
	"sync"
	"time"

	"github.com/vera-byte/vconnect/internal/common/cnst"
)

type rateLimitState struct {
	mu          sync.Mutex
	limit       int
	count       int
	windowStart int64 // unix millis, 1-minute window
}

// BlockUID bars a uid from sending until unblocked.
func (r *Registry) BlockUID(uid string) {
	r.blocked.Add(uid)
}

// UnblockUID lifts a block.
func (r *Registry) UnblockUID(uid string) {
	r.blocked.Remove(uid)
}

// IsBlocked reports whether a uid is blocked.
func (r *Registry) IsBlocked(uid string) bool {
	return r.blocked.Contains(uid)
}

// SetRateLimit caps a uid at limit messages per minute. Zero removes the cap.
func (r *Registry) SetRateLimit(uid string, limit int) {
	if limit <= 0 {
		r.rateLimits.Delete(uid)
		return
	}
	r.rateLimits.Store(uid, &rateLimitState{limit: limit, windowStart: time.Now().UnixMilli()})
}

// CheckSendAllowed enforces block and rate-limit state for a sending uid.
func (r *Registry) CheckSendAllowed(uid string) error {
	if r.IsBlocked(uid) {
		return cnst.ErrUIDBlocked
	}
	rl, ok := r.rateLimits.Load(uid)
	if !ok {
		return nil
	}
	now := time.Now().UnixMilli()
	rl.mu.Lock()
	defer rl.mu.Unlock()
	if now-rl.windowStart >= time.Minute.Milliseconds() {
		rl.windowStart = now
		rl.count = 0
	}
	if rl.count >= rl.limit {
		return cnst.ErrRateLimited
	}
	rl.count++
	return nil
}
