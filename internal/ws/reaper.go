package ws

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/vera-byte/vconnect/internal/registry"
)

// reapInterval scales the sweep frequency to the heartbeat timeout: short
// timeouts are swept at half their length, longer ones settle at a fixed
// cadence.
func reapInterval(timeout time.Duration) time.Duration {
	switch {
	case timeout <= time.Second:
		return timeout / 2
	case timeout <= 10*time.Second:
		return time.Second
	default:
		return 5 * time.Second
	}
}

// StartReaper runs the heartbeat sweep until ctx is cancelled. It is the
// only component that removes sessions on timeout; read-loop teardown and
// explicit closes are separate paths and racing them is safe because
// removal is idempotent.
func (s *Server) StartReaper(ctx context.Context) {
	timeout := s.cfg.HeartbeatTimeout()
	ticker := time.NewTicker(reapInterval(timeout))
	defer ticker.Stop()

	s.logger.Info("reaper started",
		zap.Duration("timeout", timeout),
		zap.Duration("interval", reapInterval(timeout)))

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.reapOnce(ctx, timeout)
		}
	}
}

func (s *Server) reapOnce(ctx context.Context, timeout time.Duration) {
	for _, clientID := range s.reg.Expired(timeout) {
		// Best-effort close frame; the client may already be gone.
		_ = s.reg.SendToClient(clientID, registry.Frame{Type: registry.FrameClose})
		if _, ok := s.reg.Remove(clientID); !ok {
			continue
		}
		if err := s.dir.RemoveClientLocation(ctx, clientID); err != nil {
			s.logger.Warn("remove client location failed",
				zap.String("client_id", clientID), zap.Error(err))
		}
		if s.met != nil {
			s.met.SessionReaped()
			s.met.ConnClosed()
		}
		s.logger.Info("session reaped",
			zap.String("client_id", clientID),
			zap.Duration("timeout", timeout))
	}
}
