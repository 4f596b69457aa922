// Package ws accepts WebSocket connections and runs their session
// lifecycle: upgrade, welcome, heartbeat, message dispatch and teardown.
// Each connection gets a writer pump that is the only goroutine touching
// the socket for writes; everything else queues frames through the
// registry.
package ws

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/vera-byte/vconnect/internal/cluster"
	"github.com/vera-byte/vconnect/internal/common/cnst"
	"github.com/vera-byte/vconnect/internal/common/config"
	"github.com/vera-byte/vconnect/internal/plugin/pool"
	"github.com/vera-byte/vconnect/internal/registry"
	"github.com/vera-byte/vconnect/internal/storage"
	"github.com/vera-byte/vconnect/pkg/metrics"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(*http.Request) bool { return true },
}

// Server owns the WebSocket surface of one node.
type Server struct {
	logger  *zap.Logger
	cfg     *config.ServerConfig
	nodeID  string
	reg     *registry.Registry
	dir     *cluster.Directory
	rep     *cluster.Replicator
	store   storage.Store
	plugins *pool.Pool
	met     *metrics.Metrics
}

func NewServer(
	logger *zap.Logger,
	cfg *config.ServerConfig,
	nodeID string,
	reg *registry.Registry,
	dir *cluster.Directory,
	rep *cluster.Replicator,
	store storage.Store,
	plugins *pool.Pool,
) *Server {
	return &Server{
		logger:  logger.Named("ws"),
		cfg:     cfg,
		nodeID:  nodeID,
		reg:     reg,
		dir:     dir,
		rep:     rep,
		store:   store,
		plugins: plugins,
	}
}

// WithMetrics attaches connection and message counters. Optional.
func (s *Server) WithMetrics(m *metrics.Metrics) *Server {
	s.met = m
	return s
}

// Routes mounts the WebSocket endpoint.
func (s *Server) Routes(r gin.IRouter) {
	r.GET("/ws", s.handleUpgrade)
}

func (s *Server) handleUpgrade(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.logger.Warn("upgrade failed",
			zap.String("remote", c.Request.RemoteAddr),
			zap.Error(err))
		return
	}
	// The connection outlives the HTTP exchange it was hijacked from, so
	// it does not inherit the request context.
	s.serveConn(context.Background(), conn)
}

// serveConn runs one connection to completion.
func (s *Server) serveConn(ctx context.Context, conn *websocket.Conn) {
	clientID := uuid.NewString()
	sess := s.reg.Add(clientID, conn.RemoteAddr().String())
	if err := s.dir.RegisterClientLocation(ctx, clientID, s.nodeID); err != nil {
		s.logger.Warn("register client location failed",
			zap.String("client_id", clientID), zap.Error(err))
	}
	if s.met != nil {
		s.met.ConnOpened()
	}
	s.logger.Info("client connected",
		zap.String("client_id", clientID),
		zap.String("remote", conn.RemoteAddr().String()))

	go s.writePump(conn, sess)

	// Connections that never authenticate get closed once the deadline
	// passes. The timer is disarmed by the first successful auth.
	var watchdog *time.Timer
	if s.cfg.AuthDeadline > 0 {
		watchdog = time.AfterFunc(s.cfg.AuthDeadline, func() {
			if sess.UID() != "" {
				return
			}
			s.logger.Info("closing unauthenticated connection",
				zap.String("client_id", clientID))
			_ = s.reg.SendToClient(clientID, registry.Frame{Type: registry.FrameClose})
		})
	}

	s.welcome(clientID)
	s.readLoop(ctx, conn, sess)

	if watchdog != nil {
		watchdog.Stop()
	}
	s.teardown(ctx, clientID)
}

func (s *Server) welcome(clientID string) {
	_ = s.reg.SendToClient(clientID, registry.Frame{
		Type: registry.FrameText,
		Data: envelope(cnst.MsgTypeWelcome, &WelcomeData{
			ClientID:           clientID,
			NodeID:             s.nodeID,
			ServerTime:         time.Now().UnixMilli(),
			HeartbeatTimeoutMS: s.cfg.HeartbeatTimeoutMS,
		}),
	})
}

// writePump is the sole writer on the socket. It drains the session's
// outbound channel until the channel closes or a close frame is queued.
func (s *Server) writePump(conn *websocket.Conn, sess *registry.Session) {
	defer conn.Close()
	for f := range sess.Outbound() {
		switch f.Type {
		case registry.FrameClose:
			deadline := time.Now().Add(time.Second)
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadline)
			return
		default:
			if err := conn.WriteMessage(websocket.TextMessage, f.Data); err != nil {
				return
			}
			if s.met != nil {
				s.met.WsMessage("text", "out")
			}
		}
	}
}

func (s *Server) readLoop(ctx context.Context, conn *websocket.Conn, sess *registry.Session) {
	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err,
				websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.logger.Debug("read failed",
					zap.String("client_id", sess.ClientID), zap.Error(err))
			}
			return
		}
		if msgType != websocket.TextMessage {
			continue
		}
		if s.met != nil {
			s.met.WsMessage("text", "in")
		}
		s.dispatch(ctx, sess, data)
	}
}

// teardown removes every trace of the connection. Remove is idempotent, so
// racing with the reaper is harmless.
func (s *Server) teardown(ctx context.Context, clientID string) {
	sess, ok := s.reg.Remove(clientID)
	if !ok {
		return
	}
	if err := s.dir.RemoveClientLocation(ctx, clientID); err != nil {
		s.logger.Warn("remove client location failed",
			zap.String("client_id", clientID), zap.Error(err))
	}
	if s.met != nil {
		s.met.ConnClosed()
	}
	s.logger.Info("client disconnected",
		zap.String("client_id", clientID),
		zap.String("uid", sess.UID()))
}
