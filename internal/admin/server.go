// Package admin exposes the operational HTTP surface of a node: health,
// roster, message injection, room management, uid controls and plugin
// status. Handlers are thin glue over core methods, which are safe for
// concurrent use.
package admin

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/vera-byte/vconnect/internal/plugin/pool"
	"github.com/vera-byte/vconnect/internal/registry"
	"github.com/vera-byte/vconnect/internal/ws"
	"github.com/vera-byte/vconnect/pkg/metrics"
	"github.com/vera-byte/vconnect/pkg/version"
)

type Server struct {
	logger  *zap.Logger
	nodeID  string
	reg     *registry.Registry
	core    *ws.Server
	plugins *pool.Pool
	met     *metrics.Metrics
}

func NewServer(logger *zap.Logger, nodeID string, reg *registry.Registry, core *ws.Server, plugins *pool.Pool) *Server {
	return &Server{
		logger:  logger.Named("admin"),
		nodeID:  nodeID,
		reg:     reg,
		core:    core,
		plugins: plugins,
	}
}

// WithMetrics mounts /metrics and instruments the admin routes. Optional.
func (s *Server) WithMetrics(m *metrics.Metrics) *Server {
	s.met = m
	return s
}

// Routes mounts the admin API.
func (s *Server) Routes(r *gin.Engine) {
	if s.met != nil {
		r.Use(s.met.Middleware())
		r.GET("/metrics", gin.WrapH(s.met.Handler()))
	}

	api := r.Group("/api/v1")
	api.GET("/health", s.handleHealth)
	api.GET("/connection/list", s.handleConnectionList)
	api.POST("/message/send", s.handleMessageSend)
	api.POST("/message/broadcast", s.handleMessageBroadcast)
	api.GET("/room/:id/members", s.handleRoomMembers)
	api.POST("/room/join", s.handleRoomJoin)
	api.POST("/room/leave", s.handleRoomLeave)
	api.GET("/offline/count", s.handleOfflineCount)
	api.POST("/admin/uid/block", s.handleBlockUID)
	api.POST("/admin/uid/rate_limit", s.handleRateLimit)
	api.GET("/plugins", s.handlePlugins)
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":      "ok",
		"node_id":     s.nodeID,
		"version":     version.Get(),
		"connections": s.reg.Count(),
	})
}

func (s *Server) handleConnectionList(c *gin.Context) {
	clients := s.reg.OnlineClients()
	c.JSON(http.StatusOK, gin.H{
		"count":   len(clients),
		"clients": clients,
	})
}

type sendRequest struct {
	FromUID string `json:"from_uid"`
	ToUID   string `json:"to_uid" binding:"required"`
	Content string `json:"content" binding:"required"`
	MsgType string `json:"msg_type"`
}

func (s *Server) handleMessageSend(c *gin.Context) {
	var req sendRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if req.FromUID == "" {
		req.FromUID = "system"
	}
	msgID, err := s.core.SendDirect(c.Request.Context(), req.FromUID, req.ToUID, req.Content, req.MsgType)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"message_id": msgID})
}

type broadcastRequest struct {
	FromUID string `json:"from_uid"`
	Content string `json:"content" binding:"required"`
	MsgType string `json:"msg_type"`
}

func (s *Server) handleMessageBroadcast(c *gin.Context) {
	var req broadcastRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if req.FromUID == "" {
		req.FromUID = "system"
	}
	delivered := s.core.BroadcastText(req.FromUID, req.Content, req.MsgType)
	c.JSON(http.StatusOK, gin.H{"delivered": delivered})
}

func (s *Server) handleRoomMembers(c *gin.Context) {
	roomID := c.Param("id")
	c.JSON(http.StatusOK, gin.H{
		"room_id": roomID,
		"members": s.reg.RoomMembers(roomID),
	})
}

type roomRequest struct {
	RoomID string `json:"room_id" binding:"required"`
	UID    string `json:"uid" binding:"required"`
}

func (s *Server) handleRoomJoin(c *gin.Context) {
	var req roomRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	added := s.reg.JoinRoom(req.RoomID, req.UID)
	c.JSON(http.StatusOK, gin.H{"room_id": req.RoomID, "uid": req.UID, "added": added})
}

func (s *Server) handleRoomLeave(c *gin.Context) {
	var req roomRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	removed := s.reg.LeaveRoom(req.RoomID, req.UID)
	c.JSON(http.StatusOK, gin.H{"room_id": req.RoomID, "uid": req.UID, "removed": removed})
}

func (s *Server) handleOfflineCount(c *gin.Context) {
	uid := c.Query("uid")
	if uid == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "uid query parameter is required"})
		return
	}
	count, err := s.core.OfflineCount(c.Request.Context(), uid)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"uid": uid, "count": count})
}

type blockRequest struct {
	UID     string `json:"uid" binding:"required"`
	Blocked *bool  `json:"blocked" binding:"required"`
}

func (s *Server) handleBlockUID(c *gin.Context) {
	var req blockRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if *req.Blocked {
		s.reg.BlockUID(req.UID)
	} else {
		s.reg.UnblockUID(req.UID)
	}
	s.logger.Info("uid block state changed",
		zap.String("uid", req.UID),
		zap.Bool("blocked", *req.Blocked))
	c.JSON(http.StatusOK, gin.H{"uid": req.UID, "blocked": *req.Blocked})
}

type rateLimitRequest struct {
	UID   string `json:"uid" binding:"required"`
	Limit int    `json:"limit"`
}

func (s *Server) handleRateLimit(c *gin.Context) {
	var req rateLimitRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	s.reg.SetRateLimit(req.UID, req.Limit)
	s.logger.Info("uid rate limit changed",
		zap.String("uid", req.UID),
		zap.Int("limit", req.Limit))
	c.JSON(http.StatusOK, gin.H{"uid": req.UID, "limit": req.Limit})
}

func (s *Server) handlePlugins(c *gin.Context) {
	var sums []pool.PluginRuntimeSummary
	if s.plugins != nil {
		sums = s.plugins.Summaries()
	}
	c.JSON(http.StatusOK, gin.H{"plugins": sums})
}
