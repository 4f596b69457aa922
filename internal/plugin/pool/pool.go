// Package pool is the node side of the plugin runtime: it listens on one
// unix socket per configured plugin, handshakes inbound processes and
// exposes typed calls over the event envelope. Calls pick a plugin by
// capability and priority, never by socket, so plugins can be swapped
// without touching callers.
package pool

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"os"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/vera-byte/vconnect/internal/common/cnst"
	"github.com/vera-byte/vconnect/internal/common/config"
	"github.com/vera-byte/vconnect/internal/protocol"
	"github.com/vera-byte/vconnect/pkg/metrics"
)

const healthInterval = 30 * time.Second

// Status values reported in plugin summaries.
const (
	StatusStarting = "starting"
	StatusReady    = "ready"
	StatusDegraded = "degraded"
	StatusStopped  = "stopped"
)

// PluginRuntimeSummary is one row of the admin plugin listing.
type PluginRuntimeSummary struct {
	Name         string    `json:"name"`
	Version      string    `json:"version,omitempty"`
	Capabilities []string  `json:"capabilities,omitempty"`
	Status       string    `json:"status"`
	ConnectedAt  time.Time `json:"connected_at,omitzero"`
}

type Pool struct {
	logger *zap.Logger
	cfg    *config.PluginConfig
	met    *metrics.Metrics

	mu        sync.RWMutex
	conns     map[string]*pluginConn
	listeners []net.Listener
	stopped   bool
}

func New(logger *zap.Logger, cfg *config.PluginConfig) *Pool {
	return &Pool{
		logger: logger.Named("plugin.pool"),
		cfg:    cfg,
		conns:  make(map[string]*pluginConn),
	}
}

// WithMetrics attaches RPC counters. Optional.
func (p *Pool) WithMetrics(m *metrics.Metrics) *Pool {
	p.met = m
	return p
}

// Start opens one unix listener per configured plugin and begins accepting.
// Stale sockets from a previous run are removed first.
func (p *Pool) Start(ctx context.Context) error {
	if err := os.MkdirAll(p.cfg.SocketDir, 0o755); err != nil {
		return fmt.Errorf("create socket dir %s: %w", p.cfg.SocketDir, err)
	}
	for _, proc := range p.cfg.Plugins {
		path := proc.SocketPath(p.cfg.SocketDir)
		if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("remove stale socket %s: %w", path, err)
		}
		ln, err := net.Listen("unix", path)
		if err != nil {
			return fmt.Errorf("listen %s: %w", path, err)
		}
		p.mu.Lock()
		p.listeners = append(p.listeners, ln)
		p.mu.Unlock()
		p.logger.Info("plugin socket open",
			zap.String("plugin", proc.Name),
			zap.String("socket", path))
		go p.acceptLoop(ctx, ln, proc)
	}
	return nil
}

// Close shuts every listener and connection down.
func (p *Pool) Close() {
	p.mu.Lock()
	p.stopped = true
	listeners := p.listeners
	p.listeners = nil
	conns := make([]*pluginConn, 0, len(p.conns))
	for _, c := range p.conns {
		conns = append(conns, c)
	}
	p.mu.Unlock()

	for _, ln := range listeners {
		ln.Close()
	}
	for _, c := range conns {
		c.close()
	}
}

func (p *Pool) acceptLoop(ctx context.Context, ln net.Listener, proc config.PluginProcess) {
	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil || p.isStopped() {
				return
			}
			p.logger.Warn("accept failed",
				zap.String("plugin", proc.Name),
				zap.Error(err))
			return
		}
		go p.handshake(ctx, conn, proc)
	}
}

// handshake reads the plugin's announcement and registers the connection.
// Handshake frames are always JSON; only the event traffic that follows
// uses the codec the plugin asked for.
func (p *Pool) handshake(ctx context.Context, conn net.Conn, proc config.PluginProcess) {
	conn.SetReadDeadline(time.Now().Add(10 * time.Second))
	frame, err := protocol.ReadFrame(conn)
	if err != nil {
		p.logger.Warn("handshake read failed", zap.String("socket", proc.Name), zap.Error(err))
		conn.Close()
		return
	}
	conn.SetReadDeadline(time.Time{})

	var hs protocol.HandshakeRequest
	if err := json.Unmarshal(frame, &hs); err != nil {
		p.logger.Warn("undecodable handshake", zap.Error(err))
		conn.Close()
		return
	}
	if hs.Name == "" {
		p.reject(conn, "handshake missing plugin name")
		return
	}
	if hs.Name != proc.Name {
		p.logger.Warn("plugin name differs from configured socket",
			zap.String("configured", proc.Name),
			zap.String("announced", hs.Name))
	}

	codec := protocol.Negotiate(hs.Protocol)
	resp := protocol.HandshakeResponse{
		Status:   cnst.StatusOK,
		Config:   proc.Config,
		Protocol: codec.Name(),
	}
	raw, err := json.Marshal(&resp)
	if err != nil {
		conn.Close()
		return
	}
	if err := protocol.WriteFrame(conn, raw); err != nil {
		p.logger.Warn("handshake write failed", zap.String("plugin", hs.Name), zap.Error(err))
		conn.Close()
		return
	}

	c := newPluginConn(&hs, conn, p.logger)

	p.mu.Lock()
	if p.stopped {
		p.mu.Unlock()
		c.close()
		return
	}
	prev := p.conns[hs.Name]
	p.conns[hs.Name] = c
	p.mu.Unlock()
	if prev != nil {
		prev.close()
	}

	p.logger.Info("plugin registered",
		zap.String("plugin", hs.Name),
		zap.String("version", hs.Version),
		zap.Strings("capabilities", hs.Capabilities),
		zap.Int32("priority", hs.Priority),
		zap.String("codec", codec.Name()))

	go p.healthLoop(ctx, c)
}

func (p *Pool) reject(conn net.Conn, msg string) {
	resp := protocol.HandshakeResponse{Status: cnst.StatusError, Message: msg}
	if raw, err := json.Marshal(&resp); err == nil {
		_ = protocol.WriteFrame(conn, raw)
	}
	conn.Close()
}

// healthLoop probes the plugin until the connection dies. A failed probe
// closes the connection; the plugin's own runtime reconnects.
func (p *Pool) healthLoop(ctx context.Context, c *pluginConn) {
	ticker := time.NewTicker(healthInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-c.closed:
			return
		case <-ticker.C:
			req := protocol.HealthCheckRequest{Timestamp: time.Now().UnixMilli()}
			resp, err := c.roundTrip(ctx, p.cfg.CallTimeout, cnst.EventHealthCheck, &req)
			if err != nil || resp.Status != cnst.StatusOK {
				c.logger.Warn("health check failed", zap.Error(err))
				c.close()
				return
			}
		}
	}
}

func (p *Pool) isStopped() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.stopped
}

// byCapability picks the live connection serving a capability: highest
// priority wins, earliest connection breaks ties.
func (p *Pool) byCapability(capability string) (*pluginConn, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	var best *pluginConn
	for _, c := range p.conns {
		if !c.alive() || !c.hasCapability(capability) {
			continue
		}
		if best == nil ||
			c.priority > best.priority ||
			(c.priority == best.priority && c.connectedAt.Before(best.connectedAt)) {
			best = c
		}
	}
	if best == nil {
		return nil, fmt.Errorf("no %s plugin connected: %w", capability, cnst.ErrPluginUnavailable)
	}
	return best, nil
}

// Summaries reports every configured plugin, connected or not, for the
// admin listing. Output is sorted by name.
func (p *Pool) Summaries() []PluginRuntimeSummary {
	p.mu.RLock()
	defer p.mu.RUnlock()

	byName := make(map[string]PluginRuntimeSummary)
	for _, proc := range p.cfg.Plugins {
		status := StatusStarting
		if p.stopped {
			status = StatusStopped
		}
		byName[proc.Name] = PluginRuntimeSummary{Name: proc.Name, Status: status}
	}
	for name, c := range p.conns {
		status := StatusReady
		if !c.alive() {
			status = StatusDegraded
		}
		if p.stopped {
			status = StatusStopped
		}
		byName[name] = PluginRuntimeSummary{
			Name:         name,
			Version:      c.version,
			Capabilities: c.capabilities,
			Status:       status,
			ConnectedAt:  c.connectedAt,
		}
	}

	out := make([]PluginRuntimeSummary, 0, len(byName))
	for _, s := range byName {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}
