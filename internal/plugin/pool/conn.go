package pool

import (
	"context"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/vera-byte/vconnect/internal/common/cnst"
	"github.com/vera-byte/vconnect/internal/protocol"
)

// pluginConn is one live plugin connection. A single writer goroutine owns
// the socket for writes; the reader goroutine routes responses to waiting
// callers through the correlation map, so any number of calls may be in
// flight on one connection without cross-talk.
type pluginConn struct {
	name         string
	version      string
	capabilities []string
	priority     int32
	codec        protocol.Codec
	conn         net.Conn
	logger       *zap.Logger
	connectedAt  time.Time

	writeCh chan []byte
	closed  chan struct{}
	once    sync.Once

	pendMu  sync.Mutex
	pending map[string]chan *protocol.EventResponse
}

func newPluginConn(hs *protocol.HandshakeRequest, conn net.Conn, logger *zap.Logger) *pluginConn {
	c := &pluginConn{
		name:         hs.Name,
		version:      hs.Version,
		capabilities: hs.Capabilities,
		priority:     hs.Priority,
		codec:        protocol.Negotiate(hs.Protocol),
		conn:         conn,
		logger:       logger.With(zap.String("plugin", hs.Name)),
		connectedAt:  time.Now(),
		writeCh:      make(chan []byte, 64),
		closed:       make(chan struct{}),
		pending:      make(map[string]chan *protocol.EventResponse),
	}
	go c.writeLoop()
	go c.readLoop()
	return c
}

func (c *pluginConn) hasCapability(cap string) bool {
	for _, have := range c.capabilities {
		if have == cap {
			return true
		}
	}
	return false
}

func (c *pluginConn) alive() bool {
	select {
	case <-c.closed:
		return false
	default:
		return true
	}
}

// close tears the connection down and wakes every waiting caller. The
// pending channels are closed, which waiters observe as the plugin having
// gone away.
func (c *pluginConn) close() {
	c.once.Do(func() {
		close(c.closed)
		c.conn.Close()
		c.pendMu.Lock()
		for id, ch := range c.pending {
			close(ch)
			delete(c.pending, id)
		}
		c.pendMu.Unlock()
	})
}

func (c *pluginConn) writeLoop() {
	for {
		select {
		case <-c.closed:
			return
		case raw := <-c.writeCh:
			if err := protocol.WriteFrame(c.conn, raw); err != nil {
				c.logger.Warn("plugin write failed", zap.Error(err))
				c.close()
				return
			}
		}
	}
}

func (c *pluginConn) readLoop() {
	for {
		frame, err := protocol.ReadFrame(c.conn)
		if err != nil {
			if c.alive() {
				c.logger.Warn("plugin read failed", zap.Error(err))
			}
			c.close()
			return
		}
		var resp protocol.EventResponse
		if err := c.codec.Unmarshal(frame, &resp); err != nil {
			c.logger.Warn("undecodable plugin response", zap.Error(err))
			continue
		}
		c.pendMu.Lock()
		ch, ok := c.pending[resp.CorrelationID]
		if ok {
			delete(c.pending, resp.CorrelationID)
		}
		c.pendMu.Unlock()
		if !ok {
			// Late reply after a caller timed out. Drop it.
			continue
		}
		ch <- &resp
	}
}

// roundTrip sends one event and waits for its correlated response. The
// pending slot is removed on every exit path, so a timeout or cancel never
// leaks a correlation entry.
func (c *pluginConn) roundTrip(ctx context.Context, timeout time.Duration, eventType string, reqBody any) (*protocol.EventResponse, error) {
	payload, err := c.codec.Marshal(reqBody)
	if err != nil {
		return nil, err
	}
	evt := protocol.EventMessage{
		EventType:     eventType,
		Payload:       payload,
		Timestamp:     time.Now().UnixMilli(),
		CorrelationID: uuid.NewString(),
	}
	raw, err := c.codec.Marshal(&evt)
	if err != nil {
		return nil, err
	}

	ch := make(chan *protocol.EventResponse, 1)
	c.pendMu.Lock()
	c.pending[evt.CorrelationID] = ch
	c.pendMu.Unlock()
	defer func() {
		c.pendMu.Lock()
		delete(c.pending, evt.CorrelationID)
		c.pendMu.Unlock()
	}()

	select {
	case c.writeCh <- raw:
	case <-c.closed:
		return nil, cnst.ErrPluginUnavailable
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case resp, ok := <-ch:
		if !ok {
			return nil, cnst.ErrPluginUnavailable
		}
		return resp, nil
	case <-c.closed:
		return nil, cnst.ErrPluginUnavailable
	case <-timer.C:
		return nil, cnst.ErrPluginTimeout
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
