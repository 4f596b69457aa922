// Package pdk is the runtime a plugin process embeds to talk to a vconnect
// node. It dials the node's unix socket, performs the handshake, then serves
// events from a handler table until the context is cancelled. Transport
// failures degrade the runtime and trigger reconnection with exponential
// backoff, so a plugin survives node restarts without supervision.
package pdk

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/vera-byte/vconnect/internal/common/cnst"
	"github.com/vera-byte/vconnect/internal/protocol"
)

// HandlerFunc handles one inbound event and returns the response to send
// back. The runtime fills in the correlation id; handlers only set status,
// message and data.
type HandlerFunc func(ctx context.Context, evt *protocol.EventMessage) (*protocol.EventResponse, error)

const (
	dialRetryInterval = 200 * time.Millisecond
	dialRetryBudget   = 10 * time.Second
	backoffInitial    = 500 * time.Millisecond
	backoffMax        = 30 * time.Second
)

type Plugin struct {
	name         string
	version      string
	capabilities []string
	priority     int32
	socketPath   string
	codec        protocol.Codec
	logger       *zap.Logger

	handlers map[string]HandlerFunc
	onConfig func(raw string) error

	state stateValue

	writeMu sync.Mutex // guards frame writes on the live connection
}

type Option func(*Plugin)

// WithCapabilities declares what event families the plugin serves.
func WithCapabilities(caps ...string) Option {
	return func(p *Plugin) { p.capabilities = caps }
}

// WithPriority orders this plugin among others sharing a capability.
// Higher wins.
func WithPriority(prio int32) Option {
	return func(p *Plugin) { p.priority = prio }
}

// WithCodec requests a wire codec by name ("msgpack" or "json").
func WithCodec(name string) Option {
	return func(p *Plugin) { p.codec = protocol.Negotiate(name) }
}

// OnConfig registers a callback for the configuration blob the node pushes
// in the handshake response. Returning an error aborts the session.
func OnConfig(fn func(raw string) error) Option {
	return func(p *Plugin) { p.onConfig = fn }
}

func New(name, version, socketPath string, logger *zap.Logger, opts ...Option) *Plugin {
	p := &Plugin{
		name:       name,
		version:    version,
		socketPath: socketPath,
		codec:      protocol.Msgpack,
		logger:     logger.Named("pdk"),
		handlers:   make(map[string]HandlerFunc),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Register installs the handler for an event type. Last registration wins.
func (p *Plugin) Register(eventType string, h HandlerFunc) {
	p.handlers[eventType] = h
}

func (p *Plugin) State() State { return p.state.get() }

// OK builds a success response carrying data encoded with the session codec.
func (p *Plugin) OK(evt *protocol.EventMessage, data any) (*protocol.EventResponse, error) {
	var raw []byte
	if data != nil {
		var err error
		raw, err = p.codec.Marshal(data)
		if err != nil {
			return nil, fmt.Errorf("marshal response for %s: %w", evt.EventType, err)
		}
	}
	return &protocol.EventResponse{
		CorrelationID: evt.CorrelationID,
		Status:        cnst.StatusOK,
		Data:          raw,
	}, nil
}

// Fail builds an error response with a human-readable message.
func (p *Plugin) Fail(evt *protocol.EventMessage, msg string) *protocol.EventResponse {
	return &protocol.EventResponse{
		CorrelationID: evt.CorrelationID,
		Status:        cnst.StatusError,
		Message:       msg,
	}
}

// Decode unmarshals the event payload into req using the session codec.
func (p *Plugin) Decode(evt *protocol.EventMessage, req any) error {
	return p.codec.Unmarshal(evt.Payload, req)
}

// Run connects, handshakes and serves events until ctx is cancelled. A
// broken transport puts the runtime in Degraded and reconnects with
// exponential backoff; Run only returns on cancellation.
func (p *Plugin) Run(ctx context.Context) error {
	backoff := backoffInitial
	for {
		err := p.session(ctx)
		if ctx.Err() != nil {
			p.state.set(StateStopped)
			p.logger.Info("plugin stopped", zap.String("name", p.name))
			return nil
		}
		p.state.set(StateDegraded)
		p.logger.Warn("session ended, reconnecting",
			zap.String("name", p.name),
			zap.Duration("backoff", backoff),
			zap.Error(err))

		select {
		case <-ctx.Done():
			p.state.set(StateStopped)
			return nil
		case <-time.After(backoff):
		}
		backoff *= 2
		if backoff > backoffMax {
			backoff = backoffMax
		}
	}
}

// session runs one connect-handshake-serve cycle.
func (p *Plugin) session(ctx context.Context) error {
	p.state.set(StateConnecting)
	conn, err := p.dial(ctx)
	if err != nil {
		return err
	}
	defer conn.Close()

	p.state.set(StateHandshaking)
	if err := p.handshake(conn); err != nil {
		return err
	}
	p.state.set(StateReady)
	p.logger.Info("plugin ready",
		zap.String("name", p.name),
		zap.String("codec", p.codec.Name()),
		zap.String("socket", p.socketPath))

	// Unblock the read loop on cancellation.
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-done:
		}
	}()

	return p.serve(ctx, conn)
}

// dial retries until the node's socket exists and accepts, for a bounded
// window. The node may start after the plugin.
func (p *Plugin) dial(ctx context.Context) (net.Conn, error) {
	deadline := time.Now().Add(dialRetryBudget)
	for {
		conn, err := net.Dial("unix", p.socketPath)
		if err == nil {
			return conn, nil
		}
		if time.Now().After(deadline) {
			return nil, fmt.Errorf("dial %s: %w", p.socketPath, err)
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(dialRetryInterval):
		}
	}
}

// handshake announces the plugin and applies the pushed config. Handshake
// frames are always JSON so the node can read them before the codec is
// agreed; everything after uses the negotiated codec.
func (p *Plugin) handshake(conn net.Conn) error {
	req := protocol.HandshakeRequest{
		Name:         p.name,
		Version:      p.version,
		Capabilities: p.capabilities,
		Priority:     p.priority,
		Protocol:     p.codec.Name(),
	}
	raw, err := json.Marshal(&req)
	if err != nil {
		return err
	}
	if err := protocol.WriteFrame(conn, raw); err != nil {
		return fmt.Errorf("send handshake: %w", err)
	}

	frame, err := protocol.ReadFrame(conn)
	if err != nil {
		return fmt.Errorf("read handshake response: %w", err)
	}
	var resp protocol.HandshakeResponse
	if err := json.Unmarshal(frame, &resp); err != nil {
		return fmt.Errorf("decode handshake response: %w", err)
	}
	if resp.Status != cnst.StatusOK {
		return fmt.Errorf("handshake rejected: %s", resp.Message)
	}
	p.codec = protocol.Negotiate(resp.Protocol)
	if resp.Config != "" && p.onConfig != nil {
		if err := p.onConfig(resp.Config); err != nil {
			return fmt.Errorf("apply pushed config: %w", err)
		}
	}
	return nil
}

// serve dispatches inbound events until the transport breaks. Handlers run
// in their own goroutine so a slow event does not stall the connection;
// frame writes are serialized.
func (p *Plugin) serve(ctx context.Context, conn net.Conn) error {
	for {
		frame, err := protocol.ReadFrame(conn)
		if err != nil {
			if errors.Is(err, io.EOF) {
				return fmt.Errorf("connection closed by node: %w", err)
			}
			return err
		}
		var evt protocol.EventMessage
		if err := p.codec.Unmarshal(frame, &evt); err != nil {
			p.logger.Warn("undecodable event frame", zap.Error(err))
			continue
		}
		go p.dispatch(ctx, conn, &evt)
	}
}

func (p *Plugin) dispatch(ctx context.Context, conn net.Conn, evt *protocol.EventMessage) {
	var resp *protocol.EventResponse
	switch {
	case evt.EventType == cnst.EventHealthCheck:
		resp, _ = p.OK(evt, &protocol.HealthCheckResponse{
			Status:    cnst.StatusOK,
			Timestamp: time.Now().UnixMilli(),
		})
	default:
		h, ok := p.handlers[evt.EventType]
		if !ok {
			resp = &protocol.EventResponse{
				CorrelationID: evt.CorrelationID,
				Status:        cnst.StatusUnsupported,
				Message:       fmt.Sprintf("event %q not supported by %s", evt.EventType, p.name),
			}
			break
		}
		var err error
		resp, err = h(ctx, evt)
		if err != nil {
			p.logger.Warn("handler failed",
				zap.String("event", evt.EventType),
				zap.Error(err))
			resp = p.Fail(evt, err.Error())
		}
	}
	if resp == nil {
		return
	}
	resp.CorrelationID = evt.CorrelationID

	raw, err := p.codec.Marshal(resp)
	if err != nil {
		p.logger.Error("marshal response", zap.String("event", evt.EventType), zap.Error(err))
		return
	}
	p.writeMu.Lock()
	err = protocol.WriteFrame(conn, raw)
	p.writeMu.Unlock()
	if err != nil {
		p.logger.Warn("write response", zap.String("event", evt.EventType), zap.Error(err))
	}
}
