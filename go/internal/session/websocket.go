package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/mcdev12/codeclash/go/internal/wire"
)

// WebSocketConfig holds configuration for the gateway websocket transport
type WebSocketConfig struct {
	HandshakeTimeout time.Duration
	WriteTimeout     time.Duration
	PongWait         time.Duration // read deadline, extended on every ping, pong and message
	PingInterval     time.Duration
	MaxMessageSize   int64
	SendBufferSize   int
	Header           http.Header // extra handshake headers, e.g. auth
}

// DefaultWebSocketConfig returns default websocket transport configuration
func DefaultWebSocketConfig() WebSocketConfig {
	return WebSocketConfig{
		HandshakeTimeout: 10 * time.Second,
		WriteTimeout:     10 * time.Second,
		PongWait:         60 * time.Second,
		PingInterval:     30 * time.Second,
		MaxMessageSize:   64 * 1024, // code snapshots travel on view channels
		SendBufferSize:   256,
	}
}

// WebSocketTransport connects to the gateway and speaks wire.Frame over a gorilla websocket.
type WebSocketTransport struct {
	config WebSocketConfig
	dialer *websocket.Dialer
}

// NewWebSocketTransport creates a websocket transport
func NewWebSocketTransport(config WebSocketConfig) *WebSocketTransport {
	return &WebSocketTransport{
		config: config,
		dialer: &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: config.HandshakeTimeout,
		},
	}
}

// Dial implements Transport
func (t *WebSocketTransport) Dial(ctx context.Context, endpoint string) (Conn, error) {
	ws, resp, err := t.dialer.DialContext(ctx, endpoint, t.config.Header)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("websocket handshake failed with status %d: %w", resp.StatusCode, err)
		}
		return nil, fmt.Errorf("websocket dial: %w", err)
	}

	c := &wsConn{
		conn:     ws,
		config:   t.config,
		send:     make(chan []byte, t.config.SendBufferSize),
		handlers: make(map[string]map[string]func([]byte)),
		pending:  make(map[string]chan wire.Frame),
		closed:   make(chan struct{}),
	}

	go c.writePump()
	go c.readPump()

	return c, nil
}

type wsConn struct {
	conn   *websocket.Conn
	config WebSocketConfig
	send   chan []byte

	mu       sync.Mutex
	handlers map[string]map[string]func([]byte) // channel -> handler id -> deliver
	pending  map[string]chan wire.Frame         // frame id -> ack waiter

	closed    chan struct{}
	closeOnce sync.Once
}

func (c *wsConn) Subscribe(ctx context.Context, channel string, deliver func([]byte)) (func() error, error) {
	handlerID := uuid.New().String()
	frameID := uuid.New().String()
	ack := make(chan wire.Frame, 1)

	c.mu.Lock()
	if c.handlers[channel] == nil {
		c.handlers[channel] = make(map[string]func([]byte))
	}
	c.handlers[channel][handlerID] = deliver
	c.pending[frameID] = ack
	err := c.enqueueLocked(ctx, wire.Frame{Op: wire.OpSubscribe, ID: frameID, Channel: channel})
	c.mu.Unlock()

	if err != nil {
		c.removeHandler(channel, handlerID)
		c.forget(frameID)
		return nil, err
	}

	select {
	case f := <-ack:
		if f.Op == wire.OpError {
			c.removeHandler(channel, handlerID)
			return nil, fmt.Errorf("gateway rejected subscription: %s", f.Error)
		}
	case <-ctx.Done():
		c.forget(frameID)
		c.removeHandler(channel, handlerID)
		return nil, ctx.Err()
	case <-c.closed:
		return nil, ErrConnectionClosed
	}

	return func() error { return c.removeHandler(channel, handlerID) }, nil
}

func (c *wsConn) Publish(ctx context.Context, channel string, body []byte) error {
	if !json.Valid(body) {
		return errors.New("publish body is not valid JSON")
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.enqueueLocked(ctx, wire.Frame{Op: wire.OpPublish, Channel: channel, Body: body})
}

func (c *wsConn) Close() error {
	c.shutdown()
	return nil
}

func (c *wsConn) Closed() <-chan struct{} { return c.closed }

// removeHandler drops one local handler and tells the gateway once nobody listens on channel.
func (c *wsConn) removeHandler(channel, handlerID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	handlers, ok := c.handlers[channel]
	if !ok {
		return nil
	}
	if _, ok := handlers[handlerID]; !ok {
		return nil
	}
	delete(handlers, handlerID)
	if len(handlers) > 0 {
		return nil
	}
	delete(c.handlers, channel)
	err := c.enqueueLocked(context.Background(), wire.Frame{Op: wire.OpUnsubscribe, Channel: channel})
	if errors.Is(err, ErrConnectionClosed) {
		return nil
	}
	return err
}

func (c *wsConn) forget(frameID string) {
	c.mu.Lock()
	delete(c.pending, frameID)
	c.mu.Unlock()
}

// enqueueLocked queues a frame for the write pump, waiting for room in the buffer until ctx
// ends. Holding c.mu keeps frames in state order.
func (c *wsConn) enqueueLocked(ctx context.Context, f wire.Frame) error {
	data, err := json.Marshal(f)
	if err != nil {
		return fmt.Errorf("marshal frame: %w", err)
	}
	select {
	case <-c.closed:
		return ErrConnectionClosed
	default:
	}
	select {
	case c.send <- data:
		return nil
	case <-c.closed:
		return ErrConnectionClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *wsConn) shutdown() {
	c.closeOnce.Do(func() {
		close(c.closed)
		_ = c.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(c.config.WriteTimeout))
		c.conn.Close()
	})
}

// writePump handles sending frames and pings to the gateway
func (c *wsConn) writePump() {
	ticker := time.NewTicker(c.config.PingInterval)
	defer func() {
		ticker.Stop()
		c.shutdown()
	}()

	for {
		select {
		case <-c.closed:
			return

		case message := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(c.config.WriteTimeout))
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				log.Error().Err(err).Msg("failed to write frame to gateway")
				return
			}

		case <-ticker.C:
			if err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(c.config.WriteTimeout)); err != nil {
				log.Error().Err(err).Msg("failed to send ping to gateway")
				return
			}
		}
	}
}

// readPump dispatches frames from the gateway
func (c *wsConn) readPump() {
	defer c.shutdown()

	extend := func() { c.conn.SetReadDeadline(time.Now().Add(c.config.PongWait)) }

	c.conn.SetReadLimit(c.config.MaxMessageSize)
	extend()
	c.conn.SetPongHandler(func(string) error {
		extend()
		return nil
	})
	c.conn.SetPingHandler(func(appData string) error {
		extend()
		err := c.conn.WriteControl(websocket.PongMessage, []byte(appData), time.Now().Add(c.config.WriteTimeout))
		if errors.Is(err, websocket.ErrCloseSent) {
			return nil
		}
		return err
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				log.Error().Err(err).Msg("unexpected gateway close")
			}
			return
		}
		extend()

		var f wire.Frame
		if err := json.Unmarshal(data, &f); err != nil {
			log.Warn().Err(err).Msg("ignoring unreadable gateway frame")
			continue
		}
		c.handleFrame(f)
	}
}

func (c *wsConn) handleFrame(f wire.Frame) {
	switch f.Op {
	case wire.OpMessage:
		c.mu.Lock()
		handlers := make([]func([]byte), 0, len(c.handlers[f.Channel]))
		for _, deliver := range c.handlers[f.Channel] {
			handlers = append(handlers, deliver)
		}
		c.mu.Unlock()

		for _, deliver := range handlers {
			deliver(f.Body)
		}

	case wire.OpAck, wire.OpError:
		if f.ID == "" {
			log.Warn().Str("error", f.Error).Msg("gateway reported an error")
			return
		}
		c.mu.Lock()
		ack, ok := c.pending[f.ID]
		delete(c.pending, f.ID)
		c.mu.Unlock()
		if ok {
			ack <- f
		}

	default:
		log.Debug().Str("op", string(f.Op)).Msg("ignoring gateway frame")
	}
}
