package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/mcdev12/codeclash/go/internal/wire"
)

// Relay forwards locally published messages to other gateway instances.
type Relay interface {
	Publish(channel string, body []byte) error
}

// ConnectionManager manages websocket connections and the channels they subscribe to
type ConnectionManager struct {
	// Connection pools organized by channel
	channels    map[string]map[*Connection]bool
	connections map[*Connection]bool
	mu          sync.RWMutex

	upgrader websocket.Upgrader
	config   ConnectionConfig

	broadcastCh chan BroadcastMessage

	relayMu sync.RWMutex
	relay   Relay
}

// Connection represents a websocket connection to a client
type Connection struct {
	ID      string
	UserID  string
	Conn    *websocket.Conn
	Send    chan []byte
	Manager *ConnectionManager

	// guarded by Manager.mu
	channels map[string]bool

	ConnectedAt time.Time
}

// ConnectionConfig holds configuration for websocket connections
type ConnectionConfig struct {
	WriteTimeout    time.Duration
	ReadTimeout     time.Duration
	PingInterval    time.Duration
	MaxMessageSize  int64
	ReadBufferSize  int
	WriteBufferSize int
	SendBufferSize  int
	BroadcastBuffer int
	CheckOrigin     func(r *http.Request) bool
}

// BroadcastMessage is a message body to fan out to every subscriber of Channel
type BroadcastMessage struct {
	Channel string
	Body    json.RawMessage
}

// DefaultConnectionConfig returns default websocket configuration
func DefaultConnectionConfig() ConnectionConfig {
	return ConnectionConfig{
		WriteTimeout:    10 * time.Second,
		ReadTimeout:     60 * time.Second,
		PingInterval:    30 * time.Second,
		MaxMessageSize:  64 * 1024, // view states carry full source files
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		SendBufferSize:  256,
		BroadcastBuffer: 1000,
		CheckOrigin: func(r *http.Request) bool {
			return true
		},
	}
}

// NewConnectionManager creates a new websocket connection manager
func NewConnectionManager(config ConnectionConfig) *ConnectionManager {
	defaults := DefaultConnectionConfig()
	if config.SendBufferSize <= 0 {
		config.SendBufferSize = defaults.SendBufferSize
	}
	if config.BroadcastBuffer <= 0 {
		config.BroadcastBuffer = defaults.BroadcastBuffer
	}
	if config.PingInterval <= 0 {
		config.PingInterval = defaults.PingInterval
	}

	return &ConnectionManager{
		channels:    make(map[string]map[*Connection]bool),
		connections: make(map[*Connection]bool),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  config.ReadBufferSize,
			WriteBufferSize: config.WriteBufferSize,
			CheckOrigin:     config.CheckOrigin,
		},
		config:      config,
		broadcastCh: make(chan BroadcastMessage, config.BroadcastBuffer),
	}
}

// SetRelay sets where client publishes are forwarded besides local subscribers.
func (cm *ConnectionManager) SetRelay(relay Relay) {
	cm.relayMu.Lock()
	cm.relay = relay
	cm.relayMu.Unlock()
}

// Start processes broadcast messages until ctx is done
func (cm *ConnectionManager) Start(ctx context.Context) {
	log.Info().Msg("connection manager started")

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("connection manager shutting down")
			cm.closeAll()
			return
		case message := <-cm.broadcastCh:
			cm.handleBroadcast(message)
		}
	}
}

// UpgradeConnection upgrades an HTTP connection to websocket
func (cm *ConnectionManager) UpgradeConnection(w http.ResponseWriter, r *http.Request, userID string) error {
	conn, err := cm.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return fmt.Errorf("failed to upgrade connection: %w", err)
	}

	connection := &Connection{
		ID:          uuid.New().String(),
		UserID:      userID,
		Conn:        conn,
		Send:        make(chan []byte, cm.config.SendBufferSize),
		Manager:     cm,
		channels:    make(map[string]bool),
		ConnectedAt: time.Now(),
	}

	cm.registerConnection(connection)

	go connection.writePump()
	go connection.readPump()

	log.Info().
		Str("connection_id", connection.ID).
		Str("user_id", userID).
		Msg("websocket connection established")

	return nil
}

func (cm *ConnectionManager) registerConnection(conn *Connection) {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	cm.connections[conn] = true
}

// unregisterConnection removes a connection from every pool and closes its send queue
func (cm *ConnectionManager) unregisterConnection(conn *Connection) {
	cm.mu.Lock()
	defer cm.mu.Unlock()

	if !cm.connections[conn] {
		return
	}
	for channel := range conn.channels {
		cm.removeLocked(conn, channel)
	}
	delete(cm.connections, conn)
	close(conn.Send)

	log.Info().
		Str("connection_id", conn.ID).
		Str("user_id", conn.UserID).
		Msg("connection unregistered")
}

// subscribe adds conn to the pool of channel
func (cm *ConnectionManager) subscribe(conn *Connection, channel string) bool {
	cm.mu.Lock()
	defer cm.mu.Unlock()

	if !cm.connections[conn] {
		return false
	}
	if cm.channels[channel] == nil {
		cm.channels[channel] = make(map[*Connection]bool)
	}
	cm.channels[channel][conn] = true
	conn.channels[channel] = true

	log.Debug().
		Str("connection_id", conn.ID).
		Str("channel", channel).
		Int("subscribers", len(cm.channels[channel])).
		Msg("channel subscribed")
	return true
}

func (cm *ConnectionManager) unsubscribe(conn *Connection, channel string) {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	cm.removeLocked(conn, channel)
}

func (cm *ConnectionManager) removeLocked(conn *Connection, channel string) {
	delete(conn.channels, channel)
	pool, ok := cm.channels[channel]
	if !ok {
		return
	}
	delete(pool, conn)
	// Clean up empty channel pools
	if len(pool) == 0 {
		delete(cm.channels, channel)
	}
}

// Broadcast queues body for every local subscriber of channel. The message is dropped when the
// queue is full.
func (cm *ConnectionManager) Broadcast(channel string, body []byte) {
	select {
	case cm.broadcastCh <- BroadcastMessage{Channel: channel, Body: body}:
	default:
		log.Warn().Str("channel", channel).Msg("broadcast channel full, dropping message")
	}
}

// Publish fans body out locally and to the relay, if any.
func (cm *ConnectionManager) Publish(channel string, body []byte) error {
	cm.Broadcast(channel, body)

	cm.relayMu.RLock()
	relay := cm.relay
	cm.relayMu.RUnlock()
	if relay == nil {
		return nil
	}
	if err := relay.Publish(channel, body); err != nil {
		return fmt.Errorf("relay publish: %w", err)
	}
	return nil
}

// handleBroadcast delivers a message to the subscribers of its channel
func (cm *ConnectionManager) handleBroadcast(message BroadcastMessage) {
	data, err := json.Marshal(wire.Frame{Op: wire.OpMessage, Channel: message.Channel, Body: message.Body})
	if err != nil {
		log.Error().Err(err).Str("channel", message.Channel).Msg("failed to marshal frame for broadcast")
		return
	}

	var slow []*Connection
	cm.mu.RLock()
	pool := cm.channels[message.Channel]
	for conn := range pool {
		select {
		case conn.Send <- data:
		default:
			slow = append(slow, conn)
		}
	}
	delivered := len(pool) - len(slow)
	cm.mu.RUnlock()

	// Connection is slow/dead, close it
	for _, conn := range slow {
		log.Warn().
			Str("connection_id", conn.ID).
			Str("user_id", conn.UserID).
			Msg("connection send buffer full, closing connection")
		cm.unregisterConnection(conn)
		conn.Conn.Close()
	}

	log.Debug().
		Str("channel", message.Channel).
		Int("connections", delivered).
		Msg("message broadcasted")
}

// reply queues a control frame for one connection
func (cm *ConnectionManager) reply(conn *Connection, f wire.Frame) {
	data, err := json.Marshal(f)
	if err != nil {
		log.Error().Err(err).Msg("failed to marshal reply frame")
		return
	}

	cm.mu.RLock()
	defer cm.mu.RUnlock()
	if !cm.connections[conn] {
		return
	}
	select {
	case conn.Send <- data:
	default:
		log.Warn().Str("connection_id", conn.ID).Str("op", string(f.Op)).Msg("send buffer full, dropping reply")
	}
}

func (cm *ConnectionManager) closeAll() {
	cm.mu.RLock()
	conns := make([]*Connection, 0, len(cm.connections))
	for conn := range cm.connections {
		conns = append(conns, conn)
	}
	cm.mu.RUnlock()

	for _, conn := range conns {
		cm.unregisterConnection(conn)
	}
}

// Subscribers returns how many local connections subscribe to channel
func (cm *ConnectionManager) Subscribers(channel string) int {
	cm.mu.RLock()
	defer cm.mu.RUnlock()
	return len(cm.channels[channel])
}

// GetConnectionStats returns statistics about active connections
func (cm *ConnectionManager) GetConnectionStats() map[string]interface{} {
	cm.mu.RLock()
	defer cm.mu.RUnlock()

	channelCounts := make(map[string]int, len(cm.channels))
	for channel, pool := range cm.channels {
		channelCounts[channel] = len(pool)
	}

	return map[string]interface{}{
		"total_connections":   len(cm.connections),
		"active_channels":     len(cm.channels),
		"channel_connections": channelCounts,
	}
}

// writePump handles sending frames and pings to the websocket connection
func (c *Connection) writePump() {
	ticker := time.NewTicker(c.Manager.config.PingInterval)
	defer func() {
		ticker.Stop()
		c.Conn.Close()
		c.Manager.unregisterConnection(c)
	}()

	for {
		select {
		case message, ok := <-c.Send:
			c.Conn.SetWriteDeadline(time.Now().Add(c.Manager.config.WriteTimeout))
			if !ok {
				// Channel was closed
				c.Conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			if err := c.Conn.WriteMessage(websocket.TextMessage, message); err != nil {
				log.Error().
					Err(err).
					Str("connection_id", c.ID).
					Msg("failed to write frame to websocket")
				return
			}

		case <-ticker.C:
			c.Conn.SetWriteDeadline(time.Now().Add(c.Manager.config.WriteTimeout))
			if err := c.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				log.Error().
					Err(err).
					Str("connection_id", c.ID).
					Msg("failed to send ping")
				return
			}
		}
	}
}

// readPump handles reading frames from the websocket connection
func (c *Connection) readPump() {
	defer func() {
		c.Manager.unregisterConnection(c)
		c.Conn.Close()
	}()

	extend := func() { c.Conn.SetReadDeadline(time.Now().Add(c.Manager.config.ReadTimeout)) }

	c.Conn.SetReadLimit(c.Manager.config.MaxMessageSize)
	extend()
	c.Conn.SetPongHandler(func(string) error {
		extend()
		return nil
	})

	for {
		_, message, err := c.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Error().
					Err(err).
					Str("connection_id", c.ID).
					Msg("unexpected websocket close error")
			}
			return
		}

		c.handleClientMessage(message)
		extend()
	}
}

// handleClientMessage processes a frame received from the client
func (c *Connection) handleClientMessage(message []byte) {
	var f wire.Frame
	if err := json.Unmarshal(message, &f); err != nil {
		log.Warn().Err(err).Str("connection_id", c.ID).Msg("unreadable client frame")
		c.Manager.reply(c, wire.Frame{Op: wire.OpError, Error: "unreadable frame"})
		return
	}

	switch f.Op {
	case wire.OpSubscribe:
		if _, err := wire.ParseChannel(f.Channel); err != nil {
			c.fail(f, err)
			return
		}
		if c.Manager.subscribe(c, f.Channel) {
			c.ack(f)
		}

	case wire.OpUnsubscribe:
		c.Manager.unsubscribe(c, f.Channel)
		c.ack(f)

	case wire.OpPublish:
		if _, err := wire.ParseChannel(f.Channel); err != nil {
			c.fail(f, err)
			return
		}
		if !json.Valid(f.Body) {
			c.fail(f, fmt.Errorf("body is not valid JSON"))
			return
		}
		if err := c.Manager.Publish(f.Channel, f.Body); err != nil {
			log.Error().Err(err).Str("channel", f.Channel).Msg("failed to publish client message")
			c.fail(f, err)
			return
		}
		c.ack(f)

	default:
		c.fail(f, fmt.Errorf("unsupported op %q", f.Op))
	}
}

func (c *Connection) ack(f wire.Frame) {
	if f.ID == "" {
		return
	}
	c.Manager.reply(c, wire.Frame{Op: wire.OpAck, ID: f.ID, Channel: f.Channel})
}

func (c *Connection) fail(f wire.Frame, err error) {
	log.Debug().
		Err(err).
		Str("connection_id", c.ID).
		Str("op", string(f.Op)).
		Str("channel", f.Channel).
		Msg("rejected client frame")
	c.Manager.reply(c, wire.Frame{Op: wire.OpError, ID: f.ID, Channel: f.Channel, Error: err.Error()})
}
