package session

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/mcdev12/codeclash/go/internal/wire"
)

// Config holds configuration for a session manager
type Config struct {
	DialTimeout time.Duration
	BufferSize  int // per-subscription queue length

	// OnMalformed is called for every inbound payload that fails to decode. Optional.
	OnMalformed func(channel string, err error)
}

// DefaultConfig returns default session configuration
func DefaultConfig() Config {
	return Config{
		DialTimeout: 10 * time.Second,
		BufferSize:  64,
	}
}

// Manager owns a single live connection and the subscriptions made over it.
// It is safe for concurrent use.
type Manager struct {
	transport Transport
	config    Config

	mu         sync.Mutex
	conn       Conn
	endpoint   string
	connecting bool
	subs       map[string]*Subscription

	malformed atomic.Int64
	dropped   atomic.Int64
}

// NewManager creates a session manager dialing through transport
func NewManager(transport Transport, config Config) *Manager {
	if config.DialTimeout <= 0 {
		config.DialTimeout = DefaultConfig().DialTimeout
	}
	if config.BufferSize <= 0 {
		config.BufferSize = DefaultConfig().BufferSize
	}
	return &Manager{
		transport: transport,
		config:    config,
		subs:      make(map[string]*Subscription),
	}
}

// Connect opens the connection to endpoint.
func (m *Manager) Connect(ctx context.Context, endpoint string) error {
	m.mu.Lock()
	if m.conn != nil || m.connecting {
		m.mu.Unlock()
		return ErrAlreadyConnected
	}
	m.connecting = true
	m.mu.Unlock()

	dialCtx, cancel := context.WithTimeout(ctx, m.config.DialTimeout)
	defer cancel()

	conn, err := m.transport.Dial(dialCtx, endpoint)

	m.mu.Lock()
	m.connecting = false
	if err != nil {
		m.mu.Unlock()
		log.Error().Err(err).Str("endpoint", endpoint).Msg("session connect failed")
		return &ConnectionError{Endpoint: endpoint, Err: err}
	}
	m.conn = conn
	m.endpoint = endpoint
	m.mu.Unlock()

	go m.watch(conn)

	log.Info().Str("endpoint", endpoint).Msg("session connected")
	return nil
}

// Connected reports whether the manager holds an open connection.
func (m *Manager) Connected() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.conn != nil
}

// Subscribe opens a stream of decoded messages on channel.
func (m *Manager) Subscribe(ctx context.Context, channel string) (*Subscription, error) {
	if _, err := wire.ParseChannel(channel); err != nil {
		return nil, err
	}

	m.mu.Lock()
	conn := m.conn
	m.mu.Unlock()
	if conn == nil {
		return nil, ErrNotConnected
	}

	sub := &Subscription{
		id:       uuid.New().String(),
		channel:  channel,
		manager:  m,
		messages: make(chan wire.Inbound, m.config.BufferSize),
		done:     make(chan struct{}),
	}

	unsubscribe, err := conn.Subscribe(ctx, channel, sub.deliver)
	if err != nil {
		sub.close()
		return nil, fmt.Errorf("subscribe to %s: %w", channel, err)
	}

	m.mu.Lock()
	if m.conn != conn {
		// disconnected while the subscribe was in flight
		m.mu.Unlock()
		sub.close()
		return nil, ErrNotConnected
	}
	sub.unsubscribe = unsubscribe
	m.subs[sub.id] = sub
	m.mu.Unlock()

	log.Debug().Str("channel", channel).Str("subscription_id", sub.id).Msg("subscribed")
	return sub, nil
}

// Send publishes msg on channel. It fails with ErrNotConnected when there is no connection;
// sends are never silently dropped.
func (m *Manager) Send(ctx context.Context, channel string, msg wire.Message) error {
	if _, err := wire.ParseChannel(channel); err != nil {
		return err
	}
	if err := msg.Validate(); err != nil {
		return fmt.Errorf("invalid %s message: %w", msg.MessageType(), err)
	}

	m.mu.Lock()
	conn := m.conn
	m.mu.Unlock()
	if conn == nil {
		return ErrNotConnected
	}

	body, err := wire.Encode(msg)
	if err != nil {
		return err
	}
	if err := conn.Publish(ctx, channel, body); err != nil {
		return fmt.Errorf("publish to %s: %w", channel, err)
	}
	return nil
}

// Disconnect closes the connection and ends every subscription made over it.
func (m *Manager) Disconnect() error {
	m.mu.Lock()
	conn := m.conn
	if conn == nil {
		m.mu.Unlock()
		return ErrNotConnected
	}
	subs := m.detachLocked()
	m.mu.Unlock()

	for _, sub := range subs {
		sub.close()
	}
	err := conn.Close()

	log.Info().Str("endpoint", m.endpoint).Int("subscriptions", len(subs)).Msg("session disconnected")
	return err
}

// Stats returns counters about the session
func (m *Manager) Stats() map[string]interface{} {
	m.mu.Lock()
	defer m.mu.Unlock()
	return map[string]interface{}{
		"connected":          m.conn != nil,
		"endpoint":           m.endpoint,
		"subscriptions":      len(m.subs),
		"malformed_messages": m.malformed.Load(),
		"dropped_messages":   m.dropped.Load(),
	}
}

// detachLocked forgets the connection and returns the subscriptions it carried.
func (m *Manager) detachLocked() []*Subscription {
	subs := make([]*Subscription, 0, len(m.subs))
	for _, sub := range m.subs {
		subs = append(subs, sub)
	}
	m.conn = nil
	m.subs = make(map[string]*Subscription)
	return subs
}

// watch tears the session down when conn is lost without Disconnect.
func (m *Manager) watch(conn Conn) {
	<-conn.Closed()

	m.mu.Lock()
	if m.conn != conn {
		m.mu.Unlock()
		return
	}
	subs := m.detachLocked()
	m.mu.Unlock()

	for _, sub := range subs {
		sub.close()
	}
	log.Warn().Str("endpoint", m.endpoint).Msg("session connection lost")
}

// remove forgets sub and reports whether it was still registered.
func (m *Manager) remove(sub *Subscription) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.subs[sub.id]; !ok {
		return false
	}
	delete(m.subs, sub.id)
	return true
}

func (m *Manager) reportMalformed(channel string, err error) {
	m.malformed.Add(1)
	log.Warn().Err(err).Str("channel", channel).Msg("dropping malformed message")
	if m.config.OnMalformed != nil {
		m.config.OnMalformed(channel, err)
	}
}
