package session

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog/log"
)

// DefaultSubjectPrefix is prepended to channel names to form NATS subjects. The gateway bridge
// uses the same prefix so NATS and websocket clients share channels.
const DefaultSubjectPrefix = "codeclash"

// NATSConfig holds configuration for the NATS transport
type NATSConfig struct {
	Name          string
	SubjectPrefix string
	MaxReconnects int
	ReconnectWait time.Duration
}

// DefaultNATSConfig returns default NATS transport configuration
func DefaultNATSConfig() NATSConfig {
	return NATSConfig{
		Name:          "codeclash-session",
		SubjectPrefix: DefaultSubjectPrefix,
		MaxReconnects: -1, // Infinite
		ReconnectWait: 2 * time.Second,
	}
}

// NATSTransport maps channels onto core NATS subjects.
type NATSTransport struct {
	config NATSConfig
}

// NewNATSTransport creates a NATS transport
func NewNATSTransport(config NATSConfig) *NATSTransport {
	if config.SubjectPrefix == "" {
		config.SubjectPrefix = DefaultSubjectPrefix
	}
	return &NATSTransport{config: config}
}

// Subject returns the NATS subject for a channel.
func Subject(prefix, channel string) string {
	return prefix + "." + channel
}

// Dial implements Transport
func (t *NATSTransport) Dial(ctx context.Context, endpoint string) (Conn, error) {
	closed := make(chan struct{})
	var closeOnce sync.Once

	opts := []nats.Option{
		nats.Name(t.config.Name),
		nats.MaxReconnects(t.config.MaxReconnects),
		nats.ReconnectWait(t.config.ReconnectWait),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			log.Error().Err(err).Msg("NATS disconnected")
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info().Str("url", nc.ConnectedUrl()).Msg("NATS reconnected")
		}),
		nats.ErrorHandler(func(nc *nats.Conn, sub *nats.Subscription, err error) {
			log.Error().Err(err).Msg("NATS error")
		}),
		nats.ClosedHandler(func(nc *nats.Conn) {
			closeOnce.Do(func() { close(closed) })
		}),
	}
	if deadline, ok := ctx.Deadline(); ok {
		opts = append(opts, nats.Timeout(time.Until(deadline)))
	}

	nc, err := nats.Connect(endpoint, opts...)
	if err != nil {
		return nil, fmt.Errorf("connect to NATS: %w", err)
	}

	return &natsConn{nc: nc, prefix: t.config.SubjectPrefix, closed: closed}, nil
}

type natsConn struct {
	nc     *nats.Conn
	prefix string
	closed chan struct{}
}

func (c *natsConn) Subscribe(ctx context.Context, channel string, deliver func([]byte)) (func() error, error) {
	sub, err := c.nc.Subscribe(Subject(c.prefix, channel), func(msg *nats.Msg) {
		deliver(msg.Data)
	})
	if err != nil {
		return nil, fmt.Errorf("subscribe to subject: %w", err)
	}
	// the subscription is live on the server once the flush round trip completes
	if err := c.nc.FlushWithContext(ctx); err != nil {
		_ = sub.Unsubscribe()
		return nil, fmt.Errorf("flush subscription: %w", err)
	}

	return func() error {
		if err := sub.Unsubscribe(); err != nil && err != nats.ErrConnectionClosed && err != nats.ErrBadSubscription {
			return err
		}
		return nil
	}, nil
}

func (c *natsConn) Publish(ctx context.Context, channel string, body []byte) error {
	if c.nc.IsClosed() {
		return ErrConnectionClosed
	}
	return c.nc.Publish(Subject(c.prefix, channel), body)
}

func (c *natsConn) Close() error {
	c.nc.Close()
	return nil
}

func (c *natsConn) Closed() <-chan struct{} { return c.closed }
