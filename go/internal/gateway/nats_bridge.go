package gateway

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog/log"

	"github.com/mcdev12/codeclash/go/internal/session"
	"github.com/mcdev12/codeclash/go/internal/wire"
)

// InstanceHeader carries the id of the gateway that put a message on NATS.
const InstanceHeader = "Codeclash-Gateway"

// NATSBridgeConfig holds configuration for the NATS bridge
type NATSBridgeConfig struct {
	URL           string
	SubjectPrefix string
	MaxReconnects int
	ReconnectWait time.Duration
}

// DefaultNATSBridgeConfig returns default NATS bridge configuration
func DefaultNATSBridgeConfig() NATSBridgeConfig {
	return NATSBridgeConfig{
		URL:           nats.DefaultURL,
		SubjectPrefix: session.DefaultSubjectPrefix,
		MaxReconnects: -1, // Infinite
		ReconnectWait: 2 * time.Second,
	}
}

// NATSBridge connects the local connection pools to NATS: websocket publishes are relayed to
// NATS and NATS messages from other publishers are broadcast to local subscribers.
type NATSBridge struct {
	connectionManager *ConnectionManager
	nc                *nats.Conn
	sub               *nats.Subscription
	config            NATSBridgeConfig
	instance          string
}

// NewNATSBridge connects to NATS and starts relaying
func NewNATSBridge(cm *ConnectionManager, config NATSBridgeConfig) (*NATSBridge, error) {
	if config.SubjectPrefix == "" {
		config.SubjectPrefix = session.DefaultSubjectPrefix
	}
	instance := uuid.New().String()

	opts := []nats.Option{
		nats.Name("codeclash-gateway-" + instance),
		nats.MaxReconnects(config.MaxReconnects),
		nats.ReconnectWait(config.ReconnectWait),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			log.Error().Err(err).Msg("NATS disconnected")
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info().Str("url", nc.ConnectedUrl()).Msg("NATS reconnected")
		}),
		nats.ErrorHandler(func(nc *nats.Conn, sub *nats.Subscription, err error) {
			log.Error().Err(err).Msg("NATS error")
		}),
	}

	nc, err := nats.Connect(config.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("connect to NATS: %w", err)
	}

	b := &NATSBridge{
		connectionManager: cm,
		nc:                nc,
		config:            config,
		instance:          instance,
	}

	sub, err := nc.Subscribe(config.SubjectPrefix+".>", b.handleMessage)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("subscribe to %s.>: %w", config.SubjectPrefix, err)
	}
	b.sub = sub

	log.Info().
		Str("url", nc.ConnectedUrl()).
		Str("subject_prefix", config.SubjectPrefix).
		Str("instance", instance).
		Msg("NATS bridge started")

	return b, nil
}

// Publish implements Relay
func (b *NATSBridge) Publish(channel string, body []byte) error {
	msg := nats.NewMsg(session.Subject(b.config.SubjectPrefix, channel))
	msg.Header.Set(InstanceHeader, b.instance)
	msg.Data = body
	return b.nc.PublishMsg(msg)
}

// handleMessage broadcasts a NATS message to local subscribers unless this gateway sent it
func (b *NATSBridge) handleMessage(msg *nats.Msg) {
	if msg.Header != nil && msg.Header.Get(InstanceHeader) == b.instance {
		return
	}

	channel := strings.TrimPrefix(msg.Subject, b.config.SubjectPrefix+".")
	if _, err := wire.ParseChannel(channel); err != nil {
		log.Debug().Err(err).Str("subject", msg.Subject).Msg("ignoring NATS message on unknown channel")
		return
	}

	b.connectionManager.Broadcast(channel, msg.Data)
}

// Stop unsubscribes and closes the NATS connection
func (b *NATSBridge) Stop() error {
	var err error
	if b.sub != nil {
		err = b.sub.Unsubscribe()
	}
	b.nc.Close()
	log.Info().Str("instance", b.instance).Msg("NATS bridge stopped")
	return err
}
