// Package gateway is the server peer of the websocket session transport. Clients subscribe to
// logical channels with frames, publish on them, and receive everything published there by
// other websocket clients or, through the NATS bridge, by NATS clients and other gateways.
package gateway

import (
	"context"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/jonboulle/clockwork"
	"github.com/rs/cors"
	"github.com/rs/zerolog/log"
	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"
)

// Service wires the connection manager, the optional NATS bridge and the HTTP routes
type Service struct {
	connectionManager *ConnectionManager
	wsHandler         *WebSocketHandler
	instantHandler    *InstantHandler
	bridge            *NATSBridge
	config            Config
}

// Config holds configuration for the gateway service
type Config struct {
	ConnectionConfig ConnectionConfig
	// NATS is optional; an empty URL runs a standalone gateway.
	NATS  NATSBridgeConfig
	Clock clockwork.Clock
}

// DefaultConfig returns default configuration for a standalone gateway
func DefaultConfig() Config {
	nats := DefaultNATSBridgeConfig()
	nats.URL = ""
	return Config{
		ConnectionConfig: DefaultConnectionConfig(),
		NATS:             nats,
		Clock:            clockwork.NewRealClock(),
	}
}

// NewService creates a new gateway service
func NewService(config Config) (*Service, error) {
	connectionManager := NewConnectionManager(config.ConnectionConfig)

	s := &Service{
		connectionManager: connectionManager,
		wsHandler:         NewWebSocketHandler(connectionManager),
		instantHandler:    NewInstantHandler(config.Clock),
		config:            config,
	}

	if config.NATS.URL != "" {
		bridge, err := NewNATSBridge(connectionManager, config.NATS)
		if err != nil {
			return nil, fmt.Errorf("failed to create NATS bridge: %w", err)
		}
		connectionManager.SetRelay(bridge)
		s.bridge = bridge
	}

	return s, nil
}

// Start runs the gateway until ctx is done
func (s *Service) Start(ctx context.Context) error {
	log.Info().Bool("nats", s.bridge != nil).Msg("starting gateway service")

	s.connectionManager.Start(ctx)

	log.Info().Msg("gateway service shutting down")
	return s.Stop()
}

// Stop shuts the NATS bridge down
func (s *Service) Stop() error {
	if s.bridge != nil {
		if err := s.bridge.Stop(); err != nil {
			log.Error().Err(err).Msg("failed to stop NATS bridge")
		}
	}
	log.Info().Msg("gateway service stopped")
	return nil
}

// Router returns the chi router with every gateway route
func (s *Service) Router() chi.Router {
	r := chi.NewRouter()
	r.Get("/health", handleHealth)
	r.Get("/ws", s.wsHandler.HandleConnection)
	r.Get("/ws/stats", s.wsHandler.HandleConnectionStats)
	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/get-instant", s.instantHandler.HandleGetInstant)
	})
	return r
}

// Handler returns the router behind CORS and cleartext HTTP/2
func (s *Service) Handler() http.Handler {
	c := cors.New(cors.Options{
		AllowedMethods: []string{
			http.MethodHead,
			http.MethodGet,
			http.MethodPost,
			http.MethodPut,
			http.MethodPatch,
			http.MethodDelete,
		},
		AllowedOrigins: []string{"*"},
		AllowedHeaders: []string{"*"},
	})
	return h2c.NewHandler(c.Handler(s.Router()), &http2.Server{})
}

// ConnectionManager returns the service's connection manager
func (s *Service) ConnectionManager() *ConnectionManager {
	return s.connectionManager
}

// GetStats returns statistics about the gateway service
func (s *Service) GetStats() map[string]interface{} {
	stats := s.connectionManager.GetConnectionStats()
	stats["service"] = "codeclash_gateway"
	stats["nats"] = s.bridge != nil
	return stats
}
