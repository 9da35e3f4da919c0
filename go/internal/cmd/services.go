package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/mcdev12/codeclash/go/internal/api"
	"github.com/mcdev12/codeclash/go/internal/config"
	"github.com/mcdev12/codeclash/go/internal/mirror"
	"github.com/mcdev12/codeclash/go/internal/models"
	"github.com/mcdev12/codeclash/go/internal/results"
	"github.com/mcdev12/codeclash/go/internal/roomsync"
	"github.com/mcdev12/codeclash/go/internal/session"
	"github.com/mcdev12/codeclash/go/internal/wire"
)

type Services struct {
	Sessions  *session.Manager
	API       *api.Client
	Sync      *roomsync.Synchronizer
	Spectator *mirror.Spectator // nil unless a player is mirrored
	Results   *results.Store    // nil unless a database is configured

	pool *pgxpool.Pool
}

func newTransport(cfg config.SessionConfig) session.Transport {
	switch cfg.Transport {
	case config.TransportNATS:
		return session.NewNATSTransport(session.DefaultNATSConfig())
	default:
		return session.NewWebSocketTransport(session.DefaultWebSocketConfig())
	}
}

func setupServices(ctx context.Context, cfg *config.Config) (*Services, error) {
	// Wire up dependency chain
	// Transport → Session manager → Synchronizer / Spectator, REST client → Synchronizer
	services := &Services{}

	services.API = api.NewClient(cfg.API.BaseURL)
	services.API.SetTimeout(cfg.API.Timeout)

	services.Sessions = session.NewManager(newTransport(cfg.Session), session.Config{
		DialTimeout: cfg.Session.DialTimeout,
		BufferSize:  cfg.Session.BufferSize,
		OnMalformed: func(channel string, err error) {
			log.Warn().Err(err).Str("channel", channel).Msg("dropped malformed broadcast")
		},
	})
	if err := services.Sessions.Connect(ctx, cfg.Session.Endpoint); err != nil {
		return nil, err
	}

	syncConfig := roomsync.Config{
		TickInterval: cfg.Room.TickInterval,
		Clock:        clockwork.NewRealClock(),
	}
	if cfg.Database.Enabled() {
		pool, store, err := setupDatabase(ctx, cfg.Database)
		if err != nil {
			services.Close()
			return nil, err
		}
		services.pool = pool
		services.Results = store
		syncConfig.OnFinished = roomsync.FinishedFunc(store.OnFinished(ctx, cfg.API.Timeout))
	}
	services.Sync = roomsync.NewSynchronizer(services.API, services.Sessions, syncConfig)

	if cfg.Room.Spectate != "" {
		self := models.User{Nickname: cfg.Room.Nickname, UserID: cfg.Room.UserID, Spectator: true}
		if err := wire.ValidateIdentifier(self.UserID); err != nil {
			services.Close()
			return nil, fmt.Errorf("spectating needs a user id: %w", err)
		}
		services.Spectator = mirror.NewSpectator(services.Sessions, self)
	}

	return services, nil
}

// Close releases everything setupServices opened
func (s *Services) Close() {
	if s.Spectator != nil {
		if err := s.Spectator.Unsubscribe(); err != nil {
			log.Error().Err(err).Msg("failed to stop spectating")
		}
	}
	if s.Sync != nil {
		if err := s.Sync.Close(); err != nil {
			log.Error().Err(err).Msg("failed to close synchronizer")
		}
	}
	if s.Sessions != nil {
		if err := s.Sessions.Disconnect(); err != nil && !errors.Is(err, session.ErrNotConnected) {
			log.Error().Err(err).Msg("failed to disconnect session")
		}
	}
	if s.pool != nil {
		s.pool.Close()
	}
}
