package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"

	"github.com/mcdev12/codeclash/go/internal/config"
	"github.com/mcdev12/codeclash/go/internal/logging"
	"github.com/mcdev12/codeclash/go/internal/roomsync"
	"github.com/mcdev12/codeclash/go/internal/scoring"
)

func main() {
	// Load .env file if it exists
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Warn().Err(err).Msg("could not load .env file")
	}

	cfg, err := config.Load(os.Getenv("CODECLASH_CONFIG"))
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}
	if err := logging.Setup(cfg.Log.Level, cfg.Log.Console); err != nil {
		log.Fatal().Err(err).Msg("failed to set up logging")
	}
	if cfg.Room.ID == "" {
		log.Fatal().Msg("CODECLASH_ROOM is required")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err = run(ctx, cfg)
	stop()
	if err != nil {
		log.Error().Err(err).Str("room_id", cfg.Room.ID).Msg("room sync stopped")
		os.Exit(1)
	}
	log.Info().Msg("codeclash shutdown complete")
}

// run follows the configured room until ctx ends. Everything it opens is closed before it
// returns.
func run(ctx context.Context, cfg *config.Config) error {
	services, err := setupServices(ctx, cfg)
	if err != nil {
		return fmt.Errorf("failed to set up services: %w", err)
	}
	defer services.Close()

	log.Info().
		Str("room_id", cfg.Room.ID).
		Str("transport", cfg.Session.Transport).
		Str("endpoint", cfg.Session.Endpoint).
		Bool("archive", services.Results != nil).
		Msg("following room")

	return follow(ctx, services, cfg.Room)
}

func follow(ctx context.Context, services *Services, room config.RoomConfig) error {
	go report(ctx, services.Sync)

	if services.Spectator != nil {
		go spectate(ctx, services, room.ID, room.Spectate)
	}
	return services.Sync.Run(ctx, room.ID)
}

// report logs the clock, state changes and the leaderboard whenever the snapshot changes
func report(ctx context.Context, sync *roomsync.Synchronizer) {
	var (
		lastState roomsync.State
		lastClock string
	)
	for {
		select {
		case <-ctx.Done():
			return
		case <-sync.Changed():
		}

		state := sync.State()
		if state != lastState {
			log.Info().Str("state", state.String()).Msg("room state changed")
			lastState = state
		}

		switch state {
		case roomsync.StateInRoom:
			if room := sync.Room(); room != nil {
				log.Info().
					Str("host", room.Host.Nickname).
					Int("users", len(room.Users)).
					Str("difficulty", string(room.Difficulty)).
					Uint64("version", room.Version).
					Msg("room updated")
			}
		case roomsync.StateInGame, roomsync.StateFinished:
			clock := sync.Clock()
			if clock.String() != lastClock {
				log.Debug().Str("clock", clock.String()).Msg("tick")
				lastClock = clock.String()
			}
			logLeaderboard(sync.Leaderboard())
		}
	}
}

func logLeaderboard(standings []scoring.Standing) {
	for _, st := range standings {
		log.Info().
			Int("rank", st.Rank).
			Str("nickname", st.User.Nickname).
			Int("aggregate", st.Aggregate).
			Int("solved", st.Solved).
			Int("improved_minutes", st.ImprovedMinutes).
			Msg("standing")
	}
}

func spectate(ctx context.Context, services *Services, roomID, userID string) {
	spectator := services.Spectator
	if err := spectator.SubscribeToPlayer(ctx, roomID, userID); err != nil {
		log.Error().Err(err).Str("player_id", userID).Msg("failed to spectate player")
		return
	}
	for {
		select {
		case <-ctx.Done():
			return
		case <-spectator.Changed():
			view, ok := spectator.View()
			if !ok {
				continue
			}
			log.Info().
				Str("player", view.User.Nickname).
				Str("problem", view.Problem.Name).
				Str("language", string(view.Language)).
				Int("code_bytes", len(view.Code)).
				Msg("player view")
		}
	}
}
