// Package results archives the final standings of finished games in Postgres.
package results

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"

	"github.com/mcdev12/codeclash/go/internal/models"
	"github.com/mcdev12/codeclash/go/internal/scoring"
)

var ErrNoGame = errors.New("no game to record")

const schema = `
CREATE TABLE IF NOT EXISTS game_results (
    room_id          TEXT        NOT NULL,
    ended_at         TIMESTAMPTZ NOT NULL,
    user_id          TEXT        NOT NULL DEFAULT '',
    nickname         TEXT        NOT NULL,
    rank             INTEGER     NOT NULL,
    aggregate        INTEGER     NOT NULL,
    solved           INTEGER     NOT NULL,
    improved_minutes INTEGER     NOT NULL,
    problem_scores   INTEGER[]   NOT NULL,
    recorded_at      TIMESTAMPTZ NOT NULL DEFAULT now(),
    PRIMARY KEY (room_id, ended_at, nickname)
)`

const insertResult = `
INSERT INTO game_results (
  room_id, ended_at, user_id, nickname, rank,
  aggregate, solved, improved_minutes, problem_scores
) VALUES (
  $1,$2,$3,$4,$5,$6,$7,$8,$9
)
ON CONFLICT (room_id, ended_at, nickname) DO NOTHING`

// querier is the part of *pgxpool.Pool the store uses
type querier interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
}

// Store writes game results
type Store struct {
	db querier
}

// NewStore creates a store over db, usually a *pgxpool.Pool
func NewStore(db querier) *Store {
	return &Store{db: db}
}

// Connect opens a pool for dsn and checks it with a ping
func Connect(ctx context.Context, dsn string) (*pgxpool.Pool, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to create database pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	return pool, nil
}

// EnsureSchema creates the results table if it does not exist
func (s *Store) EnsureSchema(ctx context.Context) error {
	if _, err := s.db.Exec(ctx, schema); err != nil {
		return fmt.Errorf("create game_results: %w", err)
	}
	return nil
}

// Record stores one row per standing and returns how many rows were new. Rows are keyed by
// nickname, which is unique within a room while the user id may be empty. Recording the same
// game twice is a no-op.
func (s *Store) Record(ctx context.Context, game *models.Game, standings []scoring.Standing) (int, error) {
	if game == nil {
		return 0, ErrNoGame
	}

	var inserted, skipped int
	for _, st := range standings {
		scores := st.ProblemScores
		if scores == nil {
			scores = []int{}
		}
		cmdTag, err := s.db.Exec(ctx, insertResult,
			game.Room.RoomID, game.Timer.EndTime, st.User.UserID, st.User.Nickname, st.Rank,
			st.Aggregate, st.Solved, st.ImprovedMinutes, scores,
		)
		if err != nil {
			return inserted, fmt.Errorf("insert result for %s: %w", st.User.Nickname, err)
		}
		if cmdTag.RowsAffected() == 1 {
			inserted++
		} else {
			skipped++
		}
	}

	log.Info().
		Str("room_id", game.Room.RoomID).
		Int("inserted", inserted).
		Int("skipped", skipped).
		Msg("game results recorded")

	return inserted, nil
}

// OnFinished returns a finished-game hook that records the standings, giving each write up to
// timeout. Failures are logged.
func (s *Store) OnFinished(ctx context.Context, timeout time.Duration) func(*models.Game, []scoring.Standing) {
	return func(game *models.Game, standings []scoring.Standing) {
		ctx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()
		if _, err := s.Record(ctx, game, standings); err != nil {
			log.Error().Err(err).Msg("failed to record game results")
		}
	}
}
