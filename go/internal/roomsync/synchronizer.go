// Package roomsync keeps a local snapshot of a room and its game in step with the server: an
// initial REST load, then the room's broadcast channels.
package roomsync

import (
	"context"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/mcdev12/codeclash/go/internal/models"
	"github.com/mcdev12/codeclash/go/internal/scoring"
	"github.com/mcdev12/codeclash/go/internal/session"
	"github.com/mcdev12/codeclash/go/internal/wire"
)

// RoomService is the REST surface the synchronizer reads from. *api.Client implements it.
type RoomService interface {
	GetRoom(ctx context.Context, roomID string) (*models.Room, error)
	GetGame(ctx context.Context, roomID string) (*models.Game, error)
	GetInstant(ctx context.Context) (time.Time, error)
}

// Subscriber opens channel subscriptions. *session.Manager implements it.
type Subscriber interface {
	Subscribe(ctx context.Context, channel string) (*session.Subscription, error)
}

// FinishedFunc receives the final game and its standings once a game reaches Finished.
type FinishedFunc func(game *models.Game, standings []scoring.Standing)

// Config holds configuration for a synchronizer
type Config struct {
	TickInterval time.Duration
	Clock        clockwork.Clock
	OnFinished   FinishedFunc // optional
}

// DefaultConfig returns default synchronizer configuration
func DefaultConfig() Config {
	return Config{
		TickInterval: time.Second,
		Clock:        clockwork.NewRealClock(),
	}
}

// Synchronizer maintains the local room and game snapshot. Inbound messages are applied in the
// order they are handed over; queries may be called from any goroutine.
type Synchronizer struct {
	service  RoomService
	sessions Subscriber
	config   Config
	clock    clockwork.Clock

	mu        sync.RWMutex
	state     State
	roomID    string
	room      *models.Room
	game      *models.Game
	gameClock scoring.GameClock
	skew      time.Duration // server instant minus local clock
	pending   []wire.Message
	refetch   bool // a roster change arrived while loading
	countdown *countdown
	closed    bool

	// set by mutators, consumed by update
	dirty    bool
	finished *models.Game

	changed chan struct{}
	wg      sync.WaitGroup
}

// NewSynchronizer creates a synchronizer reading snapshots from service and broadcasts from
// sessions. sessions may be nil when messages are applied by the caller.
func NewSynchronizer(service RoomService, sessions Subscriber, config Config) *Synchronizer {
	if config.TickInterval <= 0 {
		config.TickInterval = DefaultConfig().TickInterval
	}
	if config.Clock == nil {
		config.Clock = clockwork.NewRealClock()
	}
	return &Synchronizer{
		service:  service,
		sessions: sessions,
		config:   config,
		clock:    config.Clock,
		changed:  make(chan struct{}, 1),
	}
}

// Changed delivers a signal after the snapshot changes. Signals coalesce: one pending signal
// stands for any number of changes.
func (s *Synchronizer) Changed() <-chan struct{} {
	return s.changed
}

// Close stops the countdown and rejects further updates. It waits for the countdown goroutine
// to exit.
func (s *Synchronizer) Close() error {
	s.mu.Lock()
	s.closed = true
	s.stopCountdownLocked()
	s.mu.Unlock()

	s.wg.Wait()
	return nil
}

// State returns the lifecycle state.
func (s *Synchronizer) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// RoomID returns the id of the loaded room.
func (s *Synchronizer) RoomID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.roomID
}

// Room returns a copy of the room snapshot, or nil before the first load.
func (s *Synchronizer) Room() *models.Room {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.room.Clone()
}

// Game returns a copy of the game snapshot, or nil outside a game.
func (s *Synchronizer) Game() *models.Game {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.game.Clone()
}

// Clock returns the last computed countdown.
func (s *Synchronizer) Clock() scoring.GameClock {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.gameClock
}

// ServerNow is the local clock corrected by the offset measured against the server instant.
func (s *Synchronizer) ServerNow() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.clock.Now().Add(s.skew)
}

// BestSubmission returns the best submission of user for problemIndex, or scoring.AnyProblem.
func (s *Synchronizer) BestSubmission(user models.User, problemIndex int) (*models.Submission, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	player, err := s.playerLocked(user)
	if err != nil {
		return nil, err
	}
	return scoring.BestSubmission(player, problemIndex), nil
}

// Score returns the score of the best submission of user for problemIndex.
func (s *Synchronizer) Score(user models.User, problemIndex int) (int, error) {
	best, err := s.BestSubmission(user, problemIndex)
	if err != nil {
		return 0, err
	}
	return scoring.Score(best), nil
}

// PlayerSummary derives the current, best and aggregate values of user.
func (s *Synchronizer) PlayerSummary(user models.User) (scoring.PlayerSummary, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	player, err := s.playerLocked(user)
	if err != nil {
		return scoring.PlayerSummary{}, err
	}
	return scoring.Summarize(s.game, player), nil
}

// Leaderboard ranks the players of the current or finished game.
func (s *Synchronizer) Leaderboard() []scoring.Standing {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return scoring.Leaderboard(s.game)
}

func (s *Synchronizer) playerLocked(user models.User) (*models.Player, error) {
	if s.game == nil {
		return nil, ErrNoActiveGame
	}
	i, ok := s.game.FindPlayer(user)
	if !ok {
		return nil, models.ErrPlayerNotFound
	}
	return &s.game.Players[i], nil
}

// update runs fn under the write lock, then signals a change and runs the finished hook
// outside of it.
func (s *Synchronizer) update(fn func() error) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	err := fn()
	dirty := s.dirty
	finished := s.finished
	s.dirty = false
	s.finished = nil
	s.mu.Unlock()

	if dirty {
		s.notify()
	}
	if finished != nil {
		s.runFinished(finished)
	}
	return err
}

func (s *Synchronizer) notify() {
	select {
	case s.changed <- struct{}{}:
	default:
	}
}

func (s *Synchronizer) runFinished(game *models.Game) {
	if s.config.OnFinished == nil {
		return
	}
	s.config.OnFinished(game, scoring.Leaderboard(game))
}

// setStateLocked moves the lifecycle forward, refusing transitions that skip a state.
func (s *Synchronizer) setStateLocked(to State) bool {
	if !CanTransition(s.state, to) {
		log.Warn().
			Str("room_id", s.roomID).
			Str("from", s.state.String()).
			Str("to", to.String()).
			Msg("ignoring invalid state transition")
		return false
	}
	log.Info().
		Str("room_id", s.roomID).
		Str("from", s.state.String()).
		Str("to", to.String()).
		Msg("room state changed")
	s.state = to
	s.dirty = true
	return true
}
