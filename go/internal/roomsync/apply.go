package roomsync

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/mcdev12/codeclash/go/internal/models"
	"github.com/mcdev12/codeclash/go/internal/scoring"
	"github.com/mcdev12/codeclash/go/internal/wire"
)

// LoadInitial fetches the room, and its game when one is in progress, and makes them the
// snapshot. Loading another room resets the snapshot and stops the countdown. Fetch failures
// return the synchronizer to Idle and are not retried.
func (s *Synchronizer) LoadInitial(ctx context.Context, roomID string) error {
	if err := wire.ValidateIdentifier(roomID); err != nil {
		return err
	}
	if err := s.begin(roomID); err != nil {
		return err
	}
	return s.load(ctx, roomID)
}

// begin enters Loading for roomID. Messages applied from here until the snapshot arrives are
// buffered.
func (s *Synchronizer) begin(roomID string) error {
	return s.update(func() error {
		if s.state == StateLoading {
			return ErrLoadInProgress
		}
		s.stopCountdownLocked()
		log.Info().
			Str("room_id", roomID).
			Str("from", s.state.String()).
			Msg("loading room")
		s.state = StateLoading
		s.roomID = roomID
		s.room = nil
		s.game = nil
		s.pending = nil
		s.refetch = false
		s.gameClock = scoring.GameClock{}
		s.skew = 0
		s.dirty = true
		return nil
	})
}

// abort leaves Loading without a snapshot.
func (s *Synchronizer) abort() {
	_ = s.update(func() error {
		s.pending = nil
		s.refetch = false
		s.setStateLocked(StateIdle)
		return nil
	})
}

func (s *Synchronizer) load(ctx context.Context, roomID string) error {
	room, game, skew, err := s.fetch(ctx, roomID)
	if err != nil {
		s.abort()
		log.Error().Err(err).Str("room_id", roomID).Msg("failed to load room")
		return err
	}

	var refetch bool
	err = s.update(func() error {
		s.skew = skew
		s.room = room
		s.setStateLocked(StateInRoom)
		if game != nil {
			if err := s.applyGameStartLocked(*game); err != nil {
				log.Warn().Err(err).Str("room_id", roomID).Msg("ignoring game snapshot")
			}
		}

		pending := s.pending
		s.pending = nil
		for _, msg := range pending {
			if err := s.applyLocked(msg); err != nil {
				log.Warn().
					Err(err).
					Str("room_id", roomID).
					Str("message_type", string(msg.MessageType())).
					Msg("dropping buffered message")
			}
		}
		log.Info().
			Str("room_id", roomID).
			Int("replayed", len(pending)).
			Str("state", s.state.String()).
			Msg("room loaded")
		refetch = s.refetch
		s.refetch = false
		return nil
	})
	if err != nil || !refetch {
		return err
	}

	// the roster may have changed after the room snapshot was taken
	if err := s.refetchRoom(ctx, roomID); err != nil {
		log.Warn().Err(err).Str("room_id", roomID).Msg("failed to refetch room after load")
	}
	return nil
}

func (s *Synchronizer) fetch(ctx context.Context, roomID string) (*models.Room, *models.Game, time.Duration, error) {
	room, err := s.service.GetRoom(ctx, roomID)
	if err != nil {
		return nil, nil, 0, fmt.Errorf("fetch room %s: %w", roomID, err)
	}
	if err := room.Validate(); err != nil {
		return nil, nil, 0, fmt.Errorf("invalid room snapshot: %w", err)
	}
	if room.RoomID != roomID {
		return nil, nil, 0, fmt.Errorf("%w: asked for %s, got %s", ErrWrongRoom, roomID, room.RoomID)
	}

	var game *models.Game
	if room.Active {
		game, err = s.service.GetGame(ctx, roomID)
		if err != nil {
			return nil, nil, 0, fmt.Errorf("fetch game %s: %w", roomID, err)
		}
		if err := (wire.GameStarted{Game: *game}).Validate(); err != nil {
			return nil, nil, 0, fmt.Errorf("invalid game snapshot: %w", err)
		}
	}

	return room, game, s.measureSkew(ctx), nil
}

// measureSkew compares the server instant with the midpoint of the local request window.
// Without an instant the local clock is trusted.
func (s *Synchronizer) measureSkew(ctx context.Context) time.Duration {
	before := s.clock.Now()
	instant, err := s.service.GetInstant(ctx)
	if err != nil {
		log.Warn().Err(err).Msg("failed to get server instant, using local clock")
		return 0
	}
	after := s.clock.Now()
	return instant.Sub(before.Add(after.Sub(before) / 2))
}

// Apply routes a decoded broadcast to the matching operation.
func (s *Synchronizer) Apply(ctx context.Context, in wire.Inbound) error {
	switch m := in.Message.(type) {
	case wire.RoomUpdated:
		return s.ApplyRoomUpdate(m.Room)
	case wire.GameStarted:
		return s.ApplyGameStart(m.Game)
	case wire.GameEnded:
		return s.ApplyGameEnd(m)
	case wire.SubmissionMade:
		return s.update(func() error { return s.recordSubmissionLocked(m.RoomID, m.Submission) })
	case wire.RosterChanged:
		return s.ApplyRosterChange(ctx, m)
	}
	log.Debug().Str("channel", in.Channel).Str("message_type", string(in.Message.MessageType())).Msg("ignoring message")
	return nil
}

// ApplyRoomUpdate replaces the room snapshot. Updates older than the current version are
// ignored; an equal version replaces it. With version 0 on either side the last update wins.
func (s *Synchronizer) ApplyRoomUpdate(room models.Room) error {
	return s.update(func() error { return s.applyRoomUpdateLocked(room) })
}

// ApplyGameStart enters the game, freezing its problem list and starting the countdown.
// A start received while already in or past the game is ignored.
func (s *Synchronizer) ApplyGameStart(game models.Game) error {
	return s.update(func() error { return s.applyGameStartLocked(game) })
}

// ApplyGameEnd finishes the game. An end received before the start is ignored.
func (s *Synchronizer) ApplyGameEnd(msg wire.GameEnded) error {
	return s.update(func() error { return s.applyGameEndLocked(msg) })
}

// RecordSubmission appends sub to its initiator's submissions. It serves both the local
// player's run/submit results and remote submission broadcasts; a submission already recorded
// under the same ID is ignored.
func (s *Synchronizer) RecordSubmission(sub models.Submission) error {
	return s.update(func() error { return s.recordSubmissionLocked(s.roomID, sub) })
}

// ApplyRosterChange re-fetches the room after a join or leave signal.
func (s *Synchronizer) ApplyRosterChange(ctx context.Context, msg wire.RosterChanged) error {
	if err := msg.Validate(); err != nil {
		return fmt.Errorf("roster change: %w", err)
	}

	s.mu.Lock()
	state, roomID := s.state, s.roomID
	if state == StateLoading && msg.RoomID == roomID {
		// the snapshot in flight may predate the change
		s.refetch = true
	}
	s.mu.Unlock()

	if state == StateIdle {
		return ErrNotLoaded
	}
	if msg.RoomID != roomID {
		return fmt.Errorf("%w: %s", ErrWrongRoom, msg.RoomID)
	}
	if state == StateLoading {
		log.Debug().Str("room_id", roomID).Str("user", msg.User.Nickname).Msg("roster changed while loading, refetching after load")
		return nil
	}

	log.Debug().
		Str("room_id", roomID).
		Str("user", msg.User.Nickname).
		Str("change", string(msg.Change)).
		Msg("roster changed, refetching room")
	return s.refetchRoom(ctx, roomID)
}

func (s *Synchronizer) refetchRoom(ctx context.Context, roomID string) error {
	room, err := s.service.GetRoom(ctx, roomID)
	if err != nil {
		return fmt.Errorf("refetch room %s: %w", roomID, err)
	}
	return s.ApplyRoomUpdate(*room)
}

func (s *Synchronizer) applyLocked(msg wire.Message) error {
	switch m := msg.(type) {
	case wire.RoomUpdated:
		return s.applyRoomUpdateLocked(m.Room)
	case wire.GameStarted:
		return s.applyGameStartLocked(m.Game)
	case wire.GameEnded:
		return s.applyGameEndLocked(m)
	case wire.SubmissionMade:
		return s.recordSubmissionLocked(m.RoomID, m.Submission)
	}
	return fmt.Errorf("unexpected %s message", msg.MessageType())
}

func (s *Synchronizer) checkRoomLocked(roomID string) error {
	if s.state == StateIdle {
		return ErrNotLoaded
	}
	if roomID != s.roomID {
		return fmt.Errorf("%w: %s", ErrWrongRoom, roomID)
	}
	return nil
}

func isStale(current, incoming uint64) bool {
	return current != 0 && incoming != 0 && incoming < current
}

func (s *Synchronizer) applyRoomUpdateLocked(room models.Room) error {
	if err := s.checkRoomLocked(room.RoomID); err != nil {
		return err
	}
	if err := room.Validate(); err != nil {
		return fmt.Errorf("room update: %w", err)
	}
	if s.state == StateLoading {
		s.pending = append(s.pending, wire.RoomUpdated{Room: *room.Clone()})
		return nil
	}
	if s.room != nil && isStale(s.room.Version, room.Version) {
		log.Debug().
			Str("room_id", s.roomID).
			Uint64("version", room.Version).
			Uint64("current_version", s.room.Version).
			Msg("ignoring stale room update")
		return nil
	}
	s.room = room.Clone()
	s.dirty = true
	return nil
}

func (s *Synchronizer) applyGameStartLocked(game models.Game) error {
	if err := s.checkRoomLocked(game.Room.RoomID); err != nil {
		return err
	}
	if err := (wire.GameStarted{Game: game}).Validate(); err != nil {
		return fmt.Errorf("game start: %w", err)
	}

	switch s.state {
	case StateLoading:
		s.pending = append(s.pending, wire.GameStarted{Game: *game.Clone()})
		return nil
	case StateInGame, StateFinished:
		log.Debug().Str("room_id", s.roomID).Str("state", s.state.String()).Msg("ignoring duplicate game start")
		return nil
	}

	if !s.setStateLocked(StateInGame) {
		return nil
	}
	s.game = game.Clone()
	if s.room == nil || !isStale(s.room.Version, game.Room.Version) {
		s.room = game.Room.Clone()
	}
	s.startCountdownLocked(s.game.Timer.EndTime)
	return nil
}

func (s *Synchronizer) applyGameEndLocked(msg wire.GameEnded) error {
	if err := s.checkRoomLocked(msg.RoomID); err != nil {
		return err
	}

	switch s.state {
	case StateLoading:
		s.pending = append(s.pending, msg)
		return nil
	case StateInGame:
		s.finishLocked()
		return nil
	case StateInRoom:
		log.Debug().Str("room_id", s.roomID).Msg("ignoring game end before start")
	}
	return nil
}

func (s *Synchronizer) recordSubmissionLocked(roomID string, sub models.Submission) error {
	if err := s.checkRoomLocked(roomID); err != nil {
		return err
	}
	if err := (wire.SubmissionMade{RoomID: roomID, Submission: sub}).Validate(); err != nil {
		return fmt.Errorf("submission: %w", err)
	}
	if s.state == StateLoading {
		s.pending = append(s.pending, wire.SubmissionMade{RoomID: roomID, Submission: sub})
		return nil
	}
	if s.state != StateInGame {
		return ErrNoActiveGame
	}
	if err := s.game.CheckProblemIndex(sub.ProblemIndex); err != nil {
		return err
	}
	i, ok := s.game.FindPlayer(sub.Initiator)
	if !ok {
		return fmt.Errorf("%w: %s", models.ErrPlayerNotFound, sub.Initiator.Nickname)
	}

	player := &s.game.Players[i]
	if sub.ID != "" {
		for _, existing := range player.Submissions {
			if existing.ID == sub.ID {
				return nil
			}
		}
	}
	player.Submissions = append(player.Submissions, sub)
	if sub.Solved() {
		player.Solved[sub.ProblemIndex] = true
	}
	s.dirty = true
	return nil
}

func (s *Synchronizer) finishLocked() {
	s.stopCountdownLocked()
	if !s.setStateLocked(StateFinished) {
		return
	}
	s.gameClock = scoring.TimeUpClock
	s.game.Timer.TimeUp = true
	s.finished = s.game.Clone()
}
