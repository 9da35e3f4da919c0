package wire

import (
	"errors"
	"fmt"
	"time"

	"github.com/mcdev12/codeclash/go/internal/models"
)

// MessageType represents the type of a channel message
type MessageType string

const (
	TypeRoomUpdated    MessageType = "RoomUpdated"
	TypeGameStarted    MessageType = "GameStarted"
	TypeGameEnded      MessageType = "GameEnded"
	TypeSubmissionMade MessageType = "SubmissionMade"
	TypeRosterChanged  MessageType = "RosterChanged"
	TypeViewState      MessageType = "ViewState"
	TypeNewSpectator   MessageType = "NewSpectator"
)

// allowedTypes is the discriminated union accepted on each channel kind.
var allowedTypes = map[ChannelKind][]MessageType{
	KindUpdates:     {TypeRoomUpdated},
	KindStart:       {TypeGameStarted},
	KindEnd:         {TypeGameEnded},
	KindSubmissions: {TypeSubmissionMade},
	KindRoster:      {TypeRosterChanged},
	KindPlayerView:  {TypeViewState, TypeNewSpectator},
}

// Message is implemented by every payload that can travel on a channel.
type Message interface {
	MessageType() MessageType
	Validate() error
}

// RoomUpdated carries a full room snapshot. Applying it replaces the local room.
type RoomUpdated struct {
	Room models.Room `json:"room"`
}

// GameStarted moves a room into its game.
type GameStarted struct {
	Game models.Game `json:"game"`
}

// GameEnded is the explicit end-of-game signal.
type GameEnded struct {
	RoomID  string    `json:"room_id"`
	EndedAt time.Time `json:"ended_at"`
}

// SubmissionMade is a live submission event for one player.
type SubmissionMade struct {
	RoomID     string            `json:"room_id"`
	Submission models.Submission `json:"submission"`
}

// RosterChange describes a roster mutation.
type RosterChange string

const (
	RosterJoined RosterChange = "JOINED"
	RosterLeft   RosterChange = "LEFT"
	RosterKicked RosterChange = "KICKED"
)

// RosterChanged signals that a user joined or left the room.
type RosterChanged struct {
	RoomID string       `json:"room_id"`
	User   models.User  `json:"user"`
	Change RosterChange `json:"change"`
}

// ViewState is a player's live editor as seen by spectators.
type ViewState struct {
	User         models.User     `json:"user"`
	Problem      models.Problem  `json:"problem"`
	ProblemIndex int             `json:"problem_index"`
	Code         string          `json:"code"`
	Language     models.Language `json:"language"`
}

// NewSpectator is the sentinel a spectator publishes on a player's view channel to request a
// full snapshot.
type NewSpectator struct {
	Spectator models.User `json:"spectator"`
}

func (RoomUpdated) MessageType() MessageType    { return TypeRoomUpdated }
func (GameStarted) MessageType() MessageType    { return TypeGameStarted }
func (GameEnded) MessageType() MessageType      { return TypeGameEnded }
func (SubmissionMade) MessageType() MessageType { return TypeSubmissionMade }
func (RosterChanged) MessageType() MessageType  { return TypeRosterChanged }
func (ViewState) MessageType() MessageType      { return TypeViewState }
func (NewSpectator) MessageType() MessageType   { return TypeNewSpectator }

var errMissingRoomID = errors.New("room_id is required")

func (m RoomUpdated) Validate() error {
	return m.Room.Validate()
}

func (m GameStarted) Validate() error {
	if err := m.Game.Validate(); err != nil {
		return err
	}
	if m.Game.Timer.EndTime.IsZero() {
		return errors.New("game timer has no end time")
	}
	return nil
}

func (m GameEnded) Validate() error {
	if m.RoomID == "" {
		return errMissingRoomID
	}
	return nil
}

func (m SubmissionMade) Validate() error {
	if m.RoomID == "" {
		return errMissingRoomID
	}
	s := m.Submission
	if s.Initiator.Nickname == "" {
		return errors.New("submission has no initiator")
	}
	if s.ProblemIndex < 0 {
		return fmt.Errorf("%w: %d", models.ErrProblemIndexOutOfRange, s.ProblemIndex)
	}
	if s.NumCorrect < 0 || s.NumTestCases < 0 || s.NumCorrect > s.NumTestCases {
		return fmt.Errorf("invalid test counts %d/%d", s.NumCorrect, s.NumTestCases)
	}
	return nil
}

func (m RosterChanged) Validate() error {
	if m.RoomID == "" {
		return errMissingRoomID
	}
	if m.User.Nickname == "" {
		return errors.New("roster change has no user")
	}
	switch m.Change {
	case RosterJoined, RosterLeft, RosterKicked:
		return nil
	}
	return fmt.Errorf("unknown roster change %q", m.Change)
}

func (m ViewState) Validate() error {
	if m.User.Nickname == "" {
		return errors.New("view state has no user")
	}
	if m.ProblemIndex < 0 {
		return fmt.Errorf("%w: %d", models.ErrProblemIndexOutOfRange, m.ProblemIndex)
	}
	return nil
}

func (m NewSpectator) Validate() error {
	return nil
}

// roomOf returns the room id a payload claims to belong to, if it carries one.
func roomOf(msg Message) string {
	switch m := msg.(type) {
	case RoomUpdated:
		return m.Room.RoomID
	case GameStarted:
		return m.Game.Room.RoomID
	case GameEnded:
		return m.RoomID
	case SubmissionMade:
		return m.RoomID
	case RosterChanged:
		return m.RoomID
	}
	return ""
}
