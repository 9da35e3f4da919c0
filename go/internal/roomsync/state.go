package roomsync

import "errors"

// State is the lifecycle of the local room/game snapshot.
type State int

const (
	StateIdle State = iota
	StateLoading
	StateInRoom
	StateInGame
	StateFinished
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "IDLE"
	case StateLoading:
		return "LOADING"
	case StateInRoom:
		return "IN_ROOM"
	case StateInGame:
		return "IN_GAME"
	case StateFinished:
		return "FINISHED"
	}
	return "UNKNOWN"
}

// transitions lists the states reachable from each state. LoadInitial may restart from any
// state except Loading, which is handled separately.
var transitions = map[State][]State{
	StateIdle:     {StateLoading},
	StateLoading:  {StateIdle, StateInRoom},
	StateInRoom:   {StateInGame},
	StateInGame:   {StateFinished},
	StateFinished: {},
}

// CanTransition reports whether the lifecycle allows moving from one state to another.
func CanTransition(from, to State) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

var (
	ErrNotLoaded      = errors.New("no room loaded")
	ErrLoadInProgress = errors.New("room load already in progress")
	ErrWrongRoom      = errors.New("message belongs to another room")
	ErrNoActiveGame   = errors.New("no game in progress")
	ErrClosed         = errors.New("synchronizer closed")
)
