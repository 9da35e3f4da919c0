package models

import (
	"errors"
	"fmt"
)

// Difficulty defines the difficulty of a problem or of a room's problem selection.
type Difficulty string

const (
	DifficultyRandom Difficulty = "RANDOM"
	DifficultyEasy   Difficulty = "EASY"
	DifficultyMedium Difficulty = "MEDIUM"
	DifficultyHard   Difficulty = "HARD"
)

// Problem is a programming problem selected for a room or game.
type Problem struct {
	ProblemID   string     `json:"problem_id"`
	Name        string     `json:"name"`
	Description string     `json:"description"`
	Difficulty  Difficulty `json:"difficulty"`
}

// Room represents a lobby grouping users before and around a game.
type Room struct {
	RoomID        string     `json:"room_id"`
	Host          User       `json:"host"`
	Users         []User     `json:"users"`
	ActiveUsers   []User     `json:"active_users"`
	InactiveUsers []User     `json:"inactive_users"`
	Spectators    []User     `json:"spectators"`
	Active        bool       `json:"active"` // a game is in progress
	Difficulty    Difficulty `json:"difficulty"`
	Duration      int64      `json:"duration"` // seconds
	Problems      []Problem  `json:"problems"`
	Size          int        `json:"size"`
	NumProblems   int        `json:"num_problems"`
	Version       uint64     `json:"version"` // server revision, 0 when unknown
}

// RoomSettings holds the host-editable settings of a room.
type RoomSettings struct {
	Difficulty  Difficulty `json:"difficulty"`
	Duration    int64      `json:"duration"`
	Problems    []Problem  `json:"problems"`
	Size        int        `json:"size"`
	NumProblems int        `json:"num_problems"`
}

var (
	ErrMissingRoomID = errors.New("room id is required")
	ErrNoHost        = errors.New("room has no host")
	ErrHostNotMember = errors.New("room host is not a member of the room")
)

// Validate checks the room invariants: an id and exactly one host who is also a member.
func (r *Room) Validate() error {
	if r.RoomID == "" {
		return ErrMissingRoomID
	}
	if r.Host.Nickname == "" {
		return ErrNoHost
	}
	if _, ok := r.FindUser(r.Host); !ok {
		return fmt.Errorf("%w: %s", ErrHostNotMember, r.Host.Nickname)
	}
	return nil
}

// FindUser returns the room's copy of the given user.
func (r *Room) FindUser(u User) (User, bool) {
	for _, member := range r.Users {
		if member.SameAs(u) {
			return member, true
		}
	}
	return User{}, false
}

// IsHost reports whether u is the room host.
func (r *Room) IsHost(u User) bool {
	return r.Host.SameAs(u)
}

// Clone returns a deep copy of the room.
func (r *Room) Clone() *Room {
	if r == nil {
		return nil
	}
	c := *r
	c.Users = cloneSlice(r.Users)
	c.ActiveUsers = cloneSlice(r.ActiveUsers)
	c.InactiveUsers = cloneSlice(r.InactiveUsers)
	c.Spectators = cloneSlice(r.Spectators)
	c.Problems = cloneSlice(r.Problems)
	return &c
}

func cloneSlice[T any](s []T) []T {
	if s == nil {
		return nil
	}
	out := make([]T, len(s))
	copy(out, s)
	return out
}
