package models

import (
	"errors"
	"fmt"
	"time"
)

// Language is a programming language a player can write a solution in.
type Language string

const (
	LanguagePython     Language = "PYTHON"
	LanguageJava       Language = "JAVA"
	LanguageJavaScript Language = "JAVASCRIPT"
	LanguageCpp        Language = "CPP"
	LanguageGo         Language = "GO"
)

// SubmissionType distinguishes a test run from a final submit.
type SubmissionType string

const (
	SubmissionTypeTest   SubmissionType = "TEST"
	SubmissionTypeSubmit SubmissionType = "SUBMIT"
)

// Submission is one test-run or submit attempt against a problem. Immutable once created.
type Submission struct {
	ID           string         `json:"id"`
	Initiator    User           `json:"initiator"`
	Input        *string        `json:"input"` // nil for submits
	Code         string         `json:"code"`
	Language     Language       `json:"language"`
	ProblemIndex int            `json:"problem_index"`
	Type         SubmissionType `json:"submission_type"`
	NumCorrect   int            `json:"num_correct"`
	NumTestCases int            `json:"num_test_cases"`
	StartTime    time.Time      `json:"start_time"`
}

// Solved reports whether every test case passed.
func (s *Submission) Solved() bool {
	return s.NumTestCases > 0 && s.NumCorrect == s.NumTestCases
}

// Player is a non-spectating participant in a game.
type Player struct {
	User        User         `json:"user"`
	Code        []string     `json:"code"`     // per problem
	Language    []Language   `json:"language"` // per problem
	Submissions []Submission `json:"submissions"`
	Solved      []bool       `json:"solved"` // per problem
	Color       string       `json:"color"`
}

// GameTimer is the authoritative timer of a game.
type GameTimer struct {
	Duration  int64     `json:"duration"` // seconds
	StartTime time.Time `json:"start_time"`
	EndTime   time.Time `json:"end_time"`
	TimeUp    bool      `json:"time_up"`
}

// Game is the active competitive session of a room.
type Game struct {
	Room     Room      `json:"room"`
	Problems []Problem `json:"problems"`
	Players  []Player  `json:"players"`
	Timer    GameTimer `json:"game_timer"`
}

var (
	ErrNoProblems               = errors.New("game has no problems")
	ErrSolvedLengthMismatch     = errors.New("player solved flags do not match problem count")
	ErrProblemIndexOutOfRange   = errors.New("problem index out of range")
	ErrPlayerNotFound           = errors.New("player not found")
	ErrEditorStateLengthInvalid = errors.New("code and language lists do not match problem count")
)

// Validate checks the game invariants: every player has one solved flag per problem and every
// submission points at an existing problem.
func (g *Game) Validate() error {
	if err := g.Room.Validate(); err != nil {
		return fmt.Errorf("game room: %w", err)
	}
	if len(g.Problems) == 0 {
		return ErrNoProblems
	}
	for _, p := range g.Players {
		if len(p.Solved) != len(g.Problems) {
			return fmt.Errorf("%w: player %s has %d, game has %d",
				ErrSolvedLengthMismatch, p.User.Nickname, len(p.Solved), len(g.Problems))
		}
		for _, sub := range p.Submissions {
			if err := g.CheckProblemIndex(sub.ProblemIndex); err != nil {
				return fmt.Errorf("submission %s: %w", sub.ID, err)
			}
		}
	}
	return nil
}

// CheckProblemIndex returns ErrProblemIndexOutOfRange unless i indexes the problem list.
func (g *Game) CheckProblemIndex(i int) error {
	if i < 0 || i >= len(g.Problems) {
		return fmt.Errorf("%w: %d not in [0,%d)", ErrProblemIndexOutOfRange, i, len(g.Problems))
	}
	return nil
}

// FindPlayer returns the index of the player matching u.
func (g *Game) FindPlayer(u User) (int, bool) {
	for i := range g.Players {
		if g.Players[i].User.SameAs(u) {
			return i, true
		}
	}
	return -1, false
}

// Clone returns a deep copy of the game.
func (g *Game) Clone() *Game {
	if g == nil {
		return nil
	}
	c := *g
	c.Room = *g.Room.Clone()
	c.Problems = cloneSlice(g.Problems)
	c.Players = make([]Player, len(g.Players))
	for i, p := range g.Players {
		p.Code = cloneSlice(p.Code)
		p.Language = cloneSlice(p.Language)
		p.Submissions = cloneSlice(p.Submissions)
		p.Solved = cloneSlice(p.Solved)
		c.Players[i] = p
	}
	if g.Players == nil {
		c.Players = nil
	}
	return &c
}
