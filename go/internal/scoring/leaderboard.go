package scoring

import (
	"math"
	"sort"

	"github.com/mcdev12/codeclash/go/internal/models"
)

// PlayerSummary is the derived view of one player in a game.
type PlayerSummary struct {
	User           models.User        `json:"user"`
	Current        *models.Submission `json:"current"` // latest submission
	Best           *models.Submission `json:"best"`    // best over all problems
	Score          int                `json:"score"`   // score of Best
	ElapsedMinutes int                `json:"elapsed_minutes"`
	ProblemScores  []int              `json:"problem_scores"`
	Solved         int                `json:"solved"`
	Aggregate      int                `json:"aggregate"` // percentage over all problems
	// ImprovedMinutes is when the player last raised one of their per-problem scores.
	ImprovedMinutes int `json:"improved_minutes"`
}

// Standing is one leaderboard row.
type Standing struct {
	Rank int `json:"rank"`
	PlayerSummary
}

// Summarize derives the summary of player within game.
//
// The aggregate is the mean over every problem of the game of the player's best score on that
// problem, so a single problem at 50 out of two problems yields 25.
func Summarize(game *models.Game, player *models.Player) PlayerSummary {
	s := PlayerSummary{
		User:    player.User,
		Current: LatestSubmission(player),
		Best:    BestSubmission(player, AnyProblem),
	}
	s.Score = Score(s.Best)
	if s.Current != nil {
		s.ElapsedMinutes = ElapsedMinutes(game.Timer.StartTime, s.Current.StartTime)
	}

	s.ProblemScores = make([]int, len(game.Problems))
	total := 0
	for i := range game.Problems {
		best := BestSubmission(player, i)
		s.ProblemScores[i] = Score(best)
		total += s.ProblemScores[i]

		solved := i < len(player.Solved) && player.Solved[i]
		if solved || (best != nil && best.Solved()) {
			s.Solved++
		}
	}
	if len(game.Problems) > 0 {
		s.Aggregate = int(math.Round(float64(total) / float64(len(game.Problems))))
	}
	s.ImprovedMinutes = improvedMinutes(game, player)
	return s
}

// improvedMinutes replays the submissions in time order and returns the elapsed minutes of the
// last one that raised a per-problem score.
func improvedMinutes(game *models.Game, player *models.Player) int {
	subs := make([]*models.Submission, len(player.Submissions))
	for i := range player.Submissions {
		subs[i] = &player.Submissions[i]
	}
	sort.Slice(subs, func(i, j int) bool { return later(subs[j], subs[i]) })

	best := make(map[int]int)
	minutes := 0
	for _, sub := range subs {
		score := Score(sub)
		if score > best[sub.ProblemIndex] {
			best[sub.ProblemIndex] = score
			minutes = ElapsedMinutes(game.Timer.StartTime, sub.StartTime)
		}
	}
	return minutes
}

// Leaderboard ranks the players of game: aggregate descending, solved count descending, then
// the earlier last improvement, then nickname. Players equal on the first three keys share a
// rank.
func Leaderboard(game *models.Game) []Standing {
	if game == nil {
		return nil
	}
	standings := make([]Standing, len(game.Players))
	for i := range game.Players {
		standings[i] = Standing{PlayerSummary: Summarize(game, &game.Players[i])}
	}

	sort.SliceStable(standings, func(i, j int) bool {
		a, b := standings[i], standings[j]
		if c := compare(a.PlayerSummary, b.PlayerSummary); c != 0 {
			return c < 0
		}
		return a.User.Nickname < b.User.Nickname
	})

	for i := range standings {
		if i > 0 && compare(standings[i-1].PlayerSummary, standings[i].PlayerSummary) == 0 {
			standings[i].Rank = standings[i-1].Rank
			continue
		}
		standings[i].Rank = i + 1
	}
	return standings
}

// compare orders a before b when it returns a negative number.
func compare(a, b PlayerSummary) int {
	switch {
	case a.Aggregate != b.Aggregate:
		return b.Aggregate - a.Aggregate
	case a.Solved != b.Solved:
		return b.Solved - a.Solved
	default:
		return a.ImprovedMinutes - b.ImprovedMinutes
	}
}
