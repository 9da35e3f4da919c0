// Package scoring derives per-player values from a game snapshot: best submissions, scores,
// elapsed times, the countdown clock and the leaderboard. Every function is pure.
package scoring

import (
	"math"
	"time"

	"github.com/mcdev12/codeclash/go/internal/models"
)

// AnyProblem selects submissions for every problem.
const AnyProblem = -1

// BestSubmission returns a copy of the player's submission with the most correct test cases,
// restricted to problemIndex unless it is AnyProblem. Ties go to the latest start time, then to
// the greater ID, so the result does not depend on the order of the submission list.
// It returns nil when nothing matches.
func BestSubmission(player *models.Player, problemIndex int) *models.Submission {
	if player == nil {
		return nil
	}
	var best *models.Submission
	for i := range player.Submissions {
		sub := &player.Submissions[i]
		if problemIndex != AnyProblem && sub.ProblemIndex != problemIndex {
			continue
		}
		if best == nil || better(sub, best) {
			best = sub
		}
	}
	if best == nil {
		return nil
	}
	out := *best
	return &out
}

// LatestSubmission returns a copy of the player's most recent submission, or nil.
func LatestSubmission(player *models.Player) *models.Submission {
	if player == nil {
		return nil
	}
	var latest *models.Submission
	for i := range player.Submissions {
		sub := &player.Submissions[i]
		if latest == nil || later(sub, latest) {
			latest = sub
		}
	}
	if latest == nil {
		return nil
	}
	out := *latest
	return &out
}

func better(a, b *models.Submission) bool {
	if a.NumCorrect != b.NumCorrect {
		return a.NumCorrect > b.NumCorrect
	}
	return later(a, b)
}

func later(a, b *models.Submission) bool {
	if !a.StartTime.Equal(b.StartTime) {
		return a.StartTime.After(b.StartTime)
	}
	return a.ID > b.ID
}

// Score is the rounded percentage of test cases passed: 0 for nil or a submission without
// test cases.
func Score(sub *models.Submission) int {
	if sub == nil || sub.NumTestCases <= 0 {
		return 0
	}
	return int(math.Round(100 * float64(sub.NumCorrect) / float64(sub.NumTestCases)))
}

// ElapsedMinutes is the whole number of minutes from start to event, never negative.
func ElapsedMinutes(start, event time.Time) int {
	d := event.Sub(start)
	if d <= 0 {
		return 0
	}
	return int(math.Floor(d.Minutes()))
}
