package scoring

import (
	"fmt"
	"time"
)

// GameClock is the displayable countdown of a game.
type GameClock struct {
	Minutes   string        `json:"minutes"`
	Seconds   string        `json:"seconds"`
	Remaining time.Duration `json:"remaining"`
	TimeUp    bool          `json:"time_up"`
}

// TimeUpClock is returned once no time remains.
var TimeUpClock = GameClock{Minutes: "00", Seconds: "00", TimeUp: true}

// String renders MM:SS.
func (c GameClock) String() string {
	return c.Minutes + ":" + c.Seconds
}

// Countdown derives the clock from the authoritative end time and the current instant.
// Minutes and seconds are floored and zero-padded; minutes may exceed two digits.
func Countdown(endTime, now time.Time) GameClock {
	remaining := endTime.Sub(now)
	if remaining <= 0 {
		return TimeUpClock
	}
	total := int64(remaining / time.Second)
	return GameClock{
		Minutes:   fmt.Sprintf("%02d", total/60),
		Seconds:   fmt.Sprintf("%02d", total%60),
		Remaining: remaining,
	}
}
