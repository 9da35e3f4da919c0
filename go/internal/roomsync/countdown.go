package roomsync

import (
	"time"

	"github.com/mcdev12/codeclash/go/internal/scoring"
)

// countdown is one running game clock. Every exit path (game end, time up, room change and
// Close) goes through stopCountdownLocked.
type countdown struct {
	end  time.Time
	stop chan struct{}
}

func (s *Synchronizer) startCountdownLocked(end time.Time) {
	s.stopCountdownLocked()

	s.gameClock = scoring.Countdown(end, s.clock.Now().Add(s.skew))
	if s.gameClock.TimeUp {
		s.finishLocked()
		return
	}

	cd := &countdown{end: end, stop: make(chan struct{})}
	s.countdown = cd
	s.wg.Add(1)
	go s.runCountdown(cd)
}

func (s *Synchronizer) stopCountdownLocked() {
	if s.countdown == nil {
		return
	}
	close(s.countdown.stop)
	s.countdown = nil
}

func (s *Synchronizer) runCountdown(cd *countdown) {
	defer s.wg.Done()

	ticker := s.clock.NewTicker(s.config.TickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-cd.stop:
			return
		case <-ticker.Chan():
			if s.tick(cd) {
				return
			}
		}
	}
}

// tick recomputes the clock and reports whether the countdown is over.
func (s *Synchronizer) tick(cd *countdown) bool {
	done := false
	err := s.update(func() error {
		if s.countdown != cd {
			done = true
			return nil
		}
		s.gameClock = scoring.Countdown(cd.end, s.clock.Now().Add(s.skew))
		s.dirty = true
		if s.gameClock.TimeUp {
			s.finishLocked()
			done = true
		}
		return nil
	})
	return done || err != nil
}
