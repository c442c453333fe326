package battle

import "time"

// Schedule is the optional external trigger that reopens a battle at
// configured times. The absence of a next tick is itself a signal: the
// queueing and preparing guards treat "no future retry" as reason to reset
// or give up a countdown.
type Schedule struct {
	Enabled  bool
	Interval time.Duration
	NextTick time.Time
}

// HasPending reports whether a future trigger exists.
func (s *Schedule) HasPending(now time.Time) bool {
	if s == nil || !s.Enabled {
		return false
	}
	return s.NextTick.After(now)
}

func (s *Schedule) advance(now time.Time) {
	if s == nil || !s.Enabled || s.Interval <= 0 {
		return
	}
	next := s.NextTick
	if next.IsZero() {
		next = now
	}
	for !next.After(now) {
		next = next.Add(s.Interval)
	}
	s.NextTick = next
}

// OnScheduleTick is invoked by the external schedule trigger. An internal
// battle is reopened; any other state just re-evaluates on the next tick.
func (b *Battle) OnScheduleTick() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.Deleted {
		return
	}
	now := b.clock()
	b.Schedule.advance(now)
	b.log.Debug().Str("state", b.State.String()).Msg("schedule tick")
	if b.State == StateInternal && b.validateLocked() {
		b.transitionLocked(StateQueueing, now)
	}
}
