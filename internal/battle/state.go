package battle

import (
	"fmt"
	"time"
)

// Open moves an internal battle into the join window. It is the operator
// entry point; the schedule trigger uses the same path.
func (b *Battle) Open() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.Deleted {
		return ErrDeleted
	}
	if b.State != StateInternal {
		return nil
	}
	if !b.validateLocked() {
		return fmt.Errorf("battle %s failed validation", b.Serial)
	}
	b.transitionLocked(StateQueueing, b.clock())
	return nil
}

// Close forces the battle back to Internal. Closing a running match is a
// cancellation, not a loss for anyone.
func (b *Battle) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.Deleted || b.State == StateInternal {
		return
	}
	b.transitionLocked(StateInternal, b.clock())
}

// evaluateLocked applies the transition table. At most one transition
// happens per tick.
func (b *Battle) evaluateLocked(now time.Time) {
	switch b.State {
	case StateQueueing:
		b.evaluateQueueingLocked(now)
	case StatePreparing:
		b.evaluatePreparingLocked(now)
	case StateRunning:
		b.evaluateRunningLocked(now)
	case StateEnded:
		if now.Sub(b.Options.Timing.EndedWhen) >= b.Options.Timing.EndedDuration {
			b.transitionLocked(StateQueueing, now)
		}
	}
}

func (b *Battle) evaluateQueueingLocked(now time.Time) {
	t := &b.Options.Timing
	capacityOK := b.guardBool("capacity rule", func() bool { return b.rules.CapacitySatisfied(b) })
	if capacityOK {
		if now.Sub(t.OpenedWhen) >= t.QueueDuration {
			b.transitionLocked(StatePreparing, now)
		}
		return
	}
	// The requirement cannot resolve by waiting: without a future schedule
	// tick the countdown would run toward a transition that can never
	// happen, so restart the window instead.
	if !b.Schedule.HasPending(now) {
		t.OpenedWhen = now
	}
}

func (b *Battle) evaluatePreparingLocked(now time.Time) {
	t := &b.Options.Timing
	if now.Sub(t.PreparedWhen) < t.PrepareDuration {
		return
	}
	ready := true
	for _, team := range b.Teams {
		if !team.isReady() {
			ready = false
			break
		}
	}
	if ready {
		b.transitionLocked(StateRunning, now)
		return
	}
	if b.Schedule.HasPending(now) {
		// A scheduled retry exists; rearm the countdown rather than give up.
		t.PreparedWhen = now
		return
	}
	b.transitionLocked(StateEnded, now)
}

func (b *Battle) evaluateRunningLocked(now time.Time) {
	t := &b.Options.Timing

	if b.Options.RequireCapacity &&
		b.currentCapacityLocked() < b.Options.MinCapacity &&
		!b.Options.InviteWhileRunning {
		b.log.Info().Msg("capacity lost, ending match")
		b.transitionLocked(StateEnded, now)
		return
	}

	eliminated := false
	alive := 0
	for _, team := range b.Teams {
		if len(team.Members) == 0 {
			continue
		}
		if team.Eliminated() {
			eliminated = true
		} else {
			alive++
		}
	}
	if eliminated && alive <= 1 {
		b.log.Info().Int("teams_alive", alive).Msg("elimination, ending match")
		b.transitionLocked(StateEnded, now)
		return
	}

	var won bool
	b.guard("win condition", func() { _, won = b.rules.CheckWin(b) })
	if won {
		b.log.Info().Msg("win condition satisfied, ending match")
		b.transitionLocked(StateEnded, now)
		return
	}

	if t.RunDuration > 0 && now.Sub(t.StartedWhen) >= t.RunDuration {
		b.log.Info().Msg("run clock elapsed, ending match")
		b.transitionLocked(StateEnded, now)
	}
}

// transitionLocked performs the state change plus its entry side effects:
// timing bookkeeping, broadcasts, door and gate toggles, rank processing
// on Ended, and the cancellation path on Internal.
func (b *Battle) transitionLocked(to State, now time.Time) {
	from := b.State
	b.LastState = from
	b.State = to
	b.LastStateChange = now
	b.log.Info().
		Str("from", from.String()).
		Str("to", to.String()).
		Msg("state transition")

	t := &b.Options.Timing
	switch to {
	case StateQueueing:
		t.OpenedWhen = now
		b.resetMatchLocked()
		b.notify.Broadcast(ScopeGlobal, fmt.Sprintf("%s is open for volunteers!", b.Name), StyleInfo)

	case StatePreparing:
		t.PreparedWhen = now
		b.notify.Broadcast(ScopeLocal, fmt.Sprintf("%s: teams are locked, the match starts soon.", b.Name), StyleInfo)

	case StateRunning:
		t.StartedWhen = now
		b.ranksProcessed = false
		b.suddenDeath = false
		for _, d := range b.Doors {
			b.placement.CancelPendingAutoClose(d)
			b.placement.OpenDoor(d)
		}
		b.placement.OpenZoneGates()
		b.notify.PlaySound(ScopeLocal, soundMatchStart)
		b.notify.Broadcast(ScopeLocal, fmt.Sprintf("%s has begun!", b.Name), StyleAlert)

	case StateEnded:
		t.EndedWhen = now
		for _, d := range b.Doors {
			b.placement.CloseDoor(d)
		}
		b.placement.CloseZoneGates()
		b.processRanksLocked()
		b.notify.PlaySound(ScopeLocal, soundMatchEnd)
		b.notify.Broadcast(ScopeLocal, fmt.Sprintf("%s is over.", b.Name), StyleInfo)

	case StateInternal:
		cancelled := from == StateRunning
		*t = Timing{
			QueueDuration:   t.QueueDuration,
			PrepareDuration: t.PrepareDuration,
			RunDuration:     t.RunDuration,
			EndedDuration:   t.EndedDuration,
		}
		for _, d := range b.Doors {
			b.placement.CancelPendingAutoClose(d)
			b.placement.CloseDoor(d)
		}
		b.placement.CloseZoneGates()
		if cancelled {
			// Cancellation: participants go back to the queue instead of
			// being recorded as losses.
			b.notify.Broadcast(ScopeGlobal, fmt.Sprintf("%s has been cancelled.", b.Name), StyleAlert)
			for _, team := range b.Teams {
				members := append([]PlayerID(nil), team.Members...)
				for _, p := range members {
					team.removeMember(p)
					b.returnPlayerLocked(p)
					if _, queued := b.Queue[p]; !queued {
						b.Queue[p] = team.Name
						b.queueOrder = append(b.queueOrder, p)
					}
				}
			}
		} else {
			b.notify.Broadcast(ScopeLocal, fmt.Sprintf("%s is closed.", b.Name), StyleInfo)
		}
		b.invites = map[PlayerID]*invite{}
	}
}

// resetMatchLocked starts a fresh cycle: leftover members from the
// previous match are bounced out, dead sets and the match ledger reset,
// and the one-shot rank guard rearmed.
func (b *Battle) resetMatchLocked() {
	for _, team := range b.Teams {
		members := append([]PlayerID(nil), team.Members...)
		for _, p := range members {
			team.removeMember(p)
			b.returnPlayerLocked(p)
		}
		team.Dead = map[PlayerID]struct{}{}
		team.Statistics = map[PlayerID]*Statistics{}
	}
	b.Spectators = nil
	b.ranksProcessed = false
	b.suddenDeath = false
}

const (
	soundMatchStart = 0x20F
	soundMatchEnd   = 0x1F7
)
