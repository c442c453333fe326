package battle

import (
	"fmt"

	"battleground/internal/constants"

	gonanoid "github.com/matoous/go-nanoid/v2"
)

// Enqueue places a volunteer in the waiting pool, optionally with a
// pre-selected team by name. When the options allow it, the same enqueue
// cascades to the rest of the player's party; cascade rejections are
// logged, not propagated.
func (b *Battle) Enqueue(p PlayerID, preferredTeam string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.enqueueLocked(p, preferredTeam); err != nil {
		return err
	}
	if b.Options.QueueParty {
		for _, member := range b.presence.Party(p) {
			if member == p {
				continue
			}
			if err := b.enqueueLocked(member, preferredTeam); err != nil {
				b.log.Debug().
					Str("player", string(member)).
					Err(err).
					Msg("party member not enqueued")
			}
		}
	}
	return nil
}

func (b *Battle) enqueueLocked(p PlayerID, preferredTeam string) error {
	switch {
	case b.Deleted:
		return ErrDeleted
	case b.State == StateInternal:
		return ErrNotOpen
	case !b.Options.AllowInvites:
		return ErrInvitesDisabled
	case !b.presence.Online(p):
		return ErrOffline
	case b.presence.InCombat(p):
		return ErrInCombat
	case b.teamForLocked(p) != nil:
		return ErrAlreadyJoined
	case b.roster.InOtherBattle(p, b.Serial):
		return ErrOtherBattle
	}
	if _, ok := b.Queue[p]; ok {
		return ErrAlreadyQueued
	}
	if until, ok := b.deserters[p]; ok {
		if b.clock().Before(until) {
			return ErrDeserter
		}
		delete(b.deserters, p)
	}

	b.Queue[p] = preferredTeam
	b.queueOrder = append(b.queueOrder, p)
	b.log.Info().Str("player", string(p)).Str("preferred", preferredTeam).Msg("player queued")
	b.notify.Notify(p, fmt.Sprintf("You have joined the queue for %s.", b.Name))
	return nil
}

// Dequeue removes a volunteer from the waiting pool. It is idempotent. The
// leave notification is suppressed when the player has since become a
// participant: the queue entry is stale bookkeeping in that case.
func (b *Battle) Dequeue(p PlayerID) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.dequeueLocked(p, true)
}

func (b *Battle) dequeueLocked(p PlayerID, announce bool) {
	if _, ok := b.Queue[p]; !ok {
		return
	}
	delete(b.Queue, p)
	for i, q := range b.queueOrder {
		if q == p {
			b.queueOrder = append(b.queueOrder[:i], b.queueOrder[i+1:]...)
			break
		}
	}
	delete(b.invites, p)
	if announce && b.teamForLocked(p) == nil {
		b.notify.Notify(p, fmt.Sprintf("You have left the queue for %s.", b.Name))
	}
}

func (b *Battle) acceptingVolunteers() bool {
	switch b.State {
	case StateQueueing, StatePreparing:
		return true
	case StateRunning:
		return b.Options.InviteWhileRunning
	}
	return false
}

// SendInvites ensures exactly one outstanding invite exists per queued,
// still-eligible player. It only runs while the battle accepts
// participants and has spare capacity; the tick loop drives it at a
// coarser multiple of the tick count.
func (b *Battle) SendInvites() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.sendInvitesLocked()
}

func (b *Battle) sendInvitesLocked() {
	if b.Deleted || !b.acceptingVolunteers() {
		return
	}
	if b.currentCapacityLocked() >= b.maxCapacityLocked() {
		return
	}
	now := b.clock()
	for _, p := range append([]PlayerID(nil), b.queueOrder...) {
		if !b.presence.Online(p) {
			b.dequeueLocked(p, false)
			continue
		}
		if inv, ok := b.invites[p]; ok {
			if now.Sub(inv.Created) < constants.InviteTTL {
				continue
			}
			// Stale invite referencing this battle: close before reissuing.
			delete(b.invites, p)
		}
		id, err := gonanoid.New()
		if err != nil {
			b.log.Error().Err(err).Msg("failed to generate invite id")
			continue
		}
		b.invites[p] = &invite{ID: id, Player: p, Created: now}
		b.notify.Notify(p, fmt.Sprintf("A place in %s is ready for you.", b.Name))
		b.log.Debug().Str("player", string(p)).Str("invite", id).Msg("invite dispatched")
	}
}

// AcceptInvite resolves the queued player's target team and joins them.
// Resolution order: explicit pre-selection if still valid, the sole team if
// only one exists, then the auto-assignment heuristic. When nothing
// resolves or the resolved team is full, the player stays queued and is
// told so.
func (b *Battle) AcceptInvite(p PlayerID) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.Deleted {
		return ErrDeleted
	}
	pref, ok := b.Queue[p]
	if !ok {
		return ErrNotQueued
	}

	var team *Team
	if pref != "" {
		if t := b.teamByNameLocked(pref); t != nil && !t.Full() {
			team = t
		}
	}
	if team == nil && len(b.Teams) == 1 && !b.Teams[0].Full() {
		team = b.Teams[0]
	}
	if team == nil {
		team = b.autoAssignTeamLocked()
	}
	if team == nil || team.Full() {
		b.notify.Notify(p, fmt.Sprintf("No team in %s can take you right now; you remain queued.", b.Name))
		if team == nil {
			return ErrNoTeam
		}
		return ErrTeamFull
	}

	b.joinLocked(p, team)
	return nil
}

// QueueLen is the current number of waiting volunteers.
func (b *Battle) QueueLen() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.queueOrder)
}
