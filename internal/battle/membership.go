package battle

import (
	"fmt"

	"battleground/internal/constants"
)

// joinLocked promotes a queued volunteer into a team: queue and team
// membership are mutually exclusive, and the pre-join location is recorded
// so the player can be bounced back on exit.
func (b *Battle) joinLocked(p PlayerID, team *Team) {
	b.dequeueLocked(p, false)

	entity := Entity{ID: p, Kind: KindPlayer}
	if loc, ok := b.presence.Location(entity); ok {
		b.BounceInfo[p] = loc
	}
	team.Members = append(team.Members, p)
	team.statsFor(p).Battles++

	if !team.SpawnPoint.IsZero() {
		if err := b.placement.Teleport(entity, team.SpawnPoint); err != nil {
			b.log.Warn().Err(err).Str("player", string(p)).Msg("failed to teleport joiner")
		}
	}
	b.notify.Broadcast(ScopeLocal, fmt.Sprintf("%s has joined %s.", p, team.Name), StyleInfo)
	b.log.Info().Str("player", string(p)).Str("team", team.Name).Msg("player joined team")
}

// AddSpectator grants read-only presence in the match zone.
func (b *Battle) AddSpectator(p PlayerID) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	switch {
	case b.Deleted:
		return ErrDeleted
	case !b.Options.AllowSpectators:
		return ErrNotOpen
	case b.teamForLocked(p) != nil:
		return ErrAlreadyJoined
	}
	for _, s := range b.Spectators {
		if s == p {
			return nil
		}
	}
	entity := Entity{ID: p, Kind: KindPlayer}
	if loc, ok := b.presence.Location(entity); ok {
		b.BounceInfo[p] = loc
	}
	b.Spectators = append(b.Spectators, p)
	b.log.Info().Str("player", string(p)).Msg("spectator added")
	return nil
}

// Quit removes a player voluntarily. Quitting a running match is
// desertion: a loss is recorded, the Deserted counter incremented, pending
// point awards revoked, and the desertion broadcast globally.
func (b *Battle) Quit(p PlayerID) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.Deleted {
		return
	}
	team := b.teamForLocked(p)
	if team != nil && b.State == StateRunning {
		b.desertLocked(p, team)
	}
	b.removeLocked(p)
}

// Eject removes a player or owned creature without desertion handling.
func (b *Battle) Eject(e Entity) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.Deleted {
		return
	}
	if e.Kind != KindPlayer {
		b.placement.Remove(e)
		return
	}
	b.removeLocked(e.ID)
}

func (b *Battle) desertLocked(p PlayerID, team *Team) {
	stats := team.statsFor(p)
	stats.Losses++
	stats.Count("Deserted", 1)
	if stats.PointsGained > 0 {
		b.revokePointsLocked(p, stats.PointsGained)
	}
	b.deserters[p] = b.clock().Add(constants.DeserterCooldown)
	b.notify.Broadcast(ScopeGlobal, fmt.Sprintf("%s has deserted %s!", p, b.Name), StyleAlert)
	b.log.Info().Str("player", string(p)).Str("team", team.Name).Msg("player deserted")
}

// removeLocked is idempotent: it strips p from team, spectator and queue
// membership, whichever holds, and bounces them out of the zone.
func (b *Battle) removeLocked(p PlayerID) {
	removed := false
	if team := b.teamForLocked(p); team != nil {
		team.removeMember(p)
		removed = true
	}
	for i, s := range b.Spectators {
		if s == p {
			b.Spectators = append(b.Spectators[:i], b.Spectators[i+1:]...)
			removed = true
			break
		}
	}
	b.dequeueLocked(p, false)
	if removed {
		b.returnPlayerLocked(p)
	}
}

// returnPlayerLocked teleports a player to their recorded bounce location,
// or the configured ejection point when none was recorded.
func (b *Battle) returnPlayerLocked(p PlayerID) {
	entity := Entity{ID: p, Kind: KindPlayer}
	dest, ok := b.BounceInfo[p]
	if !ok || dest.IsZero() {
		dest = b.Options.EjectLocation
	}
	delete(b.BounceInfo, p)
	if dest.IsZero() {
		return
	}
	if err := b.placement.Teleport(entity, dest); err != nil {
		b.log.Warn().Err(err).Str("player", string(p)).Msg("failed to bounce player")
	}
}

// InvalidateStray reconciles an entity's observed physical location with
// its logical membership. It runs on every location-change notification
// and from the per-tick sweep, and is a no-op on a consistent entity.
func (b *Battle) InvalidateStray(e Entity) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.invalidateStrayLocked(e)
}

func (b *Battle) invalidateStrayLocked(e Entity) {
	if b.Deleted || !b.placement.RegionContains(e) {
		return
	}
	switch e.Kind {
	case KindPlayer:
		if b.teamForLocked(e.ID) != nil {
			return
		}
		for _, s := range b.Spectators {
			if s == e.ID {
				return
			}
		}
		if b.Options.AllowSpectators {
			b.Spectators = append(b.Spectators, e.ID)
			b.log.Debug().Str("player", string(e.ID)).Msg("stray player converted to spectator")
			return
		}
		b.log.Debug().Str("player", string(e.ID)).Msg("stray player ejected")
		b.returnPlayerLocked(e.ID)
	case KindCreature:
		if b.teamForLocked(e.Owner) != nil {
			return
		}
		b.log.Debug().Str("owner", string(e.Owner)).Msg("stray creature removed")
		b.placement.Remove(e)
	case KindSpawn:
		if b.Options.AllowSpawn {
			return
		}
		b.placement.Remove(e)
	}
}

// OnLocationChanged is the placement service's movement callback.
func (b *Battle) OnLocationChanged(e Entity) {
	b.InvalidateStray(e)
}

// OnLogout drops a queued player; participants are kept so a reconnecting
// player resumes their slot.
func (b *Battle) OnLogout(p PlayerID) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.Deleted {
		return
	}
	b.dequeueLocked(p, false)
}
