package battle

import (
	"fmt"
	"sort"
)

// AwardPoints credits points to the player's current match ledger.
func (b *Battle) AwardPoints(p PlayerID, points int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.awardPointsLocked(p, points)
}

func (b *Battle) awardPointsLocked(p PlayerID, points int) {
	if b.Deleted || points <= 0 {
		return
	}
	team := b.teamForLocked(p)
	if team == nil {
		return
	}
	team.statsFor(p).PointsGained += points
	b.notify.Notify(p, fmt.Sprintf("You have gained %d points.", points))
}

// RevokePoints debits points from the player's current match ledger.
func (b *Battle) RevokePoints(p PlayerID, points int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.revokePointsLocked(p, points)
}

func (b *Battle) revokePointsLocked(p PlayerID, points int) {
	if b.Deleted || points <= 0 {
		return
	}
	team := b.teamForLocked(p)
	if team == nil {
		return
	}
	team.statsFor(p).PointsLost += points
	b.notify.Notify(p, fmt.Sprintf("You have lost %d points.", points))
}

// ReportKill records a kill and its point value, and applies the victim's
// team respawn policy.
func (b *Battle) ReportKill(killer, victim PlayerID) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.Deleted || b.State != StateRunning {
		return
	}
	victimTeam := b.teamForLocked(victim)
	if victimTeam == nil {
		return
	}
	victimTeam.statsFor(victim).Deaths++
	if killerTeam := b.teamForLocked(killer); killerTeam != nil && killerTeam != victimTeam {
		killerTeam.statsFor(killer).Kills++
		b.awardPointsLocked(killer, b.Options.PointsBase+b.Options.PointsPerKill)
	}

	if victimTeam.RespawnOnDeath {
		entity := Entity{ID: victim, Kind: KindPlayer}
		if !victimTeam.SpawnPoint.IsZero() {
			if err := b.placement.Teleport(entity, victimTeam.SpawnPoint); err != nil {
				b.log.Warn().Err(err).Str("player", string(victim)).Msg("respawn teleport failed")
			}
		}
		return
	}
	victimTeam.Dead[victim] = struct{}{}
	b.log.Debug().Str("player", string(victim)).Str("team", victimTeam.Name).Msg("player eliminated")
}

// ReportDamage feeds the damage counters for both sides of a hit.
func (b *Battle) ReportDamage(from, to PlayerID, amount int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.Deleted || amount <= 0 {
		return
	}
	if t := b.teamForLocked(from); t != nil {
		t.statsFor(from).DamageDone += amount
	}
	if t := b.teamForLocked(to); t != nil {
		t.statsFor(to).DamageTaken += amount
	}
}

// ReportHealing feeds the healing counters for both sides.
func (b *Battle) ReportHealing(from, to PlayerID, amount int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.Deleted || amount <= 0 {
		return
	}
	if t := b.teamForLocked(from); t != nil {
		t.statsFor(from).HealingDone += amount
	}
	if t := b.teamForLocked(to); t != nil {
		t.statsFor(to).HealingTaken += amount
	}
}

// ReportResurrection clears a player's dead flag and counts the raise.
func (b *Battle) ReportResurrection(p PlayerID) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.Deleted {
		return
	}
	team := b.teamForLocked(p)
	if team == nil {
		return
	}
	delete(team.Dead, p)
	team.statsFor(p).Resurrections++
}

// AllowHarm consults the rule set; it exists so combat code outside the
// orchestrator never reads battle state directly.
func (b *Battle) AllowHarm(attacker, target PlayerID) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.Deleted {
		return false
	}
	return b.guardBool("allow harm", func() bool { return b.rules.AllowHarm(b, attacker, target) })
}

// processRanksLocked runs exactly once per Ended entry. It selects the
// ranking algorithm, records wins and losses, hands out rewards, and folds
// the match ledger into durable profiles when the battle is ranked.
func (b *Battle) processRanksLocked() {
	if b.ranksProcessed {
		return
	}
	b.ranksProcessed = true

	winners := map[PlayerID]bool{}
	switch b.Options.RankMode {
	case RankMission:
		var out Outcome
		var ok bool
		b.guard("mission rank", func() { out, ok = b.rules.CheckWin(b) })
		if ok {
			if out.Team != nil {
				for _, p := range out.Team.Members {
					winners[p] = true
				}
			} else if out.Player != "" {
				winners[out.Player] = true
			}
		}
	case RankTeams:
		ranked := append([]*Team(nil), b.Teams...)
		// Stable sort keeps insertion order as the tie-break.
		sort.SliceStable(ranked, func(i, j int) bool {
			return ranked[i].Score() > ranked[j].Score()
		})
		top := b.Options.TopWinners
		if top <= 0 {
			top = 1
		}
		for i, t := range ranked {
			if i >= top {
				break
			}
			for _, p := range t.Members {
				winners[p] = true
			}
		}
	case RankPlayers:
		type entry struct {
			player PlayerID
			score  int
		}
		var all []entry
		for _, t := range b.Teams {
			for _, p := range t.Members {
				s := t.statsFor(p)
				all = append(all, entry{player: p, score: s.PointsGained - s.PointsLost})
			}
		}
		sort.SliceStable(all, func(i, j int) bool { return all[i].score > all[j].score })
		top := b.Options.TopWinners
		if top <= 0 {
			top = 1
		}
		for i, e := range all {
			if i >= top {
				break
			}
			winners[e.player] = true
		}
	}

	for _, t := range b.Teams {
		for _, p := range t.Members {
			stats := t.statsFor(p)
			if winners[p] {
				stats.Wins++
			} else {
				stats.Losses++
			}
			b.distributeRewardsLocked(p, winners[p])
		}
	}

	if b.Options.Ranked {
		b.transferStatisticsLocked()
	}
	b.log.Info().Int("winners", len(winners)).Msg("ranks processed")
}

func (b *Battle) distributeRewardsLocked(p PlayerID, win bool) {
	var rewards []Reward
	b.guard("reward policy", func() { rewards = b.rules.Rewards(b, win) })
	for _, r := range rewards {
		if r.Points != 0 {
			if r.Points > 0 {
				b.awardPointsLocked(p, r.Points)
			} else {
				b.revokePointsLocked(p, -r.Points)
			}
		}
		if r.Name != "" {
			b.notify.Notify(p, fmt.Sprintf("You receive %d x %s.", r.Amount, r.Name))
		}
	}
}

// transferStatisticsLocked folds every match-local ledger into the durable
// cross-battle profile and adjusts the durable point balance, telling each
// player the net change.
func (b *Battle) transferStatisticsLocked() {
	for _, t := range b.Teams {
		players := make([]PlayerID, 0, len(t.Statistics))
		for p := range t.Statistics {
			players = append(players, p)
		}
		sort.Slice(players, func(i, j int) bool { return players[i] < players[j] })
		for _, p := range players {
			stats := t.Statistics[p]
			if err := b.profiles.Apply(p, stats.delta()); err != nil {
				b.log.Error().Err(err).Str("player", string(p)).Msg("failed to transfer statistics")
				continue
			}
			net := stats.PointsGained - stats.PointsLost
			if net != 0 {
				if err := b.profiles.AdjustBalance(p, net); err != nil {
					b.log.Error().Err(err).Str("player", string(p)).Msg("failed to adjust balance")
					continue
				}
				b.notify.Notify(p, fmt.Sprintf("Your point balance changed by %+d.", net))
			}
		}
	}
}
