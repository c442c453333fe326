package battle

// Outcome names the winner a win-condition evaluator resolved: either a
// whole team or a single player.
type Outcome struct {
	Team   *Team
	Player PlayerID
}

// RuleSet is the strategy object a battle is driven by: capacity rules,
// damage rules, win-condition evaluation and reward policy are all
// capabilities of the selected rule set rather than subclass hooks.
//
// Implementations are invoked with the battle lock held: read the exported
// fields directly and never call back into the battle's public methods.
type RuleSet interface {
	// CapacitySatisfied reports whether enough volunteers exist to start.
	CapacitySatisfied(b *Battle) bool
	// AllowHarm gates combat between two participants.
	AllowHarm(b *Battle, attacker, target PlayerID) bool
	// CheckWin evaluates the win condition. It is only consulted while the
	// battle runs; mission-mode ranking consults it again at match end.
	CheckWin(b *Battle) (Outcome, bool)
	// Rewards returns the reward table for winners or losers.
	Rewards(b *Battle, win bool) []Reward
}

// StandardRules is the default rule set: capacity from the options block,
// harm only across team lines, no mission win condition, rewards straight
// from the configured tables.
type StandardRules struct{}

func (StandardRules) CapacitySatisfied(b *Battle) bool {
	if !b.Options.RequireCapacity {
		return true
	}
	return b.currentCapacityLocked()+len(b.queueOrder) >= b.Options.MinCapacity
}

func (StandardRules) AllowHarm(b *Battle, attacker, target PlayerID) bool {
	if b.State != StateRunning {
		return false
	}
	at := b.teamForLocked(attacker)
	tt := b.teamForLocked(target)
	if at == nil || tt == nil {
		return false
	}
	return at != tt
}

func (StandardRules) CheckWin(b *Battle) (Outcome, bool) {
	// With no mission predicate the match ends on elimination, capacity
	// loss or the run clock; nothing to report here.
	return Outcome{}, false
}

func (StandardRules) Rewards(b *Battle, win bool) []Reward {
	if win {
		return b.Options.Rewards
	}
	return b.Options.LoserRewards
}

// MissionRules wraps StandardRules with an externally supplied completion
// predicate, the mission-based alternative win condition.
type MissionRules struct {
	StandardRules
	Complete func(b *Battle) (Outcome, bool)
}

func (m MissionRules) CheckWin(b *Battle) (Outcome, bool) {
	if m.Complete == nil {
		return Outcome{}, false
	}
	var out Outcome
	var ok bool
	b.guard("mission check", func() { out, ok = m.Complete(b) })
	return out, ok
}
