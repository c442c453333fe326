package battle

import "math/rand"

// ReadyFunc is the pluggable per-team readiness predicate consulted while
// the battle is preparing. The default requires minimum capacity only.
type ReadyFunc func(*Team) bool

// Statistics is the per-player ledger for one battle/team pairing. Entries
// are created lazily on first update and reset when a new match opens.
type Statistics struct {
	Battles       int
	Wins          int
	Losses        int
	Kills         int
	Deaths        int
	DamageDone    int
	DamageTaken   int
	HealingDone   int
	HealingTaken  int
	PointsGained  int
	PointsLost    int
	Resurrections int
	Counters      map[string]int
}

func (s *Statistics) Count(name string, delta int) {
	if s.Counters == nil {
		s.Counters = map[string]int{}
	}
	s.Counters[name] += delta
}

func (s *Statistics) delta() StatsDelta {
	var counters map[string]int
	if len(s.Counters) > 0 {
		counters = make(map[string]int, len(s.Counters))
		for k, v := range s.Counters {
			counters[k] = v
		}
	}
	return StatsDelta{
		Battles:       s.Battles,
		Wins:          s.Wins,
		Losses:        s.Losses,
		Kills:         s.Kills,
		Deaths:        s.Deaths,
		DamageDone:    s.DamageDone,
		DamageTaken:   s.DamageTaken,
		HealingDone:   s.HealingDone,
		HealingTaken:  s.HealingTaken,
		PointsGained:  s.PointsGained,
		PointsLost:    s.PointsLost,
		Resurrections: s.Resurrections,
		Counters:      counters,
	}
}

// Team is a named group with capacity bounds. A player belongs to at most
// one team within a battle; team membership and queue membership are
// mutually exclusive.
type Team struct {
	Name           string
	Color          int
	MinCapacity    int
	MaxCapacity    int
	Members        []PlayerID
	Dead           map[PlayerID]struct{}
	Statistics     map[PlayerID]*Statistics
	HomeBase       Location
	SpawnPoint     Location
	RespawnOnDeath bool

	ready  ReadyFunc
	battle *Battle
}

func NewTeam(name string, min, max int) *Team {
	return &Team{
		Name:        name,
		MinCapacity: min,
		MaxCapacity: max,
		Dead:        map[PlayerID]struct{}{},
		Statistics:  map[PlayerID]*Statistics{},
	}
}

// SetReady overrides the readiness predicate for this team.
func (t *Team) SetReady(fn ReadyFunc) { t.ready = fn }

func (t *Team) HasMember(p PlayerID) bool {
	for _, m := range t.Members {
		if m == p {
			return true
		}
	}
	return false
}

func (t *Team) Full() bool {
	return t.MaxCapacity > 0 && len(t.Members) >= t.MaxCapacity
}

// Eliminated reports whether every member is currently dead. An empty team
// is not eliminated; the capacity guard covers that case.
func (t *Team) Eliminated() bool {
	if len(t.Members) == 0 {
		return false
	}
	for _, m := range t.Members {
		if _, dead := t.Dead[m]; !dead {
			return false
		}
	}
	return true
}

// Score is the team aggregate used by team-ranked ordering.
func (t *Team) Score() int {
	total := 0
	for _, s := range t.Statistics {
		total += s.PointsGained - s.PointsLost
	}
	return total
}

func (t *Team) statsFor(p PlayerID) *Statistics {
	if t.Statistics == nil {
		t.Statistics = map[PlayerID]*Statistics{}
	}
	s, ok := t.Statistics[p]
	if !ok {
		s = &Statistics{}
		t.Statistics[p] = s
	}
	return s
}

func (t *Team) isReady() bool {
	if t.ready != nil {
		b := t.battle
		return b.guardBool("team ready", func() bool { return t.ready(t) })
	}
	return len(t.Members) >= t.MinCapacity
}

func (t *Team) removeMember(p PlayerID) bool {
	for i, m := range t.Members {
		if m == p {
			t.Members = append(t.Members[:i], t.Members[i+1:]...)
			delete(t.Dead, p)
			return true
		}
	}
	return false
}

// AddTeam appends a team to the ordered list. Ordering is stable; it is the
// tie-break for equal scores at match end.
func (b *Battle) AddTeam(t *Team) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.Deleted {
		return
	}
	t.battle = b
	b.Teams = append(b.Teams, t)
}

// TeamFor returns the team p belongs to, or nil.
func (b *Battle) TeamFor(p PlayerID) *Team {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.teamForLocked(p)
}

func (b *Battle) teamForLocked(p PlayerID) *Team {
	for _, t := range b.Teams {
		if t.HasMember(p) {
			return t
		}
	}
	return nil
}

func (b *Battle) teamByNameLocked(name string) *Team {
	for _, t := range b.Teams {
		if t.Name == name {
			return t
		}
	}
	return nil
}

// autoAssignTeamLocked picks the least loaded team: minimize the sum of
// skill*stat over current members, empty teams most attractive, then least
// populated, then random among the remaining ties.
func (b *Battle) autoAssignTeamLocked() *Team {
	var candidates []*Team
	best := 0
	found := false
	for _, t := range b.Teams {
		if t.Full() {
			continue
		}
		// An empty team is always the most attractive choice.
		weight := -1
		if len(t.Members) > 0 {
			weight = 0
			for _, m := range t.Members {
				weight += b.presence.SkillTotal(m) * b.presence.StatTotal(m)
			}
		}
		switch {
		case !found || weight < best:
			found = true
			best = weight
			candidates = []*Team{t}
		case weight == best:
			candidates = append(candidates, t)
		}
	}
	switch len(candidates) {
	case 0:
		return nil
	case 1:
		return candidates[0]
	}
	least := candidates[0]
	tied := []*Team{least}
	for _, t := range candidates[1:] {
		switch {
		case len(t.Members) < len(least.Members):
			least = t
			tied = []*Team{t}
		case len(t.Members) == len(least.Members):
			tied = append(tied, t)
		}
	}
	if len(tied) == 1 {
		return tied[0]
	}
	return tied[rand.Intn(len(tied))]
}
