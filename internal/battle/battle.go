package battle

import (
	"sync"
	"time"

	"battleground/internal/constants"

	"github.com/rs/zerolog"
)

type State uint8

const (
	StateInternal State = iota
	StateQueueing
	StatePreparing
	StateRunning
	StateEnded
)

func (s State) String() string {
	switch s {
	case StateInternal:
		return "internal"
	case StateQueueing:
		return "queueing"
	case StatePreparing:
		return "preparing"
	case StateRunning:
		return "running"
	case StateEnded:
		return "ended"
	}
	return "unknown"
}

type RankMode int

const (
	RankTeams RankMode = iota
	RankPlayers
	RankMission
)

// Timing records the UTC instant each state was entered plus the configured
// phase durations. Time left in a phase is always derived from these, never
// counted down separately.
type Timing struct {
	OpenedWhen   time.Time
	PreparedWhen time.Time
	StartedWhen  time.Time
	EndedWhen    time.Time

	QueueDuration   time.Duration
	PrepareDuration time.Duration
	RunDuration     time.Duration
	EndedDuration   time.Duration
}

type Reward struct {
	Name   string
	Amount int
	Points int
}

type SuddenDeathOptions struct {
	Enabled           bool
	CapacityThreshold int
	Damage            int
}

type Options struct {
	Ranked             bool
	RequireCapacity    bool
	MinCapacity        int
	MaxCapacity        int
	AllowInvites       bool
	InviteWhileRunning bool
	AllowSpectators    bool
	AllowSpawn         bool
	QueueParty         bool
	PointsBase         int
	PointsPerKill      int
	RankMode           RankMode
	TopWinners         int
	Rewards            []Reward
	LoserRewards       []Reward
	SuddenDeath        SuddenDeathOptions
	Weather            bool
	EjectLocation      Location
	Timing             Timing
}

// DefaultOptions mirrors a freshly configured battle before an operator
// touches anything.
func DefaultOptions() Options {
	return Options{
		RequireCapacity: true,
		MinCapacity:     2,
		MaxCapacity:     16,
		AllowInvites:    true,
		AllowSpectators: true,
		QueueParty:      true,
		PointsBase:      1,
		PointsPerKill:   1,
		TopWinners:      1,
		Timing: Timing{
			QueueDuration:   constants.DefaultQueueDuration,
			PrepareDuration: constants.DefaultPrepareDuration,
			RunDuration:     constants.DefaultRunDuration,
			EndedDuration:   constants.DefaultEndedDuration,
		},
	}
}

// RegionSnapshot is the persisted shape of a world region bound to the
// battle. Geometry itself belongs to the placement service.
type RegionSnapshot struct {
	Name string
	MinX int
	MinY int
	MaxX int
	MaxY int
	Map  string
}

func (r RegionSnapshot) Valid() bool {
	return r.Name != "" && r.MaxX > r.MinX && r.MaxY > r.MinY
}

type invite struct {
	ID      string
	Player  PlayerID
	Created time.Time
}

// Deps are the external collaborators a battle consumes. Zero values are
// replaced with no-op implementations so a battle is always runnable.
type Deps struct {
	Placement Placement
	Notifier  Notifier
	Presence  Presence
	Profiles  Profiles
	Roster    Roster
	Rules     RuleSet
	Clock     func() time.Time
	Logger    zerolog.Logger
}

func (d Deps) withDefaults() Deps {
	if d.Placement == nil {
		d.Placement = NopPlacement{}
	}
	if d.Notifier == nil {
		d.Notifier = NopNotifier{}
	}
	if d.Presence == nil {
		d.Presence = NopPresence{}
	}
	if d.Profiles == nil {
		d.Profiles = NopProfiles{}
	}
	if d.Roster == nil {
		d.Roster = NopRoster{}
	}
	if d.Rules == nil {
		d.Rules = StandardRules{}
	}
	if d.Clock == nil {
		d.Clock = time.Now
	}
	return d
}

// Battle is the aggregate root: one configured instance of the recurring
// match orchestrator. All mutation goes through methods that hold mu; a
// battle is single-writer by construction.
type Battle struct {
	mu sync.Mutex

	Serial      Serial
	Name        string
	Description string
	Category    string

	State           State
	LastState       State
	LastStateChange time.Time

	Options  Options
	Schedule *Schedule

	Teams      []*Team
	Queue      map[PlayerID]string // player -> preferred team name, "" for none
	queueOrder []PlayerID
	Spectators []PlayerID
	BounceInfo map[PlayerID]Location
	Doors      []DoorRef

	Region          RegionSnapshot
	SpectatorRegion RegionSnapshot

	Deleted bool

	ticks          uint64
	ranksProcessed bool
	suddenDeath    bool
	weather        WeatherCycle
	invites        map[PlayerID]*invite
	deserters      map[PlayerID]time.Time

	placement Placement
	notify    Notifier
	presence  Presence
	profiles  Profiles
	roster    Roster
	rules     RuleSet
	clock     func() time.Time
	log       zerolog.Logger
}

func New(name string, deps Deps) *Battle {
	deps = deps.withDefaults()
	b := &Battle{
		Name:       name,
		State:      StateInternal,
		LastState:  StateInternal,
		Options:    DefaultOptions(),
		Queue:      map[PlayerID]string{},
		BounceInfo: map[PlayerID]Location{},
		invites:    map[PlayerID]*invite{},
		deserters:  map[PlayerID]time.Time{},
	}
	b.Serial = NewSerial(deps.Clock())
	b.bind(deps)
	return b
}

// bind attaches collaborators. It is also used after deserialization, when
// teams and regions are reconstructed bound to the owning battle.
func (b *Battle) bind(deps Deps) {
	deps = deps.withDefaults()
	b.placement = deps.Placement
	b.notify = deps.Notifier
	b.presence = deps.Presence
	b.profiles = deps.Profiles
	b.roster = deps.Roster
	b.rules = deps.Rules
	b.clock = deps.Clock
	b.log = deps.Logger.With().Str("serial", b.Serial.String()).Logger()
	for _, t := range b.Teams {
		t.battle = b
	}
}

// Validate is the configuration predicate run every tick and on state
// entry. A battle that fails it degrades back to Internal instead of
// crashing the tick.
func (b *Battle) Validate() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.validateLocked()
}

func (b *Battle) validateLocked() bool {
	if b.Deleted {
		return false
	}
	if len(b.Teams) == 0 {
		return false
	}
	if !b.Region.Valid() {
		return false
	}
	if b.Options.AllowSpectators && !b.SpectatorRegion.Valid() {
		return false
	}
	return true
}

// CurrentCapacity is the sum of member counts across teams.
func (b *Battle) CurrentCapacity() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.currentCapacityLocked()
}

func (b *Battle) currentCapacityLocked() int {
	n := 0
	for _, t := range b.Teams {
		n += len(t.Members)
	}
	return n
}

func (b *Battle) maxCapacityLocked() int {
	if b.Options.MaxCapacity > 0 {
		return b.Options.MaxCapacity
	}
	n := 0
	for _, t := range b.Teams {
		n += t.MaxCapacity
	}
	return n
}

// Participant reports whether p is a member of any team.
func (b *Battle) Participant(p PlayerID) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.teamForLocked(p) != nil
}

// Queued reports whether p is waiting in the volunteer queue.
func (b *Battle) Queued(p PlayerID) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	_, ok := b.Queue[p]
	return ok
}

func (b *Battle) CurrentState() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.State
}

// TeamSnapshot is a read-only view of one team for reporting surfaces.
type TeamSnapshot struct {
	Name    string
	Members []PlayerID
	Score   int
}

// Snapshot is a consistent read-only view of the battle taken under the
// lock, for reporting surfaces that must not race the tick driver.
type Snapshot struct {
	Serial          Serial
	Name            string
	Description     string
	Category        string
	State           State
	LastStateChange time.Time
	Capacity        int
	QueueLen        int
	Spectators      int
	Teams           []TeamSnapshot
}

func (b *Battle) Snapshot() Snapshot {
	b.mu.Lock()
	defer b.mu.Unlock()

	snap := Snapshot{
		Serial:          b.Serial,
		Name:            b.Name,
		Description:     b.Description,
		Category:        b.Category,
		State:           b.State,
		LastStateChange: b.LastStateChange,
		Capacity:        b.currentCapacityLocked(),
		QueueLen:        len(b.Queue),
		Spectators:      len(b.Spectators),
	}
	for _, t := range b.Teams {
		snap.Teams = append(snap.Teams, TeamSnapshot{
			Name:    t.Name,
			Members: append([]PlayerID(nil), t.Members...),
			Score:   t.Score(),
		})
	}
	return snap
}

// Delete is the only cancellation primitive. It is terminal: once the
// teardown lands no other mutation is observable. Safe to call from within
// a tick callback: if the lock is held (it may be held by this very
// goroutine) the teardown is handed off and runs as soon as the holder
// releases. Re-entrant deletes are rejected by the Deleted guard.
func (b *Battle) Delete() {
	if !b.mu.TryLock() {
		go func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			b.deleteLocked()
		}()
		return
	}
	defer b.mu.Unlock()
	b.deleteLocked()
}

func (b *Battle) deleteLocked() {
	if b.Deleted {
		return
	}
	b.log.Info().Str("state", b.State.String()).Msg("deleting battle")

	for _, t := range b.Teams {
		for _, p := range append([]PlayerID(nil), t.Members...) {
			b.returnPlayerLocked(p)
		}
	}
	for _, p := range append([]PlayerID(nil), b.Spectators...) {
		b.returnPlayerLocked(p)
	}
	for _, d := range b.Doors {
		b.placement.CancelPendingAutoClose(d)
		b.placement.CloseDoor(d)
	}
	b.placement.CloseZoneGates()

	b.Teams = nil
	b.Queue = map[PlayerID]string{}
	b.queueOrder = nil
	b.Spectators = nil
	b.invites = map[PlayerID]*invite{}
	b.Deleted = true
}
