package battle

// PlayerID identifies a player (or the owner of a creature) across the
// whole process. The orchestrator never dereferences it; every lookup goes
// through the Presence port.
type PlayerID string

type EntityKind int

const (
	KindPlayer EntityKind = iota
	KindCreature
	KindSpawn
)

// Entity is anything the placement service can observe inside a zone.
type Entity struct {
	ID    PlayerID
	Kind  EntityKind
	Owner PlayerID
}

type Location struct {
	X   int
	Y   int
	Z   int
	Map string
}

func (l Location) IsZero() bool {
	return l == Location{}
}

// DoorRef references a world door the battle toggles at start and end.
type DoorRef string

type Scope int

const (
	ScopeLocal Scope = iota
	ScopeGlobal
)

type StyleHint int

const (
	StyleInfo StyleHint = iota
	StyleAlert
	StyleSystem
)

// Placement is the world-geometry collaborator. The orchestrator never
// touches coordinates or collision itself.
type Placement interface {
	Teleport(e Entity, loc Location) error
	RegionContains(e Entity) bool
	EntitiesInRegion() []Entity
	Remove(e Entity)
	OpenZoneGates()
	CloseZoneGates()
	OpenDoor(door DoorRef)
	CloseDoor(door DoorRef)
	CancelPendingAutoClose(door DoorRef)
}

// Notifier is the presentation/notification sink.
type Notifier interface {
	Broadcast(scope Scope, text string, style StyleHint)
	PlaySound(scope Scope, id int)
	Notify(p PlayerID, text string)
}

// Presence answers liveness and party questions about players.
type Presence interface {
	Online(p PlayerID) bool
	InCombat(p PlayerID) bool
	Party(p PlayerID) []PlayerID
	Location(e Entity) (Location, bool)
	SkillTotal(p PlayerID) int
	StatTotal(p PlayerID) int
}

// StatsDelta is the portion of a match ledger folded into a durable
// cross-match profile when the battle is ranked.
type StatsDelta struct {
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

// Profiles is the durable cross-match profile store.
type Profiles interface {
	Apply(p PlayerID, d StatsDelta) error
	AdjustBalance(p PlayerID, delta int) error
}

// Roster answers whether a player already belongs to some other battle.
type Roster interface {
	InOtherBattle(p PlayerID, except Serial) bool
}

type NopPlacement struct{}

func (NopPlacement) Teleport(Entity, Location) error  { return nil }
func (NopPlacement) RegionContains(Entity) bool       { return false }
func (NopPlacement) EntitiesInRegion() []Entity       { return nil }
func (NopPlacement) Remove(Entity)                    {}
func (NopPlacement) OpenZoneGates()                   {}
func (NopPlacement) CloseZoneGates()                  {}
func (NopPlacement) OpenDoor(DoorRef)                 {}
func (NopPlacement) CloseDoor(DoorRef)                {}
func (NopPlacement) CancelPendingAutoClose(DoorRef)   {}

type NopNotifier struct{}

func (NopNotifier) Broadcast(Scope, string, StyleHint) {}
func (NopNotifier) PlaySound(Scope, int)               {}
func (NopNotifier) Notify(PlayerID, string)            {}

type NopPresence struct{}

func (NopPresence) Online(PlayerID) bool             { return true }
func (NopPresence) InCombat(PlayerID) bool           { return false }
func (NopPresence) Party(PlayerID) []PlayerID        { return nil }
func (NopPresence) Location(Entity) (Location, bool) { return Location{}, false }
func (NopPresence) SkillTotal(PlayerID) int          { return 0 }
func (NopPresence) StatTotal(PlayerID) int           { return 0 }

type NopProfiles struct{}

func (NopProfiles) Apply(PlayerID, StatsDelta) error   { return nil }
func (NopProfiles) AdjustBalance(PlayerID, int) error  { return nil }

type NopRoster struct{}

func (NopRoster) InOtherBattle(PlayerID, Serial) bool { return false }
