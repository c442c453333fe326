package battle

import (
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type teleportCall struct {
	Entity Entity
	Loc    Location
}

type fakePlacement struct {
	NopPlacement
	inRegion  map[Entity]bool
	teleports []teleportCall
	removed   []Entity
	gatesOpen bool
	doorsOpen map[DoorRef]bool
	cancelled []DoorRef
}

func newFakePlacement() *fakePlacement {
	return &fakePlacement{inRegion: map[Entity]bool{}, doorsOpen: map[DoorRef]bool{}}
}

func (f *fakePlacement) Teleport(e Entity, loc Location) error {
	f.teleports = append(f.teleports, teleportCall{Entity: e, Loc: loc})
	delete(f.inRegion, e)
	return nil
}

func (f *fakePlacement) RegionContains(e Entity) bool { return f.inRegion[e] }

func (f *fakePlacement) EntitiesInRegion() []Entity {
	var out []Entity
	for e, in := range f.inRegion {
		if in {
			out = append(out, e)
		}
	}
	return out
}

func (f *fakePlacement) Remove(e Entity) {
	f.removed = append(f.removed, e)
	delete(f.inRegion, e)
}

func (f *fakePlacement) OpenZoneGates()                 { f.gatesOpen = true }
func (f *fakePlacement) CloseZoneGates()                { f.gatesOpen = false }
func (f *fakePlacement) OpenDoor(d DoorRef)             { f.doorsOpen[d] = true }
func (f *fakePlacement) CloseDoor(d DoorRef)            { f.doorsOpen[d] = false }
func (f *fakePlacement) CancelPendingAutoClose(d DoorRef) {
	f.cancelled = append(f.cancelled, d)
}

type fakeNotifier struct {
	broadcasts []string
	global     []string
	sounds     []int
	notes      map[PlayerID][]string
}

func newFakeNotifier() *fakeNotifier {
	return &fakeNotifier{notes: map[PlayerID][]string{}}
}

func (f *fakeNotifier) Broadcast(scope Scope, text string, _ StyleHint) {
	f.broadcasts = append(f.broadcasts, text)
	if scope == ScopeGlobal {
		f.global = append(f.global, text)
	}
}

func (f *fakeNotifier) PlaySound(_ Scope, id int) { f.sounds = append(f.sounds, id) }

func (f *fakeNotifier) Notify(p PlayerID, text string) {
	f.notes[p] = append(f.notes[p], text)
}

type fakePresence struct {
	NopPresence
	offline map[PlayerID]bool
	combat  map[PlayerID]bool
	parties map[PlayerID][]PlayerID
	locs    map[Entity]Location
	skills  map[PlayerID]int
	stats   map[PlayerID]int
}

func newFakePresence() *fakePresence {
	return &fakePresence{
		offline: map[PlayerID]bool{},
		combat:  map[PlayerID]bool{},
		parties: map[PlayerID][]PlayerID{},
		locs:    map[Entity]Location{},
		skills:  map[PlayerID]int{},
		stats:   map[PlayerID]int{},
	}
}

func (f *fakePresence) Online(p PlayerID) bool      { return !f.offline[p] }
func (f *fakePresence) InCombat(p PlayerID) bool    { return f.combat[p] }
func (f *fakePresence) Party(p PlayerID) []PlayerID { return f.parties[p] }

func (f *fakePresence) Location(e Entity) (Location, bool) {
	loc, ok := f.locs[e]
	return loc, ok
}

func (f *fakePresence) SkillTotal(p PlayerID) int { return f.skills[p] }
func (f *fakePresence) StatTotal(p PlayerID) int  { return f.stats[p] }

type fakeProfiles struct {
	applied map[PlayerID]StatsDelta
	balance map[PlayerID]int
}

func newFakeProfiles() *fakeProfiles {
	return &fakeProfiles{applied: map[PlayerID]StatsDelta{}, balance: map[PlayerID]int{}}
}

func (f *fakeProfiles) Apply(p PlayerID, d StatsDelta) error {
	f.applied[p] = d
	return nil
}

func (f *fakeProfiles) AdjustBalance(p PlayerID, delta int) error {
	f.balance[p] += delta
	return nil
}

type fakeRoster struct {
	elsewhere map[PlayerID]bool
}

func (f *fakeRoster) InOtherBattle(p PlayerID, _ Serial) bool {
	if f == nil {
		return false
	}
	return f.elsewhere[p]
}

type fixture struct {
	clock     *fakeClock
	placement *fakePlacement
	notify    *fakeNotifier
	presence  *fakePresence
	profiles  *fakeProfiles
	roster    *fakeRoster
}

func newFixture() *fixture {
	return &fixture{
		clock:     newFakeClock(),
		placement: newFakePlacement(),
		notify:    newFakeNotifier(),
		presence:  newFakePresence(),
		profiles:  newFakeProfiles(),
		roster:    &fakeRoster{elsewhere: map[PlayerID]bool{}},
	}
}

func (f *fixture) deps() Deps {
	return Deps{
		Placement: f.placement,
		Notifier:  f.notify,
		Presence:  f.presence,
		Profiles:  f.profiles,
		Roster:    f.roster,
		Clock:     f.clock.Now,
		Logger:    zerolog.Nop(),
	}
}

// newTestBattle builds a valid two-team battleground and opens the join
// window.
func newTestBattle(t *testing.T, f *fixture) *Battle {
	t.Helper()
	b := New("Test Grounds", f.deps())
	b.Region = RegionSnapshot{Name: "arena", MinX: 0, MinY: 0, MaxX: 100, MaxY: 100, Map: "felucca"}
	b.SpectatorRegion = RegionSnapshot{Name: "stands", MinX: 100, MinY: 0, MaxX: 120, MaxY: 100, Map: "felucca"}
	red := NewTeam("Red", 1, 4)
	red.SpawnPoint = Location{X: 10, Y: 10, Map: "felucca"}
	blue := NewTeam("Blue", 1, 4)
	blue.SpawnPoint = Location{X: 90, Y: 90, Map: "felucca"}
	b.AddTeam(red)
	b.AddTeam(blue)
	if err := b.Open(); err != nil {
		t.Fatalf("open battle: %v", err)
	}
	return b
}

// join enqueues and accepts in one step.
func join(t *testing.T, b *Battle, p PlayerID, team string) {
	t.Helper()
	if err := b.Enqueue(p, team); err != nil {
		t.Fatalf("enqueue %s: %v", p, err)
	}
	if err := b.AcceptInvite(p); err != nil {
		t.Fatalf("accept invite %s: %v", p, err)
	}
}

// advanceTo ticks the battle with the clock pushed past the named phase
// duration until the wanted state is reached or attempts run out.
func advanceTo(t *testing.T, b *Battle, f *fixture, want State) {
	t.Helper()
	for i := 0; i < 8; i++ {
		if b.CurrentState() == want {
			return
		}
		f.clock.Advance(b.Options.Timing.QueueDuration + b.Options.Timing.PrepareDuration + time.Minute)
		b.Tick()
	}
	t.Fatalf("battle never reached %v, stuck in %v", want, b.CurrentState())
}
