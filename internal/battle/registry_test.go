package battle

import (
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

// countingRules counts ticks via the capacity predicate, which the
// evaluator consults every tick while the battle is open.
type countingRules struct {
	StandardRules
	mu    sync.Mutex
	calls int
}

func (c *countingRules) CapacitySatisfied(b *Battle) bool {
	c.mu.Lock()
	c.calls++
	c.mu.Unlock()
	return false
}

func (c *countingRules) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatal("condition not reached in time")
}

func TestRegistryDrivesRegisteredBattles(t *testing.T) {
	f := newFixture()
	rules := &countingRules{}
	b := newTestBattle(t, f)
	b.rules = rules

	r := NewRegistry(2*time.Millisecond, zerolog.Nop())
	defer r.Shutdown()
	r.Register(b)

	if r.Get(b.Serial) != b {
		t.Fatal("registered battle not retrievable")
	}
	if len(r.List()) != 1 {
		t.Fatal("expected one registered battle")
	}
	waitFor(t, func() bool { return rules.count() >= 3 })
}

func TestRegistryRegisterIsIdempotent(t *testing.T) {
	f := newFixture()
	b := newTestBattle(t, f)

	r := NewRegistry(time.Minute, zerolog.Nop())
	defer r.Shutdown()
	r.Register(b)
	r.Register(b)
	if len(r.List()) != 1 {
		t.Fatalf("expected one entry, got %d", len(r.List()))
	}
}

func TestRegistryDeleteCancelsBattle(t *testing.T) {
	f := newFixture()
	b := newTestBattle(t, f)
	join(t, b, "alice", "Red")

	r := NewRegistry(time.Minute, zerolog.Nop())
	defer r.Shutdown()
	r.Register(b)

	r.Delete(b.Serial)
	if r.Get(b.Serial) != nil {
		t.Fatal("deleted battle still retrievable")
	}
	b.mu.Lock()
	deleted := b.Deleted
	b.mu.Unlock()
	if !deleted {
		t.Fatal("delete must cancel the battle")
	}
	// Repeating is a no-op, not a double close.
	r.Delete(b.Serial)
}

// deletingRules tears its own battle down from inside the capacity rule,
// which runs while the tick holds the battle lock.
type deletingRules struct {
	StandardRules
	reg *Registry
}

func (d *deletingRules) CapacitySatisfied(b *Battle) bool {
	d.reg.Delete(b.Serial)
	return false
}

func TestRegistryDeleteFromTickCallback(t *testing.T) {
	f := newFixture()
	b := newTestBattle(t, f)

	r := NewRegistry(time.Minute, zerolog.Nop())
	defer r.Shutdown()
	b.rules = &deletingRules{reg: r}
	r.Register(b)

	done := make(chan struct{})
	go func() {
		b.Tick()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("tick blocked on a delete issued from its own callback")
	}

	if r.Get(b.Serial) != nil {
		t.Fatal("deleted battle still retrievable")
	}
	// The teardown lands once the tick releases the lock.
	waitFor(t, func() bool {
		b.mu.Lock()
		defer b.mu.Unlock()
		return b.Deleted
	})
}

func TestRegistryShutdownStopsDrivers(t *testing.T) {
	f := newFixture()
	rules := &countingRules{}
	b := newTestBattle(t, f)
	b.rules = rules

	r := NewRegistry(2*time.Millisecond, zerolog.Nop())
	r.Register(b)
	waitFor(t, func() bool { return rules.count() >= 1 })

	r.Shutdown()
	settled := rules.count()
	time.Sleep(20 * time.Millisecond)
	if rules.count() != settled {
		t.Fatal("driver still ticking after shutdown")
	}

	// A closed registry refuses new registrations.
	other := newTestBattle(t, f)
	r.Register(other)
	if len(r.List()) != 0 {
		t.Fatal("registration accepted after shutdown")
	}
}

func TestRegistryUnregisterDetachesWithoutCancelling(t *testing.T) {
	f := newFixture()
	b := newTestBattle(t, f)

	r := NewRegistry(time.Minute, zerolog.Nop())
	defer r.Shutdown()
	r.Register(b)
	r.Unregister(b.Serial)

	if r.Get(b.Serial) != nil {
		t.Fatal("unregistered battle still retrievable")
	}
	b.mu.Lock()
	deleted := b.Deleted
	b.mu.Unlock()
	if deleted {
		t.Fatal("unregister must not cancel the battle")
	}
}

func TestRegistryInOtherBattle(t *testing.T) {
	f := newFixture()
	a := newTestBattle(t, f)
	b := newTestBattle(t, f)
	join(t, a, "alice", "Red")
	if err := b.Enqueue("bob", ""); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	r := NewRegistry(time.Minute, zerolog.Nop())
	defer r.Shutdown()
	r.Register(a)
	r.Register(b)

	if !r.InOtherBattle("alice", b.Serial) {
		t.Fatal("participant elsewhere must be reported")
	}
	if !r.InOtherBattle("bob", a.Serial) {
		t.Fatal("queued elsewhere must be reported")
	}
	if r.InOtherBattle("alice", a.Serial) {
		t.Fatal("the player's own battle does not count")
	}
	if r.InOtherBattle("carol", a.Serial) {
		t.Fatal("unknown player reported as busy")
	}
}

func TestRegistryOnLogoutFansToBattles(t *testing.T) {
	f := newFixture()
	a := newTestBattle(t, f)
	b := newTestBattle(t, f)
	if err := a.Enqueue("bob", ""); err != nil {
		t.Fatalf("enqueue a: %v", err)
	}
	if err := b.Enqueue("carol", ""); err != nil {
		t.Fatalf("enqueue b: %v", err)
	}

	r := NewRegistry(time.Minute, zerolog.Nop())
	defer r.Shutdown()
	r.Register(a)
	r.Register(b)

	r.OnLogout("bob")
	r.OnLogout("carol")
	if a.Queued("bob") || b.Queued("carol") {
		t.Fatal("logout must drop queued entries")
	}
}

func TestRegistryTickPanicIsIsolated(t *testing.T) {
	// A battle with no clock panics inside Tick; the driver wrapper must
	// swallow it so the registry keeps serving the healthy battles.
	broken := &Battle{Serial: "broken"}
	r := NewRegistry(time.Minute, zerolog.Nop())
	defer r.Shutdown()
	r.tickSafe(broken)

	f := newFixture()
	healthy := newTestBattle(t, f)
	r.Register(healthy)
	r.tickSafe(healthy)
	if healthy.CurrentState() != StateQueueing {
		t.Fatal("healthy battle disturbed by the broken one")
	}
}
