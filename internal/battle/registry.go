package battle

import (
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Registry owns every live battle and its tick driver. It replaces any
// notion of a global static table: whoever composes the orchestrator owns
// the registry and its Register/Unregister/Shutdown lifecycle.
type Registry struct {
	mu       sync.RWMutex
	battles  map[Serial]*Battle
	stops    map[Serial]chan struct{}
	wg       sync.WaitGroup
	interval time.Duration
	log      zerolog.Logger
	closed   bool
}

func NewRegistry(interval time.Duration, logger zerolog.Logger) *Registry {
	if interval <= 0 {
		interval = time.Second
	}
	return &Registry{
		battles:  map[Serial]*Battle{},
		stops:    map[Serial]chan struct{}{},
		interval: interval,
		log:      logger,
	}
}

// Register adds a battle and starts its periodic driver: exactly one per
// battle, firing roughly once per interval.
func (r *Registry) Register(b *Battle) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return
	}
	if _, ok := r.battles[b.Serial]; ok {
		return
	}
	stop := make(chan struct{})
	r.battles[b.Serial] = b
	r.stops[b.Serial] = stop
	r.wg.Add(1)
	go r.drive(b, stop)
	r.log.Info().Str("serial", b.Serial.String()).Str("name", b.Name).Msg("battle registered")
}

// drive is the tick loop. A panicking tick is logged and isolated: one
// malformed battle never stops the others.
func (r *Registry) drive(b *Battle, stop chan struct{}) {
	defer r.wg.Done()
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			r.tickSafe(b)
		}
	}
}

func (r *Registry) tickSafe(b *Battle) {
	defer func() {
		if rec := recover(); rec != nil {
			r.log.Error().
				Str("serial", b.Serial.String()).
				Interface("panic", rec).
				Msg("battle tick panicked")
		}
	}()
	b.Tick()
}

func (r *Registry) Get(serial Serial) *Battle {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.battles[serial]
}

func (r *Registry) List() []*Battle {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Battle, 0, len(r.battles))
	for _, b := range r.battles {
		out = append(out, b)
	}
	return out
}

// Delete tears down one battle: driver stopped, battle cancelled, entry
// removed. It never joins the driver goroutine, and the aggregate teardown
// is deferred while the battle lock is held, so calling it from within a
// tick callback cannot deadlock.
func (r *Registry) Delete(serial Serial) {
	r.mu.Lock()
	b, ok := r.battles[serial]
	if !ok {
		r.mu.Unlock()
		return
	}
	stop := r.stops[serial]
	delete(r.battles, serial)
	delete(r.stops, serial)
	r.mu.Unlock()

	close(stop)
	b.Delete()
	r.log.Info().Str("serial", serial.String()).Msg("battle deleted")
}

// Unregister detaches a battle without cancelling it (used at shutdown,
// after the aggregate has been persisted).
func (r *Registry) Unregister(serial Serial) {
	r.mu.Lock()
	defer r.mu.Unlock()
	stop, ok := r.stops[serial]
	if !ok {
		return
	}
	delete(r.battles, serial)
	delete(r.stops, serial)
	close(stop)
}

// Shutdown stops every driver and waits for the in-flight ticks.
func (r *Registry) Shutdown() {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.closed = true
	for serial, stop := range r.stops {
		close(stop)
		delete(r.stops, serial)
		delete(r.battles, serial)
	}
	r.mu.Unlock()
	r.wg.Wait()
	r.log.Info().Msg("registry shut down")
}

// InOtherBattle implements Roster: a player already queued or fighting in
// some other battle cannot volunteer for this one. The battles are probed
// outside the registry lock; probing takes each battle's own lock and must
// not nest inside r.mu.
func (r *Registry) InOtherBattle(p PlayerID, except Serial) bool {
	for _, b := range r.List() {
		if b.Serial == except {
			continue
		}
		if b.Participant(p) || b.Queued(p) {
			return true
		}
	}
	return false
}

// OnLogin fans a login event to every battle; a returning participant is
// reconciled against the zone on the next sweep, nothing to do eagerly.
func (r *Registry) OnLogin(p PlayerID) {
	_ = p
}

// OnLogout fans a logout to every battle so queued entries are dropped.
func (r *Registry) OnLogout(p PlayerID) {
	for _, b := range r.List() {
		b.OnLogout(p)
	}
}

// OnScheduleTick fans an external schedule trigger to every battle that
// carries a schedule.
func (r *Registry) OnScheduleTick(now time.Time) {
	for _, b := range r.List() {
		b.mu.Lock()
		due := b.Schedule != nil && b.Schedule.Enabled && !b.Schedule.NextTick.After(now)
		b.mu.Unlock()
		if due {
			b.OnScheduleTick()
		}
	}
}
