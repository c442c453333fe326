package battle

import (
	"fmt"

	"battleground/internal/constants"
)

// WeatherCycle is the cosmetic-effect hook fired at a coarse multiple of
// the tick while the weather flag is on. It is an external effect the
// orchestrator only triggers.
type WeatherCycle func()

// SetWeatherCycle installs the cosmetic hook.
func (b *Battle) SetWeatherCycle(fn WeatherCycle) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.weather = fn
}

// Tick is the single periodic driver entry, invoked roughly once a second
// by the registry. All per-tick work is synchronous; nothing here blocks.
func (b *Battle) Tick() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.Deleted {
		return
	}
	b.ticks++
	now := b.clock()

	// Self-healing degradation: a battle whose configuration went bad
	// (teams removed, zero-area region) falls back to Internal instead of
	// failing the tick.
	if b.State != StateInternal && !b.validateLocked() {
		b.log.Warn().Str("state", b.State.String()).Msg("validation failed, degrading to internal")
		b.transitionLocked(StateInternal, now)
		return
	}

	b.sweepStraysLocked()
	b.checkSuddenDeathLocked()

	if b.weather != nil && b.Options.Weather && b.ticks%constants.WeatherEveryTicks == 0 {
		b.guard("weather cycle", b.weather)
	}
	if b.ticks%constants.InviteEveryTicks == 0 {
		b.sendInvitesLocked()
	}

	b.evaluateLocked(now)
}

// sweepStraysLocked reconciles every entity the placement service observes
// inside the zone against logical membership. Redundant sweeps are no-ops.
func (b *Battle) sweepStraysLocked() {
	for _, e := range b.placement.EntitiesInRegion() {
		b.invalidateStrayLocked(e)
	}
}

// checkSuddenDeathLocked activates the secondary rule layer once remaining
// capacity drops to the configured threshold, then applies its periodic
// global effect while the match keeps running.
func (b *Battle) checkSuddenDeathLocked() {
	sd := b.Options.SuddenDeath
	if !sd.Enabled || b.State != StateRunning {
		return
	}
	remaining := 0
	for _, t := range b.Teams {
		for _, p := range t.Members {
			if _, dead := t.Dead[p]; !dead {
				remaining++
			}
		}
	}
	if !b.suddenDeath {
		if remaining > sd.CapacityThreshold {
			return
		}
		b.suddenDeath = true
		b.notify.PlaySound(ScopeLocal, soundSuddenDeath)
		b.notify.Broadcast(ScopeLocal, fmt.Sprintf("Sudden death! %d fighters remain.", remaining), StyleAlert)
		b.log.Info().Int("remaining", remaining).Msg("sudden death activated")
		return
	}
	if sd.Damage > 0 && b.ticks%suddenDeathEveryTicks == 0 {
		for _, t := range b.Teams {
			for _, p := range t.Members {
				if _, dead := t.Dead[p]; dead {
					continue
				}
				t.statsFor(p).DamageTaken += sd.Damage
				b.notify.Notify(p, fmt.Sprintf("The arena burns you for %d.", sd.Damage))
			}
		}
	}
}

const (
	soundSuddenDeath      = 0x1FD
	suddenDeathEveryTicks = 10
)
