package battle

import "errors"

var (
	ErrDeleted         = errors.New("battle deleted")
	ErrNotOpen         = errors.New("battle not accepting volunteers")
	ErrInvitesDisabled = errors.New("battle invites disabled")
	ErrOffline         = errors.New("player offline")
	ErrInCombat        = errors.New("player in combat")
	ErrAlreadyQueued   = errors.New("player already queued")
	ErrAlreadyJoined   = errors.New("player already a participant")
	ErrOtherBattle     = errors.New("player in another battle")
	ErrDeserter        = errors.New("player flagged as deserter")
	ErrNotQueued       = errors.New("player not queued")
	ErrNoTeam          = errors.New("no team could be resolved")
	ErrTeamFull        = errors.New("team at capacity")
	ErrUnknownVersion  = errors.New("unknown battle format version")
	ErrCorruptBlock    = errors.New("corrupt battle sub-block")
)

// guard runs an externally supplied predicate or handler and converts a
// panic into a logged event instead of aborting the tick.
func (b *Battle) guard(op string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			b.log.Error().
				Str("serial", b.Serial.String()).
				Str("op", op).
				Interface("panic", r).
				Msg("callback panicked")
		}
	}()
	fn()
}

// guardBool is guard for predicates; a panicking predicate reports false.
func (b *Battle) guardBool(op string, fn func() bool) (out bool) {
	defer func() {
		if r := recover(); r != nil {
			b.log.Error().
				Str("serial", b.Serial.String()).
				Str("op", op).
				Interface("panic", r).
				Msg("predicate panicked")
			out = false
		}
	}()
	return fn()
}
