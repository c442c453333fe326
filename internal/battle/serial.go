package battle

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"time"
)

// Serial is the stable external identity of a battle. It is derived once
// from the creation instant plus randomness and never recomputed.
type Serial string

func NewSerial(now time.Time) Serial {
	var seed [24]byte
	binary.BigEndian.PutUint64(seed[:8], uint64(now.UnixNano()))
	if _, err := rand.Read(seed[8:]); err != nil {
		// crypto/rand never fails on supported platforms; fall back to
		// the clock bits alone rather than aborting construction.
		binary.BigEndian.PutUint64(seed[8:16], uint64(now.Unix()))
	}
	sum := sha256.Sum256(seed[:])
	return Serial(hex.EncodeToString(sum[:8]))
}

func (s Serial) String() string { return string(s) }
