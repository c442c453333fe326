package domain

import (
	"time"
)

// Profile is the persistent per-player record battles settle into: a
// lifetime statistics ledger plus the spendable point balance.
type Profile struct {
	PlayerID      string
	Balance       int
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
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// ProfileCounter is a named free-form tally attached to a profile,
// for example "Deserted" or a per-event kill counter.
type ProfileCounter struct {
	PlayerID  string
	Name      string
	Value     int
	UpdatedAt time.Time
}

// BattleRecord is the stored form of a battle: the identifying columns
// kept queryable, the aggregate itself as an opaque versioned blob.
type BattleRecord struct {
	Serial    string
	Name      string
	State     string
	Blob      []byte
	CreatedAt time.Time
	UpdatedAt time.Time
}
