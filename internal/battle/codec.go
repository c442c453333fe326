package battle

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"sort"
	"time"

	"github.com/vmihailenco/msgpack/v5"
)

// CodecVersion is the current on-disk format. Each version reads a strict
// superset of the previous one: v1 is the original layout, v2 added the
// schedule block, v3 added the region snapshots.
const CodecVersion = 3

var codecMagic = [4]byte{'B', 'G', 'B', 'L'}

// Sub-block tags. Each block is written independently and
// length-prefixed, so a corrupt or mismatched block can be skipped
// without discarding the rest of the aggregate.
const (
	blockSerial byte = iota + 1
	blockCore
	blockOptions
	blockTeams
	blockSchedule
	blockRegions
)

type locBlock struct {
	X   int
	Y   int
	Z   int
	Map string
}

func packLoc(l Location) locBlock   { return locBlock{X: l.X, Y: l.Y, Z: l.Z, Map: l.Map} }
func unpackLoc(l locBlock) Location { return Location{X: l.X, Y: l.Y, Z: l.Z, Map: l.Map} }

func packTime(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixNano()
}

func unpackTime(n int64) time.Time {
	if n == 0 {
		return time.Time{}
	}
	return time.Unix(0, n).UTC()
}

type serialBlockV1 struct {
	Serial string
}

type queueEntryV1 struct {
	Player string
	Team   string
}

type bounceEntryV1 struct {
	Player string
	Loc    locBlock
}

type deserterEntryV1 struct {
	Player string
	Until  int64
}

type coreBlockV1 struct {
	Name            string
	Description     string
	Category        string
	State           uint8
	LastState       uint8
	LastStateChange int64
	Spectators      []string
	Queue           []queueEntryV1
	Bounce          []bounceEntryV1
	Doors           []string
	Deserters       []deserterEntryV1
	RanksProcessed  bool
	SuddenDeath     bool
	Deleted         bool
}

type rewardV1 struct {
	Name   string
	Amount int
	Points int
}

type optionsBlockV1 struct {
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
	RankMode           int
	TopWinners         int
	Rewards            []rewardV1
	LoserRewards       []rewardV1
	SuddenDeathOn      bool
	SuddenDeathCap     int
	SuddenDeathDamage  int
	Weather            bool
	EjectLocation      locBlock
	OpenedWhen         int64
	PreparedWhen       int64
	StartedWhen        int64
	EndedWhen          int64
	QueueDuration      int64
	PrepareDuration    int64
	RunDuration        int64
	EndedDuration      int64
}

type counterV1 struct {
	Name  string
	Value int
}

type statsEntryV1 struct {
	Player        string
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
	Counters      []counterV1
}

type teamBlockV1 struct {
	Name           string
	Color          int
	MinCapacity    int
	MaxCapacity    int
	Members        []string
	Dead           []string
	Stats          []statsEntryV1
	HomeBase       locBlock
	SpawnPoint     locBlock
	RespawnOnDeath bool
}

type scheduleBlockV2 struct {
	Enabled  bool
	Interval int64
	NextTick int64
}

type regionBlockV3 struct {
	Name string
	MinX int
	MinY int
	MaxX int
	MaxY int
	Map  string
}

type regionsBlockV3 struct {
	Battle    regionBlockV3
	Spectator regionBlockV3
}

// Encode serializes the whole aggregate as one versioned block at the
// current format version. The output is deterministic: every map is
// written in a canonical order, so encode/decode/encode round-trips to
// identical bytes.
func (b *Battle) Encode() ([]byte, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	var buf bytes.Buffer
	buf.Write(codecMagic[:])
	var ver [2]byte
	binary.BigEndian.PutUint16(ver[:], CodecVersion)
	buf.Write(ver[:])

	if err := writeBlock(&buf, blockSerial, serialBlockV1{Serial: string(b.Serial)}); err != nil {
		return nil, err
	}
	if err := writeBlock(&buf, blockCore, b.packCore()); err != nil {
		return nil, err
	}
	if err := writeBlock(&buf, blockOptions, packOptions(b.Options)); err != nil {
		return nil, err
	}
	if err := writeBlock(&buf, blockTeams, b.packTeams()); err != nil {
		return nil, err
	}
	if b.Schedule != nil {
		sched := scheduleBlockV2{
			Enabled:  b.Schedule.Enabled,
			Interval: int64(b.Schedule.Interval),
			NextTick: packTime(b.Schedule.NextTick),
		}
		if err := writeBlock(&buf, blockSchedule, sched); err != nil {
			return nil, err
		}
	}
	regions := regionsBlockV3{
		Battle:    regionBlockV3(b.Region),
		Spectator: regionBlockV3(b.SpectatorRegion),
	}
	if err := writeBlock(&buf, blockRegions, regions); err != nil {
		return nil, err
	}

	return buf.Bytes(), nil
}

func writeBlock(buf *bytes.Buffer, tag byte, v any) error {
	payload, err := msgpack.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode block 0x%02x: %w", tag, err)
	}
	buf.WriteByte(tag)
	var n [4]byte
	binary.BigEndian.PutUint32(n[:], uint32(len(payload)))
	buf.Write(n[:])
	buf.Write(payload)
	return nil
}

func (b *Battle) packCore() coreBlockV1 {
	core := coreBlockV1{
		Name:            b.Name,
		Description:     b.Description,
		Category:        b.Category,
		State:           uint8(b.State),
		LastState:       uint8(b.LastState),
		LastStateChange: packTime(b.LastStateChange),
		Doors:           make([]string, 0, len(b.Doors)),
		RanksProcessed:  b.ranksProcessed,
		SuddenDeath:     b.suddenDeath,
		Deleted:         b.Deleted,
	}
	for _, s := range b.Spectators {
		core.Spectators = append(core.Spectators, string(s))
	}
	for _, p := range b.queueOrder {
		core.Queue = append(core.Queue, queueEntryV1{Player: string(p), Team: b.Queue[p]})
	}
	bouncers := make([]PlayerID, 0, len(b.BounceInfo))
	for p := range b.BounceInfo {
		bouncers = append(bouncers, p)
	}
	sort.Slice(bouncers, func(i, j int) bool { return bouncers[i] < bouncers[j] })
	for _, p := range bouncers {
		core.Bounce = append(core.Bounce, bounceEntryV1{Player: string(p), Loc: packLoc(b.BounceInfo[p])})
	}
	for _, d := range b.Doors {
		core.Doors = append(core.Doors, string(d))
	}
	deserters := make([]PlayerID, 0, len(b.deserters))
	for p := range b.deserters {
		deserters = append(deserters, p)
	}
	sort.Slice(deserters, func(i, j int) bool { return deserters[i] < deserters[j] })
	for _, p := range deserters {
		core.Deserters = append(core.Deserters, deserterEntryV1{Player: string(p), Until: packTime(b.deserters[p])})
	}
	return core
}

func packOptions(o Options) optionsBlockV1 {
	out := optionsBlockV1{
		Ranked:             o.Ranked,
		RequireCapacity:    o.RequireCapacity,
		MinCapacity:        o.MinCapacity,
		MaxCapacity:        o.MaxCapacity,
		AllowInvites:       o.AllowInvites,
		InviteWhileRunning: o.InviteWhileRunning,
		AllowSpectators:    o.AllowSpectators,
		AllowSpawn:         o.AllowSpawn,
		QueueParty:         o.QueueParty,
		PointsBase:         o.PointsBase,
		PointsPerKill:      o.PointsPerKill,
		RankMode:           int(o.RankMode),
		TopWinners:         o.TopWinners,
		SuddenDeathOn:      o.SuddenDeath.Enabled,
		SuddenDeathCap:     o.SuddenDeath.CapacityThreshold,
		SuddenDeathDamage:  o.SuddenDeath.Damage,
		Weather:            o.Weather,
		EjectLocation:      packLoc(o.EjectLocation),
		OpenedWhen:         packTime(o.Timing.OpenedWhen),
		PreparedWhen:       packTime(o.Timing.PreparedWhen),
		StartedWhen:        packTime(o.Timing.StartedWhen),
		EndedWhen:          packTime(o.Timing.EndedWhen),
		QueueDuration:      int64(o.Timing.QueueDuration),
		PrepareDuration:    int64(o.Timing.PrepareDuration),
		RunDuration:        int64(o.Timing.RunDuration),
		EndedDuration:      int64(o.Timing.EndedDuration),
	}
	for _, r := range o.Rewards {
		out.Rewards = append(out.Rewards, rewardV1(r))
	}
	for _, r := range o.LoserRewards {
		out.LoserRewards = append(out.LoserRewards, rewardV1(r))
	}
	return out
}

func (b *Battle) packTeams() []teamBlockV1 {
	teams := make([]teamBlockV1, 0, len(b.Teams))
	for _, t := range b.Teams {
		tb := teamBlockV1{
			Name:           t.Name,
			Color:          t.Color,
			MinCapacity:    t.MinCapacity,
			MaxCapacity:    t.MaxCapacity,
			HomeBase:       packLoc(t.HomeBase),
			SpawnPoint:     packLoc(t.SpawnPoint),
			RespawnOnDeath: t.RespawnOnDeath,
		}
		for _, m := range t.Members {
			tb.Members = append(tb.Members, string(m))
		}
		for p := range t.Dead {
			tb.Dead = append(tb.Dead, string(p))
		}
		sort.Strings(tb.Dead)
		players := make([]PlayerID, 0, len(t.Statistics))
		for p := range t.Statistics {
			players = append(players, p)
		}
		sort.Slice(players, func(i, j int) bool { return players[i] < players[j] })
		for _, p := range players {
			s := t.Statistics[p]
			entry := statsEntryV1{
				Player:        string(p),
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
			}
			names := make([]string, 0, len(s.Counters))
			for name := range s.Counters {
				names = append(names, name)
			}
			sort.Strings(names)
			for _, name := range names {
				entry.Counters = append(entry.Counters, counterV1{Name: name, Value: s.Counters[name]})
			}
			tb.Stats = append(tb.Stats, entry)
		}
		teams = append(teams, tb)
	}
	return teams
}

// Decode reconstructs a battle from a versioned block, binding teams and
// regions back to the owning aggregate. Unknown future versions are
// rejected; optional blocks absent from older versions default to a fresh
// value.
func Decode(data []byte, deps Deps) (*Battle, error) {
	if len(data) < 6 || !bytes.Equal(data[:4], codecMagic[:]) {
		return nil, fmt.Errorf("battle blob: bad magic")
	}
	version := binary.BigEndian.Uint16(data[4:6])
	if version == 0 || version > CodecVersion {
		return nil, fmt.Errorf("%w: %d (supported <= %d)", ErrUnknownVersion, version, CodecVersion)
	}

	b := &Battle{
		State:      StateInternal,
		LastState:  StateInternal,
		Options:    DefaultOptions(),
		Queue:      map[PlayerID]string{},
		BounceInfo: map[PlayerID]Location{},
		invites:    map[PlayerID]*invite{},
		deserters:  map[PlayerID]time.Time{},
	}

	rest := data[6:]
	for len(rest) > 0 {
		if len(rest) < 5 {
			return nil, fmt.Errorf("%w: truncated block header", ErrCorruptBlock)
		}
		tag := rest[0]
		size := binary.BigEndian.Uint32(rest[1:5])
		rest = rest[5:]
		if uint32(len(rest)) < size {
			return nil, fmt.Errorf("%w: truncated block 0x%02x", ErrCorruptBlock, tag)
		}
		payload := rest[:size]
		rest = rest[size:]

		if err := b.decodeBlock(tag, payload); err != nil {
			return nil, err
		}
	}

	if b.Serial == "" {
		return nil, fmt.Errorf("%w: missing serial block", ErrCorruptBlock)
	}
	b.bind(deps)
	return b, nil
}

func (b *Battle) decodeBlock(tag byte, payload []byte) error {
	switch tag {
	case blockSerial:
		var blk serialBlockV1
		if err := msgpack.Unmarshal(payload, &blk); err != nil {
			return fmt.Errorf("%w: serial: %v", ErrCorruptBlock, err)
		}
		b.Serial = Serial(blk.Serial)

	case blockCore:
		var blk coreBlockV1
		if err := msgpack.Unmarshal(payload, &blk); err != nil {
			return fmt.Errorf("%w: core: %v", ErrCorruptBlock, err)
		}
		b.Name = blk.Name
		b.Description = blk.Description
		b.Category = blk.Category
		b.State = State(blk.State)
		b.LastState = State(blk.LastState)
		b.LastStateChange = unpackTime(blk.LastStateChange)
		b.ranksProcessed = blk.RanksProcessed
		b.suddenDeath = blk.SuddenDeath
		b.Deleted = blk.Deleted
		for _, s := range blk.Spectators {
			b.Spectators = append(b.Spectators, PlayerID(s))
		}
		for _, q := range blk.Queue {
			b.Queue[PlayerID(q.Player)] = q.Team
			b.queueOrder = append(b.queueOrder, PlayerID(q.Player))
		}
		for _, e := range blk.Bounce {
			b.BounceInfo[PlayerID(e.Player)] = unpackLoc(e.Loc)
		}
		for _, d := range blk.Doors {
			b.Doors = append(b.Doors, DoorRef(d))
		}
		for _, d := range blk.Deserters {
			b.deserters[PlayerID(d.Player)] = unpackTime(d.Until)
		}

	case blockOptions:
		var blk optionsBlockV1
		if err := msgpack.Unmarshal(payload, &blk); err != nil {
			return fmt.Errorf("%w: options: %v", ErrCorruptBlock, err)
		}
		b.Options = unpackOptions(blk)

	case blockTeams:
		var blks []teamBlockV1
		if err := msgpack.Unmarshal(payload, &blks); err != nil {
			return fmt.Errorf("%w: teams: %v", ErrCorruptBlock, err)
		}
		for _, tb := range blks {
			b.Teams = append(b.Teams, unpackTeam(tb))
		}

	case blockSchedule:
		var blk scheduleBlockV2
		if err := msgpack.Unmarshal(payload, &blk); err != nil {
			// Optional block: fall back to no schedule.
			b.Schedule = nil
			return nil
		}
		b.Schedule = &Schedule{
			Enabled:  blk.Enabled,
			Interval: time.Duration(blk.Interval),
			NextTick: unpackTime(blk.NextTick),
		}

	case blockRegions:
		var blk regionsBlockV3
		if err := msgpack.Unmarshal(payload, &blk); err != nil {
			// Optional block: regions stay zero and validation degrades
			// the battle to internal.
			return nil
		}
		b.Region = RegionSnapshot(blk.Battle)
		b.SpectatorRegion = RegionSnapshot(blk.Spectator)

	default:
		// Blocks from intermediate releases we do not know; skippable by
		// construction.
	}
	return nil
}

func unpackOptions(blk optionsBlockV1) Options {
	o := Options{
		Ranked:             blk.Ranked,
		RequireCapacity:    blk.RequireCapacity,
		MinCapacity:        blk.MinCapacity,
		MaxCapacity:        blk.MaxCapacity,
		AllowInvites:       blk.AllowInvites,
		InviteWhileRunning: blk.InviteWhileRunning,
		AllowSpectators:    blk.AllowSpectators,
		AllowSpawn:         blk.AllowSpawn,
		QueueParty:         blk.QueueParty,
		PointsBase:         blk.PointsBase,
		PointsPerKill:      blk.PointsPerKill,
		RankMode:           RankMode(blk.RankMode),
		TopWinners:         blk.TopWinners,
		SuddenDeath: SuddenDeathOptions{
			Enabled:           blk.SuddenDeathOn,
			CapacityThreshold: blk.SuddenDeathCap,
			Damage:            blk.SuddenDeathDamage,
		},
		Weather:       blk.Weather,
		EjectLocation: unpackLoc(blk.EjectLocation),
		Timing: Timing{
			OpenedWhen:      unpackTime(blk.OpenedWhen),
			PreparedWhen:    unpackTime(blk.PreparedWhen),
			StartedWhen:     unpackTime(blk.StartedWhen),
			EndedWhen:       unpackTime(blk.EndedWhen),
			QueueDuration:   time.Duration(blk.QueueDuration),
			PrepareDuration: time.Duration(blk.PrepareDuration),
			RunDuration:     time.Duration(blk.RunDuration),
			EndedDuration:   time.Duration(blk.EndedDuration),
		},
	}
	for _, r := range blk.Rewards {
		o.Rewards = append(o.Rewards, Reward(r))
	}
	for _, r := range blk.LoserRewards {
		o.LoserRewards = append(o.LoserRewards, Reward(r))
	}
	return o
}

func unpackTeam(tb teamBlockV1) *Team {
	t := NewTeam(tb.Name, tb.MinCapacity, tb.MaxCapacity)
	t.Color = tb.Color
	t.HomeBase = unpackLoc(tb.HomeBase)
	t.SpawnPoint = unpackLoc(tb.SpawnPoint)
	t.RespawnOnDeath = tb.RespawnOnDeath
	for _, m := range tb.Members {
		t.Members = append(t.Members, PlayerID(m))
	}
	for _, d := range tb.Dead {
		t.Dead[PlayerID(d)] = struct{}{}
	}
	for _, s := range tb.Stats {
		stats := &Statistics{
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
		}
		for _, c := range s.Counters {
			stats.Count(c.Name, c.Value)
		}
		t.Statistics[PlayerID(s.Player)] = stats
	}
	return t
}
