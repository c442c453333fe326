package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	"battleground/internal/battle"
	"battleground/internal/constants"
	"battleground/internal/domain"
	"battleground/internal/repository"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

var (
	ErrBattleNotFound  = errors.New("battle not found")
	ErrProfileNotFound = errors.New("profile not found")
)

// Orchestrator owns the battle registry and its persistence: it loads
// every stored battle at boot, drives the autosave and schedule loops,
// and flushes everything back on shutdown.
type Orchestrator struct {
	registry   *battle.Registry
	battles    *repository.BattleRepository
	profiles   *repository.ProfileRepository
	notifier   battle.Notifier
	placement  battle.Placement
	presence   battle.Presence
	autosave   time.Duration
	logger     zerolog.Logger
	cancelOnce sync.Once
	stopLoops  chan struct{}
	loops      sync.WaitGroup
}

type OrchestratorParams struct {
	Registry  *battle.Registry
	Battles   *repository.BattleRepository
	Profiles  *repository.ProfileRepository
	Notifier  battle.Notifier
	Placement battle.Placement
	Presence  battle.Presence
	Autosave  time.Duration
	Logger    zerolog.Logger
}

func NewOrchestrator(p OrchestratorParams) *Orchestrator {
	if p.Placement == nil {
		p.Placement = battle.NopPlacement{}
	}
	if p.Presence == nil {
		p.Presence = battle.NopPresence{}
	}
	if p.Autosave <= 0 {
		p.Autosave = constants.AutosaveInterval
	}
	return &Orchestrator{
		registry:  p.Registry,
		battles:   p.Battles,
		profiles:  p.Profiles,
		notifier:  p.Notifier,
		placement: p.Placement,
		presence:  p.Presence,
		autosave:  p.Autosave,
		logger:    p.Logger,
		stopLoops: make(chan struct{}),
	}
}

// deps assembles the collaborator set handed to every battle, stored or
// fresh. The registry doubles as the roster so a player cannot sit in
// two battles at once.
func (s *Orchestrator) deps() battle.Deps {
	return battle.Deps{
		Placement: s.placement,
		Notifier:  s.notifier,
		Presence:  s.presence,
		Profiles:  &profileStore{repo: s.profiles, logger: s.logger},
		Roster:    s.registry,
		Logger:    s.logger,
	}
}

// Start loads and registers every stored battle, then launches the
// autosave and schedule loops. A blob that fails to decode is logged and
// skipped: one corrupt row must not take the whole daemon down.
func (s *Orchestrator) Start(ctx context.Context) error {
	recs, err := s.battles.List(ctx)
	if err != nil {
		return fmt.Errorf("failed to load stored battles: %w", err)
	}

	var mu sync.Mutex
	loaded := 0
	g := new(errgroup.Group)
	g.SetLimit(4)
	for _, rec := range recs {
		rec := rec
		g.Go(func() error {
			b, err := battle.Decode(rec.Blob, s.deps())
			if err != nil {
				s.logger.Error().Err(err).Str("serial", rec.Serial).Msg("failed to decode stored battle, skipping")
				return nil
			}
			s.registry.Register(b)
			mu.Lock()
			loaded++
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	s.logger.Info().Int("stored", len(recs)).Int("loaded", loaded).Msg("battles loaded")

	s.loops.Add(2)
	go s.autosaveLoop()
	go s.scheduleLoop()
	return nil
}

// Stop flushes every live battle and shuts the registry down.
func (s *Orchestrator) Stop(ctx context.Context) error {
	s.cancelOnce.Do(func() { close(s.stopLoops) })
	s.loops.Wait()

	if err := s.SaveAll(ctx); err != nil {
		s.logger.Error().Err(err).Msg("failed to flush battles on shutdown")
	}
	s.registry.Shutdown()
	return nil
}

func (s *Orchestrator) autosaveLoop() {
	defer s.loops.Done()
	ticker := time.NewTicker(s.autosave)
	defer ticker.Stop()
	for {
		select {
		case <-s.stopLoops:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), constants.DatabaseTimeout)
			if err := s.SaveAll(ctx); err != nil {
				s.logger.Error().Err(err).Msg("autosave failed")
			}
			cancel()
		}
	}
}

func (s *Orchestrator) scheduleLoop() {
	defer s.loops.Done()
	ticker := time.NewTicker(constants.ScheduleInterval)
	defer ticker.Stop()
	for {
		select {
		case <-s.stopLoops:
			return
		case now := <-ticker.C:
			s.registry.OnScheduleTick(now)
		}
	}
}

// SaveAll snapshots every live battle into one batch write.
func (s *Orchestrator) SaveAll(ctx context.Context) error {
	live := s.registry.List()
	recs := make([]domain.BattleRecord, 0, len(live))
	for _, b := range live {
		blob, err := b.Encode()
		if err != nil {
			s.logger.Error().Err(err).Str("serial", b.Serial.String()).Msg("failed to encode battle")
			continue
		}
		recs = append(recs, domain.BattleRecord{
			Serial: b.Serial.String(),
			Name:   b.Name,
			State:  b.CurrentState().String(),
			Blob:   blob,
		})
	}
	if len(recs) == 0 {
		return nil
	}
	if err := s.battles.SaveBatch(ctx, recs); err != nil {
		return err
	}
	s.logger.Debug().Int("count", len(recs)).Msg("battles saved")
	return nil
}

// BattleSpec is the creation request: identity, the two-or-more teams,
// the fight region, and the option overrides.
type BattleSpec struct {
	Name            string
	Description     string
	Category        string
	Teams           []TeamSpec
	Region          battle.RegionSnapshot
	SpectatorRegion battle.RegionSnapshot
	Options         *battle.Options
	Schedule        *battle.Schedule
	Open            bool
}

type TeamSpec struct {
	Name        string
	Color       int
	MinCapacity int
	MaxCapacity int
	HomeBase    battle.Location
	SpawnPoint  battle.Location
}

// CreateBattle validates, persists and registers a new battle.
func (s *Orchestrator) CreateBattle(ctx context.Context, spec BattleSpec) (*battle.Battle, error) {
	b := battle.New(spec.Name, s.deps())
	b.Description = spec.Description
	b.Category = spec.Category
	b.Region = spec.Region
	b.SpectatorRegion = spec.SpectatorRegion
	b.Schedule = spec.Schedule
	if spec.Options != nil {
		b.Options = *spec.Options
	} else if !spec.SpectatorRegion.Valid() {
		// No override and nowhere to put spectators: default them off
		// instead of failing validation.
		b.Options.AllowSpectators = false
	}
	for _, ts := range spec.Teams {
		team := battle.NewTeam(ts.Name, ts.MinCapacity, ts.MaxCapacity)
		team.Color = ts.Color
		team.HomeBase = ts.HomeBase
		team.SpawnPoint = ts.SpawnPoint
		b.AddTeam(team)
	}

	if !b.Validate() {
		return nil, errors.New("invalid battle: needs at least one team and a non-degenerate region")
	}
	if spec.Open {
		if err := b.Open(); err != nil {
			return nil, err
		}
	}

	if err := s.save(ctx, b); err != nil {
		return nil, err
	}
	s.registry.Register(b)

	s.logger.Info().
		Str("serial", b.Serial.String()).
		Str("name", b.Name).
		Int("teams", len(spec.Teams)).
		Msg("battle created")
	return b, nil
}

func (s *Orchestrator) save(ctx context.Context, b *battle.Battle) error {
	blob, err := b.Encode()
	if err != nil {
		return fmt.Errorf("failed to encode battle: %w", err)
	}
	return s.battles.Save(ctx, &domain.BattleRecord{
		Serial: b.Serial.String(),
		Name:   b.Name,
		State:  b.CurrentState().String(),
		Blob:   blob,
	})
}

func (s *Orchestrator) GetBattle(serial string) (*battle.Battle, error) {
	b := s.registry.Get(battle.Serial(serial))
	if b == nil {
		return nil, ErrBattleNotFound
	}
	return b, nil
}

func (s *Orchestrator) ListBattles() []*battle.Battle {
	return s.registry.List()
}

// PlayerLogin fans a login event to every live battle.
func (s *Orchestrator) PlayerLogin(playerID string) {
	s.registry.OnLogin(battle.PlayerID(playerID))
}

// PlayerLogout fans a logout to every live battle so stale queue entries
// and invites are dropped right away instead of on the next sweep.
func (s *Orchestrator) PlayerLogout(playerID string) {
	s.registry.OnLogout(battle.PlayerID(playerID))
	s.logger.Debug().Str("player", playerID).Msg("logout fanned to battles")
}

// DeleteBattle cancels the live battle and removes its stored row.
func (s *Orchestrator) DeleteBattle(ctx context.Context, serial string) error {
	if s.registry.Get(battle.Serial(serial)) == nil {
		return ErrBattleNotFound
	}
	s.registry.Delete(battle.Serial(serial))
	if err := s.battles.Delete(ctx, serial); err != nil {
		return err
	}
	s.logger.Info().Str("serial", serial).Msg("battle deleted")
	return nil
}

// GetProfile returns the durable ledger with its named counters.
func (s *Orchestrator) GetProfile(ctx context.Context, playerID string) (*domain.Profile, []domain.ProfileCounter, error) {
	ctx, cancel := context.WithTimeout(ctx, constants.DatabaseTimeout)
	defer cancel()

	p, err := s.profiles.Get(ctx, playerID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil, ErrProfileNotFound
	}
	if err != nil {
		return nil, nil, err
	}
	counters, err := s.profiles.Counters(ctx, playerID)
	if err != nil {
		return nil, nil, err
	}
	return p, counters, nil
}

// profileStore adapts the SQL profile repository to the collaborator
// interface battles settle through. Battles call it synchronously from a
// tick, so every write runs under the database timeout.
type profileStore struct {
	repo   *repository.ProfileRepository
	logger zerolog.Logger
}

func (a *profileStore) Apply(p battle.PlayerID, d battle.StatsDelta) error {
	ctx, cancel := context.WithTimeout(context.Background(), constants.DatabaseTimeout)
	defer cancel()
	return a.repo.Apply(ctx, string(p), d)
}

func (a *profileStore) AdjustBalance(p battle.PlayerID, delta int) error {
	ctx, cancel := context.WithTimeout(context.Background(), constants.DatabaseTimeout)
	defer cancel()
	return a.repo.AdjustBalance(ctx, string(p), delta)
}
