package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"battleground/internal/battle"
	"battleground/internal/domain"

	"github.com/rs/zerolog"
)

// ProfileRepository owns the persistent per-player ledgers. Battles fold
// their per-match statistics into these rows when a ranked match ends.
type ProfileRepository struct {
	db     *sql.DB
	logger zerolog.Logger
}

func NewProfileRepository(sqlDB *sql.DB, logger zerolog.Logger) *ProfileRepository {
	return &ProfileRepository{
		db:     sqlDB,
		logger: logger,
	}
}

func (r *ProfileRepository) Get(ctx context.Context, playerID string) (*domain.Profile, error) {
	var p domain.Profile
	err := r.db.QueryRowContext(ctx, `
		SELECT player_id, balance, battles, wins, losses, kills, deaths,
		       damage_done, damage_taken, healing_done, healing_taken,
		       points_gained, points_lost, resurrections, created_at, updated_at
		FROM profiles WHERE player_id = ?`, playerID).
		Scan(&p.PlayerID, &p.Balance, &p.Battles, &p.Wins, &p.Losses, &p.Kills, &p.Deaths,
			&p.DamageDone, &p.DamageTaken, &p.HealingDone, &p.HealingTaken,
			&p.PointsGained, &p.PointsLost, &p.Resurrections, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (r *ProfileRepository) Counters(ctx context.Context, playerID string) ([]domain.ProfileCounter, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT player_id, name, value, updated_at
		FROM profile_counters WHERE player_id = ? ORDER BY name`, playerID)
	if err != nil {
		return nil, fmt.Errorf("failed to list counters for %s: %w", playerID, err)
	}
	defer rows.Close()

	var out []domain.ProfileCounter
	for rows.Next() {
		var c domain.ProfileCounter
		if err := rows.Scan(&c.PlayerID, &c.Name, &c.Value, &c.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan counter row: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// Apply folds a per-match delta into the lifetime ledger, creating the
// row on first contact. Counter rows are upserted alongside in the same
// transaction.
func (r *ProfileRepository) Apply(ctx context.Context, playerID string, d battle.StatsDelta) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	now := time.Now()
	_, err = tx.ExecContext(ctx, `
		INSERT INTO profiles (player_id, battles, wins, losses, kills, deaths,
			damage_done, damage_taken, healing_done, healing_taken,
			points_gained, points_lost, resurrections, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(player_id) DO UPDATE SET
			battles = battles + excluded.battles,
			wins = wins + excluded.wins,
			losses = losses + excluded.losses,
			kills = kills + excluded.kills,
			deaths = deaths + excluded.deaths,
			damage_done = damage_done + excluded.damage_done,
			damage_taken = damage_taken + excluded.damage_taken,
			healing_done = healing_done + excluded.healing_done,
			healing_taken = healing_taken + excluded.healing_taken,
			points_gained = points_gained + excluded.points_gained,
			points_lost = points_lost + excluded.points_lost,
			resurrections = resurrections + excluded.resurrections,
			updated_at = excluded.updated_at`,
		playerID, d.Battles, d.Wins, d.Losses, d.Kills, d.Deaths,
		d.DamageDone, d.DamageTaken, d.HealingDone, d.HealingTaken,
		d.PointsGained, d.PointsLost, d.Resurrections, now, now)
	if err != nil {
		r.logger.Error().Err(err).Str("player_id", playerID).Msg("failed to apply stats delta")
		return fmt.Errorf("failed to apply stats for %s: %w", playerID, err)
	}

	for name, value := range d.Counters {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO profile_counters (player_id, name, value, updated_at)
			VALUES (?, ?, ?, ?)
			ON CONFLICT(player_id, name) DO UPDATE SET
				value = value + excluded.value,
				updated_at = excluded.updated_at`,
			playerID, name, value, now)
		if err != nil {
			return fmt.Errorf("failed to apply counter %s for %s: %w", name, playerID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return err
	}

	r.logger.Debug().Str("player_id", playerID).Msg("stats delta applied")
	return nil
}

// AdjustBalance moves the point balance by delta, which may be negative.
func (r *ProfileRepository) AdjustBalance(ctx context.Context, playerID string, delta int) error {
	now := time.Now()
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO profiles (player_id, balance, created_at, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(player_id) DO UPDATE SET
			balance = balance + excluded.balance,
			updated_at = excluded.updated_at`,
		playerID, delta, now, now)
	if err != nil {
		r.logger.Error().Err(err).Str("player_id", playerID).Int("delta", delta).Msg("failed to adjust balance")
		return fmt.Errorf("failed to adjust balance for %s: %w", playerID, err)
	}

	r.logger.Debug().Str("player_id", playerID).Int("delta", delta).Msg("balance adjusted")
	return nil
}
