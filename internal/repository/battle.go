package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"battleground/internal/domain"

	"github.com/rs/zerolog"
)

// BattleRepository stores battle aggregates as versioned blobs keyed by
// serial, with the name and state lifted into queryable columns.
type BattleRepository struct {
	db     *sql.DB
	logger zerolog.Logger
}

func NewBattleRepository(sqlDB *sql.DB, logger zerolog.Logger) *BattleRepository {
	return &BattleRepository{
		db:     sqlDB,
		logger: logger,
	}
}

func (r *BattleRepository) Save(ctx context.Context, rec *domain.BattleRecord) error {
	now := time.Now()
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO battles (serial, name, state, blob, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(serial) DO UPDATE SET
			name = excluded.name,
			state = excluded.state,
			blob = excluded.blob,
			updated_at = excluded.updated_at`,
		rec.Serial, rec.Name, rec.State, rec.Blob, now, now)
	if err != nil {
		r.logger.Error().Err(err).Str("serial", rec.Serial).Msg("failed to save battle")
		return fmt.Errorf("failed to save battle %s: %w", rec.Serial, err)
	}

	r.logger.Debug().
		Str("serial", rec.Serial).
		Str("state", rec.State).
		Int("blob_bytes", len(rec.Blob)).
		Msg("battle saved")
	return nil
}

func (r *BattleRepository) Get(ctx context.Context, serial string) (*domain.BattleRecord, error) {
	var rec domain.BattleRecord
	err := r.db.QueryRowContext(ctx, `
		SELECT serial, name, state, blob, created_at, updated_at
		FROM battles WHERE serial = ?`, serial).
		Scan(&rec.Serial, &rec.Name, &rec.State, &rec.Blob, &rec.CreatedAt, &rec.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

// List returns every stored battle. Blobs come back too: the boot path
// decodes each one and a corrupt blob must not hide its row.
func (r *BattleRepository) List(ctx context.Context) ([]domain.BattleRecord, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT serial, name, state, blob, created_at, updated_at
		FROM battles ORDER BY created_at`)
	if err != nil {
		return nil, fmt.Errorf("failed to list battles: %w", err)
	}
	defer rows.Close()

	var out []domain.BattleRecord
	for rows.Next() {
		var rec domain.BattleRecord
		if err := rows.Scan(&rec.Serial, &rec.Name, &rec.State, &rec.Blob, &rec.CreatedAt, &rec.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan battle row: %w", err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (r *BattleRepository) Delete(ctx context.Context, serial string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM battles WHERE serial = ?`, serial)
	if err != nil {
		r.logger.Error().Err(err).Str("serial", serial).Msg("failed to delete battle")
		return fmt.Errorf("failed to delete battle %s: %w", serial, err)
	}
	affected, _ := res.RowsAffected()
	r.logger.Debug().Str("serial", serial).Int64("rows", affected).Msg("battle deleted")
	return nil
}

// SaveBatch persists a set of records in one transaction, for the
// autosave sweep and the shutdown flush.
func (r *BattleRepository) SaveBatch(ctx context.Context, recs []domain.BattleRecord) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	now := time.Now()
	for _, rec := range recs {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO battles (serial, name, state, blob, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?)
			ON CONFLICT(serial) DO UPDATE SET
				name = excluded.name,
				state = excluded.state,
				blob = excluded.blob,
				updated_at = excluded.updated_at`,
			rec.Serial, rec.Name, rec.State, rec.Blob, now, now)
		if err != nil {
			return fmt.Errorf("failed to save battle %s: %w", rec.Serial, err)
		}
	}

	return tx.Commit()
}
