package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/bimakw/solana-ingestor/internal/domain/entities"
	"github.com/bimakw/solana-ingestor/internal/domain/repositories"
)

// Ensure CheckpointRepo implements SlotCheckpointRepository
var _ repositories.SlotCheckpointRepository = (*CheckpointRepo)(nil)

// CheckpointRepo implements SlotCheckpointRepository using a single-row PostgreSQL table
type CheckpointRepo struct {
	db *sqlx.DB
}

// NewCheckpointRepo creates a new checkpoint repository
func NewCheckpointRepo(db *sqlx.DB) *CheckpointRepo {
	return &CheckpointRepo{db: db}
}

type checkpointRow struct {
	LastProcessedSlot int64         `db:"last_processed_slot"`
	IsBackfilling     bool          `db:"is_backfilling"`
	BackfillFromSlot  sql.NullInt64 `db:"backfill_from_slot"`
	BackfillToSlot    sql.NullInt64 `db:"backfill_to_slot"`
	UpdatedAt         time.Time     `db:"updated_at"`
}

// Get retrieves the checkpoint, or nil if none was saved
func (r *CheckpointRepo) Get(ctx context.Context) (*entities.SlotCheckpoint, error) {
	var row checkpointRow
	query := `
		SELECT last_processed_slot, is_backfilling, backfill_from_slot, backfill_to_slot, updated_at
		FROM slot_checkpoint WHERE id = 1
	`

	if err := r.db.GetContext(ctx, &row, query); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get slot checkpoint: %w", err)
	}

	cp := &entities.SlotCheckpoint{
		LastProcessedSlot: uint64(row.LastProcessedSlot),
		IsBackfilling:     row.IsBackfilling,
		UpdatedAt:         row.UpdatedAt,
	}
	if row.BackfillFromSlot.Valid {
		v := uint64(row.BackfillFromSlot.Int64)
		cp.BackfillFromSlot = &v
	}
	if row.BackfillToSlot.Valid {
		v := uint64(row.BackfillToSlot.Int64)
		cp.BackfillToSlot = &v
	}
	return cp, nil
}

// UpdateLastSlot stores the last processed slot, creating the row if needed
func (r *CheckpointRepo) UpdateLastSlot(ctx context.Context, slot uint64) error {
	query := `
		INSERT INTO slot_checkpoint (id, last_processed_slot, updated_at)
		VALUES (1, $1, NOW())
		ON CONFLICT (id) DO UPDATE SET
			last_processed_slot = EXCLUDED.last_processed_slot,
			updated_at = NOW()
	`

	if _, err := r.db.ExecContext(ctx, query, int64(slot)); err != nil {
		return fmt.Errorf("failed to update last slot: %w", err)
	}
	return nil
}

// SetBackfilling records the configured backfill range
func (r *CheckpointRepo) SetBackfilling(ctx context.Context, isBackfilling bool, fromSlot, toSlot *uint64) error {
	query := `
		INSERT INTO slot_checkpoint (id, is_backfilling, backfill_from_slot, backfill_to_slot, updated_at)
		VALUES (1, $1, $2, $3, NOW())
		ON CONFLICT (id) DO UPDATE SET
			is_backfilling = EXCLUDED.is_backfilling,
			backfill_from_slot = EXCLUDED.backfill_from_slot,
			backfill_to_slot = EXCLUDED.backfill_to_slot,
			updated_at = NOW()
	`

	if _, err := r.db.ExecContext(ctx, query, isBackfilling, nullSlot(fromSlot), nullSlot(toSlot)); err != nil {
		return fmt.Errorf("failed to set backfilling: %w", err)
	}
	return nil
}

func nullSlot(slot *uint64) sql.NullInt64 {
	if slot == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(*slot), Valid: true}
}
