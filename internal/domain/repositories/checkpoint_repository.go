package repositories

import (
	"context"

	"github.com/bimakw/solana-ingestor/internal/domain/entities"
)

// SlotCheckpointRepository persists live ingestion progress
type SlotCheckpointRepository interface {
	// Get retrieves the checkpoint, or nil if none was saved
	Get(ctx context.Context) (*entities.SlotCheckpoint, error)

	// UpdateLastSlot stores the last processed slot
	UpdateLastSlot(ctx context.Context, slot uint64) error

	// SetBackfilling records whether a configured backfill range is being drained
	SetBackfilling(ctx context.Context, isBackfilling bool, fromSlot, toSlot *uint64) error
}
