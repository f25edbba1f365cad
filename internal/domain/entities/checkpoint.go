package entities

import (
	"time"
)

// SlotCheckpoint tracks the live ingestion progress so a restart can detect missed slots
type SlotCheckpoint struct {
	LastProcessedSlot uint64    `json:"last_processed_slot"`
	IsBackfilling     bool      `json:"is_backfilling"`
	BackfillFromSlot  *uint64   `json:"backfill_from_slot,omitempty"`
	BackfillToSlot    *uint64   `json:"backfill_to_slot,omitempty"`
	UpdatedAt         time.Time `json:"updated_at"`
}
