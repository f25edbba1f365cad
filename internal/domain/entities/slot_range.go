package entities

import (
	"errors"
	"fmt"
	"time"
)

// ErrInvalidSlotRange indicates a range whose lower bound exceeds its upper bound
var ErrInvalidSlotRange = errors.New("invalid slot range")

// SlotRange is an inclusive range of slots
type SlotRange struct {
	FromSlot uint64 `json:"from_slot"`
	ToSlot   uint64 `json:"to_slot"`
}

// NewSlotRange validates and builds a range
func NewSlotRange(from, to uint64) (SlotRange, error) {
	r := SlotRange{FromSlot: from, ToSlot: to}
	if err := r.Validate(); err != nil {
		return SlotRange{}, err
	}
	return r, nil
}

// Validate checks the range bounds
func (r SlotRange) Validate() error {
	if r.FromSlot > r.ToSlot {
		return fmt.Errorf("%w: from %d > to %d", ErrInvalidSlotRange, r.FromSlot, r.ToSlot)
	}
	return nil
}

// Len returns the number of slots in the range
func (r SlotRange) Len() uint64 {
	if r.FromSlot > r.ToSlot {
		return 0
	}
	return r.ToSlot - r.FromSlot + 1
}

// Overlaps reports whether the two ranges share at least one slot
func (r SlotRange) Overlaps(other SlotRange) bool {
	return r.FromSlot <= other.ToSlot && other.FromSlot <= r.ToSlot
}

// Contains reports whether slot is within the range
func (r SlotRange) Contains(slot uint64) bool {
	return slot >= r.FromSlot && slot <= r.ToSlot
}

func (r SlotRange) String() string {
	return fmt.Sprintf("[%d, %d]", r.FromSlot, r.ToSlot)
}

// QueueItem is a unit of backfill work
type QueueItem struct {
	ID           string    `json:"id"`
	Range        SlotRange `json:"range"`
	Priority     int       `json:"priority"`
	Attempts     int       `json:"attempts"`
	InProgress   bool      `json:"in_progress"`
	LastAttempt  time.Time `json:"last_attempt,omitempty"`
	DataSourceID string    `json:"data_source_id,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}
