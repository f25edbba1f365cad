package entities

import (
	"fmt"
	"time"
)

// IngestionMode selects how the ingestion service sources slots
type IngestionMode string

const (
	ModeLive     IngestionMode = "live"
	ModeBackfill IngestionMode = "backfill"
	ModeBatch    IngestionMode = "batch"
)

// Valid reports whether m is a known mode
func (m IngestionMode) Valid() bool {
	switch m {
	case ModeLive, ModeBackfill, ModeBatch:
		return true
	}
	return false
}

// FallbackStrategy selects how data sources are tried
type FallbackStrategy string

const (
	FallbackSequential FallbackStrategy = "sequential"
	FallbackParallel   FallbackStrategy = "parallel"
)

// IngestionState is the lifecycle state of the ingestion service
type IngestionState string

const (
	StateUninitialized IngestionState = "uninitialized"
	StateInitialized   IngestionState = "initialized"
	StateRunning       IngestionState = "running"
	StatePaused        IngestionState = "paused"
	StateStopped       IngestionState = "stopped"
)

// IngestionConfig is the configuration surface consumed at initialization
type IngestionConfig struct {
	Mode             IngestionMode
	DataSources      []DataSourceDescriptor
	FallbackStrategy FallbackStrategy
	PollingInterval  time.Duration
	StartSlot        *uint64
	EndSlot          *uint64
	// SubscriptionSources is how many of the healthiest sources receive push subscriptions.
	SubscriptionSources int
}

// Validate checks the configuration for the selected mode
func (c IngestionConfig) Validate() error {
	if !c.Mode.Valid() {
		return fmt.Errorf("unknown ingestion mode %q", c.Mode)
	}
	if c.FallbackStrategy != "" && c.FallbackStrategy != FallbackSequential && c.FallbackStrategy != FallbackParallel {
		return fmt.Errorf("unknown fallback strategy %q", c.FallbackStrategy)
	}
	if c.Mode == ModeLive && c.PollingInterval <= 0 {
		return fmt.Errorf("polling interval must be positive")
	}
	if c.Mode == ModeBackfill || c.Mode == ModeBatch {
		if c.StartSlot == nil || c.EndSlot == nil {
			return fmt.Errorf("%s mode requires start and end slots", c.Mode)
		}
		if *c.StartSlot > *c.EndSlot {
			return fmt.Errorf("%w: start slot %d > end slot %d", ErrInvalidSlotRange, *c.StartSlot, *c.EndSlot)
		}
	}
	return nil
}

// IngestionError is one entry of the bounded error history
type IngestionError struct {
	Timestamp   time.Time `json:"timestamp"`
	Message     string    `json:"message"`
	SourceID    string    `json:"source_id,omitempty"`
	Recoverable bool      `json:"recoverable"`
}

// BackfillStatus reports the state of the backfill queue
type BackfillStatus struct {
	Running       bool    `json:"running"`
	QueueLength   int     `json:"queue_length"`
	InProgress    int     `json:"in_progress"`
	Completed     int64   `json:"completed"`
	Failed        int64   `json:"failed"`
	MinQueuedSlot *uint64 `json:"min_queued_slot,omitempty"`
	MaxQueuedSlot *uint64 `json:"max_queued_slot,omitempty"`
}

// IngestionStatus is the externally visible state of the ingestion service
type IngestionStatus struct {
	State             IngestionState   `json:"state"`
	Mode              IngestionMode    `json:"mode"`
	Running           bool             `json:"running"`
	Paused            bool             `json:"paused"`
	LastProcessedSlot uint64           `json:"last_processed_slot"`
	ItemsProcessed    int64            `json:"items_processed"`
	ItemsFailed       int64            `json:"items_failed"`
	ActiveSources     int              `json:"active_sources"`
	HealthySources    int              `json:"healthy_sources"`
	Subscriptions     int              `json:"subscriptions"`
	StartedAt         *time.Time       `json:"started_at,omitempty"`
	Backfill          BackfillStatus   `json:"backfill"`
	Errors            []IngestionError `json:"errors"`
}
