package repositories

import (
	"context"

	"github.com/bimakw/solana-ingestor/internal/domain/entities"
)

// TimeSeriesStore is the append-only, time-indexed half of hybrid storage
type TimeSeriesStore interface {
	// Insert stores one entry. Entries with the same upsert key replace each other.
	Insert(ctx context.Context, measurement string, entry entities.TimeSeriesEntry) error

	// InsertBatch stores entries in one round trip
	InsertBatch(ctx context.Context, measurement string, entries []entities.TimeSeriesEntry) error

	// Query returns entries matching time bounds and exact tag filters
	Query(ctx context.Context, measurement string, query entities.TimeSeriesQuery) ([]entities.TimeSeriesEntry, error)

	// GetMetadata summarizes a measurement
	GetMetadata(ctx context.Context, measurement string) (*entities.MeasurementMetadata, error)

	// DropMeasurement removes a measurement and all its entries
	DropMeasurement(ctx context.Context, measurement string) error
}
