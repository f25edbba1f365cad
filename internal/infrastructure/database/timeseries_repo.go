package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/bimakw/solana-ingestor/internal/domain/entities"
	"github.com/bimakw/solana-ingestor/internal/domain/repositories"
)

// Ensure TimeSeriesRepo implements TimeSeriesStore
var _ repositories.TimeSeriesStore = (*TimeSeriesRepo)(nil)

const upsertEntryQuery = `
	INSERT INTO ts_entries (measurement, entry_key, ts, data, tags)
	VALUES ($1, $2, $3, $4, $5)
	ON CONFLICT (measurement, entry_key) WHERE entry_key IS NOT NULL DO UPDATE SET
		ts = EXCLUDED.ts,
		data = EXCLUDED.data,
		tags = EXCLUDED.tags
`

// TimeSeriesRepo implements TimeSeriesStore on a PostgreSQL (or TimescaleDB) table
type TimeSeriesRepo struct {
	db *sqlx.DB
}

// NewTimeSeriesRepo creates a new time-series repository
func NewTimeSeriesRepo(db *sqlx.DB) *TimeSeriesRepo {
	return &TimeSeriesRepo{db: db}
}

type entryRow struct {
	Timestamp time.Time `db:"ts"`
	Data      []byte    `db:"data"`
	Tags      []byte    `db:"tags"`
}

func (r entryRow) toEntity() (entities.TimeSeriesEntry, error) {
	entry := entities.TimeSeriesEntry{
		Timestamp: r.Timestamp,
		Data:      json.RawMessage(r.Data),
	}
	if len(r.Tags) > 0 {
		if err := json.Unmarshal(r.Tags, &entry.Tags); err != nil {
			return entities.TimeSeriesEntry{}, fmt.Errorf("failed to decode tags: %w", err)
		}
		if len(entry.Tags) == 0 {
			entry.Tags = nil
		}
	}
	return entry, nil
}

// entryArgs returns the upsert arguments of an entry
func entryArgs(measurement string, entry entities.TimeSeriesEntry) ([]interface{}, error) {
	tags := entry.Tags
	if tags == nil {
		tags = entities.Tags{}
	}
	tagJSON, err := json.Marshal(tags)
	if err != nil {
		return nil, fmt.Errorf("failed to encode tags: %w", err)
	}

	data := string(entry.Data)
	if data == "" {
		data = "null"
	} else if !json.Valid(entry.Data) {
		return nil, fmt.Errorf("entry data is not valid JSON")
	}

	var key sql.NullString
	if k := entry.Key(); k != "" {
		key = sql.NullString{String: k, Valid: true}
	}

	return []interface{}{measurement, key, entry.Timestamp, data, string(tagJSON)}, nil
}

// Insert upserts one entry
func (r *TimeSeriesRepo) Insert(ctx context.Context, measurement string, entry entities.TimeSeriesEntry) error {
	args, err := entryArgs(measurement, entry)
	if err != nil {
		return repositories.NewStorageError("insert", err)
	}
	if _, err := r.db.ExecContext(ctx, upsertEntryQuery, args...); err != nil {
		return storageError("insert", fmt.Errorf("failed to insert entry: %w", err))
	}
	return nil
}

// InsertBatch upserts all entries in one transaction
func (r *TimeSeriesRepo) InsertBatch(ctx context.Context, measurement string, entries []entities.TimeSeriesEntry) error {
	if len(entries) == 0 {
		return nil
	}

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return storageError("insert_batch", fmt.Errorf("failed to begin transaction: %w", err))
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PreparexContext(ctx, upsertEntryQuery)
	if err != nil {
		return storageError("insert_batch", fmt.Errorf("failed to prepare insert: %w", err))
	}
	defer stmt.Close()

	for _, entry := range entries {
		args, err := entryArgs(measurement, entry)
		if err != nil {
			return repositories.NewStorageError("insert_batch", err)
		}
		if _, err := stmt.ExecContext(ctx, args...); err != nil {
			return storageError("insert_batch", fmt.Errorf("failed to insert entry: %w", err))
		}
	}

	if err := tx.Commit(); err != nil {
		return storageError("insert_batch", fmt.Errorf("failed to commit batch: %w", err))
	}
	return nil
}

// buildEntryQuery builds the SQL query for filtering entries of a measurement
func buildEntryQuery(measurement string, q entities.TimeSeriesQuery) (string, []interface{}, error) {
	conditions := []string{"measurement = $1"}
	args := []interface{}{measurement}
	argIdx := 2

	if q.From != nil {
		conditions = append(conditions, fmt.Sprintf("ts >= $%d", argIdx))
		args = append(args, *q.From)
		argIdx++
	}

	if q.To != nil {
		conditions = append(conditions, fmt.Sprintf("ts <= $%d", argIdx))
		args = append(args, *q.To)
		argIdx++
	}

	if len(q.Tags) > 0 {
		tagJSON, err := json.Marshal(q.Tags)
		if err != nil {
			return "", nil, fmt.Errorf("failed to encode tag filter: %w", err)
		}
		conditions = append(conditions, fmt.Sprintf("tags @> $%d::jsonb", argIdx))
		args = append(args, string(tagJSON))
		argIdx++
	}

	order := "ASC"
	if q.Order == entities.SortDesc {
		order = "DESC"
	}

	query := fmt.Sprintf(
		"SELECT ts, data, tags FROM ts_entries WHERE %s ORDER BY ts %s, id %s",
		strings.Join(conditions, " AND "), order, order,
	)

	if q.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argIdx)
		args = append(args, q.Limit)
	}

	return query, args, nil
}

// Query returns entries matching time bounds and exact tag filters
func (r *TimeSeriesRepo) Query(ctx context.Context, measurement string, q entities.TimeSeriesQuery) ([]entities.TimeSeriesEntry, error) {
	query, args, err := buildEntryQuery(measurement, q)
	if err != nil {
		return nil, repositories.NewStorageError("query", err)
	}

	var rows []entryRow
	if err := r.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, storageError("query", fmt.Errorf("failed to query entries: %w", err))
	}

	out := make([]entities.TimeSeriesEntry, 0, len(rows))
	for _, row := range rows {
		entry, err := row.toEntity()
		if err != nil {
			return nil, repositories.NewStorageError("query", err)
		}
		out = append(out, entry)
	}
	return out, nil
}

// GetMetadata summarizes a measurement; ErrNotFound if it holds no entries
func (r *TimeSeriesRepo) GetMetadata(ctx context.Context, measurement string) (*entities.MeasurementMetadata, error) {
	var summary struct {
		Count     int64      `db:"count"`
		FirstSeen *time.Time `db:"first_seen"`
		LastSeen  *time.Time `db:"last_seen"`
	}
	query := `SELECT COUNT(*) AS count, MIN(ts) AS first_seen, MAX(ts) AS last_seen FROM ts_entries WHERE measurement = $1`
	if err := r.db.GetContext(ctx, &summary, query, measurement); err != nil {
		return nil, storageError("get_metadata", fmt.Errorf("failed to summarize measurement: %w", err))
	}
	if summary.Count == 0 {
		return nil, repositories.NewStorageError("get_metadata", repositories.ErrNotFound)
	}

	keys := []string{}
	query = `SELECT DISTINCT k FROM ts_entries, jsonb_object_keys(tags) AS k WHERE measurement = $1 ORDER BY k`
	if err := r.db.SelectContext(ctx, &keys, query, measurement); err != nil {
		return nil, storageError("get_metadata", fmt.Errorf("failed to list tag keys: %w", err))
	}

	return &entities.MeasurementMetadata{
		Measurement: measurement,
		Count:       summary.Count,
		FirstSeen:   *summary.FirstSeen,
		LastSeen:    *summary.LastSeen,
		TagKeys:     keys,
	}, nil
}

// DropMeasurement removes every entry of a measurement
func (r *TimeSeriesRepo) DropMeasurement(ctx context.Context, measurement string) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM ts_entries WHERE measurement = $1`, measurement); err != nil {
		return storageError("drop_measurement", fmt.Errorf("failed to drop measurement: %w", err))
	}
	return nil
}

// HealthCheck pings the database
func (r *TimeSeriesRepo) HealthCheck(ctx context.Context) error {
	if err := r.db.PingContext(ctx); err != nil {
		return storageError("health_check", err)
	}
	return nil
}
