package cache

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/bimakw/solana-ingestor/internal/config"
	"github.com/bimakw/solana-ingestor/internal/domain/entities"
	"github.com/bimakw/solana-ingestor/internal/domain/repositories"
)

// Ensure RedisCheckpointStore implements SlotCheckpointRepository
var _ repositories.SlotCheckpointRepository = (*RedisCheckpointStore)(nil)

// Hash fields of the checkpoint key
const (
	fieldLastSlot      = "last_processed_slot"
	fieldIsBackfilling = "is_backfilling"
	fieldBackfillFrom  = "backfill_from_slot"
	fieldBackfillTo    = "backfill_to_slot"
	fieldUpdatedAt     = "updated_at"
)

// RedisCheckpointStore persists the slot checkpoint as a Redis hash so each
// update touches only its own fields
type RedisCheckpointStore struct {
	client *redis.Client
	key    string
	logger *zap.Logger
	now    func() time.Time
}

// NewRedisCheckpointStore connects to Redis and returns a checkpoint store
func NewRedisCheckpointStore(cfg config.RedisConfig, logger *zap.Logger) (*RedisCheckpointStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr(),
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	logger.Info("Connected to Redis",
		zap.String("host", cfg.Host),
		zap.Int("port", cfg.Port),
		zap.String("key", cfg.CheckpointKey),
	)

	return &RedisCheckpointStore{
		client: client,
		key:    cfg.CheckpointKey,
		logger: logger,
		now:    time.Now,
	}, nil
}

// Close closes the Redis connection
func (s *RedisCheckpointStore) Close() error {
	return s.client.Close()
}

// Get retrieves the checkpoint, or nil if none was saved
func (s *RedisCheckpointStore) Get(ctx context.Context) (*entities.SlotCheckpoint, error) {
	fields, err := s.client.HGetAll(ctx, s.key).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to get slot checkpoint: %w", err)
	}
	return decodeCheckpoint(fields)
}

// UpdateLastSlot stores the last processed slot
func (s *RedisCheckpointStore) UpdateLastSlot(ctx context.Context, slot uint64) error {
	err := s.client.HSet(ctx, s.key,
		fieldLastSlot, strconv.FormatUint(slot, 10),
		fieldUpdatedAt, s.now().UTC().Format(time.RFC3339Nano),
	).Err()
	if err != nil {
		return fmt.Errorf("failed to update last slot: %w", err)
	}
	return nil
}

// SetBackfilling records the configured backfill range. Nil bounds are removed.
func (s *RedisCheckpointStore) SetBackfilling(ctx context.Context, isBackfilling bool, fromSlot, toSlot *uint64) error {
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, s.key,
			fieldIsBackfilling, strconv.FormatBool(isBackfilling),
			fieldUpdatedAt, s.now().UTC().Format(time.RFC3339Nano),
		)
		setOrDelete(ctx, pipe, s.key, fieldBackfillFrom, fromSlot)
		setOrDelete(ctx, pipe, s.key, fieldBackfillTo, toSlot)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to set backfilling: %w", err)
	}
	return nil
}

// HealthCheck checks if Redis is reachable
func (s *RedisCheckpointStore) HealthCheck(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func setOrDelete(ctx context.Context, pipe redis.Pipeliner, key, field string, slot *uint64) {
	if slot == nil {
		pipe.HDel(ctx, key, field)
		return
	}
	pipe.HSet(ctx, key, field, strconv.FormatUint(*slot, 10))
}

// decodeCheckpoint parses the checkpoint hash. An empty hash means no checkpoint.
func decodeCheckpoint(fields map[string]string) (*entities.SlotCheckpoint, error) {
	if len(fields) == 0 {
		return nil, nil
	}

	cp := &entities.SlotCheckpoint{}
	var err error
	if v, ok := fields[fieldLastSlot]; ok {
		if cp.LastProcessedSlot, err = strconv.ParseUint(v, 10, 64); err != nil {
			return nil, fmt.Errorf("invalid %s %q: %w", fieldLastSlot, v, err)
		}
	}
	if v, ok := fields[fieldIsBackfilling]; ok {
		if cp.IsBackfilling, err = strconv.ParseBool(v); err != nil {
			return nil, fmt.Errorf("invalid %s %q: %w", fieldIsBackfilling, v, err)
		}
	}
	if cp.BackfillFromSlot, err = optionalSlot(fields, fieldBackfillFrom); err != nil {
		return nil, err
	}
	if cp.BackfillToSlot, err = optionalSlot(fields, fieldBackfillTo); err != nil {
		return nil, err
	}
	if v, ok := fields[fieldUpdatedAt]; ok {
		if cp.UpdatedAt, err = time.Parse(time.RFC3339Nano, v); err != nil {
			return nil, fmt.Errorf("invalid %s %q: %w", fieldUpdatedAt, v, err)
		}
	}
	return cp, nil
}

func optionalSlot(fields map[string]string, field string) (*uint64, error) {
	v, ok := fields[field]
	if !ok {
		return nil, nil
	}
	slot, err := strconv.ParseUint(v, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid %s %q: %w", field, v, err)
	}
	return &slot, nil
}
