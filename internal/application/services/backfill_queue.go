package services

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/alitto/pond/v2"
	"go.uber.org/zap"

	"github.com/bimakw/solana-ingestor/internal/application/events"
	"github.com/bimakw/solana-ingestor/internal/domain/entities"
	"github.com/bimakw/solana-ingestor/internal/domain/repositories"
	"github.com/bimakw/solana-ingestor/internal/domain/sources"
	"github.com/bimakw/solana-ingestor/internal/infrastructure/metrics"
)

// BackfillConfig tunes the backfill queue
type BackfillConfig struct {
	MaxQueueSize         int
	MaxAttempts          int
	ProcessingInterval   time.Duration
	ConcurrentProcessing int
	RetryDelay           time.Duration
	// ProcessedCapacity bounds the set of signatures remembered as already ingested
	ProcessedCapacity int
}

// DefaultBackfillConfig returns the tuning used by the ingestion service
func DefaultBackfillConfig() BackfillConfig {
	return BackfillConfig{
		MaxQueueSize:         10000,
		MaxAttempts:          5,
		ProcessingInterval:   30 * time.Second,
		ConcurrentProcessing: 5,
		RetryDelay:           5 * time.Second,
		ProcessedCapacity:    100000,
	}
}

// SourceSelector ranks data sources by health and priority
type SourceSelector interface {
	GetHealthyDataSources() []sources.DataSource
}

// BackfillItemEvent is the payload of queue item events
type BackfillItemEvent struct {
	Item entities.QueueItem
	Err  error
}

// BackfillQueue drains slot ranges missed by live ingestion
type BackfillQueue struct {
	cfg      BackfillConfig
	storage  repositories.TimeSeriesStore
	selector SourceSelector
	logger   *zap.Logger
	events   *events.Bus
	now      func() time.Time

	mu        sync.Mutex
	items     []*entities.QueueItem
	nextID    uint64
	completed int64
	failed    int64

	processedMu    sync.Mutex
	processed      map[string]struct{}
	processedOrder []string

	running  atomic.Bool
	loopMu   sync.Mutex
	pool     pond.Pool
	cancel   context.CancelFunc
	stopCh   chan struct{}
	wg       sync.WaitGroup
	inflight sync.WaitGroup
}

// NewBackfillQueue creates a new backfill queue
func NewBackfillQueue(
	cfg BackfillConfig,
	storage repositories.TimeSeriesStore,
	selector SourceSelector,
	logger *zap.Logger,
) *BackfillQueue {
	def := DefaultBackfillConfig()
	if cfg.MaxQueueSize <= 0 {
		cfg.MaxQueueSize = def.MaxQueueSize
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = def.MaxAttempts
	}
	if cfg.ProcessingInterval <= 0 {
		cfg.ProcessingInterval = def.ProcessingInterval
	}
	if cfg.ConcurrentProcessing <= 0 {
		cfg.ConcurrentProcessing = def.ConcurrentProcessing
	}
	if cfg.ProcessedCapacity <= 0 {
		cfg.ProcessedCapacity = def.ProcessedCapacity
	}

	return &BackfillQueue{
		cfg:       cfg,
		storage:   storage,
		selector:  selector,
		logger:    logger,
		events:    events.NewBus("backfill_queue", logger),
		now:       time.Now,
		processed: make(map[string]struct{}),
	}
}

// Events returns the queue event registry
func (q *BackfillQueue) Events() *events.Bus {
	return q.events
}

// AddToQueue enqueues a slot range. It returns false when the queue is full,
// the range is invalid or it overlaps a queued range.
func (q *BackfillQueue) AddToQueue(r entities.SlotRange, priority int) bool {
	if err := r.Validate(); err != nil {
		q.logger.Warn("Rejected backfill range", zap.Error(err))
		return false
	}

	q.mu.Lock()
	if len(q.items) >= q.cfg.MaxQueueSize {
		q.mu.Unlock()
		q.logger.Warn("Backfill queue is full",
			zap.Uint64("from_slot", r.FromSlot),
			zap.Uint64("to_slot", r.ToSlot),
			zap.Int("max_queue_size", q.cfg.MaxQueueSize),
		)
		return false
	}
	for _, it := range q.items {
		if it.Range.Overlaps(r) {
			q.mu.Unlock()
			q.logger.Debug("Backfill range overlaps a queued range",
				zap.Uint64("from_slot", r.FromSlot),
				zap.Uint64("to_slot", r.ToSlot),
				zap.String("queued", it.Range.String()),
			)
			return false
		}
	}

	q.nextID++
	item := &entities.QueueItem{
		ID:        fmt.Sprintf("backfill-%d", q.nextID),
		Range:     r,
		Priority:  priority,
		CreatedAt: q.now(),
	}

	// keep priority descending, FIFO among equal priorities
	pos := len(q.items)
	for i, it := range q.items {
		if it.Priority < priority {
			pos = i
			break
		}
	}
	q.items = append(q.items, nil)
	copy(q.items[pos+1:], q.items[pos:])
	q.items[pos] = item
	snapshot := *item
	q.updateGaugesLocked()
	q.mu.Unlock()

	q.logger.Info("Queued backfill range",
		zap.String("item_id", snapshot.ID),
		zap.Uint64("from_slot", r.FromSlot),
		zap.Uint64("to_slot", r.ToSlot),
		zap.Int("priority", priority),
	)
	q.events.Publish(events.ItemQueued, BackfillItemEvent{Item: snapshot})
	return true
}

// Start begins the processing loop. Starting twice is a no-op.
func (q *BackfillQueue) Start(ctx context.Context) {
	q.loopMu.Lock()
	defer q.loopMu.Unlock()
	if q.running.Load() {
		return
	}

	loopCtx, cancel := context.WithCancel(ctx)
	q.cancel = cancel
	q.pool = pond.NewPool(q.cfg.ConcurrentProcessing)
	q.stopCh = make(chan struct{})
	q.running.Store(true)

	q.wg.Add(1)
	go q.run(loopCtx, q.stopCh)

	q.logger.Info("Backfill queue started",
		zap.Duration("interval", q.cfg.ProcessingInterval),
		zap.Int("concurrency", q.cfg.ConcurrentProcessing),
	)
}

// Stop halts the loop. In-flight items stop at their current slot and stay queued.
func (q *BackfillQueue) Stop() {
	q.loopMu.Lock()
	defer q.loopMu.Unlock()
	if !q.running.Load() {
		return
	}

	q.running.Store(false)
	close(q.stopCh)
	q.wg.Wait()
	q.cancel()
	q.inflight.Wait()
	q.pool.StopAndWait()

	q.logger.Info("Backfill queue stopped")
}

// IsRunning reports whether the processing loop is active
func (q *BackfillQueue) IsRunning() bool {
	return q.running.Load()
}

func (q *BackfillQueue) run(ctx context.Context, stopCh <-chan struct{}) {
	defer q.wg.Done()

	ticker := time.NewTicker(q.cfg.ProcessingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-stopCh:
			return
		case <-ticker.C:
			q.tick(ctx)
		}
	}
}

// tick selects ready items and hands them to the worker pool. It returns the number dispatched.
func (q *BackfillQueue) tick(ctx context.Context) int {
	if !q.running.Load() {
		return 0
	}

	healthy := q.selector.GetHealthyDataSources()

	q.mu.Lock()
	inProgress := 0
	for _, it := range q.items {
		if it.InProgress {
			inProgress++
		}
	}
	free := q.cfg.ConcurrentProcessing - inProgress
	if free <= 0 || len(q.items) == 0 {
		q.mu.Unlock()
		return 0
	}
	if len(healthy) == 0 {
		q.mu.Unlock()
		q.logger.Warn("No healthy data source for backfill")
		return 0
	}

	ds := healthy[0]
	now := q.now()
	var batch []entities.QueueItem
	for _, it := range q.items {
		if len(batch) >= free {
			break
		}
		if it.InProgress {
			continue
		}
		if !it.LastAttempt.IsZero() && now.Sub(it.LastAttempt) < q.cfg.RetryDelay {
			continue
		}
		it.InProgress = true
		it.LastAttempt = now
		it.DataSourceID = ds.ID()
		batch = append(batch, *it)
	}
	q.updateGaugesLocked()
	q.mu.Unlock()

	for _, item := range batch {
		q.inflight.Add(1)
		q.pool.Submit(func() {
			defer q.inflight.Done()
			q.processItem(ctx, item, ds)
		})
	}
	return len(batch)
}

func (q *BackfillQueue) processItem(ctx context.Context, item entities.QueueItem, ds sources.DataSource) {
	q.logger.Info("Processing backfill range",
		zap.String("item_id", item.ID),
		zap.String("source_id", ds.ID()),
		zap.Uint64("from_slot", item.Range.FromSlot),
		zap.Uint64("to_slot", item.Range.ToSlot),
		zap.Int("attempt", item.Attempts+1),
	)

	halted, err := q.processRange(ctx, item.Range, ds)
	q.finish(item, halted, err)
}

// processRange walks the range in ascending order. Fetch failures skip the slot;
// storage failures abort the range.
func (q *BackfillQueue) processRange(ctx context.Context, r entities.SlotRange, ds sources.DataSource) (halted bool, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("backfill panicked: %v", rec)
		}
	}()

	for slot := r.FromSlot; ; slot++ {
		if !q.running.Load() || ctx.Err() != nil {
			return true, nil
		}

		txs, fetchErr := ds.GetTransactionsBySlot(ctx, slot)
		if fetchErr != nil {
			q.logger.Warn("Failed to fetch slot for backfill",
				zap.String("source_id", ds.ID()),
				zap.Uint64("slot", slot),
				zap.Error(fetchErr),
			)
		} else if err := q.storeSlot(ctx, slot, txs, ds.ID()); err != nil {
			if ctx.Err() != nil {
				return true, nil
			}
			return false, err
		}

		if slot == r.ToSlot {
			return false, nil
		}
	}
}

func (q *BackfillQueue) storeSlot(ctx context.Context, slot uint64, txs []entities.RawTransaction, sourceID string) error {
	entries := make([]entities.TimeSeriesEntry, 0, len(txs))
	for _, tx := range txs {
		if q.IsProcessed(tx.Signature) {
			continue
		}
		entry, err := entities.NewTransactionEntry(tx, sourceID, entities.OriginBackfill, q.now())
		if err != nil {
			q.logger.Warn("Failed to encode transaction",
				zap.String("signature", tx.Signature),
				zap.Error(err),
			)
			continue
		}
		entries = append(entries, entry)
	}
	if len(entries) == 0 {
		return nil
	}

	if err := q.storage.InsertBatch(ctx, entities.MeasurementTransactions, entries); err != nil {
		return fmt.Errorf("failed to store slot %d: %w", slot, err)
	}
	metrics.TransactionsIngested.WithLabelValues(entities.OriginBackfill).Add(float64(len(entries)))
	return nil
}

func (q *BackfillQueue) finish(item entities.QueueItem, halted bool, err error) {
	q.mu.Lock()
	idx := q.indexLocked(item.ID)
	if idx < 0 {
		q.mu.Unlock()
		return
	}
	it := q.items[idx]

	var (
		evtType events.Type
		outcome string
	)
	switch {
	case halted:
		it.InProgress = false
	case err == nil:
		q.removeLocked(idx)
		q.completed++
		evtType, outcome = events.ItemCompleted, metrics.OutcomeCompleted
	default:
		it.Attempts++
		if it.Attempts < q.cfg.MaxAttempts {
			it.InProgress = false
			outcome = metrics.OutcomeRetried
		} else {
			q.removeLocked(idx)
			q.failed++
			evtType, outcome = events.ItemFailed, metrics.OutcomeFailed
		}
	}
	snapshot := *it
	q.updateGaugesLocked()
	q.mu.Unlock()

	if outcome != "" {
		metrics.BackfillItems.WithLabelValues(outcome).Inc()
	}

	switch outcome {
	case metrics.OutcomeCompleted:
		q.logger.Info("Backfill range completed",
			zap.String("item_id", item.ID),
			zap.Uint64("from_slot", item.Range.FromSlot),
			zap.Uint64("to_slot", item.Range.ToSlot),
		)
	case metrics.OutcomeRetried:
		q.logger.Warn("Backfill range failed, will retry",
			zap.String("item_id", item.ID),
			zap.Int("attempt", snapshot.Attempts),
			zap.Error(err),
		)
	case metrics.OutcomeFailed:
		q.logger.Error("Backfill range failed permanently",
			zap.String("item_id", item.ID),
			zap.Uint64("from_slot", item.Range.FromSlot),
			zap.Uint64("to_slot", item.Range.ToSlot),
			zap.Int("attempt", snapshot.Attempts),
			zap.Error(err),
		)
	}

	if evtType != "" {
		q.events.Publish(evtType, BackfillItemEvent{Item: snapshot, Err: err})
	}
}

func (q *BackfillQueue) indexLocked(id string) int {
	for i, it := range q.items {
		if it.ID == id {
			return i
		}
	}
	return -1
}

func (q *BackfillQueue) removeLocked(idx int) {
	q.items = append(q.items[:idx], q.items[idx+1:]...)
}

func (q *BackfillQueue) updateGaugesLocked() {
	inProgress := 0
	for _, it := range q.items {
		if it.InProgress {
			inProgress++
		}
	}
	metrics.BackfillQueueLength.Set(float64(len(q.items)))
	metrics.BackfillInProgress.Set(float64(inProgress))
}

// MarkProcessed remembers a signature ingested live so backfill does not store it again
func (q *BackfillQueue) MarkProcessed(signature string) {
	if signature == "" {
		return
	}
	q.processedMu.Lock()
	defer q.processedMu.Unlock()

	if _, ok := q.processed[signature]; ok {
		return
	}
	q.processed[signature] = struct{}{}
	q.processedOrder = append(q.processedOrder, signature)
	if len(q.processedOrder) > q.cfg.ProcessedCapacity {
		oldest := q.processedOrder[0]
		q.processedOrder = q.processedOrder[1:]
		delete(q.processed, oldest)
	}
}

// IsProcessed reports whether a signature was marked processed
func (q *BackfillQueue) IsProcessed(signature string) bool {
	q.processedMu.Lock()
	defer q.processedMu.Unlock()
	_, ok := q.processed[signature]
	return ok
}

// Items returns a snapshot of the queued items in processing order
func (q *BackfillQueue) Items() []entities.QueueItem {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]entities.QueueItem, 0, len(q.items))
	for _, it := range q.items {
		out = append(out, *it)
	}
	return out
}

// GetStatus reports queue length, progress counters and the queued slot bounds
func (q *BackfillQueue) GetStatus() entities.BackfillStatus {
	q.mu.Lock()
	defer q.mu.Unlock()

	status := entities.BackfillStatus{
		Running:     q.running.Load(),
		QueueLength: len(q.items),
		Completed:   q.completed,
		Failed:      q.failed,
	}
	for _, it := range q.items {
		if it.InProgress {
			status.InProgress++
		}
		from, to := it.Range.FromSlot, it.Range.ToSlot
		if status.MinQueuedSlot == nil || from < *status.MinQueuedSlot {
			status.MinQueuedSlot = &from
		}
		if status.MaxQueuedSlot == nil || to > *status.MaxQueuedSlot {
			status.MaxQueuedSlot = &to
		}
	}
	return status
}

// wait blocks until every dispatched item has finished
func (q *BackfillQueue) wait() {
	q.inflight.Wait()
}
