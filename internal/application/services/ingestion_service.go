package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/bimakw/solana-ingestor/internal/application/events"
	"github.com/bimakw/solana-ingestor/internal/domain/entities"
	"github.com/bimakw/solana-ingestor/internal/domain/repositories"
	"github.com/bimakw/solana-ingestor/internal/domain/sources"
	"github.com/bimakw/solana-ingestor/internal/infrastructure/metrics"
)

const (
	maxErrorHistory = 100

	priorityConfiguredBackfill = 10
	priorityGap                = 5
	priorityBatch              = 5
	priorityRetry              = 3

	defaultSubscriptionSources = 2
)

var (
	ErrNotInitialized     = errors.New("ingestion service not initialized")
	ErrAlreadyInitialized = errors.New("ingestion service already initialized")
	ErrUnknownDataSource  = errors.New("unknown data source")
	ErrDataSourceExists   = errors.New("data source already registered")
)

// DataSourceStatus describes a configured data source
type DataSourceStatus struct {
	Descriptor entities.DataSourceDescriptor `json:"descriptor"`
	Active     bool                          `json:"active"`
	Connected  bool                          `json:"connected"`
	Health     *entities.HealthRecord        `json:"health,omitempty"`
}

// IngestionService orchestrates data sources, live polling, subscriptions and backfill
type IngestionService struct {
	health      *HealthMonitor
	factory     sources.Factory
	checkpoints repositories.SlotCheckpointRepository
	logger      *zap.Logger
	events      *events.Bus
	now         func() time.Time
	backfillCfg BackfillConfig

	mu            sync.RWMutex
	state         entities.IngestionState
	cfg           entities.IngestionConfig
	storage       repositories.HybridStorage
	backfill      *BackfillQueue
	descriptors   map[string]entities.DataSourceDescriptor
	order         []string
	active        map[string]sources.DataSource
	subscriptions map[string]string
	processors    []TransactionProcessor
	errors        []entities.IngestionError
	startedAt     *time.Time
	runCtx        context.Context
	cancelRun     context.CancelFunc

	lastProcessedSlot atomic.Uint64
	itemsProcessed    atomic.Int64
	itemsFailed       atomic.Int64

	pollMu     sync.Mutex
	pollLoopMu sync.Mutex
	pollStop   chan struct{}
	pollWG     sync.WaitGroup
}

// NewIngestionService creates a new ingestion service. checkpoints may be nil.
func NewIngestionService(
	health *HealthMonitor,
	factory sources.Factory,
	checkpoints repositories.SlotCheckpointRepository,
	logger *zap.Logger,
) *IngestionService {
	return &IngestionService{
		health:        health,
		factory:       factory,
		checkpoints:   checkpoints,
		logger:        logger,
		events:        events.NewBus("ingestion_service", logger),
		now:           time.Now,
		backfillCfg:   DefaultBackfillConfig(),
		state:         entities.StateUninitialized,
		descriptors:   make(map[string]entities.DataSourceDescriptor),
		active:        make(map[string]sources.DataSource),
		subscriptions: make(map[string]string),
	}
}

// Events returns the ingestion event registry
func (s *IngestionService) Events() *events.Bus {
	return s.events
}

// Initialize builds the backfill queue and one data source per enabled descriptor.
// Descriptors that cannot be built are skipped and recorded; the call fails only
// when the configuration is invalid or no enabled source could be built.
func (s *IngestionService) Initialize(ctx context.Context, cfg entities.IngestionConfig, storage repositories.HybridStorage) error {
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid ingestion config: %w", err)
	}
	if cfg.FallbackStrategy == "" {
		cfg.FallbackStrategy = entities.FallbackSequential
	}
	if cfg.SubscriptionSources <= 0 {
		cfg.SubscriptionSources = defaultSubscriptionSources
	}

	s.mu.Lock()
	if s.state != entities.StateUninitialized {
		s.mu.Unlock()
		return ErrAlreadyInitialized
	}
	s.cfg = cfg
	s.storage = storage
	s.backfill = NewBackfillQueue(s.backfillCfg, storage.TimeSeries(), s.health, s.logger)
	s.mu.Unlock()

	s.wireBackfillEvents()

	enabled, built := 0, 0
	for _, desc := range cfg.DataSources {
		if desc.Enabled {
			enabled++
		}
		if err := s.AddDataSource(ctx, desc); err != nil {
			s.logger.Error("Failed to initialize data source",
				zap.String("source_id", desc.ID),
				zap.Error(err),
			)
			s.recordError(fmt.Sprintf("failed to initialize data source: %v", err), desc.ID, false)
			continue
		}
		if desc.Enabled {
			built++
		}
	}
	if enabled > 0 && built == 0 {
		return fmt.Errorf("failed to initialize any of %d enabled data sources", enabled)
	}

	s.loadCheckpoint(ctx)

	s.mu.Lock()
	s.state = entities.StateInitialized
	s.mu.Unlock()

	s.logger.Info("Ingestion service initialized",
		zap.String("mode", string(cfg.Mode)),
		zap.Int("data_sources", built),
		zap.Uint64("last_processed_slot", s.lastProcessedSlot.Load()),
	)
	return nil
}

func (s *IngestionService) wireBackfillEvents() {
	s.backfill.Events().Subscribe(events.ItemFailed, func(e events.Event) {
		payload, ok := e.Payload.(BackfillItemEvent)
		if !ok {
			return
		}
		msg := fmt.Sprintf("backfill range %s failed after %d attempts", payload.Item.Range, payload.Item.Attempts)
		if payload.Err != nil {
			msg = fmt.Sprintf("%s: %v", msg, payload.Err)
		}
		s.recordError(msg, payload.Item.DataSourceID, false)
	})
	s.backfill.Events().Subscribe(events.ItemCompleted, func(e events.Event) {
		payload, ok := e.Payload.(BackfillItemEvent)
		if !ok {
			return
		}
		s.mu.RLock()
		cfg := s.cfg
		s.mu.RUnlock()
		if cfg.Mode == entities.ModeBackfill && cfg.StartSlot != nil && cfg.EndSlot != nil &&
			payload.Item.Range.FromSlot == *cfg.StartSlot && payload.Item.Range.ToSlot == *cfg.EndSlot {
			s.setBackfilling(context.Background(), false, nil, nil)
		}
	})
}

func (s *IngestionService) loadCheckpoint(ctx context.Context) {
	if s.checkpoints == nil {
		return
	}
	cp, err := s.checkpoints.Get(ctx)
	if err != nil {
		s.logger.Warn("Failed to load slot checkpoint", zap.Error(err))
		return
	}
	if cp != nil {
		s.advanceSlot(cp.LastProcessedSlot)
	}
}

// Start connects the data sources and begins ingestion in the configured mode
func (s *IngestionService) Start(ctx context.Context) error {
	s.mu.Lock()
	switch s.state {
	case entities.StateUninitialized:
		s.mu.Unlock()
		return ErrNotInitialized
	case entities.StateRunning:
		s.mu.Unlock()
		return nil
	case entities.StatePaused:
		s.mu.Unlock()
		return s.Resume(ctx)
	}
	runCtx, cancel := context.WithCancel(ctx)
	s.runCtx = runCtx
	s.cancelRun = cancel
	cfg := s.cfg
	s.mu.Unlock()

	s.logger.Info("Starting ingestion service", zap.String("mode", string(cfg.Mode)))

	s.connectAll(ctx)
	s.health.CheckHealth(ctx)
	s.health.Start(runCtx)
	s.backfill.Start(runCtx)

	switch cfg.Mode {
	case entities.ModeLive:
		s.startPolling(runCtx)
		s.subscribe(runCtx)
	case entities.ModeBackfill:
		r := entities.SlotRange{FromSlot: *cfg.StartSlot, ToSlot: *cfg.EndSlot}
		s.backfill.AddToQueue(r, priorityConfiguredBackfill)
		s.setBackfilling(ctx, true, cfg.StartSlot, cfg.EndSlot)
		s.startPolling(runCtx)
	case entities.ModeBatch:
		r := entities.SlotRange{FromSlot: *cfg.StartSlot, ToSlot: *cfg.EndSlot}
		s.backfill.AddToQueue(r, priorityBatch)
	}

	now := s.now()
	s.mu.Lock()
	s.state = entities.StateRunning
	s.startedAt = &now
	s.mu.Unlock()
	return nil
}

func (s *IngestionService) connectAll(ctx context.Context) {
	s.mu.RLock()
	list := make([]sources.DataSource, 0, len(s.active))
	for _, ds := range s.active {
		list = append(list, ds)
	}
	s.mu.RUnlock()

	g, gCtx := errgroup.WithContext(ctx)
	for _, ds := range list {
		g.Go(func() error {
			if err := ds.Connect(gCtx); err != nil {
				s.logger.Warn("Failed to connect data source",
					zap.String("source_id", ds.ID()),
					zap.Error(err),
				)
				s.recordError(fmt.Sprintf("failed to connect: %v", err), ds.ID(), true)
			}
			return nil
		})
	}
	_ = g.Wait()
}

// subscribe attaches push subscriptions to the healthiest sources
func (s *IngestionService) subscribe(ctx context.Context) {
	s.mu.RLock()
	limit := s.cfg.SubscriptionSources
	s.mu.RUnlock()

	healthy := s.health.GetHealthyDataSources()
	if len(healthy) > limit {
		healthy = healthy[:limit]
	}
	for _, ds := range healthy {
		s.subscribeSource(ctx, ds)
	}
}

func (s *IngestionService) subscribeSource(ctx context.Context, ds sources.DataSource) {
	sourceID := ds.ID()
	if reporter, ok := ds.(sources.GapReporter); ok {
		reporter.OnGap(func(gap entities.SlotRange) {
			s.queueGap(sourceID, gap)
		})
	}
	subID, err := ds.SubscribeToTransactions(ctx, func(ctx context.Context, tx entities.RawTransaction) {
		s.handleTransaction(ctx, sourceID, tx)
	})
	if err != nil {
		s.logger.Warn("Failed to subscribe to transactions",
			zap.String("source_id", sourceID),
			zap.Error(err),
		)
		s.recordError(fmt.Sprintf("failed to subscribe: %v", err), sourceID, true)
		return
	}

	s.mu.Lock()
	s.subscriptions[subID] = sourceID
	s.mu.Unlock()

	s.logger.Info("Subscribed to transactions",
		zap.String("source_id", sourceID),
		zap.String("subscription_id", subID),
	)
}

func (s *IngestionService) startPolling(ctx context.Context) {
	s.pollLoopMu.Lock()
	defer s.pollLoopMu.Unlock()
	if s.pollStop != nil {
		return
	}

	s.mu.RLock()
	interval := s.cfg.PollingInterval
	s.mu.RUnlock()
	if interval <= 0 {
		interval = 10 * time.Second
	}

	stopCh := make(chan struct{})
	s.pollStop = stopCh
	s.pollWG.Add(1)
	go func() {
		defer s.pollWG.Done()

		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-stopCh:
				return
			case <-ticker.C:
				s.pollOnce(ctx)
			}
		}
	}()
}

func (s *IngestionService) stopPolling() {
	s.pollLoopMu.Lock()
	defer s.pollLoopMu.Unlock()
	if s.pollStop == nil {
		return
	}
	close(s.pollStop)
	s.pollWG.Wait()
	s.pollStop = nil
}

// pollOnce fetches the current slot from the best source and hands any gap to the backfill queue
func (s *IngestionService) pollOnce(ctx context.Context) {
	s.pollMu.Lock()
	defer s.pollMu.Unlock()

	current, sourceID, ok := s.currentSlot(ctx)
	if !ok {
		s.logger.Warn("No data source returned the current slot")
		return
	}

	last := s.lastProcessedSlot.Load()
	if last == 0 {
		// nothing processed yet: adopt the chain head without backfilling history
		s.advanceSlot(current)
		s.saveCheckpoint(ctx)
		return
	}

	if current > last+1 {
		s.queueGap(sourceID, entities.SlotRange{FromSlot: last + 1, ToSlot: current - 1})
	}

	s.advanceSlot(current)
	s.saveCheckpoint(ctx)
}

// queueGap hands a slot range that was never ingested to the backfill queue
func (s *IngestionService) queueGap(sourceID string, gap entities.SlotRange) {
	s.mu.RLock()
	backfill := s.backfill
	s.mu.RUnlock()

	if backfill.AddToQueue(gap, priorityGap) {
		metrics.GapsDetected.Inc()
		s.logger.Info("Detected slot gap",
			zap.String("source_id", sourceID),
			zap.Uint64("from_slot", gap.FromSlot),
			zap.Uint64("to_slot", gap.ToSlot),
		)
	}
}

// currentSlot asks healthy sources in priority order until one answers
func (s *IngestionService) currentSlot(ctx context.Context) (uint64, string, bool) {
	for _, ds := range s.health.GetHealthyDataSources() {
		slot, err := ds.GetSlot(ctx)
		if err != nil {
			s.logger.Warn("Failed to get slot, trying next source",
				zap.String("source_id", ds.ID()),
				zap.Error(err),
			)
			s.recordError(fmt.Sprintf("failed to get slot: %v", err), ds.ID(), true)
			continue
		}
		return slot, ds.ID(), true
	}
	return 0, "", false
}

// advanceSlot raises the last processed slot, never lowering it
func (s *IngestionService) advanceSlot(slot uint64) {
	for {
		cur := s.lastProcessedSlot.Load()
		if slot <= cur {
			return
		}
		if s.lastProcessedSlot.CompareAndSwap(cur, slot) {
			metrics.LastProcessedSlot.Set(float64(slot))
			return
		}
	}
}

func (s *IngestionService) saveCheckpoint(ctx context.Context) {
	if s.checkpoints == nil {
		return
	}
	if err := s.checkpoints.UpdateLastSlot(ctx, s.lastProcessedSlot.Load()); err != nil {
		s.logger.Warn("Failed to save slot checkpoint", zap.Error(err))
	}
}

func (s *IngestionService) setBackfilling(ctx context.Context, on bool, from, to *uint64) {
	if s.checkpoints == nil {
		return
	}
	if err := s.checkpoints.SetBackfilling(ctx, on, from, to); err != nil {
		s.logger.Warn("Failed to save backfill state", zap.Error(err))
	}
}

// handleTransaction stores a pushed transaction and dispatches it to the processors
func (s *IngestionService) handleTransaction(ctx context.Context, sourceID string, tx entities.RawTransaction) {
	s.mu.RLock()
	storage := s.storage
	backfill := s.backfill
	processors := make([]TransactionProcessor, len(s.processors))
	copy(processors, s.processors)
	s.mu.RUnlock()

	entry, err := entities.NewTransactionEntry(tx, sourceID, entities.OriginLive, s.now())
	if err == nil {
		err = storage.TimeSeries().Insert(ctx, entities.MeasurementTransactions, entry)
	}
	if err != nil {
		s.itemsFailed.Add(1)
		metrics.IngestionFailures.Inc()
		s.logger.Error("Failed to store transaction, queueing slot for retry",
			zap.String("source_id", sourceID),
			zap.String("signature", tx.Signature),
			zap.Uint64("slot", tx.Slot),
			zap.Error(err),
		)
		s.recordError(fmt.Sprintf("failed to store transaction %s: %v", tx.Signature, err), sourceID, true)
		backfill.AddToQueue(entities.SlotRange{FromSlot: tx.Slot, ToSlot: tx.Slot}, priorityRetry)
		return
	}
	metrics.TransactionsIngested.WithLabelValues(entities.OriginLive).Inc()

	for _, p := range processors {
		s.runProcessor(ctx, p, tx)
	}

	backfill.MarkProcessed(tx.Signature)
	// a push that jumps ahead of the last slot leaves the slots in between to backfill
	if last := s.lastProcessedSlot.Load(); last != 0 && tx.Slot > last+1 {
		s.queueGap(sourceID, entities.SlotRange{FromSlot: last + 1, ToSlot: tx.Slot - 1})
	}
	s.advanceSlot(tx.Slot)
	s.itemsProcessed.Add(1)
	s.events.Publish(events.TransactionProcessed, tx)
}

func (s *IngestionService) runProcessor(ctx context.Context, p TransactionProcessor, tx entities.RawTransaction) {
	name := processorName(p)
	defer func() {
		if r := recover(); r != nil {
			metrics.ProcessorErrors.WithLabelValues(name).Inc()
			s.logger.Error("Transaction processor panicked",
				zap.String("processor", name),
				zap.String("signature", tx.Signature),
				zap.String("panic", fmt.Sprint(r)),
			)
		}
	}()

	if err := p.ProcessTransaction(ctx, tx); err != nil {
		metrics.ProcessorErrors.WithLabelValues(name).Inc()
		s.logger.Warn("Transaction processor failed",
			zap.String("processor", name),
			zap.String("signature", tx.Signature),
			zap.Error(err),
		)
	}
}

// RegisterProcessor adds a processor; processors run in registration order
func (s *IngestionService) RegisterProcessor(p TransactionProcessor) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.processors = append(s.processors, p)
}

// Pause stops polling and backfill ticking while keeping connections and subscriptions
func (s *IngestionService) Pause() error {
	s.mu.Lock()
	if s.state != entities.StateRunning {
		state := s.state
		s.mu.Unlock()
		if state == entities.StatePaused {
			return nil
		}
		return fmt.Errorf("cannot pause ingestion in state %s", state)
	}
	s.state = entities.StatePaused
	s.mu.Unlock()

	s.stopPolling()
	s.backfill.Stop()

	s.logger.Info("Ingestion paused")
	return nil
}

// Resume restarts polling and backfill. When not running it behaves like Start.
func (s *IngestionService) Resume(ctx context.Context) error {
	s.mu.Lock()
	switch s.state {
	case entities.StateRunning:
		s.mu.Unlock()
		return nil
	case entities.StatePaused:
	default:
		s.mu.Unlock()
		return s.Start(ctx)
	}
	s.state = entities.StateRunning
	runCtx := s.runCtx
	mode := s.cfg.Mode
	s.mu.Unlock()

	s.backfill.Start(runCtx)
	if mode != entities.ModeBatch {
		s.startPolling(runCtx)
	}

	s.logger.Info("Ingestion resumed")
	return nil
}

// Stop halts polling, unsubscribes everywhere and stops the backfill queue
func (s *IngestionService) Stop(ctx context.Context) {
	s.mu.Lock()
	if s.state != entities.StateRunning && s.state != entities.StatePaused {
		s.mu.Unlock()
		return
	}
	subs := s.subscriptions
	s.subscriptions = make(map[string]string)
	s.mu.Unlock()

	s.logger.Info("Stopping ingestion service")

	s.stopPolling()
	for subID, sourceID := range subs {
		s.unsubscribe(ctx, sourceID, subID)
	}
	s.backfill.Stop()
	s.health.Stop()

	s.mu.Lock()
	if s.cancelRun != nil {
		s.cancelRun()
	}
	s.state = entities.StateStopped
	s.mu.Unlock()

	s.logger.Info("Ingestion service stopped",
		zap.Uint64("last_processed_slot", s.lastProcessedSlot.Load()),
		zap.Int64("items_processed", s.itemsProcessed.Load()),
	)
}

// Close disconnects every data source
func (s *IngestionService) Close(ctx context.Context) {
	s.mu.RLock()
	list := make([]sources.DataSource, 0, len(s.active))
	for _, ds := range s.active {
		list = append(list, ds)
	}
	s.mu.RUnlock()

	for _, ds := range list {
		if err := ds.Disconnect(ctx); err != nil {
			s.logger.Warn("Failed to disconnect data source",
				zap.String("source_id", ds.ID()),
				zap.Error(err),
			)
		}
	}
}

func (s *IngestionService) unsubscribe(ctx context.Context, sourceID, subID string) {
	s.mu.RLock()
	ds, ok := s.active[sourceID]
	s.mu.RUnlock()
	if !ok {
		return
	}
	if err := ds.UnsubscribeFromTransactions(ctx, subID); err != nil {
		s.logger.Warn("Failed to unsubscribe",
			zap.String("source_id", sourceID),
			zap.String("subscription_id", subID),
			zap.Error(err),
		)
	}
}

// AddDataSource registers a descriptor and, when enabled, activates it
func (s *IngestionService) AddDataSource(ctx context.Context, desc entities.DataSourceDescriptor) error {
	if err := desc.Validate(); err != nil {
		return err
	}

	s.mu.Lock()
	if _, exists := s.descriptors[desc.ID]; exists {
		s.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrDataSourceExists, desc.ID)
	}
	s.mu.Unlock()

	var ds sources.DataSource
	if desc.Enabled {
		var err error
		if ds, err = s.factory(desc); err != nil {
			return fmt.Errorf("failed to create data source %s: %w", desc.ID, err)
		}
	}

	s.mu.Lock()
	s.descriptors[desc.ID] = desc
	s.order = append(s.order, desc.ID)
	running := s.state == entities.StateRunning || s.state == entities.StatePaused
	s.mu.Unlock()

	if ds == nil {
		return nil
	}
	return s.activate(ctx, ds, running)
}

// RemoveDataSource deactivates a source and forgets its descriptor
func (s *IngestionService) RemoveDataSource(ctx context.Context, id string) error {
	if err := s.DisableDataSource(ctx, id); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.descriptors, id)
	for i, v := range s.order {
		if v == id {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
	return nil
}

// EnableDataSource builds, connects and registers a configured source
func (s *IngestionService) EnableDataSource(ctx context.Context, id string) error {
	s.mu.Lock()
	desc, ok := s.descriptors[id]
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrUnknownDataSource, id)
	}
	if _, active := s.active[id]; active {
		s.mu.Unlock()
		return nil
	}
	desc.Enabled = true
	s.descriptors[id] = desc
	s.mu.Unlock()

	ds, err := s.factory(desc)
	if err != nil {
		return fmt.Errorf("failed to create data source %s: %w", id, err)
	}
	return s.activate(ctx, ds, true)
}

// DisableDataSource unsubscribes, disconnects and unregisters a source
func (s *IngestionService) DisableDataSource(ctx context.Context, id string) error {
	s.mu.Lock()
	desc, ok := s.descriptors[id]
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrUnknownDataSource, id)
	}
	desc.Enabled = false
	s.descriptors[id] = desc
	ds, active := s.active[id]
	delete(s.active, id)
	var subs []string
	for subID, sourceID := range s.subscriptions {
		if sourceID == id {
			subs = append(subs, subID)
			delete(s.subscriptions, subID)
		}
	}
	s.mu.Unlock()

	if !active {
		return nil
	}

	for _, subID := range subs {
		if err := ds.UnsubscribeFromTransactions(ctx, subID); err != nil {
			s.logger.Warn("Failed to unsubscribe",
				zap.String("source_id", id),
				zap.String("subscription_id", subID),
				zap.Error(err),
			)
		}
	}
	if err := ds.Disconnect(ctx); err != nil {
		s.logger.Warn("Failed to disconnect data source", zap.String("source_id", id), zap.Error(err))
	}
	s.health.RemoveDataSource(id)

	s.logger.Info("Data source disabled", zap.String("source_id", id))
	return nil
}

func (s *IngestionService) activate(ctx context.Context, ds sources.DataSource, connect bool) error {
	if connect {
		if err := ds.Connect(ctx); err != nil {
			return fmt.Errorf("failed to connect data source %s: %w", ds.ID(), err)
		}
	}

	s.mu.Lock()
	s.active[ds.ID()] = ds
	s.mu.Unlock()
	s.health.AddDataSource(ds)

	s.logger.Info("Data source enabled",
		zap.String("source_id", ds.ID()),
		zap.String("type", string(ds.Descriptor().Type)),
		zap.Int("priority", ds.Descriptor().Priority),
	)
	return nil
}

// EnqueueBackfill queues a slot range explicitly
func (s *IngestionService) EnqueueBackfill(r entities.SlotRange, priority int) (bool, error) {
	s.mu.RLock()
	backfill := s.backfill
	s.mu.RUnlock()
	if backfill == nil {
		return false, ErrNotInitialized
	}
	return backfill.AddToQueue(r, priority), nil
}

// DataSources returns every configured source in registration order
func (s *IngestionService) DataSources() []DataSourceStatus {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]DataSourceStatus, 0, len(s.order))
	for _, id := range s.order {
		st := DataSourceStatus{Descriptor: s.descriptors[id]}
		if ds, ok := s.active[id]; ok {
			st.Active = true
			st.Connected = ds.IsConnected()
		}
		if rec, ok := s.health.GetRecord(id); ok {
			st.Health = &rec
		}
		out = append(out, st)
	}
	return out
}

func (s *IngestionService) recordError(msg, sourceID string, recoverable bool) {
	rec := entities.IngestionError{
		Timestamp:   s.now(),
		Message:     msg,
		SourceID:    sourceID,
		Recoverable: recoverable,
	}

	s.mu.Lock()
	s.errors = append(s.errors, rec)
	if len(s.errors) > maxErrorHistory {
		s.errors = s.errors[len(s.errors)-maxErrorHistory:]
	}
	s.mu.Unlock()

	s.events.Publish(events.Error, rec)
}

// LastProcessedSlot returns the highest slot seen by polling or live ingestion
func (s *IngestionService) LastProcessedSlot() uint64 {
	return s.lastProcessedSlot.Load()
}

// GetStatus returns the externally visible state of the service
func (s *IngestionService) GetStatus() entities.IngestionStatus {
	s.mu.RLock()
	status := entities.IngestionStatus{
		State:             s.state,
		Mode:              s.cfg.Mode,
		Running:           s.state == entities.StateRunning,
		Paused:            s.state == entities.StatePaused,
		LastProcessedSlot: s.lastProcessedSlot.Load(),
		ItemsProcessed:    s.itemsProcessed.Load(),
		ItemsFailed:       s.itemsFailed.Load(),
		ActiveSources:     len(s.active),
		Subscriptions:     len(s.subscriptions),
		StartedAt:         s.startedAt,
		Errors:            make([]entities.IngestionError, len(s.errors)),
	}
	copy(status.Errors, s.errors)
	backfill := s.backfill
	s.mu.RUnlock()

	status.HealthySources = len(s.health.GetHealthyDataSources())
	if backfill != nil {
		status.Backfill = backfill.GetStatus()
	}
	return status
}
