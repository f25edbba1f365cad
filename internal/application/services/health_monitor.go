package services

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/puzpuzpuz/xsync/v4"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/bimakw/solana-ingestor/internal/application/events"
	"github.com/bimakw/solana-ingestor/internal/domain/entities"
	"github.com/bimakw/solana-ingestor/internal/domain/sources"
	"github.com/bimakw/solana-ingestor/internal/infrastructure/metrics"
)

// HealthMonitorConfig tunes the health monitor
type HealthMonitorConfig struct {
	CheckInterval      time.Duration
	CheckTimeout       time.Duration
	DegradedThreshold  int
	UnhealthyThreshold int
}

// DefaultHealthMonitorConfig returns the default tuning
func DefaultHealthMonitorConfig() HealthMonitorConfig {
	return HealthMonitorConfig{
		CheckInterval:      30 * time.Second,
		CheckTimeout:       10 * time.Second,
		DegradedThreshold:  1,
		UnhealthyThreshold: 2,
	}
}

// HealthChangeEvent is the payload of a health change notification
type HealthChangeEvent struct {
	Previous entities.HealthStatus
	Current  entities.HealthStatus
	Metrics  entities.SystemHealthMetrics
}

// HealthMonitor periodically probes registered data sources
type HealthMonitor struct {
	cfg     HealthMonitorConfig
	logger  *zap.Logger
	events  *events.Bus
	sources *xsync.Map[string, sources.DataSource]
	records *xsync.Map[string, entities.HealthRecord]
	now     func() time.Time

	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
	wg      sync.WaitGroup
	system  entities.SystemHealthMetrics
}

// NewHealthMonitor creates a new health monitor
func NewHealthMonitor(cfg HealthMonitorConfig, logger *zap.Logger) *HealthMonitor {
	def := DefaultHealthMonitorConfig()
	if cfg.CheckInterval <= 0 {
		cfg.CheckInterval = def.CheckInterval
	}
	if cfg.CheckTimeout <= 0 {
		cfg.CheckTimeout = def.CheckTimeout
	}
	if cfg.DegradedThreshold <= 0 {
		cfg.DegradedThreshold = def.DegradedThreshold
	}
	if cfg.UnhealthyThreshold <= 0 {
		cfg.UnhealthyThreshold = def.UnhealthyThreshold
	}

	return &HealthMonitor{
		cfg:     cfg,
		logger:  logger,
		events:  events.NewBus("health_monitor", logger),
		sources: xsync.NewMap[string, sources.DataSource](),
		records: xsync.NewMap[string, entities.HealthRecord](),
		now:     time.Now,
		system:  entities.SystemHealthMetrics{Status: entities.HealthStatusUnknown},
	}
}

// Events returns the health event registry
func (m *HealthMonitor) Events() *events.Bus {
	return m.events
}

// AddDataSource registers a source with an unknown health record
func (m *HealthMonitor) AddDataSource(ds sources.DataSource) {
	m.sources.Store(ds.ID(), ds)
	m.records.Store(ds.ID(), entities.NewHealthRecord(ds.ID()))
	metrics.DataSourceHealth.WithLabelValues(ds.ID()).Set(0)

	m.logger.Info("Registered data source for health monitoring",
		zap.String("source_id", ds.ID()),
		zap.Int("priority", ds.Descriptor().Priority),
	)
}

// RemoveDataSource unregisters a source and drops its record
func (m *HealthMonitor) RemoveDataSource(id string) {
	m.sources.Delete(id)
	m.records.Delete(id)
	metrics.DataSourceHealth.DeleteLabelValues(id)
}

// Start begins periodic health checks. Starting twice is a no-op.
func (m *HealthMonitor) Start(ctx context.Context) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.running {
		return
	}
	m.running = true
	m.stopCh = make(chan struct{})

	m.wg.Add(1)
	go m.run(ctx, m.stopCh)

	m.logger.Info("Health monitor started", zap.Duration("interval", m.cfg.CheckInterval))
}

// Stop ends periodic health checks. Stopping when not started is a no-op.
func (m *HealthMonitor) Stop() {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return
	}
	m.running = false
	close(m.stopCh)
	m.mu.Unlock()

	m.wg.Wait()
	m.logger.Info("Health monitor stopped")
}

// IsRunning reports whether periodic checks are active
func (m *HealthMonitor) IsRunning() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.running
}

func (m *HealthMonitor) run(ctx context.Context, stopCh <-chan struct{}) {
	defer m.wg.Done()

	ticker := time.NewTicker(m.cfg.CheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-stopCh:
			return
		case <-ticker.C:
			m.CheckHealth(ctx)
		}
	}
}

// CheckHealth probes every registered source concurrently and recomputes the aggregate status
func (m *HealthMonitor) CheckHealth(ctx context.Context) entities.SystemHealthMetrics {
	var list []sources.DataSource
	m.sources.Range(func(_ string, ds sources.DataSource) bool {
		list = append(list, ds)
		return true
	})

	g, gCtx := errgroup.WithContext(ctx)
	for _, ds := range list {
		g.Go(func() error {
			m.probe(gCtx, ds)
			return nil
		})
	}
	_ = g.Wait()

	return m.aggregate()
}

func (m *HealthMonitor) probe(ctx context.Context, ds sources.DataSource) {
	checkCtx, cancel := context.WithTimeout(ctx, m.cfg.CheckTimeout)
	defer cancel()

	healthy, err := m.safeHealthCheck(checkCtx, ds)
	now := m.now()

	m.records.Compute(ds.ID(), func(rec entities.HealthRecord, loaded bool) (entities.HealthRecord, xsync.ComputeOp) {
		if !loaded {
			// removed while the probe was in flight
			return rec, xsync.CancelOp
		}
		rec.LastChecked = now
		if err == nil && healthy {
			rec.Status = entities.HealthStatusHealthy
			rec.ConsecutiveFailures = 0
			rec.LastActive = now
			return rec, xsync.UpdateOp
		}

		rec.Status = entities.HealthStatusUnhealthy
		rec.ConsecutiveFailures++
		rec.ErrorCount++
		if err != nil {
			rec.LastError = err.Error()
		} else {
			rec.LastError = "health check reported unhealthy"
		}
		return rec, xsync.UpdateOp
	})

	if rec, ok := m.records.Load(ds.ID()); ok {
		metrics.DataSourceHealth.WithLabelValues(ds.ID()).Set(metrics.HealthValue(string(rec.Status)))
		if rec.Status != entities.HealthStatusHealthy {
			m.logger.Warn("Data source health check failed",
				zap.String("source_id", ds.ID()),
				zap.Int("consecutive_failures", rec.ConsecutiveFailures),
				zap.Error(err),
			)
		}
	}
}

// safeHealthCheck turns a panicking adapter into a failed check
func (m *HealthMonitor) safeHealthCheck(ctx context.Context, ds sources.DataSource) (healthy bool, err error) {
	defer func() {
		if r := recover(); r != nil {
			healthy = false
			err = fmt.Errorf("health check panicked: %v", r)
		}
	}()
	return ds.HealthCheck(ctx)
}

func (m *HealthMonitor) aggregate() entities.SystemHealthMetrics {
	snapshot := entities.SystemHealthMetrics{
		LastCheck: m.now(),
		Sources:   make(map[string]entities.HealthRecord),
	}
	m.records.Range(func(id string, rec entities.HealthRecord) bool {
		snapshot.Sources[id] = rec
		snapshot.TotalSources++
		switch rec.Status {
		case entities.HealthStatusHealthy:
			snapshot.HealthySources++
		case entities.HealthStatusUnhealthy:
			snapshot.UnhealthySources++
		}
		return true
	})

	m.mu.Lock()
	previous := m.system.Status
	switch {
	case snapshot.UnhealthySources == 0:
		snapshot.Status = entities.HealthStatusHealthy
		snapshot.ConsecutiveFailures = 0
	case snapshot.UnhealthySources >= m.cfg.UnhealthyThreshold:
		snapshot.Status = entities.HealthStatusUnhealthy
		snapshot.ConsecutiveFailures = m.system.ConsecutiveFailures + 1
	case snapshot.UnhealthySources >= m.cfg.DegradedThreshold:
		snapshot.Status = entities.HealthStatusDegraded
		snapshot.ConsecutiveFailures = m.system.ConsecutiveFailures + 1
	default:
		snapshot.Status = entities.HealthStatusHealthy
	}
	m.system = snapshot
	m.mu.Unlock()

	if snapshot.Status != previous &&
		(snapshot.Status == entities.HealthStatusDegraded || snapshot.Status == entities.HealthStatusUnhealthy) {
		m.logger.Warn("System health changed",
			zap.String("previous", string(previous)),
			zap.String("current", string(snapshot.Status)),
			zap.Int("unhealthy_sources", snapshot.UnhealthySources),
		)
		m.events.Publish(events.HealthChange, HealthChangeEvent{
			Previous: previous,
			Current:  snapshot.Status,
			Metrics:  snapshot,
		})
	}

	return snapshot
}

// GetSystemHealth returns the aggregate computed by the last check
func (m *HealthMonitor) GetSystemHealth() entities.SystemHealthMetrics {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := m.system
	out.Sources = make(map[string]entities.HealthRecord, len(m.system.Sources))
	for k, v := range m.system.Sources {
		out.Sources[k] = v
	}
	return out
}

// GetRecord returns the health record of a source
func (m *HealthMonitor) GetRecord(id string) (entities.HealthRecord, bool) {
	return m.records.Load(id)
}

// GetHealthyDataSources returns the healthy sources ordered by priority, highest first.
// Sources not yet checked are never returned.
func (m *HealthMonitor) GetHealthyDataSources() []sources.DataSource {
	var out []sources.DataSource
	m.sources.Range(func(id string, ds sources.DataSource) bool {
		if rec, ok := m.records.Load(id); ok && rec.Status == entities.HealthStatusHealthy {
			out = append(out, ds)
		}
		return true
	})
	sortByPriorityThenID(out)
	return out
}

// BestDataSource returns the highest priority healthy source
func (m *HealthMonitor) BestDataSource() (sources.DataSource, error) {
	healthy := m.GetHealthyDataSources()
	if len(healthy) == 0 {
		return nil, ErrNoHealthySource
	}
	return healthy[0], nil
}

// ErrNoHealthySource is returned when every registered source is unhealthy or unchecked
var ErrNoHealthySource = errors.New("no healthy data source available")

// sortByPriorityThenID gives map-ordered input a deterministic order on equal priority
func sortByPriorityThenID(list []sources.DataSource) {
	sort.Slice(list, func(i, j int) bool { return lessSource(list[i], list[j]) })
}

func lessSource(a, b sources.DataSource) bool {
	pa, pb := a.Descriptor().Priority, b.Descriptor().Priority
	if pa != pb {
		return pa > pb
	}
	return a.ID() < b.ID()
}
