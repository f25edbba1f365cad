package storage

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/bimakw/solana-ingestor/internal/domain/repositories"
)

// Ensure Hybrid implements HybridStorage
var _ repositories.HybridStorage = (*Hybrid)(nil)

// HealthChecker is implemented by backends that can be probed
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// Hybrid is the facade over a time-series store and a graph store
type Hybrid struct {
	timeSeries repositories.TimeSeriesStore
	graph      repositories.GraphStore
	closers    []func() error
	logger     *zap.Logger
}

// NewHybrid pairs the two stores. closers run on Close in order.
func NewHybrid(ts repositories.TimeSeriesStore, graph repositories.GraphStore, logger *zap.Logger, closers ...func() error) *Hybrid {
	return &Hybrid{
		timeSeries: ts,
		graph:      graph,
		closers:    closers,
		logger:     logger,
	}
}

// NewMemoryHybrid returns hybrid storage backed by the in-memory reference stores
func NewMemoryHybrid(logger *zap.Logger) *Hybrid {
	return NewHybrid(NewMemoryTimeSeries(), NewMemoryGraph(), logger)
}

func (h *Hybrid) TimeSeries() repositories.TimeSeriesStore {
	return h.timeSeries
}

func (h *Hybrid) Graph() repositories.GraphStore {
	return h.graph
}

// HealthCheck probes every backend that supports it
func (h *Hybrid) HealthCheck(ctx context.Context) error {
	var errs []error
	if hc, ok := h.timeSeries.(HealthChecker); ok {
		if err := hc.HealthCheck(ctx); err != nil {
			errs = append(errs, fmt.Errorf("time-series: %w", err))
		}
	}
	if hc, ok := h.graph.(HealthChecker); ok {
		if err := hc.HealthCheck(ctx); err != nil {
			errs = append(errs, fmt.Errorf("graph: %w", err))
		}
	}
	return errors.Join(errs...)
}

// Close releases the backends
func (h *Hybrid) Close() error {
	var errs []error
	for _, c := range h.closers {
		if err := c(); err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		h.logger.Warn("Failed to close storage cleanly", zap.Error(errors.Join(errs...)))
	}
	return errors.Join(errs...)
}

// availability lets the in-memory stores simulate an unreachable backend
type availability struct {
	down atomic.Bool
}

func newAvailability() *availability {
	return &availability{}
}

func (a *availability) set(ok bool) {
	a.down.Store(!ok)
}

func (a *availability) check(op string) error {
	if a.down.Load() {
		return repositories.NewStorageError(op, repositories.ErrStorageUnavailable)
	}
	return nil
}

// HealthCheck reports the simulated availability of the in-memory store
func (s *MemoryTimeSeries) HealthCheck(ctx context.Context) error {
	return s.avail.check("health_check")
}

// HealthCheck reports the simulated availability of the in-memory store
func (g *MemoryGraph) HealthCheck(ctx context.Context) error {
	return g.avail.check("health_check")
}
