package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/bimakw/solana-ingestor/internal/application/events"
	"github.com/bimakw/solana-ingestor/internal/domain/entities"
	"github.com/bimakw/solana-ingestor/internal/testutil"
)

func setupHealthMonitorTest(priorities ...int) (*HealthMonitor, []*testutil.MockDataSource) {
	monitor := NewHealthMonitor(DefaultHealthMonitorConfig(), zap.NewNop())
	var list []*testutil.MockDataSource
	for i, p := range priorities {
		ds := testutil.NewMockDataSource(testutil.CreateTestDescriptor(
			testutil.DescriptorWithID(string(rune('a'+i))),
			testutil.DescriptorWithPriority(p),
		))
		monitor.AddDataSource(ds)
		list = append(list, ds)
	}
	return monitor, list
}

func healthyIDs(m *HealthMonitor) []string {
	var ids []string
	for _, ds := range m.GetHealthyDataSources() {
		ids = append(ids, ds.ID())
	}
	return ids
}

func TestHealthMonitor_UncheckedSourcesAreNotHealthy(t *testing.T) {
	monitor, _ := setupHealthMonitorTest(10)

	if got := monitor.GetHealthyDataSources(); len(got) != 0 {
		t.Errorf("expected no healthy sources before first check, got %d", len(got))
	}

	rec, ok := monitor.GetRecord("a")
	if !ok {
		t.Fatal("expected record for registered source")
	}
	if rec.Status != entities.HealthStatusUnknown {
		t.Errorf("expected unknown status, got %s", rec.Status)
	}
	if _, err := monitor.BestDataSource(); !errors.Is(err, ErrNoHealthySource) {
		t.Errorf("expected ErrNoHealthySource, got %v", err)
	}
}

func TestHealthMonitor_PriorityOrdering(t *testing.T) {
	monitor, list := setupHealthMonitorTest(5, 10, 1)
	ctx := context.Background()

	monitor.CheckHealth(ctx)
	ids := healthyIDs(monitor)
	if len(ids) != 3 || ids[0] != "b" || ids[1] != "a" || ids[2] != "c" {
		t.Fatalf("expected order [b a c], got %v", ids)
	}

	list[1].SetHealthy(false)
	monitor.CheckHealth(ctx)
	ids = healthyIDs(monitor)
	if len(ids) != 2 || ids[0] != "a" || ids[1] != "c" {
		t.Errorf("expected order [a c] after priority-10 source failed, got %v", ids)
	}
}

func TestHealthMonitor_AggregateStatus(t *testing.T) {
	monitor, list := setupHealthMonitorTest(10, 5, 1)
	ctx := context.Background()

	var changes []HealthChangeEvent
	monitor.Events().Subscribe(events.HealthChange, func(e events.Event) {
		changes = append(changes, e.Payload.(HealthChangeEvent))
	})

	system := monitor.CheckHealth(ctx)
	if system.Status != entities.HealthStatusHealthy {
		t.Errorf("expected healthy, got %s", system.Status)
	}
	if system.HealthySources != 3 || system.TotalSources != 3 {
		t.Errorf("unexpected counts %+v", system)
	}

	list[0].SetHealthy(false)
	system = monitor.CheckHealth(ctx)
	if system.Status != entities.HealthStatusDegraded {
		t.Errorf("expected degraded with 1 unhealthy source, got %s", system.Status)
	}

	list[1].HealthCheckFunc = func(ctx context.Context) (bool, error) {
		return false, errors.New("connection refused")
	}
	system = monitor.CheckHealth(ctx)
	if system.Status != entities.HealthStatusUnhealthy {
		t.Errorf("expected unhealthy with 2 unhealthy sources, got %s", system.Status)
	}
	if system.ConsecutiveFailures != 2 {
		t.Errorf("expected failure streak 2, got %d", system.ConsecutiveFailures)
	}

	list[0].SetHealthy(true)
	list[1].HealthCheckFunc = nil
	system = monitor.CheckHealth(ctx)
	if system.Status != entities.HealthStatusHealthy {
		t.Errorf("expected recovery to healthy, got %s", system.Status)
	}
	if system.ConsecutiveFailures != 0 {
		t.Errorf("expected failure streak reset, got %d", system.ConsecutiveFailures)
	}

	if len(changes) != 2 {
		t.Fatalf("expected 2 health change events, got %d", len(changes))
	}
	if changes[0].Current != entities.HealthStatusDegraded || changes[1].Current != entities.HealthStatusUnhealthy {
		t.Errorf("unexpected transitions %+v", changes)
	}
}

func TestHealthMonitor_RecordsFailures(t *testing.T) {
	monitor, list := setupHealthMonitorTest(10)
	ctx := context.Background()

	list[0].HealthCheckFunc = func(ctx context.Context) (bool, error) {
		return false, errors.New("timeout")
	}
	monitor.CheckHealth(ctx)
	monitor.CheckHealth(ctx)

	rec, _ := monitor.GetRecord("a")
	if rec.Status != entities.HealthStatusUnhealthy {
		t.Errorf("expected unhealthy, got %s", rec.Status)
	}
	if rec.ConsecutiveFailures != 2 || rec.ErrorCount != 2 {
		t.Errorf("expected 2 failures, got %d/%d", rec.ConsecutiveFailures, rec.ErrorCount)
	}
	if rec.LastError != "timeout" {
		t.Errorf("expected last error 'timeout', got %q", rec.LastError)
	}

	list[0].HealthCheckFunc = nil
	monitor.CheckHealth(ctx)
	rec, _ = monitor.GetRecord("a")
	if rec.ConsecutiveFailures != 0 || rec.ErrorCount != 2 {
		t.Errorf("expected streak reset and error count kept, got %d/%d", rec.ConsecutiveFailures, rec.ErrorCount)
	}
	if rec.LastActive.IsZero() {
		t.Error("expected last active to be set")
	}
}

func TestHealthMonitor_PanickingCheckCountsAsUnhealthy(t *testing.T) {
	monitor, list := setupHealthMonitorTest(10)

	list[0].HealthCheckFunc = func(ctx context.Context) (bool, error) {
		panic("adapter bug")
	}
	monitor.CheckHealth(context.Background())

	rec, _ := monitor.GetRecord("a")
	if rec.Status != entities.HealthStatusUnhealthy {
		t.Errorf("expected unhealthy, got %s", rec.Status)
	}
}

func TestHealthMonitor_RemoveDataSource(t *testing.T) {
	monitor, _ := setupHealthMonitorTest(10, 5)
	monitor.CheckHealth(context.Background())

	monitor.RemoveDataSource("a")

	if _, ok := monitor.GetRecord("a"); ok {
		t.Error("expected record to be removed")
	}
	ids := healthyIDs(monitor)
	if len(ids) != 1 || ids[0] != "b" {
		t.Errorf("expected only b, got %v", ids)
	}
}

func TestHealthMonitor_StartStopIdempotent(t *testing.T) {
	cfg := DefaultHealthMonitorConfig()
	cfg.CheckInterval = 10 * time.Millisecond
	monitor := NewHealthMonitor(cfg, zap.NewNop())
	ds := testutil.NewMockDataSource(testutil.CreateTestDescriptor())
	monitor.AddDataSource(ds)

	monitor.Stop()

	ctx := context.Background()
	monitor.Start(ctx)
	monitor.Start(ctx)
	if !monitor.IsRunning() {
		t.Fatal("expected monitor to be running")
	}

	deadline := time.Now().Add(2 * time.Second)
	for ds.CallCount("HealthCheck") == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if ds.CallCount("HealthCheck") == 0 {
		t.Error("expected periodic health check to run")
	}

	monitor.Stop()
	monitor.Stop()
	if monitor.IsRunning() {
		t.Error("expected monitor to be stopped")
	}
}
