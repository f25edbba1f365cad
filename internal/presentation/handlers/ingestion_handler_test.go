package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/bimakw/solana-ingestor/internal/application/services"
	"github.com/bimakw/solana-ingestor/internal/domain/entities"
	"github.com/bimakw/solana-ingestor/internal/domain/sources"
	"github.com/bimakw/solana-ingestor/internal/infrastructure/storage"
	"github.com/bimakw/solana-ingestor/internal/testutil"
)

type ingestionHandlerTest struct {
	router  chi.Router
	service *services.IngestionService
	built   map[string]*testutil.MockDataSource
}

func setupIngestionHandlerTest(t *testing.T, descriptors ...entities.DataSourceDescriptor) *ingestionHandlerTest {
	t.Helper()
	logger := zap.NewNop()
	ht := &ingestionHandlerTest{built: make(map[string]*testutil.MockDataSource)}

	factory := func(desc entities.DataSourceDescriptor) (sources.DataSource, error) {
		ds := testutil.NewMockDataSource(desc)
		ht.built[desc.ID] = ds
		return ds, nil
	}

	healthCfg := services.DefaultHealthMonitorConfig()
	healthCfg.CheckInterval = time.Hour
	monitor := services.NewHealthMonitor(healthCfg, logger)
	ht.service = services.NewIngestionService(monitor, factory, nil, logger)

	if len(descriptors) == 0 {
		descriptors = []entities.DataSourceDescriptor{testutil.CreateTestDescriptor()}
	}
	err := ht.service.Initialize(context.Background(), entities.IngestionConfig{
		Mode:            entities.ModeLive,
		PollingInterval: time.Hour,
		DataSources:     descriptors,
	}, storage.NewMemoryHybrid(logger))
	if err != nil {
		t.Fatalf("failed to initialize: %v", err)
	}
	t.Cleanup(func() {
		ht.service.Stop(context.Background())
		ht.service.Close(context.Background())
	})

	ht.router = chi.NewRouter()
	NewIngestionHandler(ht.service, monitor, logger).RegisterRoutes(ht.router)
	return ht
}

func (ht *ingestionHandlerTest) do(method, path, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
	}
	rec := httptest.NewRecorder()
	ht.router.ServeHTTP(rec, req)
	return rec
}

func TestIngestionHandler_GetStatus(t *testing.T) {
	ht := setupIngestionHandlerTest(t)

	rec := ht.do(http.MethodGet, "/status", "")

	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rec.Code)
	}

	var status entities.IngestionStatus
	if err := json.NewDecoder(rec.Body).Decode(&status); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if status.State != entities.StateInitialized {
		t.Errorf("expected state initialized, got %s", status.State)
	}
	if status.Mode != entities.ModeLive {
		t.Errorf("expected mode live, got %s", status.Mode)
	}
	if status.ActiveSources != 1 {
		t.Errorf("expected 1 active source, got %d", status.ActiveSources)
	}
}

func TestIngestionHandler_GetSources(t *testing.T) {
	ht := setupIngestionHandlerTest(t,
		testutil.CreateTestDescriptor(),
		testutil.CreateTestDescriptor(testutil.DescriptorWithID("standby"), testutil.DescriptorWithEnabled(false)),
	)

	rec := ht.do(http.MethodGet, "/sources", "")

	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rec.Code)
	}

	var response SourcesResponse
	if err := json.NewDecoder(rec.Body).Decode(&response); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if response.Total != 2 {
		t.Fatalf("expected 2 sources, got %d", response.Total)
	}
	if response.Sources[0].Descriptor.ID != "primary" || !response.Sources[0].Active {
		t.Errorf("expected primary to be active, got %+v", response.Sources[0])
	}
	if response.Sources[1].Descriptor.ID != "standby" || response.Sources[1].Active {
		t.Errorf("expected standby to be inactive, got %+v", response.Sources[1])
	}
}

func TestIngestionHandler_GetSystemHealth(t *testing.T) {
	ht := setupIngestionHandlerTest(t)

	rec := ht.do(http.MethodGet, "/health", "")

	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rec.Code)
	}

	var metrics entities.SystemHealthMetrics
	if err := json.NewDecoder(rec.Body).Decode(&metrics); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
}

func TestIngestionHandler_EnableDisableSource(t *testing.T) {
	ht := setupIngestionHandlerTest(t,
		testutil.CreateTestDescriptor(),
		testutil.CreateTestDescriptor(testutil.DescriptorWithID("standby"), testutil.DescriptorWithEnabled(false)),
	)

	rec := ht.do(http.MethodPost, "/sources/standby/enable", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rec.Code, rec.Body.String())
	}
	ds, ok := ht.built["standby"]
	if !ok {
		t.Fatal("expected standby source to be built")
	}
	if !ds.IsConnected() {
		t.Error("expected enabled source to be connected")
	}

	rec = ht.do(http.MethodPost, "/sources/standby/disable", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rec.Code)
	}
	if ds.IsConnected() {
		t.Error("expected disabled source to be disconnected")
	}
	if got := ht.service.GetStatus().ActiveSources; got != 1 {
		t.Errorf("expected 1 active source, got %d", got)
	}
}

func TestIngestionHandler_EnableSource_NotFound(t *testing.T) {
	ht := setupIngestionHandlerTest(t)

	for _, path := range []string{"/sources/missing/enable", "/sources/missing/disable"} {
		rec := ht.do(http.MethodPost, path, "")
		if rec.Code != http.StatusNotFound {
			t.Errorf("%s: expected status 404, got %d", path, rec.Code)
		}
	}
}

func TestIngestionHandler_EnableSource_ConnectFailure(t *testing.T) {
	logger := zap.NewNop()
	monitor := services.NewHealthMonitor(services.DefaultHealthMonitorConfig(), logger)
	svc := services.NewIngestionService(monitor, func(desc entities.DataSourceDescriptor) (sources.DataSource, error) {
		ds := testutil.NewMockDataSource(desc)
		if desc.ID == "standby" {
			ds.ConnectFunc = func(ctx context.Context) error { return errors.New("connection refused") }
		}
		return ds, nil
	}, nil, logger)
	err := svc.Initialize(context.Background(), entities.IngestionConfig{
		Mode:            entities.ModeLive,
		PollingInterval: time.Hour,
		DataSources: []entities.DataSourceDescriptor{
			testutil.CreateTestDescriptor(),
			testutil.CreateTestDescriptor(testutil.DescriptorWithID("standby"), testutil.DescriptorWithEnabled(false)),
		},
	}, storage.NewMemoryHybrid(logger))
	if err != nil {
		t.Fatalf("failed to initialize: %v", err)
	}
	defer svc.Close(context.Background())

	r := chi.NewRouter()
	NewIngestionHandler(svc, monitor, logger).RegisterRoutes(r)

	req := httptest.NewRequest(http.MethodPost, "/sources/standby/enable", nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadGateway {
		t.Errorf("expected status 502, got %d", rec.Code)
	}
}

func TestIngestionHandler_EnqueueBackfill(t *testing.T) {
	ht := setupIngestionHandlerTest(t)

	rec := ht.do(http.MethodPost, "/backfill", `{"from_slot":100,"to_slot":200,"priority":7}`)

	if rec.Code != http.StatusAccepted {
		t.Fatalf("expected status 202, got %d: %s", rec.Code, rec.Body.String())
	}

	var response BackfillResponse
	if err := json.NewDecoder(rec.Body).Decode(&response); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if !response.Queued || response.Priority != 7 {
		t.Errorf("unexpected response %+v", response)
	}
	if response.Range.FromSlot != 100 || response.Range.ToSlot != 200 {
		t.Errorf("unexpected range %v", response.Range)
	}

	backfill := ht.service.GetStatus().Backfill
	if backfill.QueueLength != 1 {
		t.Errorf("expected 1 queued item, got %d", backfill.QueueLength)
	}
}

func TestIngestionHandler_EnqueueBackfill_DefaultPriority(t *testing.T) {
	ht := setupIngestionHandlerTest(t)

	rec := ht.do(http.MethodPost, "/backfill", `{"from_slot":0,"to_slot":0}`)

	if rec.Code != http.StatusAccepted {
		t.Fatalf("expected status 202, got %d", rec.Code)
	}

	var response BackfillResponse
	if err := json.NewDecoder(rec.Body).Decode(&response); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if response.Priority != defaultBackfillPriority {
		t.Errorf("expected default priority, got %d", response.Priority)
	}
}

func TestIngestionHandler_EnqueueBackfill_Overlap(t *testing.T) {
	ht := setupIngestionHandlerTest(t)

	if rec := ht.do(http.MethodPost, "/backfill", `{"from_slot":100,"to_slot":200}`); rec.Code != http.StatusAccepted {
		t.Fatalf("expected status 202, got %d", rec.Code)
	}

	rec := ht.do(http.MethodPost, "/backfill", `{"from_slot":150,"to_slot":250}`)
	if rec.Code != http.StatusConflict {
		t.Errorf("expected status 409, got %d", rec.Code)
	}
}

func TestIngestionHandler_EnqueueBackfill_BadRequest(t *testing.T) {
	ht := setupIngestionHandlerTest(t)

	tests := []struct {
		name string
		body string
	}{
		{"malformed", `{"from_slot":`},
		{"missing bound", `{"from_slot":100}`},
		{"inverted", `{"from_slot":200,"to_slot":100}`},
		{"negative", `{"from_slot":-1,"to_slot":100}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := ht.do(http.MethodPost, "/backfill", tt.body)
			if rec.Code != http.StatusBadRequest {
				t.Errorf("expected status 400, got %d", rec.Code)
			}
		})
	}
}

func TestIngestionHandler_EnqueueBackfill_NotInitialized(t *testing.T) {
	logger := zap.NewNop()
	monitor := services.NewHealthMonitor(services.DefaultHealthMonitorConfig(), logger)
	svc := services.NewIngestionService(monitor, nil, nil, logger)

	r := chi.NewRouter()
	NewIngestionHandler(svc, monitor, logger).RegisterRoutes(r)

	req := httptest.NewRequest(http.MethodPost, "/backfill", strings.NewReader(`{"from_slot":1,"to_slot":2}`))
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("expected status 503, got %d", rec.Code)
	}
}

func TestIngestionHandler_PauseResume(t *testing.T) {
	ht := setupIngestionHandlerTest(t)

	// pausing before start is rejected
	if rec := ht.do(http.MethodPost, "/ingestion/pause", ""); rec.Code != http.StatusConflict {
		t.Errorf("expected status 409, got %d", rec.Code)
	}

	// resume starts an initialized service
	rec := ht.do(http.MethodPost, "/ingestion/resume", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if !ht.service.GetStatus().Running {
		t.Fatal("expected service to be running")
	}

	rec = ht.do(http.MethodPost, "/ingestion/pause", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rec.Code)
	}

	var status entities.IngestionStatus
	if err := json.NewDecoder(rec.Body).Decode(&status); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if !status.Paused {
		t.Error("expected paused status")
	}

	if rec := ht.do(http.MethodPost, "/ingestion/resume", ""); rec.Code != http.StatusOK {
		t.Errorf("expected status 200, got %d", rec.Code)
	}
	if !ht.service.GetStatus().Running {
		t.Error("expected service to be running after resume")
	}
}
