package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/bimakw/solana-ingestor/internal/domain/entities"
	"github.com/bimakw/solana-ingestor/internal/infrastructure/storage"
	"github.com/bimakw/solana-ingestor/internal/testutil"
)

var storageTestTime = time.Date(2024, 1, 15, 10, 0, 0, 0, time.UTC)

func setupStorageHandlerTest(t *testing.T) (chi.Router, *storage.Hybrid) {
	t.Helper()
	hybrid := storage.NewMemoryHybrid(zap.NewNop())

	r := chi.NewRouter()
	NewStorageHandler(hybrid, zap.NewNop()).RegisterRoutes(r)
	return r, hybrid
}

func storeTransactions(t *testing.T, hybrid *storage.Hybrid, origin string, txs ...entities.RawTransaction) {
	t.Helper()
	for _, tx := range txs {
		entry, err := entities.NewTransactionEntry(tx, "primary", origin, storageTestTime)
		if err != nil {
			t.Fatalf("failed to build entry: %v", err)
		}
		if err := hybrid.TimeSeries().Insert(context.Background(), entities.MeasurementTransactions, entry); err != nil {
			t.Fatalf("failed to insert entry: %v", err)
		}
	}
}

func serve(r chi.Router, path string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, path, nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	return rec
}

func decodeTransactions(t *testing.T, rec *httptest.ResponseRecorder) TransactionsResponse {
	t.Helper()
	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var response TransactionsResponse
	if err := json.NewDecoder(rec.Body).Decode(&response); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	return response
}

func TestStorageHandler_GetTransactions(t *testing.T) {
	r, hybrid := setupStorageHandlerTest(t)
	storeTransactions(t, hybrid, entities.OriginLive,
		testutil.CreateTestTransaction(testutil.WithSignature("sig-a"), testutil.WithSlot(10), testutil.WithTimestamp(storageTestTime)),
		testutil.CreateTestTransaction(testutil.WithSignature("sig-b"), testutil.WithSlot(11), testutil.WithTimestamp(storageTestTime.Add(time.Second))),
	)
	storeTransactions(t, hybrid, entities.OriginBackfill,
		testutil.CreateTestTransaction(testutil.WithSignature("sig-c"), testutil.WithSlot(4), testutil.WithTimestamp(storageTestTime.Add(-time.Minute))),
	)

	response := decodeTransactions(t, serve(r, "/transactions"))
	if response.Total != 3 {
		t.Fatalf("expected 3 entries, got %d", response.Total)
	}
	// newest first by default
	if response.Entries[0].Tags[entities.TagSignature] != "sig-b" {
		t.Errorf("expected sig-b first, got %s", response.Entries[0].Tags[entities.TagSignature])
	}
}

func TestStorageHandler_GetTransactions_Filters(t *testing.T) {
	r, hybrid := setupStorageHandlerTest(t)
	storeTransactions(t, hybrid, entities.OriginLive,
		testutil.CreateTestTransaction(testutil.WithSignature("sig-a"), testutil.WithSlot(10), testutil.WithTimestamp(storageTestTime)),
		testutil.CreateTestTransaction(testutil.WithSignature("sig-b"), testutil.WithSlot(11), testutil.WithTimestamp(storageTestTime.Add(time.Hour))),
	)
	storeTransactions(t, hybrid, entities.OriginBackfill,
		testutil.CreateTestTransaction(testutil.WithSignature("sig-c"), testutil.WithSlot(4), testutil.WithTimestamp(storageTestTime.Add(-time.Hour))),
	)

	tests := []struct {
		name  string
		path  string
		total int
		first string
	}{
		{"signature", "/transactions?signature=sig-a", 1, "sig-a"},
		{"slot", "/transactions?slot=4", 1, "sig-c"},
		{"origin", "/transactions?origin=live", 2, "sig-b"},
		{"source", "/transactions?source=other", 0, ""},
		{"ascending", "/transactions?order=asc", 3, "sig-c"},
		{"limit", "/transactions?limit=1", 1, "sig-b"},
		{"time window", "/transactions?from=2024-01-15T09:30:00Z&to=2024-01-15T10:30:00Z", 1, "sig-a"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			response := decodeTransactions(t, serve(r, tt.path))
			if response.Total != tt.total {
				t.Fatalf("expected %d entries, got %d", tt.total, response.Total)
			}
			if tt.total > 0 && response.Entries[0].Tags[entities.TagSignature] != tt.first {
				t.Errorf("expected %s first, got %s", tt.first, response.Entries[0].Tags[entities.TagSignature])
			}
		})
	}
}

func TestStorageHandler_GetTransactions_BadRequest(t *testing.T) {
	r, _ := setupStorageHandlerTest(t)

	for _, path := range []string{
		"/transactions?slot=abc",
		"/transactions?from=yesterday",
		"/transactions?to=2024-13-01",
		"/transactions?order=sideways",
	} {
		if rec := serve(r, path); rec.Code != http.StatusBadRequest {
			t.Errorf("%s: expected status 400, got %d", path, rec.Code)
		}
	}
}

func TestStorageHandler_GetTransactions_StorageUnavailable(t *testing.T) {
	r, hybrid := setupStorageHandlerTest(t)
	hybrid.TimeSeries().(*storage.MemoryTimeSeries).SetAvailable(false)

	if rec := serve(r, "/transactions"); rec.Code != http.StatusServiceUnavailable {
		t.Errorf("expected status 503, got %d", rec.Code)
	}
}

func TestStorageHandler_GetTransactionsMetadata(t *testing.T) {
	r, hybrid := setupStorageHandlerTest(t)

	if rec := serve(r, "/transactions/metadata"); rec.Code != http.StatusNotFound {
		t.Errorf("expected status 404 before any insert, got %d", rec.Code)
	}

	storeTransactions(t, hybrid, entities.OriginLive,
		testutil.CreateTestTransaction(testutil.WithSignature("sig-a"), testutil.WithTimestamp(storageTestTime)),
	)

	rec := serve(r, "/transactions/metadata")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rec.Code)
	}
	var meta entities.MeasurementMetadata
	if err := json.NewDecoder(rec.Body).Decode(&meta); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if meta.Count != 1 {
		t.Errorf("expected count 1, got %d", meta.Count)
	}
}

func seedGraph(t *testing.T, hybrid *storage.Hybrid) {
	t.Helper()
	ctx := context.Background()
	graph := hybrid.Graph()

	for _, n := range []entities.Node{
		{ID: "alice", Type: entities.NodeTypeWallet},
		{ID: "tx1", Type: entities.NodeTypeTransaction},
		{ID: "bob", Type: entities.NodeTypeWallet},
		{ID: "carol", Type: entities.NodeTypeWallet},
	} {
		if _, err := graph.CreateNode(ctx, n); err != nil {
			t.Fatalf("failed to create node: %v", err)
		}
	}
	for _, e := range []entities.Edge{
		{ID: entities.EdgeID("alice", entities.RelationshipSigned, "tx1"), SourceID: "alice", TargetID: "tx1", Type: entities.RelationshipSigned},
		{ID: entities.EdgeID("tx1", entities.RelationshipInvolved, "bob"), SourceID: "tx1", TargetID: "bob", Type: entities.RelationshipInvolved},
	} {
		if _, err := graph.CreateEdge(ctx, e); err != nil {
			t.Fatalf("failed to create edge: %v", err)
		}
	}
}

func TestStorageHandler_GetNode(t *testing.T) {
	r, hybrid := setupStorageHandlerTest(t)
	seedGraph(t, hybrid)

	rec := serve(r, "/graph/nodes/alice")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rec.Code)
	}
	var node entities.Node
	if err := json.NewDecoder(rec.Body).Decode(&node); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if node.ID != "alice" || node.Type != entities.NodeTypeWallet {
		t.Errorf("unexpected node %+v", node)
	}

	if rec := serve(r, "/graph/nodes/nobody"); rec.Code != http.StatusNotFound {
		t.Errorf("expected status 404, got %d", rec.Code)
	}
}

func TestStorageHandler_FindPath(t *testing.T) {
	r, hybrid := setupStorageHandlerTest(t)
	seedGraph(t, hybrid)

	rec := serve(r, "/graph/path?source=alice&target=bob")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var path entities.GraphPath
	if err := json.NewDecoder(rec.Body).Decode(&path); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if path.Length() != 2 {
		t.Fatalf("expected 2 hops, got %d", path.Length())
	}
	if path.Nodes[0].ID != "alice" || path.Nodes[2].ID != "bob" {
		t.Errorf("unexpected path nodes %+v", path.Nodes)
	}
}

func TestStorageHandler_FindPath_NotFound(t *testing.T) {
	r, hybrid := setupStorageHandlerTest(t)
	seedGraph(t, hybrid)

	tests := []struct {
		name string
		path string
		code int
	}{
		{"unreachable", "/graph/path?source=alice&target=carol", http.StatusNotFound},
		{"too deep", "/graph/path?source=alice&target=bob&max_depth=1", http.StatusNotFound},
		{"unknown node", "/graph/path?source=alice&target=nobody", http.StatusNotFound},
		{"missing target", "/graph/path?source=alice", http.StatusBadRequest},
		{"invalid depth", "/graph/path?source=alice&target=bob&max_depth=0", http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if rec := serve(r, tt.path); rec.Code != tt.code {
				t.Errorf("expected status %d, got %d", tt.code, rec.Code)
			}
		})
	}
}
