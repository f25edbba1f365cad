package services

import (
	"context"
	"errors"
	"testing"

	"go.uber.org/zap"

	"github.com/bimakw/solana-ingestor/internal/domain/entities"
	"github.com/bimakw/solana-ingestor/internal/infrastructure/storage"
	"github.com/bimakw/solana-ingestor/internal/testutil"
)

func setupGraphProcessorTest() (*GraphProcessor, *storage.MemoryGraph) {
	graph := storage.NewMemoryGraph()
	return NewGraphProcessor(graph, zap.NewNop()), graph
}

func TestGraphProcessor_ProcessTransaction(t *testing.T) {
	p, graph := setupGraphProcessorTest()
	ctx := context.Background()
	tx := testutil.CreateTestTransaction()

	if err := p.ProcessTransaction(ctx, tx); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	result, err := graph.Query(ctx, entities.GraphQuery{})
	if err != nil {
		t.Fatalf("failed to query: %v", err)
	}
	if len(result.Nodes) != 4 {
		t.Errorf("expected 4 nodes, got %d", len(result.Nodes))
	}
	if len(result.Edges) != 3 {
		t.Errorf("expected 3 edges, got %d", len(result.Edges))
	}

	tests := []struct {
		from, rel, to string
	}{
		{testutil.AliceAccount, entities.RelationshipSigned, tx.Signature},
		{testutil.BobAccount, entities.RelationshipInvolved, tx.Signature},
		{tx.Signature, entities.RelationshipInvoked, testutil.SystemProgram},
	}
	for _, tt := range tests {
		if _, err := graph.GetEdge(ctx, entities.EdgeID(tt.from, tt.rel, tt.to)); err != nil {
			t.Errorf("expected edge %s %s %s: %v", tt.from, tt.rel, tt.to, err)
		}
	}

	program, err := graph.GetNode(ctx, testutil.SystemProgram)
	if err != nil {
		t.Fatalf("expected program node: %v", err)
	}
	if program.Type != entities.NodeTypeProgram {
		t.Errorf("expected program type, got %s", program.Type)
	}
}

func TestGraphProcessor_IsIdempotent(t *testing.T) {
	p, graph := setupGraphProcessorTest()
	ctx := context.Background()

	first := testutil.CreateTestTransaction(testutil.WithSlot(100))
	if err := p.ProcessTransaction(ctx, first); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	second := testutil.CreateTestTransaction(testutil.WithSlot(100), testutil.WithSignature("other-signature"))
	if err := p.ProcessTransaction(ctx, second); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := p.ProcessTransaction(ctx, first); err != nil {
		t.Fatalf("unexpected error on replay: %v", err)
	}

	result, _ := graph.Query(ctx, entities.GraphQuery{})
	if len(result.Nodes) != 5 {
		t.Errorf("expected accounts to be shared across transactions, got %d nodes", len(result.Nodes))
	}
	if len(result.Edges) != 6 {
		t.Errorf("expected 6 edges, got %d", len(result.Edges))
	}

	alice, _ := graph.GetNode(ctx, testutil.AliceAccount)
	if alice.Properties["last_slot"] != uint64(100) {
		t.Errorf("expected last_slot 100, got %v", alice.Properties["last_slot"])
	}
}

func TestGraphProcessor_SkipsInvalidAccounts(t *testing.T) {
	p, graph := setupGraphProcessorTest()
	ctx := context.Background()

	tx := testutil.CreateTestTransaction(testutil.WithAccounts(testutil.AliceAccount, "not-a-key"))
	if err := p.ProcessTransaction(ctx, tx); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if _, err := graph.GetNode(ctx, "not-a-key"); err == nil {
		t.Error("expected invalid account to be skipped")
	}
}

func TestGraphProcessor_RequiresSignature(t *testing.T) {
	p, _ := setupGraphProcessorTest()

	err := p.ProcessTransaction(context.Background(), testutil.CreateTestTransaction(testutil.WithSignature("")))
	if !errors.Is(err, entities.ErrMissingSignature) {
		t.Errorf("expected ErrMissingSignature, got %v", err)
	}
}

func TestGraphProcessor_StorageUnavailable(t *testing.T) {
	p, graph := setupGraphProcessorTest()
	graph.SetAvailable(false)

	if err := p.ProcessTransaction(context.Background(), testutil.CreateTestTransaction()); err == nil {
		t.Error("expected error when the graph store is unavailable")
	}
}
