package testutil

import (
	"context"
	"errors"
	"testing"

	"github.com/bimakw/solana-ingestor/internal/domain/entities"
	"github.com/bimakw/solana-ingestor/internal/domain/sources"
)

func TestMockDataSource_RequiresConnection(t *testing.T) {
	ds := NewMockDataSource(CreateTestDescriptor())
	ctx := context.Background()

	if _, err := ds.GetSlot(ctx); !errors.Is(err, sources.ErrNotConnected) {
		t.Errorf("expected ErrNotConnected, got %v", err)
	}

	_ = ds.Connect(ctx)
	ds.SetSlot(42)
	slot, err := ds.GetSlot(ctx)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if slot != 42 {
		t.Errorf("expected slot 42, got %d", slot)
	}

	if ds.CallCount("GetSlot") != 2 {
		t.Errorf("expected 2 GetSlot calls, got %d", ds.CallCount("GetSlot"))
	}
}

func TestMockDataSource_TransactionsBySlot(t *testing.T) {
	ds := NewMockDataSource(CreateTestDescriptor())
	ctx := context.Background()
	_ = ds.Connect(ctx)

	ds.AddTransactions(SlotTransactions(7, 3)...)
	ds.AddTransactions(CreateTestTransaction(WithSlot(8), WithSignature("other")))

	txs, err := ds.GetTransactionsBySlot(ctx, 7)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(txs) != 3 {
		t.Errorf("expected 3 transactions, got %d", len(txs))
	}

	tx, _ := ds.GetTransaction(ctx, "other")
	if tx == nil || tx.Slot != 8 {
		t.Errorf("expected transaction at slot 8, got %+v", tx)
	}
}

func TestMockDataSource_Subscriptions(t *testing.T) {
	ds := NewMockDataSource(CreateTestDescriptor())
	ctx := context.Background()
	_ = ds.Connect(ctx)

	var received int
	id, err := ds.SubscribeToTransactions(ctx, func(ctx context.Context, _ entities.RawTransaction) { received++ })
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	ds.Emit(ctx, CreateTestTransaction())
	if received != 1 {
		t.Errorf("expected 1 delivery, got %d", received)
	}

	if err := ds.UnsubscribeFromTransactions(ctx, id); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := ds.UnsubscribeFromTransactions(ctx, id); !errors.Is(err, sources.ErrSubscriptionNotFound) {
		t.Errorf("expected ErrSubscriptionNotFound, got %v", err)
	}
}

func TestMockCheckpointRepository(t *testing.T) {
	repo := NewMockCheckpointRepository()
	ctx := context.Background()

	cp, err := repo.Get(ctx)
	if err != nil || cp != nil {
		t.Fatalf("expected empty checkpoint, got %+v, %v", cp, err)
	}

	_ = repo.UpdateLastSlot(ctx, 100)
	cp, _ = repo.Get(ctx)
	if cp == nil || cp.LastProcessedSlot != 100 {
		t.Errorf("expected slot 100, got %+v", cp)
	}
}
