package datasource

import (
	"context"
	"errors"
	"testing"

	"go.uber.org/zap"

	"github.com/bimakw/solana-ingestor/internal/domain/entities"
	"github.com/bimakw/solana-ingestor/internal/domain/sources"
	"github.com/bimakw/solana-ingestor/internal/infrastructure/solana"
	"github.com/bimakw/solana-ingestor/internal/testutil"
)

func TestFactory_BuildsByType(t *testing.T) {
	factory := NewFactory(zap.NewNop())

	tests := []struct {
		name     string
		desc     entities.DataSourceDescriptor
		wantMock bool
		wantWS   string
	}{
		{
			name: "rpc",
			desc: testutil.CreateTestDescriptor(
				testutil.DescriptorWithType(entities.DataSourceRPC),
				testutil.DescriptorWithEndpoint("http://localhost:8899"),
			),
		},
		{
			name: "archival",
			desc: testutil.CreateTestDescriptor(
				testutil.DescriptorWithType(entities.DataSourceArchival),
				testutil.DescriptorWithEndpoint("https://archive.example.com"),
			),
		},
		{
			name: "websocket derives pubsub endpoint",
			desc: testutil.CreateTestDescriptor(
				testutil.DescriptorWithType(entities.DataSourceWebsocket),
				testutil.DescriptorWithEndpoint("https://api.mainnet-beta.solana.com"),
			),
			wantWS: "wss://api.mainnet-beta.solana.com",
		},
		{
			name:     "mock",
			desc:     testutil.CreateTestDescriptor(),
			wantMock: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ds, err := factory(tt.desc)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if ds.ID() != tt.desc.ID {
				t.Errorf("expected id %s, got %s", tt.desc.ID, ds.ID())
			}

			_, isMock := ds.(*MockSource)
			if isMock != tt.wantMock {
				t.Errorf("expected mock=%v, got %T", tt.wantMock, ds)
			}
			if !tt.wantMock {
				if _, ok := ds.(*solana.RPCDataSource); !ok {
					t.Errorf("expected RPC data source, got %T", ds)
				}
			}
			if tt.wantWS != "" && ds.Descriptor().WSEndpoint != tt.wantWS {
				t.Errorf("expected ws endpoint %s, got %s", tt.wantWS, ds.Descriptor().WSEndpoint)
			}
		})
	}
}

func TestFactory_UnsupportedType(t *testing.T) {
	factory := NewFactory(zap.NewNop())

	_, err := factory(testutil.CreateTestDescriptor(
		testutil.DescriptorWithType(entities.DataSourceExternalAPI),
		testutil.DescriptorWithEndpoint("https://api.example.com"),
	))
	if !errors.Is(err, sources.ErrUnsupportedType) {
		t.Errorf("expected ErrUnsupportedType, got %v", err)
	}
}

func TestFactory_InvalidDescriptor(t *testing.T) {
	factory := NewFactory(zap.NewNop())

	_, err := factory(testutil.CreateTestDescriptor(testutil.DescriptorWithType(entities.DataSourceRPC)))
	if !errors.Is(err, entities.ErrMissingEndpoint) {
		t.Errorf("expected ErrMissingEndpoint, got %v", err)
	}
}

func TestMockSource_SlotSequence(t *testing.T) {
	m := NewMockSource(testutil.CreateTestDescriptor(), WithSlotSequence(1, 2, 3, 5, 6))
	ctx := context.Background()

	if _, err := m.GetSlot(ctx); !errors.Is(err, sources.ErrNotConnected) {
		t.Fatalf("expected ErrNotConnected before connect, got %v", err)
	}
	_ = m.Connect(ctx)

	expected := []uint64{1, 2, 3, 5, 6, 6, 6}
	for i, want := range expected {
		got, err := m.GetSlot(ctx)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if got != want {
			t.Errorf("call %d: expected slot %d, got %d", i, want, got)
		}
	}
}

func TestMockSource_CountsUpWithoutSequence(t *testing.T) {
	m := NewMockSource(testutil.CreateTestDescriptor())
	ctx := context.Background()
	_ = m.Connect(ctx)

	for want := uint64(1); want <= 3; want++ {
		got, _ := m.GetSlot(ctx)
		if got != want {
			t.Errorf("expected slot %d, got %d", want, got)
		}
	}
}

func TestMockSource_Transactions(t *testing.T) {
	m := NewMockSource(testutil.CreateTestDescriptor(), WithTransactionsPerSlot(3))
	ctx := context.Background()
	_ = m.Connect(ctx)

	txs, err := m.GetTransactionsBySlot(ctx, 4)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(txs) != 3 {
		t.Fatalf("expected 3 transactions, got %d", len(txs))
	}
	if txs[2].Signature != "mock-primary-4-2" || txs[2].Slot != 4 {
		t.Errorf("unexpected transaction %s at slot %d", txs[2].Signature, txs[2].Slot)
	}

	tx, err := m.GetTransaction(ctx, "mock-primary-4-1")
	if err != nil || tx == nil || tx.Slot != 4 {
		t.Errorf("expected transaction at slot 4, got %+v (err %v)", tx, err)
	}
	if tx, _ := m.GetTransaction(ctx, "mock-primary-4-9"); tx != nil {
		t.Errorf("expected unknown index to be missing, got %+v", tx)
	}
	if tx, _ := m.GetTransaction(ctx, "other"); tx != nil {
		t.Errorf("expected foreign signature to be missing, got %+v", tx)
	}
}

func TestMockSource_Subscriptions(t *testing.T) {
	m := NewMockSource(testutil.CreateTestDescriptor(), WithTransactionsPerSlot(2))
	ctx := context.Background()
	_ = m.Connect(ctx)

	var got []entities.RawTransaction
	id, err := m.SubscribeToTransactions(ctx, func(_ context.Context, tx entities.RawTransaction) {
		got = append(got, tx)
	})
	if err != nil {
		t.Fatalf("failed to subscribe: %v", err)
	}

	m.EmitSlot(ctx, 10)
	if len(got) != 2 {
		t.Fatalf("expected 2 transactions, got %d", len(got))
	}

	if err := m.UnsubscribeFromTransactions(ctx, id); err != nil {
		t.Fatalf("failed to unsubscribe: %v", err)
	}
	if err := m.UnsubscribeFromTransactions(ctx, id); !errors.Is(err, sources.ErrSubscriptionNotFound) {
		t.Errorf("expected ErrSubscriptionNotFound, got %v", err)
	}

	m.EmitSlot(ctx, 11)
	if len(got) != 2 {
		t.Errorf("expected no delivery after unsubscribe, got %d", len(got))
	}
}

func TestMockSource_HealthCheck(t *testing.T) {
	m := NewMockSource(testutil.CreateTestDescriptor())
	ctx := context.Background()

	if ok, _ := m.HealthCheck(ctx); ok {
		t.Error("expected disconnected source to be unhealthy")
	}
	_ = m.Connect(ctx)
	if ok, _ := m.HealthCheck(ctx); !ok {
		t.Error("expected connected source to be healthy")
	}
	m.SetHealthy(false)
	if ok, _ := m.HealthCheck(ctx); ok {
		t.Error("expected source to report unhealthy")
	}
}
