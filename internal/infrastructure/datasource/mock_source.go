package datasource

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/bimakw/solana-ingestor/internal/domain/entities"
	"github.com/bimakw/solana-ingestor/internal/domain/sources"
)

// Ensure MockSource implements sources.DataSource
var _ sources.DataSource = (*MockSource)(nil)

// MockOption configures a MockSource
type MockOption func(*MockSource)

// WithSlotSequence makes GetSlot walk through slots, then keep returning the last one
func WithSlotSequence(slots ...uint64) MockOption {
	return func(m *MockSource) {
		m.sequence = append([]uint64(nil), slots...)
	}
}

// WithTransactionsPerSlot sets how many transactions every slot holds
func WithTransactionsPerSlot(n int) MockOption {
	return func(m *MockSource) {
		m.perSlot = n
	}
}

// MockSource is a deterministic in-process data source. Every slot holds
// synthesized transactions, and GetSlot advances on each call.
type MockSource struct {
	desc     entities.DataSourceDescriptor
	sequence []uint64
	perSlot  int
	baseTime time.Time

	mu        sync.Mutex
	connected bool
	healthy   bool
	pos       int
	current   uint64
	nextSub   int
	subs      map[string]sources.TransactionCallback
}

// NewMockSource creates a disconnected mock source
func NewMockSource(desc entities.DataSourceDescriptor, opts ...MockOption) *MockSource {
	m := &MockSource{
		desc:     desc,
		perSlot:  1,
		baseTime: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		healthy:  true,
		subs:     make(map[string]sources.TransactionCallback),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func (m *MockSource) ID() string {
	return m.desc.ID
}

func (m *MockSource) Descriptor() entities.DataSourceDescriptor {
	return m.desc
}

func (m *MockSource) Connect(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.connected = true
	return nil
}

func (m *MockSource) Disconnect(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.subs = make(map[string]sources.TransactionCallback)
	m.connected = false
	return nil
}

func (m *MockSource) IsConnected() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.connected
}

// SetHealthy controls the HealthCheck result
func (m *MockSource) SetHealthy(healthy bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.healthy = healthy
}

func (m *MockSource) GetSlot(ctx context.Context) (uint64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.connected {
		return 0, sources.ErrNotConnected
	}

	if len(m.sequence) == 0 {
		m.current++
		return m.current, nil
	}
	if m.pos < len(m.sequence) {
		m.current = m.sequence[m.pos]
		m.pos++
	}
	return m.current, nil
}

func (m *MockSource) GetTransaction(ctx context.Context, signature string) (*entities.RawTransaction, error) {
	if !m.IsConnected() {
		return nil, sources.ErrNotConnected
	}

	rest, ok := strings.CutPrefix(signature, fmt.Sprintf("mock-%s-", m.desc.ID))
	if !ok {
		return nil, nil
	}
	var slot uint64
	var idx int
	if _, err := fmt.Sscanf(rest, "%d-%d", &slot, &idx); err != nil || idx >= m.perSlot {
		return nil, nil
	}

	tx := m.transaction(slot, idx)
	return &tx, nil
}

func (m *MockSource) GetTransactionsBySlot(ctx context.Context, slot uint64) ([]entities.RawTransaction, error) {
	if !m.IsConnected() {
		return nil, sources.ErrNotConnected
	}

	txs := make([]entities.RawTransaction, 0, m.perSlot)
	for i := 0; i < m.perSlot; i++ {
		txs = append(txs, m.transaction(slot, i))
	}
	return txs, nil
}

// GetTransactionsByAccount returns nothing; synthesized transactions carry no accounts
func (m *MockSource) GetTransactionsByAccount(ctx context.Context, account string, limit int) ([]entities.RawTransaction, error) {
	if !m.IsConnected() {
		return nil, sources.ErrNotConnected
	}
	return []entities.RawTransaction{}, nil
}

func (m *MockSource) SubscribeToTransactions(ctx context.Context, callback sources.TransactionCallback) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.connected {
		return "", sources.ErrNotConnected
	}
	m.nextSub++
	id := fmt.Sprintf("%s-sub-%d", m.desc.ID, m.nextSub)
	m.subs[id] = callback
	return id, nil
}

func (m *MockSource) UnsubscribeFromTransactions(ctx context.Context, subscriptionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.subs[subscriptionID]; !ok {
		return sources.ErrSubscriptionNotFound
	}
	delete(m.subs, subscriptionID)
	return nil
}

func (m *MockSource) HealthCheck(ctx context.Context) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.connected && m.healthy, nil
}

// EmitSlot pushes the transactions of slot to every subscription
func (m *MockSource) EmitSlot(ctx context.Context, slot uint64) {
	m.mu.Lock()
	callbacks := make([]sources.TransactionCallback, 0, len(m.subs))
	for _, cb := range m.subs {
		callbacks = append(callbacks, cb)
	}
	m.mu.Unlock()

	for i := 0; i < m.perSlot; i++ {
		tx := m.transaction(slot, i)
		for _, cb := range callbacks {
			cb(ctx, tx)
		}
	}
}

func (m *MockSource) transaction(slot uint64, i int) entities.RawTransaction {
	ts := m.baseTime.Add(time.Duration(slot) * 400 * time.Millisecond)
	return entities.RawTransaction{
		Signature: fmt.Sprintf("mock-%s-%d-%d", m.desc.ID, slot, i),
		Slot:      slot,
		Timestamp: &ts,
		Fee:       5000,
	}
}
