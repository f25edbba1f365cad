package testutil

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/bimakw/solana-ingestor/internal/domain/entities"
	"github.com/bimakw/solana-ingestor/internal/domain/repositories"
	"github.com/bimakw/solana-ingestor/internal/domain/sources"
)

type MockCall struct {
	Method string
	Args   []interface{}
}

// Ensure MockDataSource implements DataSource
var (
	_ sources.DataSource  = (*MockDataSource)(nil)
	_ sources.GapReporter = (*MockDataSource)(nil)
)

// MockDataSource is a mock implementation of DataSource
type MockDataSource struct {
	mu        sync.RWMutex
	desc      entities.DataSourceDescriptor
	connected bool
	healthy   bool
	slot      uint64
	txs       map[uint64][]entities.RawTransaction
	subs      map[string]sources.TransactionCallback
	nextSub   int
	onGap     sources.GapCallback

	// Function hooks for custom behavior
	ConnectFunc               func(ctx context.Context) error
	GetSlotFunc               func(ctx context.Context) (uint64, error)
	GetTransactionsBySlotFunc func(ctx context.Context, slot uint64) ([]entities.RawTransaction, error)
	HealthCheckFunc           func(ctx context.Context) (bool, error)
	UnsubscribeFunc           func(ctx context.Context, id string) error

	// Call tracking
	Calls []MockCall
}

func NewMockDataSource(desc entities.DataSourceDescriptor) *MockDataSource {
	return &MockDataSource{
		desc:    desc,
		healthy: true,
		txs:     make(map[uint64][]entities.RawTransaction),
		subs:    make(map[string]sources.TransactionCallback),
		Calls:   make([]MockCall, 0),
	}
}

func (m *MockDataSource) record(method string, args ...interface{}) {
	m.mu.Lock()
	m.Calls = append(m.Calls, MockCall{Method: method, Args: args})
	m.mu.Unlock()
}

func (m *MockDataSource) ID() string {
	return m.desc.ID
}

func (m *MockDataSource) Descriptor() entities.DataSourceDescriptor {
	return m.desc
}

func (m *MockDataSource) Connect(ctx context.Context) error {
	m.record("Connect")
	if m.ConnectFunc != nil {
		if err := m.ConnectFunc(ctx); err != nil {
			return err
		}
	}
	m.mu.Lock()
	m.connected = true
	m.mu.Unlock()
	return nil
}

func (m *MockDataSource) Disconnect(ctx context.Context) error {
	m.record("Disconnect")
	m.mu.Lock()
	defer m.mu.Unlock()
	m.connected = false
	m.subs = make(map[string]sources.TransactionCallback)
	return nil
}

func (m *MockDataSource) IsConnected() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.connected
}

func (m *MockDataSource) GetSlot(ctx context.Context) (uint64, error) {
	m.record("GetSlot")
	if m.GetSlotFunc != nil {
		return m.GetSlotFunc(ctx)
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	if !m.connected {
		return 0, sources.ErrNotConnected
	}
	return m.slot, nil
}

func (m *MockDataSource) GetTransaction(ctx context.Context, signature string) (*entities.RawTransaction, error) {
	m.record("GetTransaction", signature)
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, list := range m.txs {
		for _, tx := range list {
			if tx.Signature == signature {
				out := tx
				return &out, nil
			}
		}
	}
	return nil, nil
}

func (m *MockDataSource) GetTransactionsBySlot(ctx context.Context, slot uint64) ([]entities.RawTransaction, error) {
	m.record("GetTransactionsBySlot", slot)
	if m.GetTransactionsBySlotFunc != nil {
		return m.GetTransactionsBySlotFunc(ctx, slot)
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	if !m.connected {
		return nil, sources.ErrNotConnected
	}
	return append([]entities.RawTransaction(nil), m.txs[slot]...), nil
}

func (m *MockDataSource) GetTransactionsByAccount(ctx context.Context, account string, limit int) ([]entities.RawTransaction, error) {
	m.record("GetTransactionsByAccount", account, limit)
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []entities.RawTransaction
	for _, list := range m.txs {
		for _, tx := range list {
			for _, a := range tx.Accounts {
				if a == account {
					out = append(out, tx)
					break
				}
			}
		}
	}
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *MockDataSource) SubscribeToTransactions(ctx context.Context, callback sources.TransactionCallback) (string, error) {
	m.record("SubscribeToTransactions")
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

func (m *MockDataSource) UnsubscribeFromTransactions(ctx context.Context, id string) error {
	m.record("UnsubscribeFromTransactions", id)
	if m.UnsubscribeFunc != nil {
		return m.UnsubscribeFunc(ctx, id)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.subs[id]; !ok {
		return sources.ErrSubscriptionNotFound
	}
	delete(m.subs, id)
	return nil
}

func (m *MockDataSource) HealthCheck(ctx context.Context) (bool, error) {
	m.record("HealthCheck")
	if m.HealthCheckFunc != nil {
		return m.HealthCheckFunc(ctx)
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.healthy, nil
}

// SetSlot sets the slot returned by GetSlot
func (m *MockDataSource) SetSlot(slot uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.slot = slot
}

// SetHealthy sets the result of HealthCheck
func (m *MockDataSource) SetHealthy(healthy bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.healthy = healthy
}

// AddTransactions adds transactions served for their slots
func (m *MockDataSource) AddTransactions(txs ...entities.RawTransaction) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, tx := range txs {
		m.txs[tx.Slot] = append(m.txs[tx.Slot], tx)
	}
}

// Emit delivers a transaction to every active subscription
func (m *MockDataSource) Emit(ctx context.Context, tx entities.RawTransaction) {
	m.mu.RLock()
	callbacks := make([]sources.TransactionCallback, 0, len(m.subs))
	for _, cb := range m.subs {
		callbacks = append(callbacks, cb)
	}
	m.mu.RUnlock()

	for _, cb := range callbacks {
		cb(ctx, tx)
	}
}

func (m *MockDataSource) OnGap(cb sources.GapCallback) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onGap = cb
}

// ReportGap hands r to the registered gap callback, as a feed that skipped slots would
func (m *MockDataSource) ReportGap(r entities.SlotRange) {
	m.mu.RLock()
	cb := m.onGap
	m.mu.RUnlock()
	if cb != nil {
		cb(r)
	}
}

// SubscriptionCount returns the number of active subscriptions
func (m *MockDataSource) SubscriptionCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.subs)
}

// CallCount returns how many times method was called
func (m *MockDataSource) CallCount(method string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	n := 0
	for _, c := range m.Calls {
		if c.Method == method {
			n++
		}
	}
	return n
}

// Ensure MockCheckpointRepository implements SlotCheckpointRepository
var _ repositories.SlotCheckpointRepository = (*MockCheckpointRepository)(nil)

// MockCheckpointRepository is a mock implementation of SlotCheckpointRepository
type MockCheckpointRepository struct {
	mu         sync.RWMutex
	checkpoint *entities.SlotCheckpoint

	GetFunc            func(ctx context.Context) (*entities.SlotCheckpoint, error)
	UpdateLastSlotFunc func(ctx context.Context, slot uint64) error

	Calls []MockCall
}

func NewMockCheckpointRepository() *MockCheckpointRepository {
	return &MockCheckpointRepository{Calls: make([]MockCall, 0)}
}

func (m *MockCheckpointRepository) Get(ctx context.Context) (*entities.SlotCheckpoint, error) {
	m.mu.Lock()
	m.Calls = append(m.Calls, MockCall{Method: "Get"})
	m.mu.Unlock()

	if m.GetFunc != nil {
		return m.GetFunc(ctx)
	}

	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.checkpoint == nil {
		return nil, nil
	}
	out := *m.checkpoint
	return &out, nil
}

func (m *MockCheckpointRepository) UpdateLastSlot(ctx context.Context, slot uint64) error {
	m.mu.Lock()
	m.Calls = append(m.Calls, MockCall{Method: "UpdateLastSlot", Args: []interface{}{slot}})
	m.mu.Unlock()

	if m.UpdateLastSlotFunc != nil {
		return m.UpdateLastSlotFunc(ctx, slot)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.checkpoint == nil {
		m.checkpoint = &entities.SlotCheckpoint{}
	}
	m.checkpoint.LastProcessedSlot = slot
	return nil
}

func (m *MockCheckpointRepository) SetBackfilling(ctx context.Context, isBackfilling bool, fromSlot, toSlot *uint64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Calls = append(m.Calls, MockCall{Method: "SetBackfilling", Args: []interface{}{isBackfilling, fromSlot, toSlot}})
	if m.checkpoint == nil {
		m.checkpoint = &entities.SlotCheckpoint{}
	}
	m.checkpoint.IsBackfilling = isBackfilling
	m.checkpoint.BackfillFromSlot = fromSlot
	m.checkpoint.BackfillToSlot = toSlot
	return nil
}

// SetCheckpoint seeds the stored checkpoint
func (m *MockCheckpointRepository) SetCheckpoint(cp *entities.SlotCheckpoint) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.checkpoint = cp
}

// MockProcessor records every transaction it is handed
type MockProcessor struct {
	mu   sync.Mutex
	name string
	seen []entities.RawTransaction

	ProcessFunc func(ctx context.Context, tx entities.RawTransaction) error
}

func NewMockProcessor(name string) *MockProcessor {
	return &MockProcessor{name: name}
}

func (p *MockProcessor) Name() string {
	return p.name
}

func (p *MockProcessor) ProcessTransaction(ctx context.Context, tx entities.RawTransaction) error {
	p.mu.Lock()
	p.seen = append(p.seen, tx)
	p.mu.Unlock()

	if p.ProcessFunc != nil {
		return p.ProcessFunc(ctx, tx)
	}
	return nil
}

// Seen returns the transactions received so far
func (p *MockProcessor) Seen() []entities.RawTransaction {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]entities.RawTransaction(nil), p.seen...)
}

// MockHealthChecker is a mock implementation of HealthChecker
type MockHealthChecker struct {
	mu sync.RWMutex

	Error error
	Calls []MockCall
}

func NewMockHealthChecker(healthy bool) *MockHealthChecker {
	m := &MockHealthChecker{Calls: make([]MockCall, 0)}
	m.SetHealthy(healthy)
	return m
}

func (m *MockHealthChecker) HealthCheck(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Calls = append(m.Calls, MockCall{Method: "HealthCheck"})
	return m.Error
}

func (m *MockHealthChecker) SetHealthy(healthy bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if healthy {
		m.Error = nil
	} else {
		m.Error = errors.New("health check failed")
	}
}
