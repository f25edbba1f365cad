package solana

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ethereum/go-ethereum/rpc"
	solanago "github.com/gagliardetto/solana-go"
	"github.com/puzpuzpuz/xsync/v4"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/bimakw/solana-ingestor/internal/domain/entities"
	"github.com/bimakw/solana-ingestor/internal/domain/sources"
	"github.com/bimakw/solana-ingestor/internal/infrastructure/metrics"
)

// JSON-RPC error codes returned for slots that hold no block
const (
	codeSlotSkipped        = -32007
	codeSlotMissingInStore = -32009
)

const (
	defaultAccountLimit = 10
	maxAccountLimit     = 1000
	accountFetchWorkers = 4
	commitment          = "confirmed"
)

// Ensure RPCDataSource implements sources.DataSource and sources.GapReporter
var (
	_ sources.DataSource  = (*RPCDataSource)(nil)
	_ sources.GapReporter = (*RPCDataSource)(nil)
)

// Option configures an RPCDataSource
type Option func(*RPCDataSource)

// WithHTTPClient sets the HTTP client used for JSON-RPC calls
func WithHTTPClient(c *http.Client) Option {
	return func(s *RPCDataSource) {
		s.httpClient = c
	}
}

// WithSlotPollInterval sets how often the slot feed polls getSlot when no websocket is available
func WithSlotPollInterval(d time.Duration) Option {
	return func(s *RPCDataSource) {
		s.slotPollInterval = d
	}
}

// RPCDataSource is a DataSource backed by a Solana JSON-RPC node
type RPCDataSource struct {
	desc             entities.DataSourceDescriptor
	policy           entities.RetryPolicy
	logger           *zap.Logger
	limiter          *RateLimiter
	httpClient       *http.Client
	slotPollInterval time.Duration
	sleep            func(ctx context.Context, d time.Duration) error

	mu         sync.RWMutex
	state      sources.ConnectionState
	client     *rpc.Client
	connErrors int

	subs     *xsync.Map[string, sources.TransactionCallback]
	subSeq   atomic.Uint64
	onGap    sources.GapCallback
	feedMu   sync.Mutex
	feed     *slotFeed
	feedDone chan struct{}
}

// NewRPCDataSource creates a disconnected RPC data source
func NewRPCDataSource(desc entities.DataSourceDescriptor, logger *zap.Logger, opts ...Option) (*RPCDataSource, error) {
	if err := desc.Validate(); err != nil {
		return nil, err
	}

	timeout := desc.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	s := &RPCDataSource{
		desc:             desc,
		policy:           desc.EffectiveRetryPolicy(),
		logger:           logger.With(zap.String("source_id", desc.ID)),
		limiter:          NewRateLimiter(desc.RateLimit),
		httpClient:       &http.Client{Timeout: timeout},
		slotPollInterval: time.Second,
		sleep:            sleepContext,
		state:            sources.StateDisconnected,
		subs:             xsync.NewMap[string, sources.TransactionCallback](),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

func (s *RPCDataSource) ID() string {
	return s.desc.ID
}

func (s *RPCDataSource) Descriptor() entities.DataSourceDescriptor {
	return s.desc
}

// State returns the connection state
func (s *RPCDataSource) State() sources.ConnectionState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

func (s *RPCDataSource) IsConnected() bool {
	return s.State() == sources.StateConnected
}

// Connect dials the node and verifies it answers getVersion. Connecting twice is a no-op.
func (s *RPCDataSource) Connect(ctx context.Context) error {
	s.mu.Lock()
	if s.state != sources.StateDisconnected {
		s.mu.Unlock()
		return nil
	}
	s.state = sources.StateConnecting
	s.mu.Unlock()

	client, err := rpc.DialOptions(ctx, s.desc.Endpoint, rpc.WithHTTPClient(s.httpClient))
	if err != nil {
		s.setState(sources.StateDisconnected)
		return fmt.Errorf("failed to connect to Solana node %s: %w", s.desc.Endpoint, err)
	}

	var version versionResult
	err = s.withRetry(ctx, "getVersion", func(ctx context.Context) error {
		return s.invoke(ctx, client, &version, "getVersion")
	})
	if err != nil {
		client.Close()
		s.setState(sources.StateDisconnected)
		return fmt.Errorf("failed to verify Solana node %s: %w", s.desc.Endpoint, err)
	}

	s.mu.Lock()
	s.client = client
	s.state = sources.StateConnected
	s.connErrors = 0
	s.mu.Unlock()

	s.logger.Info("Connected to Solana node",
		zap.String("endpoint", s.desc.Endpoint),
		zap.String("version", version.SolanaCore),
	)
	return nil
}

// Disconnect drops every subscription and closes the connection once a slot
// still being delivered has finished. It must not be called from a subscription callback.
func (s *RPCDataSource) Disconnect(ctx context.Context) error {
	s.subs.Clear()
	s.stopFeed()
	s.waitFeed(ctx)

	s.mu.Lock()
	client := s.client
	s.client = nil
	s.state = sources.StateDisconnected
	s.mu.Unlock()

	if client != nil {
		client.Close()
		s.logger.Info("Disconnected from Solana node")
	}
	return nil
}

func (s *RPCDataSource) setState(state sources.ConnectionState) {
	s.mu.Lock()
	s.state = state
	s.mu.Unlock()
}

func (s *RPCDataSource) noteConnectionError() {
	s.mu.Lock()
	s.connErrors++
	s.mu.Unlock()
}

func (s *RPCDataSource) resetConnectionErrors() {
	s.mu.Lock()
	s.connErrors = 0
	s.mu.Unlock()
}

// checkConnectionBudget marks the source disconnected once its connection errors reach the retry budget
func (s *RPCDataSource) checkConnectionBudget() {
	budget := s.policy.MaxRetries
	if budget < 1 {
		budget = 1
	}

	s.mu.Lock()
	if s.connErrors < budget || s.state != sources.StateConnected {
		s.mu.Unlock()
		return
	}
	client := s.client
	s.client = nil
	s.state = sources.StateDisconnected
	errs := s.connErrors
	s.mu.Unlock()

	if client != nil {
		client.Close()
	}
	s.logger.Warn("Marking data source disconnected after repeated connection errors",
		zap.Int("connection_errors", errs),
	)
}

// ConnectionErrors returns the current connection error count
func (s *RPCDataSource) ConnectionErrors() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.connErrors
}

// invoke performs a single rate-limited, instrumented JSON-RPC call
func (s *RPCDataSource) invoke(ctx context.Context, client *rpc.Client, result interface{}, method string, args ...interface{}) error {
	if err := s.limiter.Wait(ctx); err != nil {
		return err
	}
	if s.desc.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.desc.Timeout)
		defer cancel()
	}

	start := time.Now()
	err := client.CallContext(ctx, result, method, args...)
	metrics.RPCRequestDuration.WithLabelValues(s.desc.ID, method).Observe(time.Since(start).Seconds())

	status := "ok"
	if err != nil {
		status = "error"
	}
	metrics.RPCRequests.WithLabelValues(s.desc.ID, method, status).Inc()
	return err
}

// call runs a retried JSON-RPC call on the connected client
func (s *RPCDataSource) call(ctx context.Context, result interface{}, method string, args ...interface{}) error {
	s.mu.RLock()
	client, state := s.client, s.state
	s.mu.RUnlock()
	if state != sources.StateConnected || client == nil {
		return sources.ErrNotConnected
	}

	return s.withRetry(ctx, method, func(ctx context.Context) error {
		return s.invoke(ctx, client, result, method, args...)
	})
}

// GetSlot returns the latest confirmed slot
func (s *RPCDataSource) GetSlot(ctx context.Context) (uint64, error) {
	var slot uint64
	if err := s.call(ctx, &slot, "getSlot", map[string]interface{}{"commitment": commitment}); err != nil {
		return 0, fmt.Errorf("failed to get slot: %w", err)
	}
	return slot, nil
}

// GetTransaction returns a transaction by signature, or nil when the node does not know it
func (s *RPCDataSource) GetTransaction(ctx context.Context, signature string) (*entities.RawTransaction, error) {
	if _, err := solanago.SignatureFromBase58(signature); err != nil {
		return nil, fmt.Errorf("invalid signature %q: %w", signature, err)
	}

	var raw json.RawMessage
	err := s.call(ctx, &raw, "getTransaction", signature, map[string]interface{}{
		"encoding":                       "json",
		"commitment":                     commitment,
		"maxSupportedTransactionVersion": 0,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get transaction %s: %w", signature, err)
	}
	if isNull(raw) {
		return nil, nil
	}

	tx, err := ParseTransaction(raw, 0, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to parse transaction %s: %w", signature, err)
	}
	return &tx, nil
}

// GetTransactionsBySlot returns every transaction of the block at slot.
// Skipped slots yield an empty list.
func (s *RPCDataSource) GetTransactionsBySlot(ctx context.Context, slot uint64) ([]entities.RawTransaction, error) {
	var block *blockResult
	err := s.call(ctx, &block, "getBlock", slot, map[string]interface{}{
		"encoding":                       "json",
		"commitment":                     commitment,
		"transactionDetails":             "full",
		"rewards":                        false,
		"maxSupportedTransactionVersion": 0,
	})
	if err != nil {
		if isSkippedSlot(err) {
			s.logger.Debug("Slot has no block", zap.Uint64("slot", slot))
			return []entities.RawTransaction{}, nil
		}
		return nil, fmt.Errorf("failed to get block %d: %w", slot, err)
	}
	if block == nil {
		return []entities.RawTransaction{}, nil
	}

	txs, failedIndices := ParseBlockTransactions(slot, *block)
	if len(failedIndices) > 0 {
		s.logger.Warn("Failed to parse some transactions",
			zap.Uint64("slot", slot),
			zap.Int("failed_count", len(failedIndices)),
			zap.Int("total_transactions", len(block.Transactions)),
		)
	}
	return txs, nil
}

// GetTransactionsByAccount returns the most recent transactions touching account, newest first
func (s *RPCDataSource) GetTransactionsByAccount(ctx context.Context, account string, limit int) ([]entities.RawTransaction, error) {
	if _, err := solanago.PublicKeyFromBase58(account); err != nil {
		return nil, fmt.Errorf("invalid account %q: %w", account, err)
	}
	if limit <= 0 {
		limit = defaultAccountLimit
	}
	if limit > maxAccountLimit {
		limit = maxAccountLimit
	}

	var infos []signatureInfo
	err := s.call(ctx, &infos, "getSignaturesForAddress", account, map[string]interface{}{
		"limit":      limit,
		"commitment": commitment,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get signatures for %s: %w", account, err)
	}

	results := make([]*entities.RawTransaction, len(infos))
	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(accountFetchWorkers)
	for i, info := range infos {
		g.Go(func() error {
			tx, err := s.GetTransaction(gCtx, info.Signature)
			if err != nil {
				return err
			}
			results[i] = tx
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	out := make([]entities.RawTransaction, 0, len(results))
	for _, tx := range results {
		if tx != nil {
			out = append(out, *tx)
		}
	}
	return out, nil
}

// SubscribeToTransactions registers callback for the transactions of every new slot
func (s *RPCDataSource) SubscribeToTransactions(ctx context.Context, callback sources.TransactionCallback) (string, error) {
	if !s.IsConnected() {
		return "", sources.ErrNotConnected
	}

	id := fmt.Sprintf("%s-sub-%d", s.desc.ID, s.subSeq.Add(1))
	s.subs.Store(id, callback)
	s.startFeed()

	s.logger.Info("Subscribed to transactions", zap.String("subscription_id", id))
	return id, nil
}

// UnsubscribeFromTransactions removes a subscription. The slot feed stops with the last one.
func (s *RPCDataSource) UnsubscribeFromTransactions(ctx context.Context, subscriptionID string) error {
	if _, ok := s.subs.LoadAndDelete(subscriptionID); !ok {
		return sources.ErrSubscriptionNotFound
	}
	if s.subs.Size() == 0 {
		s.stopFeed()
	}
	return nil
}

// OnGap registers the callback for slots the subscription feed had to skip
func (s *RPCDataSource) OnGap(cb sources.GapCallback) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onGap = cb
}

func (s *RPCDataSource) gapCallback() sources.GapCallback {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.onGap
}

// SubscriptionCount returns the number of active subscriptions
func (s *RPCDataSource) SubscriptionCount() int {
	return s.subs.Size()
}

// HealthCheck asks the node for getHealth. A source that was marked
// disconnected tries to reconnect first.
func (s *RPCDataSource) HealthCheck(ctx context.Context) (bool, error) {
	if !s.IsConnected() {
		if err := s.Connect(ctx); err != nil {
			return false, err
		}
	}

	s.mu.RLock()
	client := s.client
	s.mu.RUnlock()
	if client == nil {
		return false, sources.ErrNotConnected
	}

	var status string
	if err := s.invoke(ctx, client, &status, "getHealth"); err != nil {
		return false, fmt.Errorf("failed to get health: %w", err)
	}
	return status == "ok", nil
}

func isSkippedSlot(err error) bool {
	var rpcErr rpc.Error
	if !errors.As(err, &rpcErr) {
		return false
	}
	code := rpcErr.ErrorCode()
	return code == codeSlotSkipped || code == codeSlotMissingInStore
}

func isNull(raw json.RawMessage) bool {
	return len(raw) == 0 || string(raw) == "null"
}
