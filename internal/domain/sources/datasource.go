package sources

import (
	"context"
	"errors"

	"github.com/bimakw/solana-ingestor/internal/domain/entities"
)

var (
	// ErrNotConnected is returned by data operations on a disconnected source
	ErrNotConnected = errors.New("data source not connected")
	// ErrUnsupportedType is returned when no adapter exists for a descriptor type
	ErrUnsupportedType = errors.New("unsupported data source type")
	// ErrSubscriptionNotFound is returned when unsubscribing an unknown id
	ErrSubscriptionNotFound = errors.New("subscription not found")
)

// ConnectionState is the connection lifecycle of a data source
type ConnectionState string

const (
	StateDisconnected ConnectionState = "disconnected"
	StateConnecting   ConnectionState = "connecting"
	StateConnected    ConnectionState = "connected"
)

// TransactionCallback receives transactions pushed by a subscription
type TransactionCallback func(ctx context.Context, tx entities.RawTransaction)

// DataSource is a blockchain client adapter
type DataSource interface {
	ID() string
	Descriptor() entities.DataSourceDescriptor

	Connect(ctx context.Context) error
	Disconnect(ctx context.Context) error
	IsConnected() bool

	GetSlot(ctx context.Context) (uint64, error)
	GetTransaction(ctx context.Context, signature string) (*entities.RawTransaction, error)
	GetTransactionsBySlot(ctx context.Context, slot uint64) ([]entities.RawTransaction, error)
	GetTransactionsByAccount(ctx context.Context, account string, limit int) ([]entities.RawTransaction, error)

	SubscribeToTransactions(ctx context.Context, callback TransactionCallback) (string, error)
	UnsubscribeFromTransactions(ctx context.Context, subscriptionID string) error

	// HealthCheck probes the backend. An error counts as unhealthy.
	HealthCheck(ctx context.Context) (bool, error)
}

// Factory builds a data source for a descriptor
type Factory func(desc entities.DataSourceDescriptor) (DataSource, error)

// GapCallback receives a slot range a subscription could not deliver
type GapCallback func(r entities.SlotRange)

// GapReporter is implemented by sources whose subscriptions may have to skip slots,
// such as a feed that falls behind the chain head.
type GapReporter interface {
	OnGap(cb GapCallback)
}
