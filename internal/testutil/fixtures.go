package testutil

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/bimakw/solana-ingestor/internal/domain/entities"
)

// Common test accounts
const (
	SystemProgram = "11111111111111111111111111111111"
	TokenProgram  = "TokenkegQfeZyiNwAJbNbGKPFXCWuBvf9Ss623VQ5DA"
	AliceAccount  = "9WzDXwBbmkg8ZTbNMqUxvQRAyrZzDsGYdLVL9zYtAWWM"
	BobAccount    = "HN7cABqLq46Es1jh92dQQisAq662SmxELLLsHHe4YWrH"
)

// CreateTestTransaction creates a test transaction with default values
func CreateTestTransaction(opts ...TransactionOption) entities.RawTransaction {
	ts := time.Date(2024, 1, 15, 10, 30, 0, 0, time.UTC)
	tx := entities.RawTransaction{
		Signature: "5VERv8NMvzbJMEkV8xnrLkEaWRtSz9CosKDYjCJjBRnbJLgp8uirBgmQpjKhoR4tjF3ZpRzrFmBV6UjKdiSZkQUW",
		Slot:      250000000,
		Timestamp: &ts,
		Payload:   json.RawMessage(`{"meta":{"fee":5000}}`),
		Accounts:  []string{AliceAccount, BobAccount, SystemProgram},
		Signers:   []string{AliceAccount},
		Programs:  []string{SystemProgram},
		Fee:       5000,
	}

	for _, opt := range opts {
		opt(&tx)
	}

	return tx
}

type TransactionOption func(*entities.RawTransaction)

func WithSignature(sig string) TransactionOption {
	return func(tx *entities.RawTransaction) {
		tx.Signature = sig
	}
}

func WithSlot(slot uint64) TransactionOption {
	return func(tx *entities.RawTransaction) {
		tx.Slot = slot
	}
}

func WithTimestamp(ts time.Time) TransactionOption {
	return func(tx *entities.RawTransaction) {
		tx.Timestamp = &ts
	}
}

func WithAccounts(accounts ...string) TransactionOption {
	return func(tx *entities.RawTransaction) {
		tx.Accounts = accounts
	}
}

func WithSigners(signers ...string) TransactionOption {
	return func(tx *entities.RawTransaction) {
		tx.Signers = signers
	}
}

func WithPrograms(programs ...string) TransactionOption {
	return func(tx *entities.RawTransaction) {
		tx.Programs = programs
	}
}

func WithError(msg string) TransactionOption {
	return func(tx *entities.RawTransaction) {
		tx.Err = msg
	}
}

// SlotTransactions creates n transactions for a slot with distinct signatures
func SlotTransactions(slot uint64, n int) []entities.RawTransaction {
	out := make([]entities.RawTransaction, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, CreateTestTransaction(
			WithSlot(slot),
			WithSignature(fmt.Sprintf("sig-%d-%d", slot, i)),
		))
	}
	return out
}

// CreateTestDescriptor creates a data source descriptor with default values
func CreateTestDescriptor(opts ...DescriptorOption) entities.DataSourceDescriptor {
	d := entities.DataSourceDescriptor{
		ID:       "primary",
		Type:     entities.DataSourceMock,
		Priority: 10,
		Enabled:  true,
	}

	for _, opt := range opts {
		opt(&d)
	}

	return d
}

type DescriptorOption func(*entities.DataSourceDescriptor)

func DescriptorWithID(id string) DescriptorOption {
	return func(d *entities.DataSourceDescriptor) {
		d.ID = id
	}
}

func DescriptorWithType(t entities.DataSourceType) DescriptorOption {
	return func(d *entities.DataSourceDescriptor) {
		d.Type = t
	}
}

func DescriptorWithPriority(p int) DescriptorOption {
	return func(d *entities.DataSourceDescriptor) {
		d.Priority = p
	}
}

func DescriptorWithEndpoint(endpoint string) DescriptorOption {
	return func(d *entities.DataSourceDescriptor) {
		d.Endpoint = endpoint
	}
}

func DescriptorWithEnabled(enabled bool) DescriptorOption {
	return func(d *entities.DataSourceDescriptor) {
		d.Enabled = enabled
	}
}

func DescriptorWithRetryPolicy(maxRetries int, initial time.Duration, multiplier float64) DescriptorOption {
	return func(d *entities.DataSourceDescriptor) {
		d.RetryPolicy = &entities.RetryPolicy{
			MaxRetries:        maxRetries,
			InitialDelay:      initial,
			BackoffMultiplier: multiplier,
		}
	}
}

func DescriptorWithWSEndpoint(endpoint string) DescriptorOption {
	return func(d *entities.DataSourceDescriptor) {
		d.WSEndpoint = endpoint
	}
}

func DescriptorWithRateLimit(perSecond int) DescriptorOption {
	return func(d *entities.DataSourceDescriptor) {
		d.RateLimit = &entities.RateLimit{RequestsPerSecond: perSecond}
	}
}
