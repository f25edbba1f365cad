package entities

import (
	"encoding/json"
	"errors"
	"time"
)

// RawTransaction is a transaction as produced by a data source.
// Records are append-only; re-inserting the same signature and slot supersedes the old one.
type RawTransaction struct {
	Signature string          `json:"signature"`
	Slot      uint64          `json:"slot"`
	Timestamp *time.Time      `json:"timestamp,omitempty"`
	Payload   json.RawMessage `json:"payload,omitempty"`

	// Accounts lists the account keys of the transaction message, fee payer first.
	Accounts []string `json:"accounts,omitempty"`
	// Signers is the prefix of Accounts that signed the transaction.
	Signers []string `json:"signers,omitempty"`
	// Programs lists the program ids invoked by top-level instructions.
	Programs []string `json:"programs,omitempty"`
	Fee      uint64   `json:"fee,omitempty"`
	Err      string   `json:"err,omitempty"`
}

// ErrMissingSignature indicates a transaction without its natural key
var ErrMissingSignature = errors.New("transaction signature is required")

// Validate checks the required fields of the transaction
func (t RawTransaction) Validate() error {
	if t.Signature == "" {
		return ErrMissingSignature
	}
	return nil
}

// Succeeded reports whether the transaction executed without error
func (t RawTransaction) Succeeded() bool {
	return t.Err == ""
}
