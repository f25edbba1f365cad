package solana

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	solanago "github.com/gagliardetto/solana-go"

	"github.com/bimakw/solana-ingestor/internal/domain/entities"
)

// versionResult is the getVersion response
type versionResult struct {
	SolanaCore string `json:"solana-core"`
	FeatureSet uint32 `json:"feature-set"`
}

// blockResult is the getBlock response with full json-encoded transactions
type blockResult struct {
	Blockhash    string            `json:"blockhash"`
	ParentSlot   uint64            `json:"parentSlot"`
	BlockTime    *int64            `json:"blockTime"`
	Transactions []json.RawMessage `json:"transactions"`
}

// transactionWithMeta is one element of getBlock.transactions, or a getTransaction response
type transactionWithMeta struct {
	Slot        uint64           `json:"slot"`
	BlockTime   *int64           `json:"blockTime"`
	Transaction *jsonTransaction `json:"transaction"`
	Meta        *transactionMeta `json:"meta"`
}

type jsonTransaction struct {
	Signatures []string    `json:"signatures"`
	Message    jsonMessage `json:"message"`
}

type jsonMessage struct {
	AccountKeys []string `json:"accountKeys"`
	Header      struct {
		NumRequiredSignatures int `json:"numRequiredSignatures"`
	} `json:"header"`
	Instructions []struct {
		ProgramIDIndex int `json:"programIdIndex"`
	} `json:"instructions"`
}

type transactionMeta struct {
	Err json.RawMessage `json:"err"`
	Fee uint64          `json:"fee"`
}

// signatureInfo is one element of the getSignaturesForAddress response
type signatureInfo struct {
	Signature string          `json:"signature"`
	Slot      uint64          `json:"slot"`
	BlockTime *int64          `json:"blockTime"`
	Err       json.RawMessage `json:"err"`
}

// slotNotification is a slotSubscribe push message
type slotNotification struct {
	Method string `json:"method"`
	Params struct {
		Subscription uint64 `json:"subscription"`
		Result       struct {
			Slot   uint64 `json:"slot"`
			Parent uint64 `json:"parent"`
		} `json:"result"`
	} `json:"params"`
}

var errMissingTransaction = errors.New("missing transaction body")

// ParseTransaction converts a json-encoded transaction into a RawTransaction.
// slot and blockTime are used when the payload does not carry them (getBlock elements).
func ParseTransaction(raw json.RawMessage, slot uint64, blockTime *int64) (entities.RawTransaction, error) {
	var twm transactionWithMeta
	if err := json.Unmarshal(raw, &twm); err != nil {
		return entities.RawTransaction{}, fmt.Errorf("failed to decode transaction: %w", err)
	}
	if twm.Transaction == nil {
		return entities.RawTransaction{}, errMissingTransaction
	}

	msg := twm.Transaction.Message
	if len(twm.Transaction.Signatures) == 0 {
		return entities.RawTransaction{}, entities.ErrMissingSignature
	}
	sig := twm.Transaction.Signatures[0]
	if _, err := solanago.SignatureFromBase58(sig); err != nil {
		return entities.RawTransaction{}, fmt.Errorf("invalid signature %q: %w", sig, err)
	}

	if twm.Slot != 0 {
		slot = twm.Slot
	}
	if twm.BlockTime != nil {
		blockTime = twm.BlockTime
	}

	tx := entities.RawTransaction{
		Signature: sig,
		Slot:      slot,
		Payload:   append(json.RawMessage(nil), raw...),
		Accounts:  msg.AccountKeys,
	}
	if blockTime != nil {
		ts := time.Unix(*blockTime, 0).UTC()
		tx.Timestamp = &ts
	}

	n := msg.Header.NumRequiredSignatures
	if n > len(msg.AccountKeys) {
		return entities.RawTransaction{}, fmt.Errorf("header requires %d signers, message has %d accounts", n, len(msg.AccountKeys))
	}
	tx.Signers = msg.AccountKeys[:n]

	seen := make(map[string]struct{})
	for _, ix := range msg.Instructions {
		if ix.ProgramIDIndex < 0 || ix.ProgramIDIndex >= len(msg.AccountKeys) {
			return entities.RawTransaction{}, fmt.Errorf("program index %d out of range", ix.ProgramIDIndex)
		}
		prog := msg.AccountKeys[ix.ProgramIDIndex]
		if _, ok := seen[prog]; ok {
			continue
		}
		seen[prog] = struct{}{}
		tx.Programs = append(tx.Programs, prog)
	}

	if twm.Meta != nil {
		tx.Fee = twm.Meta.Fee
		if e := bytes.TrimSpace(twm.Meta.Err); len(e) > 0 && !bytes.Equal(e, []byte("null")) {
			tx.Err = string(e)
		}
	}

	return tx, nil
}

// ParseBlockTransactions parses every transaction of a block.
// Returns parsed transactions and a list of failed indices.
func ParseBlockTransactions(slot uint64, block blockResult) ([]entities.RawTransaction, []int) {
	txs := make([]entities.RawTransaction, 0, len(block.Transactions))
	failedIndices := make([]int, 0)

	for i, raw := range block.Transactions {
		tx, err := ParseTransaction(raw, slot, block.BlockTime)
		if err != nil {
			failedIndices = append(failedIndices, i)
			continue
		}
		txs = append(txs, tx)
	}

	return txs, failedIndices
}
