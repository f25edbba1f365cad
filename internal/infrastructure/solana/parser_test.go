package solana

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/bimakw/solana-ingestor/internal/domain/entities"
	"github.com/bimakw/solana-ingestor/internal/testutil"
)

func mustJSON(t *testing.T, v interface{}) json.RawMessage {
	t.Helper()
	b, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("failed to marshal: %v", err)
	}
	return b
}

func TestParseTransaction_Success(t *testing.T) {
	accounts := []string{testutil.AliceAccount, testutil.BobAccount, testutil.TokenProgram, testutil.SystemProgram}
	raw := mustJSON(t, txJSON(sigA, accounts, 2, []int{3, 2}, 10000, nil))
	blockTime := int64(1700000000)

	tx, err := ParseTransaction(raw, 55, &blockTime)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if tx.Signature != sigA {
		t.Errorf("expected signature %s, got %s", sigA, tx.Signature)
	}
	if tx.Slot != 55 {
		t.Errorf("expected slot 55, got %d", tx.Slot)
	}
	if len(tx.Signers) != 2 || tx.Signers[1] != testutil.BobAccount {
		t.Errorf("expected Alice and Bob as signers, got %v", tx.Signers)
	}
	if len(tx.Programs) != 2 || tx.Programs[0] != testutil.SystemProgram || tx.Programs[1] != testutil.TokenProgram {
		t.Errorf("expected programs in instruction order, got %v", tx.Programs)
	}
	if tx.Fee != 10000 {
		t.Errorf("expected fee 10000, got %d", tx.Fee)
	}
	if !tx.Succeeded() {
		t.Errorf("expected success, got err %q", tx.Err)
	}
	if len(tx.Payload) == 0 {
		t.Error("expected raw payload to be kept")
	}
}

func TestParseTransaction_PayloadSlotWins(t *testing.T) {
	accounts := []string{testutil.AliceAccount, testutil.SystemProgram}
	body := txJSON(sigA, accounts, 1, []int{1}, 5000, nil)
	body["slot"] = 900

	tx, err := ParseTransaction(mustJSON(t, body), 1, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if tx.Slot != 900 {
		t.Errorf("expected slot 900, got %d", tx.Slot)
	}
	if tx.Timestamp != nil {
		t.Errorf("expected no timestamp, got %v", tx.Timestamp)
	}
}

func TestParseTransaction_Invalid(t *testing.T) {
	accounts := []string{testutil.AliceAccount, testutil.SystemProgram}

	tests := []struct {
		name string
		raw  json.RawMessage
	}{
		{"not json", json.RawMessage(`{`)},
		{"no transaction", mustJSON(t, map[string]interface{}{"meta": nil})},
		{"no signatures", mustJSON(t, txJSON("", accounts, 1, nil, 0, nil))},
		{"bad signature", mustJSON(t, txJSON("0OIl", accounts, 1, nil, 0, nil))},
		{"too many signers", mustJSON(t, txJSON(sigA, accounts, 3, nil, 0, nil))},
		{"program out of range", mustJSON(t, txJSON(sigA, accounts, 1, []int{7}, 0, nil))},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := ParseTransaction(tt.raw, 1, nil); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestParseTransaction_EmptySignatureList(t *testing.T) {
	body := txJSON(sigA, []string{testutil.AliceAccount}, 1, nil, 0, nil)
	body["transaction"].(map[string]interface{})["signatures"] = []string{}

	_, err := ParseTransaction(mustJSON(t, body), 1, nil)
	if !errors.Is(err, entities.ErrMissingSignature) {
		t.Errorf("expected ErrMissingSignature, got %v", err)
	}
}

func TestParseBlockTransactions(t *testing.T) {
	accounts := []string{testutil.AliceAccount, testutil.SystemProgram}
	blockTime := int64(1700000000)
	block := blockResult{
		BlockTime: &blockTime,
		Transactions: []json.RawMessage{
			mustJSON(t, txJSON(sigA, accounts, 1, []int{1}, 5000, nil)),
			json.RawMessage(`{"transaction": null}`),
			mustJSON(t, txJSON(sigB, accounts, 1, []int{1}, 5000, nil)),
		},
	}

	txs, failed := ParseBlockTransactions(12, block)

	if len(txs) != 2 {
		t.Fatalf("expected 2 transactions, got %d", len(txs))
	}
	if len(failed) != 1 || failed[0] != 1 {
		t.Errorf("expected failed index [1], got %v", failed)
	}
	for _, tx := range txs {
		if tx.Slot != 12 || tx.Timestamp == nil {
			t.Errorf("expected slot 12 with block time, got %+v", tx)
		}
	}
}
