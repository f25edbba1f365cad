package cache

import (
	"testing"
	"time"
)

func TestDecodeCheckpoint_Empty(t *testing.T) {
	cp, err := decodeCheckpoint(map[string]string{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cp != nil {
		t.Errorf("expected no checkpoint, got %+v", cp)
	}
}

func TestDecodeCheckpoint_Full(t *testing.T) {
	cp, err := decodeCheckpoint(map[string]string{
		fieldLastSlot:      "250000000",
		fieldIsBackfilling: "true",
		fieldBackfillFrom:  "100",
		fieldBackfillTo:    "200",
		fieldUpdatedAt:     "2024-01-15T10:30:00Z",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cp.LastProcessedSlot != 250000000 {
		t.Errorf("expected slot 250000000, got %d", cp.LastProcessedSlot)
	}
	if !cp.IsBackfilling {
		t.Error("expected backfilling")
	}
	if cp.BackfillFromSlot == nil || *cp.BackfillFromSlot != 100 {
		t.Errorf("expected from slot 100, got %v", cp.BackfillFromSlot)
	}
	if cp.BackfillToSlot == nil || *cp.BackfillToSlot != 200 {
		t.Errorf("expected to slot 200, got %v", cp.BackfillToSlot)
	}
	if !cp.UpdatedAt.Equal(time.Date(2024, 1, 15, 10, 30, 0, 0, time.UTC)) {
		t.Errorf("unexpected updated_at %v", cp.UpdatedAt)
	}
}

func TestDecodeCheckpoint_SlotOnly(t *testing.T) {
	cp, err := decodeCheckpoint(map[string]string{fieldLastSlot: "7"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cp.LastProcessedSlot != 7 || cp.IsBackfilling || cp.BackfillFromSlot != nil {
		t.Errorf("unexpected checkpoint %+v", cp)
	}
}

func TestDecodeCheckpoint_Invalid(t *testing.T) {
	tests := []struct {
		name   string
		fields map[string]string
	}{
		{"slot", map[string]string{fieldLastSlot: "-1"}},
		{"flag", map[string]string{fieldIsBackfilling: "maybe"}},
		{"from", map[string]string{fieldBackfillFrom: "x"}},
		{"updated_at", map[string]string{fieldUpdatedAt: "yesterday"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := decodeCheckpoint(tt.fields); err == nil {
				t.Error("expected error")
			}
		})
	}
}
