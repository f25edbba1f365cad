package entities

import (
	"encoding/json"
	"strconv"
	"time"
)

// Measurement names used by the ingestion pipeline
const (
	MeasurementTransactions = "transactions"
)

// Tag keys used by the ingestion pipeline
const (
	TagSignature = "signature"
	TagSlot      = "slot"
	TagSource    = "source"
	TagOrigin    = "origin"
)

// Origins of stored transactions
const (
	OriginLive     = "live"
	OriginBackfill = "backfill"
)

// Tags is the exact-match filterable tag set of an entry
type Tags map[string]string

// TimeSeriesEntry is one point of a measurement
type TimeSeriesEntry struct {
	Timestamp time.Time       `json:"timestamp"`
	Data      json.RawMessage `json:"data"`
	Tags      Tags            `json:"tags,omitempty"`
}

// Key returns the upsert key of the entry. Entries tagged with a signature
// are keyed by signature and slot; other entries have no key and always append.
func (e TimeSeriesEntry) Key() string {
	sig, ok := e.Tags[TagSignature]
	if !ok || sig == "" {
		return ""
	}
	return sig + ":" + e.Tags[TagSlot]
}

// Matches reports whether the entry carries every tag of filter with the same value
func (e TimeSeriesEntry) Matches(filter Tags) bool {
	for k, v := range filter {
		if got, ok := e.Tags[k]; !ok || got != v {
			return false
		}
	}
	return true
}

// SortOrder orders query results by timestamp
type SortOrder string

const (
	SortAsc  SortOrder = "asc"
	SortDesc SortOrder = "desc"
)

// TimeSeriesQuery filters entries of a measurement
type TimeSeriesQuery struct {
	From  *time.Time
	To    *time.Time
	Tags  Tags
	Order SortOrder
	Limit int
}

// MeasurementMetadata summarizes a measurement
type MeasurementMetadata struct {
	Measurement string    `json:"measurement"`
	Count       int64     `json:"count"`
	FirstSeen   time.Time `json:"first_seen"`
	LastSeen    time.Time `json:"last_seen"`
	TagKeys     []string  `json:"tag_keys"`
}

// SlotTag formats a slot for use as a tag value
func SlotTag(slot uint64) string {
	return strconv.FormatUint(slot, 10)
}

// NewTransactionEntry builds the time-series entry stored for a raw transaction
func NewTransactionEntry(tx RawTransaction, sourceID, origin string, now time.Time) (TimeSeriesEntry, error) {
	data, err := json.Marshal(tx)
	if err != nil {
		return TimeSeriesEntry{}, err
	}
	ts := now
	if tx.Timestamp != nil {
		ts = *tx.Timestamp
	}
	return TimeSeriesEntry{
		Timestamp: ts,
		Data:      data,
		Tags: Tags{
			TagSignature: tx.Signature,
			TagSlot:      SlotTag(tx.Slot),
			TagSource:    sourceID,
			TagOrigin:    origin,
		},
	}, nil
}
