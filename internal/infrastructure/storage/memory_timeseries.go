package storage

import (
	"context"
	"slices"
	"sort"
	"sync"

	"github.com/bimakw/solana-ingestor/internal/domain/entities"
	"github.com/bimakw/solana-ingestor/internal/domain/repositories"
)

// Ensure MemoryTimeSeries implements TimeSeriesStore
var _ repositories.TimeSeriesStore = (*MemoryTimeSeries)(nil)

type measurement struct {
	entries []entities.TimeSeriesEntry
	// index maps upsert keys to positions in entries
	index map[string]int
}

// MemoryTimeSeries is the in-memory reference time-series store
type MemoryTimeSeries struct {
	mu           sync.RWMutex
	measurements map[string]*measurement
	avail        *availability
}

// NewMemoryTimeSeries creates an empty store
func NewMemoryTimeSeries() *MemoryTimeSeries {
	return &MemoryTimeSeries{
		measurements: make(map[string]*measurement),
		avail:        newAvailability(),
	}
}

// SetAvailable simulates the backing system going away or coming back
func (s *MemoryTimeSeries) SetAvailable(ok bool) {
	s.avail.set(ok)
}

// Insert stores one entry, replacing an entry with the same upsert key
func (s *MemoryTimeSeries) Insert(ctx context.Context, name string, entry entities.TimeSeriesEntry) error {
	if err := s.avail.check("insert"); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.insertLocked(name, entry)
	return nil
}

// InsertBatch stores all entries
func (s *MemoryTimeSeries) InsertBatch(ctx context.Context, name string, entries []entities.TimeSeriesEntry) error {
	if err := s.avail.check("insert_batch"); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, e := range entries {
		s.insertLocked(name, e)
	}
	return nil
}

func (s *MemoryTimeSeries) insertLocked(name string, entry entities.TimeSeriesEntry) {
	m, ok := s.measurements[name]
	if !ok {
		m = &measurement{index: make(map[string]int)}
		s.measurements[name] = m
	}

	entry = cloneEntry(entry)
	key := entry.Key()
	if key != "" {
		if pos, exists := m.index[key]; exists {
			m.entries[pos] = entry
			return
		}
		m.index[key] = len(m.entries)
	}
	m.entries = append(m.entries, entry)
}

// Query returns entries of a measurement matching the query
func (s *MemoryTimeSeries) Query(ctx context.Context, name string, q entities.TimeSeriesQuery) ([]entities.TimeSeriesEntry, error) {
	if err := s.avail.check("query"); err != nil {
		return nil, err
	}

	s.mu.RLock()
	m, ok := s.measurements[name]
	if !ok {
		s.mu.RUnlock()
		return []entities.TimeSeriesEntry{}, nil
	}

	result := make([]entities.TimeSeriesEntry, 0)
	for _, e := range m.entries {
		if q.From != nil && e.Timestamp.Before(*q.From) {
			continue
		}
		if q.To != nil && e.Timestamp.After(*q.To) {
			continue
		}
		if !e.Matches(q.Tags) {
			continue
		}
		result = append(result, cloneEntry(e))
	}
	s.mu.RUnlock()

	// equal timestamps follow insertion order, reversed for descending queries
	if q.Order == entities.SortDesc {
		slices.Reverse(result)
		sort.SliceStable(result, func(i, j int) bool {
			return result[i].Timestamp.After(result[j].Timestamp)
		})
	} else {
		sort.SliceStable(result, func(i, j int) bool {
			return result[i].Timestamp.Before(result[j].Timestamp)
		})
	}

	if q.Limit > 0 && len(result) > q.Limit {
		result = result[:q.Limit]
	}
	return result, nil
}

// GetMetadata summarizes a measurement; ErrNotFound if it does not exist
func (s *MemoryTimeSeries) GetMetadata(ctx context.Context, name string) (*entities.MeasurementMetadata, error) {
	if err := s.avail.check("get_metadata"); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	m, ok := s.measurements[name]
	if !ok {
		return nil, repositories.NewStorageError("get_metadata", repositories.ErrNotFound)
	}

	meta := &entities.MeasurementMetadata{
		Measurement: name,
		Count:       int64(len(m.entries)),
		TagKeys:     []string{},
	}
	keys := make(map[string]struct{})
	for i, e := range m.entries {
		if i == 0 || e.Timestamp.Before(meta.FirstSeen) {
			meta.FirstSeen = e.Timestamp
		}
		if e.Timestamp.After(meta.LastSeen) {
			meta.LastSeen = e.Timestamp
		}
		for k := range e.Tags {
			keys[k] = struct{}{}
		}
	}
	for k := range keys {
		meta.TagKeys = append(meta.TagKeys, k)
	}
	sort.Strings(meta.TagKeys)
	return meta, nil
}

// DropMeasurement removes a measurement
func (s *MemoryTimeSeries) DropMeasurement(ctx context.Context, name string) error {
	if err := s.avail.check("drop_measurement"); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.measurements, name)
	return nil
}

func cloneEntry(e entities.TimeSeriesEntry) entities.TimeSeriesEntry {
	out := entities.TimeSeriesEntry{Timestamp: e.Timestamp}
	if e.Data != nil {
		out.Data = append([]byte(nil), e.Data...)
	}
	if e.Tags != nil {
		out.Tags = make(entities.Tags, len(e.Tags))
		for k, v := range e.Tags {
			out.Tags[k] = v
		}
	}
	return out
}
