package storage

import (
	"context"
	"sync"

	"github.com/google/uuid"
)

// MemoryRecordStore implements RecordStore in memory with the same identity
// semantics as the Postgres store. It backs dry-run imports and tests.
type MemoryRecordStore struct {
	mu      sync.RWMutex
	byKey   map[IdentityKey]struct{}
	records []ProcurementRecord
}

// NewMemoryRecordStore creates an empty in-memory record store.
func NewMemoryRecordStore() *MemoryRecordStore {
	return &MemoryRecordStore{
		byKey: make(map[IdentityKey]struct{}),
	}
}

// UpsertIfNew inserts the record unless its identity key is already present.
func (s *MemoryRecordStore) UpsertIfNew(_ context.Context, rec ProcurementRecord) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := rec.Identity()
	if _, exists := s.byKey[key]; exists {
		return false, nil
	}

	if rec.ID == uuid.Nil {
		rec.ID = uuid.New()
	}
	s.byKey[key] = struct{}{}
	s.records = append(s.records, rec)
	return true, nil
}

// InsertBatch feeds each record through UpsertIfNew.
func (s *MemoryRecordStore) InsertBatch(ctx context.Context, recs []ProcurementRecord) (int, error) {
	inserted := 0
	for _, rec := range recs {
		ok, err := s.UpsertIfNew(ctx, rec)
		if err != nil {
			continue
		}
		if ok {
			inserted++
		}
	}
	return inserted, nil
}

// Count returns the number of stored records.
func (s *MemoryRecordStore) Count(_ context.Context) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return int64(len(s.records)), nil
}

// Records returns a copy of the stored records in insertion order.
func (s *MemoryRecordStore) Records() []ProcurementRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]ProcurementRecord, len(s.records))
	copy(out, s.records)
	return out
}
