// Package mock provides mock implementations of database interfaces for testing.
package mock

import (
	"context"
	"sync"

	"github.com/kozaktomas/facewatch/internal/database"
)

// MockRecordStore is an in-memory implementation of database.RecordStore
type MockRecordStore struct {
	mu      sync.RWMutex
	records []database.IdentityRecord

	// Call counters
	LoadCalls    int
	ReplaceCalls int

	// Error injection
	LoadError    error
	CountError   error
	ReplaceError error
	RemoveError  error
}

// NewMockRecordStore creates a new mock store seeded with records
func NewMockRecordStore(records ...database.IdentityRecord) *MockRecordStore {
	return &MockRecordStore{records: append([]database.IdentityRecord(nil), records...)}
}

// LoadAll returns a copy of the stored records
func (m *MockRecordStore) LoadAll(ctx context.Context) ([]database.IdentityRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.LoadCalls++
	if m.LoadError != nil {
		return nil, m.LoadError
	}
	return append([]database.IdentityRecord(nil), m.records...), nil
}

// Count returns the number of stored records
func (m *MockRecordStore) Count(ctx context.Context) (int, error) {
	if m.CountError != nil {
		return 0, m.CountError
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.records), nil
}

// ReplaceAll replaces the stored records
func (m *MockRecordStore) ReplaceAll(ctx context.Context, records []database.IdentityRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ReplaceCalls++
	if m.ReplaceError != nil {
		return m.ReplaceError
	}
	m.records = append([]database.IdentityRecord(nil), records...)
	return nil
}

// Remove deletes records by exact name
func (m *MockRecordStore) Remove(ctx context.Context, names []string) (int, error) {
	if m.RemoveError != nil {
		return 0, m.RemoveError
	}
	drop := make(map[string]bool, len(names))
	for _, n := range names {
		drop[n] = true
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	kept := m.records[:0]
	removed := 0
	for _, rec := range m.records {
		if drop[rec.Name] {
			removed++
			continue
		}
		kept = append(kept, rec)
	}
	m.records = kept
	return removed, nil
}

// Records returns a snapshot of the stored records
func (m *MockRecordStore) Records() []database.IdentityRecord {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]database.IdentityRecord(nil), m.records...)
}
