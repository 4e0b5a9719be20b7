package database

import (
	"context"
	"errors"
	"sync"
)

// ErrNoBackend is returned when no record store backend has been registered.
var ErrNoBackend = errors.New("no identity store backend registered: DATABASE_URL or MARIADB_DSN is required")

var (
	backendMu      sync.RWMutex
	backendName    string
	recordStoreNew func() RecordStore
)

// RegisterRecordStore registers the active identity store backend.
// This is called by the postgres and mariadb packages to avoid import cycles.
func RegisterRecordStore(name string, newStore func() RecordStore) {
	backendMu.Lock()
	defer backendMu.Unlock()
	backendName = name
	recordStoreNew = newStore
}

// ResetBackend clears the registered backend.
func ResetBackend() {
	backendMu.Lock()
	defer backendMu.Unlock()
	backendName = ""
	recordStoreNew = nil
}

// BackendName returns the name of the registered backend, or "" if none.
func BackendName() string {
	backendMu.RLock()
	defer backendMu.RUnlock()
	return backendName
}

// IsInitialized returns whether a backend has been registered.
func IsInitialized() bool {
	backendMu.RLock()
	defer backendMu.RUnlock()
	return recordStoreNew != nil
}

// GetRecordStore returns a RecordStore from the registered backend.
func GetRecordStore(_ context.Context) (RecordStore, error) {
	backendMu.RLock()
	defer backendMu.RUnlock()
	if recordStoreNew == nil {
		return nil, ErrNoBackend
	}
	return recordStoreNew(), nil
}
