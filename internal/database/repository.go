package database

import (
	"context"
)

// RecordReader provides read-only access to enrolled identities
type RecordReader interface {
	// LoadAll returns every identity in enrollment order
	LoadAll(ctx context.Context) ([]IdentityRecord, error)
	// Count returns the number of stored identities
	Count(ctx context.Context) (int, error)
}

// RecordWriter provides write access to enrolled identities
type RecordWriter interface {
	// ReplaceAll atomically drops all stored identities and saves records in order
	ReplaceAll(ctx context.Context, records []IdentityRecord) error
	// Remove deletes every identity whose name is in names and returns how many rows went away
	Remove(ctx context.Context, names []string) (int, error)
}

// RecordStore combines read and write access to the identity table.
type RecordStore interface {
	RecordReader
	RecordWriter
}
