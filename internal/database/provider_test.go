package database

import (
	"context"
	"errors"
	"testing"
)

type nopStore struct{}

func (nopStore) LoadAll(context.Context) ([]IdentityRecord, error) { return nil, nil }
func (nopStore) Count(context.Context) (int, error) { return 0, nil }
func (nopStore) ReplaceAll(context.Context, []IdentityRecord) error { return nil }
func (nopStore) Remove(context.Context, []string) (int, error) { return 0, nil }

func TestGetRecordStore(t *testing.T) {
	ResetBackend()
	t.Cleanup(ResetBackend)

	if _, err := GetRecordStore(context.Background()); !errors.Is(err, ErrNoBackend) {
		t.Errorf("expected ErrNoBackend, got %v", err)
	}
	if IsInitialized() {
		t.Error("expected not initialized")
	}

	RegisterRecordStore("nop", func() RecordStore { return nopStore{} })

	store, err := GetRecordStore(context.Background())
	if err != nil {
		t.Fatalf("GetRecordStore failed: %v", err)
	}
	if store == nil {
		t.Fatal("expected a store")
	}
	if BackendName() != "nop" {
		t.Errorf("BackendName() = %q, want nop", BackendName())
	}
}
