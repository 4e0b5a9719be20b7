package database

import (
	"path/filepath"
	"testing"
	"time"
)

func testVectors() [][]float32 {
	return [][]float32{
		{1, 0, 0, 0},
		{0, 1, 0, 0},
		{0, 0, 1, 0},
		{0, 0, 0, 1},
	}
}

func TestHNSWIndex_AddAndQuery(t *testing.T) {
	idx := NewHNSWIndex()
	for i, v := range testVectors() {
		if pos := idx.Add(v); pos != i {
			t.Fatalf("Add returned %d, want %d", pos, i)
		}
	}
	if idx.Len() != 4 {
		t.Fatalf("Len() = %d, want 4", idx.Len())
	}

	positions, distances, err := idx.Query([][]float32{{0, 0, 1, 0}}, 2)
	if err != nil {
		t.Fatalf("Query failed: %v", err)
	}
	if len(positions[0]) == 0 || positions[0][0] != 2 {
		t.Fatalf("nearest = %v, want position 2 first", positions[0])
	}
	if distances[0][0] > 1e-6 {
		t.Errorf("nearest distance = %v, want 0", distances[0][0])
	}
}

func TestHNSWIndex_EmptyQuery(t *testing.T) {
	idx := NewHNSWIndex()
	positions, distances, err := idx.Query([][]float32{{1, 0}}, 2)
	if err != nil {
		t.Fatalf("Query failed: %v", err)
	}
	if len(positions[0]) != 0 || len(distances[0]) != 0 {
		t.Errorf("expected empty result, got %v", positions)
	}
}

func TestHNSWIndex_Reset(t *testing.T) {
	idx := NewHNSWIndex()
	idx.Add([]float32{1, 0})
	idx.Reset()
	if idx.Len() != 0 {
		t.Errorf("Len() after Reset = %d, want 0", idx.Len())
	}
}

func TestHNSWIndex_SaveAndLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "faces.hnsw")

	idx := NewHNSWIndex()
	for _, v := range testVectors() {
		idx.Add(v)
	}
	if err := idx.SaveWithMetadata(path, HNSWIndexMetadata{Fingerprint: "abc", BuildTime: time.Now()}); err != nil {
		t.Fatalf("SaveWithMetadata failed: %v", err)
	}

	loaded, meta, err := LoadHNSWIndex(path)
	if err != nil {
		t.Fatalf("LoadHNSWIndex failed: %v", err)
	}
	if meta.Fingerprint != "abc" || meta.Count != 4 || meta.Dim != 4 {
		t.Errorf("unexpected metadata: %+v", meta)
	}
	if loaded.Len() != 4 {
		t.Errorf("loaded Len() = %d, want 4", loaded.Len())
	}
}

func TestLoadHNSWIndex_Missing(t *testing.T) {
	if _, _, err := LoadHNSWIndex(filepath.Join(t.TempDir(), "missing.hnsw")); err == nil {
		t.Error("expected error for missing index")
	}
}
