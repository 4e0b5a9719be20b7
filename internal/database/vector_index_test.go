package database

import (
	"errors"
	"math"
	"testing"
)

func TestCosineDistance(t *testing.T) {
	tests := []struct {
		name string
		a, b []float32
		want float64
	}{
		{"identical", []float32{1, 2, 3}, []float32{1, 2, 3}, 0},
		{"scaled", []float32{1, 2, 3}, []float32{2, 4, 6}, 0},
		{"orthogonal", []float32{1, 0}, []float32{0, 1}, 1},
		{"opposite", []float32{1, 0}, []float32{-1, 0}, 2},
		{"length mismatch", []float32{1, 0}, []float32{1}, 2},
		{"empty", []float32{}, []float32{}, 2},
		{"zero vector", []float32{0, 0}, []float32{1, 0}, 2},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := CosineDistance(tt.a, tt.b)
			if math.Abs(got-tt.want) > 1e-6 {
				t.Errorf("CosineDistance(%v, %v) = %v, want %v", tt.a, tt.b, got, tt.want)
			}
		})
	}
}

func TestFlatIndex_Query(t *testing.T) {
	idx := NewFlatIndex()
	if pos := idx.Add([]float32{1, 0, 0}); pos != 0 {
		t.Fatalf("first Add returned %d, want 0", pos)
	}
	idx.Add([]float32{0, 1, 0})
	idx.Add([]float32{0.9, 0.1, 0})

	positions, distances, err := idx.Query([][]float32{{1, 0, 0}, {0, 1, 0}}, 2)
	if err != nil {
		t.Fatalf("Query failed: %v", err)
	}

	if positions[0][0] != 0 || positions[0][1] != 2 {
		t.Errorf("query 0 positions = %v, want [0 2]", positions[0])
	}
	if distances[0][0] > 1e-6 {
		t.Errorf("query 0 nearest distance = %v, want 0", distances[0][0])
	}
	if distances[0][0] > distances[0][1] {
		t.Errorf("distances not ascending: %v", distances[0])
	}
	if positions[1][0] != 1 {
		t.Errorf("query 1 nearest = %d, want 1", positions[1][0])
	}
}

func TestFlatIndex_KClampedToSize(t *testing.T) {
	idx := NewFlatIndex()
	idx.Add([]float32{1, 0})

	positions, distances, err := idx.Query([][]float32{{1, 0}}, 2)
	if err != nil {
		t.Fatalf("Query failed: %v", err)
	}
	if len(positions[0]) != 1 || len(distances[0]) != 1 {
		t.Errorf("expected one neighbour, got %v", positions[0])
	}
}

func TestFlatIndex_Empty(t *testing.T) {
	idx := NewFlatIndex()
	positions, _, err := idx.Query([][]float32{{1, 0}}, 2)
	if err != nil {
		t.Fatalf("Query failed: %v", err)
	}
	if len(positions) != 1 || len(positions[0]) != 0 {
		t.Errorf("expected one empty result, got %v", positions)
	}
}

func TestFlatIndex_DimensionMismatch(t *testing.T) {
	idx := NewFlatIndex()
	idx.Add([]float32{1, 0})
	_, _, err := idx.Query([][]float32{{1, 0, 0}}, 1)
	if !errors.Is(err, ErrDimensionMismatch) {
		t.Errorf("expected ErrDimensionMismatch, got %v", err)
	}
}

func TestFlatIndex_Reset(t *testing.T) {
	idx := NewFlatIndex()
	idx.Add([]float32{1, 0})
	idx.Reset()
	if idx.Len() != 0 {
		t.Errorf("Len() after Reset = %d, want 0", idx.Len())
	}
	if pos := idx.Add([]float32{0, 1}); pos != 0 {
		t.Errorf("Add after Reset returned %d, want 0", pos)
	}
}

func TestNewVectorIndex(t *testing.T) {
	tests := []struct {
		kind     string
		size     int
		wantFlat bool
		wantErr  bool
	}{
		{IndexKindFlat, 1_000_000, true, false},
		{IndexKindHNSW, 1, false, false},
		{IndexKindAuto, 10, true, false},
		{"", 10, true, false},
		{IndexKindAuto, FlatIndexMaxSize + 1, false, false},
		{"bogus", 1, false, true},
	}

	for _, tt := range tests {
		t.Run(tt.kind, func(t *testing.T) {
			idx, err := NewVectorIndex(tt.kind, tt.size)
			if tt.wantErr {
				if err == nil {
					t.Error("expected error")
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			_, isFlat := idx.(*FlatIndex)
			if isFlat != tt.wantFlat {
				t.Errorf("NewVectorIndex(%q, %d) flat = %v, want %v", tt.kind, tt.size, isFlat, tt.wantFlat)
			}
		})
	}
}
