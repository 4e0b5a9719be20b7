package database

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"sync"
)

// ErrDimensionMismatch is returned when a query vector does not match the indexed dimensionality.
var ErrDimensionMismatch = errors.New("embedding dimension mismatch")

// VectorIndex is a nearest-neighbour index over face embeddings.
// Positions are assigned densely in insertion order starting at 0.
type VectorIndex interface {
	// Add inserts a vector and returns its position
	Add(vec []float32) int
	// Query returns, for every query vector, up to k positions and their cosine
	// distances ordered nearest first
	Query(queries [][]float32, k int) ([][]int, [][]float64, error)
	// Reset drops every indexed vector
	Reset()
	// Len returns the number of indexed vectors
	Len() int
}

// NewVectorIndex returns an empty index of the requested kind.
// IndexKindAuto chooses the flat index for galleries up to FlatIndexMaxSize.
func NewVectorIndex(kind string, expectedSize int) (VectorIndex, error) {
	switch kind {
	case IndexKindFlat:
		return NewFlatIndex(), nil
	case IndexKindHNSW:
		return NewHNSWIndex(), nil
	case IndexKindAuto, "":
		if expectedSize <= FlatIndexMaxSize {
			return NewFlatIndex(), nil
		}
		return NewHNSWIndex(), nil
	default:
		return nil, fmt.Errorf("unknown index kind %q", kind)
	}
}

// CosineDistance computes the cosine distance between two vectors
// Returns a value between 0 (identical) and 2 (opposite)
func CosineDistance(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return maxCosineDistance
	}

	var dotProduct, normA, normB float64
	for i := range a {
		dotProduct += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}

	if normA == 0 || normB == 0 {
		return maxCosineDistance
	}

	similarity := dotProduct / (math.Sqrt(normA) * math.Sqrt(normB))
	return 1 - math.Max(-1, math.Min(1, similarity))
}

// FlatIndex is an exact brute-force cosine index.
type FlatIndex struct {
	mu      sync.RWMutex
	vectors [][]float32
}

// NewFlatIndex creates a new empty flat index.
func NewFlatIndex() *FlatIndex {
	return &FlatIndex{}
}

func (f *FlatIndex) Add(vec []float32) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.vectors = append(f.vectors, append([]float32(nil), vec...))
	return len(f.vectors) - 1
}

func (f *FlatIndex) Query(queries [][]float32, k int) ([][]int, [][]float64, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	k = min(k, len(f.vectors))
	positions := make([][]int, len(queries))
	distances := make([][]float64, len(queries))
	if k <= 0 {
		for i := range queries {
			positions[i] = []int{}
			distances[i] = []float64{}
		}
		return positions, distances, nil
	}

	dim := len(f.vectors[0])
	for qi, q := range queries {
		if len(q) != dim {
			return nil, nil, fmt.Errorf("query %d has %d dims, index has %d: %w", qi, len(q), dim, ErrDimensionMismatch)
		}
		order := make([]int, len(f.vectors))
		dist := make([]float64, len(f.vectors))
		for i, v := range f.vectors {
			order[i] = i
			dist[i] = CosineDistance(q, v)
		}
		sort.SliceStable(order, func(a, b int) bool { return dist[order[a]] < dist[order[b]] })

		positions[qi] = make([]int, k)
		distances[qi] = make([]float64, k)
		for j := range k {
			positions[qi][j] = order[j]
			distances[qi][j] = dist[order[j]]
		}
	}
	return positions, distances, nil
}

func (f *FlatIndex) Reset() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.vectors = nil
}

func (f *FlatIndex) Len() int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return len(f.vectors)
}
