package database

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/coder/hnsw"
)

// HNSWIndexMetadata stores metadata for validating cached HNSW indexes.
type HNSWIndexMetadata struct {
	Count       int       `json:"count"`
	Dim         int       `json:"dim"`
	Fingerprint string    `json:"fingerprint"` // GalleryFingerprint of the records the graph was built from
	BuildTime   time.Time `json:"build_time"`
	Version     int       `json:"version"`
}

const hnswMetadataVersion = 2

// HNSWIndex wraps an HNSW graph keyed by gallery position.
type HNSWIndex struct {
	graph *hnsw.Graph[int]
	count int
	dim   int
	mu    sync.RWMutex
}

// NewHNSWIndex creates a new empty HNSW index.
func NewHNSWIndex() *HNSWIndex {
	return &HNSWIndex{}
}

func newCosineGraph() *hnsw.Graph[int] {
	g := hnsw.NewGraph[int]()
	g.M = HNSWMaxNeighbors
	g.Ml = 1.0 / float64(HNSWMaxNeighbors) // Standard HNSW formula
	g.EfSearch = HNSWEfSearch
	g.Distance = hnsw.CosineDistance
	return g
}

// Add adds a vector at the next position.
func (h *HNSWIndex) Add(vec []float32) int {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.graph == nil {
		h.graph = newCosineGraph()
		h.dim = len(vec)
	}

	pos := h.count
	h.graph.Add(hnsw.MakeNode(pos, append([]float32(nil), vec...)))
	h.count++
	return pos
}

// Query finds the k nearest neighbours for every query embedding.
func (h *HNSWIndex) Query(queries [][]float32, k int) ([][]int, [][]float64, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	k = min(k, h.count)
	positions := make([][]int, len(queries))
	distances := make([][]float64, len(queries))

	for qi, q := range queries {
		if k <= 0 || h.graph == nil {
			positions[qi] = []int{}
			distances[qi] = []float64{}
			continue
		}
		if len(q) != h.dim {
			return nil, nil, fmt.Errorf("query %d has %d dims, index has %d: %w", qi, len(q), h.dim, ErrDimensionMismatch)
		}

		neighbors := h.graph.Search(q, k)
		// Compute actual cosine distance from the node vectors; graph order is approximate.
		sort.SliceStable(neighbors, func(a, b int) bool {
			return CosineDistance(q, neighbors[a].Value) < CosineDistance(q, neighbors[b].Value)
		})

		positions[qi] = make([]int, len(neighbors))
		distances[qi] = make([]float64, len(neighbors))
		for i, n := range neighbors {
			positions[qi][i] = n.Key
			distances[qi][i] = CosineDistance(q, n.Value)
		}
	}

	return positions, distances, nil
}

// Reset drops the graph.
func (h *HNSWIndex) Reset() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.graph = nil
	h.count = 0
	h.dim = 0
}

// Len returns the number of indexed vectors.
func (h *HNSWIndex) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.count
}

// SaveWithMetadata persists the graph to path and its metadata to path.meta.
func (h *HNSWIndex) SaveWithMetadata(path string, metadata HNSWIndexMetadata) error {
	h.mu.RLock()
	defer h.mu.RUnlock()

	if h.graph == nil {
		// Remove existing files if index is empty (best-effort cleanup).
		_ = os.Remove(path)
		_ = os.Remove(path + ".meta")
		return nil
	}

	f, err := os.Create(path) //nolint:gosec // path is from trusted config
	if err != nil {
		return fmt.Errorf("failed to create HNSW index file: %w", err)
	}
	defer f.Close()

	if err := h.graph.Export(f); err != nil {
		return fmt.Errorf("failed to export HNSW graph: %w", err)
	}

	metadata.Count = h.count
	metadata.Dim = h.dim
	metadata.Version = hnswMetadataVersion
	metaData, err := json.Marshal(metadata)
	if err != nil {
		return fmt.Errorf("failed to marshal metadata: %w", err)
	}

	if err := os.WriteFile(path+".meta", metaData, 0600); err != nil {
		return fmt.Errorf("failed to write metadata file: %w", err)
	}

	return nil
}

// LoadHNSWMetadata loads metadata from a separate .meta file.
func LoadHNSWMetadata(path string) (HNSWIndexMetadata, error) {
	var metadata HNSWIndexMetadata

	data, err := os.ReadFile(path + ".meta") //nolint:gosec // path is from trusted config
	if err != nil {
		return metadata, fmt.Errorf("failed to read metadata file: %w", err)
	}

	if err := json.Unmarshal(data, &metadata); err != nil {
		return metadata, fmt.Errorf("failed to unmarshal metadata: %w", err)
	}

	return metadata, nil
}

// LoadHNSWIndex loads a graph saved by SaveWithMetadata.
// The metadata version and node count must match or an error is returned.
func LoadHNSWIndex(path string) (*HNSWIndex, HNSWIndexMetadata, error) {
	metadata, err := LoadHNSWMetadata(path)
	if err != nil {
		return nil, metadata, err
	}
	if metadata.Version != hnswMetadataVersion {
		return nil, metadata, fmt.Errorf("HNSW index version %d, want %d", metadata.Version, hnswMetadataVersion)
	}

	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return nil, metadata, fmt.Errorf("HNSW index file not found: %s", path)
	}

	saved, err := hnsw.LoadSavedGraph[int](path)
	if err != nil {
		return nil, metadata, fmt.Errorf("failed to load HNSW index: %w", err)
	}
	if saved.Len() != metadata.Count {
		return nil, metadata, fmt.Errorf("HNSW index has %d nodes, metadata says %d", saved.Len(), metadata.Count)
	}

	return &HNSWIndex{
		graph: saved.Graph,
		count: metadata.Count,
		dim:   metadata.Dim,
	}, metadata, nil
}
