package database

// HNSW index parameters for 512-dim face embeddings
const (
	// HNSWMaxNeighbors (M) is the maximum number of neighbors per node.
	// Higher values improve recall but increase memory and build time.
	HNSWMaxNeighbors = 16

	// HNSWEfSearch is the search candidate pool size.
	// Higher values improve recall but slow down search.
	HNSWEfSearch = 100

	// FlatIndexMaxSize is the gallery size up to which "auto" picks the exact
	// brute-force index instead of HNSW.
	FlatIndexMaxSize = 2000
)

// Index kinds accepted by NewVectorIndex.
const (
	IndexKindAuto = "auto"
	IndexKindHNSW = "hnsw"
	IndexKindFlat = "flat"
)

// maxCosineDistance is returned for vectors that cannot be compared.
const maxCosineDistance = 2.0
