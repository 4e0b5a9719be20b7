package database

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"math"
	"sync"
)

// IndexFactory builds an empty VectorIndex sized for expectedSize entries.
type IndexFactory func(expectedSize int) (VectorIndex, error)

// Gallery owns the ordered identity list together with the vector index built
// over it. Entry i of the list always corresponds to index position i; both are
// only ever mutated together under one lock.
type Gallery struct {
	mu       sync.RWMutex
	records  []IdentityRecord
	index    VectorIndex
	newIndex IndexFactory
}

// NewGallery creates an empty gallery whose indexes come from newIndex.
func NewGallery(newIndex IndexFactory) *Gallery {
	if newIndex == nil {
		newIndex = func(int) (VectorIndex, error) { return NewFlatIndex(), nil }
	}
	return &Gallery{newIndex: newIndex}
}

// Add appends one identity to the list and the index.
func (g *Gallery) Add(rec IdentityRecord) error {
	if len(rec.Embedding) == 0 {
		return fmt.Errorf("identity %q has an empty embedding", rec.Name)
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	if len(g.records) > 0 && len(g.records[0].Embedding) != len(rec.Embedding) {
		return fmt.Errorf("identity %q has %d dims, gallery has %d: %w",
			rec.Name, len(rec.Embedding), len(g.records[0].Embedding), ErrDimensionMismatch)
	}
	if g.index == nil {
		idx, err := g.newIndex(1)
		if err != nil {
			return fmt.Errorf("creating vector index: %w", err)
		}
		g.index = idx
	}

	pos := g.index.Add(rec.Embedding)
	if pos != len(g.records) {
		return fmt.Errorf("vector index returned position %d, expected %d", pos, len(g.records))
	}
	g.records = append(g.records, rec)
	return nil
}

// Reload replaces the whole gallery. The new index is built before the swap
// so concurrent queries observe either the old or the new gallery.
func (g *Gallery) Reload(records []IdentityRecord) error {
	idx, err := g.newIndex(len(records))
	if err != nil {
		return fmt.Errorf("creating vector index: %w", err)
	}

	kept := make([]IdentityRecord, 0, len(records))
	for _, rec := range records {
		if len(rec.Embedding) == 0 {
			continue
		}
		if len(kept) > 0 && len(rec.Embedding) != len(kept[0].Embedding) {
			return fmt.Errorf("identity %q has %d dims, gallery has %d: %w",
				rec.Name, len(rec.Embedding), len(kept[0].Embedding), ErrDimensionMismatch)
		}
		idx.Add(rec.Embedding)
		kept = append(kept, rec)
	}

	g.mu.Lock()
	g.records = kept
	g.index = idx
	g.mu.Unlock()
	return nil
}

// Restore installs a prebuilt index for records. The index must hold exactly
// one vector per record in the same order.
func (g *Gallery) Restore(records []IdentityRecord, idx VectorIndex) error {
	if idx.Len() != len(records) {
		return fmt.Errorf("index holds %d vectors for %d records", idx.Len(), len(records))
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	g.records = append([]IdentityRecord(nil), records...)
	g.index = idx
	return nil
}

// Reset empties the gallery.
func (g *Gallery) Reset() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.records = nil
	g.index = nil
}

// Len returns the number of identities.
func (g *Gallery) Len() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.records)
}

// Names returns identity names in index order.
func (g *Gallery) Names() []string {
	g.mu.RLock()
	defer g.mu.RUnlock()
	names := make([]string, len(g.records))
	for i, rec := range g.records {
		names[i] = rec.Name
	}
	return names
}

// Records returns a copy of the identity list.
func (g *Gallery) Records() []IdentityRecord {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return append([]IdentityRecord(nil), g.records...)
}

// Index returns the current vector index, or nil for an empty gallery.
func (g *Gallery) Index() VectorIndex {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.index
}

// Nearest returns up to k neighbours for each query, resolved to names and
// ordered nearest first. An empty gallery yields empty neighbour lists.
func (g *Gallery) Nearest(queries [][]float32, k int) ([][]Neighbor, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	out := make([][]Neighbor, len(queries))
	k = min(k, len(g.records))
	if k <= 0 || g.index == nil {
		return out, nil
	}

	positions, distances, err := g.index.Query(queries, k)
	if err != nil {
		return nil, fmt.Errorf("querying vector index: %w", err)
	}

	for qi := range queries {
		hits := make([]Neighbor, 0, len(positions[qi]))
		for j, pos := range positions[qi] {
			if pos < 0 || pos >= len(g.records) {
				continue
			}
			hits = append(hits, Neighbor{
				Name:     g.records[pos].Name,
				Position: pos,
				Distance: distances[qi][j],
			})
		}
		out[qi] = hits
	}
	return out, nil
}

// Fingerprint identifies the current record list for index cache validation.
func (g *Gallery) Fingerprint() string {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return GalleryFingerprint(g.records)
}

// GalleryFingerprint hashes names and embeddings in order.
func GalleryFingerprint(records []IdentityRecord) string {
	h := sha256.New()
	var buf [4]byte
	for _, rec := range records {
		h.Write([]byte(rec.Name))
		h.Write([]byte{0})
		for _, x := range rec.Embedding {
			binary.LittleEndian.PutUint32(buf[:], math.Float32bits(x))
			h.Write(buf[:])
		}
	}
	return hex.EncodeToString(h.Sum(nil))
}

// NewIndexFactory returns an IndexFactory for kind (see NewVectorIndex).
func NewIndexFactory(kind string) IndexFactory {
	return func(expectedSize int) (VectorIndex, error) {
		return NewVectorIndex(kind, expectedSize)
	}
}
