package database

import (
	"fmt"
	"time"
)

// IndexCache persists the HNSW graph of a gallery so it is not rebuilt on
// every start. A cached graph is only used when its fingerprint matches the
// records it is restored for.
type IndexCache struct {
	Path string
}

// Load returns the cached index for records, or ok=false when there is no
// usable cache.
func (c IndexCache) Load(records []IdentityRecord) (VectorIndex, bool, error) {
	if c.Path == "" || len(records) == 0 {
		return nil, false, nil
	}

	meta, err := LoadHNSWMetadata(c.Path)
	if err != nil {
		return nil, false, nil //nolint:nilerr // no metadata means no cache
	}
	if meta.Fingerprint != GalleryFingerprint(records) {
		return nil, false, nil
	}

	idx, _, err := LoadHNSWIndex(c.Path)
	if err != nil {
		return nil, false, fmt.Errorf("loading cached index: %w", err)
	}
	if idx.Len() != len(records) {
		return nil, false, nil
	}
	return idx, true, nil
}

// Save writes idx for records. Indexes other than HNSW are not cached.
func (c IndexCache) Save(idx VectorIndex, records []IdentityRecord) error {
	if c.Path == "" {
		return nil
	}
	h, ok := idx.(*HNSWIndex)
	if !ok {
		return nil
	}
	return h.SaveWithMetadata(c.Path, HNSWIndexMetadata{
		Fingerprint: GalleryFingerprint(records),
		BuildTime:   time.Now(),
	})
}
