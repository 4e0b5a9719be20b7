package database

import "time"

// IdentityRecord is one enrolled person: a display name and the averaged
// face embedding computed from that person's reference images.
type IdentityRecord struct {
	Name      string
	Embedding []float32
	CreatedAt time.Time
}

// Dim returns the embedding dimensionality.
func (r IdentityRecord) Dim() int {
	return len(r.Embedding)
}

// Neighbor is a single nearest-neighbour hit resolved to an identity name.
type Neighbor struct {
	Name     string
	Position int
	Distance float64 // cosine distance, 0 = identical
}
