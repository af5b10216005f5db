package models

import (
	"fmt"
	"time"
)

// VectorIndex records a provisioned vector index for one embedding dimension.
// Provisioning is idempotent: one index exists per dimension, and the record
// survives restarts so re-provisioning is a no-op.
type VectorIndex struct {
	Name      string    `badgerhold:"key" json:"name"`
	Dimension int       `badgerhold:"index" json:"dimension"`
	CreatedAt time.Time `json:"created_at"`
}

// VectorIndexName returns the canonical index name for a dimension.
func VectorIndexName(dimension int) string {
	return fmt.Sprintf("media_items_%d", dimension)
}

// NewVectorIndex creates an index record for the given dimension.
func NewVectorIndex(dimension int) *VectorIndex {
	return &VectorIndex{
		Name:      VectorIndexName(dimension),
		Dimension: dimension,
		CreatedAt: time.Now().UTC(),
	}
}
