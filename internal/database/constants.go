package database

// HNSW index parameters for flattened landmark features
const (
	// HNSWMaxNeighbors (M) is the maximum number of neighbors per node.
	// Higher values improve recall but increase memory and build time.
	HNSWMaxNeighbors = 16

	// HNSWSearchMultiplier is the factor to request more candidates from HNSW
	// so the exact rerank still has enough after dropping mismatched shapes.
	HNSWSearchMultiplier = 3

	// DefaultNearestLimit is used when a caller asks for zero neighbors.
	DefaultNearestLimit = 10
)
