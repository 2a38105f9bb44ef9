package database

// HNSW parameters for the 128-dimensional enrollment index.
const (
	// HNSWMaxNeighbors (M) is the maximum number of neighbors per node.
	HNSWMaxNeighbors = 16

	// HNSWEfSearch is the search candidate pool size.
	HNSWEfSearch = 64

	// HNSWSearchCandidates is how many neighbors are checked exactly before
	// deciding a face is unique. The employee's own entry is one of them.
	HNSWSearchCandidates = 5
)
