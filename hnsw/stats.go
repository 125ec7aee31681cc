package hnsw

// Stats summarizes the current shape of the graph.
type Stats struct {
	// VectorCount is the number of indexed vectors.
	VectorCount int

	// LayerCount is the number of graph layers currently in use.
	LayerCount int
}

// Stats returns the vector and layer counts.
func (idx *Index) Stats() Stats {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	return Stats{
		VectorCount: len(idx.nodes),
		LayerCount:  idx.maxLevel + 1,
	}
}
