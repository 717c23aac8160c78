// Package index holds a brute-force cosine-similarity index that lives for one request.
package index

import (
	"fmt"
	"math"
	"sort"
	"sync"

	"github.com/kailas-cloud/llmgate/internal/domain"
)

// Memory is an in-memory vector index. The zero value is not usable, call NewMemory.
type Memory struct {
	mu        sync.RWMutex
	dimension int
	vectors   [][]float32
	norms     []float64
	chunks    []domain.Chunk
}

// NewMemory creates an empty index. The dimension is fixed by the first Add.
func NewMemory() *Memory { return &Memory{} }

// Len returns the number of indexed chunks.
func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.chunks)
}

// Add indexes chunks with their vectors. All vectors must share one dimension.
func (m *Memory) Add(chunks []domain.Chunk, vectors [][]float32) error {
	if len(chunks) != len(vectors) {
		return fmt.Errorf("index add: %d chunks but %d vectors", len(chunks), len(vectors))
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	dim := m.dimension
	for i, v := range vectors {
		if len(v) == 0 {
			return fmt.Errorf("index add: empty vector at %d: %w", i, domain.ErrVectorDimMismatch)
		}
		if dim == 0 {
			dim = len(v)
		}
		if len(v) != dim {
			return fmt.Errorf("index add: vector %d has %d dims, want %d: %w",
				i, len(v), dim, domain.ErrVectorDimMismatch)
		}
	}

	m.dimension = dim
	for i, v := range vectors {
		m.vectors = append(m.vectors, v)
		m.norms = append(m.norms, norm(v))
		m.chunks = append(m.chunks, chunks[i])
	}
	return nil
}

// Search returns the topK chunks most similar to query, best first. Ties keep insertion order.
func (m *Memory) Search(query []float32, topK int) ([]domain.ScoredChunk, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if len(m.chunks) == 0 {
		return nil, nil
	}
	if len(query) != m.dimension {
		return nil, fmt.Errorf("index search: query has %d dims, want %d: %w",
			len(query), m.dimension, domain.ErrVectorDimMismatch)
	}
	if topK <= 0 {
		topK = 1
	}

	qn := norm(query)
	hits := make([]domain.ScoredChunk, len(m.chunks))
	for i, v := range m.vectors {
		hits[i] = domain.ScoredChunk{Chunk: m.chunks[i], Score: cosine(v, m.norms[i], query, qn)}
	}

	sort.SliceStable(hits, func(i, j int) bool { return hits[i].Score > hits[j].Score })

	return hits[:min(topK, len(hits))], nil
}

func cosine(a []float32, an float64, b []float32, bn float64) float64 {
	if an == 0 || bn == 0 {
		return 0
	}
	var dot float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
	}
	return dot / (an * bn)
}

func norm(v []float32) float64 {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	return math.Sqrt(sum)
}
