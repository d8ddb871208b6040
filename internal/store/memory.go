package store

import (
	"context"
	"math"
	"sort"
	"sync"

	"github.com/seanblong/contractlens/pkg/models"
)

// MemoryIndex is an in-process Index for single-node deployments and tests.
type MemoryIndex struct {
	mu   sync.RWMutex
	data map[string]*collection
}

type collection struct {
	sessionID string
	order     []string
	items     map[string]models.IndexItem
}

func NewMemoryIndex() *MemoryIndex {
	return &MemoryIndex{data: make(map[string]*collection)}
}

func (m *MemoryIndex) Upsert(ctx context.Context, sessionID string, items []models.IndexItem) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if len(items) == 0 {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	name := CollectionName(sessionID)
	c, ok := m.data[name]
	if !ok {
		c = &collection{sessionID: sessionID, items: make(map[string]models.IndexItem)}
		m.data[name] = c
	}
	for _, it := range items {
		if _, seen := c.items[it.Chunk.ID]; !seen {
			c.order = append(c.order, it.Chunk.ID)
		}
		vec := make([]float32, len(it.Vector))
		copy(vec, it.Vector)
		c.items[it.Chunk.ID] = models.IndexItem{Chunk: it.Chunk, Vector: vec}
	}
	return nil
}

func (m *MemoryIndex) Query(ctx context.Context, sessionID string, vec []float32, k int) ([]models.RetrievedChunk, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	out := []models.RetrievedChunk{}
	if k <= 0 {
		return out, nil
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	c, ok := m.data[CollectionName(sessionID)]
	if !ok {
		return out, nil
	}
	for _, id := range c.order {
		it := c.items[id]
		out = append(out, models.RetrievedChunk{Chunk: it.Chunk, Distance: cosineDistance(vec, it.Vector)})
	}
	// stable on insertion order for equal distances
	sort.SliceStable(out, func(i, j int) bool { return out[i].Distance < out[j].Distance })
	if len(out) > k {
		out = out[:k]
	}
	return out, nil
}

func (m *MemoryIndex) Drop(ctx context.Context, sessionID string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	name := CollectionName(sessionID)
	c, ok := m.data[name]
	if !ok {
		return 0, nil
	}
	delete(m.data, name)
	return len(c.items), nil
}

func (m *MemoryIndex) Sessions(ctx context.Context) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	ids := make([]string, 0, len(m.data))
	for _, c := range m.data {
		ids = append(ids, c.sessionID)
	}
	sort.Strings(ids)
	return ids, nil
}

func (m *MemoryIndex) Count(ctx context.Context, sessionID string) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if c, ok := m.data[CollectionName(sessionID)]; ok {
		return len(c.items), nil
	}
	return 0, nil
}

// cosineDistance is 1 - cosine similarity; zero vectors are maximally distant.
func cosineDistance(a, b []float32) float64 {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	var dot, na, nb float64
	for i := 0; i < n; i++ {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 1
	}
	return 1 - dot/(math.Sqrt(na)*math.Sqrt(nb))
}
