package vectorstore

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
)

// MemoryStore is an exact cosine index for local runs and tests.
type MemoryStore struct {
	mu      sync.RWMutex
	dim     int
	vectors map[string]Vector
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{vectors: map[string]Vector{}}
}

func (s *MemoryStore) Upsert(ctx context.Context, vectors []Vector) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, v := range vectors {
		id := strings.TrimSpace(v.ID)
		if id == "" {
			return fmt.Errorf("vector id is required")
		}
		if len(v.Values) == 0 {
			return fmt.Errorf("vector %q has empty values", id)
		}
		if s.dim == 0 {
			s.dim = len(v.Values)
		}
		if len(v.Values) != s.dim {
			return fmt.Errorf("vector %q dimension mismatch: expected=%d got=%d", id, s.dim, len(v.Values))
		}
		vals := make([]float32, len(v.Values))
		copy(vals, v.Values)
		s.vectors[id] = Vector{ID: id, Values: vals, Payload: v.Payload}
	}
	return nil
}

func (s *MemoryStore) Query(ctx context.Context, q []float32, filter Filter, topK int) ([]Match, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if len(q) == 0 {
		return nil, fmt.Errorf("query vector required")
	}
	if topK <= 0 {
		topK = 10
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.dim != 0 && len(q) != s.dim {
		return nil, fmt.Errorf("query vector dimension mismatch: expected=%d got=%d", s.dim, len(q))
	}
	out := make([]Match, 0, len(s.vectors))
	for id, v := range s.vectors {
		if !filter.matches(id, v.Payload) {
			continue
		}
		out = append(out, Match{ID: id, Score: Cosine(q, v.Values)})
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Score == out[j].Score {
			return out[i].ID < out[j].ID
		}
		return out[i].Score > out[j].Score
	})
	if len(out) > topK {
		out = out[:topK]
	}
	return out, nil
}

func (s *MemoryStore) Delete(ctx context.Context, ids []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range ids {
		delete(s.vectors, strings.TrimSpace(id))
	}
	return nil
}

// Len reports the number of stored vectors.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.vectors)
}
