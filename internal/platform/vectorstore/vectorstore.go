// Package vectorstore holds the vector index contract shared by the
// in-memory store and the Qdrant adapter. Scores are cosine similarity,
// higher is better.
package vectorstore

import (
	"context"
	"math"
)

const (
	KindChunk   = "chunk"
	KindFinding = "finding"
)

type Payload struct {
	DealID     string `json:"deal_id"`
	Domain     string `json:"domain,omitempty"`
	Kind       string `json:"kind"`
	DocumentID string `json:"document_id,omitempty"`
}

type Vector struct {
	ID      string
	Values  []float32
	Payload Payload
}

// Filter scopes a similarity query. Empty fields do not constrain.
type Filter struct {
	DealID     string
	Domain     string
	Kind       string
	ExcludeIDs []string
}

type Match struct {
	ID    string
	Score float64
}

type Store interface {
	Upsert(ctx context.Context, vectors []Vector) error
	Query(ctx context.Context, q []float32, filter Filter, topK int) ([]Match, error)
	Delete(ctx context.Context, ids []string) error
}

// Cosine returns the cosine similarity of a and b, 0 when either is empty,
// all zero, or the lengths differ.
func Cosine(a, b []float32) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		x, y := float64(a[i]), float64(b[i])
		dot += x * y
		na += x * x
		nb += y * y
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

func (f Filter) matches(id string, p Payload) bool {
	if f.DealID != "" && p.DealID != f.DealID {
		return false
	}
	if f.Domain != "" && p.Domain != f.Domain {
		return false
	}
	if f.Kind != "" && p.Kind != f.Kind {
		return false
	}
	for _, ex := range f.ExcludeIDs {
		if ex == id {
			return false
		}
	}
	return true
}
