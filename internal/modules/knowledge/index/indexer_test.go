package index

import (
	"context"
	"errors"
	"math"
	"math/rand"
	"sync/atomic"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hoferino/manda-platform-sub003/internal/domain/knowledge"
	apperr "github.com/hoferino/manda-platform-sub003/internal/pkg/errors"
	"github.com/hoferino/manda-platform-sub003/internal/pkg/logger"
	"github.com/hoferino/manda-platform-sub003/internal/platform/vectorstore"
)

type wideEmbedder struct {
	dim   int
	calls atomic.Int32
}

func (w *wideEmbedder) Dimensions() int { return w.dim }

func (w *wideEmbedder) Embed(_ context.Context, texts []string) ([][]float32, error) {
	w.calls.Add(1)
	h := NewHashEmbedder(w.dim)
	return h.Embed(context.Background(), texts)
}

type failingEmbedder struct{}

func (failingEmbedder) Dimensions() int { return 8 }
func (failingEmbedder) Embed(context.Context, []string) ([][]float32, error) {
	return nil, errors.New("connection reset")
}

func TestHashEmbedderIsDeterministicAndNormalized(t *testing.T) {
	h := NewHashEmbedder(64)
	a, err := h.Embed(context.Background(), []string{"Q3 2024 revenue was $5.2M", "Q3 2024 revenue was $5.2M", ""})
	require.NoError(t, err)
	assert.Equal(t, a[0], a[1])
	var n float64
	for _, x := range a[0] {
		n += float64(x) * float64(x)
	}
	assert.InDelta(t, 1.0, n, 1e-5)
	for _, x := range a[2] {
		assert.Zero(t, x)
	}
}

func TestHashEmbedderKeepsParaphrasesClose(t *testing.T) {
	h := NewHashEmbedder(256)
	v, err := h.Embed(context.Background(), []string{
		"Q3 2024 revenue was $5.2M",
		"Q3 2024 revenue was $4.5M",
		"The company employs 1,200 people across four sites",
	})
	require.NoError(t, err)
	same := Cosine(v[0], v[1])
	other := Cosine(v[0], v[2])
	assert.Greater(t, same, 0.5)
	assert.Greater(t, same, other)
}

func TestEmbedProjectsWideVectors(t *testing.T) {
	emb := &wideEmbedder{dim: 512}
	ix := New(logger.Nop(), emb, vectorstore.NewMemoryStore(), Options{MaxDim: 64, ProjectionSeed: 42, BatchSize: 2})
	assert.Equal(t, 64, ix.Dim())

	texts := []string{"revenue grew in Q3", "revenue grew in the third quarter", "headcount declined", "ebitda margin", "net debt"}
	vecs, err := ix.Embed(context.Background(), texts)
	require.NoError(t, err)
	require.Len(t, vecs, len(texts))
	assert.Equal(t, int32(3), emb.calls.Load())
	for _, v := range vecs {
		require.Len(t, v, 64)
	}

	again := New(logger.Nop(), &wideEmbedder{dim: 512}, vectorstore.NewMemoryStore(), Options{MaxDim: 64, ProjectionSeed: 42})
	vecs2, err := again.Embed(context.Background(), texts[:1])
	require.NoError(t, err)
	assert.Equal(t, vecs[0], vecs2[0])
}

func TestProjectionPreservesCosineApproximately(t *testing.T) {
	rng := rand.New(rand.NewSource(3))
	p := NewProjection(1536, 512, 1)
	for i := 0; i < 20; i++ {
		a := make([]float32, 1536)
		b := make([]float32, 1536)
		for j := range a {
			a[j] = float32(rng.NormFloat64())
			b[j] = a[j] + float32(rng.NormFloat64()*0.7)
		}
		before := Cosine(a, b)
		after := Cosine(p.Apply(a), p.Apply(b))
		assert.Less(t, math.Abs(before-after), 0.15, "iteration %d", i)
	}
}

func TestIndexChunksAndSimilar(t *testing.T) {
	ctx := context.Background()
	store := vectorstore.NewMemoryStore()
	ix := New(logger.Nop(), NewHashEmbedder(128), store, Options{MaxDim: 1024})
	dealID := uuid.New()
	docID := uuid.New()
	chunks := []*knowledge.Chunk{
		{ID: uuid.New(), DocumentID: docID, Text: "Q3 2024 revenue was $5.2M"},
		{ID: uuid.New(), DocumentID: docID, Text: "The board approved a new CFO"},
	}
	vecs, err := ix.IndexChunks(ctx, dealID, chunks)
	require.NoError(t, err)
	require.Len(t, vecs, 2)
	assert.Equal(t, 2, store.Len())

	f := &knowledge.Finding{ID: uuid.New(), DealID: dealID, DocumentID: docID, Domain: "financial"}
	require.NoError(t, ix.IndexFinding(ctx, f, vecs[0]))

	matches, err := ix.Similar(ctx, vecs[0], Filter{DealID: dealID.String(), Kind: vectorstore.KindChunk}, 5)
	require.NoError(t, err)
	require.Len(t, matches, 2)
	assert.Equal(t, ChunkVectorID(chunks[0].ID), matches[0].ID)

	matches, err = ix.Similar(ctx, vecs[0], Filter{DealID: dealID.String(), Domain: "financial", Kind: vectorstore.KindFinding}, 5)
	require.NoError(t, err)
	require.Len(t, matches, 1)
	kind, id, ok := ParseVectorID(matches[0].ID)
	require.True(t, ok)
	assert.Equal(t, vectorstore.KindFinding, kind)
	assert.Equal(t, f.ID, id)
}

func TestEmbedFailureIsTransient(t *testing.T) {
	ix := New(logger.Nop(), failingEmbedder{}, vectorstore.NewMemoryStore(), Options{})
	_, err := ix.Embed(context.Background(), []string{"x"})
	var tr *apperr.TransientIOError
	require.ErrorAs(t, err, &tr)
	assert.True(t, apperr.IsRetryable(err))
}

func TestParseVectorIDRejectsGarbage(t *testing.T) {
	_, _, ok := ParseVectorID("nocolon")
	assert.False(t, ok)
	_, _, ok = ParseVectorID("chunk:not-a-uuid")
	assert.False(t, ok)
}
