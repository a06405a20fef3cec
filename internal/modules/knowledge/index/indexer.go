// Package index embeds chunks and findings and answers scoped similarity
// queries over them.
package index

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/hoferino/manda-platform-sub003/internal/domain/knowledge"
	apperr "github.com/hoferino/manda-platform-sub003/internal/pkg/errors"
	"github.com/hoferino/manda-platform-sub003/internal/pkg/logger"
	"github.com/hoferino/manda-platform-sub003/internal/platform/vectorstore"
)

type (
	Filter = vectorstore.Filter
	Match  = vectorstore.Match
)

type Options struct {
	// MaxDim caps the indexed width; wider embeddings are projected down.
	MaxDim         int
	ProjectionSeed int64
	BatchSize      int
	Concurrency    int
}

type Indexer struct {
	log      *logger.Logger
	embedder Embedder
	store    vectorstore.Store
	opts     Options

	once sync.Once
	proj *Projection
}

func New(log *logger.Logger, embedder Embedder, store vectorstore.Store, opts Options) *Indexer {
	if opts.MaxDim <= 0 {
		opts.MaxDim = 1024
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = 64
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = 4
	}
	return &Indexer{
		log:      log.With("service", "Indexer"),
		embedder: embedder,
		store:    store,
		opts:     opts,
	}
}

// Dim is the width of every vector the indexer emits.
func (ix *Indexer) Dim() int {
	if d := ix.embedder.Dimensions(); d > 0 && d < ix.opts.MaxDim {
		return d
	}
	return ix.opts.MaxDim
}

// Embed returns index-ready vectors for texts, narrowed when the provider
// is wider than MaxDim.
func (ix *Indexer) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	out := make([][]float32, len(texts))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(ix.opts.Concurrency)
	for start := 0; start < len(texts); start += ix.opts.BatchSize {
		start := start
		end := min(start+ix.opts.BatchSize, len(texts))
		g.Go(func() error {
			vecs, err := ix.embedder.Embed(gctx, texts[start:end])
			if err != nil {
				return err
			}
			if len(vecs) != end-start {
				return fmt.Errorf("embedder returned %d vectors for %d texts", len(vecs), end-start)
			}
			for i, v := range vecs {
				nv, err := ix.narrow(v)
				if err != nil {
					return err
				}
				out[start+i] = nv
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		var perm *apperr.PermanentPipelineFailure
		if apperr.As(err, &perm) {
			return nil, err
		}
		return nil, apperr.Transient("embed", err)
	}
	return out, nil
}

func (ix *Indexer) narrow(v []float32) ([]float32, error) {
	if len(v) == 0 {
		return nil, fmt.Errorf("empty embedding")
	}
	if len(v) <= ix.opts.MaxDim {
		return normalize32(v), nil
	}
	ix.once.Do(func() {
		ix.proj = NewProjection(len(v), ix.opts.MaxDim, ix.opts.ProjectionSeed)
		ix.log.Info("embedding projection enabled", "from_dim", len(v), "to_dim", ix.opts.MaxDim)
	})
	if ix.proj.In != len(v) {
		return nil, apperr.Permanent("index", fmt.Errorf("embedding width changed: projection built for %d, got %d", ix.proj.In, len(v)))
	}
	return ix.proj.Apply(v), nil
}

// IndexChunks embeds and upserts chunks under chunk:<id> vector ids. The
// returned vectors line up with chunks.
func (ix *Indexer) IndexChunks(ctx context.Context, dealID uuid.UUID, chunks []*knowledge.Chunk) ([][]float32, error) {
	if len(chunks) == 0 {
		return nil, nil
	}
	texts := make([]string, len(chunks))
	for i, c := range chunks {
		texts[i] = c.Text
	}
	vecs, err := ix.Embed(ctx, texts)
	if err != nil {
		return nil, err
	}
	vectors := make([]vectorstore.Vector, len(chunks))
	for i, c := range chunks {
		vectors[i] = vectorstore.Vector{
			ID:     ChunkVectorID(c.ID),
			Values: vecs[i],
			Payload: vectorstore.Payload{
				DealID:     dealID.String(),
				Kind:       vectorstore.KindChunk,
				DocumentID: c.DocumentID.String(),
			},
		}
	}
	if err := ix.upsert(ctx, vectors); err != nil {
		return nil, err
	}
	return vecs, nil
}

func (ix *Indexer) IndexFinding(ctx context.Context, f *knowledge.Finding, vec []float32) error {
	if f == nil || f.ID == uuid.Nil {
		return fmt.Errorf("finding required")
	}
	return ix.upsert(ctx, []vectorstore.Vector{{
		ID:     FindingVectorID(f.ID),
		Values: vec,
		Payload: vectorstore.Payload{
			DealID:     f.DealID.String(),
			Domain:     f.Domain,
			Kind:       vectorstore.KindFinding,
			DocumentID: f.DocumentID.String(),
		},
	}})
}

// Similar returns the topK nearest vectors by cosine similarity, best first.
func (ix *Indexer) Similar(ctx context.Context, vec []float32, filter Filter, topK int) ([]Match, error) {
	start := time.Now()
	matches, err := ix.store.Query(ctx, vec, filter, topK)
	if err != nil {
		return nil, apperr.Transient("vector_query", err)
	}
	ix.log.Debug("similarity query", "deal_id", filter.DealID, "domain", filter.Domain, "matches", len(matches), "took", time.Since(start))
	return matches, nil
}

func (ix *Indexer) upsert(ctx context.Context, vectors []vectorstore.Vector) error {
	if err := ix.store.Upsert(ctx, vectors); err != nil {
		return apperr.Transient("vector_upsert", err)
	}
	return nil
}

func ChunkVectorID(id uuid.UUID) string   { return vectorstore.KindChunk + ":" + id.String() }
func FindingVectorID(id uuid.UUID) string { return vectorstore.KindFinding + ":" + id.String() }

// ParseVectorID splits a "kind:uuid" vector id.
func ParseVectorID(s string) (kind string, id uuid.UUID, ok bool) {
	kind, raw, found := strings.Cut(s, ":")
	if !found {
		return "", uuid.Nil, false
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return "", uuid.Nil, false
	}
	return kind, id, true
}

// Cosine is re-exported for callers that score vectors outside the store.
func Cosine(a, b []float32) float64 { return vectorstore.Cosine(a, b) }

func normalize32(v []float32) []float32 {
	f := make([]float64, len(v))
	for i, x := range v {
		f[i] = float64(x)
	}
	return normalize64(f)
}
