package app

import (
	"context"
	"time"

	"github.com/hoferino/manda-platform-sub003/internal/observability"
	"github.com/hoferino/manda-platform-sub003/internal/platform/vectorstore"
)

type instrumentedVectorStore struct {
	provider string
	inner    vectorstore.Store
	metrics  *observability.Metrics
}

func instrumentVectorStore(provider string, inner vectorstore.Store) vectorstore.Store {
	if inner == nil {
		return nil
	}
	return &instrumentedVectorStore{
		provider: provider,
		inner:    inner,
		metrics:  observability.Current(),
	}
}

func (s *instrumentedVectorStore) Upsert(ctx context.Context, vectors []vectorstore.Vector) error {
	start := time.Now()
	err := s.inner.Upsert(ctx, vectors)
	s.observe("upsert", err, time.Since(start))
	return err
}

func (s *instrumentedVectorStore) Query(ctx context.Context, q []float32, filter vectorstore.Filter, topK int) ([]vectorstore.Match, error) {
	start := time.Now()
	out, err := s.inner.Query(ctx, q, filter, topK)
	s.observe("query", err, time.Since(start))
	return out, err
}

func (s *instrumentedVectorStore) Delete(ctx context.Context, ids []string) error {
	start := time.Now()
	err := s.inner.Delete(ctx, ids)
	s.observe("delete", err, time.Since(start))
	return err
}

func (s *instrumentedVectorStore) observe(operation string, err error, dur time.Duration) {
	if s == nil || s.metrics == nil {
		return
	}
	status := "success"
	if err != nil {
		status = "error"
	}
	s.metrics.ObserveVectorOp(s.provider+"."+operation, status, dur)
}
