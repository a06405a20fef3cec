package testutil

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/hoferino/manda-platform-sub003/internal/domain/knowledge"
)

func SeedDocument(tb testing.TB, ctx context.Context, tx *gorm.DB, dealID uuid.UUID, sourceType string) *knowledge.Document {
	tb.Helper()
	d := &knowledge.Document{
		ID:         uuid.New(),
		DealID:     dealID,
		StorageRef: "mem://" + uuid.NewString(),
		SourceType: sourceType,
		Status:     knowledge.DocumentUploaded,
		Version:    1,
	}
	if err := tx.WithContext(ctx).Create(d).Error; err != nil {
		tb.Fatalf("seed document: %v", err)
	}
	return d
}

func SeedChunk(tb testing.TB, ctx context.Context, tx *gorm.DB, documentID uuid.UUID, order int, text string) *knowledge.Chunk {
	tb.Helper()
	c := &knowledge.Chunk{
		ID:         uuid.New(),
		DocumentID: documentID,
		OrderIndex: order,
		Text:       text,
		Location:   "page 1",
	}
	if err := tx.WithContext(ctx).Create(c).Error; err != nil {
		tb.Fatalf("seed chunk: %v", err)
	}
	return c
}

// SeedFinding inserts a finding directly, bypassing the resolver.
func SeedFinding(tb testing.TB, ctx context.Context, tx *gorm.DB, doc *knowledge.Document, text string, confidence float64, status knowledge.FindingStatus) *knowledge.Finding {
	tb.Helper()
	f := &knowledge.Finding{
		ID:             uuid.New(),
		DealID:         doc.DealID,
		DocumentID:     doc.ID,
		CandidateKey:   uuid.NewString(),
		ChunkID:        uuid.New(),
		SourceLocation: "page 1",
		Text:           text,
		Domain:         "financial",
		FactKey:        "revenue",
		TopicKey:       "financial:revenue",
		Confidence:     confidence,
		DateExtracted:  time.Now().UTC(),
		SourceType:     doc.SourceType,
		Status:         status,
	}
	if err := tx.WithContext(ctx).Create(f).Error; err != nil {
		tb.Fatalf("seed finding: %v", err)
	}
	return f
}

func PtrUUID(v uuid.UUID) *uuid.UUID { return &v }

func PtrTime(v time.Time) *time.Time { return &v }
