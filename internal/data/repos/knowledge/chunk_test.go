package knowledge

import (
	"context"
	"testing"

	"github.com/google/uuid"

	"github.com/hoferino/manda-platform-sub003/internal/data/repos/testutil"
	"github.com/hoferino/manda-platform-sub003/internal/domain/knowledge"
	"github.com/hoferino/manda-platform-sub003/internal/pkg/dbctx"
)

func TestChunkRepoUpsertKeepsIDs(t *testing.T) {
	db := testutil.DB(t)
	ctx := context.Background()
	dbc := dbctx.New(ctx)
	repo := NewChunkRepo(db, testutil.Logger(t))
	doc := testutil.SeedDocument(t, ctx, db, uuid.New(), "cim")

	build := func(texts ...string) []*knowledge.Chunk {
		out := make([]*knowledge.Chunk, 0, len(texts))
		for i, txt := range texts {
			out = append(out, &knowledge.Chunk{OrderIndex: i, Text: txt, Location: "page 1"})
		}
		return out
	}

	first, err := repo.Upsert(dbc, doc.ID, build("a", "b", "c"))
	if err != nil || len(first) != 3 {
		t.Fatalf("Upsert: err=%v len=%d", err, len(first))
	}
	if err := repo.UpdateFields(dbc, first[0].ID, map[string]interface{}{"vector_id": "chunk:" + first[0].ID.String()}); err != nil {
		t.Fatalf("UpdateFields: %v", err)
	}

	second, err := repo.Upsert(dbc, doc.ID, build("a", "b2"))
	if err != nil {
		t.Fatalf("Upsert again: %v", err)
	}
	if len(second) != 2 {
		t.Fatalf("expected trailing chunk removed, got %d", len(second))
	}
	if second[0].ID != first[0].ID || second[1].ID != first[1].ID {
		t.Fatalf("chunk ids changed across re-parse")
	}
	if second[0].VectorID == "" {
		t.Fatalf("unchanged chunk lost its vector id")
	}
	if second[1].Text != "b2" || second[1].VectorID != "" {
		t.Fatalf("changed chunk not refreshed: %+v", second[1])
	}
}
