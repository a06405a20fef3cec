package index_chunks

import (
	"encoding/json"
	"fmt"

	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/hoferino/manda-platform-sub003/internal/domain/knowledge"
	jobrt "github.com/hoferino/manda-platform-sub003/internal/jobs/runtime"
	"github.com/hoferino/manda-platform-sub003/internal/modules/knowledge/index"
	"github.com/hoferino/manda-platform-sub003/internal/observability"
	"github.com/hoferino/manda-platform-sub003/internal/pkg/dbctx"
)

// Run embeds every chunk that has no stored vector yet. Chunks whose text
// changed on re-parse had their embedding cleared by the chunk upsert.
func (p *Pipeline) Run(jc *jobrt.Context) error {
	all, err := p.chunks.GetByDocument(jc.DBC(), jc.Document.ID)
	if err != nil {
		return err
	}
	pending := make([]*knowledge.Chunk, 0, len(all))
	for _, c := range all {
		if c.VectorID == "" || len(c.Embedding) == 0 {
			pending = append(pending, c)
		}
	}
	if len(pending) == 0 {
		jc.Log.Info("all chunks already indexed", "chunks", len(all))
		return nil
	}

	vecs, err := p.index.IndexChunks(jc.Ctx, jc.Document.DealID, pending)
	if err != nil {
		return err
	}
	if len(vecs) != len(pending) {
		return fmt.Errorf("index: got %d vectors for %d chunks", len(vecs), len(pending))
	}

	err = jc.Commit(jc.Ctx, func(tx *gorm.DB) error {
		dbc := dbctx.Context{Ctx: jc.Ctx, Tx: tx}
		for i, c := range pending {
			raw, err := json.Marshal(vecs[i])
			if err != nil {
				return err
			}
			if err := p.chunks.UpdateFields(dbc, c.ID, map[string]interface{}{
				"embedding": datatypes.JSON(raw),
				"vector_id": index.ChunkVectorID(c.ID),
			}); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return err
	}
	observability.Current().AddEmbedded(len(pending))
	jc.Log.Info("chunks indexed", "indexed", len(pending), "total", len(all))
	return nil
}
