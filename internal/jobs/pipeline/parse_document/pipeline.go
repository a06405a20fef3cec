package parse_document

import (
	"gorm.io/gorm"

	"github.com/hoferino/manda-platform-sub003/internal/domain/knowledge"
	jobrt "github.com/hoferino/manda-platform-sub003/internal/jobs/runtime"
	"github.com/hoferino/manda-platform-sub003/internal/pkg/dbctx"
)

// Run parses the stored document and replaces its chunk set. Re-parsing the
// same bytes keeps chunk ids and embeddings.
func (p *Pipeline) Run(jc *jobrt.Context) error {
	chunks, err := p.parser.Parse(jc.Ctx, jc.Document)
	if err != nil {
		return err
	}
	var stored []*knowledge.Chunk
	err = jc.Commit(jc.Ctx, func(tx *gorm.DB) error {
		var err error
		stored, err = p.chunks.Upsert(dbctx.Context{Ctx: jc.Ctx, Tx: tx}, jc.Document.ID, chunks)
		return err
	})
	if err != nil {
		return err
	}
	jc.Log.Info("chunks stored", "chunks", len(stored))
	return nil
}
