package extract_candidates

import (
	"gorm.io/gorm"

	jobrt "github.com/hoferino/manda-platform-sub003/internal/jobs/runtime"
	"github.com/hoferino/manda-platform-sub003/internal/modules/knowledge/extraction"
	"github.com/hoferino/manda-platform-sub003/internal/observability"
	"github.com/hoferino/manda-platform-sub003/internal/pkg/dbctx"
)

// Run asks the provider for candidates and stages the admitted ones.
// Malformed output is dropped per candidate; a provider error fails the stage.
func (p *Pipeline) Run(jc *jobrt.Context) error {
	chunks, err := p.chunks.GetByDocument(jc.DBC(), jc.Document.ID)
	if err != nil {
		return err
	}
	if len(chunks) == 0 {
		jc.Log.Info("document has no chunks; nothing to extract")
		return nil
	}

	raws, err := p.provider.Extract(jc.Ctx, chunks)
	if err != nil {
		return err
	}
	res := extraction.Admit(jc.Log, jc.Document.ID, chunks, raws)

	if len(res.Admitted) > 0 {
		err = jc.Commit(jc.Ctx, func(tx *gorm.DB) error {
			return p.candidates.Upsert(dbctx.Context{Ctx: jc.Ctx, Tx: tx}, res.Admitted)
		})
		if err != nil {
			return err
		}
	}
	observability.Current().AddCandidates(len(res.Admitted), len(res.Rejected))
	jc.Log.Info("candidates staged", "raw", len(raws), "admitted", len(res.Admitted), "discarded", len(res.Rejected))
	return nil
}
