package resolve_candidates

import (
	"context"

	knowledgerepo "github.com/hoferino/manda-platform-sub003/internal/data/repos/knowledge"
	"github.com/hoferino/manda-platform-sub003/internal/domain/knowledge"
	jobrt "github.com/hoferino/manda-platform-sub003/internal/jobs/runtime"
	"github.com/hoferino/manda-platform-sub003/internal/modules/knowledge/resolver"
	"github.com/hoferino/manda-platform-sub003/internal/pkg/dbctx"
)

func (p *Pipeline) Run(jc *jobrt.Context) error {
	stats, err := ResolvePending(jc.Ctx, jc, p.resolver, p.candidates, jc.Document)
	if err != nil {
		return err
	}
	jc.Log.Info("candidates resolved",
		"resolved", stats.Resolved,
		"created", stats.Created,
		"relationships", stats.Relationships,
		"superseded", stats.Superseded,
		"ambiguous", stats.Ambiguous,
	)
	return nil
}

type Stats struct {
	Resolved      int
	Created       int
	Relationships int
	Superseded    int
	Ambiguous     int
}

// ResolvePending commits every candidate of doc that has no finding yet, in
// staging order. Each candidate commits on its own, so a failure part way
// through keeps the earlier ones and a re-run picks up the rest.
func ResolvePending(ctx context.Context, tx resolver.Committer, r *resolver.Resolver, candidates knowledgerepo.CandidateRepo, doc *knowledge.Document) (Stats, error) {
	var st Stats
	pending, err := candidates.ListUnresolved(dbctx.New(ctx), doc.ID)
	if err != nil {
		return st, err
	}
	for _, c := range pending {
		if err := ctx.Err(); err != nil {
			return st, err
		}
		res, err := r.Resolve(ctx, tx, resolver.Request{Candidate: c, Document: doc})
		if err != nil {
			return st, err
		}
		st.Resolved++
		if res.Created {
			st.Created++
		}
		st.Relationships += len(res.Relationships)
		st.Superseded += len(res.Superseded)
		st.Ambiguous += len(res.Ambiguities)
	}
	return st, nil
}
