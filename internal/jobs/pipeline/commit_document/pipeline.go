package commit_document

import (
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"

	knowledgerepo "github.com/hoferino/manda-platform-sub003/internal/data/repos/knowledge"
	jobrt "github.com/hoferino/manda-platform-sub003/internal/jobs/runtime"
	"github.com/hoferino/manda-platform-sub003/internal/jobs/pipeline/resolve_candidates"
	apperr "github.com/hoferino/manda-platform-sub003/internal/pkg/errors"
)

// Run closes out a document: stragglers left by an interrupted resolve are
// committed, findings missing a vector are re-indexed, and the graph
// projection is refreshed. Only the final lease check decides success.
func (p *Pipeline) Run(jc *jobrt.Context) error {
	st, err := resolve_candidates.ResolvePending(jc.Ctx, jc, p.resolver, p.candidates, jc.Document)
	if err != nil {
		return err
	}
	if st.Resolved > 0 {
		jc.Log.Warn("resolved leftover candidates at commit", "resolved", st.Resolved)
	}

	left, err := p.candidates.ListUnresolved(jc.DBC(), jc.Document.ID)
	if err != nil {
		return err
	}
	if len(left) > 0 {
		return apperr.Transient("commit", fmt.Errorf("%d candidates still unresolved", len(left)))
	}

	n, err := p.resolver.Reindex(jc.Ctx, jc.Document.ID)
	if err != nil {
		return apperr.Transient("reindex findings", err)
	}

	findings, err := p.findings.Query(jc.DBC(), knowledgerepo.FindingFilter{
		DocumentID:        jc.Document.ID,
		IncludeSuperseded: true,
	})
	if err != nil {
		return err
	}
	if p.graph.Enabled() && len(findings) > 0 {
		ids := make([]uuid.UUID, len(findings))
		for i, f := range findings {
			ids[i] = f.ID
		}
		rels, err := p.rels.ListForFindings(jc.DBC(), ids)
		if err != nil {
			return err
		}
		if err := p.graph.Project(jc.Ctx, findings, rels); err != nil {
			// The relational store is authoritative; the next commit or sync repairs the graph.
			jc.Log.Warn("graph projection failed", "error", err)
		}
	}

	// Confirms the lease and the document before the orchestrator acks.
	if err := jc.Commit(jc.Ctx, func(*gorm.DB) error { return nil }); err != nil {
		return err
	}
	jc.Log.Info("document committed", "findings", len(findings), "reindexed", n)
	return nil
}
