package commit_document

import (
	knowledgerepo "github.com/hoferino/manda-platform-sub003/internal/data/repos/knowledge"
	"github.com/hoferino/manda-platform-sub003/internal/data/graph"
	"github.com/hoferino/manda-platform-sub003/internal/domain/jobs"
	"github.com/hoferino/manda-platform-sub003/internal/modules/knowledge/resolver"
	"github.com/hoferino/manda-platform-sub003/internal/pkg/logger"
)

type Pipeline struct {
	log        *logger.Logger
	resolver   *resolver.Resolver
	candidates knowledgerepo.CandidateRepo
	findings   knowledgerepo.FindingRepo
	rels       knowledgerepo.RelationshipRepo
	graph      *graph.FindingGraph
}

func New(
	baseLog *logger.Logger,
	r *resolver.Resolver,
	candidates knowledgerepo.CandidateRepo,
	findings knowledgerepo.FindingRepo,
	rels knowledgerepo.RelationshipRepo,
	g *graph.FindingGraph,
) *Pipeline {
	return &Pipeline{
		log:        baseLog.With("job", "commit_document"),
		resolver:   r,
		candidates: candidates,
		findings:   findings,
		rels:       rels,
		graph:      g,
	}
}

func (p *Pipeline) Stage() jobs.Stage { return jobs.StageCommit }
