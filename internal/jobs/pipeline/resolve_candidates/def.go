package resolve_candidates

import (
	knowledgerepo "github.com/hoferino/manda-platform-sub003/internal/data/repos/knowledge"
	"github.com/hoferino/manda-platform-sub003/internal/domain/jobs"
	"github.com/hoferino/manda-platform-sub003/internal/modules/knowledge/resolver"
	"github.com/hoferino/manda-platform-sub003/internal/pkg/logger"
)

type Pipeline struct {
	log        *logger.Logger
	resolver   *resolver.Resolver
	candidates knowledgerepo.CandidateRepo
}

func New(baseLog *logger.Logger, r *resolver.Resolver, candidates knowledgerepo.CandidateRepo) *Pipeline {
	return &Pipeline{
		log:        baseLog.With("job", "resolve_candidates"),
		resolver:   r,
		candidates: candidates,
	}
}

func (p *Pipeline) Stage() jobs.Stage { return jobs.StageResolve }
