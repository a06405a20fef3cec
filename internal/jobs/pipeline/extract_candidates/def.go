package extract_candidates

import (
	knowledgerepo "github.com/hoferino/manda-platform-sub003/internal/data/repos/knowledge"
	"github.com/hoferino/manda-platform-sub003/internal/domain/jobs"
	"github.com/hoferino/manda-platform-sub003/internal/modules/knowledge/extraction"
	"github.com/hoferino/manda-platform-sub003/internal/pkg/logger"
)

type Pipeline struct {
	log        *logger.Logger
	provider   extraction.Provider
	chunks     knowledgerepo.ChunkRepo
	candidates knowledgerepo.CandidateRepo
}

func New(baseLog *logger.Logger, provider extraction.Provider, chunks knowledgerepo.ChunkRepo, candidates knowledgerepo.CandidateRepo) *Pipeline {
	return &Pipeline{
		log:        baseLog.With("job", "extract_candidates"),
		provider:   provider,
		chunks:     chunks,
		candidates: candidates,
	}
}

func (p *Pipeline) Stage() jobs.Stage { return jobs.StageExtract }
