package index_chunks

import (
	knowledgerepo "github.com/hoferino/manda-platform-sub003/internal/data/repos/knowledge"
	"github.com/hoferino/manda-platform-sub003/internal/domain/jobs"
	"github.com/hoferino/manda-platform-sub003/internal/modules/knowledge/index"
	"github.com/hoferino/manda-platform-sub003/internal/pkg/logger"
)

type Pipeline struct {
	log    *logger.Logger
	index  *index.Indexer
	chunks knowledgerepo.ChunkRepo
}

func New(baseLog *logger.Logger, ix *index.Indexer, chunks knowledgerepo.ChunkRepo) *Pipeline {
	return &Pipeline{
		log:    baseLog.With("job", "index_chunks"),
		index:  ix,
		chunks: chunks,
	}
}

func (p *Pipeline) Stage() jobs.Stage { return jobs.StageIndex }
