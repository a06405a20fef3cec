package parse_document

import (
	knowledgerepo "github.com/hoferino/manda-platform-sub003/internal/data/repos/knowledge"
	"github.com/hoferino/manda-platform-sub003/internal/domain/jobs"
	"github.com/hoferino/manda-platform-sub003/internal/ingestion/parser"
	"github.com/hoferino/manda-platform-sub003/internal/pkg/logger"
)

type Pipeline struct {
	log    *logger.Logger
	parser *parser.Service
	chunks knowledgerepo.ChunkRepo
}

func New(baseLog *logger.Logger, p *parser.Service, chunks knowledgerepo.ChunkRepo) *Pipeline {
	return &Pipeline{
		log:    baseLog.With("job", "parse_document"),
		parser: p,
		chunks: chunks,
	}
}

func (p *Pipeline) Stage() jobs.Stage { return jobs.StageParse }
