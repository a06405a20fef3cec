package app

import (
	"gorm.io/gorm"

	jobsrepo "github.com/hoferino/manda-platform-sub003/internal/data/repos/jobs"
	knowledgerepo "github.com/hoferino/manda-platform-sub003/internal/data/repos/knowledge"
	"github.com/hoferino/manda-platform-sub003/internal/data/repos/outbox"
	"github.com/hoferino/manda-platform-sub003/internal/pkg/logger"
)

type Repos struct {
	Jobs          jobsrepo.ProcessingJobRepo
	Documents     knowledgerepo.DocumentRepo
	Chunks        knowledgerepo.ChunkRepo
	Candidates    knowledgerepo.CandidateRepo
	Findings      knowledgerepo.FindingRepo
	Relationships knowledgerepo.RelationshipRepo
	Corrections   knowledgerepo.CorrectionRepo
	Validations   knowledgerepo.ValidationEventRepo
	Dependencies  knowledgerepo.DependencyRepo
	ReviewMarkers knowledgerepo.ReviewMarkerRepo
	SourceFlags   knowledgerepo.SourceFlagRepo
	TopicLocks    knowledgerepo.TopicLockRepo
	Outbox        outbox.OutboxRepo
}

func wireRepos(db *gorm.DB, log *logger.Logger) Repos {
	log.Info("Wiring repos...")
	return Repos{
		Jobs:          jobsrepo.NewProcessingJobRepo(db, log),
		Documents:     knowledgerepo.NewDocumentRepo(db, log),
		Chunks:        knowledgerepo.NewChunkRepo(db, log),
		Candidates:    knowledgerepo.NewCandidateRepo(db, log),
		Findings:      knowledgerepo.NewFindingRepo(db, log),
		Relationships: knowledgerepo.NewRelationshipRepo(db, log),
		Corrections:   knowledgerepo.NewCorrectionRepo(db, log),
		Validations:   knowledgerepo.NewValidationEventRepo(db, log),
		Dependencies:  knowledgerepo.NewDependencyRepo(db, log),
		ReviewMarkers: knowledgerepo.NewReviewMarkerRepo(db, log),
		SourceFlags:   knowledgerepo.NewSourceFlagRepo(db, log),
		TopicLocks:    knowledgerepo.NewTopicLockRepo(db, log),
		Outbox:        outbox.NewOutboxRepo(db, log),
	}
}
