package db

import (
	"gorm.io/gorm"

	"github.com/hoferino/manda-platform-sub003/internal/domain/events"
	"github.com/hoferino/manda-platform-sub003/internal/domain/jobs"
	"github.com/hoferino/manda-platform-sub003/internal/domain/knowledge"
)

func AutoMigrateAll(db *gorm.DB) error {
	return db.AutoMigrate(
		// =========================
		// Pipeline
		// =========================
		&knowledge.Document{},
		&knowledge.Chunk{},
		&knowledge.FindingCandidate{},
		&jobs.ProcessingJob{},

		// =========================
		// Knowledge graph
		// =========================
		&knowledge.Finding{},
		&knowledge.Relationship{},
		&knowledge.FindingStateEvent{},
		&knowledge.TopicLock{},

		// =========================
		// Feedback + audit
		// =========================
		&knowledge.Correction{},
		&knowledge.ValidationEvent{},
		&knowledge.FindingDependency{},
		&knowledge.ReviewMarker{},
		&knowledge.SourceFlag{},

		// =========================
		// Event stream
		// =========================
		&events.OutboxEvent{},
	)
}
