package jobs

import (
	"time"

	"github.com/google/uuid"
)

type Stage string

const (
	StageParse   Stage = "parse"
	StageIndex   Stage = "index"
	StageExtract Stage = "extract"
	StageResolve Stage = "resolve"
	StageCommit  Stage = "commit"
)

// Stages is the strict per-document pipeline order.
var Stages = []Stage{StageParse, StageIndex, StageExtract, StageResolve, StageCommit}

// Next returns the stage that follows s, or "" when s is the last one.
func (s Stage) Next() Stage {
	for i, st := range Stages {
		if st == s && i+1 < len(Stages) {
			return Stages[i+1]
		}
	}
	return ""
}

func (s Stage) Valid() bool {
	for _, st := range Stages {
		if st == s {
			return true
		}
	}
	return false
}

type Status string

const (
	StatusQueued    Status = "queued"
	StatusRunning   Status = "running"
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
	StatusCanceled  Status = "canceled"
)

// ProcessingJob is the unit the orchestrator leases and retries. There is at
// most one row per (document, stage); re-enqueueing resets it.
type ProcessingJob struct {
	ID           uuid.UUID  `gorm:"type:uuid;primaryKey" json:"id"`
	DocumentID   uuid.UUID  `gorm:"type:uuid;not null;uniqueIndex:idx_processing_job_doc_stage,priority:1" json:"document_id"`
	Stage        Stage      `gorm:"column:stage;type:text;not null;uniqueIndex:idx_processing_job_doc_stage,priority:2" json:"stage"`
	Status       Status     `gorm:"column:status;type:text;not null;index" json:"status"`
	AttemptCount int        `gorm:"column:attempt_count;not null;default:0" json:"attempt_count"`
	LastError    string     `gorm:"column:last_error;type:text" json:"last_error,omitempty"`
	AvailableAt  time.Time  `gorm:"column:available_at;not null;index" json:"available_at"`
	LeaseOwner   string     `gorm:"column:lease_owner;type:text" json:"lease_owner,omitempty"`
	LeasedUntil  *time.Time `gorm:"column:leased_until;index" json:"leased_until,omitempty"`
	StartedAt    *time.Time `gorm:"column:started_at" json:"started_at,omitempty"`
	FinishedAt   *time.Time `gorm:"column:finished_at" json:"finished_at,omitempty"`
	CreatedAt    time.Time  `gorm:"not null;index" json:"created_at"`
	UpdatedAt    time.Time  `gorm:"not null" json:"updated_at"`
}

func (ProcessingJob) TableName() string { return "processing_job" }
