package orchestrator

import (
	"time"

	"github.com/google/uuid"

	"github.com/hoferino/manda-platform-sub003/internal/domain/jobs"
	"github.com/hoferino/manda-platform-sub003/internal/domain/knowledge"
)

// StageState is the per-stage view of a document pipeline.
type StageState struct {
	Stage        jobs.Stage  `json:"stage"`
	Status       jobs.Status `json:"status"`
	AttemptCount int         `json:"attempt_count"`
	LastError    string      `json:"last_error,omitempty"`
	AvailableAt  time.Time   `json:"available_at"`
	LeaseOwner   string      `json:"lease_owner,omitempty"`
	StartedAt    *time.Time  `json:"started_at,omitempty"`
	FinishedAt   *time.Time  `json:"finished_at,omitempty"`
}

// PipelineStatus answers "where is this document". Stage, AttemptCount and
// LastError describe the current stage: the running or queued job if any,
// otherwise the last job that finished.
type PipelineStatus struct {
	DocumentID     uuid.UUID                `json:"document_id"`
	DocumentStatus knowledge.DocumentStatus `json:"document_status"`
	Canceled       bool                     `json:"canceled"`
	Stage          jobs.Stage               `json:"stage,omitempty"`
	StageStatus    jobs.Status              `json:"stage_status,omitempty"`
	AttemptCount   int                      `json:"attempt_count"`
	LastError      string                   `json:"last_error,omitempty"`
	Jobs           []StageState             `json:"jobs"`
}

func buildStatus(doc *knowledge.Document, js []*jobs.ProcessingJob) *PipelineStatus {
	st := &PipelineStatus{
		DocumentID:     doc.ID,
		DocumentStatus: doc.Status,
		Canceled:       doc.CanceledAt != nil,
		Jobs:           make([]StageState, 0, len(js)),
	}
	byStage := make(map[jobs.Stage]*jobs.ProcessingJob, len(js))
	for _, j := range js {
		byStage[j.Stage] = j
	}
	var current *jobs.ProcessingJob
	for _, stage := range jobs.Stages {
		j, ok := byStage[stage]
		if !ok {
			continue
		}
		st.Jobs = append(st.Jobs, StageState{
			Stage:        j.Stage,
			Status:       j.Status,
			AttemptCount: j.AttemptCount,
			LastError:    j.LastError,
			AvailableAt:  j.AvailableAt,
			LeaseOwner:   j.LeaseOwner,
			StartedAt:    j.StartedAt,
			FinishedAt:   j.FinishedAt,
		})
		if current == nil || settled(current.Status) {
			current = j
		}
	}
	if current != nil {
		st.Stage = current.Stage
		st.StageStatus = current.Status
		st.AttemptCount = current.AttemptCount
		st.LastError = current.LastError
	}
	return st
}

func settled(s jobs.Status) bool {
	return s == jobs.StatusSucceeded || s == jobs.StatusCanceled
}

// statusOnClaim is the document status a stage moves the document into when
// it starts; "" leaves the document alone.
func statusOnClaim(stage jobs.Stage) knowledge.DocumentStatus {
	switch stage {
	case jobs.StageParse:
		return knowledge.DocumentParsing
	case jobs.StageExtract:
		return knowledge.DocumentAnalyzing
	}
	return ""
}

// statusOnAck is the document status after a stage succeeds.
func statusOnAck(stage jobs.Stage) knowledge.DocumentStatus {
	switch stage {
	case jobs.StageIndex:
		return knowledge.DocumentParsed
	case jobs.StageCommit:
		return knowledge.DocumentAnalyzed
	}
	return ""
}

// statusBefore is the document status a retried stage resumes from.
func statusBefore(stage jobs.Stage) knowledge.DocumentStatus {
	switch stage {
	case jobs.StageParse:
		return knowledge.DocumentUploaded
	case jobs.StageIndex:
		return knowledge.DocumentParsing
	case jobs.StageExtract:
		return knowledge.DocumentParsed
	}
	return knowledge.DocumentAnalyzing
}
