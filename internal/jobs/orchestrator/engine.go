package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	jobsrepo "github.com/hoferino/manda-platform-sub003/internal/data/repos/jobs"
	knowledgerepo "github.com/hoferino/manda-platform-sub003/internal/data/repos/knowledge"
	"github.com/hoferino/manda-platform-sub003/internal/data/repos/outbox"
	"github.com/hoferino/manda-platform-sub003/internal/domain/events"
	"github.com/hoferino/manda-platform-sub003/internal/domain/jobs"
	"github.com/hoferino/manda-platform-sub003/internal/domain/knowledge"
	"github.com/hoferino/manda-platform-sub003/internal/observability"
	"github.com/hoferino/manda-platform-sub003/internal/pkg/dbctx"
	apperr "github.com/hoferino/manda-platform-sub003/internal/pkg/errors"
	"github.com/hoferino/manda-platform-sub003/internal/pkg/logger"
)

// RetryPolicy bounds automatic retries of a failed stage.
type RetryPolicy struct {
	MaxAttempts int
	// Backoff[i] is the delay after the (i+1)th failed attempt; attempts past
	// the list reuse its last entry.
	Backoff []time.Duration
}

func (p RetryPolicy) delay(attempt int) time.Duration {
	if len(p.Backoff) == 0 {
		return 0
	}
	i := attempt - 1
	if i < 0 {
		i = 0
	}
	if i >= len(p.Backoff) {
		i = len(p.Backoff) - 1
	}
	return p.Backoff[i]
}

type Options struct {
	Lease time.Duration
	Retry RetryPolicy
	// Now is overridable for tests.
	Now func() time.Time
}

func DefaultOptions() Options {
	return Options{
		Lease: time.Minute,
		Retry: RetryPolicy{
			MaxAttempts: 3,
			Backoff:     []time.Duration{time.Second, 5 * time.Second, 15 * time.Second},
		},
	}
}

// Engine drives documents through the fixed stage sequence. Jobs live in the
// processing_job table; every transition is a single transaction so a crash
// at any point leaves either the old or the new state.
type Engine struct {
	db     *gorm.DB
	log    *logger.Logger
	opts   Options
	jobs   jobsrepo.ProcessingJobRepo
	docs   knowledgerepo.DocumentRepo
	outbox outbox.OutboxRepo
}

func NewEngine(db *gorm.DB, baseLog *logger.Logger, opts Options, jobRepo jobsrepo.ProcessingJobRepo, docs knowledgerepo.DocumentRepo, ob outbox.OutboxRepo) *Engine {
	def := DefaultOptions()
	if opts.Lease <= 0 {
		opts.Lease = def.Lease
	}
	if opts.Retry.MaxAttempts <= 0 {
		opts.Retry.MaxAttempts = def.Retry.MaxAttempts
	}
	if len(opts.Retry.Backoff) == 0 {
		opts.Retry.Backoff = def.Retry.Backoff
	}
	if opts.Now == nil {
		opts.Now = func() time.Time { return time.Now().UTC() }
	}
	return &Engine{
		db:     db,
		log:    baseLog.With("service", "Orchestrator"),
		opts:   opts,
		jobs:   jobRepo,
		docs:   docs,
		outbox: ob,
	}
}

func (e *Engine) Options() Options { return e.opts }

func (e *Engine) now() time.Time { return e.opts.Now().UTC() }

func (e *Engine) inTx(ctx context.Context, fn func(dbc dbctx.Context) error) error {
	return e.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(dbctx.Context{Ctx: ctx, Tx: tx})
	})
}

func (e *Engine) document(dbc dbctx.Context, id uuid.UUID) (*knowledge.Document, error) {
	doc, err := e.docs.GetByID(dbc, id)
	if err != nil {
		return nil, err
	}
	if doc == nil {
		return nil, fmt.Errorf("document %s: %w", id, apperr.ErrNotFound)
	}
	return doc, nil
}

// Submit registers an uploaded document and queues its parse stage.
func (e *Engine) Submit(ctx context.Context, doc *knowledge.Document) (*knowledge.Document, error) {
	if doc == nil || doc.DealID == uuid.Nil || strings.TrimSpace(doc.StorageRef) == "" {
		return nil, fmt.Errorf("document requires deal id and storage ref: %w", apperr.ErrInvalidArgument)
	}
	var out *knowledge.Document
	err := e.inTx(ctx, func(dbc dbctx.Context) error {
		doc.Status = knowledge.DocumentUploaded
		created, err := e.docs.Create(dbc, doc)
		if err != nil {
			return err
		}
		if _, err := e.jobs.Enqueue(dbc, created.ID, jobs.StageParse, e.now()); err != nil {
			return err
		}
		out = created
		return nil
	})
	if err != nil {
		return nil, err
	}
	e.log.Info("document submitted", "document_id", out.ID, "deal_id", out.DealID, "source_type", out.SourceType)
	return out, nil
}

// Enqueue queues stage for documentID. A job that is not running is reset
// with a fresh attempt budget; a running job is left untouched.
func (e *Engine) Enqueue(ctx context.Context, documentID uuid.UUID, stage jobs.Stage) (*jobs.ProcessingJob, error) {
	if !stage.Valid() {
		return nil, fmt.Errorf("stage %q: %w", stage, apperr.ErrInvalidArgument)
	}
	var job *jobs.ProcessingJob
	err := e.inTx(ctx, func(dbc dbctx.Context) error {
		doc, err := e.document(dbc, documentID)
		if err != nil {
			return err
		}
		if doc.CanceledAt != nil {
			return fmt.Errorf("document %s: %w", documentID, apperr.ErrCanceled)
		}
		job, err = e.jobs.Enqueue(dbc, documentID, stage, e.now())
		return err
	})
	return job, err
}

// Claim leases the next runnable job for workerID, or returns nil when
// nothing is runnable. Jobs of canceled documents are closed out as canceled
// and skipped.
func (e *Engine) Claim(ctx context.Context, workerID string) (*jobs.ProcessingJob, error) {
	const maxSkips = 16
	for i := 0; i < maxSkips; i++ {
		now := e.now()
		job, err := e.jobs.ClaimNext(dbctx.New(ctx), workerID, now, e.opts.Lease, e.opts.Retry.MaxAttempts)
		if err != nil {
			return nil, err
		}
		if job == nil {
			return nil, nil
		}
		var skip bool
		err = e.inTx(ctx, func(dbc dbctx.Context) error {
			doc, err := e.docs.GetByID(dbc, job.DocumentID)
			if err != nil {
				return err
			}
			if doc == nil || doc.CanceledAt != nil {
				skip = true
				return e.jobs.UpdateFields(dbc, job.ID, map[string]interface{}{
					"status":       jobs.StatusCanceled,
					"lease_owner":  "",
					"leased_until": nil,
					"finished_at":  now,
				})
			}
			if s := statusOnClaim(job.Stage); s != "" && doc.Status != s {
				return e.docs.SetStatus(dbc, doc.ID, s)
			}
			return nil
		})
		if err != nil {
			return nil, err
		}
		if skip {
			e.log.Info("skipped job of canceled document", "job_id", job.ID, "document_id", job.DocumentID, "stage", job.Stage)
			observability.Current().IncJob(string(job.Stage), "canceled")
			continue
		}
		observability.Current().IncJob(string(job.Stage), "claimed")
		e.log.Debug("job claimed", "job_id", job.ID, "stage", job.Stage, "attempt", job.AttemptCount, "worker", workerID)
		return job, nil
	}
	return nil, nil
}

// Heartbeat extends the lease held by workerID.
func (e *Engine) Heartbeat(ctx context.Context, jobID uuid.UUID, workerID string) error {
	ok, err := e.jobs.UpdateFieldsIfLeased(dbctx.New(ctx), jobID, workerID, map[string]interface{}{
		"leased_until": e.now().Add(e.opts.Lease),
	})
	if err != nil {
		return err
	}
	if !ok {
		return e.lostLease(ctx, jobID)
	}
	return nil
}

// lostLease distinguishes a canceled job from one taken over by another worker.
func (e *Engine) lostLease(ctx context.Context, jobID uuid.UUID) error {
	job, err := e.jobs.GetByID(dbctx.New(ctx), jobID)
	if err != nil {
		return err
	}
	if job != nil && job.Status == jobs.StatusCanceled {
		return fmt.Errorf("job %s: %w", jobID, apperr.ErrCanceled)
	}
	return fmt.Errorf("job %s: %w", jobID, apperr.ErrLeaseLost)
}

// Ack marks the job succeeded and, in the same transaction, queues the next
// stage and advances the document status. It fails with ErrCanceled when the
// document was canceled while the stage ran, and with ErrLeaseLost when
// another worker owns the job now.
func (e *Engine) Ack(ctx context.Context, jobID uuid.UUID, workerID string) error {
	var done *jobs.ProcessingJob
	var stage jobs.Stage
	err := e.inTx(ctx, func(dbc dbctx.Context) error {
		job, err := e.jobs.GetByID(dbc, jobID)
		if err != nil {
			return err
		}
		if job == nil {
			return fmt.Errorf("job %s: %w", jobID, apperr.ErrNotFound)
		}
		stage = job.Stage
		doc, err := e.document(dbc, job.DocumentID)
		if err != nil {
			return err
		}
		now := e.now()
		if doc.CanceledAt != nil {
			if _, err := e.jobs.UpdateFieldsIfLeased(dbc, jobID, workerID, map[string]interface{}{
				"status":       jobs.StatusCanceled,
				"lease_owner":  "",
				"leased_until": nil,
				"finished_at":  now,
			}); err != nil {
				return err
			}
			return fmt.Errorf("document %s: %w", doc.ID, apperr.ErrCanceled)
		}
		ok, err := e.jobs.UpdateFieldsIfLeased(dbc, jobID, workerID, map[string]interface{}{
			"status":       jobs.StatusSucceeded,
			"last_error":   "",
			"lease_owner":  "",
			"leased_until": nil,
			"finished_at":  now,
		})
		if err != nil {
			return err
		}
		if !ok {
			if job.Status == jobs.StatusCanceled {
				return fmt.Errorf("job %s: %w", jobID, apperr.ErrCanceled)
			}
			return fmt.Errorf("job %s: %w", jobID, apperr.ErrLeaseLost)
		}
		if next := job.Stage.Next(); next != "" {
			if _, err := e.jobs.Enqueue(dbc, doc.ID, next, now); err != nil {
				return err
			}
		}
		if s := statusOnAck(job.Stage); s != "" {
			if err := e.docs.SetStatus(dbc, doc.ID, s); err != nil {
				return err
			}
		}
		eventType := events.DocumentStageDone
		if job.Stage == jobs.StageCommit {
			eventType = events.DocumentAnalyzed
		}
		if _, err := e.outbox.Append(dbc, eventType, doc.ID, events.DocumentPayload{
			DocumentID: doc.ID,
			DealID:     doc.DealID,
			Stage:      string(job.Stage),
		}); err != nil {
			return err
		}
		done = job
		return nil
	})
	if err != nil {
		if errors.Is(err, apperr.ErrCanceled) {
			observability.Current().IncJob(string(stage), "discarded")
		}
		return err
	}
	observability.Current().IncJob(string(done.Stage), "succeeded")
	e.log.Info("stage succeeded", "job_id", jobID, "document_id", done.DocumentID, "stage", done.Stage, "attempt", done.AttemptCount)
	return nil
}

// Fail records a failed attempt. Retryable causes below the attempt cap go
// back to the queue after the policy's backoff; everything else fails the job
// and the document permanently until a manual Retry.
func (e *Engine) Fail(ctx context.Context, jobID uuid.UUID, workerID string, cause error) (*jobs.ProcessingJob, error) {
	if cause == nil {
		cause = errors.New("unknown failure")
	}
	var out *jobs.ProcessingJob
	var terminal bool
	err := e.inTx(ctx, func(dbc dbctx.Context) error {
		job, err := e.jobs.GetByID(dbc, jobID)
		if err != nil {
			return err
		}
		if job == nil {
			return fmt.Errorf("job %s: %w", jobID, apperr.ErrNotFound)
		}
		if job.Status != jobs.StatusRunning || job.LeaseOwner != workerID {
			if job.Status == jobs.StatusCanceled {
				return fmt.Errorf("job %s: %w", jobID, apperr.ErrCanceled)
			}
			return fmt.Errorf("job %s: %w", jobID, apperr.ErrLeaseLost)
		}
		terminal, err = e.recordFailure(dbc, job, cause.Error(), apperr.IsRetryable(cause))
		if err != nil {
			return err
		}
		out, err = e.jobs.GetByID(dbc, jobID)
		return err
	})
	if err != nil {
		return nil, err
	}
	if terminal {
		e.log.Error("stage failed permanently", "job_id", jobID, "document_id", out.DocumentID, "stage", out.Stage, "attempt", out.AttemptCount, "error", cause)
	} else {
		e.log.Warn("stage failed, retrying", "job_id", jobID, "document_id", out.DocumentID, "stage", out.Stage, "attempt", out.AttemptCount, "available_at", out.AvailableAt, "error", cause)
	}
	return out, nil
}

func (e *Engine) recordFailure(dbc dbctx.Context, job *jobs.ProcessingJob, msg string, retryable bool) (bool, error) {
	now := e.now()
	if retryable && job.AttemptCount < e.opts.Retry.MaxAttempts {
		observability.Current().IncJob(string(job.Stage), "retried")
		return false, e.jobs.UpdateFields(dbc, job.ID, map[string]interface{}{
			"status":       jobs.StatusQueued,
			"last_error":   msg,
			"available_at": now.Add(e.opts.Retry.delay(job.AttemptCount)),
			"lease_owner":  "",
			"leased_until": nil,
		})
	}
	observability.Current().IncJob(string(job.Stage), "failed")
	if err := e.jobs.UpdateFields(dbc, job.ID, map[string]interface{}{
		"status":       jobs.StatusFailed,
		"last_error":   msg,
		"lease_owner":  "",
		"leased_until": nil,
		"finished_at":  now,
	}); err != nil {
		return true, err
	}
	doc, err := e.document(dbc, job.DocumentID)
	if err != nil {
		return true, err
	}
	if err := e.docs.SetStatus(dbc, doc.ID, knowledge.DocumentFailed); err != nil {
		return true, err
	}
	_, err = e.outbox.Append(dbc, events.DocumentFailed, doc.ID, events.DocumentPayload{
		DocumentID: doc.ID,
		DealID:     doc.DealID,
		Stage:      string(job.Stage),
		Error:      msg,
	})
	return true, err
}

// ReapExpired fails jobs whose lease expired on their final attempt. Expired
// leases with attempts left are picked up again by Claim.
func (e *Engine) ReapExpired(ctx context.Context) (int, error) {
	expired, err := e.jobs.ExpiredAtCap(dbctx.New(ctx), e.now(), e.opts.Retry.MaxAttempts)
	if err != nil {
		return 0, err
	}
	reaped := 0
	for _, j := range expired {
		err := e.inTx(ctx, func(dbc dbctx.Context) error {
			cur, err := e.jobs.GetByID(dbc, j.ID)
			if err != nil || cur == nil || cur.Status != jobs.StatusRunning || !cur.UpdatedAt.Equal(j.UpdatedAt) {
				return err
			}
			if _, err := e.recordFailure(dbc, cur, "lease expired on final attempt", false); err != nil {
				return err
			}
			reaped++
			return nil
		})
		if err != nil {
			return reaped, err
		}
	}
	if reaped > 0 {
		e.log.Warn("reaped expired jobs", "count", reaped)
	}
	return reaped, nil
}

// Status reports the pipeline position of a document.
func (e *Engine) Status(ctx context.Context, documentID uuid.UUID) (*PipelineStatus, error) {
	dbc := dbctx.New(ctx)
	doc, err := e.document(dbc, documentID)
	if err != nil {
		return nil, err
	}
	js, err := e.jobs.GetByDocument(dbc, documentID)
	if err != nil {
		return nil, err
	}
	return buildStatus(doc, js), nil
}

// Retry is the manual escape hatch after a terminal failure or a cancel. The
// earliest unfinished stage is re-queued with a fresh attempt budget and the
// document resumes from the status that stage starts in.
func (e *Engine) Retry(ctx context.Context, documentID uuid.UUID) (*jobs.ProcessingJob, error) {
	var out *jobs.ProcessingJob
	err := e.inTx(ctx, func(dbc dbctx.Context) error {
		doc, err := e.document(dbc, documentID)
		if err != nil {
			return err
		}
		js, err := e.jobs.GetByDocument(dbc, documentID)
		if err != nil {
			return err
		}
		byStage := make(map[jobs.Stage]*jobs.ProcessingJob, len(js))
		for _, j := range js {
			byStage[j.Stage] = j
		}
		var target jobs.Stage
		for _, stage := range jobs.Stages {
			j, ok := byStage[stage]
			if !ok {
				target = stage
				break
			}
			if j.Status == jobs.StatusFailed || j.Status == jobs.StatusCanceled {
				target = stage
				break
			}
			if j.Status == jobs.StatusQueued || j.Status == jobs.StatusRunning {
				return fmt.Errorf("document %s stage %s is %s: %w", documentID, stage, j.Status, apperr.ErrConflict)
			}
		}
		if target == "" {
			return fmt.Errorf("document %s has nothing to retry: %w", documentID, apperr.ErrInvalidArgument)
		}
		if doc.CanceledAt != nil {
			if err := e.docs.ClearCanceled(dbc, doc.ID); err != nil {
				return err
			}
		}
		if err := e.docs.SetStatus(dbc, doc.ID, statusBefore(target)); err != nil {
			return err
		}
		out, err = e.jobs.Enqueue(dbc, documentID, target, e.now())
		return err
	})
	if err != nil {
		return nil, err
	}
	observability.Current().IncJob(string(out.Stage), "manual_retry")
	e.log.Info("document retry queued", "document_id", documentID, "stage", out.Stage)
	return out, nil
}

// Cancel stops a document between stages. Queued jobs are canceled now;
// a running job keeps going but its results are discarded at Ack.
func (e *Engine) Cancel(ctx context.Context, documentID uuid.UUID) error {
	var n int64
	err := e.inTx(ctx, func(dbc dbctx.Context) error {
		doc, err := e.document(dbc, documentID)
		if err != nil {
			return err
		}
		if doc.CanceledAt != nil {
			return nil
		}
		if err := e.docs.MarkCanceled(dbc, doc.ID, e.now()); err != nil {
			return err
		}
		n, err = e.jobs.CancelForDocument(dbc, doc.ID)
		if err != nil {
			return err
		}
		_, err = e.outbox.Append(dbc, events.DocumentCanceled, doc.ID, events.DocumentPayload{
			DocumentID: doc.ID,
			DealID:     doc.DealID,
		})
		return err
	})
	if err != nil {
		return err
	}
	e.log.Info("document canceled", "document_id", documentID, "jobs_canceled", n)
	return nil
}
