package worker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"

	jobsrepo "github.com/hoferino/manda-platform-sub003/internal/data/repos/jobs"
	knowledgerepo "github.com/hoferino/manda-platform-sub003/internal/data/repos/knowledge"
	"github.com/hoferino/manda-platform-sub003/internal/domain/jobs"
	"github.com/hoferino/manda-platform-sub003/internal/jobs/orchestrator"
	"github.com/hoferino/manda-platform-sub003/internal/jobs/runtime"
	"github.com/hoferino/manda-platform-sub003/internal/observability"
	"github.com/hoferino/manda-platform-sub003/internal/pkg/dbctx"
	apperr "github.com/hoferino/manda-platform-sub003/internal/pkg/errors"
	"github.com/hoferino/manda-platform-sub003/internal/pkg/logger"
)

type Options struct {
	ID                string
	Concurrency       int
	PollInterval      time.Duration
	HeartbeatInterval time.Duration
	StageTimeout      func(jobs.Stage) time.Duration
}

type Worker struct {
	db       *gorm.DB
	log      *logger.Logger
	opts     Options
	engine   *orchestrator.Engine
	registry *runtime.Registry
	jobs     jobsrepo.ProcessingJobRepo
	docs     knowledgerepo.DocumentRepo
}

func NewWorker(db *gorm.DB, baseLog *logger.Logger, opts Options, engine *orchestrator.Engine, registry *runtime.Registry, jobRepo jobsrepo.ProcessingJobRepo, docs knowledgerepo.DocumentRepo) *Worker {
	if opts.ID == "" {
		opts.ID = "worker"
	}
	if opts.Concurrency < 1 {
		opts.Concurrency = 1
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = time.Second
	}
	if opts.HeartbeatInterval <= 0 {
		opts.HeartbeatInterval = engine.Options().Lease / 3
	}
	if opts.StageTimeout == nil {
		opts.StageTimeout = func(jobs.Stage) time.Duration { return 2 * time.Minute }
	}
	return &Worker{
		db:       db,
		log:      baseLog.With("component", "JobWorker"),
		opts:     opts,
		engine:   engine,
		registry: registry,
		jobs:     jobRepo,
		docs:     docs,
	}
}

// Run starts the worker pool and blocks until ctx is done.
func (w *Worker) Run(ctx context.Context) error {
	if missing := w.registry.Missing(); len(missing) > 0 {
		w.log.Warn("stages without handler", "stages", missing)
	}
	w.log.Info("Starting job worker pool", "concurrency", w.opts.Concurrency, "worker_id", w.opts.ID)
	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < w.opts.Concurrency; i++ {
		slot := fmt.Sprintf("%s-%d", w.opts.ID, i+1)
		g.Go(func() error {
			w.runLoop(gctx, slot)
			return nil
		})
	}
	return g.Wait()
}

func (w *Worker) runLoop(ctx context.Context, slot string) {
	ticker := time.NewTicker(w.opts.PollInterval)
	defer ticker.Stop()
	for {
		// Drain everything runnable before sleeping again.
		for {
			ran, err := w.RunOnce(ctx, slot)
			if err != nil {
				w.log.Warn("job cycle failed", "worker_id", slot, "error", err)
			}
			if !ran || ctx.Err() != nil {
				break
			}
		}
		select {
		case <-ctx.Done():
			w.log.Info("Worker loop stopped", "worker_id", slot)
			return
		case <-ticker.C:
		}
	}
}

// RunOnce claims and processes at most one job. It reports whether a job was
// claimed.
func (w *Worker) RunOnce(ctx context.Context, slot string) (bool, error) {
	job, err := w.engine.Claim(ctx, slot)
	if err != nil {
		return false, err
	}
	if job == nil {
		return false, nil
	}
	w.process(ctx, slot, job)
	return true, nil
}

func (w *Worker) process(ctx context.Context, slot string, job *jobs.ProcessingJob) {
	started := time.Now()
	log := w.log.With("worker_id", slot, "job_id", job.ID, "stage", job.Stage, "document_id", job.DocumentID, "attempt", job.AttemptCount)

	h, ok := w.registry.Get(job.Stage)
	if !ok {
		log.Warn("No handler registered for stage")
		w.finish(ctx, slot, job, apperr.Permanent(string(job.Stage), &missingHandlerError{Stage: job.Stage}), started)
		return
	}
	doc, err := w.docs.GetByID(dbctx.New(ctx), job.DocumentID)
	if err != nil {
		w.finish(ctx, slot, job, apperr.Transient("load document", err), started)
		return
	}
	if doc == nil {
		w.finish(ctx, slot, job, apperr.Permanent(string(job.Stage), fmt.Errorf("document %s: %w", job.DocumentID, apperr.ErrNotFound)), started)
		return
	}

	runCtx, cancel := context.WithTimeout(ctx, w.opts.StageTimeout(job.Stage))
	defer cancel()
	runCtx, span := observability.StartSpan(runCtx, "stage."+string(job.Stage),
		attribute.String("job.id", job.ID.String()),
		attribute.String("document.id", job.DocumentID.String()),
		attribute.Int("job.attempt", job.AttemptCount),
	)

	hbDone := make(chan struct{})
	go w.heartbeat(runCtx, cancel, slot, job, hbDone, log)

	jc := runtime.NewContext(runCtx, w.db, job, doc, slot, w.jobs, w.docs, log)
	runErr := w.runHandler(h, jc, log)
	close(hbDone)

	if runErr != nil && errors.Is(runErr, context.DeadlineExceeded) {
		runErr = apperr.Transient(string(job.Stage)+" timeout", runErr)
	}
	observability.EndSpan(span, runErr)
	w.finish(ctx, slot, job, runErr, started)
}

func (w *Worker) runHandler(h runtime.Handler, jc *runtime.Context, log *logger.Logger) (err error) {
	defer func() {
		if r := recover(); r != nil {
			log.Error("Job handler panic", "panic", r)
			err = apperr.Permanent(string(jc.Job.Stage), &panicError{Val: r})
		}
	}()
	return h.Run(jc)
}

// heartbeat extends the lease until done closes. A lost lease or a canceled
// document cancels the running handler.
func (w *Worker) heartbeat(ctx context.Context, cancel context.CancelFunc, slot string, job *jobs.ProcessingJob, done <-chan struct{}, log *logger.Logger) {
	t := time.NewTicker(w.opts.HeartbeatInterval)
	defer t.Stop()
	for {
		select {
		case <-done:
			return
		case <-ctx.Done():
			return
		case <-t.C:
			err := w.engine.Heartbeat(ctx, job.ID, slot)
			if err == nil {
				continue
			}
			if errors.Is(err, apperr.ErrLeaseLost) || errors.Is(err, apperr.ErrCanceled) {
				log.Warn("lease gone, stopping handler", "error", err)
				cancel()
				return
			}
			log.Warn("heartbeat failed", "error", err)
		}
	}
}

func (w *Worker) finish(ctx context.Context, slot string, job *jobs.ProcessingJob, runErr error, started time.Time) {
	stage := string(job.Stage)
	if runErr == nil {
		err := w.engine.Ack(ctx, job.ID, slot)
		switch {
		case err == nil:
			observability.Current().ObserveStage(stage, "succeeded", time.Since(started))
		case errors.Is(err, apperr.ErrCanceled), errors.Is(err, apperr.ErrLeaseLost):
			observability.Current().ObserveStage(stage, "discarded", time.Since(started))
			w.log.Info("stage result discarded", "job_id", job.ID, "stage", stage, "reason", err)
		default:
			w.log.Error("ack failed", "job_id", job.ID, "stage", stage, "error", err)
		}
		return
	}
	if ctx.Err() != nil {
		// Shutting down: the lease lapses and another worker picks the job up.
		w.log.Info("stage interrupted by shutdown", "job_id", job.ID, "stage", stage, "error", runErr)
		return
	}
	if errors.Is(runErr, apperr.ErrCanceled) || errors.Is(runErr, apperr.ErrLeaseLost) {
		observability.Current().ObserveStage(stage, "discarded", time.Since(started))
		w.log.Info("stage result discarded", "job_id", job.ID, "stage", stage, "reason", runErr)
		return
	}
	observability.Current().ObserveStage(stage, "failed", time.Since(started))
	if _, err := w.engine.Fail(ctx, job.ID, slot, runErr); err != nil {
		w.log.Warn("recording failure failed", "job_id", job.ID, "stage", stage, "error", err, "cause", runErr)
	}
}

type missingHandlerError struct{ Stage jobs.Stage }

func (e *missingHandlerError) Error() string { return "no handler registered for stage=" + string(e.Stage) }

type panicError struct{ Val any }

func (e *panicError) Error() string { return fmt.Sprintf("panic: %v", e.Val) }
