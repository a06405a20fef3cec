package runtime

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"

	jobsrepo "github.com/hoferino/manda-platform-sub003/internal/data/repos/jobs"
	knowledgerepo "github.com/hoferino/manda-platform-sub003/internal/data/repos/knowledge"
	"github.com/hoferino/manda-platform-sub003/internal/domain/jobs"
	"github.com/hoferino/manda-platform-sub003/internal/domain/knowledge"
	"github.com/hoferino/manda-platform-sub003/internal/pkg/dbctx"
	apperr "github.com/hoferino/manda-platform-sub003/internal/pkg/errors"
	"github.com/hoferino/manda-platform-sub003/internal/pkg/logger"
)

/*
Context is the execution handle a stage handler gets for one claimed job.
Handlers read whatever they like, but every write that belongs to the stage
result goes through Commit, which re-checks inside the transaction that:
  - the job is still running under this worker's lease, and
  - the document was not canceled.
If either check fails the transaction is rolled back and the result discarded.
*/
type Context struct {
	Ctx      context.Context
	DB       *gorm.DB
	Job      *jobs.ProcessingJob
	Document *knowledge.Document
	Owner    string
	Log      *logger.Logger

	jobs jobsrepo.ProcessingJobRepo
	docs knowledgerepo.DocumentRepo
}

func NewContext(ctx context.Context, db *gorm.DB, job *jobs.ProcessingJob, doc *knowledge.Document, owner string, jobRepo jobsrepo.ProcessingJobRepo, docs knowledgerepo.DocumentRepo, log *logger.Logger) *Context {
	return &Context{
		Ctx:      ctx,
		DB:       db,
		Job:      job,
		Document: doc,
		Owner:    owner,
		Log:      log.With("job_id", job.ID, "stage", job.Stage, "document_id", job.DocumentID),
		jobs:     jobRepo,
		docs:     docs,
	}
}

// Commit runs fn in a transaction fenced by the job lease.
func (c *Context) Commit(ctx context.Context, fn func(tx *gorm.DB) error) error {
	if ctx == nil {
		ctx = c.Ctx
	}
	return c.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		dbc := dbctx.Context{Ctx: ctx, Tx: tx}
		if err := c.fence(dbc); err != nil {
			return err
		}
		return fn(tx)
	})
}

func (c *Context) fence(dbc dbctx.Context) error {
	doc, err := c.docs.GetByID(dbc, c.Job.DocumentID)
	if err != nil {
		return err
	}
	if doc == nil || doc.CanceledAt != nil {
		return fmt.Errorf("document %s: %w", c.Job.DocumentID, apperr.ErrCanceled)
	}
	ok, err := c.jobs.UpdateFieldsIfLeased(dbc, c.Job.ID, c.Owner, map[string]interface{}{
		"updated_at": time.Now().UTC(),
	})
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("job %s: %w", c.Job.ID, apperr.ErrLeaseLost)
	}
	return nil
}

// DBC is a non-transactional repo context bound to the stage's deadline.
func (c *Context) DBC() dbctx.Context { return dbctx.New(c.Ctx) }
