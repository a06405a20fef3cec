package jobs

import (
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/hoferino/manda-platform-sub003/internal/domain/jobs"
	"github.com/hoferino/manda-platform-sub003/internal/pkg/dbctx"
	"github.com/hoferino/manda-platform-sub003/internal/pkg/logger"
)

type ProcessingJobRepo interface {
	Enqueue(dbc dbctx.Context, documentID uuid.UUID, stage jobs.Stage, availableAt time.Time) (*jobs.ProcessingJob, error)
	GetByID(dbc dbctx.Context, id uuid.UUID) (*jobs.ProcessingJob, error)
	GetByDocument(dbc dbctx.Context, documentID uuid.UUID) ([]*jobs.ProcessingJob, error)
	ClaimNext(dbc dbctx.Context, owner string, now time.Time, lease time.Duration, maxAttempts int) (*jobs.ProcessingJob, error)
	ExpiredAtCap(dbc dbctx.Context, now time.Time, maxAttempts int) ([]*jobs.ProcessingJob, error)
	UpdateFields(dbc dbctx.Context, id uuid.UUID, updates map[string]interface{}) error
	UpdateFieldsIfLeased(dbc dbctx.Context, id uuid.UUID, owner string, updates map[string]interface{}) (bool, error)
	CancelForDocument(dbc dbctx.Context, documentID uuid.UUID) (int64, error)
}

type processingJobRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewProcessingJobRepo(db *gorm.DB, baseLog *logger.Logger) ProcessingJobRepo {
	return &processingJobRepo{
		db:  db,
		log: baseLog.With("repo", "ProcessingJobRepo"),
	}
}

func (r *processingJobRepo) tx(dbc dbctx.Context) *gorm.DB { return dbc.Conn(r.db) }

// Enqueue upserts the (document, stage) job. A job that is not running is
// reset to a fresh queued state; a running job is returned untouched so a
// duplicate enqueue never steals an active lease.
func (r *processingJobRepo) Enqueue(dbc dbctx.Context, documentID uuid.UUID, stage jobs.Stage, availableAt time.Time) (*jobs.ProcessingJob, error) {
	if documentID == uuid.Nil || !stage.Valid() {
		return nil, errors.New("enqueue: document id and valid stage required")
	}
	t := r.tx(dbc)
	now := time.Now().UTC()
	var existing jobs.ProcessingJob
	err := t.Where("document_id = ? AND stage = ?", documentID, stage).Limit(1).Find(&existing).Error
	if err != nil {
		return nil, err
	}
	if existing.ID == uuid.Nil {
		job := &jobs.ProcessingJob{
			ID:          uuid.New(),
			DocumentID:  documentID,
			Stage:       stage,
			Status:      jobs.StatusQueued,
			AvailableAt: availableAt,
			CreatedAt:   now,
			UpdatedAt:   now,
		}
		res := t.Clauses(clause.OnConflict{DoNothing: true}).Create(job)
		if res.Error != nil {
			return nil, res.Error
		}
		if res.RowsAffected == 0 {
			// Lost a concurrent insert race; read the winner.
			return r.getByDocStage(t, documentID, stage)
		}
		return job, nil
	}
	if existing.Status == jobs.StatusRunning {
		return &existing, nil
	}
	updates := map[string]interface{}{
		"status":        jobs.StatusQueued,
		"attempt_count": 0,
		"last_error":    "",
		"available_at":  availableAt,
		"lease_owner":   "",
		"leased_until":  nil,
		"started_at":    nil,
		"finished_at":   nil,
		"updated_at":    now,
	}
	if err := t.Model(&jobs.ProcessingJob{}).Where("id = ?", existing.ID).Updates(updates).Error; err != nil {
		return nil, err
	}
	return r.getByDocStage(t, documentID, stage)
}

func (r *processingJobRepo) getByDocStage(t *gorm.DB, documentID uuid.UUID, stage jobs.Stage) (*jobs.ProcessingJob, error) {
	var job jobs.ProcessingJob
	if err := t.Where("document_id = ? AND stage = ?", documentID, stage).First(&job).Error; err != nil {
		return nil, err
	}
	return &job, nil
}

func (r *processingJobRepo) GetByID(dbc dbctx.Context, id uuid.UUID) (*jobs.ProcessingJob, error) {
	var job jobs.ProcessingJob
	err := r.tx(dbc).Where("id = ?", id).Limit(1).Find(&job).Error
	if err != nil {
		return nil, err
	}
	if job.ID == uuid.Nil {
		return nil, nil
	}
	return &job, nil
}

func (r *processingJobRepo) GetByDocument(dbc dbctx.Context, documentID uuid.UUID) ([]*jobs.ProcessingJob, error) {
	var out []*jobs.ProcessingJob
	if documentID == uuid.Nil {
		return out, nil
	}
	if err := r.tx(dbc).
		Where("document_id = ?", documentID).
		Order("created_at ASC").
		Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

// ClaimNext leases the oldest runnable job: queued and past its backoff, or
// running with an expired lease and attempts left. The claim UPDATE is
// conditional on the row still looking the way it was read, so two workers
// can never both win it even where row locks are unavailable.
func (r *processingJobRepo) ClaimNext(dbc dbctx.Context, owner string, now time.Time, lease time.Duration, maxAttempts int) (*jobs.ProcessingJob, error) {
	var claimed *jobs.ProcessingJob
	err := r.tx(dbc).Transaction(func(txx *gorm.DB) error {
		var job jobs.ProcessingJob
		qErr := txx.Clauses(clause.Locking{Strength: "UPDATE", Options: "SKIP LOCKED"}).
			Where(`
        (
          (status = ? AND available_at <= ?)
          OR (
            status = ?
            AND leased_until IS NOT NULL
            AND leased_until < ?
            AND attempt_count < ?
          )
        )
      `, jobs.StatusQueued, now, jobs.StatusRunning, now, maxAttempts).
			Order("available_at ASC").
			Order("created_at ASC").
			First(&job).Error
		if errors.Is(qErr, gorm.ErrRecordNotFound) {
			return nil
		}
		if qErr != nil {
			return qErr
		}
		leasedUntil := now.Add(lease)
		res := txx.Model(&jobs.ProcessingJob{}).
			Where("id = ? AND status = ? AND updated_at = ?", job.ID, job.Status, job.UpdatedAt).
			Updates(map[string]interface{}{
				"status":        jobs.StatusRunning,
				"attempt_count": gorm.Expr("attempt_count + 1"),
				"lease_owner":   owner,
				"leased_until":  leasedUntil,
				"started_at":    now,
				"updated_at":    now,
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return nil
		}
		job.Status = jobs.StatusRunning
		job.AttemptCount++
		job.LeaseOwner = owner
		job.LeasedUntil = &leasedUntil
		job.StartedAt = &now
		job.UpdatedAt = now
		claimed = &job
		return nil
	})
	if err != nil {
		return nil, err
	}
	return claimed, nil
}

// ExpiredAtCap lists running jobs whose lease expired after their final attempt.
func (r *processingJobRepo) ExpiredAtCap(dbc dbctx.Context, now time.Time, maxAttempts int) ([]*jobs.ProcessingJob, error) {
	var out []*jobs.ProcessingJob
	if err := r.tx(dbc).
		Where("status = ? AND leased_until IS NOT NULL AND leased_until < ? AND attempt_count >= ?", jobs.StatusRunning, now, maxAttempts).
		Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (r *processingJobRepo) UpdateFields(dbc dbctx.Context, id uuid.UUID, updates map[string]interface{}) error {
	if id == uuid.Nil {
		return nil
	}
	if updates == nil {
		updates = map[string]interface{}{}
	}
	if _, ok := updates["updated_at"]; !ok {
		updates["updated_at"] = time.Now().UTC()
	}
	return r.tx(dbc).
		Model(&jobs.ProcessingJob{}).
		Where("id = ?", id).
		Updates(updates).Error
}

// UpdateFieldsIfLeased applies updates only while owner still holds the
// running lease. It returns false when the lease was lost or the job canceled.
func (r *processingJobRepo) UpdateFieldsIfLeased(dbc dbctx.Context, id uuid.UUID, owner string, updates map[string]interface{}) (bool, error) {
	if id == uuid.Nil {
		return false, nil
	}
	if updates == nil {
		updates = map[string]interface{}{}
	}
	if _, ok := updates["updated_at"]; !ok {
		updates["updated_at"] = time.Now().UTC()
	}
	res := r.tx(dbc).
		Model(&jobs.ProcessingJob{}).
		Where("id = ? AND status = ? AND lease_owner = ?", id, jobs.StatusRunning, owner).
		Updates(updates)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *processingJobRepo) CancelForDocument(dbc dbctx.Context, documentID uuid.UUID) (int64, error) {
	now := time.Now().UTC()
	res := r.tx(dbc).
		Model(&jobs.ProcessingJob{}).
		Where("document_id = ? AND status IN ?", documentID, []jobs.Status{jobs.StatusQueued, jobs.StatusRunning}).
		Updates(map[string]interface{}{
			"status":       jobs.StatusCanceled,
			"lease_owner":  "",
			"leased_until": nil,
			"finished_at":  now,
			"updated_at":   now,
		})
	return res.RowsAffected, res.Error
}
