package knowledge

import (
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/hoferino/manda-platform-sub003/internal/domain/knowledge"
	"github.com/hoferino/manda-platform-sub003/internal/pkg/dbctx"
	"github.com/hoferino/manda-platform-sub003/internal/pkg/logger"
)

// TopicLockRepo serializes commits on one topic across processes. The lock
// belongs to the caller's transaction and is released when it ends.
type TopicLockRepo interface {
	Acquire(dbc dbctx.Context, topicKey string) error
}

type topicLockRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewTopicLockRepo(db *gorm.DB, baseLog *logger.Logger) TopicLockRepo {
	return &topicLockRepo{db: db, log: baseLog.With("repo", "TopicLockRepo")}
}

// Acquire blocks until the transaction in dbc holds topicKey. Postgres uses a
// transaction-scoped advisory lock; other drivers take the write lock on the
// topic's row.
func (r *topicLockRepo) Acquire(dbc dbctx.Context, topicKey string) error {
	if dbc.Tx == nil {
		return fmt.Errorf("topic lock %q requires a transaction", topicKey)
	}
	t := dbc.Conn(r.db)
	if t.Dialector.Name() == "postgres" {
		if err := t.Exec("SELECT pg_advisory_xact_lock(hashtext(?))", topicKey).Error; err != nil {
			return fmt.Errorf("advisory lock %q: %w", topicKey, err)
		}
		return nil
	}
	row := &knowledge.TopicLock{TopicKey: topicKey, LockedAt: time.Now().UTC()}
	err := t.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "topic_key"}},
		DoUpdates: clause.AssignmentColumns([]string{"locked_at"}),
	}).Create(row).Error
	if err != nil {
		return fmt.Errorf("lock row %q: %w", topicKey, err)
	}
	return nil
}
