package knowledge

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/hoferino/manda-platform-sub003/internal/domain/knowledge"
	"github.com/hoferino/manda-platform-sub003/internal/pkg/dbctx"
	"github.com/hoferino/manda-platform-sub003/internal/pkg/logger"
)

type ChunkRepo interface {
	Upsert(dbc dbctx.Context, documentID uuid.UUID, chunks []*knowledge.Chunk) ([]*knowledge.Chunk, error)
	GetByDocument(dbc dbctx.Context, documentID uuid.UUID) ([]*knowledge.Chunk, error)
	GetByIDs(dbc dbctx.Context, ids []uuid.UUID) ([]*knowledge.Chunk, error)
	UpdateFields(dbc dbctx.Context, id uuid.UUID, updates map[string]interface{}) error
}

type chunkRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewChunkRepo(db *gorm.DB, baseLog *logger.Logger) ChunkRepo {
	return &chunkRepo{db: db, log: baseLog.With("repo", "ChunkRepo")}
}

// Upsert writes the parsed chunks of one document keyed by (document, order).
// Re-parsing keeps existing chunk ids; a changed text clears the stored
// embedding so the index stage recomputes it. Chunks beyond the new count are
// removed. The stored rows are returned in order.
func (r *chunkRepo) Upsert(dbc dbctx.Context, documentID uuid.UUID, chunks []*knowledge.Chunk) ([]*knowledge.Chunk, error) {
	t := dbc.Conn(r.db)
	now := time.Now().UTC()
	for _, c := range chunks {
		c.DocumentID = documentID
		if c.ID == uuid.Nil {
			c.ID = uuid.New()
		}
		c.CreatedAt = now
		c.UpdatedAt = now
	}
	if len(chunks) > 0 {
		const batchSize = 100
		err := t.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "document_id"}, {Name: "order_index"}},
			DoUpdates: clause.AssignmentColumns([]string{"text", "location", "page", "embedding", "vector_id", "updated_at"}),
			Where: clause.Where{Exprs: []clause.Expression{
				clause.Expr{SQL: "chunk.text <> excluded.text OR chunk.location <> excluded.location"},
			}},
		}).CreateInBatches(chunks, batchSize).Error
		if err != nil {
			return nil, err
		}
	}
	if err := t.Where("document_id = ? AND order_index >= ?", documentID, len(chunks)).
		Delete(&knowledge.Chunk{}).Error; err != nil {
		return nil, err
	}
	return r.GetByDocument(dbc, documentID)
}

func (r *chunkRepo) GetByDocument(dbc dbctx.Context, documentID uuid.UUID) ([]*knowledge.Chunk, error) {
	var out []*knowledge.Chunk
	if documentID == uuid.Nil {
		return out, nil
	}
	if err := dbc.Conn(r.db).
		Where("document_id = ?", documentID).
		Order("order_index ASC").
		Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (r *chunkRepo) GetByIDs(dbc dbctx.Context, ids []uuid.UUID) ([]*knowledge.Chunk, error) {
	var out []*knowledge.Chunk
	if len(ids) == 0 {
		return out, nil
	}
	if err := dbc.Conn(r.db).Where("id IN ?", ids).Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (r *chunkRepo) UpdateFields(dbc dbctx.Context, id uuid.UUID, updates map[string]interface{}) error {
	if id == uuid.Nil {
		return nil
	}
	if updates == nil {
		updates = map[string]interface{}{}
	}
	if _, ok := updates["updated_at"]; !ok {
		updates["updated_at"] = time.Now().UTC()
	}
	return dbc.Conn(r.db).Model(&knowledge.Chunk{}).Where("id = ?", id).Updates(updates).Error
}
