package knowledge

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/hoferino/manda-platform-sub003/internal/domain/knowledge"
	"github.com/hoferino/manda-platform-sub003/internal/pkg/dbctx"
	"github.com/hoferino/manda-platform-sub003/internal/pkg/logger"
)

type DocumentRepo interface {
	Create(dbc dbctx.Context, doc *knowledge.Document) (*knowledge.Document, error)
	GetByID(dbc dbctx.Context, id uuid.UUID) (*knowledge.Document, error)
	UpdateFields(dbc dbctx.Context, id uuid.UUID, updates map[string]interface{}) error
	SetStatus(dbc dbctx.Context, id uuid.UUID, status knowledge.DocumentStatus) error
	MarkCanceled(dbc dbctx.Context, id uuid.UUID, at time.Time) error
	ClearCanceled(dbc dbctx.Context, id uuid.UUID) error
}

type documentRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewDocumentRepo(db *gorm.DB, baseLog *logger.Logger) DocumentRepo {
	return &documentRepo{db: db, log: baseLog.With("repo", "DocumentRepo")}
}

func (r *documentRepo) Create(dbc dbctx.Context, doc *knowledge.Document) (*knowledge.Document, error) {
	if doc.ID == uuid.Nil {
		doc.ID = uuid.New()
	}
	if doc.Status == "" {
		doc.Status = knowledge.DocumentUploaded
	}
	if doc.Version == 0 {
		doc.Version = 1
	}
	if err := dbc.Conn(r.db).Create(doc).Error; err != nil {
		return nil, err
	}
	return doc, nil
}

func (r *documentRepo) GetByID(dbc dbctx.Context, id uuid.UUID) (*knowledge.Document, error) {
	var doc knowledge.Document
	if err := dbc.Conn(r.db).Where("id = ?", id).Limit(1).Find(&doc).Error; err != nil {
		return nil, err
	}
	if doc.ID == uuid.Nil {
		return nil, nil
	}
	return &doc, nil
}

func (r *documentRepo) UpdateFields(dbc dbctx.Context, id uuid.UUID, updates map[string]interface{}) error {
	if id == uuid.Nil {
		return nil
	}
	if updates == nil {
		updates = map[string]interface{}{}
	}
	if _, ok := updates["updated_at"]; !ok {
		updates["updated_at"] = time.Now().UTC()
	}
	return dbc.Conn(r.db).Model(&knowledge.Document{}).Where("id = ?", id).Updates(updates).Error
}

func (r *documentRepo) SetStatus(dbc dbctx.Context, id uuid.UUID, status knowledge.DocumentStatus) error {
	return r.UpdateFields(dbc, id, map[string]interface{}{"status": status})
}

func (r *documentRepo) MarkCanceled(dbc dbctx.Context, id uuid.UUID, at time.Time) error {
	return r.UpdateFields(dbc, id, map[string]interface{}{"canceled_at": at.UTC()})
}

func (r *documentRepo) ClearCanceled(dbc dbctx.Context, id uuid.UUID) error {
	return r.UpdateFields(dbc, id, map[string]interface{}{"canceled_at": nil})
}
