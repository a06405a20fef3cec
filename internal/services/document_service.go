package services

import (
	"context"
	"fmt"
	"mime"
	"path"
	"strings"

	"github.com/google/uuid"

	"github.com/hoferino/manda-platform-sub003/internal/domain/jobs"
	"github.com/hoferino/manda-platform-sub003/internal/domain/knowledge"
	"github.com/hoferino/manda-platform-sub003/internal/jobs/orchestrator"
	apperr "github.com/hoferino/manda-platform-sub003/internal/pkg/errors"
	"github.com/hoferino/manda-platform-sub003/internal/pkg/logger"
)

// SubmitDocumentInput is what the upload collaborator hands over once the
// bytes are stored.
type SubmitDocumentInput struct {
	DealID      uuid.UUID
	StorageRef  string
	ContentType string
	SourceType  string
}

type DocumentService interface {
	Submit(ctx context.Context, in SubmitDocumentInput) (*knowledge.Document, error)
	Status(ctx context.Context, documentID uuid.UUID) (*orchestrator.PipelineStatus, error)
	Retry(ctx context.Context, documentID uuid.UUID) (*jobs.ProcessingJob, error)
	Cancel(ctx context.Context, documentID uuid.UUID) error
}

type documentService struct {
	log    *logger.Logger
	engine *orchestrator.Engine
}

func NewDocumentService(baseLog *logger.Logger, engine *orchestrator.Engine) DocumentService {
	return &documentService{
		log:    baseLog.With("service", "DocumentService"),
		engine: engine,
	}
}

func (s *documentService) Submit(ctx context.Context, in SubmitDocumentInput) (*knowledge.Document, error) {
	ref := strings.TrimSpace(in.StorageRef)
	if in.DealID == uuid.Nil || ref == "" {
		return nil, fmt.Errorf("deal_id and storage_ref are required: %w", apperr.ErrInvalidArgument)
	}
	ct := strings.TrimSpace(in.ContentType)
	if ct == "" {
		ct = mime.TypeByExtension(strings.ToLower(path.Ext(ref)))
	}
	return s.engine.Submit(ctx, &knowledge.Document{
		DealID:      in.DealID,
		StorageRef:  ref,
		ContentType: ct,
		SourceType:  strings.ToLower(strings.TrimSpace(in.SourceType)),
	})
}

func (s *documentService) Status(ctx context.Context, documentID uuid.UUID) (*orchestrator.PipelineStatus, error) {
	return s.engine.Status(ctx, documentID)
}

func (s *documentService) Retry(ctx context.Context, documentID uuid.UUID) (*jobs.ProcessingJob, error) {
	return s.engine.Retry(ctx, documentID)
}

func (s *documentService) Cancel(ctx context.Context, documentID uuid.UUID) error {
	return s.engine.Cancel(ctx, documentID)
}
