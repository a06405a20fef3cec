package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/hoferino/manda-platform-sub003/internal/http/response"
	"github.com/hoferino/manda-platform-sub003/internal/services"
)

type DocumentHandler struct {
	docs services.DocumentService
}

func NewDocumentHandler(docs services.DocumentService) *DocumentHandler {
	return &DocumentHandler{docs: docs}
}

type submitDocumentRequest struct {
	DealID      string `json:"deal_id" binding:"required,uuid"`
	StorageRef  string `json:"storage_ref" binding:"required"`
	ContentType string `json:"content_type"`
	SourceType  string `json:"source_type"`
}

// POST /api/v1/documents
func (h *DocumentHandler) Submit(c *gin.Context) {
	var req submitDocumentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_request", err)
		return
	}
	doc, err := h.docs.Submit(c.Request.Context(), services.SubmitDocumentInput{
		DealID:      uuid.MustParse(req.DealID),
		StorageRef:  req.StorageRef,
		ContentType: req.ContentType,
		SourceType:  req.SourceType,
	})
	if err != nil {
		response.RespondServiceError(c, "submit_document_failed", err)
		return
	}
	response.RespondAccepted(c, gin.H{"document": doc})
}

// GET /api/v1/documents/:id/status
func (h *DocumentHandler) Status(c *gin.Context) {
	id, ok := pathUUID(c, "invalid_document_id")
	if !ok {
		return
	}
	st, err := h.docs.Status(c.Request.Context(), id)
	if err != nil {
		response.RespondServiceError(c, "document_status_failed", err)
		return
	}
	response.RespondOK(c, gin.H{"status": st})
}

// POST /api/v1/documents/:id/retry
func (h *DocumentHandler) Retry(c *gin.Context) {
	id, ok := pathUUID(c, "invalid_document_id")
	if !ok {
		return
	}
	job, err := h.docs.Retry(c.Request.Context(), id)
	if err != nil {
		response.RespondServiceError(c, "retry_document_failed", err)
		return
	}
	response.RespondAccepted(c, gin.H{"job": job})
}

// POST /api/v1/documents/:id/cancel
func (h *DocumentHandler) Cancel(c *gin.Context) {
	id, ok := pathUUID(c, "invalid_document_id")
	if !ok {
		return
	}
	if err := h.docs.Cancel(c.Request.Context(), id); err != nil {
		response.RespondServiceError(c, "cancel_document_failed", err)
		return
	}
	response.RespondAccepted(c, gin.H{"document_id": id, "canceled": true})
}

func pathUUID(c *gin.Context, code string) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.RespondError(c, http.StatusBadRequest, code, err)
		return uuid.Nil, false
	}
	return id, true
}
