package handlers

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	knowledgerepo "github.com/hoferino/manda-platform-sub003/internal/data/repos/knowledge"
	"github.com/hoferino/manda-platform-sub003/internal/http/response"
	"github.com/hoferino/manda-platform-sub003/internal/services"
)

// ReviewHandler serves the review queue: open markers raised by correction
// propagation and sources flagged for high rejection rates.
type ReviewHandler struct {
	knowledge services.KnowledgeService
}

func NewReviewHandler(ks services.KnowledgeService) *ReviewHandler {
	return &ReviewHandler{knowledge: ks}
}

// GET /api/v1/review-markers
func (h *ReviewHandler) ListMarkers(c *gin.Context) {
	findingID, err := optionalUUID(c.Query("finding_id"))
	if err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_finding_id", err)
		return
	}
	filter := knowledgerepo.ReviewMarkerFilter{
		FindingID:  findingID,
		TargetKind: strings.TrimSpace(c.Query("target_kind")),
		TargetID:   strings.TrimSpace(c.Query("target_id")),
		OnlyOpen:   true,
	}
	if v := strings.TrimSpace(c.Query("open")); v != "" {
		open, err := strconv.ParseBool(v)
		if err != nil {
			response.RespondError(c, http.StatusBadRequest, "invalid_query", err)
			return
		}
		filter.OnlyOpen = open
	}
	if v := strings.TrimSpace(c.Query("limit")); v != "" {
		if filter.Limit, err = strconv.Atoi(v); err != nil {
			response.RespondError(c, http.StatusBadRequest, "invalid_query", err)
			return
		}
	}
	markers, err := h.knowledge.ListReviewMarkers(c.Request.Context(), filter)
	if err != nil {
		response.RespondServiceError(c, "list_review_markers_failed", err)
		return
	}
	response.RespondOK(c, gin.H{"markers": markers})
}

// POST /api/v1/review-markers/:id/resolve
func (h *ReviewHandler) ResolveMarker(c *gin.Context) {
	id, ok := pathUUID(c, "invalid_marker_id")
	if !ok {
		return
	}
	if err := h.knowledge.ResolveReviewMarker(c.Request.Context(), id); err != nil {
		response.RespondServiceError(c, "resolve_review_marker_failed", err)
		return
	}
	response.RespondOK(c, gin.H{"marker_id": id, "resolved": true})
}

// GET /api/v1/source-flags
func (h *ReviewHandler) ListSourceFlags(c *gin.Context) {
	flags, err := h.knowledge.ListSourceFlags(c.Request.Context())
	if err != nil {
		response.RespondServiceError(c, "list_source_flags_failed", err)
		return
	}
	response.RespondOK(c, gin.H{"source_flags": flags})
}
