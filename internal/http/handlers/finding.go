package handlers

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/hoferino/manda-platform-sub003/internal/domain/knowledge"
	"github.com/hoferino/manda-platform-sub003/internal/http/response"
	"github.com/hoferino/manda-platform-sub003/internal/services"
)

type FindingHandler struct {
	knowledge services.KnowledgeService
}

func NewFindingHandler(ks services.KnowledgeService) *FindingHandler {
	return &FindingHandler{knowledge: ks}
}

// GET /api/v1/findings
func (h *FindingHandler) Query(c *gin.Context) {
	q, err := parseFindingQuery(c)
	if err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_query", err)
		return
	}
	hits, err := h.knowledge.QueryFindings(c.Request.Context(), q)
	if err != nil {
		response.RespondServiceError(c, "query_findings_failed", err)
		return
	}
	response.RespondOK(c, gin.H{"findings": hits})
}

func parseFindingQuery(c *gin.Context) (services.FindingQuery, error) {
	var q services.FindingQuery
	var err error
	if q.DealID, err = optionalUUID(c.Query("deal_id")); err != nil {
		return q, fmt.Errorf("deal_id: %w", err)
	}
	if q.DocumentID, err = optionalUUID(c.Query("document_id")); err != nil {
		return q, fmt.Errorf("document_id: %w", err)
	}
	q.Domain = strings.TrimSpace(c.Query("domain"))
	q.Query = strings.TrimSpace(c.Query("q"))
	if v := strings.TrimSpace(c.Query("confidence_min")); v != "" {
		if q.ConfidenceMin, err = strconv.ParseFloat(v, 64); err != nil {
			return q, fmt.Errorf("confidence_min: %w", err)
		}
	}
	for _, s := range splitList(c.Query("status")) {
		q.Statuses = append(q.Statuses, knowledge.FindingStatus(strings.ToLower(s)))
	}
	if v := strings.ToLower(strings.TrimSpace(c.Query("include_superseded"))); v != "" {
		if q.IncludeSuperseded, err = strconv.ParseBool(v); err != nil {
			return q, fmt.Errorf("include_superseded: %w", err)
		}
	}
	if v := strings.TrimSpace(c.Query("limit")); v != "" {
		if q.Limit, err = strconv.Atoi(v); err != nil {
			return q, fmt.Errorf("limit: %w", err)
		}
	}
	if v := strings.TrimSpace(c.Query("offset")); v != "" {
		if q.Offset, err = strconv.Atoi(v); err != nil || q.Offset < 0 {
			return q, fmt.Errorf("offset must be a non-negative integer")
		}
	}
	return q, nil
}

// GET /api/v1/findings/:id
func (h *FindingHandler) Get(c *gin.Context) {
	id, ok := pathUUID(c, "invalid_finding_id")
	if !ok {
		return
	}
	d, err := h.knowledge.GetFinding(c.Request.Context(), id)
	if err != nil {
		response.RespondServiceError(c, "get_finding_failed", err)
		return
	}
	response.RespondOK(c, d)
}

// GET /api/v1/findings/:id/relationships?type=CONTRADICTS,SUPERSEDES
func (h *FindingHandler) Relationships(c *gin.Context) {
	id, ok := pathUUID(c, "invalid_finding_id")
	if !ok {
		return
	}
	var types []knowledge.RelationshipType
	for _, s := range splitList(c.Query("type")) {
		types = append(types, knowledge.RelationshipType(strings.ToUpper(s)))
	}
	rels, err := h.knowledge.GetRelationships(c.Request.Context(), id, types...)
	if err != nil {
		response.RespondServiceError(c, "get_relationships_failed", err)
		return
	}
	response.RespondOK(c, gin.H{"relationships": rels})
}

// GET /api/v1/findings/:id/corrections
func (h *FindingHandler) Corrections(c *gin.Context) {
	id, ok := pathUUID(c, "invalid_finding_id")
	if !ok {
		return
	}
	cs, err := h.knowledge.ListCorrections(c.Request.Context(), id)
	if err != nil {
		response.RespondServiceError(c, "list_corrections_failed", err)
		return
	}
	response.RespondOK(c, gin.H{"corrections": cs})
}

type validationRequest struct {
	Action string `json:"action" binding:"required,oneof=validate reject"`
	Actor  string `json:"actor"`
}

// POST /api/v1/findings/:id/validation
func (h *FindingHandler) Validate(c *gin.Context) {
	id, ok := pathUUID(c, "invalid_finding_id")
	if !ok {
		return
	}
	var req validationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_request", err)
		return
	}
	res, err := h.knowledge.SubmitValidation(c.Request.Context(), id, knowledge.ValidationAction(req.Action), req.Actor)
	if err != nil {
		response.RespondServiceError(c, "submit_validation_failed", err)
		return
	}
	response.RespondOK(c, gin.H{
		"finding":     res.Finding,
		"event":       res.Event,
		"source_flag": res.SourceFlag,
	})
}

type correctionRequest struct {
	Text   string `json:"text" binding:"required"`
	Actor  string `json:"actor"`
	Reason string `json:"reason"`
}

// POST /api/v1/findings/:id/correction
func (h *FindingHandler) Correct(c *gin.Context) {
	id, ok := pathUUID(c, "invalid_finding_id")
	if !ok {
		return
	}
	var req correctionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_request", err)
		return
	}
	res, err := h.knowledge.SubmitCorrection(c.Request.Context(), id, req.Text, req.Actor, req.Reason)
	if err != nil {
		response.RespondServiceError(c, "submit_correction_failed", err)
		return
	}
	out := gin.H{"finding": res.Finding, "correction": res.Correction}
	if p := res.Propagation; p != nil {
		out["propagation"] = gin.H{
			"findings":   p.Findings,
			"dependents": p.Dependents,
			"markers":    p.Markers,
		}
	}
	response.RespondOK(c, out)
}

type dependencyRequest struct {
	Kind        string `json:"kind" binding:"required"`
	DependentID string `json:"dependent_id" binding:"required"`
}

// POST /api/v1/findings/:id/dependencies
func (h *FindingHandler) RegisterDependency(c *gin.Context) {
	id, ok := pathUUID(c, "invalid_finding_id")
	if !ok {
		return
	}
	var req dependencyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_request", err)
		return
	}
	dep, err := h.knowledge.RegisterDependency(c.Request.Context(), id, req.Kind, req.DependentID)
	if err != nil {
		response.RespondServiceError(c, "register_dependency_failed", err)
		return
	}
	response.RespondCreated(c, gin.H{"dependency": dep})
}

func optionalUUID(v string) (uuid.UUID, error) {
	v = strings.TrimSpace(v)
	if v == "" {
		return uuid.Nil, nil
	}
	return uuid.Parse(v)
}

func splitList(v string) []string {
	var out []string
	for _, p := range strings.Split(v, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
