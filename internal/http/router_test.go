package http_test

import (
	"bytes"
	"context"
	"encoding/json"
	stdhttp "net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/hoferino/manda-platform-sub003/internal/data/graph"
	jobsrepo "github.com/hoferino/manda-platform-sub003/internal/data/repos/jobs"
	knowledgerepo "github.com/hoferino/manda-platform-sub003/internal/data/repos/knowledge"
	"github.com/hoferino/manda-platform-sub003/internal/data/repos/outbox"
	"github.com/hoferino/manda-platform-sub003/internal/data/repos/testutil"
	"github.com/hoferino/manda-platform-sub003/internal/domain/knowledge"
	httpapi "github.com/hoferino/manda-platform-sub003/internal/http"
	httpH "github.com/hoferino/manda-platform-sub003/internal/http/handlers"
	"github.com/hoferino/manda-platform-sub003/internal/jobs/orchestrator"
	"github.com/hoferino/manda-platform-sub003/internal/modules/knowledge/feedback"
	"github.com/hoferino/manda-platform-sub003/internal/modules/knowledge/index"
	"github.com/hoferino/manda-platform-sub003/internal/observability"
	"github.com/hoferino/manda-platform-sub003/internal/platform/vectorstore"
	"github.com/hoferino/manda-platform-sub003/internal/services"
)

type apiHarness struct {
	db     *gorm.DB
	router *gin.Engine
}

func newAPIHarness(t *testing.T) *apiHarness {
	t.Helper()
	gin.SetMode(gin.TestMode)
	db := testutil.DB(t)
	log := testutil.Logger(t)
	ob := outbox.NewOutboxRepo(db, log)
	docs := knowledgerepo.NewDocumentRepo(db, log)
	engine := orchestrator.NewEngine(db, log, orchestrator.Options{
		Lease: 30 * time.Second,
		Retry: orchestrator.RetryPolicy{MaxAttempts: 3, Backoff: []time.Duration{time.Second}},
	}, jobsrepo.NewProcessingJobRepo(db, log), docs, ob)

	repos := feedback.Repos{
		Findings:    knowledgerepo.NewFindingRepo(db, log),
		Corrections: knowledgerepo.NewCorrectionRepo(db, log),
		Validations: knowledgerepo.NewValidationEventRepo(db, log),
		Deps:        knowledgerepo.NewDependencyRepo(db, log),
		Markers:     knowledgerepo.NewReviewMarkerRepo(db, log),
		Flags:       knowledgerepo.NewSourceFlagRepo(db, log),
		Outbox:      ob,
	}
	rels := knowledgerepo.NewRelationshipRepo(db, log)
	prop := feedback.NewPropagator(log, repos.Findings, rels, repos.Deps, repos.Markers, repos.Outbox)
	ks := services.NewKnowledgeService(log,
		index.New(log, index.NewHashEmbedder(64), vectorstore.NewMemoryStore(), index.Options{}),
		feedback.NewEngine(db, log, feedback.DefaultConfig(), repos, prop),
		graph.NewFindingGraph(nil, log),
		repos.Findings, rels, repos.Corrections, repos.Validations, repos.Flags,
	)

	return &apiHarness{
		db: db,
		router: httpapi.NewRouter(httpapi.RouterConfig{
			Log:             log,
			Metrics:         observability.NewForTest(),
			DocumentHandler: httpH.NewDocumentHandler(services.NewDocumentService(log, engine)),
			FindingHandler:  httpH.NewFindingHandler(ks),
			ReviewHandler:   httpH.NewReviewHandler(ks),
			HealthHandler:   httpH.NewHealthHandler(db),
		}),
	}
}

func (h *apiHarness) do(t *testing.T, method, path string, body any) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.router.ServeHTTP(rec, req)
	out := map[string]any{}
	if rec.Header().Get("Content-Type") != "" && rec.Body.Len() > 0 && rec.Body.Bytes()[0] == '{' {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	}
	return rec, out
}

func errorCode(body map[string]any) string {
	e, _ := body["error"].(map[string]any)
	code, _ := e["code"].(string)
	return code
}

func TestDocumentLifecycleRoutes(t *testing.T) {
	h := newAPIHarness(t)

	rec, body := h.do(t, stdhttp.MethodPost, "/api/v1/documents", map[string]any{
		"deal_id":     uuid.NewString(),
		"storage_ref": "deal-1/cim.html",
		"source_type": "CIM",
	})
	require.Equal(t, stdhttp.StatusAccepted, rec.Code, rec.Body.String())
	doc := body["document"].(map[string]any)
	id := doc["id"].(string)
	assert.Equal(t, "text/html; charset=utf-8", doc["content_type"])

	rec, body = h.do(t, stdhttp.MethodGet, "/api/v1/documents/"+id+"/status", nil)
	require.Equal(t, stdhttp.StatusOK, rec.Code)
	st := body["status"].(map[string]any)
	assert.Equal(t, string(knowledge.DocumentUploaded), st["document_status"])
	assert.Equal(t, "parse", st["stage"])

	rec, body = h.do(t, stdhttp.MethodPost, "/api/v1/documents/"+id+"/retry", nil)
	assert.Equal(t, stdhttp.StatusConflict, rec.Code)
	assert.Equal(t, "conflict", errorCode(body))

	rec, _ = h.do(t, stdhttp.MethodPost, "/api/v1/documents/"+id+"/cancel", nil)
	assert.Equal(t, stdhttp.StatusAccepted, rec.Code)

	rec, body = h.do(t, stdhttp.MethodGet, "/api/v1/documents/"+id+"/status", nil)
	require.Equal(t, stdhttp.StatusOK, rec.Code)
	assert.Equal(t, true, body["status"].(map[string]any)["canceled"])
}

func TestDocumentRoutesRejectBadInput(t *testing.T) {
	h := newAPIHarness(t)

	rec, body := h.do(t, stdhttp.MethodPost, "/api/v1/documents", map[string]any{"deal_id": "nope"})
	assert.Equal(t, stdhttp.StatusBadRequest, rec.Code)
	assert.Equal(t, "invalid_request", errorCode(body))

	rec, body = h.do(t, stdhttp.MethodGet, "/api/v1/documents/not-a-uuid/status", nil)
	assert.Equal(t, stdhttp.StatusBadRequest, rec.Code)
	assert.Equal(t, "invalid_document_id", errorCode(body))

	rec, body = h.do(t, stdhttp.MethodGet, "/api/v1/documents/"+uuid.NewString()+"/status", nil)
	assert.Equal(t, stdhttp.StatusNotFound, rec.Code)
	assert.Equal(t, "not_found", errorCode(body))
}

func TestFindingRoutes(t *testing.T) {
	h := newAPIHarness(t)
	ctx := context.Background()
	doc := testutil.SeedDocument(t, ctx, h.db, uuid.New(), "cim")
	f := testutil.SeedFinding(t, ctx, h.db, doc, "Revenue was $5.2M in FY2024", 0.6, knowledge.FindingCandidateStatus)
	base := "/api/v1/findings/" + f.ID.String()

	rec, body := h.do(t, stdhttp.MethodGet, "/api/v1/findings?deal_id="+doc.DealID.String(), nil)
	require.Equal(t, stdhttp.StatusOK, rec.Code)
	assert.Len(t, body["findings"], 1)

	rec, body = h.do(t, stdhttp.MethodGet, "/api/v1/findings", nil)
	assert.Equal(t, stdhttp.StatusBadRequest, rec.Code)
	assert.Equal(t, "invalid_argument", errorCode(body))

	rec, _ = h.do(t, stdhttp.MethodGet, "/api/v1/findings?deal_id="+doc.DealID.String()+"&limit=ten", nil)
	assert.Equal(t, stdhttp.StatusBadRequest, rec.Code)

	rec, body = h.do(t, stdhttp.MethodPost, base+"/validation", map[string]any{"action": "validate", "actor": "analyst"})
	require.Equal(t, stdhttp.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, string(knowledge.FindingValidated), body["finding"].(map[string]any)["status"])

	rec, _ = h.do(t, stdhttp.MethodPost, base+"/validation", map[string]any{"action": "approve"})
	assert.Equal(t, stdhttp.StatusBadRequest, rec.Code)

	rec, body = h.do(t, stdhttp.MethodPost, base+"/correction", map[string]any{"text": "Revenue was $5.3M in FY2024", "actor": "analyst"})
	require.Equal(t, stdhttp.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "Revenue was $5.3M in FY2024", body["finding"].(map[string]any)["text"])

	rec, body = h.do(t, stdhttp.MethodGet, base+"/corrections", nil)
	require.Equal(t, stdhttp.StatusOK, rec.Code)
	assert.Len(t, body["corrections"], 1)

	rec, _ = h.do(t, stdhttp.MethodPost, base+"/dependencies", map[string]any{"kind": "slide", "dependent_id": "deck-7"})
	assert.Equal(t, stdhttp.StatusCreated, rec.Code)

	rec, body = h.do(t, stdhttp.MethodGet, base, nil)
	require.Equal(t, stdhttp.StatusOK, rec.Code)
	assert.Len(t, body["validations"], 1)

	rec, body = h.do(t, stdhttp.MethodGet, base+"/relationships?type=causes", nil)
	assert.Equal(t, stdhttp.StatusBadRequest, rec.Code)
	assert.Equal(t, "invalid_argument", errorCode(body))

	rec, body = h.do(t, stdhttp.MethodGet, base+"/relationships?type=contradicts", nil)
	require.Equal(t, stdhttp.StatusOK, rec.Code)
	assert.Empty(t, body["relationships"])

	rec, _ = h.do(t, stdhttp.MethodGet, "/api/v1/findings/"+uuid.NewString(), nil)
	assert.Equal(t, stdhttp.StatusNotFound, rec.Code)
}

func TestReviewQueueRoutes(t *testing.T) {
	h := newAPIHarness(t)

	rec, body := h.do(t, stdhttp.MethodGet, "/api/v1/review-markers", nil)
	require.Equal(t, stdhttp.StatusOK, rec.Code)
	assert.Empty(t, body["markers"])

	rec, _ = h.do(t, stdhttp.MethodGet, "/api/v1/review-markers?open=maybe", nil)
	assert.Equal(t, stdhttp.StatusBadRequest, rec.Code)

	rec, _ = h.do(t, stdhttp.MethodPost, "/api/v1/review-markers/"+uuid.NewString()+"/resolve", nil)
	assert.Equal(t, stdhttp.StatusNotFound, rec.Code)

	rec, body = h.do(t, stdhttp.MethodGet, "/api/v1/source-flags", nil)
	require.Equal(t, stdhttp.StatusOK, rec.Code)
	assert.Empty(t, body["source_flags"])
}

func TestHealthAndMetrics(t *testing.T) {
	h := newAPIHarness(t)

	rec, _ := h.do(t, stdhttp.MethodGet, "/healthz", nil)
	assert.Equal(t, stdhttp.StatusOK, rec.Code)
	assert.Equal(t, "ok", rec.Body.String())
	assert.NotEmpty(t, rec.Header().Get("X-Request-Id"))

	rec, _ = h.do(t, stdhttp.MethodGet, "/metrics", nil)
	assert.Equal(t, stdhttp.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "manda_api_requests_total")
}
