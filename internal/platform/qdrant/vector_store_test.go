package qdrant

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"testing"

	"github.com/hoferino/manda-platform-sub003/internal/pkg/logger"
	"github.com/hoferino/manda-platform-sub003/internal/platform/vectorstore"
)

func TestStoreUpsertRequestShape(t *testing.T) {
	var captured map[string]any
	s := newTestStore(t, func(r *http.Request) (*http.Response, error) {
		if r.Method != http.MethodPut {
			t.Fatalf("method: want=%s got=%s", http.MethodPut, r.Method)
		}
		if r.URL.Path != "/collections/manda/points" {
			t.Fatalf("path: want=%q got=%q", "/collections/manda/points", r.URL.Path)
		}
		if r.Header.Get("api-key") != "secret" {
			t.Fatalf("api-key header missing")
		}
		if err := json.NewDecoder(r.Body).Decode(&captured); err != nil {
			t.Fatalf("decode body: %v", err)
		}
		return okResponse(t, map[string]any{"status": "acknowledged"}), nil
	})

	err := s.Upsert(context.Background(), []vectorstore.Vector{
		{ID: "finding:f1", Values: []float32{1, 2, 3}, Payload: vectorstore.Payload{DealID: "d1", Domain: "financial", Kind: vectorstore.KindFinding}},
	})
	if err != nil {
		t.Fatalf("Upsert: %v", err)
	}
	points, ok := captured["points"].([]any)
	if !ok || len(points) != 1 {
		t.Fatalf("points: got=%v", captured["points"])
	}
	first := points[0].(map[string]any)
	if first["id"] != pointID("finding:f1") {
		t.Fatalf("point id mismatch: got=%v", first["id"])
	}
	payload := first["payload"].(map[string]any)
	if payload[payloadVectorIDKey] != "finding:f1" || payload["deal_id"] != "d1" || payload["domain"] != "financial" {
		t.Fatalf("payload mismatch: %v", payload)
	}
	if _, exists := payload["document_id"]; exists {
		t.Fatalf("empty document_id should be omitted")
	}
}

func TestStoreUpsertRejectsWrongDimension(t *testing.T) {
	s := newTestStore(t, func(r *http.Request) (*http.Response, error) {
		t.Fatalf("no request expected")
		return nil, nil
	})
	err := s.Upsert(context.Background(), []vectorstore.Vector{{ID: "chunk:1", Values: []float32{1, 2}}})
	var oe *OperationError
	if !errors.As(err, &oe) || oe.Code != OperationErrorValidation {
		t.Fatalf("expected validation error, got=%v", err)
	}
}

func TestStoreQueryTranslatesFilterAndSorts(t *testing.T) {
	var captured map[string]any
	s := newTestStore(t, func(r *http.Request) (*http.Response, error) {
		if r.URL.Path != "/collections/manda/points/search" {
			t.Fatalf("path: got=%q", r.URL.Path)
		}
		if err := json.NewDecoder(r.Body).Decode(&captured); err != nil {
			t.Fatalf("decode body: %v", err)
		}
		return okResponse(t, []map[string]any{
			{"id": "x", "score": 0.2, "payload": map[string]any{payloadVectorIDKey: "finding:b"}},
			{"id": "y", "score": 0.9, "payload": map[string]any{payloadVectorIDKey: "finding:a"}},
			{"id": "z", "score": 0.5, "payload": map[string]any{}},
		}), nil
	})

	matches, err := s.Query(context.Background(), []float32{1, 0, 0}, vectorstore.Filter{
		DealID:     "d1",
		Domain:     "financial",
		Kind:       vectorstore.KindFinding,
		ExcludeIDs: []string{"finding:self"},
	}, 5)
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(matches) != 2 || matches[0].ID != "finding:a" || matches[1].ID != "finding:b" {
		t.Fatalf("matches: got=%+v", matches)
	}

	filter, ok := captured["filter"].(map[string]any)
	if !ok {
		t.Fatalf("filter missing: %v", captured)
	}
	if must, _ := filter["must"].([]any); len(must) != 3 {
		t.Fatalf("must conditions: want=3 got=%v", filter["must"])
	}
	mustNot, _ := filter["must_not"].([]any)
	if len(mustNot) != 1 {
		t.Fatalf("must_not conditions: want=1 got=%v", filter["must_not"])
	}
	if captured["limit"].(float64) != 5 {
		t.Fatalf("limit: got=%v", captured["limit"])
	}
}

func TestStoreBootstrapCreatesMissingCollection(t *testing.T) {
	var calls []string
	s := newTestStore(t, func(r *http.Request) (*http.Response, error) {
		calls = append(calls, r.Method+" "+r.URL.Path)
		if r.Method == http.MethodGet {
			return statusResponse(http.StatusNotFound, `{"status":{"error":"Not found: Collection manda"}}`), nil
		}
		var body map[string]any
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Fatalf("decode body: %v", err)
		}
		vectors := body["vectors"].(map[string]any)
		if vectors["distance"] != "Cosine" || vectors["size"].(float64) != 3 {
			t.Fatalf("create body: %v", body)
		}
		return okResponse(t, true), nil
	})
	s.cfg.CreateIfMissing = true
	if err := s.bootstrap(context.Background()); err != nil {
		t.Fatalf("bootstrap: %v", err)
	}
	if strings.Join(calls, ",") != "GET /collections/manda,PUT /collections/manda" {
		t.Fatalf("calls: got=%v", calls)
	}
}

func TestStoreBootstrapRejectsSizeMismatch(t *testing.T) {
	s := newTestStore(t, func(r *http.Request) (*http.Response, error) {
		return okResponse(t, map[string]any{
			"config": map[string]any{"params": map[string]any{"vectors": map[string]any{"size": 1536, "distance": "Cosine"}}},
		}), nil
	})
	err := s.bootstrap(context.Background())
	var oe *OperationError
	if !errors.As(err, &oe) || oe.Code != OperationErrorValidation {
		t.Fatalf("expected validation error, got=%v", err)
	}
}

func TestStoreServerErrorIsTransient(t *testing.T) {
	s := newTestStore(t, func(r *http.Request) (*http.Response, error) {
		return statusResponse(http.StatusServiceUnavailable, `overloaded`), nil
	})
	err := s.Delete(context.Background(), []string{"chunk:1", "chunk:1", " "})
	var oe *OperationError
	if !errors.As(err, &oe) {
		t.Fatalf("expected OperationError, got=%T", err)
	}
	if !oe.Transient() {
		t.Fatalf("503 should be transient: %v", oe)
	}
}

func TestClassifyHTTPCallError(t *testing.T) {
	err := classifyHTTPCallError("query", "transport", fmt.Errorf("boom"))
	var oe *OperationError
	if !errors.As(err, &oe) || oe.Code != OperationErrorTransportFailed {
		t.Fatalf("want transport_failed, got=%v", err)
	}
	err = classifyHTTPCallError("query", "timeout", context.DeadlineExceeded)
	if !errors.As(err, &oe) || oe.Code != OperationErrorTimeout {
		t.Fatalf("want timeout, got=%v", err)
	}
}

func TestValidateConfig(t *testing.T) {
	cases := []struct {
		name string
		cfg  Config
		code ConfigErrorCode
	}{
		{"missing url", Config{Collection: "c", VectorDim: 3}, ConfigErrorMissingURL},
		{"relative url", Config{URL: "qdrant:6333", Collection: "c", VectorDim: 3}, ConfigErrorInvalidURL},
		{"missing collection", Config{URL: "http://q:6333", VectorDim: 3}, ConfigErrorMissingCollection},
		{"zero dim", Config{URL: "http://q:6333", Collection: "c"}, ConfigErrorInvalidVectorDim},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			var ce *ConfigError
			if err := ValidateConfig(tc.cfg); !errors.As(err, &ce) || ce.Code != tc.code {
				t.Fatalf("want %s, got=%v", tc.code, err)
			}
		})
	}
	if err := ValidateConfig(Config{URL: "http://q:6333", Collection: "c", VectorDim: 3}); err != nil {
		t.Fatalf("valid config rejected: %v", err)
	}
}

func newTestStore(t *testing.T, roundTrip func(*http.Request) (*http.Response, error)) *Store {
	t.Helper()
	return &Store{
		log:     logger.Nop(),
		cfg:     Config{Collection: "manda", VectorDim: 3, APIKey: "secret"},
		baseURL: "http://qdrant.local",
		http:    &http.Client{Transport: roundTripFunc(roundTrip)},
	}
}

func okResponse(t *testing.T, result any) *http.Response {
	t.Helper()
	raw, err := json.Marshal(map[string]any{"result": result, "status": "ok", "time": 0.001})
	if err != nil {
		t.Fatalf("marshal response: %v", err)
	}
	return statusResponse(http.StatusOK, string(raw))
}

func statusResponse(code int, body string) *http.Response {
	return &http.Response{
		StatusCode: code,
		Header:     make(http.Header),
		Body:       io.NopCloser(bytes.NewReader([]byte(body))),
	}
}

type roundTripFunc func(*http.Request) (*http.Response, error)

func (f roundTripFunc) RoundTrip(r *http.Request) (*http.Response, error) {
	return f(r)
}
