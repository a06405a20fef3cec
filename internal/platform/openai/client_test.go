package openai

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hoferino/manda-platform-sub003/internal/domain/knowledge"
	apperr "github.com/hoferino/manda-platform-sub003/internal/pkg/errors"
	"github.com/hoferino/manda-platform-sub003/internal/pkg/logger"
)

func newTestClient(t *testing.T, h http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	c, err := NewClient(logger.Nop(), Config{
		APIKey:        "sk-test",
		BaseURL:       srv.URL + "/v1",
		EmbedModel:    "text-embedding-3-small",
		ChatModel:     "gpt-4o-mini",
		RatePerSecond: 1000,
		Burst:         10,
	})
	require.NoError(t, err)
	return c
}

func TestEmbedderReordersByIndex(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/embeddings", r.URL.Path)
		assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))
		var body map[string]any
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, []any{"first", " "}, body["input"])
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"object":"list","data":[
			{"object":"embedding","index":1,"embedding":[0,1]},
			{"object":"embedding","index":0,"embedding":[1,0]}],"model":"text-embedding-3-small"}`))
	})
	e := NewEmbedder(c)
	assert.Equal(t, 1536, e.Dimensions())

	vecs, err := e.Embed(context.Background(), []string{"first", "  "})
	require.NoError(t, err)
	assert.Equal(t, [][]float32{{1, 0}, {0, 1}}, vecs)
}

func TestEmbedderClassifiesStatusCodes(t *testing.T) {
	var status atomic.Int32
	status.Store(http.StatusTooManyRequests)
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(int(status.Load()))
		_, _ = w.Write([]byte(`{"error":{"message":"nope","type":"invalid_request_error"}}`))
	})
	e := NewEmbedder(c)

	_, err := e.Embed(context.Background(), []string{"x"})
	var tr *apperr.TransientIOError
	require.ErrorAs(t, err, &tr)

	status.Store(http.StatusBadRequest)
	_, err = e.Embed(context.Background(), []string{"x"})
	var perm *apperr.PermanentPipelineFailure
	require.ErrorAs(t, err, &perm)
	assert.False(t, apperr.IsRetryable(err))
}

func TestExtractorTagsPatternAndPassesItemsThrough(t *testing.T) {
	chunk := &knowledge.Chunk{ID: uuid.New(), Location: "page 2", Text: "Q3 2024 revenue was $5.2M"}
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/chat/completions", r.URL.Path)
		var req map[string]any
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "json_object", req["response_format"].(map[string]any)["type"])

		content, _ := json.Marshal(map[string]any{"candidates": []any{
			map[string]any{"text": "Q3 2024 revenue was $5.2M", "domain": "financial", "confidence": 0.9,
				"source": map[string]any{"chunk_id": chunk.ID.String(), "location": "page 2"}},
			"garbage",
		}})
		resp := map[string]any{
			"id": "c1", "object": "chat.completion", "model": "gpt-4o-mini",
			"choices": []any{map[string]any{"index": 0, "finish_reason": "stop",
				"message": map[string]any{"role": "assistant", "content": string(content)}}},
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(resp)
	})

	out, err := NewExtractor(c).Extract(context.Background(), []*knowledge.Chunk{chunk})
	require.NoError(t, err)
	require.Len(t, out, 2)

	var first map[string]any
	require.NoError(t, json.Unmarshal(out[0], &first))
	assert.Equal(t, "llm:gpt-4o-mini", first["pattern"])
	assert.JSONEq(t, `"garbage"`, string(out[1]))
}
