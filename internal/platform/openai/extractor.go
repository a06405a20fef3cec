package openai

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	goopenai "github.com/sashabaranov/go-openai"

	"github.com/hoferino/manda-platform-sub003/internal/domain/knowledge"
	apperr "github.com/hoferino/manda-platform-sub003/internal/pkg/errors"
)

const extractionSystemPrompt = `You extract discrete factual claims from due-diligence documents.
Return a JSON object {"candidates": [...]}. Each candidate has:
  text: one self-contained factual statement
  domain: one of financial, operational, legal, commercial, general
  confidence: number between 0 and 1
  date_referenced: the period the fact describes exactly as written (e.g. "Q3 2024", "FY2023", "as of March 31, 2024"), or "" if none
  source: {"chunk_id": the id of the chunk the claim came from, "location": that chunk's location}
  fact_key: short snake_case name of the measured quantity (e.g. "revenue", "headcount")
  value: the asserted value as written (e.g. "$5.2M", "45%")
Never invent a period. Omit claims you cannot attribute to a chunk.`

type Extractor struct {
	c       *Client
	pattern string
}

func NewExtractor(c *Client) *Extractor {
	return &Extractor{c: c, pattern: "llm:" + c.cfg.ChatModel}
}

type promptChunk struct {
	ChunkID  string `json:"chunk_id"`
	Location string `json:"location"`
	Text     string `json:"text"`
}

// Extract asks the chat model for candidates over one batch of chunks. The
// returned messages are unvalidated.
func (e *Extractor) Extract(ctx context.Context, chunks []*knowledge.Chunk) ([]json.RawMessage, error) {
	if len(chunks) == 0 {
		return nil, nil
	}
	in := make([]promptChunk, 0, len(chunks))
	for _, c := range chunks {
		in = append(in, promptChunk{ChunkID: c.ID.String(), Location: c.Location, Text: c.Text})
	}
	user, err := json.Marshal(map[string]any{"chunks": in})
	if err != nil {
		return nil, err
	}
	if err := e.c.wait(ctx, "extract"); err != nil {
		return nil, err
	}
	resp, err := e.c.api.CreateChatCompletion(ctx, goopenai.ChatCompletionRequest{
		Model: e.c.cfg.ChatModel,
		Messages: []goopenai.ChatCompletionMessage{
			{Role: goopenai.ChatMessageRoleSystem, Content: extractionSystemPrompt},
			{Role: goopenai.ChatMessageRoleUser, Content: string(user)},
		},
		ResponseFormat: &goopenai.ChatCompletionResponseFormat{Type: goopenai.ChatCompletionResponseFormatTypeJSONObject},
	})
	if err != nil {
		return nil, classify("extract", err)
	}
	if len(resp.Choices) == 0 {
		return nil, apperr.Transient("extract", fmt.Errorf("openai returned no choices"))
	}
	content := strings.TrimSpace(resp.Choices[0].Message.Content)
	var out struct {
		Candidates []json.RawMessage `json:"candidates"`
	}
	if err := json.Unmarshal([]byte(content), &out); err != nil {
		// A garbled envelope is retried; garbled items are the validator's job.
		return nil, apperr.Transient("extract", fmt.Errorf("decode model output: %w", err))
	}
	for i, raw := range out.Candidates {
		out.Candidates[i] = e.tagPattern(raw)
	}
	e.c.log.Debug("extraction batch done", "chunks", len(chunks), "candidates", len(out.Candidates), "finish_reason", resp.Choices[0].FinishReason)
	return out.Candidates, nil
}

// tagPattern records which extractor produced a candidate so rejection
// rates can be tracked per pattern. Non-object items pass through untouched.
func (e *Extractor) tagPattern(raw json.RawMessage) json.RawMessage {
	var obj map[string]any
	if err := json.Unmarshal(raw, &obj); err != nil || obj == nil {
		return raw
	}
	if p, _ := obj["pattern"].(string); strings.TrimSpace(p) != "" {
		return raw
	}
	obj["pattern"] = e.pattern
	b, err := json.Marshal(obj)
	if err != nil {
		return raw
	}
	return b
}
