package openai

import (
	"context"
	"fmt"
	"strings"

	goopenai "github.com/sashabaranov/go-openai"

	apperr "github.com/hoferino/manda-platform-sub003/internal/pkg/errors"
)

type Embedder struct {
	c   *Client
	dim int
}

func NewEmbedder(c *Client) *Embedder {
	dim := c.cfg.EmbedDim
	if dim <= 0 {
		dim = defaultEmbedDim(c.cfg.EmbedModel)
	}
	return &Embedder{c: c, dim: dim}
}

func defaultEmbedDim(model string) int {
	if model == string(goopenai.LargeEmbedding3) {
		return 3072
	}
	return 1536
}

func (e *Embedder) Dimensions() int { return e.dim }

func (e *Embedder) Embed(ctx context.Context, inputs []string) ([][]float32, error) {
	if len(inputs) == 0 {
		return [][]float32{}, nil
	}
	clean := make([]string, len(inputs))
	for i, s := range inputs {
		s = strings.TrimSpace(s)
		if s == "" {
			s = " "
		}
		clean[i] = s
	}
	if err := e.c.wait(ctx, "embed"); err != nil {
		return nil, err
	}
	req := goopenai.EmbeddingRequest{
		Input: clean,
		Model: goopenai.EmbeddingModel(e.c.cfg.EmbedModel),
	}
	if e.c.cfg.EmbedDim > 0 {
		req.Dimensions = e.c.cfg.EmbedDim
	}
	resp, err := e.c.api.CreateEmbeddings(ctx, req)
	if err != nil {
		return nil, classify("embed", err)
	}

	out := make([][]float32, len(clean))
	for _, d := range resp.Data {
		if d.Index >= 0 && d.Index < len(out) {
			out[d.Index] = d.Embedding
		}
	}
	for i, v := range out {
		if len(v) == 0 {
			return nil, apperr.Transient("embed", fmt.Errorf("embeddings response missing index %d: requested=%d returned=%d model=%s", i, len(clean), len(resp.Data), e.c.cfg.EmbedModel))
		}
	}
	return out, nil
}
