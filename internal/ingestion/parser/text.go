package parser

import (
	"context"
	"fmt"
	"io"
	"strings"
)

// TextParser reads plain text and markdown. Form feeds separate pages;
// blank lines separate paragraphs.
type TextParser struct{}

func (TextParser) Parse(ctx context.Context, r io.Reader, _ string) ([]Segment, error) {
	raw, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	return textSegments(ctx, string(raw))
}

func textSegments(ctx context.Context, text string) ([]Segment, error) {
	text = strings.ReplaceAll(text, "\r\n", "\n")
	var out []Segment
	for i, page := range strings.Split(text, "\f") {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		n := i + 1
		for _, para := range strings.Split(page, "\n\n") {
			para = collapseWhitespace(para)
			if para == "" {
				continue
			}
			out = append(out, Segment{Text: para, Location: fmt.Sprintf("page %d", n), Page: pageRef(n)})
		}
	}
	return out, nil
}
