package parser

import (
	"context"
	"io"
	"regexp"
	"strings"

	md "github.com/JohannesKaufmann/html-to-markdown"
	"github.com/JohannesKaufmann/html-to-markdown/plugin"
	"golang.org/x/net/html"
)

var excessiveLinesRe = regexp.MustCompile(`\n{3,}`)

// HTMLParser converts HTML to markdown and then splits it like text. Page
// chrome (nav, scripts, footers) is dropped first.
type HTMLParser struct {
	converter *md.Converter
}

func NewHTMLParser() *HTMLParser {
	c := md.NewConverter("", true, nil)
	c.Use(plugin.GitHubFlavored())
	return &HTMLParser{converter: c}
}

func (p *HTMLParser) Parse(ctx context.Context, r io.Reader, _ string) ([]Segment, error) {
	doc, err := html.Parse(r)
	if err != nil {
		return nil, err
	}
	removeElements(doc, "script", "style", "noscript", "nav", "footer", "iframe", "form")
	var sb strings.Builder
	if err := html.Render(&sb, doc); err != nil {
		return nil, err
	}
	markdown, err := p.converter.ConvertString(sb.String())
	if err != nil {
		return nil, err
	}
	markdown = excessiveLinesRe.ReplaceAllString(markdown, "\n\n")
	return textSegments(ctx, markdown)
}

func removeElements(n *html.Node, tags ...string) {
	drop := make(map[string]bool, len(tags))
	for _, t := range tags {
		drop[t] = true
	}
	var toRemove []*html.Node
	var collect func(*html.Node)
	collect = func(node *html.Node) {
		if node.Type == html.ElementNode && drop[node.Data] {
			toRemove = append(toRemove, node)
			return
		}
		for c := node.FirstChild; c != nil; c = c.NextSibling {
			collect(c)
		}
	}
	collect(n)
	for _, node := range toRemove {
		if node.Parent != nil {
			node.Parent.RemoveChild(node)
		}
	}
}
