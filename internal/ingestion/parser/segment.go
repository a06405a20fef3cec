package parser

import (
	"fmt"
	"strings"
	"unicode/utf8"
)

// Segment is one located span of document text before chunk packing.
type Segment struct {
	Text     string
	Location string
	Page     *int
}

func pageRef(n int) *int { return &n }

func collapseWhitespace(s string) string {
	s = strings.ReplaceAll(s, "\u00a0", " ")
	return strings.Join(strings.Fields(s), " ")
}

func sanitizeUTF8(s string) string {
	if utf8.ValidString(s) {
		return s
	}
	// keep words separated where bytes were dropped
	return strings.ToValidUTF8(s, " ")
}

// normalizeSegments trims, drops empty segments and removes exact repeats
// at the same location.
func normalizeSegments(in []Segment) []Segment {
	out := make([]Segment, 0, len(in))
	seen := map[string]bool{}
	for _, s := range in {
		s.Text = strings.TrimSpace(sanitizeUTF8(s.Text))
		if s.Text == "" {
			continue
		}
		key := s.Location + "|" + s.Text
		if s.Page != nil {
			key = fmt.Sprintf("p=%d|%s", *s.Page, key)
		}
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, s)
	}
	return out
}

// pack merges consecutive segments on the same page into chunks of at most
// maxChars, splitting oversized segments on sentence boundaries.
func pack(segs []Segment, maxChars int) []Segment {
	var out []Segment
	var cur *Segment
	flush := func() {
		if cur != nil {
			out = append(out, *cur)
			cur = nil
		}
	}
	for _, s := range segs {
		for _, piece := range splitLong(s.Text, maxChars) {
			if cur != nil && samePage(cur.Page, s.Page) && cur.Location == s.Location && len(cur.Text)+1+len(piece) <= maxChars {
				cur.Text += "\n" + piece
				continue
			}
			flush()
			cur = &Segment{Text: piece, Location: s.Location, Page: s.Page}
		}
	}
	flush()
	return out
}

func samePage(a, b *int) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

func splitLong(text string, maxChars int) []string {
	if len(text) <= maxChars {
		return []string{text}
	}
	var out []string
	var b strings.Builder
	for _, sentence := range splitSentences(text) {
		if b.Len() > 0 && b.Len()+1+len(sentence) > maxChars {
			out = append(out, b.String())
			b.Reset()
		}
		for len(sentence) > maxChars {
			cut := strings.LastIndexByte(sentence[:maxChars], ' ')
			if cut <= 0 {
				cut = maxChars
			}
			out = append(out, strings.TrimSpace(sentence[:cut]))
			sentence = strings.TrimSpace(sentence[cut:])
		}
		if b.Len() > 0 {
			b.WriteByte(' ')
		}
		b.WriteString(sentence)
	}
	if b.Len() > 0 {
		out = append(out, b.String())
	}
	return out
}

func splitSentences(text string) []string {
	var out []string
	start := 0
	for i := 0; i < len(text); i++ {
		c := text[i]
		if (c == '.' || c == '!' || c == '?') && (i+1 == len(text) || text[i+1] == ' ' || text[i+1] == '\n') {
			if s := strings.TrimSpace(text[start : i+1]); s != "" {
				out = append(out, s)
			}
			start = i + 1
		}
	}
	if s := strings.TrimSpace(text[start:]); s != "" {
		out = append(out, s)
	}
	return out
}
