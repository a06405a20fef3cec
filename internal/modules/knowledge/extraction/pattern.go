package extraction

import (
	"context"
	"encoding/json"
	"regexp"
	"strings"

	"github.com/hoferino/manda-platform-sub003/internal/domain/knowledge"
	"github.com/hoferino/manda-platform-sub003/internal/modules/knowledge/period"
)

const PatternSentenceValue = "pattern:sentence-value"

var reSentence = regexp.MustCompile(`[^.!?\n]+(?:\.\d[^.!?\n]*)*[.!?]?`)

var domainKeywords = []struct {
	domain string
	words  []string
}{
	{"financial", []string{"revenue", "ebitda", "margin", "profit", "income", "debt", "cash", "sales", "earnings", "capex", "valuation"}},
	{"operational", []string{"employees", "headcount", "customers", "sites", "stores", "plants", "churn", "capacity"}},
	{"legal", []string{"litigation", "lawsuit", "ownership", "owns", "shareholder", "stake", "license", "contract"}},
}

// PatternExtractor is a deterministic local extractor: every sentence that
// asserts a value becomes a candidate. It stands in for the model-backed
// extractor in local runs and tests.
type PatternExtractor struct {
	Opts period.Options
}

func (p PatternExtractor) Extract(ctx context.Context, chunks []*knowledge.Chunk) ([]json.RawMessage, error) {
	var out []json.RawMessage
	for _, c := range chunks {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		for _, sentence := range reSentence.FindAllString(c.Text, -1) {
			sentence = strings.TrimSpace(sentence)
			if sentence == "" {
				continue
			}
			v, ok := period.FindValue(sentence, p.Opts)
			if !ok {
				continue
			}
			conf := 0.6
			dateRef := ""
			if spans := period.FindAll(sentence, p.Opts); len(spans) > 0 {
				dateRef = sentence[spans[0].Start:spans[0].End]
				conf = 0.7
			}
			rc := RawCandidate{
				Text:           sentence,
				Domain:         classifyDomain(sentence),
				Confidence:     &conf,
				DateReferenced: dateRef,
				Source:         &Source{ChunkID: c.ID.String(), Location: c.Location},
				FactKey:        DeriveFactKey(sentence, p.Opts),
				Value:          v.Text,
				Pattern:        PatternSentenceValue,
			}
			raw, err := json.Marshal(rc)
			if err != nil {
				return nil, err
			}
			out = append(out, raw)
		}
	}
	return out, nil
}

func classifyDomain(s string) string {
	l := strings.ToLower(s)
	for _, d := range domainKeywords {
		for _, w := range d.words {
			if strings.Contains(l, w) {
				return d.domain
			}
		}
	}
	return "general"
}
