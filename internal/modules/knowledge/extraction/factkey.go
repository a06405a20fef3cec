package extraction

import (
	"strings"

	"github.com/hoferino/manda-platform-sub003/internal/modules/knowledge/period"
)

var factStopwords = map[string]struct{}{
	"a": {}, "an": {}, "the": {}, "was": {}, "were": {}, "is": {}, "are": {}, "be": {}, "been": {},
	"of": {}, "in": {}, "for": {}, "at": {}, "to": {}, "by": {}, "as": {}, "on": {}, "and": {},
	"approximately": {}, "about": {}, "around": {}, "roughly": {}, "reported": {}, "reached": {},
	"thousand": {}, "million": {}, "billion": {}, "trillion": {}, "m": {}, "k": {}, "bn": {}, "mm": {},
	"usd": {}, "eur": {}, "gbp": {}, "percent": {}, "pct": {}, "ended": {}, "ending": {}, "period": {},
	"our": {}, "its": {}, "their": {}, "company": {}, "company's": {}, "which": {}, "that": {},
}

// DeriveFactKey builds a fact key from a statement by dropping period
// phrases, figures and filler words: "Q3 2024 revenue was $5.2M" becomes
// "revenue". At most four words are kept.
func DeriveFactKey(text string, opts period.Options) string {
	masked := []byte(text)
	for _, sp := range period.FindAll(text, opts) {
		for i := sp.Start; i < sp.End; i++ {
			masked[i] = ' '
		}
	}
	words := strings.FieldsFunc(strings.ToLower(string(masked)), func(r rune) bool {
		return !(r >= 'a' && r <= 'z' || r >= '0' && r <= '9' || r == '\'')
	})
	var keep []string
	for _, w := range words {
		if hasDigit(w) {
			continue
		}
		if _, stop := factStopwords[w]; stop {
			continue
		}
		keep = append(keep, w)
		if len(keep) == 4 {
			break
		}
	}
	return NormalizeFactKey(strings.Join(keep, " "))
}

func hasDigit(s string) bool {
	for _, r := range s {
		if r >= '0' && r <= '9' {
			return true
		}
	}
	return false
}
