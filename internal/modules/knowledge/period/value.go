package period

import (
	"math"
	"regexp"
	"strconv"
	"strings"
)

// Value is a normalized quantity. Unit is a currency code, "%" or a
// lower-cased count noun ("employees"); it may be empty. Text is the matched
// phrase.
type Value struct {
	Number float64
	Unit   string
	Text   string
}

var (
	reMoney     = regexp.MustCompile(`(?i)(\(?-?)\s*(\$|€|£|usd|eur|gbp)\s?(\d[\d,]*(?:\.\d+)?)\s*(thousand|million|billion|trillion|mm|mn|bn|k|m|b|t)?\b\)?`)
	reMoneyPost = regexp.MustCompile(`(?i)(-?)(\d[\d,]*(?:\.\d+)?)\s*(thousand|million|billion|trillion|mm|mn|bn|k|m|b)?\s*(usd|eur|gbp|dollars|euros)\b`)
	rePercent   = regexp.MustCompile(`(?i)(-?\d[\d,]*(?:\.\d+)?)\s*(%|percent\b|pct\b)`)
	reCount     = regexp.MustCompile(`(?i)(-?\d[\d,]*(?:\.\d+)?)\s*(thousand|million|billion|k|m|bn)?\s+([a-z][a-z-]{2,})`)
	reNumber    = regexp.MustCompile(`(?i)(-?\d[\d,]*(?:\.\d+)?)\s*(thousand|million|billion|trillion|mm|mn|bn|k|m|b)?\b`)
)

var currencyCodes = map[string]string{
	"$": "USD", "usd": "USD", "dollars": "USD",
	"€": "EUR", "eur": "EUR", "euros": "EUR",
	"£": "GBP", "gbp": "GBP",
}

// Words that follow numbers without naming what is counted.
var countStopwords = map[string]struct{}{
	"and": {}, "the": {}, "for": {}, "was": {}, "were": {}, "with": {}, "from": {},
	"per": {}, "vs": {}, "versus": {}, "compared": {}, "in": {}, "of": {}, "to": {},
	"revenue": {}, "growth": {}, "margin": {}, "ended": {}, "ending": {},
	"thousand": {}, "million": {}, "billion": {}, "trillion": {},
}

func multiplier(s string) float64 {
	switch strings.ToLower(s) {
	case "k", "thousand":
		return 1e3
	case "m", "mm", "mn", "million":
		return 1e6
	case "b", "bn", "billion":
		return 1e9
	case "t", "trillion":
		return 1e12
	}
	return 1
}

func parseNumber(s string) (float64, bool) {
	s = strings.ReplaceAll(s, ",", "")
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return f, true
}

// ParseValue normalizes a value phrase such as "$5.2M", "45%", "1,200
// employees" or "20 million".
func ParseValue(text string) (Value, bool) {
	t := strings.TrimSpace(text)
	if t == "" {
		return Value{}, false
	}
	if m := reMoney.FindStringSubmatch(t); m != nil {
		n, ok := parseNumber(m[3])
		if ok {
			if strings.Contains(m[1], "-") || strings.Contains(m[1], "(") && strings.HasSuffix(m[0], ")") {
				n = -n
			}
			return Value{Number: n * multiplier(m[4]), Unit: currencyCodes[strings.ToLower(m[2])], Text: strings.TrimSpace(m[0])}, true
		}
	}
	if m := reMoneyPost.FindStringSubmatch(t); m != nil {
		if n, ok := parseNumber(m[2]); ok {
			if m[1] == "-" {
				n = -n
			}
			return Value{Number: n * multiplier(m[3]), Unit: currencyCodes[strings.ToLower(m[4])], Text: strings.TrimSpace(m[0])}, true
		}
	}
	if m := rePercent.FindStringSubmatch(t); m != nil {
		if n, ok := parseNumber(m[1]); ok {
			return Value{Number: n, Unit: "%", Text: strings.TrimSpace(m[0])}, true
		}
	}
	if m := reCount.FindStringSubmatch(t); m != nil {
		noun := strings.ToLower(m[3])
		if _, stop := countStopwords[noun]; !stop {
			if n, ok := parseNumber(m[1]); ok {
				return Value{Number: n * multiplier(m[2]), Unit: strings.TrimSuffix(noun, "s"), Text: strings.TrimSpace(m[0])}, true
			}
		}
	}
	if m := reNumber.FindStringSubmatch(t); m != nil {
		if n, ok := parseNumber(m[1]); ok {
			return Value{Number: n * multiplier(m[2]), Text: strings.TrimSpace(m[0])}, true
		}
	}
	return Value{}, false
}

// FindValue locates the asserted value in a finding's text, ignoring numbers
// that belong to period phrases.
func FindValue(text string, opts Options) (Value, bool) {
	masked := []byte(text)
	for _, sp := range FindAll(text, opts) {
		for i := sp.Start; i < sp.End; i++ {
			masked[i] = ' '
		}
	}
	return ParseValue(string(masked))
}

// RelativeDiff is |a-b| / max(|a|,|b|), zero when both are zero.
func RelativeDiff(a, b float64) float64 {
	den := math.Max(math.Abs(a), math.Abs(b))
	if den == 0 {
		return 0
	}
	return math.Abs(a-b) / den
}

// UnitsCompatible treats an empty unit as matching anything.
func UnitsCompatible(a, b string) bool {
	return a == "" || b == "" || strings.EqualFold(a, b)
}

// NormalizeCategorical lowercases and strips punctuation so textual values
// ("Acme Holdings Ltd." vs "acme holdings ltd") compare equal.
func NormalizeCategorical(s string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(s) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == ' ' || r == '\t' || r == '-' || r == '_':
			b.WriteRune(' ')
		case r > 127:
			b.WriteRune(r)
		}
	}
	return strings.Join(strings.Fields(b.String()), " ")
}
