package period

import (
	"regexp"
	"strconv"
	"strings"
	"time"
)

// Options tune parsing. The zero value uses calendar fiscal years.
type Options struct {
	FiscalYearStartMonth time.Month
}

var months = map[string]time.Month{
	"jan": time.January, "january": time.January,
	"feb": time.February, "february": time.February,
	"mar": time.March, "march": time.March,
	"apr": time.April, "april": time.April,
	"may": time.May,
	"jun": time.June, "june": time.June,
	"jul": time.July, "july": time.July,
	"aug": time.August, "august": time.August,
	"sep": time.September, "sept": time.September, "september": time.September,
	"oct": time.October, "october": time.October,
	"nov": time.November, "november": time.November,
	"dec": time.December, "december": time.December,
}

const monthAlt = `jan(?:uary)?|feb(?:ruary)?|mar(?:ch)?|apr(?:il)?|may|june?|july?|aug(?:ust)?|sept?(?:ember)?|oct(?:ober)?|nov(?:ember)?|dec(?:ember)?`

const yearAlt = `(?:'|fy|cy)?(\d{4}|\d{2})`

var (
	reAsOf       = regexp.MustCompile(`^(?:as of|as at|at)\s+(.+)$`)
	reYTD        = regexp.MustCompile(`^(?:ytd|year[- ]to[- ]date)(?:\s+(?:through|to|thru)?\s*(.+))?$`)
	reEnded      = regexp.MustCompile(`^(?:(?:the\s+)?(three|six|nine|twelve|3|6|9|12)[- ]months?|(?:fiscal\s+)?year|fy)\s+end(?:ed|ing)\s+(.+)$`)
	reQuarter    = regexp.MustCompile(`^q([1-4])\s*(?:fy|cy)?\s*` + yearAlt + `$`)
	reQuarterRev = regexp.MustCompile(`^([1-4])q\s*(?:fy|cy)?\s*` + yearAlt + `$`)
	reYearQ      = regexp.MustCompile(`^(\d{4})\s*[- ]?\s*q([1-4])$`)
	reHalf       = regexp.MustCompile(`^h([12])\s*(?:fy|cy)?\s*` + yearAlt + `$`)
	reHalfRev    = regexp.MustCompile(`^([12])h\s*(?:fy|cy)?\s*` + yearAlt + `$`)
	reYearH      = regexp.MustCompile(`^(\d{4})\s*[- ]?\s*h([12])$`)
	reFiscal     = regexp.MustCompile(`^(?:fy|fiscal(?:\s+year)?)\s*'?(\d{4}|\d{2})$`)
	reCalendar   = regexp.MustCompile(`^(?:cy|calendar(?:\s+year)?)\s*'?(\d{4}|\d{2})$`)
	reYear       = regexp.MustCompile(`^(\d{4})$`)
	reISODate    = regexp.MustCompile(`^(\d{4})-(\d{1,2})-(\d{1,2})$`)
	reISOMonth   = regexp.MustCompile(`^(\d{4})-(\d{1,2})$`)
	reUSDate     = regexp.MustCompile(`^(\d{1,2})/(\d{1,2})/(\d{4})$`)
	reMonthYear  = regexp.MustCompile(`^(` + monthAlt + `)\.?\s*,?\s*'?(\d{4}|\d{2})$`)
	reMonthDay   = regexp.MustCompile(`^(` + monthAlt + `)\.?\s+(\d{1,2})(?:st|nd|rd|th)?,?\s+(\d{4})$`)
	reDayMonth   = regexp.MustCompile(`^(\d{1,2})(?:st|nd|rd|th)?\s+(` + monthAlt + `)\.?,?\s+(\d{4})$`)
)

// Parse normalizes a period phrase. ok is false when the phrase is empty or
// not recognized; callers treat that as an undefined period.
func Parse(text string) (Period, bool) {
	return ParseWith(text, Options{})
}

func ParseWith(text string, opts Options) (Period, bool) {
	label := strings.TrimSpace(text)
	s := normalize(label)
	if s == "" {
		return Period{}, false
	}
	p, ok := parseNormalized(s, opts)
	if !ok {
		return Period{}, false
	}
	p.Label = label
	return p, true
}

func normalize(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	s = strings.Trim(s, ".,;:()")
	s = strings.Join(strings.Fields(s), " ")
	s = strings.TrimPrefix(s, "in ")
	s = strings.TrimPrefix(s, "for ")
	s = strings.TrimPrefix(s, "the ")
	return strings.TrimSpace(s)
}

func parseNormalized(s string, opts Options) (Period, bool) {
	if m := reAsOf.FindStringSubmatch(s); m != nil {
		inner, ok := parseNormalized(normalize(m[1]), opts)
		if !ok {
			return Period{}, false
		}
		return instant(inner.End.AddDate(0, 0, -1)), true
	}
	if m := reYTD.FindStringSubmatch(s); m != nil {
		// Bare "YTD 2024" has no known end, so it stays undefined.
		if m[1] == "" {
			return Period{}, false
		}
		inner, ok := parseNormalized(normalize(m[1]), opts)
		if !ok || inner.Kind == Range && inner.End.Sub(inner.Start) >= 360*24*time.Hour {
			return Period{}, false
		}
		start := day(inner.End.AddDate(0, 0, -1).Year(), time.January, 1)
		return Period{Start: start, End: inner.End, Kind: Range}, true
	}
	if m := reEnded.FindStringSubmatch(s); m != nil {
		end, ok := parseNormalized(normalize(m[2]), opts)
		if !ok {
			return Period{}, false
		}
		n := 12
		switch m[1] {
		case "three", "3":
			n = 3
		case "six", "6":
			n = 6
		case "nine", "9":
			n = 9
		}
		return Period{Start: end.End.AddDate(0, -n, 0), End: end.End, Kind: Range}, true
	}
	if m := reQuarter.FindStringSubmatch(s); m != nil {
		return quarter(fullYear(m[2]), atoi(m[1])), true
	}
	if m := reQuarterRev.FindStringSubmatch(s); m != nil {
		return quarter(fullYear(m[2]), atoi(m[1])), true
	}
	if m := reYearQ.FindStringSubmatch(s); m != nil {
		return quarter(atoi(m[1]), atoi(m[2])), true
	}
	if m := reHalf.FindStringSubmatch(s); m != nil {
		return half(fullYear(m[2]), atoi(m[1])), true
	}
	if m := reHalfRev.FindStringSubmatch(s); m != nil {
		return half(fullYear(m[2]), atoi(m[1])), true
	}
	if m := reYearH.FindStringSubmatch(s); m != nil {
		return half(atoi(m[1]), atoi(m[2])), true
	}
	if m := reFiscal.FindStringSubmatch(s); m != nil {
		return fiscalYear(fullYear(m[1]), opts.FiscalYearStartMonth), true
	}
	if m := reCalendar.FindStringSubmatch(s); m != nil {
		return year(fullYear(m[1])), true
	}
	if m := reYear.FindStringSubmatch(s); m != nil {
		return year(atoi(m[1])), true
	}
	if m := reISODate.FindStringSubmatch(s); m != nil {
		return dateOf(atoi(m[1]), atoi(m[2]), atoi(m[3]))
	}
	if m := reISOMonth.FindStringSubmatch(s); m != nil {
		mo := atoi(m[2])
		if mo < 1 || mo > 12 {
			return Period{}, false
		}
		return month(atoi(m[1]), time.Month(mo)), true
	}
	if m := reUSDate.FindStringSubmatch(s); m != nil {
		return dateOf(atoi(m[3]), atoi(m[1]), atoi(m[2]))
	}
	if m := reMonthDay.FindStringSubmatch(s); m != nil {
		return dateOf(atoi(m[3]), int(months[m[1]]), atoi(m[2]))
	}
	if m := reDayMonth.FindStringSubmatch(s); m != nil {
		return dateOf(atoi(m[3]), int(months[m[2]]), atoi(m[1]))
	}
	if m := reMonthYear.FindStringSubmatch(s); m != nil {
		mo, ok := months[m[1]]
		if !ok {
			return Period{}, false
		}
		return month(fullYear(m[2]), mo), true
	}
	return Period{}, false
}

func dateOf(y, m, d int) (Period, bool) {
	if m < 1 || m > 12 || d < 1 || d > 31 {
		return Period{}, false
	}
	t := day(y, time.Month(m), d)
	if t.Month() != time.Month(m) {
		return Period{}, false
	}
	return instant(t), true
}

func atoi(s string) int {
	n, _ := strconv.Atoi(s)
	return n
}

func fullYear(s string) int {
	s = strings.TrimLeft(s, "'")
	n := atoi(s)
	if len(s) == 2 {
		return 2000 + n
	}
	return n
}

// Phrases recognized inside free text, longest forms first.
var reFind = regexp.MustCompile(`(?i)\b(?:` +
	`(?:as of|as at)\s+(?:` + monthAlt + `)\.?\s+\d{1,2}(?:st|nd|rd|th)?,?\s+\d{4}` +
	`|(?:as of|as at)\s+\d{4}-\d{1,2}-\d{1,2}` +
	`|(?:as of|as at)\s+(?:` + monthAlt + `)\.?\s+\d{4}` +
	`|(?:(?:three|six|nine|twelve)\s+months|(?:fiscal\s+)?year)\s+end(?:ed|ing)\s+(?:` + monthAlt + `)\.?\s+\d{1,2},?\s+\d{4}` +
	`|q[1-4]\s*(?:fy|cy)?\s*(?:'?\d{4}|'\d{2}|\d{2}\b)` +
	`|[1-4]q\s*'?(?:\d{4}|\d{2})` +
	`|h[12]\s*(?:fy|cy)?\s*(?:'?\d{4}|'\d{2}|\d{2}\b)` +
	`|[12]h\s*'?(?:\d{4}|\d{2})` +
	`|fy\s*'?(?:\d{4}|\d{2})` +
	`|\d{4}-\d{1,2}-\d{1,2}` +
	`|(?:` + monthAlt + `)\.?\s+\d{1,2}(?:st|nd|rd|th)?,?\s+\d{4}` +
	`|(?:` + monthAlt + `)\.?\s+\d{4}` +
	`|(?:19|20)\d{2}` +
	`)\b`)

// Span is a period phrase located in free text.
type Span struct {
	Start, End int
	Period     Period
}

// FindAll returns every recognizable period phrase in text in order.
func FindAll(text string, opts Options) []Span {
	var out []Span
	for _, loc := range reFind.FindAllStringIndex(text, -1) {
		if bareYearIsAmount(text, loc[0], loc[1]) {
			continue
		}
		p, ok := ParseWith(text[loc[0]:loc[1]], opts)
		if !ok {
			continue
		}
		out = append(out, Span{Start: loc[0], End: loc[1], Period: p})
	}
	return out
}

// Find returns the single period mentioned in text. Text that mentions no
// period, or several distinct ones, yields ok=false.
func Find(text string, opts Options) (Period, bool) {
	spans := FindAll(text, opts)
	if len(spans) == 0 {
		return Period{}, false
	}
	first := spans[0].Period
	for _, s := range spans[1:] {
		if !s.Period.Equal(first) {
			return Period{}, false
		}
	}
	return first, true
}

// bareYearIsAmount spots "$2000" or "2020%" where a four digit number is a
// value rather than a year.
func bareYearIsAmount(text string, start, end int) bool {
	if !reYear.MatchString(text[start:end]) {
		return false
	}
	before := strings.TrimRight(text[:start], " ")
	if strings.HasSuffix(before, "$") || strings.HasSuffix(before, "€") || strings.HasSuffix(before, "£") {
		return true
	}
	after := text[end:]
	return strings.HasPrefix(after, "%") || strings.HasPrefix(after, ",") && len(after) > 1 && after[1] >= '0' && after[1] <= '9' ||
		strings.HasPrefix(after, ".") && len(after) > 1 && after[1] >= '0' && after[1] <= '9'
}
