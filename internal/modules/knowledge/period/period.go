// Package period normalizes the natural-language periods and values that
// extracted findings refer to ("Q3 2024", "FY23", "as of March 31, 2024",
// "$5.2M") so findings can be compared on the same footing.
package period

import (
	"time"
)

type Kind string

const (
	// Range covers a reporting window such as a quarter or fiscal year.
	Range Kind = "range"
	// Instant is a point-in-time balance ("as of", a single date).
	Instant Kind = "instant"
)

// Period is a half-open interval [Start, End) in UTC. Instants span the one
// day they name so that two mentions of the same date overlap.
type Period struct {
	Start time.Time
	End   time.Time
	Kind  Kind
	Label string
}

func (p Period) IsZero() bool { return p.Start.IsZero() || p.End.IsZero() }

// Overlaps reports whether the two periods share any time.
func (p Period) Overlaps(o Period) bool {
	if p.IsZero() || o.IsZero() {
		return false
	}
	return p.Start.Before(o.End) && o.Start.Before(p.End)
}

// Before reports whether p ends no later than o starts.
func (p Period) Before(o Period) bool {
	if p.IsZero() || o.IsZero() {
		return false
	}
	return !p.End.After(o.Start)
}

// Equal compares bounds only.
func (p Period) Equal(o Period) bool {
	return p.Start.Equal(o.Start) && p.End.Equal(o.End)
}

func day(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func quarter(y, q int) Period {
	start := day(y, time.Month(3*(q-1)+1), 1)
	return Period{Start: start, End: start.AddDate(0, 3, 0), Kind: Range}
}

func half(y, h int) Period {
	start := day(y, time.Month(6*(h-1)+1), 1)
	return Period{Start: start, End: start.AddDate(0, 6, 0), Kind: Range}
}

func month(y int, m time.Month) Period {
	start := day(y, m, 1)
	return Period{Start: start, End: start.AddDate(0, 1, 0), Kind: Range}
}

func year(y int) Period {
	start := day(y, time.January, 1)
	return Period{Start: start, End: start.AddDate(1, 0, 0), Kind: Range}
}

func fiscalYear(y int, startMonth time.Month) Period {
	if startMonth <= time.January || startMonth > time.December {
		return year(y)
	}
	// FY2024 with an April start runs April 2023 to March 2024.
	start := day(y-1, startMonth, 1)
	return Period{Start: start, End: start.AddDate(1, 0, 0), Kind: Range}
}

func instant(t time.Time) Period {
	d := day(t.Year(), t.Month(), t.Day())
	return Period{Start: d, End: d.AddDate(0, 0, 1), Kind: Instant}
}
