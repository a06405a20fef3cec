package resolver

import (
	"time"

	"github.com/hoferino/manda-platform-sub003/internal/domain/knowledge"
	"github.com/hoferino/manda-platform-sub003/internal/modules/knowledge/period"
)

// Outcome is the relation of a new finding F to one existing finding E.
type Outcome int

const (
	Unrelated Outcome = iota
	Supports
	Ambiguous
	// Supersedes means F replaces E.
	Supersedes
	// SupersededBy means E replaces F (F arrived late with an older period).
	SupersededBy
	Contradicts
)

func (o Outcome) String() string {
	switch o {
	case Supports:
		return "supports"
	case Ambiguous:
		return "ambiguous"
	case Supersedes:
		return "supersedes"
	case SupersededBy:
		return "superseded_by"
	case Contradicts:
		return "contradicts"
	}
	return "unrelated"
}

// Verdict is a classified pair with a short reason for the state log.
type Verdict struct {
	Outcome Outcome
	Reason  string
}

// Fact is the comparable view of a finding.
type Fact struct {
	Domain        string
	FactKey       string
	Period        period.Period
	HasPeriod     bool
	Number        float64
	Unit          string
	HasNumber     bool
	Categorical   string
	Authority     int
	DateExtracted time.Time
}

// FactOf projects a stored finding.
func (r Rules) FactOf(f *knowledge.Finding) Fact {
	fact := Fact{
		Domain:        f.Domain,
		FactKey:       f.FactKey,
		Authority:     r.Authority(f.SourceType),
		DateExtracted: f.DateExtracted,
	}
	if f.HasPeriod() {
		kind := period.Range
		if f.PeriodKind == knowledge.PeriodInstant {
			kind = period.Instant
		}
		fact.Period = period.Period{Start: f.PeriodStart.UTC(), End: f.PeriodEnd.UTC(), Kind: kind, Label: f.DateReferenced}
		fact.HasPeriod = true
	}
	switch {
	case f.NumericValue != nil:
		fact.Number = *f.NumericValue
		fact.Unit = f.Unit
		fact.HasNumber = true
	case f.ValueText != "":
		fact.Categorical = period.NormalizeCategorical(f.ValueText)
	}
	return fact
}

// Classify relates F to E. similarity is their cosine similarity. Rules are
// applied in order: period-independent facts compare values outright; an
// undefined period never yields a contradiction; overlapping periods compare
// values, except figures over two unequal reporting windows; disjoint
// periods only relate through supersession of recurring facts.
func (r Rules) Classify(f, e Fact, similarity float64) Verdict {
	if f.FactKey != "" && f.FactKey == e.FactKey && r.IsPeriodIndependent(f.Domain, f.FactKey) {
		return r.compare(f, e, similarity)
	}
	if !f.HasPeriod || !e.HasPeriod {
		v := r.compare(f, e, similarity)
		if v.Outcome == Contradicts {
			return Verdict{Ambiguous, "values differ and a period is undefined"}
		}
		return v
	}
	if f.Period.Overlaps(e.Period) {
		if f.HasNumber && e.HasNumber && f.Period.Kind == period.Range && e.Period.Kind == period.Range && !f.Period.Equal(e.Period) {
			return Verdict{Unrelated, "figures cover different reporting windows"}
		}
		return r.compare(f, e, similarity)
	}
	if !r.recurring(f, e) {
		return Verdict{Unrelated, "disjoint periods"}
	}
	if e.Period.Before(f.Period) {
		if f.Authority >= e.Authority {
			return Verdict{Supersedes, "later period restates recurring fact"}
		}
		return Verdict{Ambiguous, "later statement comes from a less authoritative source"}
	}
	if e.Authority >= f.Authority {
		return Verdict{SupersededBy, "existing finding covers a later period"}
	}
	return Verdict{Ambiguous, "later statement comes from a less authoritative source"}
}

func (r Rules) recurring(f, e Fact) bool {
	if f.FactKey == "" || f.FactKey != e.FactKey {
		return false
	}
	if f.Period.Kind == period.Instant && e.Period.Kind == period.Instant {
		return true
	}
	return r.IsRecurring(f.Domain, f.FactKey)
}

func (r Rules) compare(f, e Fact, similarity float64) Verdict {
	sameKey := f.FactKey == "" || e.FactKey == "" || f.FactKey == e.FactKey
	switch {
	case f.HasNumber && e.HasNumber:
		if !sameKey {
			return Verdict{Unrelated, "different measures"}
		}
		if !period.UnitsCompatible(f.Unit, e.Unit) {
			return Verdict{Unrelated, "units differ"}
		}
		if period.RelativeDiff(f.Number, e.Number) <= r.NumericTolerance {
			return Verdict{Supports, "values agree"}
		}
		return Verdict{Contradicts, "values diverge beyond tolerance"}
	case f.Categorical != "" && e.Categorical != "":
		if !sameKey {
			return Verdict{Unrelated, "different attributes"}
		}
		if f.Categorical == e.Categorical {
			return Verdict{Supports, "values agree"}
		}
		return Verdict{Contradicts, "categorical values differ"}
	case similarity >= r.CorroborationThreshold:
		return Verdict{Supports, "statements corroborate"}
	}
	return Verdict{Unrelated, "no comparable value"}
}

// statusRank orders the statuses a resolver commit can assign to F.
func statusRank(s knowledge.FindingStatus) int {
	switch s {
	case knowledge.FindingContested:
		return 3
	case knowledge.FindingSuperseded:
		return 2
	case knowledge.FindingNeedsReview:
		return 1
	}
	return 0
}

// StatusFor folds the pairwise outcomes into F's committed status.
func StatusFor(outcomes []Outcome) knowledge.FindingStatus {
	status := knowledge.FindingCandidateStatus
	for _, o := range outcomes {
		var s knowledge.FindingStatus
		switch o {
		case Contradicts:
			s = knowledge.FindingContested
		case SupersededBy:
			s = knowledge.FindingSuperseded
		case Ambiguous:
			s = knowledge.FindingNeedsReview
		default:
			continue
		}
		if statusRank(s) > statusRank(status) {
			status = s
		}
	}
	return status
}
