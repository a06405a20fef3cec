package resolver

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/hoferino/manda-platform-sub003/internal/modules/knowledge/extraction"
)

// DomainRules name the fact keys of one domain that need special handling.
// PeriodIndependent facts (ownership, jurisdiction) hold regardless of the
// reporting period. Recurring facts are re-stated every period, so a later
// statement replaces an earlier one instead of coexisting with it.
type DomainRules struct {
	PeriodIndependent []string `yaml:"period_independent"`
	Recurring         []string `yaml:"recurring"`
}

// Rules are the tunable knobs of consistency resolution.
type Rules struct {
	// TopicThreshold is the minimum cosine similarity for two findings to be
	// compared at all.
	TopicThreshold float64 `yaml:"topic_threshold"`
	// NumericTolerance is the relative difference under which two numbers
	// are treated as the same value.
	NumericTolerance float64 `yaml:"numeric_tolerance"`
	// CorroborationThreshold is the similarity at which two findings without
	// comparable values are taken to state the same thing.
	CorroborationThreshold float64 `yaml:"corroboration_threshold"`
	CorroborationBonus     float64 `yaml:"corroboration_bonus"`
	NeighborLimit          int     `yaml:"neighbor_limit"`
	FiscalYearStartMonth   int     `yaml:"fiscal_year_start_month"`

	Domains                map[string]DomainRules `yaml:"domains"`
	SourceAuthority        map[string]int         `yaml:"source_authority"`
	DefaultSourceAuthority int                    `yaml:"default_source_authority"`
}

func DefaultRules() Rules {
	return Rules{
		TopicThreshold:         0.75,
		NumericTolerance:       0.01,
		CorroborationThreshold: 0.92,
		CorroborationBonus:     0.05,
		NeighborLimit:          25,
		FiscalYearStartMonth:   1,
		Domains: map[string]DomainRules{
			"financial": {
				Recurring: []string{"cash_balance", "cash", "net_debt", "total_debt", "debt", "backlog", "working_capital"},
			},
			"operational": {
				Recurring: []string{"headcount", "employees", "customers", "customer_count", "locations", "sites"},
			},
			"legal": {
				PeriodIndependent: []string{"ownership", "ownership_percentage", "stake", "jurisdiction", "incorporation", "registered_office"},
			},
			"general": {
				PeriodIndependent: []string{"headquarters", "founded", "founder", "ceo"},
			},
		},
		SourceAuthority: map[string]int{
			"audited_financials":   100,
			"financial_statements": 90,
			"legal_document":       85,
			"management_accounts":  70,
			"management_report":    70,
			"cim":                  60,
			"presentation":         50,
			"email":                30,
			"notes":                20,
		},
		DefaultSourceAuthority: 40,
	}
}

// LoadRules overlays the YAML file at path on DefaultRules. An empty path
// returns the defaults.
func LoadRules(path string) (Rules, error) {
	rules := DefaultRules()
	if strings.TrimSpace(path) == "" {
		return rules, nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return Rules{}, fmt.Errorf("read rules %s: %w", path, err)
	}
	var overlay Rules
	if err := yaml.Unmarshal(raw, &overlay); err != nil {
		return Rules{}, fmt.Errorf("parse rules %s: %w", path, err)
	}
	rules.merge(overlay)
	return rules, rules.Validate()
}

func (r *Rules) merge(o Rules) {
	if o.TopicThreshold > 0 {
		r.TopicThreshold = o.TopicThreshold
	}
	if o.NumericTolerance > 0 {
		r.NumericTolerance = o.NumericTolerance
	}
	if o.CorroborationThreshold > 0 {
		r.CorroborationThreshold = o.CorroborationThreshold
	}
	if o.CorroborationBonus > 0 {
		r.CorroborationBonus = o.CorroborationBonus
	}
	if o.NeighborLimit > 0 {
		r.NeighborLimit = o.NeighborLimit
	}
	if o.FiscalYearStartMonth > 0 {
		r.FiscalYearStartMonth = o.FiscalYearStartMonth
	}
	if o.DefaultSourceAuthority > 0 {
		r.DefaultSourceAuthority = o.DefaultSourceAuthority
	}
	for domain, dr := range o.Domains {
		r.Domains[extraction.NormalizeDomain(domain)] = dr
	}
	for src, rank := range o.SourceAuthority {
		r.SourceAuthority[strings.ToLower(strings.TrimSpace(src))] = rank
	}
}

func (r Rules) Validate() error {
	if r.TopicThreshold <= 0 || r.TopicThreshold > 1 {
		return fmt.Errorf("topic_threshold must be in (0,1], got %v", r.TopicThreshold)
	}
	if r.CorroborationThreshold <= 0 || r.CorroborationThreshold > 1 {
		return fmt.Errorf("corroboration_threshold must be in (0,1], got %v", r.CorroborationThreshold)
	}
	if r.NumericTolerance < 0 || r.NumericTolerance >= 1 {
		return fmt.Errorf("numeric_tolerance must be in [0,1), got %v", r.NumericTolerance)
	}
	if r.CorroborationBonus < 0 || r.CorroborationBonus > 1 {
		return fmt.Errorf("corroboration_bonus must be in [0,1], got %v", r.CorroborationBonus)
	}
	if r.FiscalYearStartMonth < 1 || r.FiscalYearStartMonth > 12 {
		return fmt.Errorf("fiscal_year_start_month must be 1-12, got %d", r.FiscalYearStartMonth)
	}
	return nil
}

func (r Rules) FiscalStart() time.Month { return time.Month(r.FiscalYearStartMonth) }

func (r Rules) IsPeriodIndependent(domain, factKey string) bool {
	return containsKey(r.Domains[domain].PeriodIndependent, factKey)
}

func (r Rules) IsRecurring(domain, factKey string) bool {
	return containsKey(r.Domains[domain].Recurring, factKey)
}

// Authority ranks a document source type; unknown types get the default.
func (r Rules) Authority(sourceType string) int {
	if rank, ok := r.SourceAuthority[strings.ToLower(strings.TrimSpace(sourceType))]; ok {
		return rank
	}
	return r.DefaultSourceAuthority
}

// containsKey matches exactly or on a "<key>_" prefix so "headcount" also
// covers "headcount_total".
func containsKey(keys []string, factKey string) bool {
	if factKey == "" {
		return false
	}
	for _, k := range keys {
		if factKey == k || strings.HasPrefix(factKey, k+"_") {
			return true
		}
	}
	return false
}
