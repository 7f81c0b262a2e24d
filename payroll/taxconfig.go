package payroll

import (
	"fmt"
	"sort"
	"strings"

	"github.com/shopspring/decimal"
)

// =============================================================================
// TAX CONFIGURATION - Loaded once at startup, read-only afterwards
// =============================================================================

// Bracket is a whole-unit income range. Max nil is a catch-all "over X"
// bracket. Rate is a percentage.
type Bracket struct {
	Range string
	Min   decimal.Decimal
	Max   *decimal.Decimal
	Rate  decimal.Decimal
}

// Contains compares the whole part of amount against [Min, Max], so display
// ranges like "$0 - $9,325" / "$9,326 - $22,107" leave no gaps.
func (b Bracket) Contains(amount decimal.Decimal) bool {
	whole := amount.Floor()
	if whole.LessThan(b.Min) {
		return false
	}
	return b.Max == nil || !whole.GreaterThan(*b.Max)
}

type SurchargeBasis string

const (
	// BasisIncome adds the surcharge percent to the effective rate (SDI).
	BasisIncome SurchargeBasis = "income"
	// BasisTax charges the surcharge percent on the bracket tax (cess).
	BasisTax SurchargeBasis = "tax"
)

type Surcharge struct {
	Name  string
	Rate  decimal.Decimal
	Basis SurchargeBasis
}

type TaxJurisdiction struct {
	Label      string
	Country    string
	Currency   string
	Brackets   []Bracket
	Surcharges []Surcharge
	Notes      string
}

// CountryRule is the flat local tax used by international payroll.
type CountryRule struct {
	TaxRate  decimal.Decimal // percent
	Currency string
}

type CryptoTaxRule struct {
	Rate decimal.Decimal // percent
	Note string
}

// TaxConfig holds every jurisdiction and country rule. Build it with
// NewTaxConfig; the zero value has no jurisdictions and a 0% crypto rate.
type TaxConfig struct {
	jurisdictions map[string]TaxJurisdiction
	countries     map[string]CountryRule
	defaultRule   CountryRule
	crypto        CryptoTaxRule
}

// NewTaxConfig validates and copies its inputs.
func NewTaxConfig(jurisdictions []TaxJurisdiction, countries map[string]CountryRule, defaultRule CountryRule, crypto CryptoTaxRule) (TaxConfig, error) {
	cfg := TaxConfig{
		jurisdictions: make(map[string]TaxJurisdiction, len(jurisdictions)),
		countries:     make(map[string]CountryRule, len(countries)),
		defaultRule:   defaultRule,
		crypto:        crypto,
	}

	for _, j := range jurisdictions {
		if err := validateJurisdiction(j); err != nil {
			return TaxConfig{}, err
		}
		if _, dup := cfg.jurisdictions[j.Label]; dup {
			return TaxConfig{}, fmt.Errorf("jurisdiction %q defined twice", j.Label)
		}
		j.Currency = strings.ToUpper(strings.TrimSpace(j.Currency))
		j.Brackets = append([]Bracket(nil), j.Brackets...)
		j.Surcharges = append([]Surcharge(nil), j.Surcharges...)
		cfg.jurisdictions[j.Label] = j
	}

	for code, rule := range countries {
		if err := validateRate("country "+code, rule.TaxRate); err != nil {
			return TaxConfig{}, err
		}
		if rule.Currency == "" {
			return TaxConfig{}, fmt.Errorf("country %s: currency required", code)
		}
		rule.Currency = strings.ToUpper(rule.Currency)
		cfg.countries[strings.ToUpper(code)] = rule
	}

	if err := validateRate("default country rule", defaultRule.TaxRate); err != nil {
		return TaxConfig{}, err
	}
	if cfg.defaultRule.Currency == "" {
		cfg.defaultRule.Currency = "USD"
	}
	if err := validateRate("crypto", crypto.Rate); err != nil {
		return TaxConfig{}, err
	}
	return cfg, nil
}

func validateJurisdiction(j TaxJurisdiction) error {
	if strings.TrimSpace(j.Label) == "" {
		return fmt.Errorf("jurisdiction label required")
	}
	if len(j.Brackets) == 0 {
		return fmt.Errorf("jurisdiction %q: no brackets", j.Label)
	}
	for i, b := range j.Brackets {
		where := fmt.Sprintf("jurisdiction %q bracket %d", j.Label, i)
		if err := validateRate(where, b.Rate); err != nil {
			return err
		}
		if b.Min.IsNegative() {
			return fmt.Errorf("%s: negative lower bound", where)
		}
		if b.Max == nil {
			if i != len(j.Brackets)-1 {
				return fmt.Errorf("%s: open-ended bracket must be last", where)
			}
			continue
		}
		if b.Max.LessThan(b.Min) {
			return fmt.Errorf("%s: upper bound below lower bound", where)
		}
		if i > 0 {
			prev := j.Brackets[i-1]
			if prev.Max == nil || !b.Min.GreaterThan(*prev.Max) {
				return fmt.Errorf("%s: overlaps previous bracket", where)
			}
		}
	}
	for _, s := range j.Surcharges {
		if err := validateRate(fmt.Sprintf("jurisdiction %q surcharge %q", j.Label, s.Name), s.Rate); err != nil {
			return err
		}
		if s.Basis != BasisIncome && s.Basis != BasisTax {
			return fmt.Errorf("jurisdiction %q surcharge %q: unknown basis %q", j.Label, s.Name, s.Basis)
		}
	}
	return nil
}

func validateRate(where string, rate decimal.Decimal) error {
	if rate.IsNegative() || rate.GreaterThan(decimal.NewFromInt(100)) {
		return fmt.Errorf("%s: rate %s%% out of range", where, rate.String())
	}
	return nil
}

func (c TaxConfig) Jurisdiction(label string) (TaxJurisdiction, bool) {
	j, ok := c.jurisdictions[label]
	return j, ok
}

// Jurisdictions returns all tables sorted by label.
func (c TaxConfig) Jurisdictions() []TaxJurisdiction {
	out := make([]TaxJurisdiction, 0, len(c.jurisdictions))
	for _, j := range c.jurisdictions {
		out = append(out, j)
	}
	sort.Slice(out, func(i, k int) bool { return out[i].Label < out[k].Label })
	return out
}

// CountryRule returns the configured rule or the default one.
func (c TaxConfig) CountryRule(country string) (CountryRule, bool) {
	r, ok := c.countries[strings.ToUpper(strings.TrimSpace(country))]
	if !ok {
		return c.defaultRule, false
	}
	return r, true
}

// Countries returns the configured country codes, sorted.
func (c TaxConfig) Countries() []string {
	out := make([]string, 0, len(c.countries))
	for code := range c.countries {
		out = append(out, code)
	}
	sort.Strings(out)
	return out
}

func (c TaxConfig) CryptoRule() CryptoTaxRule { return c.crypto }

// CountryForJurisdiction resolves the country code of a tax table label.
func (c TaxConfig) CountryForJurisdiction(label string) string {
	if j, ok := c.jurisdictions[label]; ok {
		return j.Country
	}
	return ""
}
