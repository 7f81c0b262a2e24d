package payroll

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/warp/payroll-engine/generic"
)

// =============================================================================
// TAX ESTIMATOR
// =============================================================================

// TaxEstimate is the output of both estimator modes. EffectiveRate is a
// percentage; AmountDue is rounded to cents.
//
// The estimator itself is currency-blind. Payroll runs fill Currency, the
// currency of AmountDue, and FXPrice when that is not the base currency.
type TaxEstimate struct {
	AmountDue     decimal.Decimal `json:"amount_due"`
	EffectiveRate decimal.Decimal `json:"effective_rate"`
	Jurisdiction  string          `json:"jurisdiction,omitempty"`
	Bracket       string          `json:"bracket,omitempty"`
	Note          string          `json:"note"`

	Currency string           `json:"currency,omitempty"`
	FXPrice  *decimal.Decimal `json:"fx_price,omitempty"`
}

// TaxEstimator computes tax from an immutable TaxConfig. It keeps no state,
// so identical inputs always produce identical estimates.
//
// Bracket mode applies the rate of the single bracket containing the amount
// to the whole amount. It is not a progressive marginal calculation.
type TaxEstimator struct {
	cfg TaxConfig
}

func NewTaxEstimator(cfg TaxConfig) *TaxEstimator {
	return &TaxEstimator{cfg: cfg}
}

func (t *TaxEstimator) Config() TaxConfig { return t.cfg }

// EstimateBracket looks up the jurisdiction by label and runs bracket mode.
func (t *TaxEstimator) EstimateBracket(amount decimal.Decimal, label string) (TaxEstimate, error) {
	j, ok := t.cfg.Jurisdiction(label)
	if !ok {
		return TaxEstimate{}, fmt.Errorf("%w: %q", generic.ErrUnknownJurisdiction, label)
	}
	return t.EstimateJurisdiction(amount, j)
}

// EstimateJurisdiction runs bracket mode against j.
//
//	rate      = bracket% × (1 + Σ tax-basis surcharges%/100) + Σ income-basis surcharges%
//	amountDue = amount × rate / 100
func (t *TaxEstimator) EstimateJurisdiction(amount decimal.Decimal, j TaxJurisdiction) (TaxEstimate, error) {
	if amount.IsNegative() {
		return TaxEstimate{}, fmt.Errorf("%w: %s", generic.ErrNegativeAmount, amount.String())
	}

	bracket, ok := findBracket(j.Brackets, amount)
	if !ok {
		return TaxEstimate{}, &generic.NoMatchingBracketError{Jurisdiction: j.Label, Amount: amount}
	}

	rate := bracket.Rate
	taxFactor := decimal.NewFromInt(1)
	incomeExtra := decimal.Zero
	for _, s := range j.Surcharges {
		switch s.Basis {
		case BasisTax:
			taxFactor = taxFactor.Add(s.Rate.Div(generic.Hundred()))
		case BasisIncome:
			incomeExtra = incomeExtra.Add(s.Rate)
		}
	}
	rate = rate.Mul(taxFactor).Add(incomeExtra)

	return TaxEstimate{
		AmountDue:     generic.Percent(amount, rate).Round(2),
		EffectiveRate: rate,
		Jurisdiction:  j.Label,
		Bracket:       bracket.Range,
		Note:          bracketNote(j, bracket),
	}, nil
}

// EstimateCrypto is flat-rate mode: one configured percentage of the
// crypto value, whatever the jurisdiction.
func (t *TaxEstimator) EstimateCrypto(value decimal.Decimal) (TaxEstimate, error) {
	if value.IsNegative() {
		return TaxEstimate{}, fmt.Errorf("%w: %s", generic.ErrNegativeAmount, value.String())
	}
	rule := t.cfg.CryptoRule()
	return TaxEstimate{
		AmountDue:     generic.Percent(value, rule.Rate).Round(2),
		EffectiveRate: rule.Rate,
		Note:          rule.Note,
	}, nil
}

func findBracket(brackets []Bracket, amount decimal.Decimal) (Bracket, bool) {
	for _, b := range brackets {
		if b.Contains(amount) {
			return b, true
		}
	}
	return Bracket{}, false
}

func bracketNote(j TaxJurisdiction, b Bracket) string {
	parts := []string{fmt.Sprintf("%s bracket at %s%%", b.Range, b.Rate.String())}
	for _, s := range j.Surcharges {
		switch s.Basis {
		case BasisTax:
			parts = append(parts, fmt.Sprintf("%s %s%% of tax", s.Name, s.Rate.String()))
		default:
			parts = append(parts, fmt.Sprintf("%s %s%%", s.Name, s.Rate.String()))
		}
	}
	note := strings.Join(parts, " + ")
	if j.Notes != "" {
		note += ". " + j.Notes
	}
	return note
}
