/*
Package factory converts tax table files into payroll.TaxConfig.

PURPOSE:
  Tax rules are reference data. They live in a versioned YAML (or JSON)
  file, are loaded once at process start and passed explicitly to the
  estimator and aggregator. Nothing here is a package-level mutable table.

FILE SCHEMA (version 1):
  version: 1
  base_currency: USD
  crypto:          { rate: "20%", note: "..." }
  default_country: { tax_rate: "20%", currency: USD }
  countries:
    UK: { tax_rate: "20%", currency: GBP }
  jurisdictions:
    - label: "USA - California"
      country: US
      brackets:
        - { range: "$61,215 - $312,686", min: "61215", max: "312686", rate: "9.30%" }
        - { range: "Over $312,686", min: "312687", rate: "10%" }    # no max = catch-all
      surcharges:
        - { name: SDI, rate: "1.1%", basis: income }                 # or basis: tax

  Rates are percentages with an optional trailing "%". Numbers may be
  quoted or bare. Range strings are display-only; min/max drive matching.

USAGE:
  cfg, err := factory.DefaultTaxConfig()        // embedded tax_tables.yaml
  cfg, err := factory.LoadTaxConfig("tax.yaml") // operator-supplied file

SEE ALSO:
  - payroll/taxconfig.go: TaxConfig and validation
  - tax_tables.yaml: Embedded defaults
*/
package factory

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"github.com/warp/payroll-engine/payroll"
)

//go:embed tax_tables.yaml
var defaultTaxTables []byte

// SupportedVersion is the only tax file schema version understood.
const SupportedVersion = 1

// =============================================================================
// FILE SCHEMA TYPES
// =============================================================================

type TaxTablesFile struct {
	Version        int                    `yaml:"version" json:"version"`
	BaseCurrency   string                 `yaml:"base_currency" json:"base_currency"`
	Crypto         CryptoJSON             `yaml:"crypto" json:"crypto"`
	DefaultCountry CountryJSON            `yaml:"default_country" json:"default_country"`
	Countries      map[string]CountryJSON `yaml:"countries" json:"countries"`
	Jurisdictions  []JurisdictionJSON     `yaml:"jurisdictions" json:"jurisdictions"`
}

type CryptoJSON struct {
	Rate Figure `yaml:"rate" json:"rate"`
	Note string `yaml:"note" json:"note"`
}

type CountryJSON struct {
	TaxRate  Figure `yaml:"tax_rate" json:"tax_rate"`
	Currency string `yaml:"currency" json:"currency"`
}

type JurisdictionJSON struct {
	Label      string          `yaml:"label" json:"label"`
	Country    string          `yaml:"country,omitempty" json:"country,omitempty"`
	Currency   string          `yaml:"currency,omitempty" json:"currency,omitempty"`
	Notes      string          `yaml:"notes,omitempty" json:"notes,omitempty"`
	Brackets   []BracketJSON   `yaml:"brackets" json:"brackets"`
	Surcharges []SurchargeJSON `yaml:"surcharges,omitempty" json:"surcharges,omitempty"`
}

type BracketJSON struct {
	Range string `yaml:"range" json:"range"`
	Min   Figure `yaml:"min" json:"min"`
	Max   Figure `yaml:"max,omitempty" json:"max,omitempty"`
	Rate  Figure `yaml:"rate" json:"rate"`
}

type SurchargeJSON struct {
	Name  string `yaml:"name" json:"name"`
	Rate  Figure `yaml:"rate" json:"rate"`
	Basis string `yaml:"basis" json:"basis"`
}

// Figure is a decimal written as a string or a bare number, with an
// optional trailing "%" and thousands separators.
type Figure string

func (f *Figure) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*f = Figure(s)
		return nil
	}
	*f = Figure(b)
	return nil
}

func (f Figure) IsZero() bool { return strings.TrimSpace(string(f)) == "" }

// Decimal parses the figure. "9.30%" -> 9.30, "1,000" -> 1000.
func (f Figure) Decimal() (decimal.Decimal, error) {
	s := strings.TrimSpace(string(f))
	s = strings.TrimSuffix(s, "%")
	s = strings.ReplaceAll(s, ",", "")
	s = strings.TrimSpace(s)
	if s == "" {
		return decimal.Zero, errors.New("empty number")
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, fmt.Errorf("invalid number %q", string(f))
	}
	return d, nil
}

func percentFigure(d decimal.Decimal) Figure { return Figure(d.String() + "%") }

// =============================================================================
// LOADING
// =============================================================================

// DefaultTaxConfig parses the embedded tables.
func DefaultTaxConfig() (payroll.TaxConfig, error) {
	return ParseTaxConfig(defaultTaxTables, ".yaml")
}

// LoadTaxConfig reads a YAML or JSON file, chosen by extension.
func LoadTaxConfig(path string) (payroll.TaxConfig, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return payroll.TaxConfig{}, fmt.Errorf("read tax tables: %w", err)
	}
	return ParseTaxConfig(b, filepath.Ext(path))
}

// ParseTaxConfig decodes b as JSON when ext is ".json" or the payload starts
// with "{", and as YAML otherwise.
func ParseTaxConfig(b []byte, ext string) (payroll.TaxConfig, error) {
	file, err := ParseTaxTables(b, ext)
	if err != nil {
		return payroll.TaxConfig{}, err
	}
	return file.ToConfig()
}

func ParseTaxTables(b []byte, ext string) (TaxTablesFile, error) {
	var file TaxTablesFile
	trimmed := bytes.TrimSpace(b)
	if strings.EqualFold(ext, ".json") || bytes.HasPrefix(trimmed, []byte("{")) {
		if err := json.Unmarshal(trimmed, &file); err != nil {
			return TaxTablesFile{}, fmt.Errorf("failed to parse tax tables JSON: %w", err)
		}
	} else {
		if err := yaml.Unmarshal(b, &file); err != nil {
			return TaxTablesFile{}, fmt.Errorf("failed to parse tax tables YAML: %w", err)
		}
	}
	if file.Version != SupportedVersion {
		return TaxTablesFile{}, fmt.Errorf("tax tables: unsupported version %d", file.Version)
	}
	if len(file.Jurisdictions) == 0 {
		return TaxTablesFile{}, errors.New("tax tables: no jurisdictions")
	}
	return file, nil
}

// ToConfig converts the file into a validated TaxConfig.
func (f TaxTablesFile) ToConfig() (payroll.TaxConfig, error) {
	jurisdictions := make([]payroll.TaxJurisdiction, 0, len(f.Jurisdictions))
	for _, jj := range f.Jurisdictions {
		j, err := jj.toJurisdiction()
		if err != nil {
			return payroll.TaxConfig{}, err
		}
		jurisdictions = append(jurisdictions, j)
	}

	countries := make(map[string]payroll.CountryRule, len(f.Countries))
	for code, cj := range f.Countries {
		rule, err := cj.toRule()
		if err != nil {
			return payroll.TaxConfig{}, fmt.Errorf("country %s: %w", code, err)
		}
		countries[code] = rule
	}

	defaultRule := payroll.CountryRule{TaxRate: decimal.Zero, Currency: f.BaseCurrency}
	if !f.DefaultCountry.TaxRate.IsZero() {
		rule, err := f.DefaultCountry.toRule()
		if err != nil {
			return payroll.TaxConfig{}, fmt.Errorf("default country: %w", err)
		}
		defaultRule = rule
	}

	crypto := payroll.CryptoTaxRule{Rate: decimal.Zero, Note: f.Crypto.Note}
	if !f.Crypto.Rate.IsZero() {
		rate, err := f.Crypto.Rate.Decimal()
		if err != nil {
			return payroll.TaxConfig{}, fmt.Errorf("crypto rate: %w", err)
		}
		crypto.Rate = rate
	}

	return payroll.NewTaxConfig(jurisdictions, countries, defaultRule, crypto)
}

func (cj CountryJSON) toRule() (payroll.CountryRule, error) {
	rate, err := cj.TaxRate.Decimal()
	if err != nil {
		return payroll.CountryRule{}, err
	}
	return payroll.CountryRule{TaxRate: rate, Currency: strings.ToUpper(cj.Currency)}, nil
}

func (jj JurisdictionJSON) toJurisdiction() (payroll.TaxJurisdiction, error) {
	j := payroll.TaxJurisdiction{
		Label:    jj.Label,
		Country:  strings.ToUpper(jj.Country),
		Currency: strings.ToUpper(jj.Currency),
		Notes:    jj.Notes,
	}
	for i, bj := range jj.Brackets {
		b, err := bj.toBracket()
		if err != nil {
			return payroll.TaxJurisdiction{}, fmt.Errorf("jurisdiction %q bracket %d: %w", jj.Label, i, err)
		}
		j.Brackets = append(j.Brackets, b)
	}
	for _, sj := range jj.Surcharges {
		rate, err := sj.Rate.Decimal()
		if err != nil {
			return payroll.TaxJurisdiction{}, fmt.Errorf("jurisdiction %q surcharge %q: %w", jj.Label, sj.Name, err)
		}
		basis := payroll.SurchargeBasis(strings.ToLower(sj.Basis))
		if basis == "" {
			basis = payroll.BasisIncome
		}
		j.Surcharges = append(j.Surcharges, payroll.Surcharge{Name: sj.Name, Rate: rate, Basis: basis})
	}
	return j, nil
}

func (bj BracketJSON) toBracket() (payroll.Bracket, error) {
	minV, err := bj.Min.Decimal()
	if err != nil {
		return payroll.Bracket{}, fmt.Errorf("min: %w", err)
	}
	rate, err := bj.Rate.Decimal()
	if err != nil {
		return payroll.Bracket{}, fmt.Errorf("rate: %w", err)
	}
	b := payroll.Bracket{Range: bj.Range, Min: minV, Rate: rate}
	if !bj.Max.IsZero() {
		maxV, err := bj.Max.Decimal()
		if err != nil {
			return payroll.Bracket{}, fmt.Errorf("max: %w", err)
		}
		b.Max = &maxV
	}
	return b, nil
}

// =============================================================================
// EXPORT
// =============================================================================

// FromConfig renders cfg back into the file schema, for JSON export.
func FromConfig(cfg payroll.TaxConfig, base string) TaxTablesFile {
	crypto := cfg.CryptoRule()
	def, _ := cfg.CountryRule("")
	out := TaxTablesFile{
		Version:        SupportedVersion,
		BaseCurrency:   base,
		Crypto:         CryptoJSON{Rate: percentFigure(crypto.Rate), Note: crypto.Note},
		DefaultCountry: CountryJSON{TaxRate: percentFigure(def.TaxRate), Currency: def.Currency},
		Countries:      make(map[string]CountryJSON),
	}
	for _, code := range cfg.Countries() {
		rule, _ := cfg.CountryRule(code)
		out.Countries[code] = CountryJSON{TaxRate: percentFigure(rule.TaxRate), Currency: rule.Currency}
	}
	for _, j := range cfg.Jurisdictions() {
		jj := JurisdictionJSON{Label: j.Label, Country: j.Country, Currency: j.Currency, Notes: j.Notes}
		for _, b := range j.Brackets {
			bj := BracketJSON{Range: b.Range, Min: Figure(b.Min.String()), Rate: percentFigure(b.Rate)}
			if b.Max != nil {
				bj.Max = Figure(b.Max.String())
			}
			jj.Brackets = append(jj.Brackets, bj)
		}
		for _, s := range j.Surcharges {
			jj.Surcharges = append(jj.Surcharges, SurchargeJSON{Name: s.Name, Rate: percentFigure(s.Rate), Basis: string(s.Basis)})
		}
		out.Jurisdictions = append(out.Jurisdictions, jj)
	}
	sort.Slice(out.Jurisdictions, func(i, k int) bool { return out.Jurisdictions[i].Label < out.Jurisdictions[k].Label })
	return out
}
