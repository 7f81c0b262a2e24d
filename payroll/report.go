package payroll

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"

	"github.com/warp/payroll-engine/rates"
)

// =============================================================================
// REPORT
// =============================================================================

type Report struct {
	PeriodKey   string
	GeneratedAt time.Time
	Rates       rates.Table
	// FX is empty unless a jurisdiction taxed in a foreign currency.
	FX          rates.Table
	Entries     []Entry
	Global      GlobalReport
}

// Subtotal is net pay and headcount for one group.
type Subtotal struct {
	Total decimal.Decimal `json:"total"`
	Count int             `json:"count"`
}

type GlobalReport struct {
	TotalNet         decimal.Decimal     `json:"total_net"`
	TotalFiat        decimal.Decimal     `json:"total_fiat"`
	TotalCryptoUSD   decimal.Decimal     `json:"total_crypto_usd"`
	TotalCryptoTax   decimal.Decimal     `json:"total_crypto_tax"`
	TotalIncomeTax   decimal.Decimal     `json:"total_income_tax"`
	TotalEarlyAccess decimal.Decimal     `json:"total_early_access"`
	ByCountry        map[string]Subtotal `json:"by_country"`
	ByJurisdiction   map[string]Subtotal `json:"by_jurisdiction"`
	Succeeded        int                 `json:"succeeded"`
	Failed           int                 `json:"failed"`
	RatesBase        string              `json:"rates_base"`
	RatesFetchedAt   time.Time           `json:"rates_fetched_at"`
}

// Unassigned groups employees with no country or jurisdiction.
const Unassigned = "unassigned"

// BuildGlobalReport sums successful entries and counts failures.
func BuildGlobalReport(entries []Entry, table rates.Table) GlobalReport {
	g := GlobalReport{
		TotalNet:         decimal.Zero,
		TotalFiat:        decimal.Zero,
		TotalCryptoUSD:   decimal.Zero,
		TotalCryptoTax:   decimal.Zero,
		TotalIncomeTax:   decimal.Zero,
		TotalEarlyAccess: decimal.Zero,
		ByCountry:        make(map[string]Subtotal),
		ByJurisdiction:   make(map[string]Subtotal),
		RatesBase:        table.Base(),
		RatesFetchedAt:   table.FetchedAt(),
	}

	for _, e := range entries {
		if e.Failed() || e.Result == nil {
			g.Failed++
			continue
		}
		r := e.Result
		g.Succeeded++
		g.TotalNet = g.TotalNet.Add(r.NetPay)
		g.TotalFiat = g.TotalFiat.Add(r.FiatAmount)
		g.TotalCryptoUSD = g.TotalCryptoUSD.Add(r.CryptoValueUSD)
		g.TotalCryptoTax = g.TotalCryptoTax.Add(r.CryptoTax.AmountDue)
		g.TotalEarlyAccess = g.TotalEarlyAccess.Add(r.EarlyAccess)
		g.TotalIncomeTax = g.TotalIncomeTax.Add(r.IncomeTaxBase)
		addSubtotal(g.ByCountry, groupKey(r.Country), r.NetPay)
		addSubtotal(g.ByJurisdiction, groupKey(r.Jurisdiction), r.NetPay)
	}
	return g
}

func addSubtotal(m map[string]Subtotal, key string, net decimal.Decimal) {
	s := m[key]
	s.Total = s.Total.Add(net)
	s.Count++
	m[key] = s
}

func groupKey(k string) string {
	if k == "" {
		return Unassigned
	}
	return k
}

// Results returns the successful results in input order.
func (r *Report) Results() []PayrollResult {
	out := make([]PayrollResult, 0, len(r.Entries))
	for _, e := range r.Entries {
		if e.Result != nil {
			out = append(out, *e.Result)
		}
	}
	return out
}

// Failures returns the failed entries in input order.
func (r *Report) Failures() []Entry {
	var out []Entry
	for _, e := range r.Entries {
		if e.Failed() {
			out = append(out, e)
		}
	}
	return out
}

// =============================================================================
// JSON EXPORT
// =============================================================================

type entryJSON struct {
	EmployeeID string         `json:"employee_id"`
	Result     *PayrollResult `json:"result,omitempty"`
	Error      string         `json:"error,omitempty"`
	ErrorKind  string         `json:"error_kind,omitempty"`
}

func (e Entry) MarshalJSON() ([]byte, error) {
	out := entryJSON{EmployeeID: e.EmployeeID, Result: e.Result}
	if e.Err != nil {
		out.Error = e.Err.Error()
		out.ErrorKind = ErrorKind(e.Err)
	}
	return json.Marshal(out)
}

type reportJSON struct {
	Period      string       `json:"period"`
	GeneratedAt time.Time    `json:"generated_at"`
	Rates       rates.Table  `json:"rates"`
	FX          *rates.Table `json:"fx_rates,omitempty"`
	Entries     []Entry      `json:"entries"`
	Global      GlobalReport `json:"global"`
}

func (r *Report) MarshalJSON() ([]byte, error) {
	out := reportJSON{
		Period:      r.PeriodKey,
		GeneratedAt: r.GeneratedAt,
		Rates:       r.Rates,
		Entries:     r.Entries,
		Global:      r.Global,
	}
	if !r.FX.IsEmpty() {
		out.FX = &r.FX
	}
	return json.Marshal(out)
}

// Export renders the report as indented JSON.
func (r *Report) Export() ([]byte, error) {
	return json.MarshalIndent(r, "", "  ")
}
