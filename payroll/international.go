package payroll

import (
	"sort"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/warp/payroll-engine/generic"
	"github.com/warp/payroll-engine/rates"
)

// =============================================================================
// INTERNATIONAL PAYROLL - Salary converted to the local currency
// =============================================================================

// LocalPayrollResult is one employee's pay in the local currency of their
// country rule.
type LocalPayrollResult struct {
	EmployeeID  string          `json:"employee_id"`
	Country     string          `json:"country"`
	Currency    string          `json:"currency"`
	DefaultRule bool            `json:"default_rule"`
	FXPrice     decimal.Decimal `json:"fx_price"`
	LocalSalary decimal.Decimal `json:"local_salary"`
	TaxRate     decimal.Decimal `json:"tax_rate"`
	TaxDue      decimal.Decimal `json:"tax_due"`
	NetSalary   decimal.Decimal `json:"net_salary"`
	NetBase     decimal.Decimal `json:"net_base"`
}

// LocalPayroll converts emp's salary with fx and applies the country's flat
// rate. fx prices read "base per one unit of currency", so
// local = salary / price. Countries without a rule get the default rule.
// A currency missing from fx is an UnknownAssetError.
func LocalPayroll(emp Employee, fx rates.Table, cfg TaxConfig) (LocalPayrollResult, error) {
	if emp.Salary.IsNegative() {
		return LocalPayrollResult{}, &ValidationError{Field: "salary", Reason: "must not be negative", Err: generic.ErrNegativeAmount}
	}
	rule, configured := cfg.CountryRule(emp.Country)

	price := decimal.NewFromInt(1)
	if !strings.EqualFold(rule.Currency, fx.Base()) {
		p, err := fx.MustPrice(rule.Currency)
		if err != nil {
			return LocalPayrollResult{}, err
		}
		price = p
	}

	local := emp.Salary.DivRound(price, 2)
	tax := generic.Percent(local, rule.TaxRate).Round(2)
	net := local.Sub(tax)
	return LocalPayrollResult{
		EmployeeID:  emp.ID,
		Country:     strings.ToUpper(emp.Country),
		Currency:    rule.Currency,
		DefaultRule: !configured,
		FXPrice:     price,
		LocalSalary: local,
		TaxRate:     rule.TaxRate,
		TaxDue:      tax,
		NetSalary:   net,
		NetBase:     net.Mul(price).Round(2),
	}, nil
}

// CountrySubtotal is net pay per country, in local currency and in base.
type CountrySubtotal struct {
	Currency  string          `json:"currency"`
	TotalNet  decimal.Decimal `json:"total_net"`
	TotalBase decimal.Decimal `json:"total_base"`
	Count     int             `json:"count"`
}

type LocalEntry struct {
	EmployeeID string              `json:"employee_id"`
	Result     *LocalPayrollResult `json:"result,omitempty"`
	Error      string              `json:"error,omitempty"`
	ErrorKind  string              `json:"error_kind,omitempty"`
}

type LocalReport struct {
	Base         string                     `json:"base"`
	TotalNetBase decimal.Decimal            `json:"total_net_base"`
	ByCountry    map[string]CountrySubtotal `json:"by_country"`
	Entries      []LocalEntry               `json:"entries"`
	Succeeded    int                        `json:"succeeded"`
	Failed       int                        `json:"failed"`
}

// LocalPayrolls runs LocalPayroll over employees against one fx snapshot.
// Failures are isolated per employee.
func LocalPayrolls(employees []Employee, fx rates.Table, cfg TaxConfig) LocalReport {
	rep := LocalReport{
		Base:         fx.Base(),
		TotalNetBase: decimal.Zero,
		ByCountry:    make(map[string]CountrySubtotal),
		Entries:      make([]LocalEntry, 0, len(employees)),
	}
	for _, emp := range employees {
		res, err := LocalPayroll(emp, fx, cfg)
		if err != nil {
			rep.Failed++
			rep.Entries = append(rep.Entries, LocalEntry{EmployeeID: emp.ID, Error: err.Error(), ErrorKind: ErrorKind(err)})
			continue
		}
		rep.Succeeded++
		rep.Entries = append(rep.Entries, LocalEntry{EmployeeID: emp.ID, Result: &res})
		rep.TotalNetBase = rep.TotalNetBase.Add(res.NetBase)

		key := groupKey(res.Country)
		s := rep.ByCountry[key]
		s.Currency = res.Currency
		s.TotalNet = s.TotalNet.Add(res.NetSalary)
		s.TotalBase = s.TotalBase.Add(res.NetBase)
		s.Count++
		rep.ByCountry[key] = s
	}
	return rep
}

// Results returns the successful local results, sorted by employee ID.
func (r LocalReport) Results() []LocalPayrollResult {
	out := make([]LocalPayrollResult, 0, r.Succeeded)
	for _, e := range r.Entries {
		if e.Result != nil {
			out = append(out, *e.Result)
		}
	}
	sort.Slice(out, func(i, k int) bool { return out[i].EmployeeID < out[k].EmployeeID })
	return out
}
