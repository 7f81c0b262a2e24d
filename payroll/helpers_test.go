package payroll_test

import (
	"context"
	"errors"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/warp/payroll-engine/generic"
	"github.com/warp/payroll-engine/payroll"
	"github.com/warp/payroll-engine/rates"
)

// =============================================================================
// TEST HELPERS
// =============================================================================

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func ptr(s string) *decimal.Decimal {
	v := d(s)
	return &v
}

func testNow() time.Time { return time.Date(2026, time.October, 16, 9, 0, 0, 0, time.UTC) }

func october() generic.PayPeriod {
	return generic.PeriodFor(generic.PeriodMonthly, testNow())
}

func table(prices map[string]string) rates.Table {
	m := make(map[string]decimal.Decimal, len(prices))
	for k, v := range prices {
		m[k] = d(v)
	}
	return rates.NewTable("USD", m, testNow())
}

func staticSource(prices map[string]string) *rates.StaticSource {
	src := rates.NewStaticSource(table(prices).Prices())
	src.Clock = generic.NewFixedClock(testNow())
	return src
}

func californiaTable() payroll.TaxJurisdiction {
	return payroll.TaxJurisdiction{
		Label:    "USA - California",
		Country:  "US",
		Currency: "USD",
		Brackets: []payroll.Bracket{
			{Range: "$0 - $9,325", Min: d("0"), Max: ptr("9325"), Rate: d("1")},
			{Range: "$9,326 - $22,107", Min: d("9326"), Max: ptr("22107"), Rate: d("2")},
			{Range: "$22,108 - $34,892", Min: d("22108"), Max: ptr("34892"), Rate: d("4")},
			{Range: "$34,893 - $48,435", Min: d("34893"), Max: ptr("48435"), Rate: d("6")},
			{Range: "$48,436 - $61,214", Min: d("48436"), Max: ptr("61214"), Rate: d("8")},
			{Range: "$61,215 - $312,686", Min: d("61215"), Max: ptr("312686"), Rate: d("9.3")},
		},
		Surcharges: []payroll.Surcharge{{Name: "SDI", Rate: d("1.1"), Basis: payroll.BasisIncome}},
		Notes:      "Subject to local taxes.",
	}
}

func ontarioTable() payroll.TaxJurisdiction {
	return payroll.TaxJurisdiction{
		Label:    "Canada - Ontario",
		Country:  "CA",
		Currency: "CAD",
		Brackets: []payroll.Bracket{
			{Range: "$0 - $49,231", Min: d("0"), Max: ptr("49231"), Rate: d("5.05")},
			{Range: "$49,232 - $98,463", Min: d("49232"), Max: ptr("98463"), Rate: d("9.15")},
			{Range: "$98,464 - $150,000", Min: d("98464"), Max: ptr("150000"), Rate: d("11.16")},
			{Range: "$150,001 - $220,000", Min: d("150001"), Max: ptr("220000"), Rate: d("12.16")},
			{Range: "Over $220,000", Min: d("220001"), Rate: d("13.16")},
		},
	}
}

func tamilNaduTable() payroll.TaxJurisdiction {
	return payroll.TaxJurisdiction{
		Label:    "India - Tamil Nadu",
		Country:  "IN",
		Currency: "INR",
		Brackets: []payroll.Bracket{
			{Range: "0 - 250,000", Min: d("0"), Max: ptr("250000"), Rate: d("0")},
			{Range: "250,001 - 500,000", Min: d("250001"), Max: ptr("500000"), Rate: d("5")},
			{Range: "500,001 - 1,000,000", Min: d("500001"), Max: ptr("1000000"), Rate: d("20")},
			{Range: "Above 1,000,000", Min: d("1000001"), Rate: d("30")},
		},
		Surcharges: []payroll.Surcharge{{Name: "Cess", Rate: d("4"), Basis: payroll.BasisTax}},
	}
}

func testTaxConfig(t *testing.T) payroll.TaxConfig {
	t.Helper()
	cfg, err := payroll.NewTaxConfig(
		[]payroll.TaxJurisdiction{californiaTable(), ontarioTable(), tamilNaduTable()},
		map[string]payroll.CountryRule{
			"US": {TaxRate: d("22"), Currency: "USD"},
			"UK": {TaxRate: d("20"), Currency: "GBP"},
			"DE": {TaxRate: d("25"), Currency: "EUR"},
		},
		payroll.CountryRule{TaxRate: d("20"), Currency: "USD"},
		payroll.CryptoTaxRule{Rate: d("20"), Note: "Crypto income taxed at 20%"},
	)
	require.NoError(t, err)
	return cfg
}

func employee(id string, salary string) payroll.Employee {
	return payroll.Employee{
		ID:             id,
		FirstName:      "Test",
		LastName:       id,
		Country:        "US",
		Salary:         d(salary),
		HoursWorked:    d("80"),
		PayPeriodHours: d("160"),
	}
}

func split(fiat, crypto string, asset generic.Asset) payroll.Allocation {
	return payroll.Allocation{FiatPercent: d(fiat), CryptoPercent: d(crypto), CryptoAsset: asset}
}

// =============================================================================
// IN-MEMORY REPOSITORIES
// =============================================================================

type memEmployees struct {
	mu   sync.Mutex
	byID map[string]payroll.Employee
}

func newMemEmployees(emps ...payroll.Employee) *memEmployees {
	m := &memEmployees{byID: make(map[string]payroll.Employee)}
	for _, e := range emps {
		m.byID[e.ID] = e
	}
	return m
}

func (m *memEmployees) GetEmployee(_ context.Context, id string) (payroll.Employee, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.byID[id]
	if !ok {
		return payroll.Employee{}, generic.ErrEntityNotFound
	}
	return e, nil
}

func (m *memEmployees) ListEmployees(_ context.Context) ([]payroll.Employee, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]payroll.Employee, 0, len(m.byID))
	for _, e := range m.byID {
		out = append(out, e)
	}
	sort.Slice(out, func(i, k int) bool { return out[i].ID < out[k].ID })
	return out, nil
}

func (m *memEmployees) SaveEmployee(_ context.Context, emp payroll.Employee) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.byID[emp.ID] = emp
	return nil
}

// memRuns keeps runs in memory and writes settlements to ledger.
// failCompletes makes the next N CompleteRun calls fail before any write.
type memRuns struct {
	mu            sync.Mutex
	runs          []payroll.Run
	ledger        generic.Store
	failCompletes int
}

func (m *memRuns) SaveRun(_ context.Context, run payroll.Run) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, r := range m.runs {
		if run.Status == payroll.RunCompleted && r.ID != run.ID && r.PeriodKey == run.PeriodKey && r.Status == payroll.RunCompleted {
			return generic.ErrRunAlreadyCompleted
		}
		if r.ID == run.ID {
			m.runs[i] = run
			return nil
		}
	}
	m.runs = append(m.runs, run)
	return nil
}

func (m *memRuns) GetRun(_ context.Context, id string) (payroll.Run, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range m.runs {
		if r.ID == id {
			return r, nil
		}
	}
	return payroll.Run{}, generic.ErrRunNotFound
}

func (m *memRuns) ListRuns(_ context.Context) ([]payroll.Run, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]payroll.Run, len(m.runs))
	for i := range m.runs {
		out[len(m.runs)-1-i] = m.runs[i]
	}
	return out, nil
}

func (m *memRuns) CompletedRun(_ context.Context, periodKey string) (payroll.Run, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range m.runs {
		if r.PeriodKey == periodKey && r.Status == payroll.RunCompleted {
			return r, nil
		}
	}
	return payroll.Run{}, generic.ErrRunNotFound
}

func (m *memRuns) CompleteRun(ctx context.Context, run payroll.Run, settlements []generic.Transaction) error {
	m.mu.Lock()
	if m.failCompletes > 0 {
		m.failCompletes--
		m.mu.Unlock()
		return errors.New("run store unavailable")
	}
	for _, r := range m.runs {
		if r.ID != run.ID && r.PeriodKey == run.PeriodKey && r.Status == payroll.RunCompleted {
			m.mu.Unlock()
			return generic.ErrRunAlreadyCompleted
		}
	}
	m.mu.Unlock()

	var fresh []generic.Transaction
	for _, tx := range settlements {
		exists, err := m.ledger.Exists(ctx, tx.IdempotencyKey)
		if err != nil {
			return err
		}
		if !exists {
			fresh = append(fresh, tx)
		}
	}
	if len(fresh) > 0 {
		if err := m.ledger.AppendBatch(ctx, fresh); err != nil {
			return err
		}
	}
	return m.SaveRun(ctx, run)
}
