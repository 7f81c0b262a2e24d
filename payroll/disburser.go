package payroll

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/warp/payroll-engine/generic"
)

// =============================================================================
// DISBURSER - Payment provider boundary
// =============================================================================

type Payment struct {
	Reference  string          `json:"reference"`
	EmployeeID string          `json:"employee_id"`
	Amount     decimal.Decimal `json:"amount"`
	Currency   string          `json:"currency"`
	Fee        decimal.Decimal `json:"fee"`
	Status     string          `json:"status"`
	Timestamp  time.Time       `json:"timestamp"`
}

// Disburser moves money. No real provider is integrated; StubDisburser
// confirms every payment.
type Disburser interface {
	PayInstant(ctx context.Context, emp Employee, amount decimal.Decimal) (Payment, error)
	PayCrossBorder(ctx context.Context, payrolls []LocalPayrollResult) ([]Payment, error)
}

type StubDisburser struct {
	Clock generic.Clock
}

func NewStubDisburser(clock generic.Clock) *StubDisburser {
	if clock == nil {
		clock = generic.SystemClock{}
	}
	return &StubDisburser{Clock: clock}
}

func (d *StubDisburser) PayInstant(ctx context.Context, emp Employee, amount decimal.Decimal) (Payment, error) {
	if err := ctx.Err(); err != nil {
		return Payment{}, err
	}
	return d.confirm(emp.ID, amount, string(generic.USD)), nil
}

func (d *StubDisburser) PayCrossBorder(ctx context.Context, payrolls []LocalPayrollResult) ([]Payment, error) {
	out := make([]Payment, 0, len(payrolls))
	for _, p := range payrolls {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		out = append(out, d.confirm(p.EmployeeID, p.NetSalary, p.Currency))
	}
	return out, nil
}

func (d *StubDisburser) confirm(employeeID string, amount decimal.Decimal, currency string) Payment {
	return Payment{
		Reference:  uuid.NewString(),
		EmployeeID: employeeID,
		Amount:     amount,
		Currency:   currency,
		Fee:        decimal.Zero,
		Status:     AdvanceConfirmed,
		Timestamp:  d.Clock.Now(),
	}
}
