package payroll

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/warp/payroll-engine/generic"
)

// =============================================================================
// EARLY ACCESS CALCULATOR
// =============================================================================

// earlyAccessSharePercent is the share of earned wages that may be advanced.
const earlyAccessSharePercent = 50

const complianceDetails = "Early wage access processed in compliance with payroll rules."

// AvailableAdvance returns round(0.5 × salary × min(hoursWorked/payPeriodHours, 1)).
//
// Working more than the period's hours never raises the advance above half
// of the full-period wages.
func AvailableAdvance(emp Employee) (decimal.Decimal, error) {
	if !emp.PayPeriodHours.IsPositive() {
		return decimal.Zero, fmt.Errorf("%w: pay period hours must be positive, got %s",
			generic.ErrInvalidPeriod, emp.PayPeriodHours.String())
	}
	if emp.HoursWorked.IsNegative() {
		return decimal.Zero, fmt.Errorf("%w: hours worked must not be negative, got %s",
			generic.ErrInvalidPeriod, emp.HoursWorked.String())
	}
	if emp.Salary.IsNegative() {
		return decimal.Zero, fmt.Errorf("%w: salary %s", generic.ErrNegativeAmount, emp.Salary.String())
	}

	earned := emp.Salary
	if emp.HoursWorked.LessThan(emp.PayPeriodHours) {
		earned = emp.Salary.Mul(emp.HoursWorked).Div(emp.PayPeriodHours)
	}
	return generic.Percent(earned, decimal.NewFromInt(earlyAccessSharePercent)).Round(0), nil
}

// RecordAdvance stamps an advance as confirmed and compliant. Persisting it
// is up to the caller.
func RecordAdvance(emp Employee, amount decimal.Decimal, clock generic.Clock) EarlyAccessRecord {
	if clock == nil {
		clock = generic.SystemClock{}
	}
	return EarlyAccessRecord{
		ID:         uuid.NewString(),
		EmployeeID: emp.ID,
		Amount:     amount,
		Fee:        decimal.Zero,
		Status:     AdvanceConfirmed,
		Compliant:  true,
		Details:    complianceDetails,
		Timestamp:  clock.Now(),
	}
}
