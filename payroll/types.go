/*
Package payroll implements the hybrid fiat/crypto payroll engine.

PURPOSE:
  Prices a batch of employees against one rate snapshot: splits each salary
  into a fiat and a crypto portion, estimates income and crypto tax, deducts
  early wage advances and rolls everything up into a global report.

PIPELINE:
  rates.Source -> Allocate -> TaxEstimator -> Aggregator -> Report

  AvailableAdvance sits next to the pipeline. Advances paid out during a
  period live in the generic.Ledger and are deducted by the Aggregator.

KEY CONCEPTS IN THIS FILE (types.go):
  - Employee: Who is paid, how much, and how the pay is split
  - Allocation: Typed fiat/crypto split preference with defaults
  - PayrollResult / Entry: Per-employee output, success or failure
  - EarlyAccessRecord: An advance paid before the run
  - Run: A persisted payroll execution for one pay period

STATELESS CORE:
  Allocate, the TaxEstimator, AvailableAdvance and the Aggregator hold no
  state between calls. Service is the only part that reads and writes
  storage.

SEE ALSO:
  - allocation.go: Fiat/crypto split
  - tax.go: Bracket and flat-rate tax
  - earlyaccess.go: Early wage access
  - aggregator.go: Batch pricing
  - service.go: Runs and advances against storage
*/
package payroll

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/warp/payroll-engine/generic"
)

// =============================================================================
// EMPLOYEE
// =============================================================================

type Employee struct {
	ID         string
	FirstName  string
	LastName   string
	Email      string
	Department string
	JobRole    string
	Status     string

	// Country is the ISO-like code used for international payroll ("US").
	Country string
	// Jurisdiction is the tax table label ("USA - California").
	Jurisdiction string

	// Salary is annual, in the base currency of the run.
	Salary        decimal.Decimal
	Allocation    Allocation
	WalletAddress string

	HoursWorked    decimal.Decimal
	PayPeriodHours decimal.Decimal

	CreatedAt time.Time
}

const (
	StatusActive   = "Active"
	StatusInactive = "Inactive"
	StatusOnLeave  = "On Leave"
)

func (e Employee) EntityID() generic.EntityID { return generic.EntityID(e.ID) }

func (e Employee) FullName() string {
	return strings.TrimSpace(e.FirstName + " " + e.LastName)
}

// Validate checks the fields every payroll computation depends on.
func (e Employee) Validate() error {
	if strings.TrimSpace(e.ID) == "" {
		return &ValidationError{Field: "id", Reason: "required"}
	}
	if e.Salary.IsNegative() {
		return &ValidationError{Field: "salary", Reason: "must not be negative", Err: generic.ErrNegativeAmount}
	}
	if e.HoursWorked.IsNegative() || e.PayPeriodHours.IsNegative() {
		return &ValidationError{Field: "hours", Reason: "must not be negative", Err: generic.ErrInvalidPeriod}
	}
	if err := e.Allocation.Validate(); err != nil {
		return err
	}
	if e.WalletAddress != "" {
		if err := ValidateWalletAddress(e.WalletAddress); err != nil {
			return err
		}
	}
	return nil
}

// =============================================================================
// ALLOCATION - Fiat/crypto split preference
// =============================================================================

// Allocation is the payout split. The zero value means "all fiat".
type Allocation struct {
	FiatPercent   decimal.Decimal
	CryptoPercent decimal.Decimal
	CryptoAsset   generic.Asset
}

// FullFiat is the baseline allocation: 100% fiat, 0% crypto.
func FullFiat() Allocation {
	return Allocation{FiatPercent: generic.Hundred(), CryptoPercent: decimal.Zero, CryptoAsset: generic.DefaultCryptoAsset}
}

// Resolve applies defaults: no percentages at all means 100/0, and an
// unnamed asset means the default crypto asset.
func (a Allocation) Resolve() Allocation {
	out := a
	if out.FiatPercent.IsZero() && out.CryptoPercent.IsZero() {
		out.FiatPercent = generic.Hundred()
	}
	out.CryptoAsset = generic.ParseAsset(out.CryptoAsset.String())
	if out.CryptoAsset == "" {
		out.CryptoAsset = generic.DefaultCryptoAsset
	}
	return out
}

// Validate requires each percentage in [0, 100] and a sum of exactly 100
// after defaults are applied.
func (a Allocation) Validate() error {
	r := a.Resolve()
	for _, p := range []decimal.Decimal{r.FiatPercent, r.CryptoPercent} {
		if p.IsNegative() || p.GreaterThan(generic.Hundred()) {
			return &ValidationError{Field: "allocation", Reason: "percentages must be between 0 and 100", Err: generic.ErrInvalidAllocation}
		}
	}
	if !r.FiatPercent.Add(r.CryptoPercent).Equal(generic.Hundred()) {
		return &ValidationError{Field: "allocation", Reason: "fiat and crypto percentages must sum to 100", Err: generic.ErrInvalidAllocation}
	}
	return nil
}

// =============================================================================
// RESULTS
// =============================================================================

// PayrollResult is the priced outcome for one employee in one run.
type PayrollResult struct {
	EmployeeID   string `json:"employee_id"`
	Country      string `json:"country,omitempty"`
	Jurisdiction string `json:"jurisdiction,omitempty"`

	FiatAmount     decimal.Decimal `json:"fiat_amount"`
	CryptoAmount   decimal.Decimal `json:"crypto_amount"`
	CryptoAsset    generic.Asset   `json:"crypto_asset"`
	CryptoPrice    decimal.Decimal `json:"crypto_price"`
	CryptoValueUSD decimal.Decimal `json:"crypto_value_usd"`
	WalletAddress  string          `json:"wallet_address,omitempty"`

	// CryptoTax is reported, not withheld: NetPay does not subtract it.
	CryptoTax TaxEstimate  `json:"crypto_tax"`
	IncomeTax *TaxEstimate `json:"income_tax,omitempty"`

	// IncomeTaxBase is IncomeTax.AmountDue in the base currency.
	IncomeTaxBase decimal.Decimal `json:"income_tax_base"`

	// EarlyAccess is the outstanding advance deducted in this run.
	EarlyAccess  decimal.Decimal `json:"early_access"`
	// FinalPayroll is the fiat portion less the advance, before income tax.
	FinalPayroll decimal.Decimal `json:"final_payroll"`
	// NetPay is FinalPayroll less income tax.
	NetPay       decimal.Decimal `json:"net_pay"`
}

// Entry is one employee's line in a run: a result or an error, never both.
type Entry struct {
	EmployeeID string
	Result     *PayrollResult
	Err        error
}

func (e Entry) Failed() bool { return e.Err != nil }

// =============================================================================
// EARLY ACCESS
// =============================================================================

const (
	AdvanceConfirmed = "confirmed"
	AdvanceReversed  = "reversed"
)

type EarlyAccessRecord struct {
	ID         string          `json:"id"`
	EmployeeID string          `json:"employee_id"`
	PeriodKey  string          `json:"period,omitempty"`
	Amount     decimal.Decimal `json:"amount"`
	Fee        decimal.Decimal `json:"fee"`
	Status     string          `json:"status"`
	Compliant  bool            `json:"compliant"`
	Details    string          `json:"details"`
	Timestamp  time.Time       `json:"timestamp"`
}

// =============================================================================
// RUN - Persisted execution for a pay period
// =============================================================================

type RunStatus string

const (
	RunPending   RunStatus = "pending"
	RunCompleted RunStatus = "completed"
	RunFailed    RunStatus = "failed"
)

type Run struct {
	ID            string
	PeriodKey     string
	Status        RunStatus
	EmployeeCount int
	FailedCount   int
	TotalNet      decimal.Decimal
	// DataHash is the hex sha256 of the per-employee figures of the run.
	DataHash    string
	RatesBase   string
	Error       string
	CreatedAt   time.Time
	CompletedAt *time.Time
}
