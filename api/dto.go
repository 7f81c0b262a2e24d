/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. These types decouple
  the internal domain model from the external API contract, allowing:
  - Field renaming without breaking clients
  - API-specific validation
  - Version evolution

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients
  - *Response: Complex response wrappers

MONEY:
  Amounts are decimal.Decimal. They serialize as JSON strings ("1234.56")
  and accept either strings or numbers on input.

TYPES:
  Employee:
    EmployeeDTO, CreateEmployeeRequest, UpdateWalletRequest, AllocationDTO

  Early access:
    AdvanceRequestDTO, AdvanceStatusDTO, TransactionDTO

  Tax:
    JurisdictionDTO, TaxEstimateRequest, TaxEstimateResponse

  Payroll:
    RunRequest, RunDTO, RunResponse, InternationalResponse

  Scenarios:
    ScenarioDTO, LoadScenarioRequest

SEE ALSO:
  - handlers.go: Uses these types
  - payroll/types.go: Domain model
*/
package api

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/warp/payroll-engine/generic"
	"github.com/warp/payroll-engine/payroll"
	"github.com/warp/payroll-engine/rates"
)

// =============================================================================
// EMPLOYEES
// =============================================================================

type AllocationDTO struct {
	FiatPercent   decimal.Decimal `json:"fiat_percent"`
	CryptoPercent decimal.Decimal `json:"crypto_percent"`
	CryptoAsset   string          `json:"crypto_asset"`
}

// EmployeeDTO represents an employee in API responses.
type EmployeeDTO struct {
	ID             string          `json:"id"`
	FirstName      string          `json:"first_name"`
	LastName       string          `json:"last_name"`
	Name           string          `json:"name"`
	Email          string          `json:"email,omitempty"`
	Department     string          `json:"department,omitempty"`
	JobRole        string          `json:"job_role,omitempty"`
	Status         string          `json:"status"`
	Country        string          `json:"country,omitempty"`
	Jurisdiction   string          `json:"jurisdiction,omitempty"`
	Salary         decimal.Decimal `json:"salary"`
	Allocation     AllocationDTO   `json:"allocation"`
	WalletAddress  string          `json:"wallet_address,omitempty"`
	HoursWorked    decimal.Decimal `json:"hours_worked"`
	PayPeriodHours decimal.Decimal `json:"pay_period_hours"`
	CreatedAt      string          `json:"created_at"`
}

// CreateEmployeeRequest is the request body for creating an employee.
// Allocation may be omitted for 100% fiat.
type CreateEmployeeRequest struct {
	ID             string          `json:"id,omitempty"`
	FirstName      string          `json:"first_name"`
	LastName       string          `json:"last_name"`
	Email          string          `json:"email"`
	Department     string          `json:"department"`
	JobRole        string          `json:"job_role"`
	Status         string          `json:"status"`
	Country        string          `json:"country"`
	Jurisdiction   string          `json:"jurisdiction"`
	Salary         decimal.Decimal `json:"salary"`
	Allocation     *AllocationDTO  `json:"allocation,omitempty"`
	WalletAddress  string          `json:"wallet_address"`
	HoursWorked    decimal.Decimal `json:"hours_worked"`
	PayPeriodHours decimal.Decimal `json:"pay_period_hours"`
}

type UpdateWalletRequest struct {
	WalletAddress string `json:"wallet_address"`
}

func toEmployeeDTO(e payroll.Employee) EmployeeDTO {
	a := e.Allocation.Resolve()
	return EmployeeDTO{
		ID:           e.ID,
		FirstName:    e.FirstName,
		LastName:     e.LastName,
		Name:         e.FullName(),
		Email:        e.Email,
		Department:   e.Department,
		JobRole:      e.JobRole,
		Status:       e.Status,
		Country:      e.Country,
		Jurisdiction: e.Jurisdiction,
		Salary:       e.Salary,
		Allocation: AllocationDTO{
			FiatPercent:   a.FiatPercent,
			CryptoPercent: a.CryptoPercent,
			CryptoAsset:   a.CryptoAsset.String(),
		},
		WalletAddress:  e.WalletAddress,
		HoursWorked:    e.HoursWorked,
		PayPeriodHours: e.PayPeriodHours,
		CreatedAt:      e.CreatedAt.Format(time.RFC3339),
	}
}

func (req CreateEmployeeRequest) toEmployee() payroll.Employee {
	emp := payroll.Employee{
		ID:             req.ID,
		FirstName:      req.FirstName,
		LastName:       req.LastName,
		Email:          req.Email,
		Department:     req.Department,
		JobRole:        req.JobRole,
		Status:         req.Status,
		Country:        req.Country,
		Jurisdiction:   req.Jurisdiction,
		Salary:         req.Salary,
		WalletAddress:  req.WalletAddress,
		HoursWorked:    req.HoursWorked,
		PayPeriodHours: req.PayPeriodHours,
	}
	if req.Allocation != nil {
		emp.Allocation = payroll.Allocation{
			FiatPercent:   req.Allocation.FiatPercent,
			CryptoPercent: req.Allocation.CryptoPercent,
			CryptoAsset:   generic.ParseAsset(req.Allocation.CryptoAsset),
		}
	}
	return emp
}

// =============================================================================
// EARLY ACCESS
// =============================================================================

// AdvanceRequestDTO is the body of POST /api/employees/{id}/early-access.
// Period defaults to the current month.
type AdvanceRequestDTO struct {
	Amount         decimal.Decimal `json:"amount"`
	Period         string          `json:"period,omitempty"`
	IdempotencyKey string          `json:"idempotency_key,omitempty"`
}

type TransactionDTO struct {
	ID         string          `json:"id"`
	EmployeeID string          `json:"employee_id"`
	Period     string          `json:"period"`
	Type       string          `json:"type"`
	Amount     decimal.Decimal `json:"amount"`
	Currency   string          `json:"currency"`
	Reason     string          `json:"reason,omitempty"`
	CreatedAt  string          `json:"created_at"`
}

type AdvanceStatusDTO struct {
	EmployeeID   string           `json:"employee_id"`
	Period       string           `json:"period"`
	Available    decimal.Decimal  `json:"available"`
	Outstanding  decimal.Decimal  `json:"outstanding"`
	Remaining    decimal.Decimal  `json:"remaining"`
	Transactions []TransactionDTO `json:"transactions"`
}

func toTransactionDTO(tx generic.Transaction) TransactionDTO {
	return TransactionDTO{
		ID:         string(tx.ID),
		EmployeeID: string(tx.EntityID),
		Period:     tx.PeriodKey,
		Type:       string(tx.Type),
		Amount:     tx.Delta.Value,
		Currency:   string(tx.Delta.Currency),
		Reason:     tx.Reason,
		CreatedAt:  tx.CreatedAt.Format(time.RFC3339),
	}
}

func toTransactionDTOs(txs []generic.Transaction) []TransactionDTO {
	out := make([]TransactionDTO, len(txs))
	for i, tx := range txs {
		out[i] = toTransactionDTO(tx)
	}
	return out
}

func toAdvanceStatusDTO(s payroll.AdvanceStatus) AdvanceStatusDTO {
	return AdvanceStatusDTO{
		EmployeeID:   s.EmployeeID,
		Period:       s.PeriodKey,
		Available:    s.Available,
		Outstanding:  s.Outstanding,
		Remaining:    s.Remaining,
		Transactions: toTransactionDTOs(s.Transactions),
	}
}

// =============================================================================
// RATES & TAX
// =============================================================================

type RatesDTO struct {
	Base      string                     `json:"base"`
	Prices    map[string]decimal.Decimal `json:"prices"`
	FetchedAt time.Time                  `json:"fetched_at"`
}

func toRatesDTO(t rates.Table) RatesDTO {
	return RatesDTO{Base: t.Base(), Prices: t.Prices(), FetchedAt: t.FetchedAt()}
}

type BracketDTO struct {
	Range string           `json:"range"`
	Min   decimal.Decimal  `json:"min"`
	Max   *decimal.Decimal `json:"max,omitempty"`
	Rate  decimal.Decimal  `json:"rate"`
}

type SurchargeDTO struct {
	Name  string          `json:"name"`
	Rate  decimal.Decimal `json:"rate"`
	Basis string          `json:"basis"`
}

type JurisdictionDTO struct {
	Label      string         `json:"label"`
	Country    string         `json:"country,omitempty"`
	Currency   string         `json:"currency,omitempty"`
	Brackets   []BracketDTO   `json:"brackets"`
	Surcharges []SurchargeDTO `json:"surcharges,omitempty"`
	Notes      string         `json:"notes,omitempty"`
}

func toJurisdictionDTO(j payroll.TaxJurisdiction) JurisdictionDTO {
	dto := JurisdictionDTO{
		Label:    j.Label,
		Country:  j.Country,
		Currency: j.Currency,
		Brackets: make([]BracketDTO, len(j.Brackets)),
		Notes:    j.Notes,
	}
	for i, b := range j.Brackets {
		dto.Brackets[i] = BracketDTO{Range: b.Range, Min: b.Min, Max: b.Max, Rate: b.Rate}
	}
	for _, s := range j.Surcharges {
		dto.Surcharges = append(dto.Surcharges, SurchargeDTO{Name: s.Name, Rate: s.Rate, Basis: string(s.Basis)})
	}
	return dto
}

// TaxEstimateRequest selects bracket mode when Jurisdiction is set and the
// flat crypto rate when Mode is "crypto".
type TaxEstimateRequest struct {
	Amount       decimal.Decimal `json:"amount"`
	Jurisdiction string          `json:"jurisdiction,omitempty"`
	Mode         string          `json:"mode,omitempty"`
}

// =============================================================================
// PAYROLL
// =============================================================================

// RunRequest selects the pay period and, optionally, a subset of employees.
// Period is a key ("2026-10", "2026-10-A"); Start/End give a custom range.
type RunRequest struct {
	Period      string   `json:"period,omitempty"`
	Start       string   `json:"start,omitempty"`
	End         string   `json:"end,omitempty"`
	EmployeeIDs []string `json:"employee_ids,omitempty"`
}

type RunDTO struct {
	ID            string          `json:"id"`
	Period        string          `json:"period"`
	Status        string          `json:"status"`
	EmployeeCount int             `json:"employee_count"`
	FailedCount   int             `json:"failed_count"`
	TotalNet      decimal.Decimal `json:"total_net"`
	DataHash      string          `json:"data_hash,omitempty"`
	RatesBase     string          `json:"rates_base,omitempty"`
	Error         string          `json:"error,omitempty"`
	CreatedAt     string          `json:"created_at"`
	CompletedAt   string          `json:"completed_at,omitempty"`
}

func toRunDTO(r payroll.Run) RunDTO {
	dto := RunDTO{
		ID:            r.ID,
		Period:        r.PeriodKey,
		Status:        string(r.Status),
		EmployeeCount: r.EmployeeCount,
		FailedCount:   r.FailedCount,
		TotalNet:      r.TotalNet,
		DataHash:      r.DataHash,
		RatesBase:     r.RatesBase,
		Error:         r.Error,
		CreatedAt:     r.CreatedAt.Format(time.RFC3339),
	}
	if r.CompletedAt != nil {
		dto.CompletedAt = r.CompletedAt.Format(time.RFC3339)
	}
	return dto
}

// RunResponse pairs the persisted run with its full report.
type RunResponse struct {
	Run    RunDTO          `json:"run"`
	Report *payroll.Report `json:"report"`
}

// InternationalRequest prices employees in local currency and, when
// Disburse is set, sends the cross-border payments.
type InternationalRequest struct {
	EmployeeIDs []string `json:"employee_ids,omitempty"`
	Disburse    bool     `json:"disburse"`
}

type InternationalResponse struct {
	Report   payroll.LocalReport `json:"report"`
	Payments []payroll.Payment   `json:"payments,omitempty"`
}

// =============================================================================
// IMPORT
// =============================================================================

type ImportRowError struct {
	Line  int    `json:"line"`
	Error string `json:"error"`
}

type ImportResponse struct {
	Created   int              `json:"created"`
	Employees []EmployeeDTO    `json:"employees"`
	Errors    []ImportRowError `json:"errors"`
}

// =============================================================================
// SCENARIOS
// =============================================================================

// ScenarioDTO represents a demo scenario.
type ScenarioDTO struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
	Category    string `json:"category"`
}

// LoadScenarioRequest is the request body for loading a scenario.
type LoadScenarioRequest struct {
	ScenarioID string `json:"scenario_id"`
}

// =============================================================================
// ERRORS
// =============================================================================

// ErrorResponse is the standard error format.
type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}
