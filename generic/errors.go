/*
errors.go - Centralized error types for the payroll engine

PURPOSE:
  All error kinds in one place for consistency and discoverability.
  Domain packages wrap these with context and structured details.

ERROR CATEGORIES:
  1. Upstream errors - Rate source unreachable or malformed
  2. Computation errors - Unknown asset, no bracket, bad period, bad split
  3. Ledger/store errors - Idempotency, missing records, completed runs

PROPAGATION:
  Computation errors are per-employee: the aggregator records them on the
  employee's entry and keeps going. ErrRateUnavailable is batch-fatal.

USAGE:
  if errors.Is(err, generic.ErrRateUnavailable) {
      // abort the run, nothing was priced
  }

SEE ALSO:
  - payroll/aggregator.go: Per-employee isolation
  - rates/source.go: RateError
*/
package generic

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrRateUnavailable is returned when the upstream price provider failed
	// or returned a payload with no usable prices.
	ErrRateUnavailable = errors.New("rate unavailable")

	// ErrUnknownAsset is returned when a currency or crypto symbol has no
	// price in the fetched rate table.
	ErrUnknownAsset = errors.New("unknown asset")

	// ErrNoMatchingBracket is returned when an amount falls outside every
	// bracket of a jurisdiction and no catch-all bracket exists.
	ErrNoMatchingBracket = errors.New("no matching tax bracket")

	// ErrUnknownJurisdiction is returned when no tax table exists for a label.
	ErrUnknownJurisdiction = errors.New("unknown jurisdiction")

	// ErrInvalidPeriod is returned when pay-period hours are zero or negative,
	// or when a pay period ends before it starts.
	ErrInvalidPeriod = errors.New("invalid pay period")

	// ErrInvalidAllocation is returned when a fiat/crypto split is out of range
	// or does not add up to 100 percent.
	ErrInvalidAllocation = errors.New("invalid allocation")

	// ErrInvalidWallet is returned for malformed wallet addresses.
	ErrInvalidWallet = errors.New("invalid wallet address")

	// ErrInvalidEmployee is returned when an employee record is incomplete.
	ErrInvalidEmployee = errors.New("invalid employee")

	// ErrNegativeAmount is returned when a monetary input is negative.
	ErrNegativeAmount = errors.New("negative amount")

	// ErrDuplicateIdempotencyKey is returned when a transaction with the same
	// idempotency key already exists. Expected for retries.
	ErrDuplicateIdempotencyKey = errors.New("duplicate idempotency key")

	// ErrEntityNotFound is returned when a referenced employee doesn't exist.
	ErrEntityNotFound = errors.New("entity not found")

	// ErrRunNotFound is returned when a payroll run doesn't exist.
	ErrRunNotFound = errors.New("payroll run not found")

	// ErrRunAlreadyCompleted is returned when a pay period already has a
	// completed payroll run.
	ErrRunAlreadyCompleted = errors.New("payroll run already completed for period")

	// ErrAdvanceExceedsAvailable is returned when an early-access request is
	// larger than what remains available for the period.
	ErrAdvanceExceedsAvailable = errors.New("advance exceeds available amount")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// UnknownAssetError names the missing symbol.
type UnknownAssetError struct {
	Symbol string
	Base   string
}

func (e *UnknownAssetError) Error() string {
	return fmt.Sprintf("unknown asset: no %s price in %s rate table", e.Symbol, e.Base)
}

func (e *UnknownAssetError) Unwrap() error { return ErrUnknownAsset }

// NoMatchingBracketError reports the amount that fell through the table.
type NoMatchingBracketError struct {
	Jurisdiction string
	Amount       decimal.Decimal
}

func (e *NoMatchingBracketError) Error() string {
	return fmt.Sprintf("no matching tax bracket: %s in %q", e.Amount.StringFixed(2), e.Jurisdiction)
}

func (e *NoMatchingBracketError) Unwrap() error { return ErrNoMatchingBracket }

// AdvanceLimitError provides details about an oversized advance request.
type AdvanceLimitError struct {
	EntityID    EntityID
	Available   decimal.Decimal
	Outstanding decimal.Decimal
	Requested   decimal.Decimal
}

func (e *AdvanceLimitError) Error() string {
	return fmt.Sprintf("advance exceeds available amount: available %s, outstanding %s, requested %s",
		e.Available.StringFixed(2), e.Outstanding.StringFixed(2), e.Requested.StringFixed(2))
}

func (e *AdvanceLimitError) Unwrap() error { return ErrAdvanceExceedsAvailable }

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsClientError returns true if the error is due to invalid input.
func IsClientError(err error) bool {
	return errors.Is(err, ErrInvalidPeriod) ||
		errors.Is(err, ErrInvalidAllocation) ||
		errors.Is(err, ErrInvalidWallet) ||
		errors.Is(err, ErrInvalidEmployee) ||
		errors.Is(err, ErrNegativeAmount)
}

// IsComputationError returns true for errors that make a single employee
// unpriceable without affecting the rest of the batch.
func IsComputationError(err error) bool {
	return errors.Is(err, ErrUnknownAsset) ||
		errors.Is(err, ErrNoMatchingBracket) ||
		errors.Is(err, ErrUnknownJurisdiction) ||
		errors.Is(err, ErrAdvanceExceedsAvailable)
}

// IsConflict returns true if the error reports an already-applied write.
func IsConflict(err error) bool {
	return errors.Is(err, ErrDuplicateIdempotencyKey) ||
		errors.Is(err, ErrRunAlreadyCompleted)
}

// IsNotFound returns true if the error indicates a missing resource.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrEntityNotFound) ||
		errors.Is(err, ErrRunNotFound)
}

// IsUpstream returns true if the error originates from the rate provider.
func IsUpstream(err error) bool {
	return errors.Is(err, ErrRateUnavailable)
}
